package core

import (
	"image"
)

// Observation is what an environment reports after reset or step.
type Observation struct {
	Images map[string]*image.RGBA
	LowDim map[string][]float64
}

// Action is an absolute end-effector target followed by the gripper command.
type Action []float64

// Info carries miscellaneous per-step details.
type Info map[string]any
