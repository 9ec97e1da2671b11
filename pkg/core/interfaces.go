package core

import (
	"context"

	"github.com/boristopalov/simeval/pkg/sim"
)

// Environment is a simulated world that can be reset and stepped
type Environment interface {
	// Reset starts a new episode and returns the first observation
	Reset() (Observation, error)
	// Step applies an action and advances the world one control period
	Step(action Action) (Observation, float64, bool, Info, error)
	// Sim returns the live simulation handle
	Sim() *sim.Sim
	// Observe recomputes the observation from the current simulation state
	Observe() (Observation, error)
}

// Modder snapshots, restores and perturbs one category of simulation parameters
type Modder interface {
	SaveDefaults() error
	RestoreDefaults() error
	Randomize() error
	// UpdateSim points the modder at a (possibly new) simulation handle
	UpdateSim(s *sim.Sim)
}

// ColorSetter hard-sets a geom color
type ColorSetter interface {
	SetRGB(name string, rgb sim.RGB) error
}

// Policy maps a batch of observations to a batch of actions
type Policy interface {
	PredictAction(ctx context.Context, obs []Observation) ([]Action, error)
	// Reset clears any per-episode state
	Reset()
	// Eval switches the policy to evaluation mode
	Eval()
}
