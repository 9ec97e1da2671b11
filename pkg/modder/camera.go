package modder

import (
	"fmt"
	"math/rand"

	"github.com/boristopalov/simeval/pkg/sim"
)

type CameraArgs struct {
	CameraNames              []string `yaml:"camera_names" mapstructure:"camera_names"`
	RandomizePosition        bool     `yaml:"randomize_position" mapstructure:"randomize_position"`
	RandomizeRotation        bool     `yaml:"randomize_rotation" mapstructure:"randomize_rotation"`
	RandomizeFovy            bool     `yaml:"randomize_fovy" mapstructure:"randomize_fovy"`
	PositionPerturbationSize float64  `yaml:"position_perturbation_size" mapstructure:"position_perturbation_size"`
	RotationPerturbationSize float64  `yaml:"rotation_perturbation_size" mapstructure:"rotation_perturbation_size"`
	FovyPerturbationSize     float64  `yaml:"fovy_perturbation_size" mapstructure:"fovy_perturbation_size"`
}

func DefaultCameraArgs() CameraArgs {
	return CameraArgs{
		CameraNames:              nil,
		RandomizePosition:        true,
		RandomizeRotation:        true,
		RandomizeFovy:            true,
		PositionPerturbationSize: 0.01,
		RotationPerturbationSize: 0.087,
		FovyPerturbationSize:     5,
	}
}

type CameraModder struct {
	base
	args     CameraArgs
	ids      []int
	defaults []sim.Camera
	saved    bool
}

func NewCameraModder(s *sim.Sim, rng *rand.Rand, args CameraArgs) *CameraModder {
	return &CameraModder{base: base{sim: s, rng: rng}, args: args}
}

func (m *CameraModder) SaveDefaults() error {
	model := m.sim.Model
	ids, err := resolve(m.args.CameraNames, model.CameraNames(), model.CameraID)
	if err != nil {
		return fmt.Errorf("camera modder: %w", err)
	}
	m.ids = ids
	m.defaults = make([]sim.Camera, len(ids))
	for i, id := range ids {
		m.defaults[i] = model.Cameras[id]
	}
	m.saved = true
	return nil
}

func (m *CameraModder) RestoreDefaults() error {
	if !m.saved {
		return fmt.Errorf("camera modder: %w", ErrNoDefaults)
	}
	for i, id := range m.ids {
		if id >= len(m.sim.Model.Cameras) {
			return fmt.Errorf("camera modder: camera %d: %w", id, sim.ErrUnknownName)
		}
		m.sim.Model.Cameras[id] = m.defaults[i]
	}
	return nil
}

func (m *CameraModder) Randomize() error {
	if !m.saved {
		return fmt.Errorf("camera modder: %w", ErrNoDefaults)
	}
	a := m.args
	for i, id := range m.ids {
		def := m.defaults[i]
		c := &m.sim.Model.Cameras[id]
		if a.RandomizePosition {
			c.Pos = m.jitter(def.Pos, a.PositionPerturbationSize)
		}
		if a.RandomizeRotation {
			c.Quat = m.rotateQuat(def.Quat, a.RotationPerturbationSize)
		}
		if a.RandomizeFovy {
			c.Fovy = clip(m.shift(def.Fovy, a.FovyPerturbationSize), 1, 179)
		}
	}
	return nil
}
