package modder

import (
	"fmt"
	"math/rand"

	"github.com/boristopalov/simeval/pkg/sim"
)

type LightingArgs struct {
	LightNames                []string `yaml:"light_names" mapstructure:"light_names"`
	RandomizePosition         bool     `yaml:"randomize_position" mapstructure:"randomize_position"`
	RandomizeDirection        bool     `yaml:"randomize_direction" mapstructure:"randomize_direction"`
	RandomizeSpecular         bool     `yaml:"randomize_specular" mapstructure:"randomize_specular"`
	RandomizeAmbient          bool     `yaml:"randomize_ambient" mapstructure:"randomize_ambient"`
	RandomizeDiffuse          bool     `yaml:"randomize_diffuse" mapstructure:"randomize_diffuse"`
	RandomizeActive           bool     `yaml:"randomize_active" mapstructure:"randomize_active"`
	PositionPerturbationSize  float64  `yaml:"position_perturbation_size" mapstructure:"position_perturbation_size"`
	DirectionPerturbationSize float64  `yaml:"direction_perturbation_size" mapstructure:"direction_perturbation_size"`
	SpecularPerturbationSize  float64  `yaml:"specular_perturbation_size" mapstructure:"specular_perturbation_size"`
	AmbientPerturbationSize   float64  `yaml:"ambient_perturbation_size" mapstructure:"ambient_perturbation_size"`
	DiffusePerturbationSize   float64  `yaml:"diffuse_perturbation_size" mapstructure:"diffuse_perturbation_size"`
}

func DefaultLightingArgs() LightingArgs {
	return LightingArgs{
		LightNames:                nil,
		RandomizePosition:         true,
		RandomizeDirection:        true,
		RandomizeSpecular:         true,
		RandomizeAmbient:          true,
		RandomizeDiffuse:          true,
		RandomizeActive:           true,
		PositionPerturbationSize:  0.1,
		DirectionPerturbationSize: 0.35,
		SpecularPerturbationSize:  0.1,
		AmbientPerturbationSize:   0.1,
		DiffusePerturbationSize:   0.1,
	}
}

type LightingModder struct {
	base
	args     LightingArgs
	ids      []int
	defaults []sim.Light
	saved    bool
}

func NewLightingModder(s *sim.Sim, rng *rand.Rand, args LightingArgs) *LightingModder {
	return &LightingModder{base: base{sim: s, rng: rng}, args: args}
}

func (m *LightingModder) SaveDefaults() error {
	model := m.sim.Model
	ids, err := resolve(m.args.LightNames, model.LightNames(), model.LightID)
	if err != nil {
		return fmt.Errorf("lighting modder: %w", err)
	}
	m.ids = ids
	m.defaults = make([]sim.Light, len(ids))
	for i, id := range ids {
		m.defaults[i] = model.Lights[id]
	}
	m.saved = true
	return nil
}

func (m *LightingModder) RestoreDefaults() error {
	if !m.saved {
		return fmt.Errorf("lighting modder: %w", ErrNoDefaults)
	}
	for i, id := range m.ids {
		if id >= len(m.sim.Model.Lights) {
			return fmt.Errorf("lighting modder: light %d: %w", id, sim.ErrUnknownName)
		}
		m.sim.Model.Lights[id] = m.defaults[i]
	}
	return nil
}

func (m *LightingModder) Randomize() error {
	if !m.saved {
		return fmt.Errorf("lighting modder: %w", ErrNoDefaults)
	}
	a := m.args
	for i, id := range m.ids {
		def := m.defaults[i]
		l := &m.sim.Model.Lights[id]
		if a.RandomizePosition {
			l.Pos = m.jitter(def.Pos, a.PositionPerturbationSize)
		}
		if a.RandomizeDirection {
			l.Dir = m.jitter(def.Dir, a.DirectionPerturbationSize)
		}
		if a.RandomizeSpecular {
			l.Specular = m.perturbColor(def.Specular, a.SpecularPerturbationSize)
		}
		if a.RandomizeAmbient {
			l.Ambient = m.perturbColor(def.Ambient, a.AmbientPerturbationSize)
		}
		if a.RandomizeDiffuse {
			l.Diffuse = m.perturbColor(def.Diffuse, a.DiffusePerturbationSize)
		}
		if a.RandomizeActive {
			l.Active = m.rng.Float64() > 0.5
		}
	}
	return nil
}

func (m *LightingModder) perturbColor(c sim.Vec3, size float64) sim.Vec3 {
	for i := range c {
		c[i] = clip(m.shift(c[i], size), 0, 1)
	}
	return c
}
