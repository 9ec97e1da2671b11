package modder

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/boristopalov/simeval/pkg/sim"
)

type DynamicsArgs struct {
	// Opt parameters
	RandomizeDensity           bool    `yaml:"randomize_density" mapstructure:"randomize_density"`
	RandomizeViscosity         bool    `yaml:"randomize_viscosity" mapstructure:"randomize_viscosity"`
	DensityPerturbationRatio   float64 `yaml:"density_perturbation_ratio" mapstructure:"density_perturbation_ratio"`
	ViscosityPerturbationRatio float64 `yaml:"viscosity_perturbation_ratio" mapstructure:"viscosity_perturbation_ratio"`

	// Body parameters
	BodyNames                  []string `yaml:"body_names" mapstructure:"body_names"`
	RandomizePosition          bool     `yaml:"randomize_position" mapstructure:"randomize_position"`
	RandomizeQuaternion        bool     `yaml:"randomize_quaternion" mapstructure:"randomize_quaternion"`
	RandomizeInertia           bool     `yaml:"randomize_inertia" mapstructure:"randomize_inertia"`
	RandomizeMass              bool     `yaml:"randomize_mass" mapstructure:"randomize_mass"`
	PositionPerturbationSize   float64  `yaml:"position_perturbation_size" mapstructure:"position_perturbation_size"`
	QuaternionPerturbationSize float64  `yaml:"quaternion_perturbation_size" mapstructure:"quaternion_perturbation_size"`
	InertiaPerturbationRatio   float64  `yaml:"inertia_perturbation_ratio" mapstructure:"inertia_perturbation_ratio"`
	MassPerturbationRatio      float64  `yaml:"mass_perturbation_ratio" mapstructure:"mass_perturbation_ratio"`

	// Geom parameters
	GeomNames                 []string `yaml:"geom_names" mapstructure:"geom_names"`
	RandomizeFriction         bool     `yaml:"randomize_friction" mapstructure:"randomize_friction"`
	RandomizeSolref           bool     `yaml:"randomize_solref" mapstructure:"randomize_solref"`
	RandomizeSolimp           bool     `yaml:"randomize_solimp" mapstructure:"randomize_solimp"`
	FrictionPerturbationRatio float64  `yaml:"friction_perturbation_ratio" mapstructure:"friction_perturbation_ratio"`
	SolrefPerturbationRatio   float64  `yaml:"solref_perturbation_ratio" mapstructure:"solref_perturbation_ratio"`
	SolimpPerturbationRatio   float64  `yaml:"solimp_perturbation_ratio" mapstructure:"solimp_perturbation_ratio"`

	// Joint parameters
	JointNames                   []string `yaml:"joint_names" mapstructure:"joint_names"`
	RandomizeStiffness           bool     `yaml:"randomize_stiffness" mapstructure:"randomize_stiffness"`
	RandomizeFrictionLoss        bool     `yaml:"randomize_frictionloss" mapstructure:"randomize_frictionloss"`
	RandomizeDamping             bool     `yaml:"randomize_damping" mapstructure:"randomize_damping"`
	RandomizeArmature            bool     `yaml:"randomize_armature" mapstructure:"randomize_armature"`
	StiffnessPerturbationRatio   float64  `yaml:"stiffness_perturbation_ratio" mapstructure:"stiffness_perturbation_ratio"`
	FrictionLossPerturbationSize float64  `yaml:"frictionloss_perturbation_size" mapstructure:"frictionloss_perturbation_size"`
	DampingPerturbationSize      float64  `yaml:"damping_perturbation_size" mapstructure:"damping_perturbation_size"`
	ArmaturePerturbationSize     float64  `yaml:"armature_perturbation_size" mapstructure:"armature_perturbation_size"`
}

func DefaultDynamicsArgs() DynamicsArgs {
	return DynamicsArgs{
		RandomizeDensity:           true,
		RandomizeViscosity:         true,
		DensityPerturbationRatio:   0.1,
		ViscosityPerturbationRatio: 0.1,

		RandomizePosition:          true,
		RandomizeQuaternion:        true,
		RandomizeInertia:           true,
		RandomizeMass:              true,
		PositionPerturbationSize:   0.0015,
		QuaternionPerturbationSize: 0.003,
		InertiaPerturbationRatio:   0.02,
		MassPerturbationRatio:      0.02,

		RandomizeFriction:         true,
		RandomizeSolref:           true,
		RandomizeSolimp:           true,
		FrictionPerturbationRatio: 0.1,
		SolrefPerturbationRatio:   0.1,
		SolimpPerturbationRatio:   0.1,

		RandomizeStiffness:           true,
		RandomizeFrictionLoss:        true,
		RandomizeDamping:             true,
		RandomizeArmature:            true,
		StiffnessPerturbationRatio:   0.1,
		FrictionLossPerturbationSize: 0.05,
		DampingPerturbationSize:      0.01,
		ArmaturePerturbationSize:     0.01,
	}
}

type dynamicsDefaults struct {
	opt    sim.Options
	bodies []sim.Body
	geoms  []sim.Geom
	joints []sim.Joint
}

// DynamicsModder perturbs physical parameters. Values are sampled around the
// saved defaults so repeated randomization does not drift.
type DynamicsModder struct {
	base
	args     DynamicsArgs
	bodyIDs  []int
	geomIDs  []int
	jointIDs []int
	defaults dynamicsDefaults
	saved    bool
}

func NewDynamicsModder(s *sim.Sim, rng *rand.Rand, args DynamicsArgs) *DynamicsModder {
	return &DynamicsModder{base: base{sim: s, rng: rng}, args: args}
}

func (m *DynamicsModder) SaveDefaults() error {
	model := m.sim.Model
	var err error
	if m.bodyIDs, err = resolve(m.args.BodyNames, model.BodyNames(), model.BodyID); err != nil {
		return fmt.Errorf("dynamics modder: %w", err)
	}
	if m.geomIDs, err = resolve(m.args.GeomNames, model.GeomNames(), model.GeomID); err != nil {
		return fmt.Errorf("dynamics modder: %w", err)
	}
	if m.jointIDs, err = resolve(m.args.JointNames, model.JointNames(), model.JointID); err != nil {
		return fmt.Errorf("dynamics modder: %w", err)
	}

	d := dynamicsDefaults{
		opt:    model.Opt,
		bodies: make([]sim.Body, len(m.bodyIDs)),
		geoms:  make([]sim.Geom, len(m.geomIDs)),
		joints: make([]sim.Joint, len(m.jointIDs)),
	}
	for i, id := range m.bodyIDs {
		d.bodies[i] = model.Bodies[id]
	}
	for i, id := range m.geomIDs {
		d.geoms[i] = model.Geoms[id]
	}
	for i, id := range m.jointIDs {
		d.joints[i] = model.Joints[id]
	}
	m.defaults = d
	m.saved = true
	return nil
}

func (m *DynamicsModder) RestoreDefaults() error {
	if !m.saved {
		return fmt.Errorf("dynamics modder: %w", ErrNoDefaults)
	}
	if err := m.checkIDs(); err != nil {
		return err
	}
	model := m.sim.Model
	model.Opt = m.defaults.opt
	for i, id := range m.bodyIDs {
		model.Bodies[id] = m.defaults.bodies[i]
	}
	for i, id := range m.geomIDs {
		model.Geoms[id] = m.defaults.geoms[i]
	}
	for i, id := range m.jointIDs {
		model.Joints[id] = m.defaults.joints[i]
	}
	return nil
}

func (m *DynamicsModder) Randomize() error {
	if !m.saved {
		return fmt.Errorf("dynamics modder: %w", ErrNoDefaults)
	}
	if err := m.checkIDs(); err != nil {
		return err
	}
	m.randomizeOpt()
	m.randomizeBodies()
	m.randomizeGeoms()
	m.randomizeJoints()
	return nil
}

func (m *DynamicsModder) checkIDs() error {
	model := m.sim.Model
	for _, id := range m.bodyIDs {
		if id >= len(model.Bodies) {
			return fmt.Errorf("dynamics modder: body %d: %w", id, sim.ErrUnknownName)
		}
	}
	for _, id := range m.geomIDs {
		if id >= len(model.Geoms) {
			return fmt.Errorf("dynamics modder: geom %d: %w", id, sim.ErrUnknownName)
		}
	}
	for _, id := range m.jointIDs {
		if id >= len(model.Joints) {
			return fmt.Errorf("dynamics modder: joint %d: %w", id, sim.ErrUnknownName)
		}
	}
	return nil
}

func (m *DynamicsModder) randomizeOpt() {
	a, opt := m.args, &m.sim.Model.Opt
	if a.RandomizeDensity {
		opt.Density = m.scale(m.defaults.opt.Density, a.DensityPerturbationRatio)
	}
	if a.RandomizeViscosity {
		opt.Viscosity = m.scale(m.defaults.opt.Viscosity, a.ViscosityPerturbationRatio)
	}
}

func (m *DynamicsModder) randomizeBodies() {
	a := m.args
	for i, id := range m.bodyIDs {
		def := m.defaults.bodies[i]
		b := &m.sim.Model.Bodies[id]
		if a.RandomizePosition {
			b.Pos = m.jitter(def.Pos, a.PositionPerturbationSize)
		}
		if a.RandomizeQuaternion {
			b.Quat = m.rotateQuat(def.Quat, a.QuaternionPerturbationSize)
		}
		if a.RandomizeInertia {
			for k := range b.Inertia {
				b.Inertia[k] = m.scale(def.Inertia[k], a.InertiaPerturbationRatio)
			}
		}
		if a.RandomizeMass {
			b.Mass = m.scale(def.Mass, a.MassPerturbationRatio)
		}
	}
}

func (m *DynamicsModder) randomizeGeoms() {
	a := m.args
	for i, id := range m.geomIDs {
		def := m.defaults.geoms[i]
		g := &m.sim.Model.Geoms[id]
		if a.RandomizeFriction {
			for k := range g.Friction {
				g.Friction[k] = m.scale(def.Friction[k], a.FrictionPerturbationRatio)
			}
		}
		if a.RandomizeSolref {
			for k := range g.Solref {
				g.Solref[k] = m.scale(def.Solref[k], a.SolrefPerturbationRatio)
			}
		}
		if a.RandomizeSolimp {
			// solimp values must stay in (0, 1)
			for k := range g.Solimp {
				g.Solimp[k] = clip(m.scale(def.Solimp[k], a.SolimpPerturbationRatio), 0.0001, 0.9999)
			}
		}
	}
}

func (m *DynamicsModder) randomizeJoints() {
	a := m.args
	for i, id := range m.jointIDs {
		def := m.defaults.joints[i]
		j := &m.sim.Model.Joints[id]
		if a.RandomizeStiffness {
			j.Stiffness = m.scale(def.Stiffness, a.StiffnessPerturbationRatio)
		}
		if a.RandomizeFrictionLoss {
			j.FrictionLoss = math.Max(0, m.shift(def.FrictionLoss, a.FrictionLossPerturbationSize))
		}
		if a.RandomizeDamping {
			j.Damping = math.Max(0, m.shift(def.Damping, a.DampingPerturbationSize))
		}
		if a.RandomizeArmature {
			j.Armature = math.Max(0, m.shift(def.Armature, a.ArmaturePerturbationSize))
		}
	}
}
