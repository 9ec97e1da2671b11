package sim

import (
	"fmt"
	"math"
)

const (
	substeps   = 10
	gripForce  = 10.0
	graspReach = 0.03
	baseGain   = 60.0
)

// Data is the mutable per-episode state.
type Data struct {
	Time    float64
	BodyPos []Vec3
	BodyVel []Vec3
	Gripper float64 // 0 open, 1 closed
	Grasped bool
	Target  Vec3
}

// Sim couples a model with its data. Randomization mutates Model; stepping
// mutates Data.
type Sim struct {
	Model *Model
	Data  *Data

	eef    int
	object int
	arm    int
	restZ  float64
}

// New builds a simulation over model, driving eefBody with the actuator and
// treating objectBody as the graspable object.
func New(model *Model, eefBody, objectBody string) (*Sim, error) {
	eef, err := model.BodyID(eefBody)
	if err != nil {
		return nil, err
	}
	obj, err := model.BodyID(objectBody)
	if err != nil {
		return nil, err
	}
	arm := -1
	if len(model.Joints) > 0 {
		arm = 0
	}
	s := &Sim{
		Model:  model,
		eef:    eef,
		object: obj,
		arm:    arm,
		restZ:  model.Bodies[obj].Pos[2],
	}
	s.Reset()
	return s, nil
}

// Reset reinitialises Data from the model's body placement.
func (s *Sim) Reset() {
	n := len(s.Model.Bodies)
	d := &Data{
		BodyPos: make([]Vec3, n),
		BodyVel: make([]Vec3, n),
	}
	for i, b := range s.Model.Bodies {
		d.BodyPos[i] = b.Pos
	}
	d.Target = d.BodyPos[s.eef]
	s.Data = d
}

func (s *Sim) EEFPos() Vec3 { return s.Data.BodyPos[s.eef] }

func (s *Sim) ObjectPos() Vec3 { return s.Data.BodyPos[s.object] }

// PlaceObject moves the object in both the model and the current data so the
// placement survives later Reset calls.
func (s *Sim) PlaceObject(pos Vec3) {
	s.Model.Bodies[s.object].Pos = pos
	s.Data.BodyPos[s.object] = pos
	s.Data.BodyVel[s.object] = Vec3{}
	s.restZ = pos[2]
}

// Step applies ctrl = [x, y, z, gripper] as an absolute end-effector target and
// integrates one control period.
func (s *Sim) Step(ctrl []float64) error {
	if len(ctrl) < 4 {
		return fmt.Errorf("control has %d dims, need 4", len(ctrl))
	}
	for _, v := range ctrl {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("control is not finite: %v", ctrl)
		}
	}
	d := s.Data
	d.Target = Vec3{ctrl[0], ctrl[1], ctrl[2]}
	if ctrl[3] > 0 {
		d.Gripper = 1
	} else {
		d.Gripper = 0
		d.Grasped = false
	}

	opt := s.Model.Opt
	dt := opt.Timestep
	eefMass := s.Model.Bodies[s.eef].Mass
	gain, damping, frictionLoss := baseGain, 8.0, 0.0
	if s.arm >= 0 {
		j := s.Model.Joints[s.arm]
		gain += j.Stiffness
		damping += j.Damping
		frictionLoss = j.FrictionLoss
		eefMass += j.Armature
	}
	if eefMass <= 0 {
		eefMass = 1
	}

	for k := 0; k < substeps; k++ {
		pos, vel := d.BodyPos[s.eef], d.BodyVel[s.eef]
		for i := 0; i < 3; i++ {
			f := gain*(d.Target[i]-pos[i]) - (damping+opt.Viscosity)*vel[i]
			if math.Abs(f) <= frictionLoss {
				f = 0
			}
			vel[i] += f / eefMass * dt
			pos[i] += vel[i] * dt
		}
		d.BodyPos[s.eef], d.BodyVel[s.eef] = pos, vel
		s.stepObject(dt)
		d.Time += dt
	}
	return nil
}

func (s *Sim) stepObject(dt float64) {
	d := s.Data
	body := s.Model.Bodies[s.object]
	eef := d.BodyPos[s.eef]
	obj := d.BodyPos[s.object]

	if d.Gripper > 0 && !d.Grasped && distance(eef, obj) < graspReach+s.objectExtent() {
		d.Grasped = gripForce*s.objectFriction() >= body.Mass*math.Abs(s.Model.Opt.Gravity[2])
	}
	if d.Grasped {
		d.BodyPos[s.object] = eef
		d.BodyVel[s.object] = d.BodyVel[s.eef]
		return
	}

	vel := d.BodyVel[s.object]
	if obj[2] > s.restZ {
		buoyancy := s.Model.Opt.Density * 1e-4
		vel[2] += (s.Model.Opt.Gravity[2] + buoyancy) * dt
		drag := 1 - math.Min(s.Model.Opt.Viscosity*dt, 1)
		vel[0] *= drag
		vel[1] *= drag
	} else {
		obj[2] = s.restZ
		vel[2] = 0
		decay := 1 - math.Min(s.objectFriction()*dt*10, 1)
		vel[0] *= decay
		vel[1] *= decay
	}
	for i := 0; i < 3; i++ {
		obj[i] += vel[i] * dt
	}
	if obj[2] < s.restZ {
		obj[2] = s.restZ
	}
	d.BodyPos[s.object], d.BodyVel[s.object] = obj, vel
}

func (s *Sim) objectGeom() int {
	for i := range s.Model.Geoms {
		if s.Model.Geoms[i].Body == s.object {
			return i
		}
	}
	return -1
}

func (s *Sim) objectFriction() float64 {
	if g := s.objectGeom(); g >= 0 {
		return s.Model.Geoms[g].Friction[0]
	}
	return 1
}

func (s *Sim) objectExtent() float64 {
	if g := s.objectGeom(); g >= 0 {
		return s.Model.Geoms[g].Size[0]
	}
	return 0.02
}

func distance(a, b Vec3) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
