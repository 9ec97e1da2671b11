package environment

import (
	"fmt"
	"image"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/sim"
	"github.com/boristopalov/simeval/pkg/tasks"
)

const (
	placementJitter = 0.03
	goalTolerance   = 0.05
)

type State struct {
	Status    string
	Step      uint32
	Timestamp time.Time
	Success   bool
}

// ManipulationEnv is a single-arm manipulation task over a sim.Sim.
type ManipulationEnv struct {
	task      tasks.Task
	meta      tasks.ShapeMeta
	sim       *sim.Sim
	rng       *rand.Rand
	hardReset bool
	goal      sim.Vec3
	state     State
}

type EnvParams struct {
	Seed      int64
	HardReset bool
}

type EnvOption func(*EnvParams)

func WithSeed(seed int64) EnvOption {
	return func(p *EnvParams) {
		p.Seed = seed
	}
}

// WithHardReset rebuilds the model on every reset, which hands out a new
// simulation handle and discards any parameter changes.
func WithHardReset(hard bool) EnvOption {
	return func(p *EnvParams) {
		p.HardReset = hard
	}
}

// New creates the environment for task, emitting the observation keys declared
// in meta.
func New(task tasks.Task, meta tasks.ShapeMeta, opts ...EnvOption) (*ManipulationEnv, error) {
	if _, ok := layouts[task.Kind]; !ok {
		return nil, fmt.Errorf("%q: %w", task.Kind, tasks.ErrUnknownTaskKind)
	}
	params := &EnvParams{Seed: time.Now().UnixNano()}
	for _, opt := range opts {
		opt(params)
	}

	s, err := sim.New(buildScene(task), eefBody, objectBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build scene for %s: %w", task.Kind, err)
	}
	for _, key := range meta.RGBKeys() {
		if _, err := s.Model.CameraID(cameraFor(key)); err != nil {
			return nil, fmt.Errorf("obs key %s has no camera: %w", key, err)
		}
	}

	return &ManipulationEnv{
		task:      task,
		meta:      meta,
		sim:       s,
		rng:       rand.New(rand.NewSource(params.Seed)),
		hardReset: params.HardReset,
		state: State{
			Status:    "idle",
			Timestamp: time.Now(),
		},
	}, nil
}

func cameraFor(obsKey string) string {
	return strings.TrimSuffix(obsKey, "_image")
}

func (e *ManipulationEnv) Sim() *sim.Sim { return e.sim }

func (e *ManipulationEnv) Task() tasks.Task { return e.task }

func (e *ManipulationEnv) GetState() State { return e.state }

// Reset places the object at a jittered start pose and starts a new episode.
func (e *ManipulationEnv) Reset() (core.Observation, error) {
	if e.hardReset {
		s, err := sim.New(buildScene(e.task), eefBody, objectBody)
		if err != nil {
			return core.Observation{}, fmt.Errorf("failed to rebuild scene: %w", err)
		}
		e.sim = s
	}
	e.sim.Reset()

	lay := layouts[e.task.Kind]
	start := lay.objectPos
	start[0] += (e.rng.Float64()*2 - 1) * placementJitter
	start[1] += (e.rng.Float64()*2 - 1) * placementJitter
	e.sim.PlaceObject(start)

	e.goal = lay.goal
	if lay.lift {
		e.goal = sim.Vec3{start[0] + lay.goal[0], start[1] + lay.goal[1], start[2] + lay.goal[2]}
	}

	e.state = State{
		Status:    "running",
		Timestamp: time.Now(),
	}
	return e.Observe()
}

// Step applies an absolute [x, y, z, gripper] action. The episode ends on
// success; step limits are the caller's business.
func (e *ManipulationEnv) Step(action core.Action) (core.Observation, float64, bool, core.Info, error) {
	if want := e.meta.ActionDim(); len(action) != want {
		return core.Observation{}, 0, false, nil, fmt.Errorf("action has %d dims, want %d", len(action), want)
	}
	if err := e.sim.Step(action); err != nil {
		return core.Observation{}, 0, false, nil, err
	}
	e.state.Step++
	e.state.Timestamp = time.Now()

	success := e.checkSuccess()
	reward := 0.0
	if success {
		reward = 1
		e.state.Success = true
		e.state.Status = "done"
	}
	obs, err := e.Observe()
	if err != nil {
		return core.Observation{}, 0, false, nil, err
	}
	info := core.Info{
		"success": success,
		"step":    e.state.Step,
	}
	return obs, reward, success, info, nil
}

func (e *ManipulationEnv) checkSuccess() bool {
	p := e.sim.ObjectPos()
	dx, dy, dz := p[0]-e.goal[0], p[1]-e.goal[1], p[2]-e.goal[2]
	return math.Sqrt(dx*dx+dy*dy+dz*dz) < goalTolerance
}

// Observe renders every image key and reads every low-dim key from the
// current simulation state.
func (e *ManipulationEnv) Observe() (core.Observation, error) {
	obs := core.Observation{
		Images: make(map[string]*image.RGBA),
		LowDim: make(map[string][]float64),
	}
	for _, key := range e.meta.RGBKeys() {
		w, h, _ := e.meta.ImageSize(key)
		img, err := e.sim.Render(cameraFor(key), w, h)
		if err != nil {
			return core.Observation{}, fmt.Errorf("failed to render %s: %w", key, err)
		}
		obs.Images[key] = img
	}
	for _, key := range e.meta.LowDimKeys() {
		v, err := e.lowDim(key)
		if err != nil {
			return core.Observation{}, err
		}
		obs.LowDim[key] = v
	}
	return obs, nil
}

func (e *ManipulationEnv) lowDim(key string) ([]float64, error) {
	switch key {
	case "robot0_eef_pos":
		p := e.sim.EEFPos()
		return p[:], nil
	case "robot0_gripper_qpos":
		return []float64{e.sim.Data.Gripper}, nil
	case "object":
		p := e.sim.ObjectPos()
		return p[:], nil
	case "goal":
		g := e.goal
		return g[:], nil
	default:
		return nil, fmt.Errorf("unsupported low-dim obs key %s", key)
	}
}
