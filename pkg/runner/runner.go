// Package runner rolls a policy out over a batch of randomized environments.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/boristopalov/simeval/internal/logging"
	"github.com/boristopalov/simeval/pkg/config"
	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/environment"
	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/boristopalov/simeval/pkg/wrapper"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

type Config struct {
	OutputDir     string
	Task          tasks.Task
	ShapeMeta     tasks.ShapeMeta
	MaxSteps      int
	NTest         int
	NTestVis      int
	TestSeeds     []int64
	RenderObsKey  string
	Overrides     []tasks.GeomOverride
	Randomization config.RandomizationConfig
	FPS           int
	HardReset     bool
}

func (c Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", c.MaxSteps)
	}
	if c.NTest <= 0 || len(c.TestSeeds) != c.NTest {
		return fmt.Errorf("need %d test seeds, got %d", c.NTest, len(c.TestSeeds))
	}
	if c.NTestVis < 0 || c.NTestVis > c.NTest {
		return fmt.Errorf("n_test_vis %d outside [0, %d]", c.NTestVis, c.NTest)
	}
	if c.NTestVis > 0 && !slices.Contains(c.ShapeMeta.RGBKeys(), c.RenderObsKey) {
		return fmt.Errorf("render obs key %q is not an rgb observation", c.RenderObsKey)
	}
	return c.ShapeMeta.Validate()
}

type Result struct {
	// Rewards holds per-step rewards, one row per env; steps after an env
	// finishes are zero.
	Rewards    *mat.Dense
	VideoPaths []string
	Success    []bool
	Steps      []int
}

func (r *Result) SuccessCount() int {
	n := 0
	for _, s := range r.Success {
		if s {
			n++
		}
	}
	return n
}

type RunnerOption func(*RolloutRunner)

func WithLogger(log logrus.FieldLogger) RunnerOption {
	return func(r *RolloutRunner) {
		r.log = log
	}
}

// RolloutRunner evaluates one chunk of seeded episodes in lockstep.
type RolloutRunner struct {
	cfg Config
	log logrus.FieldLogger
}

func NewRolloutRunner(cfg Config, opts ...RunnerOption) (*RolloutRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runner config: %w", err)
	}
	r := &RolloutRunner{cfg: cfg, log: logging.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type episode struct {
	seed   int64
	env    *wrapper.DomainWrapper
	obs    core.Observation
	done   bool
	steps  int
	video  *VideoRecorder
	reward []float64
}

func (r *RolloutRunner) wrapperOptions(seed int64) []wrapper.WrapperOption {
	rc := r.cfg.Randomization
	names, rgbs := tasks.SplitOverrides(r.cfg.Overrides)
	return []wrapper.WrapperOption{
		wrapper.WithSeed(seed),
		wrapper.WithGeomOverrides(names, rgbs),
		wrapper.WithRandomizeOnReset(rc.OnReset),
		wrapper.WithRandomizeEveryNSteps(rc.EveryNSteps),
		wrapper.WithColorRandomization(rc.Color),
		wrapper.WithCameraRandomization(rc.Camera),
		wrapper.WithLightingRandomization(rc.Lighting),
		wrapper.WithDynamicsRandomization(rc.Dynamics),
		wrapper.WithLogger(r.log.WithField("seed", seed)),
	}
}

func (r *RolloutRunner) build() ([]*episode, error) {
	eps := make([]*episode, r.cfg.NTest)
	for i, seed := range r.cfg.TestSeeds {
		env, err := environment.New(r.cfg.Task, r.cfg.ShapeMeta,
			environment.WithSeed(seed), environment.WithHardReset(r.cfg.HardReset))
		if err != nil {
			return nil, err
		}
		w, err := wrapper.New(env, r.wrapperOptions(seed)...)
		if err != nil {
			return nil, fmt.Errorf("seed %d: %w", seed, err)
		}
		ep := &episode{seed: seed, env: w, reward: make([]float64, r.cfg.MaxSteps)}
		if i < r.cfg.NTestVis {
			name := uuid.New().String() + ".gif"
			ep.video = NewVideoRecorder(filepath.Join(r.cfg.OutputDir, "media", name), r.cfg.FPS)
		}
		eps[i] = ep
	}
	return eps, nil
}

// Run resets the policy, then steps every env until it succeeds or reaches
// MaxSteps. Env resets and steps run concurrently; each env owns its RNGs.
func (r *RolloutRunner) Run(ctx context.Context, policy core.Policy) (*Result, error) {
	eps, err := r.build()
	if err != nil {
		return nil, err
	}
	policy.Reset()

	var g errgroup.Group
	for _, ep := range eps {
		g.Go(func() error {
			obs, err := ep.env.Reset()
			if err != nil {
				return fmt.Errorf("seed %d: %w", ep.seed, err)
			}
			ep.obs = obs
			r.record(ep)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := make([]core.Observation, len(eps))
	for t := 0; t < r.cfg.MaxSteps; t++ {
		if allDone(eps) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, ep := range eps {
			batch[i] = ep.obs
		}
		actions, err := policy.PredictAction(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("step %d: policy failed: %w", t, err)
		}
		if len(actions) != len(eps) {
			return nil, fmt.Errorf("step %d: policy returned %d actions for %d envs", t, len(actions), len(eps))
		}

		var g errgroup.Group
		for i, ep := range eps {
			if ep.done {
				continue
			}
			g.Go(func() error {
				obs, reward, done, _, err := ep.env.Step(actions[i])
				if err != nil {
					return fmt.Errorf("seed %d step %d: %w", ep.seed, t, err)
				}
				ep.obs = obs
				ep.reward[t] = reward
				ep.done = done
				ep.steps = t + 1
				r.record(ep)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Rewards: mat.NewDense(len(eps), r.cfg.MaxSteps, nil),
		Success: make([]bool, len(eps)),
		Steps:   make([]int, len(eps)),
	}
	var errs []error
	for i, ep := range eps {
		res.Rewards.SetRow(i, ep.reward)
		res.Success[i] = ep.done
		res.Steps[i] = ep.steps
		if ep.video != nil {
			if err := ep.video.Close(); err != nil {
				errs = append(errs, err)
				continue
			}
			res.VideoPaths = append(res.VideoPaths, ep.video.Path())
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"envs":      len(eps),
		"successes": res.SuccessCount(),
	}).Debug("Rollout chunk finished")
	return res, nil
}

func (r *RolloutRunner) record(ep *episode) {
	if ep.video != nil {
		ep.video.AddFrame(ep.obs.Images[r.cfg.RenderObsKey])
	}
}

func allDone(eps []*episode) bool {
	for _, ep := range eps {
		if !ep.done {
			return false
		}
	}
	return true
}
