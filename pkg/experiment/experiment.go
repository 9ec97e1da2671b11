// Package experiment drives a full evaluation: it samples rollout seeds,
// splits them into chunks, runs a fresh rollout runner per chunk and persists
// the results of each chunk as soon as it finishes.
package experiment

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/boristopalov/simeval/internal/logging"
	"github.com/boristopalov/simeval/pkg/checkpoint"
	"github.com/boristopalov/simeval/pkg/config"
	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/events"
	"github.com/boristopalov/simeval/pkg/results"
	"github.com/boristopalov/simeval/pkg/runner"
	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Status struct {
	Running    bool
	StartTime  time.Time
	EndTime    time.Time
	ChunksDone int
	Chunks     int
}

type ExperimentOption func(*EvaluationExperiment)

func WithLogger(log logrus.FieldLogger) ExperimentOption {
	return func(e *EvaluationExperiment) {
		e.log = log
	}
}

// WithEvents publishes run and chunk progress to p.
func WithEvents(p events.Publisher) ExperimentOption {
	return func(e *EvaluationExperiment) {
		e.events = p
	}
}

// WithSummary renders the final success table to w.
func WithSummary(w io.Writer) ExperimentOption {
	return func(e *EvaluationExperiment) {
		e.summaryOut = w
	}
}

// WithClock replaces time.Now for run folder names and metadata.
func WithClock(now func() time.Time) ExperimentOption {
	return func(e *EvaluationExperiment) {
		e.now = now
	}
}

type EvaluationExperiment struct {
	cfg    *config.EvaluationConfig
	task   tasks.Task
	meta   tasks.ShapeMeta
	policy core.Policy

	log        logrus.FieldLogger
	events     events.Publisher
	summaryOut io.Writer
	now        func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewEvaluationExperiment resolves the task and its shape metadata. The
// policy must already be in evaluation mode.
func NewEvaluationExperiment(cfg *config.EvaluationConfig, policy core.Policy, opts ...ExperimentOption) (*EvaluationExperiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid evaluation config: %w", err)
	}
	task, err := tasks.Lookup(cfg.Task)
	if err != nil {
		return nil, err
	}
	taskCfg, err := tasks.LoadConfig(cfg.TaskConfigDir, task.Kind)
	if err != nil {
		return nil, err
	}
	e := &EvaluationExperiment{
		cfg:    cfg,
		task:   task,
		meta:   taskCfg.ShapeMeta,
		policy: policy,
		log:    logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// LoadPolicy restores the policy stored in the checkpoint at path.
func LoadPolicy(path string, reg *checkpoint.Registry) (core.Policy, error) {
	payload, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	return reg.Restore(payload, "")
}

// SampleSeeds draws n distinct seeds from [lo, hi) in sampling order.
func SampleSeeds(rng *rand.Rand, lo, hi int64, n int) ([]int64, error) {
	span := hi - lo
	if n < 0 || span <= 0 || int64(n) > span {
		return nil, fmt.Errorf("cannot draw %d distinct seeds from [%d, %d)", n, lo, hi)
	}
	seeds := make([]int64, 0, n)
	// dense draws shuffle the whole range, sparse ones reject repeats
	if int64(n) > span/2 {
		for _, i := range rng.Perm(int(span))[:n] {
			seeds = append(seeds, lo+int64(i))
		}
		return seeds, nil
	}
	seen := make(map[int64]struct{}, n)
	for len(seeds) < n {
		s := lo + rng.Int63n(span)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		seeds = append(seeds, s)
	}
	return seeds, nil
}

func (e *EvaluationExperiment) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Run evaluates the policy over every sampled seed and returns the summary of
// what was persisted. An error aborts the run; chunks already written stay on
// disk.
func (e *EvaluationExperiment) Run(ctx context.Context) (*Summary, error) {
	start := e.now()
	e.mu.Lock()
	e.status = Status{Running: true, StartTime: start}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.status.Running = false
		e.status.EndTime = e.now()
		e.mu.Unlock()
	}()

	samplerSeed := e.cfg.SamplerSeed
	if samplerSeed == 0 {
		samplerSeed = start.UnixNano()
	}
	seeds, err := SampleSeeds(rand.New(rand.NewSource(samplerSeed)), e.cfg.SeedMin, e.cfg.SeedMax, e.cfg.TotalRollouts)
	if err != nil {
		return nil, err
	}

	dir, err := results.RunFolder(e.cfg.ResultsDir, e.task.Kind, start)
	if err != nil {
		return nil, err
	}
	store := results.NewStore(dir)
	overrides := e.task.GeomOverrides(e.cfg.Modified)
	if err := store.WriteMetadata(e.metadata(start, seeds, overrides)); err != nil {
		return nil, err
	}
	log := e.log.WithFields(logrus.Fields{"task": e.task.Kind, "run_dir": dir})
	log.WithField("rollouts", len(seeds)).Info("Saved metadata")
	e.publish(log, events.Event{Kind: events.RunStarted, RunDir: dir})

	per := e.cfg.RolloutsPerSim
	chunks := (len(seeds) + per - 1) / per
	e.mu.Lock()
	e.status.Chunks = chunks
	e.mu.Unlock()

	for i := 0; i < len(seeds); i += per {
		chunkSeeds := seeds[i:min(i+per, len(seeds))]
		chunkStart := time.Now()
		clog := log.WithFields(logrus.Fields{
			"chunk":   i / per,
			"elapsed": e.now().Sub(start).Round(time.Second).String(),
		})
		clog.Infof("Starting rollouts %d/%d", i, len(seeds))

		res, err := e.runChunk(ctx, dir, chunkSeeds, overrides, clog)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i/per, err)
		}
		if err := store.AppendRewards(res.Rewards); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i/per, err)
		}
		if err := store.AppendVideoPaths(res.VideoPaths); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i/per, err)
		}

		e.publish(clog, events.Event{
			Kind:    events.ChunkFinished,
			RunDir:  dir,
			Chunk:   i / per,
			Elapsed: time.Since(chunkStart),
			Success: res.Success,
			Steps:   res.Steps,
		})
		e.mu.Lock()
		e.status.ChunksDone++
		e.mu.Unlock()
		clog.WithField("successes", res.SuccessCount()).Info("Finished policy run")
	}

	summary, err := Summarize(store, e.task.Kind)
	if err != nil {
		return nil, err
	}
	log.WithField("success_rate", summary.SuccessRate()).Info("Finished")
	e.publish(log, events.Event{Kind: events.RunFinished, RunDir: dir, Elapsed: e.now().Sub(start)})
	if e.summaryOut != nil {
		if err := summary.Render(e.summaryOut); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

// publish drops events nobody has room for; progress reporting never aborts a
// run.
func (e *EvaluationExperiment) publish(log logrus.FieldLogger, ev events.Event) {
	if e.events == nil {
		return
	}
	ev.Task = string(e.task.Kind)
	ev.Timestamp = e.now()
	if err := e.events.Publish(ev); err != nil {
		log.WithError(err).Warn("Dropped progress event")
	}
}

func (e *EvaluationExperiment) runChunk(ctx context.Context, dir string, seeds []int64, overrides []tasks.GeomOverride, log logrus.FieldLogger) (*runner.Result, error) {
	vis := 0
	if e.cfg.RecordVideo {
		vis = len(seeds)
	}
	r, err := runner.NewRolloutRunner(runner.Config{
		OutputDir:     dir,
		Task:          e.task,
		ShapeMeta:     e.meta,
		MaxSteps:      e.task.MaxSteps,
		NTest:         len(seeds),
		NTestVis:      vis,
		TestSeeds:     seeds,
		RenderObsKey:  e.task.RenderObsKey,
		Overrides:     overrides,
		Randomization: e.cfg.Randomization,
		FPS:           e.cfg.FPS,
		HardReset:     e.cfg.HardReset,
	}, runner.WithLogger(log))
	if err != nil {
		return nil, err
	}
	log.Debug("Made runner")
	return r.Run(ctx, e.policy)
}

func (e *EvaluationExperiment) metadata(start time.Time, seeds []int64, overrides []tasks.GeomOverride) results.Metadata {
	names, rgbs := tasks.SplitOverrides(overrides)
	md := results.Metadata{
		RunID:           uuid.New().String(),
		StartedAt:       start,
		Task:            string(e.task.Kind),
		DatasetPath:     e.task.DatasetPath(),
		MaxSteps:        e.task.MaxSteps,
		ModelFilename:   e.cfg.CheckpointPath(),
		ModdedGeomNames: names,
		ModdedGeomRGBs:  make([][3]int, len(rgbs)),
		Seeds:           seeds,
		TotalRollouts:   e.cfg.TotalRollouts,
		RolloutsPerSim:  e.cfg.RolloutsPerSim,
		Modified:        e.cfg.Modified,
		Host:            results.CollectHostInfo(),
	}
	for i, c := range rgbs {
		md.ModdedGeomRGBs[i] = [3]int{int(c[0]), int(c[1]), int(c[2])}
	}
	return md
}
