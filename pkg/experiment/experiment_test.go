package experiment

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boristopalov/simeval/internal/logging"
	"github.com/boristopalov/simeval/pkg/checkpoint"
	"github.com/boristopalov/simeval/pkg/config"
	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/events"
	"github.com/boristopalov/simeval/pkg/metrics"
	"github.com/boristopalov/simeval/pkg/policy"
	"github.com/boristopalov/simeval/pkg/results"
	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gonum.org/v1/gonum/mat"
)

// scriptedLift grasps the object and raises it.
type scriptedLift struct {
	resets int
	evals  int
}

func (p *scriptedLift) PredictAction(ctx context.Context, obs []core.Observation) ([]core.Action, error) {
	acts := make([]core.Action, len(obs))
	for i, o := range obs {
		eef, obj := o.LowDim["robot0_eef_pos"], o.LowDim["object"]
		d := math.Sqrt((eef[0]-obj[0])*(eef[0]-obj[0]) + (eef[1]-obj[1])*(eef[1]-obj[1]) + (eef[2]-obj[2])*(eef[2]-obj[2]))
		switch {
		case o.LowDim["robot0_gripper_qpos"][0] > 0:
			acts[i] = core.Action{obj[0], obj[1], obj[2] + 0.1, 1}
		case d < 0.03:
			acts[i] = core.Action{obj[0], obj[1], obj[2], 1}
		default:
			acts[i] = core.Action{obj[0], obj[1], obj[2], -1}
		}
	}
	return acts, nil
}

func (p *scriptedLift) Reset() { p.resets++ }
func (p *scriptedLift) Eval()  { p.evals++ }

type brokenPolicy struct{}

func (brokenPolicy) PredictAction(context.Context, []core.Observation) ([]core.Action, error) {
	return nil, errors.New("policy exploded")
}
func (brokenPolicy) Reset() {}
func (brokenPolicy) Eval()  {}

func testConfig(t *testing.T) *config.EvaluationConfig {
	t.Helper()
	return &config.EvaluationConfig{
		Task:           "lift",
		Modified:       true,
		TotalRollouts:  5,
		RolloutsPerSim: 2,
		SeedMin:        1_000,
		SeedMax:        2_000,
		SamplerSeed:    11,
		ResultsDir:     t.TempDir(),
		Checkpoint:     "ckpt/lift.ckpt",
		FPS:            10,
		RecordVideo:    true,
		Randomization:  config.RandomizationConfig{OnReset: true, Color: true},
	}
}

func TestSampleSeeds(t *testing.T) {
	t.Run("sparse", func(t *testing.T) {
		seeds, err := SampleSeeds(rand.New(rand.NewSource(1)), 1_000, 10_000_000, 500)
		if err != nil {
			t.Fatal(err)
		}
		assertDistinctInRange(t, seeds, 1_000, 10_000_000, 500)
	})

	t.Run("dense", func(t *testing.T) {
		seeds, err := SampleSeeds(rand.New(rand.NewSource(1)), 10, 20, 10)
		if err != nil {
			t.Fatal(err)
		}
		assertDistinctInRange(t, seeds, 10, 20, 10)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, _ := SampleSeeds(rand.New(rand.NewSource(5)), 1_000, 10_000_000, 20)
		b, _ := SampleSeeds(rand.New(rand.NewSource(5)), 1_000, 10_000_000, 20)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("same sampler seed differs (-a +b):\n%s", diff)
		}
	})

	t.Run("too many", func(t *testing.T) {
		if _, err := SampleSeeds(rand.New(rand.NewSource(1)), 0, 3, 4); err == nil {
			t.Error("expected error drawing 4 seeds from 3 values")
		}
	})
}

func assertDistinctInRange(t *testing.T, seeds []int64, lo, hi int64, n int) {
	t.Helper()
	if len(seeds) != n {
		t.Fatalf("got %d seeds, want %d", len(seeds), n)
	}
	seen := map[int64]bool{}
	for _, s := range seeds {
		if s < lo || s >= hi {
			t.Errorf("seed %d outside [%d, %d)", s, lo, hi)
		}
		if seen[s] {
			t.Errorf("seed %d drawn twice", s)
		}
		seen[s] = true
	}
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	broker := events.NewBroker()
	progress := make(chan events.Event, 16)
	if err := broker.Subscribe("test", progress); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	started := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	p := &scriptedLift{}

	exp, err := NewEvaluationExperiment(cfg, p,
		WithLogger(logging.Discard()),
		WithEvents(broker),
		WithSummary(&out),
		WithClock(func() time.Time { return started }),
	)
	if err != nil {
		t.Fatalf("Failed to create experiment: %v", err)
	}
	summary, err := exp.Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run experiment: %v", err)
	}

	runDir := filepath.Join(cfg.ResultsDir, "lift", "20240501-093000")
	if summary.RunDir != runDir {
		t.Errorf("run dir = %s, want %s", summary.RunDir, runDir)
	}
	if p.resets != 3 {
		t.Errorf("policy reset %d times, want once per chunk (3)", p.resets)
	}
	if st := exp.Status(); st.Running || st.ChunksDone != 3 || st.Chunks != 3 {
		t.Errorf("status = %+v", st)
	}

	store := results.NewStore(runDir)
	md, err := store.ReadMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if len(md.Seeds) != 5 || md.TotalRollouts != 5 || md.RolloutsPerSim != 2 || !md.Modified {
		t.Errorf("metadata = %+v", md)
	}
	if diff := cmp.Diff([]string{"cube_g0_vis"}, md.ModdedGeomNames); diff != "" {
		t.Errorf("modded geom names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][3]int{{30, 144, 255}}, md.ModdedGeomRGBs); diff != "" {
		t.Errorf("modded geom rgbs (-want +got):\n%s", diff)
	}
	if md.ModelFilename != "ckpt/lift.ckpt" || md.MaxSteps != 500 {
		t.Errorf("metadata model/max steps = %s/%d", md.ModelFilename, md.MaxSteps)
	}

	rewards, err := store.LoadRewards()
	if err != nil {
		t.Fatal(err)
	}
	if r, c := rewards.Dims(); r != 5 || c != 500 {
		t.Fatalf("rewards are %dx%d, want 5x500", r, c)
	}
	if got := mat.Sum(rewards); got != 5 {
		t.Errorf("reward total = %v, want 5", got)
	}

	videos, err := store.VideoPaths()
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) != 5 {
		t.Fatalf("got %d video paths, want 5", len(videos))
	}
	for _, v := range videos {
		if _, err := os.Stat(v); err != nil {
			t.Errorf("video %s missing: %v", v, err)
		}
	}

	if summary.Successes != 5 || summary.SuccessRate() != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if !strings.Contains(out.String(), "100.0%") {
		t.Errorf("summary table missing success rate:\n%s", out.String())
	}
	close(progress)
	var kinds []events.Kind
	for ev := range progress {
		kinds = append(kinds, ev.Kind)
		collector.Observe(ev)
	}
	wantKinds := []events.Kind{events.RunStarted, events.ChunkFinished, events.ChunkFinished, events.ChunkFinished, events.RunFinished}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Errorf("progress events (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(collector.Chunks.WithLabelValues("lift")); got != 3 {
		t.Errorf("chunks metric = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.Successes.WithLabelValues("lift")); got != 5 {
		t.Errorf("successes metric = %v, want 5", got)
	}
}

func TestRunUnmodified(t *testing.T) {
	cfg := testConfig(t)
	cfg.Modified = false
	cfg.TotalRollouts = 1
	cfg.RecordVideo = false
	exp, err := NewEvaluationExperiment(cfg, &scriptedLift{})
	if err != nil {
		t.Fatal(err)
	}
	summary, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	md, err := results.NewStore(summary.RunDir).ReadMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if len(md.ModdedGeomNames) != 0 || len(md.ModdedGeomRGBs) != 0 {
		t.Errorf("unmodified run recorded overrides: %v %v", md.ModdedGeomNames, md.ModdedGeomRGBs)
	}
	if videos, _ := results.NewStore(summary.RunDir).VideoPaths(); len(videos) != 0 {
		t.Errorf("recorded %d videos with recording off", len(videos))
	}
}

func TestRunSameSecondKeepsFirstRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.TotalRollouts = 2
	cfg.RecordVideo = false
	clock := WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) })

	first, err := NewEvaluationExperiment(cfg, &scriptedLift{}, clock)
	if err != nil {
		t.Fatal(err)
	}
	summary, err := first.Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run first experiment: %v", err)
	}

	second, err := NewEvaluationExperiment(cfg, &scriptedLift{}, clock)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := second.Run(context.Background()); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("second run error = %v, want fs.ErrExist", err)
	}

	rewards, err := results.NewStore(summary.RunDir).LoadRewards()
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := rewards.Dims(); r != 2 {
		t.Errorf("first run has %d reward rows after the second run, want 2", r)
	}
}

func TestRunFailureKeepsFlushedChunks(t *testing.T) {
	cfg := testConfig(t)
	exp, err := NewEvaluationExperiment(cfg, brokenPolicy{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exp.Run(context.Background()); err == nil {
		t.Fatal("expected policy failure to abort the run")
	}
	matches, _ := filepath.Glob(filepath.Join(cfg.ResultsDir, "lift", "*", results.MetadataFile))
	if len(matches) != 1 {
		t.Errorf("metadata should be written before rollouts, found %v", matches)
	}
}

func TestNewEvaluationExperiment(t *testing.T) {
	cfg := testConfig(t)
	cfg.Task = "stack"
	if _, err := NewEvaluationExperiment(cfg, &scriptedLift{}); !errors.Is(err, tasks.ErrUnknownTaskKind) {
		t.Errorf("unknown task error = %v", err)
	}
	cfg = testConfig(t)
	cfg.RolloutsPerSim = 0
	if _, err := NewEvaluationExperiment(cfg, &scriptedLift{}); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadPolicy(t *testing.T) {
	meta, err := tasks.LoadConfig("", tasks.Lift)
	if err != nil {
		t.Fatal(err)
	}
	ws, err := policy.NewLinearWorkspace(checkpoint.Config{
		Target: policy.LinearWorkspaceTarget,
		Task:   checkpoint.TaskConfig{Name: "lift", ShapeMeta: meta.ShapeMeta},
		Policy: checkpoint.PolicyConfig{Kind: policy.KindLinear},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	reaching, err := policy.NewReachingPolicy(meta.ShapeMeta)
	if err != nil {
		t.Fatal(err)
	}
	payload := ws.Payload()
	payload.StateDicts["model"] = reaching.StateDict()
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	if err := checkpoint.Save(path, payload); err != nil {
		t.Fatal(err)
	}

	got, err := LoadPolicy(path, policy.NewRegistry(context.Background(), nil))
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	lp, ok := got.(*policy.LinearPolicy)
	if !ok {
		t.Fatalf("restored %T, want *policy.LinearPolicy", got)
	}
	if lp.Training() || !mat.Equal(lp.Weights(), reaching.Weights()) {
		t.Error("restored policy differs or is not in eval mode")
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.ckpt"), checkpoint.NewRegistry()); err == nil {
		t.Error("expected error for missing checkpoint")
	}
}
