package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	want := &EvaluationConfig{
		Task:           "can",
		Modified:       true,
		TotalRollouts:  1000,
		RolloutsPerSim: 10,
		SeedMin:        1_000,
		SeedMax:        10_000_000,
		ResultsDir:     "results",
		TaskConfigDir:  "configs/task",
		FPS:            10,
		RecordVideo:    true,
		Randomization:  RandomizationConfig{OnReset: true, Color: true},
		Logging:        LogConfig{Level: "info", Format: "text"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}
	if got := cfg.CheckpointPath(); got != filepath.FromSlash("data/experiments/image/can_ph/diffusion_policy_cnn/train_0/checkpoints/latest.ckpt") {
		t.Errorf("CheckpointPath() = %s", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.yaml")
	content := `
task: lift
total_rollouts: 20
rollouts_per_sim: 5
checkpoint: ckpt/lift.ckpt
randomization:
  every_n_steps: 50
  lighting: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIMEVAL_MODIFIED", "false")
	t.Setenv("SIMEVAL_RANDOMIZATION_CAMERA", "true")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Task != "lift" || cfg.TotalRollouts != 20 || cfg.RolloutsPerSim != 5 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Modified {
		t.Error("SIMEVAL_MODIFIED=false not applied")
	}
	r := cfg.Randomization
	if r.EveryNSteps != 50 || !r.Lighting || !r.Camera || !r.Color {
		t.Errorf("randomization = %+v", r)
	}
	if cfg.CheckpointPath() != "ckpt/lift.ckpt" {
		t.Errorf("CheckpointPath() = %s", cfg.CheckpointPath())
	}
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.TotalRollouts = 0
	cfg.SeedMin, cfg.SeedMax = 10, 5
	cfg.FPS = 0
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"total_rollouts", "seed range", "fps"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
