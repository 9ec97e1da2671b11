package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/google/go-cmp/cmp"
)

type fakeModule struct {
	loaded StateDict
}

func (m *fakeModule) LoadStateDict(sd StateDict) error {
	m.loaded = sd
	return nil
}

type fakePolicy struct {
	eval bool
}

func (p *fakePolicy) PredictAction(ctx context.Context, obs []core.Observation) ([]core.Action, error) {
	return make([]core.Action, len(obs)), nil
}
func (p *fakePolicy) Reset() {}
func (p *fakePolicy) Eval()  { p.eval = true }

type fakeWorkspace struct {
	model  *fakeModule
	policy *fakePolicy
	step   int
}

func (w *fakeWorkspace) LoadPayload(p *Payload, exclude, include []string) error {
	return ApplyPayload(p, exclude, include,
		map[string]StateLoader{"model": w.model},
		map[string]any{"global_step": &w.step})
}

func (w *fakeWorkspace) Model() (core.Policy, error) {
	return w.policy, nil
}

func testPayload() *Payload {
	cfg, _ := tasks.LoadConfig("", tasks.Lift)
	return &Payload{
		Cfg: Config{
			Target: "test.Workspace",
			Task:   TaskConfig{Name: "lift", ShapeMeta: cfg.ShapeMeta},
			Policy: PolicyConfig{Kind: "linear"},
		},
		StateDicts: map[string]StateDict{
			"model": {"weights": {Shape: []int{2, 2}, Data: []float64{1, 0, 0, 1}}},
		},
		Pickles: map[string]json.RawMessage{"global_step": json.RawMessage("42")},
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints", "latest.ckpt")
	want := testPayload()
	if err := Save(path, want); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}
	if diff := cmp.Diff(want.Cfg, got.Cfg); diff != "" {
		t.Errorf("cfg mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.StateDicts, got.StateDicts); diff != "" {
		t.Errorf("state dicts mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing target", func(t *testing.T) {
		path := filepath.Join(dir, "no-target.ckpt")
		os.WriteFile(path, []byte(`{"cfg": {}, "state_dicts": {}}`), 0o644)
		if _, err := Load(path); !errors.Is(err, ErrMissingKey) {
			t.Errorf("Load error = %v, want ErrMissingKey", err)
		}
	})

	t.Run("bad tensor", func(t *testing.T) {
		path := filepath.Join(dir, "bad-tensor.ckpt")
		os.WriteFile(path, []byte(`{"cfg": {"_target_": "x"}, "state_dicts": {"model": {"w": {"shape": [2, 2], "data": [1]}}}}`), 0o644)
		if _, err := Load(path); err == nil {
			t.Error("expected error for tensor shape mismatch")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "nope.ckpt")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Load error = %v", err)
		}
	})
}

func TestApplyPayload(t *testing.T) {
	t.Run("loads modules and pickles", func(t *testing.T) {
		ws := &fakeWorkspace{model: &fakeModule{}, policy: &fakePolicy{}}
		if err := ws.LoadPayload(testPayload(), nil, nil); err != nil {
			t.Fatal(err)
		}
		if ws.model.loaded == nil || ws.step != 42 {
			t.Errorf("loaded=%v step=%d", ws.model.loaded, ws.step)
		}
	})

	t.Run("exclude and include", func(t *testing.T) {
		ws := &fakeWorkspace{model: &fakeModule{}, policy: &fakePolicy{}}
		if err := ws.LoadPayload(testPayload(), []string{"model"}, []string{}); err != nil {
			t.Fatal(err)
		}
		if ws.model.loaded != nil || ws.step != 0 {
			t.Errorf("excluded state leaked: loaded=%v step=%d", ws.model.loaded, ws.step)
		}
	})

	t.Run("unknown module", func(t *testing.T) {
		p := testPayload()
		p.StateDicts["ema_model"] = StateDict{}
		ws := &fakeWorkspace{model: &fakeModule{}, policy: &fakePolicy{}}
		if err := ws.LoadPayload(p, nil, nil); !errors.Is(err, ErrMissingKey) {
			t.Errorf("LoadPayload error = %v, want ErrMissingKey", err)
		}
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	policy := &fakePolicy{}
	reg.Register("test.Workspace", func(cfg Config, outputDir string) (Workspace, error) {
		return &fakeWorkspace{model: &fakeModule{}, policy: policy}, nil
	})

	if _, err := reg.GetClass("hydra.Missing"); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("GetClass error = %v, want ErrUnknownTarget", err)
	}
	if diff := cmp.Diff([]string{"test.Workspace"}, reg.Targets()); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}

	got, err := reg.Restore(testPayload(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to restore: %v", err)
	}
	if got != core.Policy(policy) || !policy.eval {
		t.Error("restored policy is not the workspace model in eval mode")
	}
}
