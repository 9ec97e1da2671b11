package environment

import (
	"errors"
	"testing"

	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/tasks"
)

func newEnv(t *testing.T, kind tasks.Kind, opts ...EnvOption) *ManipulationEnv {
	t.Helper()
	task, err := tasks.Lookup(string(kind))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := tasks.LoadConfig("", kind)
	if err != nil {
		t.Fatal(err)
	}
	env, err := New(task, cfg.ShapeMeta, opts...)
	if err != nil {
		t.Fatalf("New(%s) failed: %v", kind, err)
	}
	return env
}

func TestScenes(t *testing.T) {
	for _, kind := range tasks.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			env := newEnv(t, kind, WithSeed(1))
			task := env.Task()
			for _, name := range task.GeomNames {
				if _, err := env.Sim().Model.GeomID(name); err != nil {
					t.Errorf("scene is missing geom %s", name)
				}
			}

			obs, err := env.Reset()
			if err != nil {
				t.Fatalf("Reset failed: %v", err)
			}
			if obs.Images[task.RenderObsKey] == nil {
				t.Errorf("observation is missing render key %s", task.RenderObsKey)
			}
			for _, key := range []string{"robot0_eef_pos", "robot0_gripper_qpos", "object"} {
				if _, ok := obs.LowDim[key]; !ok {
					t.Errorf("observation is missing %s", key)
				}
			}

			eef := obs.LowDim["robot0_eef_pos"]
			_, reward, done, info, err := env.Step(core.Action{eef[0], eef[1], eef[2], -1})
			if err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			if reward != 0 || done {
				t.Errorf("idle step reported reward=%v done=%v", reward, done)
			}
			if info["step"] != uint32(1) {
				t.Errorf("info step = %v", info["step"])
			}
		})
	}
}

func TestUnknownTask(t *testing.T) {
	cfg, _ := tasks.LoadConfig("", tasks.Can)
	_, err := New(tasks.Task{Kind: "stack"}, cfg.ShapeMeta)
	if !errors.Is(err, tasks.ErrUnknownTaskKind) {
		t.Errorf("New(stack) error = %v", err)
	}
}

func TestActionDim(t *testing.T) {
	env := newEnv(t, tasks.Can, WithSeed(2))
	env.Reset()
	if _, _, _, _, err := env.Step(core.Action{0, 0}); err == nil {
		t.Error("expected error for wrong action size")
	}
}

func TestSeededPlacement(t *testing.T) {
	a := newEnv(t, tasks.Lift, WithSeed(11))
	b := newEnv(t, tasks.Lift, WithSeed(11))
	c := newEnv(t, tasks.Lift, WithSeed(12))
	oa, _ := a.Reset()
	ob, _ := b.Reset()
	oc, _ := c.Reset()
	for i := range oa.LowDim["object"] {
		if oa.LowDim["object"][i] != ob.LowDim["object"][i] {
			t.Fatalf("same seed gave different placements: %v vs %v", oa.LowDim["object"], ob.LowDim["object"])
		}
	}
	if oa.LowDim["object"][0] == oc.LowDim["object"][0] && oa.LowDim["object"][1] == oc.LowDim["object"][1] {
		t.Error("different seeds gave identical placements")
	}
}

func TestHardReset(t *testing.T) {
	env := newEnv(t, tasks.Can, WithSeed(3), WithHardReset(true))
	first := env.Sim()
	env.Reset()
	if env.Sim() == first {
		t.Error("hard reset kept the old simulation handle")
	}

	soft := newEnv(t, tasks.Can, WithSeed(3))
	handle := soft.Sim()
	soft.Reset()
	if soft.Sim() != handle {
		t.Error("soft reset replaced the simulation handle")
	}
}

func TestLiftSuccess(t *testing.T) {
	env := newEnv(t, tasks.Lift, WithSeed(5))
	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	obj := append([]float64(nil), obs.LowDim["object"]...)

	script := []struct {
		steps int
		act   core.Action
	}{
		{40, core.Action{obj[0], obj[1], obj[2], -1}},
		{5, core.Action{obj[0], obj[1], obj[2], 1}},
		{60, core.Action{obj[0], obj[1], obj[2] + 0.1, 1}},
	}
	var total float64
	done := false
	for _, phase := range script {
		for i := 0; i < phase.steps && !done; i++ {
			var reward float64
			_, reward, done, _, err = env.Step(phase.act)
			if err != nil {
				t.Fatal(err)
			}
			total += reward
		}
	}
	if !done || total != 1 {
		t.Errorf("scripted lift did not succeed: done=%v total=%v", done, total)
	}
	if !env.GetState().Success {
		t.Error("state does not record success")
	}
}
