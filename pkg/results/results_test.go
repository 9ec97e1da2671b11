package results

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"
)

func TestRunFolder(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	dir, err := RunFolder(root, tasks.ToolHang, now)
	if err != nil {
		t.Fatalf("Failed to create run folder: %v", err)
	}
	want := filepath.Join(root, "tool_hang", "20240309-140507")
	if dir != want {
		t.Errorf("RunFolder = %s, want %s", dir, want)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Errorf("run folder not created: %v", err)
	}

	t.Run("same second", func(t *testing.T) {
		if _, err := RunFolder(root, tasks.ToolHang, now); !errors.Is(err, fs.ErrExist) {
			t.Errorf("second RunFolder error = %v, want fs.ErrExist", err)
		}
		if _, err := RunFolder(root, tasks.ToolHang, now.Add(time.Second)); err != nil {
			t.Errorf("next second: %v", err)
		}
	})
}

func TestAppendRewards(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, err := s.LoadRewards(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadRewards on empty store: %v", err)
	}

	first := mat.NewDense(2, 3, []float64{0, 0, 1, 0, 1, 0})
	second := mat.NewDense(1, 3, []float64{0, 0, 0})
	if err := s.AppendRewards(first); err != nil {
		t.Fatalf("Failed to append first chunk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "reward_array.npy")); err != nil {
		t.Errorf("rewards not written to reward_array.npy: %v", err)
	}
	if err := s.AppendRewards(second); err != nil {
		t.Fatalf("Failed to append second chunk: %v", err)
	}

	got, err := s.LoadRewards()
	if err != nil {
		t.Fatalf("Failed to load rewards: %v", err)
	}
	want := mat.NewDense(3, 3, []float64{0, 0, 1, 0, 1, 0, 0, 0, 0})
	if !mat.Equal(got, want) {
		t.Errorf("rewards = %v, want %v", mat.Formatted(got), mat.Formatted(want))
	}

	t.Run("column mismatch", func(t *testing.T) {
		err := s.AppendRewards(mat.NewDense(1, 4, nil))
		if !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("AppendRewards error = %v, want ErrShapeMismatch", err)
		}
		m, err := s.LoadRewards()
		if err != nil {
			t.Fatal(err)
		}
		if r, _ := m.Dims(); r != 3 {
			t.Errorf("failed append changed stored rows to %d", r)
		}
	})
}

func TestVideoPaths(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.AppendVideoPaths([]string{"media/a.gif"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendVideoPaths(nil); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendVideoPaths([]string{"media/b.gif", "media/c.gif"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.VideoPaths()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"media/a.gif", "media/b.gif", "media/c.gif"}, got); diff != "" {
		t.Errorf("video paths mismatch (-want +got):\n%s", diff)
	}
}

func TestMetadata(t *testing.T) {
	s := NewStore(t.TempDir())
	md := Metadata{
		RunID:           "6a1c",
		StartedAt:       time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC),
		Task:            "can",
		MaxSteps:        500,
		ModdedGeomNames: []string{"floor", "Can_g0_visual"},
		ModdedGeomRGBs:  [][3]int{{245, 245, 220}, {50, 205, 50}},
		Seeds:           []int64{1234, 99999},
		TotalRollouts:   2,
		RolloutsPerSim:  1,
		Modified:        true,
		Host:            CollectHostInfo(),
	}
	if err := s.WriteMetadata(md); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.Dir(), MetadataFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"task:", "max_steps:", "model_filename:", "modded_geom_names:",
		"modded_geom_rgbs:", "seeds:", "total_rollouts:", "rollouts_per_sim:", "modified:"} {
		if !strings.Contains("\n"+string(raw), "\n"+key) {
			t.Errorf("metadata missing key %s", key)
		}
	}

	got, err := s.ReadMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(md, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	if got.Host.CPUs < 1 {
		t.Errorf("host cpus = %d", got.Host.CPUs)
	}
}
