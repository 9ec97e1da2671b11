// Package tasks is the static table of manipulation tasks the harness knows how
// to evaluate, and the loader for their shape metadata.
package tasks

import (
	"errors"
	"fmt"

	"github.com/boristopalov/simeval/pkg/sim"
)

var ErrUnknownTaskKind = errors.New("unknown task kind")

type Kind string

const (
	Lift      Kind = "lift"
	Can       Kind = "can"
	Square    Kind = "square"
	ToolHang  Kind = "tool_hang"
	Transport Kind = "transport"
)

// GeomOverride hard-sets one geom color before the baseline snapshot.
type GeomOverride struct {
	Name string
	RGB  sim.RGB
}

type Task struct {
	Kind Kind
	// GeomNames are the visual geoms of the scene that can be recolored.
	GeomNames []string
	// Overrides are applied when the run is marked as modified.
	Overrides    []GeomOverride
	RenderObsKey string
	MaxSteps     int
}

var table = map[Kind]Task{
	Can: {
		Kind:      Can,
		GeomNames: []string{"floor", "Can_g0_visual"},
		Overrides: []GeomOverride{
			{"floor", Beige},
			{"Can_g0_visual", LimeGreen},
		},
		RenderObsKey: "agentview_image",
		MaxSteps:     500,
	},
	Lift: {
		Kind:      Lift,
		GeomNames: []string{"cube_g0_vis", "table_visual"},
		Overrides: []GeomOverride{
			{"cube_g0_vis", DodgerBlue},
		},
		RenderObsKey: "agentview_image",
		MaxSteps:     500,
	},
	Square: {
		Kind: Square,
		GeomNames: []string{"table_visual", "SquareNut_g0_visual", "SquareNut_g1_visual",
			"SquareNut_g2_visual", "SquareNut_g3_visual", "SquareNut_g4_visual"},
		Overrides: []GeomOverride{
			{"SquareNut_g0_visual", Wheat},
			{"SquareNut_g1_visual", Wheat},
			{"SquareNut_g2_visual", Wheat},
			{"SquareNut_g3_visual", Wheat},
			{"SquareNut_g4_visual", Wheat},
		},
		RenderObsKey: "agentview_image",
		MaxSteps:     500,
	},
	ToolHang: {
		Kind:      ToolHang,
		GeomNames: []string{"table_visual", "wall_front_visual", "tool_handle_g0_vis"},
		Overrides: []GeomOverride{
			{"wall_front_visual", FloralWhite},
		},
		RenderObsKey: "sideview_image",
		MaxSteps:     750,
	},
	Transport: {
		Kind: Transport,
		GeomNames: []string{"floor", "wall_leftcorner_visual", "wall_rightcorner_visual",
			"wall_left_visual", "wall_right_visual", "wall_rear_visual",
			"wall_front_visual", "payload_handle_vis", "payload_head_vis",
			"trash_g0_vis", "transport_start_bin_lid_handle_vis"},
		Overrides: []GeomOverride{
			{"trash_g0_vis", LimeGreen},
			{"transport_start_bin_lid_handle_vis", Silver},
		},
		RenderObsKey: "shouldercamera0_image",
		MaxSteps:     750,
	},
}

// Lookup resolves a task name. There is no fallback task.
func Lookup(name string) (Task, error) {
	t, ok := table[Kind(name)]
	if !ok {
		return Task{}, fmt.Errorf("%q: %w", name, ErrUnknownTaskKind)
	}
	return t, nil
}

// Kinds lists the known tasks in a stable order.
func Kinds() []Kind {
	return []Kind{Can, Lift, Square, ToolHang, Transport}
}

// GeomOverrides returns the overrides to apply for a run, or none when the run
// is unmodified.
func (t Task) GeomOverrides(modified bool) []GeomOverride {
	if !modified {
		return []GeomOverride{}
	}
	return append([]GeomOverride(nil), t.Overrides...)
}

// DatasetPath is where the demonstration dataset for the task lives.
func (t Task) DatasetPath() string {
	return "data/robomimic/datasets/" + string(t.Kind) + "/ph/image_abs.hdf5"
}

// CheckpointPath is the default location of the pretrained policy for the task.
func (t Task) CheckpointPath() string {
	return "data/experiments/image/" + string(t.Kind) + "_ph/diffusion_policy_cnn/train_0/checkpoints/latest.ckpt"
}

// SplitOverrides returns the overrides as the parallel name / color lists the
// wrapper consumes.
func SplitOverrides(overrides []GeomOverride) ([]string, []sim.RGB) {
	names := make([]string, len(overrides))
	rgbs := make([]sim.RGB, len(overrides))
	for i, o := range overrides {
		names[i], rgbs[i] = o.Name, o.RGB
	}
	return names, rgbs
}
