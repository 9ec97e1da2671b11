package policy

import (
	"context"
	"fmt"

	"github.com/boristopalov/simeval/pkg/checkpoint"
	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/tasks"
	"gonum.org/v1/gonum/mat"
)

// LinearPolicy predicts actions as W·features(obs).
type LinearPolicy struct {
	meta     tasks.ShapeMeta
	weights  *mat.Dense
	low      []float64
	high     []float64
	training bool
	loaded   bool
}

func NewLinearPolicy(meta tasks.ShapeMeta, opts ...Option) (*LinearPolicy, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	params := defaultParams()
	for _, opt := range opts {
		opt(params)
	}

	rows, cols := meta.ActionDim(), FeatureDim(meta)
	if err := checkBounds(rows, params.Low, params.High); err != nil {
		return nil, err
	}
	p := &LinearPolicy{
		meta:     meta,
		weights:  mat.NewDense(rows, cols, nil),
		low:      params.Low,
		high:     params.High,
		training: true,
	}
	if params.Weights != nil {
		if r, c := params.Weights.Dims(); r != rows || c != cols {
			return nil, fmt.Errorf("weights are %dx%d, want %dx%d", r, c, rows, cols)
		}
		p.weights.Copy(params.Weights)
		p.loaded = true
	}
	return p, nil
}

// NewReachingPolicy returns a linear policy whose position targets track the
// object and whose gripper stays open.
func NewReachingPolicy(meta tasks.ShapeMeta, opts ...Option) (*LinearPolicy, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	offset, found := 0, false
	for _, key := range meta.LowDimKeys() {
		if key == "object" {
			found = true
			break
		}
		size := 1
		for _, d := range meta.Obs[key].Shape {
			size *= d
		}
		offset += size
	}
	if !found || meta.ActionDim() < 4 {
		return nil, fmt.Errorf("reaching policy needs an object observation and a 4-dim action")
	}

	rows, cols := meta.ActionDim(), FeatureDim(meta)
	w := mat.NewDense(rows, cols, nil)
	for i := 0; i < 3; i++ {
		w.Set(i, offset+i, 1)
	}
	w.Set(3, cols-1, -1)
	return NewLinearPolicy(meta, append(append([]Option(nil), opts...), WithWeights(w))...)
}

func (p *LinearPolicy) PredictAction(ctx context.Context, obs []core.Observation) ([]core.Action, error) {
	if len(obs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, cols := p.weights.Dims()
	x := mat.NewDense(len(obs), cols, nil)
	for i, o := range obs {
		f, err := Features(p.meta, o)
		if err != nil {
			return nil, fmt.Errorf("env %d: %w", i, err)
		}
		x.SetRow(i, f)
	}

	var out mat.Dense
	out.Mul(x, p.weights.T())

	actions := make([]core.Action, len(obs))
	for i := range actions {
		actions[i] = clipAction(mat.Row(nil, i, &out), p.low, p.high)
	}
	return actions, nil
}

func (p *LinearPolicy) Reset() {}

func (p *LinearPolicy) Eval() {
	p.training = false
}

func (p *LinearPolicy) Training() bool {
	return p.training
}

func (p *LinearPolicy) Loaded() bool {
	return p.loaded
}

func (p *LinearPolicy) Weights() *mat.Dense {
	return mat.DenseCopyOf(p.weights)
}

func (p *LinearPolicy) StateDict() checkpoint.StateDict {
	r, c := p.weights.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, mat.Row(nil, i, p.weights)...)
	}
	return checkpoint.StateDict{
		"weights": {Shape: []int{r, c}, Data: data},
	}
}

func (p *LinearPolicy) LoadStateDict(sd checkpoint.StateDict) error {
	t, ok := sd["weights"]
	if !ok {
		return fmt.Errorf("weights: %w", checkpoint.ErrMissingKey)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	r, c := p.weights.Dims()
	if len(t.Shape) != 2 || t.Shape[0] != r || t.Shape[1] != c {
		return fmt.Errorf("weights shape %v does not match policy %dx%d", t.Shape, r, c)
	}
	p.weights = mat.NewDense(r, c, append([]float64(nil), t.Data...))
	p.loaded = true
	return nil
}
