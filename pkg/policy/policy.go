// Package policy holds the policies the harness can evaluate and the
// workspaces that rebuild them from checkpoints.
package policy

import (
	"errors"
	"fmt"
	"image"

	"github.com/boristopalov/simeval/internal/logging"
	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var ErrActionParse = errors.New("could not parse action")

const (
	KindLinear        = "linear"
	KindLanguageModel = "language_model"
)

type Params struct {
	Weights     *mat.Dense
	Low, High   []float64
	Model       string
	HistorySize int
	Logger      logrus.FieldLogger
}

type Option func(*Params)

// WithWeights sets the linear weight matrix, shaped action dim x feature dim.
func WithWeights(w *mat.Dense) Option {
	return func(p *Params) {
		p.Weights = w
	}
}

// WithActionBounds clips every action into [low, high] elementwise.
func WithActionBounds(low, high []float64) Option {
	return func(p *Params) {
		p.Low, p.High = low, high
	}
}

func WithModel(model string) Option {
	return func(p *Params) {
		p.Model = model
	}
}

func WithHistorySize(n int) Option {
	return func(p *Params) {
		p.HistorySize = n
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Params) {
		p.Logger = log
	}
}

func defaultParams() *Params {
	return &Params{
		Model:       "gpt-4o-mini",
		HistorySize: 10,
		Logger:      logging.Discard(),
	}
}

func checkBounds(dim int, low, high []float64) error {
	if low == nil && high == nil {
		return nil
	}
	if len(low) != dim || len(high) != dim {
		return fmt.Errorf("action bounds have %d/%d dims, want %d", len(low), len(high), dim)
	}
	for i := range low {
		if low[i] > high[i] {
			return fmt.Errorf("action bound %d: low %v > high %v", i, low[i], high[i])
		}
	}
	return nil
}

func clipAction(a core.Action, low, high []float64) core.Action {
	if low == nil {
		return a
	}
	for i := range a {
		a[i] = max(low[i], min(high[i], a[i]))
	}
	return a
}

// FeatureDim is the linear feature length for meta: every low-dim value, three
// channel means per image and a constant bias term.
func FeatureDim(meta tasks.ShapeMeta) int {
	return meta.LowDimSize() + 3*len(meta.RGBKeys()) + 1
}

// Features flattens an observation in the order FeatureDim describes.
func Features(meta tasks.ShapeMeta, obs core.Observation) ([]float64, error) {
	out := make([]float64, 0, FeatureDim(meta))
	for _, key := range meta.LowDimKeys() {
		v, ok := obs.LowDim[key]
		if !ok {
			return nil, fmt.Errorf("observation is missing %s", key)
		}
		want := 1
		for _, d := range meta.Obs[key].Shape {
			want *= d
		}
		if len(v) != want {
			return nil, fmt.Errorf("observation %s has %d values, want %d", key, len(v), want)
		}
		out = append(out, v...)
	}
	for _, key := range meta.RGBKeys() {
		img, ok := obs.Images[key]
		if !ok || img == nil {
			return nil, fmt.Errorf("observation is missing %s", key)
		}
		means := channelMeans(img)
		out = append(out, means[:]...)
	}
	return append(out, 1), nil
}

func channelMeans(img *image.RGBA) [3]float64 {
	var sum [3]float64
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return sum
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			sum[0] += float64(row[4*x])
			sum[1] += float64(row[4*x+1])
			sum[2] += float64(row[4*x+2])
		}
	}
	for i := range sum {
		sum[i] /= n * 255
	}
	return sum
}
