// Package wrapper decorates an environment with a domain randomization
// lifecycle. A baseline of simulation parameters is saved at construction and
// after every reset; modders perturb the parameters around that baseline on
// reset and on a fixed step cadence.
package wrapper

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/boristopalov/simeval/internal/logging"
	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/modder"
	"github.com/boristopalov/simeval/pkg/sim"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoRandomSource   = errors.New("no random source: provide a seed or opt in to ambient randomness")
	ErrOverrideMismatch = errors.New("geom override names and colors differ in length")
)

type State int

const (
	Uninitialized State = iota
	BaselineSaved
	Randomized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case BaselineSaved:
		return "baseline_saved"
	case Randomized:
		return "randomized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type WrapperParams struct {
	GeomNames            []string
	GeomRGBs             []sim.RGB
	Seed                 *int64
	Ambient              bool
	RandomizeOnReset     bool
	RandomizeEveryNSteps int
	Color                *modder.ColorArgs
	Camera               *modder.CameraArgs
	Lighting             *modder.LightingArgs
	Dynamics             *modder.DynamicsArgs
	Modders              []core.Modder
	Logger               logrus.FieldLogger
}

type WrapperOption func(*WrapperParams)

// WithGeomOverrides hard-sets geom colors before the baseline is saved.
// names and rgbs are parallel.
func WithGeomOverrides(names []string, rgbs []sim.RGB) WrapperOption {
	return func(p *WrapperParams) {
		p.GeomNames = names
		p.GeomRGBs = rgbs
	}
}

func WithSeed(seed int64) WrapperOption {
	return func(p *WrapperParams) {
		p.Seed = &seed
	}
}

// WithAmbientRandomness seeds from the clock when no seed is given.
func WithAmbientRandomness() WrapperOption {
	return func(p *WrapperParams) {
		p.Ambient = true
	}
}

func WithRandomizeOnReset(enabled bool) WrapperOption {
	return func(p *WrapperParams) {
		p.RandomizeOnReset = enabled
	}
}

// WithRandomizeEveryNSteps randomizes before steps 0, n, 2n, ... of each
// episode. Zero disables step randomization.
func WithRandomizeEveryNSteps(n int) WrapperOption {
	return func(p *WrapperParams) {
		p.RandomizeEveryNSteps = n
	}
}

// WithColorRandomization toggles the texture modder's membership in the
// randomization set. Overrides are applied either way.
func WithColorRandomization(enabled bool, args ...modder.ColorArgs) WrapperOption {
	return func(p *WrapperParams) {
		p.Color = nil
		if enabled {
			a := modder.DefaultColorArgs()
			if len(args) > 0 {
				a = args[0]
			}
			p.Color = &a
		}
	}
}

func WithCameraRandomization(enabled bool, args ...modder.CameraArgs) WrapperOption {
	return func(p *WrapperParams) {
		p.Camera = nil
		if enabled {
			a := modder.DefaultCameraArgs()
			if len(args) > 0 {
				a = args[0]
			}
			p.Camera = &a
		}
	}
}

func WithLightingRandomization(enabled bool, args ...modder.LightingArgs) WrapperOption {
	return func(p *WrapperParams) {
		p.Lighting = nil
		if enabled {
			a := modder.DefaultLightingArgs()
			if len(args) > 0 {
				a = args[0]
			}
			p.Lighting = &a
		}
	}
}

func WithDynamicsRandomization(enabled bool, args ...modder.DynamicsArgs) WrapperOption {
	return func(p *WrapperParams) {
		p.Dynamics = nil
		if enabled {
			a := modder.DefaultDynamicsArgs()
			if len(args) > 0 {
				a = args[0]
			}
			p.Dynamics = &a
		}
	}
}

// WithModders appends modders after the built-in ones.
func WithModders(modders ...core.Modder) WrapperOption {
	return func(p *WrapperParams) {
		p.Modders = append(p.Modders, modders...)
	}
}

func WithLogger(log logrus.FieldLogger) WrapperOption {
	return func(p *WrapperParams) {
		p.Logger = log
	}
}

// DomainWrapper implements core.Environment so wrappers can be stacked.
type DomainWrapper struct {
	env     core.Environment
	colors  core.ColorSetter
	modders []core.Modder

	randomizeOnReset bool
	everyN           int
	stepCounter      int
	state            State
	log              logrus.FieldLogger
}

func New(env core.Environment, opts ...WrapperOption) (*DomainWrapper, error) {
	color := modder.DefaultColorArgs()
	params := &WrapperParams{
		RandomizeOnReset: true,
		Color:            &color,
		Logger:           logging.Discard(),
	}
	for _, opt := range opts {
		opt(params)
	}

	if len(params.GeomNames) != len(params.GeomRGBs) {
		return nil, fmt.Errorf("%w: %d names, %d colors", ErrOverrideMismatch, len(params.GeomNames), len(params.GeomRGBs))
	}
	if params.RandomizeEveryNSteps < 0 {
		return nil, fmt.Errorf("randomize every n steps must be >= 0, got %d", params.RandomizeEveryNSteps)
	}

	var rng *rand.Rand
	switch {
	case params.Seed != nil:
		rng = rand.New(rand.NewSource(*params.Seed))
	case params.Ambient:
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	default:
		return nil, ErrNoRandomSource
	}

	s := env.Sim()
	colorArgs := modder.DefaultColorArgs()
	if params.Color != nil {
		colorArgs = *params.Color
	}
	tex := modder.NewTextureModder(s, rng, colorArgs)

	w := &DomainWrapper{
		env:              env,
		colors:           tex,
		randomizeOnReset: params.RandomizeOnReset,
		everyN:           params.RandomizeEveryNSteps,
		state:            Uninitialized,
		log:              params.Logger,
	}
	if params.Color != nil {
		w.modders = append(w.modders, tex)
	}
	if params.Camera != nil {
		w.modders = append(w.modders, modder.NewCameraModder(s, rng, *params.Camera))
	}
	if params.Lighting != nil {
		w.modders = append(w.modders, modder.NewLightingModder(s, rng, *params.Lighting))
	}
	if params.Dynamics != nil {
		w.modders = append(w.modders, modder.NewDynamicsModder(s, rng, *params.Dynamics))
	}
	w.modders = append(w.modders, params.Modders...)

	for i, name := range params.GeomNames {
		if err := w.colors.SetRGB(name, params.GeomRGBs[i]); err != nil {
			return nil, fmt.Errorf("failed to apply geom override: %w", err)
		}
	}
	if err := w.SaveDefaultDomain(); err != nil {
		return nil, err
	}

	w.log.WithFields(logrus.Fields{
		"modders":   len(w.modders),
		"overrides": len(params.GeomNames),
		"on_reset":  w.randomizeOnReset,
		"every_n":   w.everyN,
	}).Debug("Domain wrapper initialised")
	return w, nil
}

// Reset undoes randomization, resets the environment, re-saves the baseline
// from the fresh state and hands the current simulation to every modder. When
// randomizing on reset the observation is recomputed after randomization.
func (w *DomainWrapper) Reset() (core.Observation, error) {
	if err := w.RestoreDefaultDomain(); err != nil {
		return core.Observation{}, err
	}

	obs, err := w.env.Reset()
	if err != nil {
		return core.Observation{}, fmt.Errorf("failed to reset environment: %w", err)
	}

	if err := w.SaveDefaultDomain(); err != nil {
		return core.Observation{}, err
	}

	w.stepCounter = 0

	s := w.env.Sim()
	for _, m := range w.modders {
		m.UpdateSim(s)
	}

	if w.randomizeOnReset {
		if err := w.RandomizeDomain(); err != nil {
			return core.Observation{}, err
		}
		obs, err = w.env.Observe()
		if err != nil {
			return core.Observation{}, fmt.Errorf("failed to recompute observation: %w", err)
		}
	}
	return obs, nil
}

// Step randomizes first when the step counter hits the cadence, then delegates.
func (w *DomainWrapper) Step(action core.Action) (core.Observation, float64, bool, core.Info, error) {
	if w.everyN > 0 && w.stepCounter%w.everyN == 0 {
		if err := w.RandomizeDomain(); err != nil {
			return core.Observation{}, 0, false, nil, err
		}
	}
	w.stepCounter++
	return w.env.Step(action)
}

func (w *DomainWrapper) Sim() *sim.Sim {
	return w.env.Sim()
}

func (w *DomainWrapper) Observe() (core.Observation, error) {
	return w.env.Observe()
}

func (w *DomainWrapper) RandomizeDomain() error {
	for _, m := range w.modders {
		if err := m.Randomize(); err != nil {
			return fmt.Errorf("failed to randomize domain: %w", err)
		}
	}
	w.state = Randomized
	w.log.WithField("step", w.stepCounter).Debug("Randomized domain")
	return nil
}

func (w *DomainWrapper) SaveDefaultDomain() error {
	for _, m := range w.modders {
		if err := m.SaveDefaults(); err != nil {
			return fmt.Errorf("failed to save default domain: %w", err)
		}
	}
	w.state = BaselineSaved
	return nil
}

func (w *DomainWrapper) RestoreDefaultDomain() error {
	for _, m := range w.modders {
		if err := m.RestoreDefaults(); err != nil {
			return fmt.Errorf("failed to restore default domain: %w", err)
		}
	}
	w.state = BaselineSaved
	return nil
}

func (w *DomainWrapper) State() State {
	return w.state
}

func (w *DomainWrapper) StepCount() int {
	return w.stepCounter
}

// Modders returns the randomization set in application order.
func (w *DomainWrapper) Modders() []core.Modder {
	return append([]core.Modder(nil), w.modders...)
}

// Unwrap returns the decorated environment.
func (w *DomainWrapper) Unwrap() core.Environment {
	return w.env
}
