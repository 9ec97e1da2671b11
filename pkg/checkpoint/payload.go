// Package checkpoint reads and writes serialized training payloads and
// rebuilds the workspace that produced them.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/boristopalov/simeval/pkg/tasks"
)

var (
	ErrUnknownTarget = errors.New("unknown workspace target")
	ErrMissingKey    = errors.New("missing checkpoint key")
)

// Tensor is a dense row-major array.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func (t Tensor) Validate() error {
	n := 1
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension in shape %v", t.Shape)
		}
		n *= d
	}
	if n != len(t.Data) {
		return fmt.Errorf("shape %v holds %d values, got %d", t.Shape, n, len(t.Data))
	}
	return nil
}

type StateDict map[string]Tensor

type TaskConfig struct {
	Name      string          `json:"name"`
	ShapeMeta tasks.ShapeMeta `json:"shape_meta"`
}

type PolicyConfig struct {
	// Kind is "linear" or "language_model".
	Kind        string    `json:"kind"`
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	HistorySize int       `json:"history_size,omitempty"`
	ActionLow   []float64 `json:"action_low,omitempty"`
	ActionHigh  []float64 `json:"action_high,omitempty"`
}

type TrainingConfig struct {
	UseEMA bool `json:"use_ema"`
	// Device is recorded for provenance only.
	Device string `json:"device,omitempty"`
	Seed   int64  `json:"seed,omitempty"`
}

// Config is the workspace configuration stored under "cfg".
type Config struct {
	Target   string         `json:"_target_"`
	Name     string         `json:"name,omitempty"`
	Task     TaskConfig     `json:"task"`
	Policy   PolicyConfig   `json:"policy"`
	Training TrainingConfig `json:"training"`
}

type Payload struct {
	Cfg        Config                     `json:"cfg"`
	StateDicts map[string]StateDict       `json:"state_dicts"`
	Pickles    map[string]json.RawMessage `json:"pickles,omitempty"`
}

func Load(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	var p Payload
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	if p.Cfg.Target == "" {
		return nil, fmt.Errorf("%s: cfg._target_: %w", path, ErrMissingKey)
	}
	for name, sd := range p.StateDicts {
		for key, t := range sd {
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("%s: state_dicts.%s.%s: %w", path, name, key, err)
			}
		}
	}
	return &p, nil
}

// Save writes the payload atomically.
func Save(path string, p *Payload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// StateLoader is a module that accepts a state dict.
type StateLoader interface {
	LoadStateDict(sd StateDict) error
}

// ApplyPayload loads every state dict not in exclude into the module of the
// same name, then decodes the pickles named in include into their targets. A
// nil include selects every pickle in the payload.
func ApplyPayload(p *Payload, exclude, include []string, modules map[string]StateLoader, pickles map[string]any) error {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}

	names := make([]string, 0, len(p.StateDicts))
	for k := range p.StateDicts {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if skip[name] {
			continue
		}
		mod, ok := modules[name]
		if !ok {
			return fmt.Errorf("workspace has no module %q: %w", name, ErrMissingKey)
		}
		if err := mod.LoadStateDict(p.StateDicts[name]); err != nil {
			return fmt.Errorf("failed to load state dict %s: %w", name, err)
		}
	}

	if include == nil {
		for k := range p.Pickles {
			include = append(include, k)
		}
		sort.Strings(include)
	}
	for _, k := range include {
		raw, ok := p.Pickles[k]
		if !ok {
			continue
		}
		dst, ok := pickles[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("failed to decode pickle %s: %w", k, err)
		}
	}
	return nil
}
