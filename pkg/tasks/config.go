package tasks

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed configs/*.yaml
var embedded embed.FS

const (
	ObsTypeRGB    = "rgb"
	ObsTypeLowDim = "low_dim"
)

type ObsMeta struct {
	Shape []int  `yaml:"shape" json:"shape"`
	Type  string `yaml:"type" json:"type"`
}

type ActionMeta struct {
	Shape []int `yaml:"shape" json:"shape"`
}

type ShapeMeta struct {
	Obs    map[string]ObsMeta `yaml:"obs" json:"obs"`
	Action ActionMeta         `yaml:"action" json:"action"`
}

// Config is the per-task configuration file, keyed by task name on disk as
// <task>_image_abs.yaml.
type Config struct {
	Name      string    `yaml:"name"`
	ShapeMeta ShapeMeta `yaml:"shape_meta"`
}

func configFile(kind Kind) string {
	return string(kind) + "_image_abs.yaml"
}

// LoadConfig reads the task config from dir. An empty dir, or a dir without the
// file, falls back to the built-in config.
func LoadConfig(dir string, kind Kind) (*Config, error) {
	if _, ok := table[kind]; !ok {
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownTaskKind)
	}

	var data []byte
	var err error
	if dir != "" {
		data, err = os.ReadFile(filepath.Join(dir, configFile(kind)))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read task config: %w", err)
		}
	}
	if data == nil {
		data, err = embedded.ReadFile("configs/" + configFile(kind))
		if err != nil {
			return nil, fmt.Errorf("no task config for %s: %w", kind, err)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse task config for %s: %w", kind, err)
	}
	if err := cfg.ShapeMeta.Validate(); err != nil {
		return nil, fmt.Errorf("task config for %s: %w", kind, err)
	}
	return &cfg, nil
}

// Validate checks that every rgb key is shaped [C, H, W] and the action has a
// single dimension.
func (m ShapeMeta) Validate() error {
	for key, meta := range m.Obs {
		if meta.Type == ObsTypeRGB && len(meta.Shape) != 3 {
			return fmt.Errorf("rgb obs %s has shape %v, want [C, H, W]", key, meta.Shape)
		}
		if len(meta.Shape) == 0 {
			return fmt.Errorf("obs %s has no shape", key)
		}
	}
	if len(m.Action.Shape) != 1 || m.Action.Shape[0] <= 0 {
		return fmt.Errorf("action shape %v must be one positive dimension", m.Action.Shape)
	}
	return nil
}

// RGBKeys returns the image observation keys, sorted.
func (m ShapeMeta) RGBKeys() []string {
	keys := make([]string, 0)
	for k, v := range m.Obs {
		if v.Type == ObsTypeRGB {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// LowDimKeys returns the non-image observation keys, sorted.
func (m ShapeMeta) LowDimKeys() []string {
	keys := make([]string, 0)
	for k, v := range m.Obs {
		if v.Type != ObsTypeRGB {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ImageSize returns width and height of an rgb key.
func (m ShapeMeta) ImageSize(key string) (int, int, bool) {
	meta, ok := m.Obs[key]
	if !ok || meta.Type != ObsTypeRGB || len(meta.Shape) != 3 {
		return 0, 0, false
	}
	return meta.Shape[2], meta.Shape[1], true
}

// LowDimSize is the total length of the low-dim observation vector.
func (m ShapeMeta) LowDimSize() int {
	n := 0
	for _, k := range m.LowDimKeys() {
		size := 1
		for _, d := range m.Obs[k].Shape {
			size *= d
		}
		n += size
	}
	return n
}

// ActionDim returns the action vector length.
func (m ShapeMeta) ActionDim() int {
	return m.Action.Shape[0]
}
