package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultSeedMin = 1_000
	DefaultSeedMax = 10_000_000

	checkpointTemplate = "data/experiments/image/%s_ph/diffusion_policy_cnn/train_0/checkpoints/latest.ckpt"
)

type EvaluationConfig struct {
	Task           string `yaml:"task" mapstructure:"task"`
	Modified       bool   `yaml:"modified" mapstructure:"modified"`
	TotalRollouts  int    `yaml:"total_rollouts" mapstructure:"total_rollouts"`
	RolloutsPerSim int    `yaml:"rollouts_per_sim" mapstructure:"rollouts_per_sim"`
	SeedMin        int64  `yaml:"seed_min" mapstructure:"seed_min"`
	SeedMax        int64  `yaml:"seed_max" mapstructure:"seed_max"`
	// SamplerSeed fixes the rollout seed sample; 0 samples from the clock.
	SamplerSeed   int64  `yaml:"sampler_seed" mapstructure:"sampler_seed"`
	ResultsDir    string `yaml:"results_dir" mapstructure:"results_dir"`
	Checkpoint    string `yaml:"checkpoint" mapstructure:"checkpoint"`
	TaskConfigDir string `yaml:"task_config_dir" mapstructure:"task_config_dir"`
	FPS           int    `yaml:"fps" mapstructure:"fps"`
	HardReset     bool   `yaml:"hard_reset" mapstructure:"hard_reset"`
	// RecordVideo records every rollout of every chunk.
	RecordVideo bool `yaml:"record_video" mapstructure:"record_video"`

	Randomization RandomizationConfig `yaml:"randomization" mapstructure:"randomization"`
	Logging       LogConfig           `yaml:"logging" mapstructure:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" mapstructure:"metrics"`
}

type RandomizationConfig struct {
	OnReset     bool `yaml:"on_reset" mapstructure:"on_reset"`
	EveryNSteps int  `yaml:"every_n_steps" mapstructure:"every_n_steps"`
	Color       bool `yaml:"color" mapstructure:"color"`
	Camera      bool `yaml:"camera" mapstructure:"camera"`
	Lighting    bool `yaml:"lighting" mapstructure:"lighting"`
	Dynamics    bool `yaml:"dynamics" mapstructure:"dynamics"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr" mapstructure:"addr"`
}

var defaults = map[string]any{
	"task":                        "can",
	"modified":                    true,
	"total_rollouts":              1000,
	"rollouts_per_sim":            10,
	"seed_min":                    DefaultSeedMin,
	"seed_max":                    DefaultSeedMax,
	"sampler_seed":                0,
	"results_dir":                 "results",
	"checkpoint":                  "",
	"task_config_dir":             "configs/task",
	"fps":                         10,
	"hard_reset":                  false,
	"record_video":                true,
	"randomization.on_reset":      true,
	"randomization.every_n_steps": 0,
	"randomization.color":         true,
	"randomization.camera":        false,
	"randomization.lighting":      false,
	"randomization.dynamics":      false,
	"logging.level":               "info",
	"logging.format":              "text",
	"metrics.addr":                "",
}

// SetDefaults registers every key so env vars and flags bound to v resolve.
func SetDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load reads the optional YAML file at path and SIMEVAL_ env vars into v and
// decodes the result.
func Load(v *viper.Viper, path string) (*EvaluationConfig, error) {
	SetDefaults(v)
	v.SetEnvPrefix("SIMEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg EvaluationConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadConfig(path string) (*EvaluationConfig, error) {
	return Load(viper.New(), path)
}

func (c *EvaluationConfig) Validate() error {
	var errs []error
	if c.Task == "" {
		errs = append(errs, errors.New("task is required"))
	}
	if c.TotalRollouts <= 0 {
		errs = append(errs, fmt.Errorf("total_rollouts must be positive, got %d", c.TotalRollouts))
	}
	if c.RolloutsPerSim <= 0 {
		errs = append(errs, fmt.Errorf("rollouts_per_sim must be positive, got %d", c.RolloutsPerSim))
	}
	if c.SeedMin >= c.SeedMax {
		errs = append(errs, fmt.Errorf("seed range [%d, %d) is empty", c.SeedMin, c.SeedMax))
	} else if int64(c.TotalRollouts) > c.SeedMax-c.SeedMin {
		errs = append(errs, fmt.Errorf("cannot draw %d distinct seeds from [%d, %d)", c.TotalRollouts, c.SeedMin, c.SeedMax))
	}
	if c.Randomization.EveryNSteps < 0 {
		errs = append(errs, fmt.Errorf("randomization.every_n_steps must be >= 0, got %d", c.Randomization.EveryNSteps))
	}
	if c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", c.FPS))
	}
	return errors.Join(errs...)
}

// CheckpointPath returns the configured checkpoint or the pretrained layout
// path for the task.
func (c *EvaluationConfig) CheckpointPath() string {
	if c.Checkpoint != "" {
		return c.Checkpoint
	}
	return filepath.FromSlash(fmt.Sprintf(checkpointTemplate, c.Task))
}
