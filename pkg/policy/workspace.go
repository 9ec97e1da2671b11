package policy

import (
	"context"
	"fmt"

	"github.com/boristopalov/simeval/pkg/checkpoint"
	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/providers"
)

const (
	LinearWorkspaceTarget        = "simeval.workspace.LinearPolicyWorkspace"
	LanguageModelWorkspaceTarget = "simeval.workspace.LanguageModelWorkspace"
)

// CompleterFactory opens a completion client for a provider name.
type CompleterFactory func(ctx context.Context, provider string) (providers.Completer, error)

// NewRegistry returns a registry with every workspace this package provides.
func NewRegistry(ctx context.Context, newCompleter CompleterFactory, opts ...Option) *checkpoint.Registry {
	reg := checkpoint.NewRegistry()
	reg.Register(LinearWorkspaceTarget, func(cfg checkpoint.Config, outputDir string) (checkpoint.Workspace, error) {
		return NewLinearWorkspace(cfg, outputDir, opts...)
	})
	reg.Register(LanguageModelWorkspaceTarget, func(cfg checkpoint.Config, outputDir string) (checkpoint.Workspace, error) {
		if newCompleter == nil {
			return nil, fmt.Errorf("no completion client configured for %s", cfg.Target)
		}
		client, err := newCompleter(ctx, cfg.Policy.Provider)
		if err != nil {
			return nil, err
		}
		return NewLanguageModelWorkspace(cfg, outputDir, client, opts...)
	})
	return reg
}

type LinearWorkspace struct {
	cfg        checkpoint.Config
	outputDir  string
	model      *LinearPolicy
	emaModel   *LinearPolicy
	GlobalStep int
	Epoch      int
}

func NewLinearWorkspace(cfg checkpoint.Config, outputDir string, opts ...Option) (*LinearWorkspace, error) {
	meta := cfg.Task.ShapeMeta
	opts = append(append([]Option(nil), opts...), WithActionBounds(cfg.Policy.ActionLow, cfg.Policy.ActionHigh))
	model, err := NewLinearPolicy(meta, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	ema, err := NewLinearPolicy(meta, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build ema model: %w", err)
	}
	return &LinearWorkspace{cfg: cfg, outputDir: outputDir, model: model, emaModel: ema}, nil
}

func (w *LinearWorkspace) LoadPayload(p *checkpoint.Payload, exclude, include []string) error {
	return checkpoint.ApplyPayload(p, exclude, include,
		map[string]checkpoint.StateLoader{"model": w.model, "ema_model": w.emaModel},
		map[string]any{"global_step": &w.GlobalStep, "epoch": &w.Epoch})
}

// Model returns the EMA weights when the run trained with them.
func (w *LinearWorkspace) Model() (core.Policy, error) {
	name, m := "model", w.model
	if w.cfg.Training.UseEMA {
		name, m = "ema_model", w.emaModel
	}
	if !m.Loaded() {
		return nil, fmt.Errorf("%s was never loaded: %w", name, checkpoint.ErrMissingKey)
	}
	return m, nil
}

// Payload snapshots the workspace into a checkpoint payload.
func (w *LinearWorkspace) Payload() *checkpoint.Payload {
	return &checkpoint.Payload{
		Cfg: w.cfg,
		StateDicts: map[string]checkpoint.StateDict{
			"model":     w.model.StateDict(),
			"ema_model": w.emaModel.StateDict(),
		},
	}
}

type LanguageModelWorkspace struct {
	cfg        checkpoint.Config
	outputDir  string
	policy     *LanguageModelPolicy
	GlobalStep int
}

func NewLanguageModelWorkspace(cfg checkpoint.Config, outputDir string, client providers.Completer, opts ...Option) (*LanguageModelWorkspace, error) {
	opts = append(append([]Option(nil), opts...), WithActionBounds(cfg.Policy.ActionLow, cfg.Policy.ActionHigh))
	if cfg.Policy.Model != "" {
		opts = append(opts, WithModel(cfg.Policy.Model))
	}
	if cfg.Policy.HistorySize > 0 {
		opts = append(opts, WithHistorySize(cfg.Policy.HistorySize))
	}
	p, err := NewLanguageModelPolicy(client, cfg.Task.ShapeMeta, opts...)
	if err != nil {
		return nil, err
	}
	return &LanguageModelWorkspace{cfg: cfg, outputDir: outputDir, policy: p}, nil
}

func (w *LanguageModelWorkspace) LoadPayload(p *checkpoint.Payload, exclude, include []string) error {
	return checkpoint.ApplyPayload(p, exclude, include, nil, map[string]any{"global_step": &w.GlobalStep})
}

func (w *LanguageModelWorkspace) Model() (core.Policy, error) {
	return w.policy, nil
}
