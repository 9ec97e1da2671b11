package checkpoint

import (
	"fmt"
	"sort"
	"sync"

	"github.com/boristopalov/simeval/pkg/core"
)

// Workspace owns the modules a payload was saved from
type Workspace interface {
	// LoadPayload restores module state from p
	LoadPayload(p *Payload, exclude, include []string) error
	// Model returns the policy the workspace evaluates
	Model() (core.Policy, error)
}

// Constructor builds an empty workspace for cfg.
type Constructor func(cfg Config, outputDir string) (Workspace, error)

// Registry maps "_target_" names to workspace constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

func (r *Registry) Register(target string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[target] = ctor
}

func (r *Registry) GetClass(target string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[target]
	if !ok {
		return nil, fmt.Errorf("%q: %w", target, ErrUnknownTarget)
	}
	return ctor, nil
}

func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Restore rebuilds the workspace named by the payload, loads every module and
// returns its policy in evaluation mode.
func (r *Registry) Restore(p *Payload, outputDir string) (core.Policy, error) {
	ctor, err := r.GetClass(p.Cfg.Target)
	if err != nil {
		return nil, err
	}
	ws, err := ctor(p.Cfg, outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to build workspace %s: %w", p.Cfg.Target, err)
	}
	if err := ws.LoadPayload(p, nil, nil); err != nil {
		return nil, err
	}
	policy, err := ws.Model()
	if err != nil {
		return nil, err
	}
	policy.Eval()
	return policy, nil
}
