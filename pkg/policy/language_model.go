package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/boristopalov/simeval/pkg/core"
	"github.com/boristopalov/simeval/pkg/memory"
	"github.com/boristopalov/simeval/pkg/providers"
	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const actionPrefix = "ACTION:"

// LanguageModelPolicy asks a hosted model for each action. Every env in the
// batch keeps its own bounded step history.
type LanguageModelPolicy struct {
	client      providers.Completer
	model       string
	meta        tasks.ShapeMeta
	historySize int
	low         []float64
	high        []float64
	log         logrus.FieldLogger

	mu       sync.Mutex
	memories []*memory.Memory
	steps    []int
	training bool
}

func NewLanguageModelPolicy(client providers.Completer, meta tasks.ShapeMeta, opts ...Option) (*LanguageModelPolicy, error) {
	if client == nil {
		return nil, fmt.Errorf("language model policy needs a client")
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	params := defaultParams()
	for _, opt := range opts {
		opt(params)
	}
	if params.HistorySize <= 0 {
		return nil, fmt.Errorf("history size must be positive, got %d", params.HistorySize)
	}
	if err := checkBounds(meta.ActionDim(), params.Low, params.High); err != nil {
		return nil, err
	}
	return &LanguageModelPolicy{
		client:      client,
		model:       params.Model,
		meta:        meta,
		historySize: params.HistorySize,
		low:         params.Low,
		high:        params.High,
		log:         params.Logger,
		training:    true,
	}, nil
}

// PredictAction queries the model for every observation concurrently.
func (p *LanguageModelPolicy) PredictAction(ctx context.Context, obs []core.Observation) ([]core.Action, error) {
	p.mu.Lock()
	for len(p.memories) < len(obs) {
		p.memories = append(p.memories, memory.NewMemory(p.historySize))
		p.steps = append(p.steps, 0)
	}
	mems := p.memories[:len(obs)]
	p.mu.Unlock()

	actions := make([]core.Action, len(obs))
	g, ctx := errgroup.WithContext(ctx)
	for i := range obs {
		i := i
		g.Go(func() error {
			prompt, err := p.prompt(obs[i], mems[i].GetAllMessages())
			if err != nil {
				return err
			}
			resp, err := p.client.Complete(ctx, p.model, prompt)
			if err != nil {
				return fmt.Errorf("env %d: completion failed: %w", i, err)
			}
			act, err := ParseAction(resp, p.meta.ActionDim())
			if err != nil {
				return fmt.Errorf("env %d: %w", i, err)
			}
			actions[i] = clipAction(act, p.low, p.high)

			p.mu.Lock()
			step := p.steps[i]
			p.steps[i]++
			p.mu.Unlock()
			return mems[i].Store(fmt.Sprintf("step %d: %s -> %s", step, describe(p.meta, obs[i]), formatAction(actions[i])))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.log.WithField("batch", len(obs)).Debug("Language model actions predicted")
	return actions, nil
}

func (p *LanguageModelPolicy) prompt(obs core.Observation, history []string) (string, error) {
	for _, key := range p.meta.LowDimKeys() {
		if _, ok := obs.LowDim[key]; !ok {
			return "", fmt.Errorf("observation is missing %s", key)
		}
	}
	var sb strings.Builder
	sb.WriteString("You control a robot arm in a tabletop manipulation task. ")
	sb.WriteString("Actions are absolute end effector targets x, y, z in meters followed by a gripper command in [-1, 1] (1 closes).\n\n")
	if len(history) > 0 {
		sb.WriteString("Recent steps:\n")
		for _, h := range history {
			sb.WriteString(h)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("Current observation: ")
	sb.WriteString(describe(p.meta, obs))
	fmt.Fprintf(&sb, "\n\nReply with a single line of the form %s followed by %d comma separated numbers.", actionPrefix, p.meta.ActionDim())
	return sb.String(), nil
}

// ParseAction reads the last "ACTION:" line of a completion.
func ParseAction(text string, dim int) (core.Action, error) {
	idx := strings.LastIndex(text, actionPrefix)
	if idx < 0 {
		return nil, fmt.Errorf("%w: no %s in %q", ErrActionParse, actionPrefix, text)
	}
	line := text[idx+len(actionPrefix):]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	line = strings.Trim(strings.TrimSpace(line), "[]")

	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != dim {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrActionParse, len(fields), dim)
	}
	act := make(core.Action, dim)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrActionParse, err)
		}
		act[i] = v
	}
	return act, nil
}

func describe(meta tasks.ShapeMeta, obs core.Observation) string {
	parts := make([]string, 0, len(meta.LowDimKeys()))
	for _, key := range meta.LowDimKeys() {
		parts = append(parts, key+"="+formatAction(obs.LowDim[key]))
	}
	return strings.Join(parts, " ")
}

func formatAction(v []float64) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = strconv.FormatFloat(x, 'f', 3, 64)
	}
	return "[" + strings.Join(s, ", ") + "]"
}

// Reset clears every env's history.
func (p *LanguageModelPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, m := range p.memories {
		m.Clear()
		p.steps[i] = 0
	}
}

func (p *LanguageModelPolicy) Eval() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.training = false
}

func (p *LanguageModelPolicy) Training() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.training
}
