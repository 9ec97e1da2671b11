// Package providers wraps hosted language-model APIs behind a single
// completion interface used by the language-model policy.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/boristopalov/simeval/internal/logging"
	"github.com/sirupsen/logrus"
)

const (
	OpenAI = "openai"
	Gemini = "gemini"
)

// Completer turns a prompt into a single text completion
type Completer interface {
	Complete(ctx context.Context, model string, prompt string) (string, error)
}

type ProviderParams struct {
	BaseURL string
	APIKey  string
	Logger  logrus.FieldLogger
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

func WithLogger(log logrus.FieldLogger) ProviderOption {
	return func(p *ProviderParams) {
		p.Logger = log
	}
}

func defaultProviderParams() *ProviderParams {
	return &ProviderParams{Logger: logging.Discard()}
}

// New returns the Completer for a provider name ("openai" or "gemini").
func New(ctx context.Context, provider string, opts ...ProviderOption) (Completer, error) {
	switch strings.ToLower(provider) {
	case OpenAI, "":
		return NewOpenAI(ctx, opts...), nil
	case Gemini:
		return NewGemini(ctx, opts...)
	}
	return nil, fmt.Errorf("unknown provider %q", provider)
}
