package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1/"

type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAI builds a client from options, falling back to OPENAI_API_BASE_URL
// and OPENAI_API_KEY. Requests are never retried.
func NewOpenAI(ctx context.Context, opts ...ProviderOption) *OpenAIClient {
	params := defaultProviderParams()
	for _, opt := range opts {
		opt(params)
	}

	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
		if params.BaseURL == "" {
			params.BaseURL = defaultOpenAIBaseURL
		}
	}
	if params.APIKey == "" {
		params.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(params.BaseURL),
		option.WithMaxRetries(0),
	}
	if params.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(params.APIKey))
	}
	params.Logger.WithField("base_url", params.BaseURL).Debug("Using OpenAI base URL")
	return &OpenAIClient{
		client: openai.NewClient(reqOpts...),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, model string, prompt string) (string, error) {
	chatCompletion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		}),
		Model: openai.F(model),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion with %s: %w", model, err)
	}
	if len(chatCompletion.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return chatCompletion.Choices[0].Message.Content, nil
}
