// Package classify calls the AI classification service and turns its output
// into a validated decision about whether a message is actionable.
package classify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogleAI  Provider = "googleai"
	ProviderOllama    Provider = "ollama"
)

// ModelOptions contains options for constructing a model
type ModelOptions struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
}

// NewModel creates a langchain model for the configured provider.
func NewModel(ctx context.Context, options ModelOptions) (llms.Model, error) {
	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("creating classification model")

	var model llms.Model
	var err error

	switch options.Provider {
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, anthropic.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(options.BaseURL))
		}
		model, err = anthropic.New(opts...)
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, openai.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGoogleAI:
		opts := []googleai.Option{googleai.WithAPIKey(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(options.Model))
		}
		model, err = googleai.New(ctx, opts...)
	case ProviderOllama:
		opts := []ollama.Option{}
		if options.Model != "" {
			opts = append(opts, ollama.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(options.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}
	return model, nil
}

// Caller abstracts the single LLM operation the gateway needs; satisfied by
// langchaingoCaller in production and by fakes in tests.
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// NewCaller wraps a langchain model as a Caller.
func NewCaller(model llms.Model, maxTokens int) Caller {
	return &langchaingoCaller{model: model, maxTokens: maxTokens}
}

type langchaingoCaller struct {
	model     llms.Model
	maxTokens int
}

func (c *langchaingoCaller) Call(ctx context.Context, prompt string) (string, error) {
	opts := []llms.CallOption{}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	return llms.GenerateFromSinglePrompt(ctx, c.model, prompt, opts...)
}
