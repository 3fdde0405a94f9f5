package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pawsistant/internal/config"
)

var (
	ErrMissingCredential = errors.New("missing api key")
	ErrEmptyResponse     = errors.New("model returned no choices")
)

// NewModel builds the chat model for provider. The names "claude" and "gpt" are
// accepted as aliases.
func NewModel(provider string, llmConfig *config.LLMConfig) (llms.Model, error) {
	provider = config.NormalizeProvider(provider)
	log.Debug().Str("provider", provider).Str("model", llmConfig.Model).Msg("Initializing llm")

	key := strings.TrimPrefix(llmConfig.Key, "Bearer ")
	switch provider {
	case config.ProviderAnthropic:
		if key == "" {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrMissingCredential)
		}
		opts := []anthropic.Option{anthropic.WithToken(key), anthropic.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(llmConfig.BaseURL))
		}
		return anthropic.New(opts...)
	case config.ProviderOpenAI:
		if key == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingCredential)
		}
		opts := []openai.Option{openai.WithToken(key), openai.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		return openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}

// GenerateContent calls the model and returns the text of the first choice.
func GenerateContent(ctx context.Context, model llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
