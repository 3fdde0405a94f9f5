package rag

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"pawsistant/internal/config"
	"pawsistant/internal/embedding"
	"pawsistant/internal/index"
	"pawsistant/internal/llmservice"
	"pawsistant/internal/models"
)

// LoadSystemPrompt reads the prompt override at path, or returns the built-in
// prompt when path is empty.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return models.DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return models.DefaultSystemPrompt, nil
	}
	return prompt, nil
}

// NewChatEngine configures a session over retriever from cfg.Chat and cfg.LLM.
func NewChatEngine(cfg *config.Config, retriever Retriever, model llms.Model, modelName string, opts ...Option) (*Engine, error) {
	prompt, err := LoadSystemPrompt(cfg.Chat.SystemPromptFile)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithSystemPrompt(prompt),
		WithTopK(cfg.Chat.TopK),
		WithTemperature(cfg.LLM.Temperature),
		WithAllowedDomains(cfg.Chat.AllowedLinkDomains...),
		WithMemory(NewMemory(cfg.Chat.TokenLimit, ModelTokenCounter(modelName))),
	}
	return NewEngine(retriever, model, append(base, opts...)...), nil
}

// LoadIndex resolves the embedding device, builds the embedder and loads the
// index at path with settings taken from cfg.
func LoadIndex(ctx context.Context, cfg *config.Config, path string) (*index.Index, error) {
	device, err := embedding.ResolveDevice(cfg.Embedding.Device)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewEmbedder(&cfg.Embedding, device)
	if err != nil {
		return nil, err
	}
	return index.Load(ctx, index.SettingsFromConfig(cfg, embedder), path)
}

// CreateChatEngine loads the index at indexPath and returns a ready session
// driven by the active LLM. Closing the engine closes the index.
func CreateChatEngine(ctx context.Context, cfg *config.Config, indexPath string) (*Engine, error) {
	idx, err := LoadIndex(ctx, cfg, indexPath)
	if err != nil {
		return nil, err
	}
	llmConfig, err := cfg.LLM.Provider(cfg.LLM.Active)
	if err != nil {
		idx.Close()
		return nil, err
	}
	model, err := llmservice.NewModel(cfg.LLM.Active, &llmConfig)
	if err != nil {
		idx.Close()
		return nil, err
	}
	engine, err := NewChatEngine(cfg, idx, model, llmConfig.Model, WithCloser(idx))
	if err != nil {
		idx.Close()
		return nil, err
	}
	return engine, nil
}
