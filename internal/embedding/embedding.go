package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	hfembed "github.com/tmc/langchaingo/embeddings/huggingface"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pawsistant/internal/config"
)

// NewEmbedder builds the embedding model described by cfg. The resolved device is
// passed in explicitly so that two builders in one process never share it.
func NewEmbedder(cfg *config.EmbeddingConfig, device Device) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]any{
		"provider":   cfg.Provider,
		"model":      cfg.Model,
		"base_url":   cfg.BaseURL,
		"batch_size": cfg.BatchSize,
		"device":     device,
	}).Msg("Initializing embedder")

	switch cfg.Provider {
	case config.ProviderHash:
		return NewHashEmbedder(cfg.Dimension), nil
	case config.ProviderOllama:
		return newOllamaEmbedder(cfg, device)
	case config.ProviderOpenAI:
		return newOpenAIEmbedder(cfg)
	case config.ProviderHuggingFace:
		return newHuggingFaceEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func newOllamaEmbedder(cfg *config.EmbeddingConfig, device Device) (embeddings.Embedder, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	// without an accelerator keep every layer on the CPU
	if device == DeviceCPU {
		opts = append(opts, ollama.WithRunnerNumGPU(0))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.BatchSize))
}

func newOpenAIEmbedder(cfg *config.EmbeddingConfig) (embeddings.Embedder, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai: %w", err)
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.BatchSize))
}

func newHuggingFaceEmbedder(cfg *config.EmbeddingConfig) (embeddings.Embedder, error) {
	opts := []huggingface.Option{huggingface.WithModel(cfg.Model)}
	if cfg.Key != "" {
		opts = append(opts, huggingface.WithToken(cfg.Key))
	}
	client, err := huggingface.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize huggingface: %w", err)
	}
	return hfembed.NewHuggingface(
		hfembed.WithClient(*client),
		hfembed.WithModel(cfg.Model),
		hfembed.WithBatchSize(cfg.BatchSize),
	)
}

// EmbedBatches embeds texts batchSize at a time and logs progress after each batch.
func EmbedBatches(ctx context.Context, embedder embeddings.Embedder, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
		log.Info().Int("done", end).Int("total", len(texts)).Msg("Embedding documents")
	}
	return vectors, nil
}
