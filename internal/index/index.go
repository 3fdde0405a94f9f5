// Package index builds, persists and reloads the retrieval index over chunks.
//
// All model and store configuration travels in a Settings value handed to Build
// and Load, so independent builds in one process never share state.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tmc/langchaingo/embeddings"

	"pawsistant/internal/chromemdb"
	"pawsistant/internal/config"
	"pawsistant/internal/models"
)

var (
	ErrNoChunks          = errors.New("no chunks to index")
	ErrNotFound          = errors.New("index not found")
	ErrNotIndex          = errors.New("not an index directory")
	ErrEmbeddingMismatch = errors.New("index was built with a different embedding model")
	ErrIncomplete        = errors.New("index is incomplete")
	ErrUnsupported       = errors.New("operation not supported by index backend")
)

// Store is the persistence backend behind an Index.
type Store interface {
	Add(ctx context.Context, docs []models.Document) error
	Query(ctx context.Context, embedding []float32, k int) ([]models.Match, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Settings is the explicit per-call configuration of a build or load.
type Settings struct {
	Embedder          embeddings.Embedder
	EmbeddingProvider string
	EmbeddingModel    string
	BatchSize         int

	Backend       string
	Collection    string
	Compress      bool
	EncryptionKey string
	Database      *config.DatabaseConfig
}

// SettingsFromConfig derives Settings from the single configuration source.
func SettingsFromConfig(cfg *config.Config, embedder embeddings.Embedder) Settings {
	model := cfg.Embedding.Model
	if cfg.Embedding.Provider == config.ProviderHash && model == "" {
		model = fmt.Sprintf("hash-%d", cfg.Embedding.Dimension)
	}
	return Settings{
		Embedder:          embedder,
		EmbeddingProvider: cfg.Embedding.Provider,
		EmbeddingModel:    model,
		BatchSize:         cfg.Embedding.BatchSize,
		Backend:           cfg.Index.Backend,
		Collection:        cfg.Index.Collection,
		Compress:          cfg.Index.Compress,
		EncryptionKey:     cfg.Index.EncryptionKey,
		Database:          &cfg.Database,
	}
}

// Exists reports whether path is a non-empty directory. The contents are not
// inspected; Load is where a directory of unrelated files fails.
func Exists(path string) bool {
	path = filepath.Clean(path)
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	names, _ := f.Readdirnames(1)
	return len(names) > 0
}

// Index is a loaded, queryable retrieval index.
type Index struct {
	path     string
	manifest Manifest
	store    Store
	embedder embeddings.Embedder
}

func (i *Index) Path() string { return i.path }

func (i *Index) Manifest() Manifest { return i.manifest }

func (i *Index) Count(ctx context.Context) (int, error) { return i.store.Count(ctx) }

// Query embeds text and returns the k most similar chunks, best first.
func (i *Index) Query(ctx context.Context, text string, k int) ([]models.Match, error) {
	vec, err := i.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return i.store.Query(ctx, vec, k)
}

// Export writes an encrypted snapshot of a chromem-backed index to filePath.
func (i *Index) Export(ctx context.Context, filePath string) error {
	m, ok := i.store.(*chromemdb.VectorDBManager)
	if !ok {
		return fmt.Errorf("%w: export on %s", ErrUnsupported, i.manifest.Backend)
	}
	return m.Export(ctx, filePath)
}

// ExportPath is the default snapshot file in dir for a chromem-backed index.
func (i *Index) ExportPath(dir string) (string, error) {
	m, ok := i.store.(*chromemdb.VectorDBManager)
	if !ok {
		return "", fmt.Errorf("%w: export on %s", ErrUnsupported, i.manifest.Backend)
	}
	return m.ExportPath(dir), nil
}

func (i *Index) Close() error { return i.store.Close() }
