package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"pawsistant/internal/chromemdb"
	"pawsistant/internal/config"
	"pawsistant/internal/db"
)

// Load opens the index previously built at path. The embedder in s must be the
// model the index was built with.
func Load(ctx context.Context, s Settings, path string) (*Index, error) {
	path = filepath.Clean(path)
	if !Exists(path) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if s.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	m, err := ReadManifest(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotIndex, path, ManifestFile)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotIndex, err)
	}
	if s.EmbeddingModel != "" && s.EmbeddingModel != m.EmbeddingModel {
		return nil, fmt.Errorf("%w: built with %q, loading with %q", ErrEmbeddingMismatch, m.EmbeddingModel, s.EmbeddingModel)
	}

	var store Store
	switch m.Backend {
	case config.BackendChromem:
		store, err = openChromem(filepath.Join(path, VectorsDir), m, s)
	case config.BackendPostgres:
		store, err = openPostgres(s.Database, m)
	default:
		err = fmt.Errorf("%w: unknown backend %q", ErrNotIndex, m.Backend)
	}
	if err != nil {
		return nil, err
	}

	n, err := store.Count(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	if n != m.Documents {
		store.Close()
		return nil, fmt.Errorf("%w: %d of %d documents present", ErrIncomplete, n, m.Documents)
	}

	log.Debug().Str("path", path).Str("backend", m.Backend).Int("documents", n).Msg("Index loaded")
	return &Index{path: path, manifest: m, store: store, embedder: s.Embedder}, nil
}

func openChromem(dir string, m Manifest, s Settings) (Store, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotIndex, err)
	}
	mgr, err := chromemdb.NewVectorDBManager(dir, false, m.Compress, s.EncryptionKey, embedFunc(s.Embedder))
	if err != nil {
		return nil, err
	}
	if _, err := mgr.GetCollection(m.Collection); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	return mgr, nil
}

func openPostgres(cfg *config.DatabaseConfig, m Manifest) (Store, error) {
	if cfg == nil {
		return nil, errors.New("database config is required for the postgres backend")
	}
	sqldb, err := db.ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	return db.NewStore(db.NewDB(sqldb, cfg.Debug), m.Table), nil
}
