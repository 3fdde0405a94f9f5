package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pawsistant/internal/chromemdb"
	"pawsistant/internal/config"
)

// Import restores a snapshot written by Export into a chromem index at path,
// replacing any index already there. The snapshot must decrypt with the key in
// s and hold vectors of the dimension produced by s.Embedder.
func Import(ctx context.Context, s Settings, file, path string) (*Index, error) {
	path = filepath.Clean(path)
	if backendOrDefault(s.Backend) != config.BackendChromem {
		return nil, fmt.Errorf("%w: import on %s", ErrUnsupported, s.Backend)
	}
	if s.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if _, err := os.Stat(file); err != nil {
		return nil, err
	}

	staging, err := newStaging(path)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	m := Manifest{
		Backend:           config.BackendChromem,
		Collection:        collectionOrDefault(s.Collection),
		Compress:          s.Compress,
		EmbeddingProvider: s.EmbeddingProvider,
		EmbeddingModel:    s.EmbeddingModel,
		BuiltAt:           time.Now().UTC(),
	}
	mgr, err := chromemdb.NewVectorDBManager(filepath.Join(staging, VectorsDir), false, m.Compress, s.EncryptionKey, embedFunc(s.Embedder))
	if err != nil {
		return nil, err
	}
	if err := mgr.Import(ctx, file, m.Collection); err != nil {
		return nil, err
	}

	if m.Documents, err = mgr.Count(ctx); err != nil {
		return nil, err
	}
	if m.Documents == 0 {
		return nil, ErrNoChunks
	}
	queryVec, err := s.Embedder.EmbedQuery(ctx, m.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	m.Dimension = len(queryVec)
	all, err := mgr.Query(ctx, queryVec, m.Documents)
	if err != nil {
		if strings.Contains(err.Error(), "same length") {
			return nil, fmt.Errorf("%w: snapshot vectors do not match embedder dimension %d", ErrEmbeddingMismatch, m.Dimension)
		}
		return nil, err
	}
	sources := make(map[string]struct{})
	for _, match := range all {
		if len(match.Document.Embedding) != m.Dimension {
			return nil, fmt.Errorf("%w: snapshot vectors have dimension %d, embedder produces %d",
				ErrEmbeddingMismatch, len(match.Document.Embedding), m.Dimension)
		}
		sources[match.Document.Source()] = struct{}{}
	}
	m.Sources = len(sources)

	if err := WriteManifest(staging, m); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := swapInto(staging, path); err != nil {
		return nil, fmt.Errorf("failed to move index into place: %w", err)
	}
	log.Info().Str("file", file).Str("path", path).Int("documents", m.Documents).Msg("Index imported")
	return Load(ctx, s, path)
}
