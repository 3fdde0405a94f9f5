package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"pawsistant/internal/chromemdb"
	"pawsistant/internal/config"
	"pawsistant/internal/db"
	"pawsistant/internal/embedding"
	"pawsistant/internal/helper"
	"pawsistant/internal/models"
)

// ToDocuments gives every chunk a stable id of source plus its ordinal within
// that source, so identical text in two places stays two documents.
func ToDocuments(chunks []models.Chunk) []models.Document {
	seen := make(map[string]int)
	docs := make([]models.Document, len(chunks))
	for i, c := range chunks {
		n := seen[c.Source]
		seen[c.Source] = n + 1
		docs[i] = models.Document{
			ID:      c.Source + "#" + strconv.Itoa(n),
			Content: c.Text,
			Metadata: map[string]string{
				models.MetaSource:  c.Source,
				models.MetaChunkID: strconv.Itoa(n),
			},
		}
	}
	return docs
}

// Build embeds every chunk, persists the index at path and returns it loaded.
// The index is written to a staging directory next to path and only moved into
// place once complete, so a failed build leaves any previous index untouched.
func Build(ctx context.Context, s Settings, chunks []models.Chunk, path string) (*Index, error) {
	path = filepath.Clean(path)
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	if s.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	start := time.Now()

	docs := ToDocuments(chunks)
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := embedding.EmbedBatches(ctx, s.Embedder, texts, s.BatchSize)
	if err != nil {
		return nil, err
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
		docs[i].Embedding = v
	}

	staging, err := newStaging(path)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	m := Manifest{
		Backend:           backendOrDefault(s.Backend),
		Collection:        collectionOrDefault(s.Collection),
		Compress:          s.Compress,
		EmbeddingProvider: s.EmbeddingProvider,
		EmbeddingModel:    s.EmbeddingModel,
		Dimension:         dim,
		Documents:         len(docs),
		Sources:           countSources(chunks),
		BuiltAt:           time.Now().UTC(),
	}

	// for postgres the rows are loaded into a throwaway table and renamed once
	// the directory swap has succeeded
	var pg *db.Store
	switch m.Backend {
	case config.BackendChromem:
		err = writeChromem(ctx, filepath.Join(staging, VectorsDir), m, docs)
	case config.BackendPostgres:
		m.Table = TableName(path)
		pg, err = writePostgres(ctx, s.Database, dim, docs)
		if pg != nil {
			defer pg.Close()
		}
	default:
		err = fmt.Errorf("unsupported index backend: %s", m.Backend)
	}
	if err != nil {
		if pg != nil {
			_ = pg.Drop(context.WithoutCancel(ctx))
		}
		return nil, err
	}

	if err := WriteManifest(staging, m); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	if pg != nil {
		if err := pg.Replace(ctx, m.Table); err != nil {
			_ = pg.Drop(context.WithoutCancel(ctx))
			return nil, err
		}
	}
	if err := swapInto(staging, path); err != nil {
		return nil, fmt.Errorf("failed to move index into place: %w", err)
	}

	log.Info().
		Str("path", path).
		Str("backend", m.Backend).
		Int("documents", m.Documents).
		Int("sources", m.Sources).
		Dur("took", time.Since(start)).
		Msg("Index built")
	return Load(ctx, s, path)
}

func writeChromem(ctx context.Context, dir string, m Manifest, docs []models.Document) error {
	mgr, err := chromemdb.NewVectorDBManager(dir, false, m.Compress, "", nil)
	if err != nil {
		return err
	}
	if _, err := mgr.GetOrCreateCollection(m.Collection); err != nil {
		return err
	}
	return mgr.Add(ctx, docs)
}

func writePostgres(ctx context.Context, cfg *config.DatabaseConfig, dim int, docs []models.Document) (*db.Store, error) {
	if cfg == nil {
		return nil, errors.New("database config is required for the postgres backend")
	}
	sqldb, err := db.ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	store := db.NewStore(db.NewDB(sqldb, cfg.Debug), "rag_tmp_"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := store.Init(ctx, dim); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.Add(ctx, docs); err != nil {
		return store, err
	}
	return store, nil
}

// swapInto replaces path with staging. An existing index is moved aside first
// and restored if the final rename fails.
func swapInto(staging, path string) error {
	var backup string
	if _, err := os.Lstat(path); err == nil {
		backup = siblingName(path, "old")
		if err := os.Rename(path, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(staging, path); err != nil {
		if backup != "" {
			_ = os.Rename(backup, path)
		}
		return err
	}
	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			log.Warn().Err(err).Str("path", backup).Msg("Failed to remove previous index")
		}
	}
	return nil
}

// newStaging creates an empty directory next to path to build into.
func newStaging(path string) (string, error) {
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return "", err
	}
	staging := siblingName(path, "tmp")
	if err := os.Mkdir(staging, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}
	return staging, nil
}

// TableName is the postgres table for the index at path. The name carries a
// digest of the absolute path so indexes with the same base name never share a
// table.
func TableName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	digest := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String(), "-", "")[:12]
	return db.TableName(digest + "_" + filepath.Base(abs))
}

func siblingName(path, kind string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+kind+"-"+uuid.NewString())
}

func countSources(chunks []models.Chunk) int {
	sources := make(map[string]struct{})
	for _, c := range chunks {
		sources[c.Source] = struct{}{}
	}
	return len(sources)
}

func backendOrDefault(b string) string {
	if b == "" {
		return config.BackendChromem
	}
	return b
}

func collectionOrDefault(c string) string {
	if c == "" {
		return "ogs"
	}
	return c
}

func embedFunc(e embeddings.Embedder) chromem.EmbeddingFunc {
	if e == nil {
		return nil
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.EmbedQuery(ctx, text)
	}
}
