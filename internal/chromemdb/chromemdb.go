package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pawsistant/internal/models"
)

var ErrCollectionNotFound = errors.New("collection not found")

// VectorDBManager encapsulates the chromem-go database operations for one collection.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embed         chromem.EmbeddingFunc
	dbPath        string
	compress      bool
	encryptionKey string
}

// NewVectorDBManager opens (or creates) the database at dbPath. With inMemory the
// path is only used as the export location.
func NewVectorDBManager(dbPath string, inMemory, compress bool, encryptionKey string, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		embed:         embed,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
	}, nil
}

// GetOrCreateCollection creates the collection if needed and makes it current.
func (m *VectorDBManager) GetOrCreateCollection(name string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(name, nil, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// GetCollection makes an existing collection current.
func (m *VectorDBManager) GetCollection(name string) (*chromem.Collection, error) {
	c := m.db.GetCollection(name, m.embed)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	m.collection = c
	return c, nil
}

// CreateDocs adds documents with precomputed embeddings to the current collection.
func (m *VectorDBManager) CreateDocs(ctx context.Context, documents []chromem.Document) error {
	if m.collection == nil {
		return errors.New("collection is required")
	}
	if err := m.collection.AddDocuments(ctx, documents, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Add converts documents and stores them.
func (m *VectorDBManager) Add(ctx context.Context, docs []models.Document) error {
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		}
	}
	return m.CreateDocs(ctx, chromemDocs)
}

// SearchWithQueryOptions performs a similarity search on the current collection.
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}
	if m.collection == nil {
		return nil, errors.New("collection is required")
	}

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// Query returns up to k nearest documents; k is clamped to the collection size.
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, k int) ([]models.Match, error) {
	n, err := m.Count(ctx)
	if err != nil {
		return nil, err
	}
	k = min(k, n)
	if k <= 0 {
		return nil, nil
	}

	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       k,
	})
	if err != nil {
		return nil, err
	}

	matches := make([]models.Match, len(results))
	for i, r := range results {
		matches[i] = models.Match{
			Document: models.Document{
				ID:        r.ID,
				Content:   r.Content,
				Metadata:  r.Metadata,
				Embedding: r.Embedding,
			},
			Similarity: r.Similarity,
		}
	}
	return matches, nil
}

func (m *VectorDBManager) Count(ctx context.Context) (int, error) {
	if m.collection == nil {
		return 0, errors.New("collection is required")
	}
	return m.collection.Count(), nil
}

// ExportPath is the snapshot file name used for the current collection.
func (m *VectorDBManager) ExportPath(dir string) string {
	name := m.collection.Name + ".chromem"
	if m.compress {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}

// Export writes an encrypted single-file snapshot of the current collection.
func (m *VectorDBManager) Export(ctx context.Context, filePath string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if filePath == "" {
		return fmt.Errorf("file path is required")
	}

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", filePath).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a snapshot written by Export and makes name current.
func (m *VectorDBManager) Import(ctx context.Context, filePath, name string) error {
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	_, err := m.GetCollection(name)
	return err
}

// Close is a no-op; chromem writes each document as it is added.
func (m *VectorDBManager) Close() error { return nil }
