package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pawsistant/internal/config"
	"pawsistant/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64           `bun:"id,pk,autoincrement"`
	DocID         string          `bun:"doc_id,notnull"`
	Source        string          `bun:"source,notnull"`
	ChunkID       string          `bun:"chunk_id,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull"`
	Similarity    float32         `bun:"similarity,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithEnabled(debug), bundebug.WithVerbose(debug)))
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN))), nil
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// TableName maps an index name onto a safe table name.
func TableName(indexName string) string {
	name := nonIdent.ReplaceAllString(strings.ToLower(indexName), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "index"
	}
	name = "rag_" + name
	// postgres truncates identifiers at 63 bytes
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// Store keeps one index in its own table.
type Store struct {
	db    *bun.DB
	table string
}

func NewStore(db *bun.DB, table string) *Store {
	return &Store{db: db, table: table}
}

func (s *Store) quoted() string { return pq.QuoteIdentifier(s.table) }

// Init creates the vector extension and the table sized for dimension.
func (s *Store) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id bigserial PRIMARY KEY,
		doc_id text NOT NULL,
		source text NOT NULL,
		chunk_id text NOT NULL,
		content text NOT NULL,
		embedding vector(%d) NOT NULL
	)`, s.quoted(), dimension)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Drop removes the table so a rebuild starts clean.
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.quoted())
	return err
}

// Replace drops the table named target and renames this table to it in one
// transaction.
func (s *Store) Replace(ctx context.Context, target string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(target)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "ALTER TABLE "+s.quoted()+" RENAME TO "+pq.QuoteIdentifier(target)); err != nil {
			return fmt.Errorf("failed to rename %s: %w", s.table, err)
		}
		s.table = target
		return nil
	})
}

func (s *Store) Add(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([]Document, len(docs))
	for i, d := range docs {
		rows[i] = Document{
			DocID:     d.ID,
			Source:    d.Metadata[models.MetaSource],
			ChunkID:   d.Metadata[models.MetaChunkID],
			Content:   d.Content,
			Embedding: pgvector.NewVector(d.Embedding),
		}
	}
	_, err := s.db.NewInsert().Model(&rows).ModelTableExpr(s.quoted()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store documents: %w", err)
	}
	return nil
}

// Query orders by cosine distance and reports 1 - distance as similarity.
func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]models.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(embedding)
	var rows []Document
	err := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr(s.quoted()+" AS d").
		Column("doc_id", "source", "chunk_id", "content").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", vec).
		OrderExpr("embedding <=> ?", vec).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	matches := make([]models.Match, len(rows))
	for i, r := range rows {
		matches[i] = models.Match{
			Document: models.Document{
				ID:      r.DocID,
				Content: r.Content,
				Metadata: map[string]string{
					models.MetaSource:  r.Source,
					models.MetaChunkID: r.ChunkID,
				},
			},
			Similarity: r.Similarity,
		}
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*Document)(nil)).ModelTableExpr(s.quoted() + " AS d").Count(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
