package chromemdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"pawsistant/internal/embedding"
	"pawsistant/internal/models"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testDocs(t *testing.T, texts ...string) []models.Document {
	t.Helper()
	e := embedding.NewHashEmbedder(64)
	vecs, err := e.EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	docs := make([]models.Document, len(texts))
	for i, text := range texts {
		docs[i] = models.Document{
			ID:        text,
			Content:   text,
			Metadata:  map[string]string{models.MetaSource: "a.html"},
			Embedding: vecs[i],
		}
	}
	return docs
}

func TestPersistentRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	m, err := NewVectorDBManager(dir, false, false, "", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.GetOrCreateCollection("ogs"); err != nil {
		t.Fatalf("collection: %v", err)
	}
	docs := testDocs(t, "apply for opt", "renew your passport", "travel signature")
	if err := m.Add(ctx, docs); err != nil {
		t.Fatalf("add: %v", err)
	}

	reopened, err := NewVectorDBManager(dir, false, false, "", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := reopened.GetCollection("ogs"); err != nil {
		t.Fatalf("get collection: %v", err)
	}
	n, _ := reopened.Count(ctx)
	if n != 3 {
		t.Fatalf("count = %d", n)
	}

	matches, err := reopened.Query(ctx, docs[1].Embedding, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("k not clamped: %d", len(matches))
	}
	if matches[0].Document.Content != "renew your passport" || matches[0].Document.Source() != "a.html" {
		t.Fatalf("top match = %+v", matches[0])
	}
}

func TestGetCollectionMissing(t *testing.T) {
	m, err := NewVectorDBManager("", true, false, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetCollection("nope"); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestQueryEmptyCollection(t *testing.T) {
	m, _ := NewVectorDBManager("", true, false, "", nil)
	if _, err := m.GetOrCreateCollection("empty"); err != nil {
		t.Fatal(err)
	}
	matches, err := m.Query(context.Background(), []float32{1, 0}, 5)
	if err != nil || len(matches) != 0 {
		t.Fatalf("matches=%v err=%v", matches, err)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, _ := NewVectorDBManager(dir, true, false, testKey, nil)
	if _, err := m.GetOrCreateCollection("ogs"); err != nil {
		t.Fatal(err)
	}
	docs := testDocs(t, "i-20 extension", "cpt authorization")
	if err := m.Add(ctx, docs); err != nil {
		t.Fatal(err)
	}
	path := m.ExportPath(dir)
	if err := m.Export(ctx, path); err != nil {
		t.Fatalf("export: %v", err)
	}

	restored, _ := NewVectorDBManager(dir, true, false, testKey, nil)
	if err := restored.Import(ctx, path, "ogs"); err != nil {
		t.Fatalf("import: %v", err)
	}
	matches, err := restored.Query(ctx, docs[1].Embedding, 1)
	if err != nil || len(matches) != 1 || matches[0].Document.Content != "cpt authorization" {
		t.Fatalf("matches=%+v err=%v", matches, err)
	}
}

func TestExportRequiresKey(t *testing.T) {
	m, _ := NewVectorDBManager("", true, false, "", nil)
	m.GetOrCreateCollection("ogs")
	if err := m.Export(context.Background(), filepath.Join(t.TempDir(), "x.chromem")); err == nil {
		t.Fatal("expected error without encryption key")
	}
}
