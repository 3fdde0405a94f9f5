package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"pawsistant/internal/config"
	"pawsistant/internal/embedding"
	"pawsistant/internal/models"
)

func hashSettings(dim int) Settings {
	return Settings{
		Embedder:          embedding.NewHashEmbedder(dim),
		EmbeddingProvider: config.ProviderHash,
		EmbeddingModel:    "hash-test",
		BatchSize:         2,
		Backend:           config.BackendChromem,
		Collection:        "ogs",
	}
}

var sampleChunks = []models.Chunk{
	{Source: "opt.html", Text: "OPT lets F-1 students work for up to twelve months after graduation."},
	{Source: "opt.html", Text: "Apply for OPT no earlier than ninety days before your program end date."},
	{Source: "travel.html", Text: "A travel signature on your I-20 is valid for one year."},
	{Source: "cpt.html", Text: "CPT must be an integral part of your curriculum."},
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("model unavailable")
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	if Exists(filepath.Join(root, "missing")) {
		t.Fatal("missing path reported as existing")
	}

	empty := filepath.Join(root, "empty")
	os.Mkdir(empty, 0o755)
	if Exists(empty) {
		t.Fatal("empty dir reported as existing")
	}

	file := filepath.Join(root, "file")
	os.WriteFile(file, []byte("x"), 0o644)
	if Exists(file) {
		t.Fatal("regular file reported as existing")
	}

	junk := filepath.Join(root, "junk")
	os.Mkdir(junk, 0o755)
	os.WriteFile(filepath.Join(junk, "notes.txt"), []byte("x"), 0o644)
	if !Exists(junk) {
		t.Fatal("non-empty dir not reported as existing")
	}
}

func TestBuildNoChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	if _, err := Build(context.Background(), hashSettings(64), nil, path); !errors.Is(err, ErrNoChunks) {
		t.Fatalf("err = %v", err)
	}
	if Exists(path) {
		t.Fatal("index created for empty chunk set")
	}
}

func TestBuildThenQueryEveryChunk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "my_rag_index")
	s := hashSettings(256)

	idx, err := Build(ctx, s, sampleChunks, path)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer idx.Close()

	if !Exists(path) {
		t.Fatal("index dir missing after build")
	}
	m := idx.Manifest()
	if m.Documents != 4 || m.Sources != 3 || m.Dimension != 256 || m.EmbeddingModel != "hash-test" {
		t.Fatalf("manifest = %+v", m)
	}

	for _, c := range sampleChunks {
		matches, err := idx.Query(ctx, c.Text, 10)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(matches) != len(sampleChunks) {
			t.Fatalf("expected k clamped to %d, got %d", len(sampleChunks), len(matches))
		}
		top := matches[0].Document
		if top.Content != c.Text || top.Source() != c.Source {
			t.Fatalf("query %q: top = %q from %q", c.Text, top.Content, top.Source())
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Fatalf("staging dir left behind: %s", e.Name())
		}
	}
}

func TestLoadReopensIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx")
	s := hashSettings(128)
	built, err := Build(ctx, s, sampleChunks, path)
	if err != nil {
		t.Fatal(err)
	}
	built.Close()

	idx, err := Load(ctx, s, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	n, _ := idx.Count(ctx)
	if n != len(sampleChunks) {
		t.Fatalf("count = %d", n)
	}
	matches, err := idx.Query(ctx, "travel signature I-20", 1)
	if err != nil || len(matches) != 1 || matches[0].Document.Source() != "travel.html" {
		t.Fatalf("matches=%+v err=%v", matches, err)
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := hashSettings(64)

	if _, err := Load(ctx, s, filepath.Join(root, "missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}

	junk := filepath.Join(root, "junk")
	os.Mkdir(junk, 0o755)
	os.WriteFile(filepath.Join(junk, "readme.md"), []byte("hi"), 0o644)
	if _, err := Load(ctx, s, junk); !errors.Is(err, ErrNotIndex) {
		t.Fatalf("junk dir: %v", err)
	}

	path := filepath.Join(root, "idx")
	idx, err := Build(ctx, s, sampleChunks, path)
	if err != nil {
		t.Fatal(err)
	}
	idx.Close()
	other := s
	other.EmbeddingModel = "nomic-embed-text"
	if _, err := Load(ctx, other, path); !errors.Is(err, ErrEmbeddingMismatch) {
		t.Fatalf("mismatch: %v", err)
	}
}

func TestRebuildReplacesIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx")
	s := hashSettings(64)

	first, err := Build(ctx, s, sampleChunks, path)
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Build(ctx, s, sampleChunks[:1], path)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	defer second.Close()
	n, _ := second.Count(ctx)
	if n != 1 || second.Manifest().Documents != 1 {
		t.Fatalf("rebuild kept old documents: count=%d", n)
	}
}

func TestFailedBuildKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx")
	s := hashSettings(64)
	idx, err := Build(ctx, s, sampleChunks, path)
	if err != nil {
		t.Fatal(err)
	}
	idx.Close()

	bad := s
	bad.Embedder = failingEmbedder{}
	if _, err := Build(ctx, bad, sampleChunks[:1], path); err == nil {
		t.Fatal("expected build error")
	}

	idx, err = Load(ctx, s, path)
	if err != nil {
		t.Fatalf("previous index lost: %v", err)
	}
	defer idx.Close()
	if idx.Manifest().Documents != len(sampleChunks) {
		t.Fatalf("documents = %d", idx.Manifest().Documents)
	}
}

func TestConcurrentBuildsAreIndependent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dims := []int{32, 96}

	var wg sync.WaitGroup
	errs := make([]error, len(dims))
	for i, dim := range dims {
		wg.Add(1)
		go func(i, dim int) {
			defer wg.Done()
			s := hashSettings(dim)
			idx, err := Build(ctx, s, sampleChunks, filepath.Join(root, "idx", string(rune('a'+i))))
			if err == nil {
				idx.Close()
			}
			errs[i] = err
		}(i, dim)
	}
	wg.Wait()

	for i, dim := range dims {
		if errs[i] != nil {
			t.Fatalf("build %d: %v", i, errs[i])
		}
		m, err := ReadManifest(filepath.Join(root, "idx", string(rune('a'+i))))
		if err != nil {
			t.Fatal(err)
		}
		if m.Dimension != dim {
			t.Fatalf("build %d has dimension %d, want %d", i, m.Dimension, dim)
		}
	}
}

func TestToDocumentsIDs(t *testing.T) {
	docs := ToDocuments([]models.Chunk{
		{Source: "a.html", Text: "same"},
		{Source: "a.html", Text: "same"},
		{Source: "b.html", Text: "same"},
	})
	want := []string{"a.html#0", "a.html#1", "b.html#0"}
	for i, d := range docs {
		if d.ID != want[i] {
			t.Fatalf("doc %d id = %q, want %q", i, d.ID, want[i])
		}
	}
	if docs[1].Metadata[models.MetaChunkID] != "1" {
		t.Fatalf("chunk id = %q", docs[1].Metadata[models.MetaChunkID])
	}
}

func TestExportUnsupportedOnPostgres(t *testing.T) {
	idx := &Index{manifest: Manifest{Backend: config.BackendPostgres}, store: nil}
	if err := idx.Export(context.Background(), "x"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestExportSnapshot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := hashSettings(64)
	s.EncryptionKey = "0123456789abcdef0123456789abcdef"
	idx, err := Build(ctx, s, sampleChunks, filepath.Join(root, "idx"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	out, err := idx.ExportPath(root)
	if err != nil || out != filepath.Join(root, "ogs.chromem") {
		t.Fatalf("export path = %q, %v", out, err)
	}
	if err := idx.Export(ctx, out); err != nil {
		t.Fatalf("export: %v", err)
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		t.Fatalf("snapshot missing: %v", err)
	}
}

func TestSameChunksIntoTwoPaths(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := hashSettings(128)

	var sources []string
	for _, name := range []string{"one", "two"} {
		path := filepath.Join(root, name)
		idx, err := Build(ctx, s, sampleChunks, path)
		if err != nil {
			t.Fatalf("build %s: %v", name, err)
		}
		idx.Close()

		loaded, err := Load(ctx, s, path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		matches, err := loaded.Query(ctx, "When can I apply for OPT?", 1)
		loaded.Close()
		if err != nil || len(matches) != 1 {
			t.Fatalf("query %s: %v", name, err)
		}
		sources = append(sources, matches[0].Document.ID)
	}
	if sources[0] != sources[1] {
		t.Fatalf("indexes disagree: %v", sources)
	}
}

func TestBuildTrailingSlashPath(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(root, "idx") + string(filepath.Separator)
	s := hashSettings(64)

	idx, err := Build(ctx, s, sampleChunks, path)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	idx.Close()
	if !Exists(path) || !Exists(filepath.Join(root, "idx")) {
		t.Fatal("index missing after build")
	}

	// a rebuild moves the previous index aside first
	idx, err = Build(ctx, s, sampleChunks[:2], path)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	idx.Close()

	idx, err = Load(ctx, s, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer idx.Close()
	if idx.Manifest().Documents != 2 {
		t.Fatalf("documents = %d", idx.Manifest().Documents)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 || entries[0].Name() != "idx" {
		t.Fatalf("unexpected entries next to index: %v", entries)
	}
	inner, _ := os.ReadDir(filepath.Join(root, "idx"))
	for _, e := range inner {
		if strings.HasPrefix(e.Name(), ".") {
			t.Fatalf("staging dir left inside index: %s", e.Name())
		}
	}
}

func TestTableNamePerPath(t *testing.T) {
	a := TableName("/srv/a/idx")
	b := TableName("/srv/b/idx")
	if a == b {
		t.Fatalf("distinct paths share table %q", a)
	}
	if TableName("/srv/a/idx/") != a {
		t.Fatal("trailing slash changes the table name")
	}
	if !strings.HasPrefix(a, "rag_") || !strings.HasSuffix(a, "_idx") || len(a) > 63 {
		t.Fatalf("table name = %q", a)
	}
	long := TableName("/srv/" + strings.Repeat("x", 100))
	if len(long) > 63 || long == TableName("/srv/"+strings.Repeat("x", 101)) {
		t.Fatalf("long names collide or overflow: %q", long)
	}
}

func TestImportSnapshot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := hashSettings(64)
	s.EncryptionKey = "0123456789abcdef0123456789abcdef"

	idx, err := Build(ctx, s, sampleChunks, filepath.Join(root, "idx"))
	if err != nil {
		t.Fatal(err)
	}
	snapshot := filepath.Join(root, "ogs.chromem")
	if err := idx.Export(ctx, snapshot); err != nil {
		t.Fatal(err)
	}
	idx.Close()

	restored, err := Import(ctx, s, snapshot, filepath.Join(root, "restored"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	defer restored.Close()
	m := restored.Manifest()
	if m.Documents != len(sampleChunks) || m.Sources != 3 || m.Dimension != 64 {
		t.Fatalf("manifest = %+v", m)
	}
	matches, err := restored.Query(ctx, sampleChunks[2].Text, 1)
	if err != nil || len(matches) != 1 || matches[0].Document.Source() != "travel.html" {
		t.Fatalf("matches=%+v err=%v", matches, err)
	}

	reopened, err := Load(ctx, s, filepath.Join(root, "restored"))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	reopened.Close()
}

func TestImportRejectsBadSnapshots(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := hashSettings(64)
	s.EncryptionKey = "0123456789abcdef0123456789abcdef"

	idx, err := Build(ctx, s, sampleChunks, filepath.Join(root, "idx"))
	if err != nil {
		t.Fatal(err)
	}
	snapshot := filepath.Join(root, "ogs.chromem")
	if err := idx.Export(ctx, snapshot); err != nil {
		t.Fatal(err)
	}
	idx.Close()

	wrongKey := s
	wrongKey.EncryptionKey = "fedcba9876543210fedcba9876543210"
	if _, err := Import(ctx, wrongKey, snapshot, filepath.Join(root, "a")); err == nil {
		t.Fatal("expected error for wrong key")
	}
	if Exists(filepath.Join(root, "a")) {
		t.Fatal("failed import left an index behind")
	}

	otherDim := s
	otherDim.Embedder = embedding.NewHashEmbedder(32)
	if _, err := Import(ctx, otherDim, snapshot, filepath.Join(root, "b")); !errors.Is(err, ErrEmbeddingMismatch) {
		t.Fatalf("dimension mismatch: %v", err)
	}

	pg := s
	pg.Backend = config.BackendPostgres
	if _, err := Import(ctx, pg, snapshot, filepath.Join(root, "c")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("postgres: %v", err)
	}
}
