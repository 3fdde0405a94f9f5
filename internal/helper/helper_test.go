package helper

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestGenerateUUIDUnique(t *testing.T) {
	a, err := GenerateUUID()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateUUID()
	if a == b || len(a) != 36 {
		t.Fatalf("bad ids %q %q", a, b)
	}
}

func TestPrettyPrint(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrint(&buf, map[string]string{"source": "a.html"})
	if !strings.Contains(buf.String(), `"source": "a.html"`) {
		t.Fatalf("got %q", buf.String())
	}
}

func TestCreateFolderNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := CreateFolder(dir); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("not created: %v", err)
	}
}

func TestSetupLoggerJSON(t *testing.T) {
	defer SetupLogger("info", false, os.Stderr)
	var buf bytes.Buffer
	SetupLogger("warn", false, &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("unexpected output %q", out)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %s", zerolog.GlobalLevel())
	}
}
