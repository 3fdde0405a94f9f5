package index

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ManifestFile = "index.yaml"
	VectorsDir   = "vectors"
)

// Manifest records how an index directory was produced.
type Manifest struct {
	Backend           string    `yaml:"backend"`
	Collection        string    `yaml:"collection,omitempty"`
	Table             string    `yaml:"table,omitempty"`
	Compress          bool      `yaml:"compress,omitempty"`
	EmbeddingProvider string    `yaml:"embedding_provider"`
	EmbeddingModel    string    `yaml:"embedding_model"`
	Dimension         int       `yaml:"dimension"`
	Documents         int       `yaml:"documents"`
	Sources           int       `yaml:"sources"`
	BuiltAt           time.Time `yaml:"built_at"`
}

func WriteManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}

func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}
