package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "./configs/config.yaml"

	ProviderAnthropic   = "anthropic"
	ProviderOpenAI      = "openai"
	ProviderOllama      = "ollama"
	ProviderHuggingFace = "huggingface"
	ProviderHash        = "hash"

	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
)

// DataConfig points at the directories produced by the scraping and chunking pipeline.
type DataConfig struct {
	RawDir   string `yaml:"rawdata_dir"`
	CleanDir string `yaml:"cleandata_dir"`
	ChunkDir string `yaml:"chunkdata_dir"`
}

// IndexConfig controls where and how the vector index is persisted.
type IndexConfig struct {
	Dir           string `yaml:"dir"`
	Backend       string `yaml:"backend"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

// EmbeddingConfig selects the embedding model used for both building and querying.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	BatchSize int    `yaml:"batch_size"`
	Dimension int    `yaml:"dimension"`
	// Device forces the accelerator ("mps", "cuda", "cpu"); empty means detect.
	Device string `yaml:"device"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

// LLMSettings holds one entry per hosted provider plus the active selection.
type LLMSettings struct {
	Active      string    `yaml:"active"`
	Temperature float64   `yaml:"temperature"`
	Anthropic   LLMConfig `yaml:"anthropic"`
	OpenAI      LLMConfig `yaml:"openai"`
	Ollama      LLMConfig `yaml:"ollama"`
}

type ChatConfig struct {
	TokenLimit         int      `yaml:"token_limit"`
	TopK               int      `yaml:"top_k"`
	SystemPromptFile   string   `yaml:"system_prompt_file"`
	AllowedLinkDomains []string `yaml:"allowed_link_domains"`
}

type ServerConfig struct {
	Addr       string        `yaml:"addr"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	Data      DataConfig      `yaml:"data"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMSettings     `yaml:"llm"`
	Chat      ChatConfig      `yaml:"chat"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
// Environment overrides are applied last in both cases.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Reset replaces whatever is at path with the default template.
func Reset(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return Save(path, Default())
}

func Default() *Config {
	return &Config{
		Data: DataConfig{
			RawDir:   "data/scraped_pages",
			CleanDir: "data/cleaned_html",
			ChunkDir: "data/chunks",
		},
		Index: IndexConfig{
			Dir:        "my_rag_index",
			Backend:    BackendChromem,
			Collection: "ogs",
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderOllama,
			Model:     "nomic-embed-text",
			BaseURL:   "http://localhost:11434",
			BatchSize: 16,
		},
		LLM: LLMSettings{
			Active:      ProviderAnthropic,
			Temperature: 0.2,
			Anthropic:   LLMConfig{Model: "claude-3-haiku-20240307"},
			OpenAI:      LLMConfig{Model: "gpt-3.5-turbo"},
			Ollama:      LLMConfig{BaseURL: "http://localhost:11434", Model: "llama3"},
		},
		Chat: ChatConfig{
			TokenLimit:         1500,
			TopK:               10,
			AllowedLinkDomains: []string{"northeastern.edu"},
		},
		Server: ServerConfig{
			Addr:       ":8080",
			SessionTTL: 30 * time.Minute,
		},
		Log: LogConfig{Level: "info", Pretty: true},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = def.Index.Dir
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = def.Index.Backend
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = def.Index.Collection
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = def.Embedding.Provider
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Embedding.Provider == ProviderHash && cfg.Embedding.Dimension <= 0 {
		cfg.Embedding.Dimension = 384
	}
	if cfg.LLM.Active == "" {
		cfg.LLM.Active = def.LLM.Active
	}
	if cfg.Chat.TokenLimit == 0 {
		cfg.Chat.TokenLimit = def.Chat.TokenLimit
	}
	if cfg.Chat.TopK == 0 {
		cfg.Chat.TopK = def.Chat.TopK
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = def.Server.SessionTTL
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

// applyEnv lets the environment override credentials, model identifiers and paths,
// the same variables the scraping pipeline exports.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("ANTHROPIC_API_KEY"); ok {
		cfg.LLM.Anthropic.Key = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.LLM.Anthropic.Model = v
	}
	if v, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
		cfg.LLM.OpenAI.Key = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.OpenAI.Model = v
	}
	if v := os.Getenv("ACTIVE_MODEL"); v != "" {
		cfg.LLM.Active = v
	}
	if v := os.Getenv("CHUNKDATA_DIR"); v != "" {
		cfg.Data.ChunkDir = v
	}
	if v := os.Getenv("INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
}

// NormalizeProvider maps the frontend model names onto provider names.
func NormalizeProvider(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "claude", ProviderAnthropic:
		return ProviderAnthropic
	case "gpt", ProviderOpenAI:
		return ProviderOpenAI
	case ProviderOllama:
		return ProviderOllama
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// Provider returns the settings for the named hosted provider.
func (s *LLMSettings) Provider(name string) (LLMConfig, error) {
	switch NormalizeProvider(name) {
	case ProviderAnthropic:
		return s.Anthropic, nil
	case ProviderOpenAI:
		return s.OpenAI, nil
	case ProviderOllama:
		return s.Ollama, nil
	default:
		return LLMConfig{}, fmt.Errorf("%w: llm provider %q", ErrInvalid, name)
	}
}

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	switch c.Index.Backend {
	case BackendChromem, BackendPostgres:
	default:
		return fmt.Errorf("%w: index backend %q", ErrInvalid, c.Index.Backend)
	}
	switch c.Embedding.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderHuggingFace, ProviderHash:
	default:
		return fmt.Errorf("%w: embedding provider %q", ErrInvalid, c.Embedding.Provider)
	}
	if c.Embedding.Model == "" && c.Embedding.Provider != ProviderHash {
		return fmt.Errorf("%w: embedding model is required", ErrInvalid)
	}
	if _, err := c.LLM.Provider(c.LLM.Active); err != nil {
		return err
	}
	if c.Chat.TokenLimit < 0 || c.Chat.TopK < 0 {
		return fmt.Errorf("%w: chat limits must be positive", ErrInvalid)
	}
	if c.Index.Backend == BackendPostgres && c.Database.DSN == "" {
		return fmt.Errorf("%w: database dsn is required for the postgres backend", ErrInvalid)
	}
	return nil
}
