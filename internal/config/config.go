// Package config loads and validates the coderag configuration.
//
// Configuration lives in a YAML file. Secrets never appear in the file;
// provider sections name the environment variable that holds the key
// (api_key_env) and a .env file in the working directory is honored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	cerrors "coderag/internal/errors"
)

// WalkerConfig controls source tree traversal.
type WalkerConfig struct {
	// Extensions is the file extension allow-list (with leading dot).
	// Empty means the built-in default set.
	Extensions []string `yaml:"extensions,omitempty"`

	// Ignore lists extra ignore globs, merged with the built-in defaults.
	Ignore []string `yaml:"ignore,omitempty"`

	// MaxFileBytes caps the size of files considered for indexing.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// ChunkerConfig controls chunk sizing.
type ChunkerConfig struct {
	MinChunkBytes int `yaml:"min_chunk_bytes"`
	MaxChunkBytes int `yaml:"max_chunk_bytes"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider          string  `yaml:"provider"` // mock, ollama or openai
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env,omitempty"`
	Dimensions        int     `yaml:"dimensions,omitempty"` // 0 means the model default
	BatchSize         int     `yaml:"batch_size"`
	MaxInputBytes     int     `yaml:"max_input_bytes"`
	Concurrency       int     `yaml:"concurrency"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // 0 means unlimited
	TimeoutSecs       int     `yaml:"timeout_secs"`
}

// SQLiteConfig configures the local sqlite-vec backend.
type SQLiteConfig struct {
	// Path to the database file. Empty means <root>/.coderag/index.db.
	Path string `yaml:"path,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant backend.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PineconeConfig contains connection details for a Pinecone index.
type PineconeConfig struct {
	// Host is the index host, e.g. https://myindex-abc123.svc.us-east-1.pinecone.io.
	Host        string `yaml:"host"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite, qdrant or pinecone

	// Namespace scopes all entries; conventionally one per indexed repository.
	Namespace string `yaml:"namespace"`

	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
}

// IndexConfig controls the indexing pipeline.
type IndexConfig struct {
	// Workers bounds the parallel read/chunk stages. 0 means NumCPU.
	Workers int `yaml:"workers,omitempty"`

	// StatePath locates the index state manifest.
	// Empty means <root>/.coderag/state.json.
	StatePath string `yaml:"state_path,omitempty"`
}

// RetrievalConfig holds query-time defaults.
type RetrievalConfig struct {
	TopK        int     `yaml:"top_k"`
	Overfetch   int     `yaml:"overfetch"`
	MinScore    float64 `yaml:"min_score"`
	TokenBudget int     `yaml:"token_budget"`
}

// LLMConfig selects and configures the answer-mode chat model.
type LLMConfig struct {
	Provider    string `yaml:"provider"` // ollama or openai
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Config is the root configuration.
type Config struct {
	Walker    WalkerConfig    `yaml:"walker"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
}

// Load reads a config from path. A missing file yields the defaults.
// A .env file in the working directory is loaded first so api_key_env
// variables resolve.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, cerrors.NewConfigError("config.load", "cannot read config file "+path, "check the path or run without --config to use defaults", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, cerrors.NewConfigError("config.load", "cannot parse config file "+path, "fix the YAML syntax", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./coderag.yaml first, then ~/.config/coderag/config.yaml,
// falling back to the built-in defaults.
func LoadDefault() (*Config, string, error) {
	cwdPath := "coderag.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err == nil {
		if _, statErr := os.Stat(userPath); statErr == nil {
			cfg, loadErr := Load(userPath)
			return cfg, userPath, loadErr
		}
	}
	_ = godotenv.Load()
	return Default(), "", nil
}

// Save writes the config to path, creating directories as needed.
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

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "coderag", "config.yaml"), nil
}

// Default returns the built-in configuration: local ollama embeddings into a
// repo-local sqlite-vec database.
func Default() *Config {
	return &Config{
		Walker: WalkerConfig{
			MaxFileBytes: 1 << 20,
		},
		Chunker: ChunkerConfig{
			MinChunkBytes: 50,
			MaxChunkBytes: 8192,
		},
		Embedder: EmbedderConfig{
			Provider:      "ollama",
			Model:         "nomic-embed-text",
			BaseURL:       "http://localhost:11434",
			BatchSize:     32,
			MaxInputBytes: 8000,
			Concurrency:   4,
			MaxRetries:    3,
			TimeoutSecs:   60,
		},
		Store: StoreConfig{
			Backend:   "sqlite",
			Namespace: "default",
		},
		Retrieval: RetrievalConfig{
			TopK:        10,
			Overfetch:   3,
			MinScore:    0.25,
			TokenBudget: 4000,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "qwen3:8b",
			BaseURL:     "http://localhost:11434",
			TimeoutSecs: 120,
		},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Walker.MaxFileBytes == 0 {
		cfg.Walker.MaxFileBytes = def.Walker.MaxFileBytes
	}
	if cfg.Chunker.MinChunkBytes == 0 {
		cfg.Chunker.MinChunkBytes = def.Chunker.MinChunkBytes
	}
	if cfg.Chunker.MaxChunkBytes == 0 {
		cfg.Chunker.MaxChunkBytes = def.Chunker.MaxChunkBytes
	}
	if cfg.Embedder.Provider == "" {
		cfg.Embedder.Provider = def.Embedder.Provider
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = def.Embedder.Model
	}
	if cfg.Embedder.BaseURL == "" {
		switch cfg.Embedder.Provider {
		case "openai":
			cfg.Embedder.BaseURL = "https://api.openai.com/v1"
		default:
			cfg.Embedder.BaseURL = def.Embedder.BaseURL
		}
	}
	if cfg.Embedder.Provider == "openai" && cfg.Embedder.APIKeyEnv == "" {
		cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = def.Embedder.BatchSize
	}
	if cfg.Embedder.MaxInputBytes == 0 {
		cfg.Embedder.MaxInputBytes = def.Embedder.MaxInputBytes
	}
	if cfg.Embedder.Concurrency == 0 {
		cfg.Embedder.Concurrency = def.Embedder.Concurrency
	}
	if cfg.Embedder.MaxRetries == 0 {
		cfg.Embedder.MaxRetries = def.Embedder.MaxRetries
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = def.Embedder.TimeoutSecs
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.Namespace == "" {
		cfg.Store.Namespace = def.Store.Namespace
	}
	if cfg.Store.Qdrant != nil && cfg.Store.Qdrant.TimeoutSecs == 0 {
		cfg.Store.Qdrant.TimeoutSecs = 30
	}
	if cfg.Store.Pinecone != nil {
		if cfg.Store.Pinecone.TimeoutSecs == 0 {
			cfg.Store.Pinecone.TimeoutSecs = 30
		}
		if cfg.Store.Pinecone.APIKeyEnv == "" {
			cfg.Store.Pinecone.APIKeyEnv = "PINECONE_API_KEY"
		}
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = runtime.NumCPU()
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.Overfetch == 0 {
		cfg.Retrieval.Overfetch = def.Retrieval.Overfetch
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = def.Retrieval.MinScore
	}
	if cfg.Retrieval.TokenBudget == 0 {
		cfg.Retrieval.TokenBudget = def.Retrieval.TokenBudget
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.BaseURL == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.BaseURL = "https://api.openai.com/v1"
		default:
			cfg.LLM.BaseURL = def.LLM.BaseURL
		}
	}
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = def.LLM.TimeoutSecs
	}
}

// Validate checks the configuration for inconsistencies that would make a
// run fail later. Returns a ConfigError describing the first problem found.
func (c *Config) Validate() error {
	switch c.Embedder.Provider {
	case "mock", "ollama", "openai":
	default:
		return cerrors.NewConfigError("config.validate",
			fmt.Sprintf("unknown embedding provider %q", c.Embedder.Provider),
			"use one of: mock, ollama, openai", nil)
	}
	switch c.Store.Backend {
	case "memory", "sqlite", "qdrant", "pinecone":
	default:
		return cerrors.NewConfigError("config.validate",
			fmt.Sprintf("unknown store backend %q", c.Store.Backend),
			"use one of: memory, sqlite, qdrant, pinecone", nil)
	}
	if c.Store.Backend == "qdrant" && (c.Store.Qdrant == nil || c.Store.Qdrant.URL == "") {
		return cerrors.NewConfigError("config.validate",
			"qdrant backend selected but store.qdrant.url is not set",
			"add a store.qdrant block with the server URL", nil)
	}
	if c.Store.Backend == "pinecone" && (c.Store.Pinecone == nil || c.Store.Pinecone.Host == "") {
		return cerrors.NewConfigError("config.validate",
			"pinecone backend selected but store.pinecone.host is not set",
			"add a store.pinecone block with the index host", nil)
	}
	if c.Chunker.MinChunkBytes >= c.Chunker.MaxChunkBytes {
		return cerrors.NewConfigError("config.validate",
			fmt.Sprintf("min_chunk_bytes (%d) must be smaller than max_chunk_bytes (%d)",
				c.Chunker.MinChunkBytes, c.Chunker.MaxChunkBytes),
			"adjust the chunker section", nil)
	}
	if c.Embedder.Model == "" {
		return cerrors.NewConfigError("config.validate",
			"embedder.model is required", "set the embedding model name", nil)
	}
	if c.Retrieval.Overfetch < 1 {
		return cerrors.NewConfigError("config.validate",
			"retrieval.overfetch must be at least 1", "use an integer factor >= 1", nil)
	}
	if c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1 {
		return cerrors.NewConfigError("config.validate",
			"retrieval.min_score must be within [-1, 1]",
			"cosine similarity is bounded; pick a threshold like 0.25", nil)
	}
	if key := c.Embedder.APIKeyEnv; c.Embedder.Provider == "openai" && os.Getenv(key) == "" {
		return cerrors.NewConfigError("config.validate",
			fmt.Sprintf("environment variable %s is empty", key),
			"export the API key or put it in a .env file", nil)
	}
	return nil
}
