package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendChromem  = "chromem"
	BackendQdrant   = "qdrant"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	DriverPgdriver = "pgdriver"
	DriverPq       = "postgres"
)

type Config struct {
	Log          LogConfig      `yaml:"log"`
	Server       ServerConfig   `yaml:"server"`
	Database     DatabaseConfig `yaml:"database"`
	Storage      StorageConfig  `yaml:"storage"`
	Index        IndexConfig    `yaml:"index"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	RAG          RAGConfig      `yaml:"rag"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Addr                string   `yaml:"addr"`
	MaxUploadSize       int64    `yaml:"max_upload_size"`
	AllowedExtensions   []string `yaml:"allowed_extensions"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Password   string `yaml:"password"`
	Debug      bool   `yaml:"debug"`
	VectorSize int    `yaml:"vector_size"`
}

// StorageConfig selects where document, chunk and chat records live and
// where the original uploads are kept.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	BlobDir string `yaml:"blob_dir"`
}

// IndexConfig selects the similarity index implementation.
type IndexConfig struct {
	Backend string        `yaml:"backend"`
	Chromem ChromemConfig `yaml:"chromem"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	UseTLS     bool   `yaml:"use_tls"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type RAGConfig struct {
	ChunkSize           int       `yaml:"chunk_size"`
	ChunkOverlap        int       `yaml:"chunk_overlap"`
	TopK                int       `yaml:"top_k"`
	Thresholds          []float64 `yaml:"thresholds"`
	FullContextMaxPages int       `yaml:"full_context_max_pages"`
	InsertBatchSize     int       `yaml:"insert_batch_size"`
	SummaryMaxChars     int       `yaml:"summary_max_chars"`
	Workers             int       `yaml:"workers"`
}

// LoadConfig reads a YAML config. A missing file yields the defaults.
// Environment variables override secrets and endpoints in both cases.
func LoadConfig(path string) (*Config, error) {
	cfg := presets()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func Default() *Config {
	cfg := presets()
	applyDefaults(cfg)
	return cfg
}

// presets holds defaults for fields where zero is a valid setting. They are
// set before the file is parsed so only an absent key falls back to them.
func presets() *Config {
	cfg := &Config{}
	cfg.InferenceLLM.Temperature = 0.3
	cfg.RAG.ChunkOverlap = 100
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = v
		}
		if cfg.InferenceLLM.Key == "" {
			cfg.InferenceLLM.Key = v
		}
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.InferenceLLM.Model = v
	}
	if v := os.Getenv("OPENAI_EMBEDDING_MODEL"); v != "" {
		cfg.EmbedLLM.Model = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Index.Qdrant.APIKey = v
	}
	if v := os.Getenv("CHROMEM_ENCRYPTION_KEY"); v != "" {
		cfg.Index.Chromem.EncryptionKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = 10 << 20
	}
	if len(cfg.Server.AllowedExtensions) == 0 {
		cfg.Server.AllowedExtensions = []string{".pdf"}
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 15
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPgdriver
	}
	if cfg.Database.VectorSize == 0 {
		cfg.Database.VectorSize = 1536
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = "./data/blobs"
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = cfg.Storage.Backend
	}
	if cfg.Index.Chromem.Path == "" {
		cfg.Index.Chromem.Path = "./data/chromemdb"
	}
	if cfg.Index.Chromem.Collection == "" {
		cfg.Index.Chromem.Collection = "document_chunks"
	}
	if cfg.Index.Qdrant.Host == "" {
		cfg.Index.Qdrant.Host = "localhost"
	}
	if cfg.Index.Qdrant.Port == 0 {
		cfg.Index.Qdrant.Port = 6334
	}
	if cfg.Index.Qdrant.Collection == "" {
		cfg.Index.Qdrant.Collection = "document_chunks"
	}

	applyLLMDefaults(&cfg.EmbedLLM, "text-embedding-3-small")
	applyLLMDefaults(&cfg.InferenceLLM, "gpt-4-turbo-preview")
	if cfg.InferenceLLM.MaxTokens == 0 {
		cfg.InferenceLLM.MaxTokens = 800
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 800
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 20
	}
	if len(cfg.RAG.Thresholds) == 0 {
		cfg.RAG.Thresholds = []float64{0.4, 0.2, 0.1}
	}
	if cfg.RAG.FullContextMaxPages == 0 {
		cfg.RAG.FullContextMaxPages = 10
	}
	if cfg.RAG.InsertBatchSize == 0 {
		cfg.RAG.InsertBatchSize = 50
	}
	if cfg.RAG.SummaryMaxChars == 0 {
		cfg.RAG.SummaryMaxChars = 15000
	}
	if cfg.RAG.Workers == 0 {
		cfg.RAG.Workers = 4
	}
}

func applyLLMDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" && c.Provider == ProviderOpenAI {
		c.Model = model
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.BaseURL = "https://api.openai.com/v1"
		case ProviderOllama:
			c.BaseURL = "http://localhost:11434"
		}
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	switch c.Index.Backend {
	case BackendMemory, BackendPostgres, BackendChromem, BackendQdrant:
	default:
		return fmt.Errorf("unknown index backend: %s", c.Index.Backend)
	}
	if c.Index.Backend == BackendPostgres && c.Storage.Backend != BackendPostgres {
		return errors.New("index backend postgres requires storage backend postgres")
	}
	if c.Index.Backend == BackendMemory && c.Storage.Backend != BackendMemory {
		return errors.New("index backend memory requires storage backend memory")
	}
	switch c.Database.Driver {
	case DriverPgdriver, DriverPq:
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}
	for _, l := range []LLMConfig{c.EmbedLLM, c.InferenceLLM} {
		if l.Provider != ProviderOpenAI && l.Provider != ProviderOllama {
			return fmt.Errorf("unknown llm provider: %s", l.Provider)
		}
	}
	if t := c.InferenceLLM.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("temperature %.2f outside [0,2]", t)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must not be negative, got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.RAG.TopK)
	}
	for _, t := range c.RAG.Thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("threshold %.2f outside [0,1]", t)
		}
	}
	if c.RAG.InsertBatchSize <= 0 || c.RAG.Workers <= 0 {
		return errors.New("insert_batch_size and workers must be positive")
	}
	return nil
}
