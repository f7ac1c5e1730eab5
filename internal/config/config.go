package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LLMConfig points at one external model service.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

// RAGConfig tunes the retrieval pipeline.
type RAGConfig struct {
	// ChunkSize is the chunk window length in characters (runes).
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is how many trailing characters of a chunk reappear
	// at the head of the next one. Must be smaller than ChunkSize.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// TopK caps how many chunks a query retrieves.
	TopK int `yaml:"top_k"`
	// MaxContextLength caps the assembled context in characters.
	MaxContextLength int `yaml:"max_context_length"`
	// MaxUploadSize caps ingested payloads in bytes.
	MaxUploadSize int64 `yaml:"max_upload_size"`
}

// StoreConfig selects and configures the vector index backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // "chromem" or "postgres"
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	DSN        string `yaml:"dsn"`
	VectorSize int    `yaml:"vector_size"`
	Debug      bool   `yaml:"debug"`
}

// FetchConfig tunes URL ingestion.
type FetchConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type Config struct {
	Store    StoreConfig `yaml:"store"`
	EmbedLLM LLMConfig   `yaml:"embed_llm"`
	GenLLM   LLMConfig   `yaml:"gen_llm"`
	RAG      RAGConfig   `yaml:"rag"`
	Fetch    FetchConfig `yaml:"fetch"`
}

const (
	defaultOllamaURL        = "http://localhost:11434"
	defaultEmbeddingModel   = "nomic-embed-text"
	defaultInferenceModel   = "gemma3:1b"
	defaultChunkSize        = 800
	defaultChunkOverlap     = 150
	defaultTopK             = 10
	defaultMaxContextLength = 4000
	defaultMaxUploadSize    = 10 << 20 // 10MB
	defaultStorePath        = "./data/index"
	defaultCollection       = "documents"
	defaultVectorSize       = 768
	defaultFetchTimeout     = 30
)

// Default returns a Config with every recognized option set to its
// documented default.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:    "chromem",
			Path:       defaultStorePath,
			Collection: defaultCollection,
			VectorSize: defaultVectorSize,
		},
		EmbedLLM: LLMConfig{
			BaseURL: defaultOllamaURL,
			Model:   defaultEmbeddingModel,
		},
		GenLLM: LLMConfig{
			BaseURL: defaultOllamaURL,
			Model:   defaultInferenceModel,
		},
		RAG: RAGConfig{
			ChunkSize:        defaultChunkSize,
			ChunkOverlap:     defaultChunkOverlap,
			TopK:             defaultTopK,
			MaxContextLength: defaultMaxContextLength,
			MaxUploadSize:    defaultMaxUploadSize,
		},
		Fetch: FetchConfig{TimeoutSeconds: defaultFetchTimeout},
	}
}

// LoadConfig reads a YAML config file and fills unset options with
// defaults. A missing file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	fillDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = def.Store.Collection
	}
	if cfg.Store.VectorSize == 0 {
		cfg.Store.VectorSize = def.Store.VectorSize
	}
	if cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = def.EmbedLLM.BaseURL
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = def.EmbedLLM.Model
	}
	if cfg.GenLLM.BaseURL == "" {
		cfg.GenLLM.BaseURL = def.GenLLM.BaseURL
	}
	if cfg.GenLLM.Model == "" {
		cfg.GenLLM.Model = def.GenLLM.Model
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = def.RAG.ChunkSize
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = def.RAG.ChunkOverlap
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.RAG.MaxContextLength == 0 {
		cfg.RAG.MaxContextLength = def.RAG.MaxContextLength
	}
	if cfg.RAG.MaxUploadSize == 0 {
		cfg.RAG.MaxUploadSize = def.RAG.MaxUploadSize
	}
	if cfg.Fetch.TimeoutSeconds == 0 {
		cfg.Fetch.TimeoutSeconds = def.Fetch.TimeoutSeconds
	}
}

// applyEnv lets the service endpoints and models be overridden without
// editing the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.EmbedLLM.BaseURL = v
		cfg.GenLLM.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.GenLLM.Model = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbedLLM.Model = v
	}
	if v := os.Getenv("VECTOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}
