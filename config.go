package goreason

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration tree, loaded from TOML per spec.md
// §6's discovery order and section layout (confirmed precisely by
// SPEC_FULL.md §C.1's reading of the original Rust config.rs).
type Config struct {
	Server         ServerConfig         `toml:"server"`
	LLM            LLMEndpointConfig    `toml:"llm"`
	Embeddings     EmbeddingsConfig     `toml:"embeddings"`
	Vision         VisionConfig         `toml:"vision"`
	Chunking       ChunkingConfig       `toml:"chunking"`
	VectorDB       VectorDBConfig       `toml:"vector_db"`
	DocumentStore  DocumentStoreConfig  `toml:"document_store"`
	ExternalParser ExternalParserConfig `toml:"external_parser"`
	Reasoning      ReasoningConfig      `toml:"reasoning"`
	Jobs           JobsConfig           `toml:"jobs"`
	Cache          CacheConfig          `toml:"cache"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	EnableCORS    bool   `toml:"enable_cors"`
	CORSOrigins   string `toml:"cors_origins"`
	MaxUploadSize int64  `toml:"max_upload_size"`
	APIKey        string `toml:"api_key"`
}

// LLMEndpointConfig configures the generation (chat) provider.
type LLMEndpointConfig struct {
	Provider      string  `toml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	BaseURL       string  `toml:"base_url"`
	APIKey        string  `toml:"api_key"`
	GenerateModel string  `toml:"generate_model"`
	Temperature   float64 `toml:"temperature"`
	TimeoutSecs   int     `toml:"timeout_secs"`
	MaxRetries    int     `toml:"max_retries"`
	ContextSize   int     `toml:"context_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider    string `toml:"provider"`
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	Model       string `toml:"model"`
	Dimensions  int    `toml:"dimensions"`
	BatchSize   int    `toml:"batch_size"`
	MaxLength   int    `toml:"max_length"`
	CacheDir    string `toml:"cache_dir"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

// requestTimeout returns the configured embedding request timeout,
// defaulting to 60s — embedding calls are cheaper than chat completions
// and shouldn't wait as long before giving up.
func (c EmbeddingsConfig) requestTimeout() time.Duration {
	secs := c.TimeoutSecs
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// VisionConfig configures the optional vision LLM used for the
// scanned-image parser tier and image captioning (spec.md §4.1's vision
// fallback, SPEC_FULL.md §D's WithExtractImages).
type VisionConfig struct {
	Enabled  bool   `toml:"enabled"`
	Provider string `toml:"provider"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
}

// ChunkingConfig controls the C2 sliding-window chunker's defaults.
type ChunkingConfig struct {
	ChunkSize        int  `toml:"chunk_size"`
	ChunkOverlap     int  `toml:"chunk_overlap"`
	MinChunkSize     int  `toml:"min_chunk_size"`
	RespectSentences bool `toml:"respect_sentences"`
}

// VectorDBConfig selects and sizes the C4 vector store backend.
// StoragePath also names the SQLite registry database (C5's document
// registry and C4's local vector index share one file, as in the
// teacher repo).
type VectorDBConfig struct {
	Backend            string `toml:"backend"` // "local" (sqlite-vec) or "qdrant"
	StoragePath        string `toml:"storage_path"`
	HNSWM              int    `toml:"hnsw_m"`
	HNSWEfConstruction int    `toml:"hnsw_ef_construction"`
	HNSWEfSearch       int    `toml:"hnsw_ef_search"`
	QdrantHost         string `toml:"qdrant_host"`
	QdrantPort         int    `toml:"qdrant_port"`
	QdrantAPIKey       string `toml:"qdrant_api_key"`
	QdrantUseTLS       bool   `toml:"qdrant_use_tls"`
	QdrantCollection   string `toml:"qdrant_collection"`
}

// DocumentStoreConfig selects and sizes the C5 document store backend.
type DocumentStoreConfig struct {
	Backend      string `toml:"backend"` // "local" or "s3"
	LocalDir     string `toml:"local_dir"`
	S3Bucket     string `toml:"s3_bucket"`
	S3Region     string `toml:"s3_region"`
	S3Endpoint   string `toml:"s3_endpoint"`
	S3Prefix     string `toml:"s3_prefix"`
	S3AccessKey  string `toml:"s3_access_key"`
	S3SecretKey  string `toml:"s3_secret_key"`
	S3PathStyle  bool   `toml:"s3_path_style"`
}

// ExternalParserConfig configures the LlamaParse fallback for the
// text-with-layout parser tier.
type ExternalParserConfig struct {
	Enabled    bool   `toml:"enabled"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	// PollTimeoutSecs bounds how long to wait for a LlamaParse job to
	// finish before giving up and falling through to the tier's next
	// strategy. Defaults to 300s (5 minutes) if unset.
	PollTimeoutSecs int `toml:"poll_timeout_secs"`
}

// pollTimeout returns the configured LlamaParse poll deadline, defaulting
// to 5 minutes.
func (c ExternalParserConfig) pollTimeout() time.Duration {
	secs := c.PollTimeoutSecs
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// ReasoningConfig controls the C10 reasoning engine.
type ReasoningConfig struct {
	MaxRounds           int     `toml:"max_rounds"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	LearningExamples    int     `toml:"learning_examples"`
}

// JobsConfig controls the C7 job queue and worker pool.
type JobsConfig struct {
	Workers          int `toml:"workers"`
	QueueCapacity    int `toml:"queue_capacity"`
	ChunkConcurrency int `toml:"chunk_concurrency"`
	RetentionHours   int `toml:"retention_hours"`
}

// CacheConfig controls the C12 knowledge store and answer cache.
type CacheConfig struct {
	AnswerCacheCapacity int    `toml:"answer_cache_capacity"`
	Backend             string `toml:"backend"` // "memory" or "redis"
	RedisAddr           string `toml:"redis_addr"`
	RedisPassword       string `toml:"redis_password"`
	RedisDB             int    `toml:"redis_db"`
	RedisTTLSeconds     int    `toml:"redis_ttl_seconds"`
	KnowledgeTopK       int    `toml:"knowledge_top_k"`
}

// DefaultConfig returns a Config with the defaults SPEC_FULL.md §C.1
// confirms from the original Rust config.rs: a working local setup
// against an Ollama instance with no file present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			MaxUploadSize: 100 << 20, // 100MiB
		},
		LLM: LLMEndpointConfig{
			Provider:      "ollama",
			BaseURL:       "http://localhost:11434",
			GenerateModel: "llama3.1:8b",
			Temperature:   0.3,
			TimeoutSecs:   300,
			MaxRetries:    3,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
		},
		Vision: VisionConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "llama3.2-vision",
		},
		Chunking: ChunkingConfig{
			ChunkSize:        1024,
			ChunkOverlap:     200,
			MinChunkSize:     100,
			RespectSentences: true,
		},
		VectorDB: VectorDBConfig{
			Backend:            "local",
			StoragePath:        defaultStoragePath(),
			HNSWM:              32,
			HNSWEfConstruction: 200,
			HNSWEfSearch:       100,
		},
		DocumentStore: DocumentStoreConfig{
			Backend:  "local",
			LocalDir: defaultDocumentStoreDir(),
		},
		Reasoning: ReasoningConfig{
			MaxRounds:           3,
			ConfidenceThreshold: 0.7,
			LearningExamples:    3,
		},
		Jobs: JobsConfig{
			QueueCapacity:    256,
			ChunkConcurrency: 8,
			RetentionHours:   24,
		},
		Cache: CacheConfig{
			AnswerCacheCapacity: 256,
			Backend:             "memory",
			RedisTTLSeconds:     3600,
			KnowledgeTopK:       3,
		},
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "goreason.db"
	}
	return home + "/.goreason/goreason.db"
}

func defaultDocumentStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "goreason-documents"
	}
	return home + "/.goreason/documents"
}

// LoadConfig resolves the config file per spec.md §6's discovery order:
// an explicit path (from the --config flag), then the RAG_CONFIG
// environment variable, then ./config.toml, falling back to
// DefaultConfig when none exist.
func LoadConfig(explicitPath string) (Config, error) {
	cfg := DefaultConfig()

	path := explicitPath
	if path == "" {
		path = os.Getenv("RAG_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("config.toml"); err == nil {
			path = "config.toml"
		}
	}
	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decoding %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// requestTimeout returns the configured LLM request timeout, defaulting
// to 300s when unset.
func (c LLMEndpointConfig) requestTimeout() time.Duration {
	secs := c.TimeoutSecs
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// jobRetention returns the configured job-retention duration, defaulting
// to 24h per spec.md §4.7.
func (c JobsConfig) jobRetention() time.Duration {
	hours := c.RetentionHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}
