package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port           int              `json:"port"`
	JWTSecret      string           `json:"jwt_secret"`
	JWTTTLHours    int              `json:"jwt_ttl_hours"`
	// AllowedOrigins feeds the CORS allowlist; empty allows any origin.
	AllowedOrigins []string         `json:"allowed_origins"`
	LogConfig      logger.LogConfig `json:"log_config"`
	Database       DatabaseConfig   `json:"database"`
	Vector         VectorConfig     `json:"vector"`
	AI             AIConfig         `json:"ai"`
	Ingestion      IngestionConfig  `json:"ingestion"`
	Retrieval      RetrievalConfig  `json:"retrieval"`
	Chat           ChatConfig       `json:"chat"`
	FileStore      FileStoreConfig  `json:"file_store"`
	Jobs           JobsConfig       `json:"jobs"`
	RateLimit      RateLimitConfig  `json:"rate_limit"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type VectorConfig struct {
	// Type selects the store backend: pgvector, pinecone or memory.
	Type            string         `json:"type"`
	Dimension       int            `json:"dimension"`
	NamespacePrefix string         `json:"namespace_prefix"`
	Env             string         `json:"env"`
	Pinecone        PineconeConfig `json:"pinecone"`
}

type PineconeConfig struct {
	APIKey    string `json:"api_key"`
	IndexHost string `json:"index_host"`
}

type AIConfig struct {
	Provider      string                 `json:"provider"`
	Data          map[string]interface{} `json:"data"`
	Model         string                 `json:"model"`
	EmbedModel    string                 `json:"embed_model"`
	MaxInputChars int                    `json:"max_input_chars"`
	Timeout       int                    `json:"timeout"`
	EmbedCache    EmbedCacheConfig       `json:"embed_cache"`
}

type EmbedCacheConfig struct {
	Size       int `json:"size"`
	TTLMinutes int `json:"ttl_minutes"`
}

type IngestionConfig struct {
	ChunkSize      int `json:"chunk_size"`
	ChunkOverlap   int `json:"chunk_overlap"`
	EmbedBatchSize int `json:"embed_batch_size"`
}

type RetrievalConfig struct {
	TopK          int     `json:"top_k"`
	FetchK        int     `json:"fetch_k"`
	UseMMR        bool    `json:"use_mmr"`
	MMRLambda     float64 `json:"mmr_lambda"`
	RerankEnabled bool    `json:"rerank_enabled"`
	Reranker      string  `json:"reranker"`
}

type ChatConfig struct {
	MemoryTurns         int `json:"memory_turns"`
	SummaryRefreshTurns int `json:"summary_refresh_turns"`
	MaxMessageChars     int `json:"max_message_chars"`
}

type FileStoreConfig struct {
	Type      string   `json:"type"`
	Dir       string   `json:"dir"`
	PublicURL string   `json:"public_url"`
	S3        S3Config `json:"s3"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

type JobsConfig struct {
	SweepSpec       string `json:"sweep_spec"`
	StaleJobMinutes int    `json:"stale_job_minutes"`
}

type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	RPS     int  `json:"rps"`
	Burst   int  `json:"burst"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	applyVectorDefaults(&cfg)
	applyPipelineDefaults(&cfg)
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	switch cfg.FileStore.Type {
	case "local":
		if cfg.FileStore.Dir == "" {
			return nil, fmt.Errorf("file_store.dir is required for local store")
		}
	case "s3":
		if cfg.FileStore.S3.Endpoint == "" || cfg.FileStore.S3.Bucket == "" || cfg.FileStore.S3.SecretID == "" || cfg.FileStore.S3.SecretKey == "" {
			return nil, fmt.Errorf("file_store.s3 endpoint/bucket/secret_id/secret_key are required for s3 store")
		}
		if cfg.FileStore.S3.Region == "" {
			cfg.FileStore.S3.Region = "us-east-1"
		}
	default:
		return nil, fmt.Errorf("file_store.type must be local or s3")
	}
	if cfg.Jobs.SweepSpec == "" {
		cfg.Jobs.SweepSpec = "*/10 * * * *"
	}
	if cfg.Jobs.StaleJobMinutes <= 0 {
		cfg.Jobs.StaleJobMinutes = 120
	}
	return &cfg, nil
}

func applyVectorDefaults(cfg *Config) {
	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "pgvector"
	}
	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = 768
	}
	if cfg.Vector.NamespacePrefix == "" {
		cfg.Vector.NamespacePrefix = "tenant"
	}
}

func applyPipelineDefaults(cfg *Config) {
	if cfg.Ingestion.ChunkSize == 0 {
		cfg.Ingestion.ChunkSize = 500
	}
	if cfg.Ingestion.ChunkOverlap == 0 {
		cfg.Ingestion.ChunkOverlap = 50
	}
	if cfg.Ingestion.EmbedBatchSize == 0 {
		cfg.Ingestion.EmbedBatchSize = 32
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 6
	}
	if cfg.Retrieval.FetchK == 0 {
		cfg.Retrieval.FetchK = 24
	}
	if cfg.Retrieval.MMRLambda == 0 {
		cfg.Retrieval.MMRLambda = 0.5
	}
	if cfg.Retrieval.Reranker == "" {
		cfg.Retrieval.Reranker = "noop"
	}
	if cfg.Chat.MemoryTurns == 0 {
		cfg.Chat.MemoryTurns = 6
	}
	if cfg.Chat.SummaryRefreshTurns == 0 {
		cfg.Chat.SummaryRefreshTurns = 4
	}
	if cfg.Chat.MaxMessageChars == 0 {
		cfg.Chat.MaxMessageChars = 16000
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 30
	}
	if cfg.AI.EmbedCache.Size == 0 {
		cfg.AI.EmbedCache.Size = 2048
	}
	if cfg.AI.EmbedCache.TTLMinutes == 0 {
		cfg.AI.EmbedCache.TTLMinutes = 60
	}
}
