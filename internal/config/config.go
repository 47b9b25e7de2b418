package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port                int              `json:"port"`
	JWTSecret           string           `json:"jwt_secret"`
	JWTTTLHours         int              `json:"jwt_ttl_hours"`
	CORSOrigins         []string         `json:"cors_origins"`
	MaxUploadSizeMB     int64            `json:"max_upload_size_mb"`
	AskRateLimitSeconds int              `json:"ask_rate_limit_seconds"`
	LogConfig           logger.LogConfig `json:"log_config"`
	Database            DatabaseConfig   `json:"database"`
	FileStore           FileStoreConfig  `json:"file_store"`
	AI                  AIConfig         `json:"ai"`
	Parser              ParserConfig     `json:"parser"`
	Pipeline            PipelineConfig   `json:"pipeline"`
	Retrieval           RetrievalConfig  `json:"retrieval"`
	Schedule            ScheduleConfig   `json:"schedule"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
	DSN      string `json:"dsn"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AICacheConfig struct {
	LRUSize       int `json:"lru_size"`
	LRUTTLMinutes int `json:"lru_ttl_minutes"`
}

type AIConfig struct {
	Chat                AIProviderConfig   `json:"chat"`
	ChatFallbacks       []AIProviderConfig `json:"chat_fallbacks"`
	ChatTimeoutSeconds  int                `json:"chat_timeout_seconds"`
	Embedding           AIProviderConfig   `json:"embedding"`
	EmbedDimension      int                `json:"embed_dimension"`
	EmbedBatchSize      int                `json:"embed_batch_size"`
	EmbedBatchDelayMs   int                `json:"embed_batch_delay_ms"`
	EmbedRatePerSecond  float64            `json:"embed_rate_per_second"`
	EmbedTimeoutSeconds int                `json:"embed_timeout_seconds"`
	Cache               AICacheConfig      `json:"cache"`
}

type ParserConfig struct {
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts"`
	BaseDelayMs int     `json:"base_delay_ms"`
	MaxDelayMs  int     `json:"max_delay_ms"`
	Factor      float64 `json:"factor"`
	Jitter      float64 `json:"jitter"`
}

type PipelineConfig struct {
	ChunkSize    int         `json:"chunk_size"`
	ChunkOverlap int         `json:"chunk_overlap"`
	MaxWorkers   int         `json:"max_workers"`
	Retry        RetryConfig `json:"retry"`
}

type RetrievalConfig struct {
	TopK             int     `json:"top_k"`
	Threshold        float64 `json:"threshold"`
	HistoryExchanges int     `json:"history_exchanges"`
}

type ScheduleConfig struct {
	SyncSpec         string `json:"sync_spec"`
	SyncMinAgeMin    int    `json:"sync_min_age_minutes"`
	CacheCleanupSpec string `json:"cache_cleanup_spec"`
	CacheTTLDays     int    `json:"cache_ttl_days"`
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
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.MaxUploadSizeMB <= 0 {
		cfg.MaxUploadSizeMB = 32
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.DSN == "" {
		if cfg.Database.Host == "" || cfg.Database.DBName == "" {
			return nil, fmt.Errorf("database host/dbname are required")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	}
	if cfg.FileStore.Type == "" {
		return nil, fmt.Errorf("file_store.type is required")
	}
	if cfg.AI.Chat.Provider == "" {
		return nil, fmt.Errorf("ai.chat.provider is required")
	}
	if cfg.AI.Chat.Model == "" {
		return nil, fmt.Errorf("ai.chat.model is required")
	}
	if cfg.AI.Embedding.Provider == "" {
		return nil, fmt.Errorf("ai.embedding.provider is required")
	}
	if cfg.AI.Embedding.Model == "" {
		return nil, fmt.Errorf("ai.embedding.model is required")
	}
	if cfg.AI.ChatTimeoutSeconds <= 0 {
		cfg.AI.ChatTimeoutSeconds = 60
	}
	if cfg.AI.EmbedDimension <= 0 {
		cfg.AI.EmbedDimension = 1536
	}
	if cfg.AI.EmbedBatchSize <= 0 {
		cfg.AI.EmbedBatchSize = 64
	}
	if cfg.AI.EmbedTimeoutSeconds <= 0 {
		cfg.AI.EmbedTimeoutSeconds = 30
	}
	if cfg.Parser.TimeoutSeconds <= 0 {
		cfg.Parser.TimeoutSeconds = 120
	}
	if cfg.Pipeline.ChunkSize <= 0 {
		cfg.Pipeline.ChunkSize = 1000
	}
	if cfg.Pipeline.ChunkOverlap <= 0 {
		cfg.Pipeline.ChunkOverlap = 200
	}
	if cfg.Pipeline.ChunkOverlap >= cfg.Pipeline.ChunkSize {
		cfg.Pipeline.ChunkOverlap = cfg.Pipeline.ChunkSize / 5
	}
	if cfg.Pipeline.MaxWorkers <= 0 {
		cfg.Pipeline.MaxWorkers = 4
	}
	if cfg.Pipeline.Retry.MaxAttempts <= 0 {
		cfg.Pipeline.Retry.MaxAttempts = 3
	}
	if cfg.Pipeline.Retry.BaseDelayMs <= 0 {
		cfg.Pipeline.Retry.BaseDelayMs = 1000
	}
	if cfg.Pipeline.Retry.MaxDelayMs <= 0 {
		cfg.Pipeline.Retry.MaxDelayMs = 30000
	}
	if cfg.Pipeline.Retry.Factor <= 1 {
		cfg.Pipeline.Retry.Factor = 2
	}
	if cfg.Pipeline.Retry.Jitter < 0 || cfg.Pipeline.Retry.Jitter >= 1 {
		cfg.Pipeline.Retry.Jitter = 0.2
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.Threshold <= 0 || cfg.Retrieval.Threshold > 1 {
		cfg.Retrieval.Threshold = 0.7
	}
	if cfg.Retrieval.HistoryExchanges <= 0 {
		cfg.Retrieval.HistoryExchanges = 5
	}
	if cfg.Schedule.SyncSpec == "" {
		cfg.Schedule.SyncSpec = "*/5 * * * *"
	}
	if cfg.Schedule.SyncMinAgeMin <= 0 {
		cfg.Schedule.SyncMinAgeMin = 5
	}
	if cfg.Schedule.CacheCleanupSpec == "" {
		cfg.Schedule.CacheCleanupSpec = "20 3 * * *"
	}
	if cfg.Schedule.CacheTTLDays <= 0 {
		cfg.Schedule.CacheTTLDays = 30
	}
	return &cfg, nil
}
