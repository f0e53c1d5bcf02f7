package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig       `toml:"app"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	RabbitMQ  RabbitMQConfig  `toml:"rabbitmq"`
	Storage   StorageConfig   `toml:"storage"`
	Embedding EmbeddingConfig `toml:"embedding"`
	LLM       LLMConfig       `toml:"llm"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	CORS      CORSConfig      `toml:"cors"`
}

type AppConfig struct {
	Name        string `toml:"name"`
	Env         string `toml:"env"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	GinMode     string `toml:"gin_mode"`
	LogLevel    string `toml:"log_level"`
	MaxUploadMB int    `toml:"max_upload_mb"`
}

// DatabaseConfig selects the gorm dialector. Driver is "postgres" (pgvector
// column) or "mysql" (embedding stored as text).
type DatabaseConfig struct {
	Driver   string `toml:"driver"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DB       string `toml:"db"`
	Params   string `toml:"params"`
}

type RedisConfig struct {
	Addr                 string `toml:"addr"`
	Password             string `toml:"password"`
	DB                   int    `toml:"db"`
	TranscriptTTLSeconds int    `toml:"transcript_ttl_seconds"`
}

type RabbitMQConfig struct {
	URL         string `toml:"url"`
	IngestQueue string `toml:"ingest_queue"`
}

type StorageConfig struct {
	Driver    string `toml:"driver"` // local | s3
	UploadDir string `toml:"upload_dir"`
	S3Bucket  string `toml:"s3_bucket"`
	S3Region  string `toml:"s3_region"`
	S3Access  string `toml:"s3_access_key"`
	S3Secret  string `toml:"s3_secret_key"`
	S3Prefix  string `toml:"s3_prefix"`
}

type EmbeddingConfig struct {
	Provider          string `toml:"provider"` // onnx | ollama | openai
	ModelPath         string `toml:"model_path"`
	ONNXSharedLibPath string `toml:"onnx_shared_lib_path"`
	OllamaBaseURL     string `toml:"ollama_base_url"`
	APIBaseURL        string `toml:"api_base_url"`
	APIKey            string `toml:"api_key"`
	BatchSize         int    `toml:"batch_size"`
	MaxSeqLen         int    `toml:"max_seq_len"`
}

type LLMConfig struct {
	BaseURL                 string   `toml:"base_url"`
	DefaultModel            string   `toml:"default_model"`
	AllowedModels           []string `toml:"allowed_models"`
	ConnectTimeoutSeconds   int      `toml:"connect_timeout_seconds"`
	ReadTimeoutSeconds      int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds     int      `toml:"write_timeout_seconds"`
	MaxConnections          int      `toml:"max_connections"`
	AdmissionTimeoutSeconds int      `toml:"admission_timeout_seconds"`
	MaxContextMessages      int      `toml:"max_context_messages"`
}

type ChunkingConfig struct {
	MaxChars     int `toml:"max_chars"`
	OverlapChars int `toml:"overlap_chars"`
}

type CORSConfig struct {
	AllowOrigins []string `toml:"allow_origins"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Chunking.MaxChars <= 0 {
		return errors.New("chunking.max_chars must be positive")
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars >= c.Chunking.MaxChars {
		return errors.New("chunking.overlap_chars must be in [0, max_chars)")
	}
	if strings.TrimSpace(c.LLM.DefaultModel) == "" {
		return errors.New("llm.default_model is required")
	}
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "local", "s3":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	switch c.Embedding.Provider {
	case "onnx", "ollama", "openai":
	default:
		return fmt.Errorf("unsupported embedding provider %q", c.Embedding.Provider)
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			c.Database.User,
			c.Database.Password,
			c.Database.Host,
			c.Database.Port,
			c.Database.DB,
			c.Database.Params,
		)
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DB,
	)
	if c.Database.Params != "" {
		dsn += " " + c.Database.Params
	}
	return dsn
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.App.MaxUploadMB) << 20
}

func (c LLMConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c LLMConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c LLMConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c LLMConfig) AdmissionTimeout() time.Duration {
	return time.Duration(c.AdmissionTimeoutSeconds) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "docchat",
			Env:         "dev",
			Host:        "0.0.0.0",
			Port:        8000,
			GinMode:     "debug",
			LogLevel:    "info",
			MaxUploadMB: 20,
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "postgres",
			Port:     5432,
			User:     "smart",
			Password: "smart",
			DB:       "smart",
			Params:   "sslmode=disable TimeZone=UTC",
		},
		Redis: RedisConfig{
			Addr:                 "",
			DB:                   0,
			TranscriptTTLSeconds: 300,
		},
		RabbitMQ: RabbitMQConfig{
			URL:         "",
			IngestQueue: "documents.ingest",
		},
		Storage: StorageConfig{
			Driver:    "local",
			UploadDir: "data/uploads",
			S3Region:  "us-east-1",
			S3Prefix:  "documents/",
		},
		Embedding: EmbeddingConfig{
			Provider:  "onnx",
			ModelPath: "",
			BatchSize: 32,
			MaxSeqLen: 256,
		},
		LLM: LLMConfig{
			BaseURL:                 "http://ollama:11434",
			DefaultModel:            "qwen3:0.6b",
			AllowedModels:           []string{"qwen3:0.6b"},
			ConnectTimeoutSeconds:   5,
			ReadTimeoutSeconds:      120,
			WriteTimeoutSeconds:     10,
			MaxConnections:          2,
			AdmissionTimeoutSeconds: 30,
			MaxContextMessages:      0,
		},
		Chunking: ChunkingConfig{
			MaxChars:     1200,
			OverlapChars: 200,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"http://localhost:8501"},
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.MaxUploadMB = getEnvAsInt("MAX_UPLOAD_MB", cfg.App.MaxUploadMB)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnv("POSTGRES_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("POSTGRES_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("POSTGRES_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("POSTGRES_PASSWORD", cfg.Database.Password)
	cfg.Database.DB = getEnv("POSTGRES_DB", cfg.Database.DB)
	cfg.Database.Params = getEnv("DB_PARAMS", cfg.Database.Params)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TranscriptTTLSeconds = getEnvAsInt("REDIS_TRANSCRIPT_TTL_SECONDS", cfg.Redis.TranscriptTTLSeconds)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.IngestQueue = getEnv("RABBITMQ_INGEST_QUEUE", cfg.RabbitMQ.IngestQueue)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.UploadDir = getEnv("UPLOAD_DOC_DIR", cfg.Storage.UploadDir)
	cfg.Storage.S3Bucket = getEnv("S3_BUCKET", cfg.Storage.S3Bucket)
	cfg.Storage.S3Region = getEnv("AWS_REGION", cfg.Storage.S3Region)
	cfg.Storage.S3Access = getEnv("AWS_ACCESS_KEY", cfg.Storage.S3Access)
	cfg.Storage.S3Secret = getEnv("AWS_SECRET_KEY", cfg.Storage.S3Secret)
	cfg.Storage.S3Prefix = getEnv("S3_PREFIX", cfg.Storage.S3Prefix)

	cfg.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.ModelPath = getEnv("EMBEDDING_MODEL_PATH", cfg.Embedding.ModelPath)
	cfg.Embedding.ONNXSharedLibPath = getEnv("ONNX_SHARED_LIB", cfg.Embedding.ONNXSharedLibPath)
	cfg.Embedding.OllamaBaseURL = getEnv("EMBEDDING_OLLAMA_BASE_URL", cfg.Embedding.OllamaBaseURL)
	cfg.Embedding.APIBaseURL = getEnv("EMBEDDING_API_BASE_URL", cfg.Embedding.APIBaseURL)
	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.BatchSize = getEnvAsInt("EMBEDDING_BATCH_SIZE", cfg.Embedding.BatchSize)
	cfg.Embedding.MaxSeqLen = getEnvAsInt("EMBEDDING_MAX_SEQ_LEN", cfg.Embedding.MaxSeqLen)

	cfg.LLM.BaseURL = getEnv("OLLAMA_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.DefaultModel = getEnv("OLLAMA_MODEL_NAME", cfg.LLM.DefaultModel)
	cfg.LLM.AllowedModels = getEnvAsList("OLLAMA_ALLOWED_MODELS", cfg.LLM.AllowedModels)
	cfg.LLM.ConnectTimeoutSeconds = getEnvAsInt("LLM_CONNECT_TIMEOUT_SECONDS", cfg.LLM.ConnectTimeoutSeconds)
	cfg.LLM.ReadTimeoutSeconds = getEnvAsInt("LLM_READ_TIMEOUT_SECONDS", cfg.LLM.ReadTimeoutSeconds)
	cfg.LLM.WriteTimeoutSeconds = getEnvAsInt("LLM_WRITE_TIMEOUT_SECONDS", cfg.LLM.WriteTimeoutSeconds)
	cfg.LLM.MaxConnections = getEnvAsInt("LLM_MAX_CONNECTIONS", cfg.LLM.MaxConnections)
	cfg.LLM.AdmissionTimeoutSeconds = getEnvAsInt("LLM_ADMISSION_TIMEOUT_SECONDS", cfg.LLM.AdmissionTimeoutSeconds)
	cfg.LLM.MaxContextMessages = getEnvAsInt("LLM_MAX_CONTEXT_MESSAGES", cfg.LLM.MaxContextMessages)

	cfg.Chunking.MaxChars = getEnvAsInt("CHUNK_MAX_CHARS", cfg.Chunking.MaxChars)
	cfg.Chunking.OverlapChars = getEnvAsInt("CHUNK_OVERLAP_CHARS", cfg.Chunking.OverlapChars)

	cfg.CORS.AllowOrigins = getEnvAsList("CORS_ALLOW_ORIGINS", cfg.CORS.AllowOrigins)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
