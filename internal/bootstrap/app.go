package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docchat/internal/app"
	"docchat/internal/cache"
	"docchat/internal/chunker"
	"docchat/internal/config"
	"docchat/internal/embedding"
	"docchat/internal/llm"
	"docchat/internal/logger"
	"docchat/internal/platform/database"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
	redisClient "docchat/internal/platform/redis"
	"docchat/internal/repository"
	"docchat/internal/storage"
	"docchat/internal/worker"
)

type App struct {
	Config *config.Config
	Log    *slog.Logger
	DB     *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Embedder *embedding.Generator
	Gateway  *llm.Gateway

	Ingestion     *app.IngestionService
	Documents     *app.DocumentService
	Conversations *app.ConversationService
	Jobs          *rabbitmqClient.JobPublisher
	IngestWorker  *worker.IngestWorker

	StartedAt time.Time
}

// New loads configuration and wires every component. Redis and RabbitMQ are
// optional; without them the transcript cache and async uploads are off.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	if err := a.wire(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			log.Warn("close partially started app failed", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	a.DB = db

	a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}

	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
	if err != nil {
		return err
	}

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	a.Embedder, err = newEmbedder(cfg, a.Log)
	if err != nil {
		return err
	}

	textChunker, err := chunker.New(cfg.Chunking.MaxChars, cfg.Chunking.OverlapChars)
	if err != nil {
		return err
	}

	a.Gateway = llm.New(llm.Config{
		BaseURL:          cfg.LLM.BaseURL,
		DefaultModel:     cfg.LLM.DefaultModel,
		AllowedModels:    cfg.LLM.AllowedModels,
		ConnectTimeout:   cfg.LLM.ConnectTimeout(),
		ReadTimeout:      cfg.LLM.ReadTimeout(),
		WriteTimeout:     cfg.LLM.WriteTimeout(),
		MaxConnections:   cfg.LLM.MaxConnections,
		AdmissionTimeout: cfg.LLM.AdmissionTimeout(),
	}, llm.WithLogger(a.Log))

	docRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	var transcripts app.TranscriptCache
	if a.Redis != nil {
		transcripts = cache.NewTranscriptCache(a.Redis, time.Duration(cfg.Redis.TranscriptTTLSeconds)*time.Second)
	}

	a.Ingestion = app.NewIngestionService(docRepo, chunkRepo, blobs, textChunker, a.Embedder, a.Log)
	a.Documents = app.NewDocumentService(docRepo, chunkRepo, blobs, a.Log)
	a.Conversations = app.NewConversationService(convRepo, msgRepo, a.Gateway, transcripts, cfg.LLM.MaxContextMessages, a.Log)

	if a.MQConn != nil {
		a.Jobs = rabbitmqClient.NewJobPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue)
		a.IngestWorker = worker.NewIngestWorker(a.MQConn, a.Ingestion, cfg.RabbitMQ.IngestQueue, a.Log)
		if err := a.IngestWorker.Start(ctx); err != nil {
			return fmt.Errorf("start ingest worker failed: %w", err)
		}
	}

	a.Log.Info("app wired",
		"database", cfg.Database.Driver,
		"storage", cfg.Storage.Driver,
		"embedding", cfg.Embedding.Provider,
		"transcript_cache", a.Redis != nil,
		"async_ingest", a.MQConn != nil,
	)
	return nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Driver {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3Access,
			SecretKey: cfg.S3Secret,
			Prefix:    cfg.S3Prefix,
		})
	case "local":
		return storage.NewLocalStore(cfg.UploadDir)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func newEmbedder(cfg *config.Config, log *slog.Logger) (*embedding.Generator, error) {
	var load embedding.Loader
	switch cfg.Embedding.Provider {
	case "onnx":
		load = embedding.ONNXLoader(cfg.Embedding.ONNXSharedLibPath, cfg.Embedding.MaxSeqLen)
	case "ollama":
		baseURL := cfg.Embedding.OllamaBaseURL
		if baseURL == "" {
			baseURL = cfg.LLM.BaseURL
		}
		load = embedding.OllamaLoader(baseURL, nil)
	case "openai":
		load = embedding.OpenAILoader(cfg.Embedding.APIBaseURL, cfg.Embedding.APIKey, nil)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Embedding.Provider)
	}
	return embedding.NewGenerator(
		cfg.Embedding.ModelPath,
		load,
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithLogger(log),
	), nil
}

// Close stops the worker first so no job is mid-flight when its
// dependencies go away.
func (a *App) Close() error {
	var errs []error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Gateway != nil {
		a.Gateway.Shutdown()
	}
	if a.Embedder != nil {
		if err := a.Embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder failed: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis failed: %w", err))
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq failed: %w", err))
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database failed: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
