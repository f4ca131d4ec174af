package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"mathtutor-gateway/internal/ai"
	appsvc "mathtutor-gateway/internal/app"
	"mathtutor-gateway/internal/cache"
	"mathtutor-gateway/internal/config"
	"mathtutor-gateway/internal/graphcache"
	"mathtutor-gateway/internal/intent"
	"mathtutor-gateway/internal/platform/logger"
	mysqlClient "mathtutor-gateway/internal/platform/mysql"
	rabbitmqClient "mathtutor-gateway/internal/platform/rabbitmq"
	redisClient "mathtutor-gateway/internal/platform/redis"
	"mathtutor-gateway/internal/repository"
	"mathtutor-gateway/internal/router"
	"mathtutor-gateway/internal/scheduler"
	"mathtutor-gateway/internal/session"
	"mathtutor-gateway/internal/vectorstore"
	"mathtutor-gateway/internal/worker"
)

const drainTimeout = 10 * time.Second

type App struct {
	Config *config.Config
	Logger zerolog.Logger
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Query *appsvc.QueryService
	Admin *appsvc.AdminService

	StartedAt time.Time

	asyncWriter *worker.AsyncWriter
	writeWorker *worker.CacheWriteWorker
	scheduler   *scheduler.Scheduler
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	a := &App{
		Config:    cfg,
		Logger:    logger.New(cfg.Log.Level, cfg.Log.Format),
		StartedAt: time.Now(),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	log := a.Logger

	store, err := a.vectorStore(ctx)
	if err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, running without embedding cache and session snapshots")
		}
	}

	embedClient := ai.NewOpenAICompatibleClient(time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second)
	embedding := ai.NewEmbeddingClient(embedClient, ai.EmbeddingConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	var embedder ai.Embedder = embedding
	if a.Redis != nil {
		embedder = cache.NewEmbeddingCache(
			a.Redis,
			embedding,
			embedding.Model(),
			cfg.Redis.KeyPrefix,
			time.Duration(cfg.Embedding.CacheTTLSeconds)*time.Second,
			log,
		)
	}

	fast := ai.NewFastAdapter(ai.NewOpenAICompatibleClient(cfg.Models.Fast.Timeout()), chatConfig(cfg.Models.Fast))
	adapters := router.Adapters{
		Fast:        fast,
		Specialized: ai.NewSpecializedAdapter(ai.NewOpenAICompatibleClient(cfg.Models.Specialized.Timeout()), chatConfig(cfg.Models.Specialized)),
		General:     ai.NewGeneralAdapter(ai.NewOpenAICompatibleClient(cfg.Models.General.Timeout()), chatConfig(cfg.Models.General)),
	}

	graph := graphcache.NewManager(store, embedder, log)
	writer, err := a.cacheWriter(ctx, graph)
	if err != nil {
		return err
	}

	rt, err := router.New(adapters, writer, router.Options{
		Thresholds: router.Thresholds{
			High:   cfg.Routing.Tier1Threshold,
			Medium: cfg.Routing.Tier2Threshold,
			Low:    cfg.Routing.Tier3Threshold,
		},
		CallTimeout: cfg.CallTimeout(),
		Retries:     cfg.Routing.Retries,
	}, log)
	if err != nil {
		return fmt.Errorf("build router failed: %w", err)
	}

	var snapshots session.Snapshotter
	if cfg.Session.Snapshots && a.Redis != nil {
		snapshots = cache.NewSessionCache(a.Redis, cfg.Redis.KeyPrefix)
	}
	sessions, err := session.NewManager(session.Options{
		TTL:        cfg.SessionTTL(),
		HistoryCap: cfg.Session.HistoryCap,
	}, snapshots, log)
	if err != nil {
		return fmt.Errorf("build session store failed: %w", err)
	}

	classifier := intent.NewClassifier(fast, intent.Options{
		Threshold:     cfg.Classifier.RuleConfidenceThreshold,
		ModelFallback: cfg.Classifier.ModelFallback,
	}, log)

	a.Query = appsvc.NewQueryService(embedder, graph, rt, sessions, classifier, appsvc.QueryOptions{
		TopK:          cfg.Routing.TopK,
		MaxQueryChars: cfg.App.MaxQueryChars,
		MaxDepth:      cfg.Tutoring.MaxDepth,
	}, log)
	a.Admin = appsvc.NewAdminService(graph, embedder, sessions)

	a.scheduler = scheduler.NewScheduler(log)
	if err := a.scheduler.ScheduleReaper(sessions, cfg.ReapInterval()); err != nil {
		return err
	}
	a.scheduler.Start()

	log.Info().
		Str("vector_store", cfg.VectorStore.Backend).
		Str("cache_write", cfg.CacheWrite.Mode).
		Bool("redis", a.Redis != nil).
		Bool("session_snapshots", snapshots != nil).
		Msg("application wired")
	return nil
}

func (a *App) vectorStore(ctx context.Context) (vectorstore.Store, error) {
	cfg := a.Config
	if cfg.VectorStore.Backend != config.VectorStoreMySQL {
		return vectorstore.NewMemoryStore(), nil
	}
	db, err := mysqlClient.New(ctx, mysqlClient.Options{
		DSN:          cfg.MySQLDSN(),
		MaxOpenConns: cfg.MySQL.MaxOpenConns,
		MaxIdleConns: cfg.MySQL.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}
	a.MySQL = db
	return vectorstore.NewSQLStore(repository.NewCacheNodeRepository(db), cfg.Embedding.Dimensions), nil
}

func (a *App) cacheWriter(ctx context.Context, graph *graphcache.Manager) (router.CacheWriter, error) {
	cfg := a.Config
	if cfg.CacheWrite.Mode != config.CacheWriteRabbitMQ {
		a.asyncWriter = worker.NewAsyncWriter(graph, cfg.CacheWrite.Buffer, a.Logger)
		return a.asyncWriter, nil
	}

	conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.CacheWriteQueue)
	if err != nil {
		return nil, err
	}
	a.MQConn = conn
	a.writeWorker = worker.NewCacheWriteWorker(conn, graph, cfg.RabbitMQ.CacheWriteQueue, a.Logger)
	// the worker outlives ctx; Close stops it
	if err := a.writeWorker.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("start cache write worker failed: %w", err)
	}
	return rabbitmqClient.NewCacheWritePublisher(conn, cfg.RabbitMQ.CacheWriteQueue), nil
}

func chatConfig(m config.ModelConfig) ai.ChatConfig {
	temperature, topP := m.Temperature, m.TopP
	return ai.ChatConfig{
		BaseURL:     m.BaseURL,
		APIKey:      m.APIKey,
		Model:       m.Model,
		Temperature: &temperature,
		TopP:        &topP,
		MaxTokens:   m.MaxTokens,
	}
}

// Close stops background work and releases connections. Queued in-process
// cache writes are drained first.
func (a *App) Close() error {
	var errs []error
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.asyncWriter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		errs = append(errs, a.asyncWriter.Close(ctx))
		cancel()
	}
	if a.writeWorker != nil {
		a.writeWorker.Close()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		errs = append(errs, a.MQConn.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
