package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/storesync/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/storesync/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/storesync/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/storesync/internal/adapters/driven/redis"
	"github.com/custodia-labs/storesync/internal/config"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
	"github.com/custodia-labs/storesync/internal/core/ports/driving"
	"github.com/custodia-labs/storesync/internal/core/services"
	"github.com/custodia-labs/storesync/internal/logging"
	"github.com/custodia-labs/storesync/internal/metrics"
)

// app holds the infrastructure shared by every command that touches the
// coordination database.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer

	db          *postgres.DB
	redisClient *redis.Client // nil without redis.url

	tenants   driven.TenantStore
	states    driven.SyncStateStore
	logs      driven.SyncLogStore
	taskQueue driven.TaskQueue
	lock      driven.DistributedLock
	metrics   *metrics.Metrics
	locks     *services.LockManager
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// newApp connects to PostgreSQL and, when configured, Redis. With Redis the
// task queue and scheduler lock live there; otherwise both use PostgreSQL.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Secrets.EncryptionKey == "" {
		return nil, errors.New("secrets.encryption_key is required (set STORESYNC_SECRETS_ENCRYPTION_KEY)")
	}
	key, err := postgres.ParseEncryptionKey(cfg.Secrets.EncryptionKey)
	if err != nil {
		return nil, err
	}
	sealer, err := postgres.NewCredentialSealer(key)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, logCloser: logCloser}

	dbConfig := postgres.DefaultConfig(cfg.Database.URL)
	dbConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	dbConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	a.db, err = postgres.Connect(ctx, dbConfig)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}

		hostname, _ := os.Hostname()
		queue, err := redisqueue.NewQueue(ctx, redisqueue.Config{
			Client:       a.redisClient,
			Consumer:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
			ClaimTimeout: cfg.Sync.LockTTL + time.Minute,
			Logger:       logger,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create task queue: %w", err)
		}
		a.taskQueue = queue
		a.lock = redisadapter.NewLock(a.redisClient)
		logger.Info("using redis task queue and scheduler lock")
	} else {
		a.taskQueue = postgresqueue.NewQueue(a.db.DB)
		a.lock = postgres.NewAdvisoryLock(a.db.DB)
		logger.Info("using postgres task queue and advisory lock")
	}

	a.tenants = postgres.NewTenantStore(a.db.DB, sealer)
	a.states = postgres.NewSyncStateStore(a.db.DB)
	a.logs = postgres.NewSyncLogStore(a.db.DB)
	a.metrics = metrics.New()
	a.locks = services.NewLockManager(services.LockManagerConfig{
		Store:                  a.states,
		Metrics:                a.metrics,
		Logger:                 logger,
		LockTTL:                cfg.Sync.LockTTL,
		MaxConsecutiveFailures: cfg.Sync.MaxConsecutiveFailures,
	})
	return a, nil
}

func (a *app) tenantService() driving.TenantService {
	return services.NewTenantService(a.tenants, a.states)
}

func (a *app) syncService() driving.SyncService {
	return services.NewSyncService(services.SyncServiceConfig{
		Tenants:      a.tenants,
		States:       a.states,
		Logs:         a.logs,
		TaskQueue:    a.taskQueue,
		Locks:        a.locks,
		Logger:       a.logger,
		LogRetention: a.cfg.Sync.LogRetention,
	})
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if a.taskQueue != nil {
		if err := a.taskQueue.Close(); err != nil {
			a.logger.Warn("close task queue", "error", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
