package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/storesync/internal/adapters/driven/auth"
	"github.com/custodia-labs/storesync/internal/adapters/driven/commerce"
	"github.com/custodia-labs/storesync/internal/adapters/driven/records"
	httpadapter "github.com/custodia-labs/storesync/internal/adapters/driving/http"
	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/services"
	"github.com/custodia-labs/storesync/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [api|worker|all]",
		Short: "Run the admin API, the sync worker, or both",
		Long: `Run storesync until SIGINT or SIGTERM.

  api     admin HTTP API and /metrics
  worker  scheduler and task workers
  all     both in one process (default, or server.mode)`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"api", "worker", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			mode := a.cfg.Server.Mode
			if len(args) == 1 {
				mode = args[0]
			}
			return runServe(ctx, a, mode)
		},
	}
}

func runServe(ctx context.Context, a *app, mode string) error {
	if err := a.db.InitSchema(ctx); err != nil {
		return err
	}
	a.logger.Info("storesync starting", "version", version, "mode", mode)

	var runAPI, runWorker bool
	switch mode {
	case "api":
		runAPI = true
	case "worker":
		runWorker = true
	case "all":
		runAPI, runWorker = true, true
	default:
		return fmt.Errorf("unknown mode %q (use: api, worker, or all)", mode)
	}

	g, gctx := errgroup.WithContext(ctx)

	if runWorker {
		w, err := newSyncWorker(gctx, a)
		if err != nil {
			return err
		}
		if err := w.Start(gctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("stopping worker")
			w.Stop()
			return nil
		})
		if !runAPI && a.cfg.Server.MetricsAddr != "" {
			g.Go(func() error {
				return serveMetrics(gctx, a)
			})
		}
	}

	if runAPI {
		server, err := newAPIServer(a)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return server.Start(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("storesync stopped")
	return err
}

// newSyncWorker wires the commerce client and record store into a runner
// and attaches the scheduler when it is enabled.
func newSyncWorker(ctx context.Context, a *app) (*worker.Worker, error) {
	cfg := a.cfg

	recordDB, err := records.Open(records.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	store := records.NewStore(recordDB)
	if err := store.AutoMigrate(ctx); err != nil {
		return nil, err
	}

	client := commerce.NewClient(commerce.Config{
		BaseURL:              cfg.Commerce.BaseURL,
		APIVersion:           cfg.Commerce.APIVersion,
		Timeout:              cfg.Commerce.Timeout,
		RequestsPerSecond:    cfg.Commerce.RequestsPerSecond,
		Burst:                cfg.Commerce.Burst,
		MaxRetries:           cfg.Commerce.MaxRetries,
		RetryInitialInterval: cfg.Commerce.RetryInitialInterval,
		Logger:               a.logger,
	})

	handlers := make(map[domain.EntityType]services.EntityHandler)
	for _, entity := range domain.AllEntityTypes() {
		upserter, err := store.Upserter(entity)
		if err != nil {
			return nil, err
		}
		handlers[entity] = services.EntityHandler{
			Source:   client.Source(entity),
			Upserter: upserter,
		}
	}

	runner := services.NewSyncRunner(services.SyncRunnerConfig{
		Locks:              a.locks,
		States:             a.states,
		Tenants:            a.tenants,
		Logs:               a.logs,
		Handlers:           handlers,
		Metrics:            a.metrics,
		Logger:             a.logger,
		PageSize:           cfg.Sync.PageSize,
		LeaseRenewInterval: cfg.Sync.LeaseRenewInterval,
	})

	var scheduler *services.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = services.NewScheduler(services.SchedulerConfig{
			Tenants:      a.tenants,
			Locks:        a.locks,
			TaskQueue:    a.taskQueue,
			Lock:         a.lock,
			Metrics:      a.metrics,
			Logger:       a.logger,
			Cadences:     cfg.Scheduler.Cadence.ByEntity(),
			LockTTL:      cfg.Scheduler.LockTTL,
			LockRequired: cfg.Scheduler.LockRequired,
		})
		a.logger.Info("scheduler enabled", "lock_required", cfg.Scheduler.LockRequired)
	} else {
		a.logger.Info("scheduler disabled")
	}

	wcfg := worker.WorkerConfig{
		TaskQueue:      a.taskQueue,
		Runner:         runner,
		Metrics:        a.metrics,
		Logger:         a.logger,
		Concurrency:    cfg.Worker.Concurrency,
		DequeueTimeout: cfg.Worker.DequeueTimeout,
	}
	// A nil *Scheduler must not become a non-nil interface
	if scheduler != nil {
		wcfg.Scheduler = scheduler
	}
	return worker.NewWorker(wcfg), nil
}

// serveMetrics exposes the worker's registry when no API server runs in
// the process.
func serveMetrics(ctx context.Context, a *app) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Server.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newAPIServer(a *app) (*httpadapter.Server, error) {
	cfg := a.cfg
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required for the API (set STORESYNC_AUTH_JWT_SECRET)")
	}
	if cfg.Auth.AdminPasswordHash == "" {
		a.logger.Warn("auth.admin_password_hash is empty, token issuance is disabled")
	}

	authService := services.NewAuthService(services.AuthServiceConfig{
		AuthAdapter:       auth.NewAdapter(cfg.Auth.JWTSecret),
		AdminUsername:     cfg.Auth.AdminUsername,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
		TokenTTL:          cfg.Auth.TokenTTL,
	})

	var redisPinger httpadapter.Pinger
	if a.redisClient != nil {
		redisPinger = a.taskQueue
	}

	return httpadapter.NewServer(
		httpadapter.Config{
			Addr:            cfg.Server.Addr,
			Version:         version,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			MetricsHandler:  a.metrics.Handler(),
			Logger:          a.logger,
		},
		authService,
		a.tenantService(),
		a.syncService(),
		a.db,
		redisPinger,
	), nil
}
