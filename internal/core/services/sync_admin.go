package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
	"github.com/custodia-labs/storesync/internal/core/ports/driving"
)

// Ensure syncService implements SyncService
var _ driving.SyncService = (*syncService)(nil)

// recentLogLimit is how many log entries the status report includes
const recentLogLimit = 10

// syncService implements the on-demand triggers and the status/reset surface
type syncService struct {
	tenants      driven.TenantStore
	states       driven.SyncStateStore
	logs         driven.SyncLogStore
	taskQueue    driven.TaskQueue
	locks        *LockManager
	logger       *slog.Logger
	logRetention int
	now          func() time.Time
}

// SyncServiceConfig holds dependencies for the sync service.
type SyncServiceConfig struct {
	Tenants      driven.TenantStore
	States       driven.SyncStateStore
	Logs         driven.SyncLogStore
	TaskQueue    driven.TaskQueue
	Locks        *LockManager
	Logger       *slog.Logger
	LogRetention int              // default: 50
	Now          func() time.Time // default: time.Now
}

// NewSyncService creates a new SyncService
func NewSyncService(cfg SyncServiceConfig) driving.SyncService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := cfg.LogRetention
	if retention <= 0 {
		retention = domain.DefaultSyncLogRetention
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &syncService{
		tenants:      cfg.Tenants,
		states:       cfg.States,
		logs:         cfg.Logs,
		taskQueue:    cfg.TaskQueue,
		locks:        cfg.Locks,
		logger:       logger,
		logRetention: retention,
		now:          now,
	}
}

// TriggerFullSync clears every checkpoint of the tenant and enqueues an
// initial run per entity type. It refuses while any entity is running so
// that the reset never races a live runner.
func (s *syncService) TriggerFullSync(ctx context.Context, tenantID string) (*domain.SyncLog, error) {
	if err := s.requireActiveTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	entities := domain.AllEntityTypes()
	for _, entity := range entities {
		running, err := s.locks.IsRunning(ctx, tenantID, entity)
		if err != nil {
			return nil, err
		}
		if running {
			return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, entity)
		}
	}

	reset, err := s.states.ResetAll(ctx, tenantID, s.now())
	if err != nil {
		return nil, fmt.Errorf("reset sync state: %w", err)
	}

	log := domain.NewSyncLog(tenantID, domain.SyncTypeFull, len(entities))
	if err := s.logs.Create(ctx, log, s.logRetention); err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, entity := range entities {
		entity := entity
		g.Go(func() error {
			task := domain.NewSyncEntityTask(tenantID, entity, true, log.ID)
			if err := s.taskQueue.Enqueue(gctx, task); err != nil {
				err = fmt.Errorf("enqueue %s: %w", entity, err)
				s.closeLogEntry(ctx, log.ID, err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("full sync triggered",
		"tenant_id", tenantID,
		"sync_log_id", log.ID,
		"entities", len(entities),
		"rows_reset", reset,
	)

	return log, nil
}

// TriggerEntitySync enqueues an incremental run for one entity, applying the
// same checks as the scheduler. An open circuit is reported, not bypassed.
func (s *syncService) TriggerEntitySync(ctx context.Context, tenantID string, entity domain.EntityType) (*domain.Task, error) {
	if err := s.requireActiveTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	running, err := s.locks.IsRunning(ctx, tenantID, entity)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, entity)
	}

	skip, err := s.locks.ShouldSkip(ctx, tenantID, entity)
	if err != nil {
		return nil, err
	}
	if skip {
		return nil, fmt.Errorf("%w: reset %s before syncing", domain.ErrCircuitOpen, entity)
	}

	log := domain.NewSyncLog(tenantID, string(entity), 1)
	if err := s.logs.Create(ctx, log, s.logRetention); err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	task := domain.NewSyncEntityTask(tenantID, entity, false, log.ID)
	if err := s.taskQueue.Enqueue(ctx, task); err != nil {
		err = fmt.Errorf("enqueue sync task: %w", err)
		s.closeLogEntry(ctx, log.ID, err)
		return nil, err
	}

	s.logger.Info("entity sync triggered",
		"tenant_id", tenantID,
		"entity_type", entity,
		"task_id", task.ID,
	)

	return task, nil
}

// closeLogEntry counts an entity that never reached the queue as failed so
// the sync log does not wait on it forever.
func (s *syncService) closeLogEntry(ctx context.Context, logID string, cause error) {
	if err := s.logs.RecordEntityResult(context.WithoutCancel(ctx), logID, 0, cause.Error()); err != nil {
		s.logger.Warn("failed to update sync log", "sync_log_id", logID, "error", err)
	}
}

// GetStatus reports per-entity state with lock and breaker flags, recent
// sync logs and queue depth.
func (s *syncService) GetStatus(ctx context.Context, tenantID string) (*driving.SyncStatusReport, error) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	states, err := s.states.ListAll(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}

	now := s.now()
	report := &driving.SyncStatusReport{
		TenantID:     tenant.ID,
		LastSyncedAt: tenant.LastSyncedAt,
	}
	for _, state := range states {
		report.Entities = append(report.Entities, &domain.EntityStatus{
			SyncState:   state,
			LockStale:   state.LockExpired(now),
			BreakerOpen: state.CircuitOpen(s.locks.MaxConsecutiveFailures()),
		})
	}

	report.RecentLogs, err = s.logs.ListRecent(ctx, tenantID, recentLogLimit)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}

	if s.taskQueue != nil {
		stats, err := s.taskQueue.Stats(ctx)
		if err != nil {
			s.logger.Warn("failed to read queue stats", "error", err)
		} else {
			report.Queue = stats
		}
	}

	return report, nil
}

// ResetEntity re-enables automated syncs for a tripped entity.
func (s *syncService) ResetEntity(ctx context.Context, tenantID string, entity domain.EntityType) error {
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return err
	}
	if err := s.states.ResetFailures(ctx, tenantID, entity); err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	s.logger.Info("sync failures reset", "tenant_id", tenantID, "entity_type", entity)
	return nil
}

// ResetAll clears checkpoints and failures for every entity not held by a live runner.
func (s *syncService) ResetAll(ctx context.Context, tenantID string) (int, error) {
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return 0, err
	}
	n, err := s.states.ResetAll(ctx, tenantID, s.now())
	if err != nil {
		return 0, fmt.Errorf("reset sync state: %w", err)
	}
	s.logger.Info("sync state reset", "tenant_id", tenantID, "rows_reset", n)
	return n, nil
}

func (s *syncService) requireActiveTenant(ctx context.Context, tenantID string) error {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.Active {
		return domain.ErrTenantInactive
	}
	return nil
}
