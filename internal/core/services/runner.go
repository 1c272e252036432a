package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

// DefaultPageSize is the upstream page size when none is configured
const DefaultPageSize = 250

// Run outcomes reported to metrics
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

// EntityHandler binds an entity type to its upstream source and local sink.
type EntityHandler struct {
	Source   driven.PageSource
	Upserter driven.RecordUpserter
}

// SyncRunner executes one (tenant, entity) sync job.
// The flow is:
//  1. Resolve the tenant and its credentials
//  2. Acquire the entity lock (skip if held)
//  3. Load the checkpoint unless the job is initial
//  4. Fetch, upsert and checkpoint page by page
//  5. Record metrics, release as completed, mark the tenant synced
//
// Any error in 3-5 releases the lock as failed and is returned to the caller
// so the queue can apply its retry policy.
type SyncRunner struct {
	locks         *LockManager
	states        driven.SyncStateStore
	tenants       driven.TenantStore
	logs          driven.SyncLogStore
	handlers      map[domain.EntityType]EntityHandler
	metrics       driven.SyncMetrics
	logger        *slog.Logger
	pageSize      int
	renewInterval time.Duration
}

// SyncRunnerConfig holds dependencies for SyncRunner.
type SyncRunnerConfig struct {
	Locks    *LockManager
	States   driven.SyncStateStore
	Tenants  driven.TenantStore
	Logs     driven.SyncLogStore // Optional: on-demand sync reporting
	Handlers map[domain.EntityType]EntityHandler
	Metrics  driven.SyncMetrics // Optional
	Logger   *slog.Logger
	PageSize int // default: 250

	// LeaseRenewInterval extends the lock while paging. Zero disables renewal
	// and the lock lives for exactly one TTL.
	LeaseRenewInterval time.Duration
}

// NewSyncRunner creates a new sync runner.
func NewSyncRunner(cfg SyncRunnerConfig) *SyncRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &SyncRunner{
		locks:         cfg.Locks,
		states:        cfg.States,
		tenants:       cfg.Tenants,
		logs:          cfg.Logs,
		handlers:      cfg.Handlers,
		metrics:       metrics,
		logger:        logger,
		pageSize:      pageSize,
		renewInterval: cfg.LeaseRenewInterval,
	}
}

// Run executes the job described by task.
// Lock contention and inactive tenants are reported as skipped results, not errors.
func (r *SyncRunner) Run(ctx context.Context, task *domain.Task) (*domain.RunResult, error) {
	startTime := time.Now()

	entity, err := task.EntityType()
	if err != nil {
		return nil, fmt.Errorf("invalid sync task %s: %w", task.ID, err)
	}
	handler, ok := r.handlers[entity]
	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for %s", domain.ErrInvalidInput, entity)
	}

	result := &domain.RunResult{TenantID: task.TenantID, EntityType: entity}
	logger := r.logger.With("tenant_id", task.TenantID, "entity_type", entity, "task_id", task.ID)

	tenant, err := r.tenants.Get(ctx, task.TenantID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return result, fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil || !tenant.Active {
		logger.Info("tenant inactive, skipping sync")
		return r.skip(ctx, task, result, domain.SkipReasonTenantInactive, startTime), nil
	}

	lease, acquired, err := r.locks.AcquireLock(ctx, task.TenantID, entity)
	if err != nil {
		return result, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		logger.Debug("lock held by another runner, skipping sync")
		return r.skip(ctx, task, result, domain.SkipReasonLockNotAcquired, startTime), nil
	}

	logger.Info("starting sync", "initial", task.IsInitial())

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if r.renewInterval > 0 {
		go r.renewLease(runCtx, cancel, lease, logger)
	}

	records, pages, err := r.page(runCtx, tenant, entity, handler, task.IsInitial())
	result.Records = records
	result.Pages = pages
	if err != nil {
		return r.fail(ctx, task, lease, result, startTime, leaseError(runCtx, err), logger)
	}

	// Finalizing
	if err := r.states.UpdateMetrics(ctx, tenant.ID, entity, records); err != nil {
		return r.fail(ctx, task, lease, result, startTime, fmt.Errorf("update metrics: %w", err), logger)
	}
	if errors.Is(context.Cause(runCtx), domain.ErrLockNotHeld) {
		return r.fail(ctx, task, lease, result, startTime, domain.ErrLockNotHeld, logger)
	}
	if err := r.locks.ReleaseLease(ctx, lease, domain.SyncStatusCompleted, ""); err != nil {
		if errors.Is(err, domain.ErrLockNotHeld) {
			logger.Warn("lease taken over before release, leaving lock to new owner")
		}
		result.Error = err.Error()
		r.metrics.RunFinished(entity, outcomeFailed, records, time.Since(startTime).Seconds())
		return result, fmt.Errorf("release lock: %w", err)
	}
	if err := r.tenants.MarkSynced(ctx, tenant.ID, time.Now()); err != nil {
		logger.Warn("failed to update tenant last sync marker", "error", err)
	}

	result.Duration = time.Since(startTime).Seconds()
	r.metrics.RunFinished(entity, outcomeCompleted, records, result.Duration)
	r.reportLog(ctx, task, records, "", logger)

	logger.Info("sync completed",
		"records", records,
		"pages", pages,
		"duration_seconds", result.Duration,
	)

	return result, nil
}

// page walks upstream pages from the resume point, checkpointing after each one.
func (r *SyncRunner) page(
	ctx context.Context,
	tenant *domain.Tenant,
	entity domain.EntityType,
	handler EntityHandler,
	initial bool,
) (int, int, error) {
	req := domain.PageRequest{Limit: r.pageSize}

	if !initial {
		state, err := r.states.GetOrCreate(ctx, tenant.ID, entity)
		if err != nil {
			return 0, 0, fmt.Errorf("load checkpoint: %w", err)
		}
		switch {
		case state.LastCursor != nil:
			req.Cursor = *state.LastCursor
		case entity.UsesHighWaterMark() && state.LastSyncedID != nil:
			req.SinceID = *state.LastSyncedID
		}
	}

	total, pages := 0, 0
	for {
		if err := context.Cause(ctx); err != nil {
			return total, pages, fmt.Errorf("interrupted after %d pages: %w", pages, err)
		}

		page, err := handler.Source.FetchPage(ctx, tenant, req)
		if err != nil {
			return total, pages, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}

		for _, record := range page.Records {
			if err := handler.Upserter.Upsert(ctx, tenant.ID, record); err != nil {
				return total, pages, fmt.Errorf("upsert %s %d: %w", entity, record.ExternalID, err)
			}
		}

		// The last page may still hand back a cursor to resume from next run
		var next *string
		if page.NextCursor != "" {
			cursor := page.NextCursor
			next = &cursor
		}
		if page.HasMore && (next == nil || page.NextCursor == req.Cursor) {
			return total, pages, fmt.Errorf("%w: page %d reported more results without a new cursor", domain.ErrUpstream, pages+1)
		}

		var highWaterMark *int64
		if entity.UsesHighWaterMark() {
			highWaterMark = page.MaxExternalID()
		}

		if err := r.states.UpdateCursor(ctx, tenant.ID, entity, next, highWaterMark); err != nil {
			return total, pages, fmt.Errorf("save checkpoint: %w", err)
		}

		total += len(page.Records)
		pages++
		r.metrics.PageProcessed(entity, len(page.Records))

		if !page.HasMore {
			return total, pages, nil
		}
		req.Cursor = *next
		req.SinceID = 0
	}
}

// renewLease extends the lock every renewInterval until ctx ends.
// Losing the lease cancels the run with domain.ErrLockNotHeld.
func (r *SyncRunner) renewLease(ctx context.Context, cancel context.CancelCauseFunc, lease domain.Lease, logger *slog.Logger) {
	ticker := time.NewTicker(r.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := r.locks.ExtendLock(ctx, lease)
			if errors.Is(err, domain.ErrLockNotHeld) {
				logger.Warn("lease lost, aborting sync")
				cancel(domain.ErrLockNotHeld)
				return
			}
			if err != nil {
				logger.Warn("failed to renew lease", "error", err)
				continue
			}
			lease = renewed
		}
	}
}

// leaseError tags err with domain.ErrLockNotHeld when the run was cancelled
// because the lease was lost. An in-flight fetch only sees context.Canceled.
func leaseError(runCtx context.Context, err error) error {
	if errors.Is(err, domain.ErrLockNotHeld) || !errors.Is(context.Cause(runCtx), domain.ErrLockNotHeld) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrLockNotHeld, err)
}

// fail releases the lock as failed and returns err to the caller.
// A run that lost its lease leaves the row to the new owner.
func (r *SyncRunner) fail(
	ctx context.Context,
	task *domain.Task,
	lease domain.Lease,
	result *domain.RunResult,
	startTime time.Time,
	err error,
	logger *slog.Logger,
) (*domain.RunResult, error) {
	result.Error = err.Error()
	result.Duration = time.Since(startTime).Seconds()

	logger.Error("sync failed",
		"records", result.Records,
		"pages", result.Pages,
		"duration_seconds", result.Duration,
		"error", err,
	)

	// Release even when the job context was cancelled
	releaseCtx := context.WithoutCancel(ctx)
	if !errors.Is(err, domain.ErrLockNotHeld) {
		relErr := r.locks.ReleaseLease(releaseCtx, lease, domain.SyncStatusFailed, err.Error())
		switch {
		case errors.Is(relErr, domain.ErrLockNotHeld):
			logger.Warn("lease taken over before release, leaving lock to new owner")
		case relErr != nil:
			logger.Error("failed to release lock after failure", "error", relErr)
		}
	}

	r.metrics.RunFinished(result.EntityType, outcomeFailed, result.Records, result.Duration)
	if !task.CanRetry() {
		// Retried attempts report once they finish
		r.reportLog(releaseCtx, task, result.Records, err.Error(), logger)
	}

	return result, err
}

func (r *SyncRunner) skip(ctx context.Context, task *domain.Task, result *domain.RunResult, reason string, startTime time.Time) *domain.RunResult {
	result.Skipped = true
	result.Reason = reason
	result.Duration = time.Since(startTime).Seconds()
	r.metrics.RunFinished(result.EntityType, outcomeSkipped, 0, result.Duration)
	r.reportLog(ctx, task, 0, "", r.logger)
	return result
}

func (r *SyncRunner) reportLog(ctx context.Context, task *domain.Task, records int, errMsg string, logger *slog.Logger) {
	logID := task.SyncLogID()
	if r.logs == nil || logID == "" {
		return
	}
	if err := r.logs.RecordEntityResult(ctx, logID, records, errMsg); err != nil {
		logger.Warn("failed to update sync log", "sync_log_id", logID, "error", err)
	}
}
