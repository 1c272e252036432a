package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
	"github.com/custodia-labs/storesync/internal/core/ports/driving"
)

// Ensure Scheduler implements driving.Scheduler
var _ driving.Scheduler = (*Scheduler)(nil)

// DefaultCadences are the cron specs used when none are configured
func DefaultCadences() map[domain.EntityType]string {
	return map[domain.EntityType]string{
		domain.EntityCustomers: "@every 15m",
		domain.EntityProducts:  "@every 30m",
		domain.EntityOrders:    "@every 5m",
	}
}

// Scheduler enqueues incremental syncs on a per-entity cadence.
// Each tick evaluates every active tenant: a running entity is left alone,
// an entity whose circuit breaker is open is skipped, anything else gets a job.
//
// For multi-instance deployments, configure a DistributedLock so that only
// one instance evaluates a given entity per tick.
type Scheduler struct {
	tenants   driven.TenantStore
	locks     *LockManager
	taskQueue driven.TaskQueue
	lock      driven.DistributedLock
	metrics   driven.SyncMetrics
	logger    *slog.Logger
	cadences  map[domain.EntityType]string

	// Internal state
	mu      sync.Mutex
	running bool
	cron    *cron.Cron

	// Lock configuration
	lockTTL      time.Duration
	lockRequired bool
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Tenants      driven.TenantStore
	Locks        *LockManager
	TaskQueue    driven.TaskQueue
	Lock         driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Metrics      driven.SyncMetrics     // Optional
	Logger       *slog.Logger
	Cadences     map[domain.EntityType]string // cron spec per entity (default: DefaultCadences)
	LockTTL      time.Duration                // TTL for the distributed lock (default: 60s)
	LockRequired bool                         // If true, skip the cycle when the lock backend errors
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 60 * time.Second
	}

	cadences := DefaultCadences()
	for entity, spec := range cfg.Cadences {
		if spec != "" {
			cadences[entity] = spec
		}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Scheduler{
		tenants:      cfg.Tenants,
		locks:        cfg.Locks,
		taskQueue:    cfg.TaskQueue,
		lock:         cfg.Lock,
		metrics:      metrics,
		logger:       logger,
		cadences:     cadences,
		lockTTL:      lockTTL,
		lockRequired: cfg.LockRequired,
	}
}

// Start registers one cron entry per entity type and starts the cron runner.
// Overlapping ticks for the same entity are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	cl := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	for _, entity := range domain.AllEntityTypes() {
		entity := entity
		spec := s.cadences[entity]
		if _, err := c.AddFunc(spec, func() {
			if _, err := s.RunCycle(ctx, entity); err != nil {
				s.logger.Error("scheduler cycle failed", "entity_type", entity, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid cadence %q for %s: %w", spec, entity, err)
		}
		s.logger.Info("scheduled entity sync", "entity_type", entity, "cadence", spec)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("scheduler started")
	return nil
}

// Stop stops the cron runner and waits for in-flight cycles.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunCycle evaluates every active tenant for one entity type.
// A failure for one tenant is recorded and never aborts the cycle.
func (s *Scheduler) RunCycle(ctx context.Context, entity domain.EntityType) (*domain.CycleResult, error) {
	result := &domain.CycleResult{
		EntityType: entity,
		Decisions:  make(map[string]domain.SchedulingDecision),
		Errors:     make(map[string]string),
	}

	if s.lock != nil {
		lockName := "scheduler:" + string(entity)
		acquired, err := s.lock.Acquire(ctx, lockName, s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire scheduler lock", "entity_type", entity, "error", err)
			if s.lockRequired {
				return result, nil
			}
		} else if !acquired {
			s.logger.Debug("scheduler lock held by another instance, skipping cycle", "entity_type", entity)
			return result, nil
		} else {
			defer func() {
				if err := s.lock.Release(context.WithoutCancel(ctx), lockName); err != nil {
					s.logger.Warn("failed to release scheduler lock", "entity_type", entity, "error", err)
				}
			}()
		}
	}

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}

	enqueued := 0
	for _, tenant := range tenants {
		decision, err := s.ScheduleEntity(ctx, tenant.ID, entity)
		if err != nil {
			s.logger.Error("failed to schedule sync",
				"tenant_id", tenant.ID,
				"entity_type", entity,
				"error", err,
			)
			result.Errors[tenant.ID] = err.Error()
			continue
		}
		result.Decisions[tenant.ID] = decision
		if decision == domain.DecisionEnqueued {
			enqueued++
		}
	}

	s.logger.Info("scheduler cycle finished",
		"entity_type", entity,
		"tenants", len(tenants),
		"enqueued", enqueued,
		"errors", len(result.Errors),
	)

	return result, nil
}

// ScheduleEntity applies the eligibility checks to one pair and enqueues an
// incremental job when it passes.
func (s *Scheduler) ScheduleEntity(ctx context.Context, tenantID string, entity domain.EntityType) (domain.SchedulingDecision, error) {
	running, err := s.locks.IsRunning(ctx, tenantID, entity)
	if err != nil {
		return "", err
	}
	if running {
		s.logger.Debug("sync already running, skipping", "tenant_id", tenantID, "entity_type", entity)
		s.metrics.SchedulingDecision(entity, domain.DecisionSkippedRunning)
		return domain.DecisionSkippedRunning, nil
	}

	skip, err := s.locks.ShouldSkip(ctx, tenantID, entity)
	if err != nil {
		return "", err
	}
	if skip {
		s.logger.Info("circuit open, skipping sync until reset", "tenant_id", tenantID, "entity_type", entity)
		s.metrics.SchedulingDecision(entity, domain.DecisionSkippedCircuitOpen)
		return domain.DecisionSkippedCircuitOpen, nil
	}

	task := domain.NewSyncEntityTask(tenantID, entity, false, "")
	if err := s.taskQueue.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue sync task: %w", err)
	}

	s.logger.Info("enqueued sync task",
		"tenant_id", tenantID,
		"entity_type", entity,
		"task_id", task.ID,
	)
	s.metrics.SchedulingDecision(entity, domain.DecisionEnqueued)
	return domain.DecisionEnqueued, nil
}

// cronLogger routes cron runner logs through slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
