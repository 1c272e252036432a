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

const (
	// DefaultLockTTL bounds how long a crashed runner can block its entity
	DefaultLockTTL = 10 * time.Minute

	// DefaultMaxConsecutiveFailures trips the per-entity circuit breaker
	DefaultMaxConsecutiveFailures = 5

	// staleLockReason is recorded when a dead runner's lock is reclaimed
	staleLockReason = "stale lock auto-released"
)

// LockManager implements the per-(tenant, entity) lease on top of the
// SyncStateStore's conditional updates. The store row is the lock: there is
// no in-process state, so any number of processes can share one database.
type LockManager struct {
	store       driven.SyncStateStore
	metrics     driven.SyncMetrics
	logger      *slog.Logger
	ttl         time.Duration
	maxFailures int
	now         func() time.Time
}

// LockManagerConfig holds configuration for the lock manager.
type LockManagerConfig struct {
	Store                  driven.SyncStateStore
	Metrics                driven.SyncMetrics // Optional
	Logger                 *slog.Logger
	LockTTL                time.Duration    // default: 10m
	MaxConsecutiveFailures int              // default: 5
	Now                    func() time.Time // default: time.Now
}

// NewLockManager creates a new lock manager.
func NewLockManager(cfg LockManagerConfig) *LockManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	maxFailures := cfg.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxConsecutiveFailures
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &LockManager{
		store:       cfg.Store,
		metrics:     metrics,
		logger:      logger,
		ttl:         ttl,
		maxFailures: maxFailures,
		now:         now,
	}
}

// TTL returns the configured lease duration.
func (m *LockManager) TTL() time.Duration {
	return m.ttl
}

// MaxConsecutiveFailures returns the circuit breaker threshold.
func (m *LockManager) MaxConsecutiveFailures() int {
	return m.maxFailures
}

// IsRunning reports whether a live runner holds the lock.
// A lock past its expiry is released as failed on the spot, so a crashed
// runner costs at most one TTL and counts as one failure.
func (m *LockManager) IsRunning(ctx context.Context, tenantID string, entity domain.EntityType) (bool, error) {
	state, err := m.store.GetOrCreate(ctx, tenantID, entity)
	if err != nil {
		return false, fmt.Errorf("load sync state: %w", err)
	}
	if !state.IsLocked {
		return false, nil
	}
	if !state.LockExpired(m.now()) {
		return true, nil
	}

	m.logger.Warn(staleLockReason,
		"tenant_id", tenantID,
		"entity_type", entity,
		"locked_at", state.LockedAt,
		"lock_expires_at", state.LockExpiresAt,
	)
	// Conditioned on the stale owner so a concurrent reclaim is left alone
	err = m.store.ReleaseFailed(ctx, tenantID, entity, state.LockOwner, staleLockReason, m.now())
	if errors.Is(err, domain.ErrLockNotHeld) {
		current, err := m.store.GetOrCreate(ctx, tenantID, entity)
		if err != nil {
			return false, fmt.Errorf("load sync state: %w", err)
		}
		return current.IsLocked && !current.LockExpired(m.now()), nil
	}
	if err != nil {
		return false, fmt.Errorf("release stale lock: %w", err)
	}
	m.metrics.LockReclaimed(entity)
	return false, nil
}

// ShouldSkip reports whether the circuit breaker is open for the pair.
func (m *LockManager) ShouldSkip(ctx context.Context, tenantID string, entity domain.EntityType) (bool, error) {
	state, err := m.store.GetOrCreate(ctx, tenantID, entity)
	if err != nil {
		return false, fmt.Errorf("load sync state: %w", err)
	}
	return state.CircuitOpen(m.maxFailures), nil
}

// AcquireLock attempts to take the lease. It returns false without error
// when another live runner holds it. An expired lease is taken over with a
// second conditional update, so two reclaimers cannot both succeed.
func (m *LockManager) AcquireLock(ctx context.Context, tenantID string, entity domain.EntityType) (domain.Lease, bool, error) {
	if _, err := m.store.GetOrCreate(ctx, tenantID, entity); err != nil {
		return domain.Lease{}, false, fmt.Errorf("ensure sync state: %w", err)
	}

	owner := domain.GenerateID()
	now := m.now()
	lease := domain.Lease{
		TenantID:   tenantID,
		EntityType: entity,
		Owner:      owner,
		ExpiresAt:  now.Add(m.ttl),
	}

	ok, err := m.store.TryLock(ctx, tenantID, entity, owner, now, lease.ExpiresAt)
	if err != nil {
		return domain.Lease{}, false, fmt.Errorf("try lock: %w", err)
	}
	if ok {
		return lease, true, nil
	}

	state, err := m.store.GetOrCreate(ctx, tenantID, entity)
	if err != nil {
		return domain.Lease{}, false, fmt.Errorf("load sync state: %w", err)
	}

	if !state.IsLocked {
		// Holder released between our two reads
		ok, err = m.store.TryLock(ctx, tenantID, entity, owner, now, lease.ExpiresAt)
		if err != nil {
			return domain.Lease{}, false, fmt.Errorf("try lock: %w", err)
		}
		return lease, ok, nil
	}

	if !state.LockExpired(now) {
		return domain.Lease{}, false, nil
	}

	ok, err = m.store.ForceLock(ctx, tenantID, entity, owner, now, lease.ExpiresAt)
	if err != nil {
		return domain.Lease{}, false, fmt.Errorf("force lock: %w", err)
	}
	if !ok {
		return domain.Lease{}, false, nil
	}

	m.logger.Warn("reclaimed stale lock",
		"tenant_id", tenantID,
		"entity_type", entity,
		"previous_expiry", state.LockExpiresAt,
	)
	m.metrics.LockReclaimed(entity)
	return lease, true, nil
}

// ReleaseLock ends the lock with a terminal status whoever holds it.
// Completed resets the failure counter; failed records errMsg and increments it.
func (m *LockManager) ReleaseLock(ctx context.Context, tenantID string, entity domain.EntityType, status domain.SyncStatus, errMsg string) error {
	return m.release(ctx, tenantID, entity, "", status, errMsg)
}

// ReleaseLease is ReleaseLock for a runner holding lease. It returns
// domain.ErrLockNotHeld and leaves the row alone once another owner took over.
func (m *LockManager) ReleaseLease(ctx context.Context, lease domain.Lease, status domain.SyncStatus, errMsg string) error {
	return m.release(ctx, lease.TenantID, lease.EntityType, lease.Owner, status, errMsg)
}

func (m *LockManager) release(ctx context.Context, tenantID string, entity domain.EntityType, owner string, status domain.SyncStatus, errMsg string) error {
	now := m.now()
	switch status {
	case domain.SyncStatusCompleted:
		return m.store.ReleaseCompleted(ctx, tenantID, entity, owner, now)
	case domain.SyncStatusFailed:
		return m.store.ReleaseFailed(ctx, tenantID, entity, owner, errMsg, now)
	default:
		return fmt.Errorf("%w: release status must be completed or failed, got %q", domain.ErrInvalidInput, status)
	}
}

// ExtendLock pushes the lease expiry forward by one TTL if the caller still
// owns it. Returns domain.ErrLockNotHeld once the lease was taken over.
func (m *LockManager) ExtendLock(ctx context.Context, lease domain.Lease) (domain.Lease, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)
	ok, err := m.store.ExtendLock(ctx, lease.TenantID, lease.EntityType, lease.Owner, now, expiresAt)
	if err != nil {
		return lease, fmt.Errorf("extend lock: %w", err)
	}
	if !ok {
		return lease, domain.ErrLockNotHeld
	}
	lease.ExpiresAt = expiresAt
	return lease, nil
}
