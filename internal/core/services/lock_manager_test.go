package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven/mocks"
)

// fakeClock is a manually advanced clock shared by tests in this package
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLockManager() (*mocks.MockSyncStateStore, *fakeClock, *LockManager) {
	store := mocks.NewMockSyncStateStore()
	clock := newFakeClock()
	m := NewLockManager(LockManagerConfig{
		Store: store,
		Now:   clock.Now,
	})
	return store, clock, m
}

func TestNewLockManager_Defaults(t *testing.T) {
	_, _, m := newTestLockManager()

	if m.TTL() != 10*time.Minute {
		t.Errorf("expected default TTL 10m, got %v", m.TTL())
	}
	if m.MaxConsecutiveFailures() != 5 {
		t.Errorf("expected default max failures 5, got %d", m.MaxConsecutiveFailures())
	}
	if m.logger == nil {
		t.Error("expected default logger")
	}
}

func TestLockManager_AcquireLock(t *testing.T) {
	store, clock, m := newTestLockManager()
	ctx := context.Background()

	lease, ok, err := m.AcquireLock(ctx, "acme", domain.EntityOrders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected lock to be acquired")
	}
	if lease.Owner == "" {
		t.Error("expected lease owner token")
	}
	if !lease.ExpiresAt.Equal(clock.Now().Add(10 * time.Minute)) {
		t.Errorf("expected expiry now+TTL, got %v", lease.ExpiresAt)
	}

	state := store.Snapshot("acme", domain.EntityOrders)
	if !state.IsLocked || state.Status != domain.SyncStatusRunning {
		t.Errorf("expected locked running row, got locked=%v status=%s", state.IsLocked, state.Status)
	}
	if state.LockedAt == nil || state.LockExpiresAt == nil || !state.LockExpiresAt.After(*state.LockedAt) {
		t.Error("expected lockExpiresAt > lockedAt")
	}
	if state.LastStartedAt == nil {
		t.Error("expected lastStartedAt to be set")
	}

	// Second acquire while live must fail
	_, ok, err = m.AcquireLock(ctx, "acme", domain.EntityOrders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second acquire to fail while lock is live")
	}

	// Other entities are independent
	_, ok, _ = m.AcquireLock(ctx, "acme", domain.EntityProducts)
	if !ok {
		t.Error("expected a different entity to be lockable")
	}
}

func TestLockManager_AcquireLockClearsLastError(t *testing.T) {
	store, _, m := newTestLockManager()
	store.Put(&domain.SyncState{
		TenantID:            "acme",
		EntityType:          domain.EntityOrders,
		Status:              domain.SyncStatusFailed,
		ConsecutiveFailures: 2,
		LastError:           "upstream 503",
	})

	_, ok, err := m.AcquireLock(context.Background(), "acme", domain.EntityOrders)
	if err != nil || !ok {
		t.Fatalf("expected acquire, got ok=%v err=%v", ok, err)
	}

	state := store.Snapshot("acme", domain.EntityOrders)
	if state.LastError != "" {
		t.Errorf("expected lastError cleared, got %q", state.LastError)
	}
	if state.ConsecutiveFailures != 2 {
		t.Errorf("acquire must not change failures, got %d", state.ConsecutiveFailures)
	}
}

func TestLockManager_AcquireLockReclaimsStale(t *testing.T) {
	store, clock, m := newTestLockManager()
	ctx := context.Background()

	first, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityCustomers)
	if !ok {
		t.Fatal("expected first acquire")
	}

	clock.Advance(11 * time.Minute)

	second, ok, err := m.AcquireLock(ctx, "acme", domain.EntityCustomers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected stale lock to be reclaimed")
	}
	if second.Owner == first.Owner {
		t.Error("expected a new lease owner")
	}

	state := store.Snapshot("acme", domain.EntityCustomers)
	if state.LockOwner != second.Owner {
		t.Error("expected row to carry the new owner")
	}
}

func TestLockManager_MutualExclusion(t *testing.T) {
	_, _, m := newTestLockManager()
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.AcquireLock(ctx, "acme", domain.EntityOrders)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestLockManager_MutualExclusionOnStaleReclaim(t *testing.T) {
	_, clock, m := newTestLockManager()
	ctx := context.Background()

	if _, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityOrders); !ok {
		t.Fatal("expected initial acquire")
	}
	clock.Advance(time.Hour)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityOrders); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one reclaimer, got %d", wins)
	}
}

func TestLockManager_IsRunning(t *testing.T) {
	store, clock, m := newTestLockManager()
	ctx := context.Background()

	running, err := m.IsRunning(ctx, "acme", domain.EntityOrders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running {
		t.Error("expected fresh row not to be running")
	}

	if _, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityOrders); !ok {
		t.Fatal("expected acquire")
	}

	clock.Advance(5 * time.Minute)
	running, _ = m.IsRunning(ctx, "acme", domain.EntityOrders)
	if !running {
		t.Error("expected live lock to report running")
	}

	clock.Advance(6 * time.Minute)
	running, err = m.IsRunning(ctx, "acme", domain.EntityOrders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running {
		t.Error("expected stale lock to report not running")
	}

	state := store.Snapshot("acme", domain.EntityOrders)
	if state.IsLocked {
		t.Error("expected stale lock to be released")
	}
	if state.Status != domain.SyncStatusFailed {
		t.Errorf("expected failed status, got %s", state.Status)
	}
	if state.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 failure, got %d", state.ConsecutiveFailures)
	}
	if state.LastError != "stale lock auto-released" {
		t.Errorf("unexpected last error %q", state.LastError)
	}
	if state.LockedAt != nil || state.LockExpiresAt != nil {
		t.Error("expected lock timestamps cleared")
	}
}

func TestLockManager_ShouldSkip(t *testing.T) {
	store, _, m := newTestLockManager()
	ctx := context.Background()

	tests := []struct {
		failures int
		expected bool
	}{
		{0, false},
		{4, false},
		{5, true},
		{9, true},
	}

	for _, tt := range tests {
		store.Put(&domain.SyncState{
			TenantID:            "acme",
			EntityType:          domain.EntityProducts,
			Status:              domain.SyncStatusFailed,
			ConsecutiveFailures: tt.failures,
		})
		skip, err := m.ShouldSkip(ctx, "acme", domain.EntityProducts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if skip != tt.expected {
			t.Errorf("failures=%d: expected ShouldSkip=%v, got %v", tt.failures, tt.expected, skip)
		}
	}
}

func TestLockManager_ReleaseLock(t *testing.T) {
	store, _, m := newTestLockManager()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityOrders); !ok {
			t.Fatalf("attempt %d: expected acquire", i)
		}
		if err := m.ReleaseLock(ctx, "acme", domain.EntityOrders, domain.SyncStatusFailed, "boom"); err != nil {
			t.Fatalf("release failed: %v", err)
		}
		state := store.Snapshot("acme", domain.EntityOrders)
		if state.ConsecutiveFailures != i {
			t.Errorf("attempt %d: expected %d failures, got %d", i, i, state.ConsecutiveFailures)
		}
		if state.LastFailedAt == nil {
			t.Error("expected lastFailedAt to be set")
		}
	}

	if _, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityOrders); !ok {
		t.Fatal("expected acquire")
	}
	if err := m.ReleaseLock(ctx, "acme", domain.EntityOrders, domain.SyncStatusCompleted, ""); err != nil {
		t.Fatalf("release completed: %v", err)
	}

	state := store.Snapshot("acme", domain.EntityOrders)
	if state.ConsecutiveFailures != 0 {
		t.Errorf("expected failures reset, got %d", state.ConsecutiveFailures)
	}
	if state.LastError != "" {
		t.Errorf("expected error cleared, got %q", state.LastError)
	}
	if state.Status != domain.SyncStatusCompleted || state.IsLocked {
		t.Errorf("expected unlocked completed row, got status=%s locked=%v", state.Status, state.IsLocked)
	}
	if state.LastCompletedAt == nil {
		t.Error("expected lastCompletedAt to be set")
	}
}

func TestLockManager_ReleaseLockInvalidStatus(t *testing.T) {
	_, _, m := newTestLockManager()

	err := m.ReleaseLock(context.Background(), "acme", domain.EntityOrders, domain.SyncStatusRunning, "")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLockManager_ReleaseLeaseChecksOwner(t *testing.T) {
	store, clock, m := newTestLockManager()
	ctx := context.Background()

	stale, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityOrders)
	if !ok {
		t.Fatal("expected acquire")
	}

	clock.Advance(11 * time.Minute)
	current, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityOrders)
	if !ok {
		t.Fatal("expected reclaim of expired lease")
	}

	err := m.ReleaseLease(ctx, stale, domain.SyncStatusFailed, "fetch page 3: context canceled")
	if !errors.Is(err, domain.ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld for superseded lease, got %v", err)
	}
	state := store.Snapshot("acme", domain.EntityOrders)
	if !state.IsLocked || state.LockOwner != current.Owner {
		t.Errorf("expected new owner to keep the lock, got locked=%v owner=%q", state.IsLocked, state.LockOwner)
	}
	if state.ConsecutiveFailures != 0 {
		t.Errorf("expected no failure recorded, got %d", state.ConsecutiveFailures)
	}

	if err := m.ReleaseLease(ctx, current, domain.SyncStatusCompleted, ""); err != nil {
		t.Fatalf("release by owner: %v", err)
	}
	state = store.Snapshot("acme", domain.EntityOrders)
	if state.IsLocked || state.Status != domain.SyncStatusCompleted {
		t.Errorf("expected unlocked completed row, got status=%s locked=%v", state.Status, state.IsLocked)
	}
}

func TestLockManager_ExtendLock(t *testing.T) {
	_, clock, m := newTestLockManager()
	ctx := context.Background()

	lease, ok, _ := m.AcquireLock(ctx, "acme", domain.EntityOrders)
	if !ok {
		t.Fatal("expected acquire")
	}

	clock.Advance(8 * time.Minute)
	renewed, err := m.ExtendLock(ctx, lease)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !renewed.ExpiresAt.Equal(clock.Now().Add(10 * time.Minute)) {
		t.Errorf("expected expiry pushed to now+TTL, got %v", renewed.ExpiresAt)
	}

	// Past the original expiry, still held
	clock.Advance(5 * time.Minute)
	running, _ := m.IsRunning(ctx, "acme", domain.EntityOrders)
	if !running {
		t.Error("expected renewed lock to still be running")
	}

	stranger := lease
	stranger.Owner = "someone-else"
	if _, err := m.ExtendLock(ctx, stranger); !errors.Is(err, domain.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld for non-owner, got %v", err)
	}
}
