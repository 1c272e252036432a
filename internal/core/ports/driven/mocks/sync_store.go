package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

var _ driven.SyncStateStore = (*MockSyncStateStore)(nil)

// MockSyncStateStore is an in-memory SyncStateStore for testing.
// Each method holds the mutex for its whole body, mirroring the single-row
// atomicity of the SQL implementation.
type MockSyncStateStore struct {
	mu     sync.Mutex
	states map[string]*domain.SyncState

	// Custom behavior hooks (optional)
	UpdateCursorFn func(tenantID string, entity domain.EntityType, cursor *string, hwm *int64) error
	TryLockFn      func(tenantID string, entity domain.EntityType) (bool, error)
}

// NewMockSyncStateStore creates a new MockSyncStateStore
func NewMockSyncStateStore() *MockSyncStateStore {
	return &MockSyncStateStore{
		states: make(map[string]*domain.SyncState),
	}
}

func stateKey(tenantID string, entity domain.EntityType) string {
	return tenantID + "/" + string(entity)
}

func (m *MockSyncStateStore) getOrCreateLocked(tenantID string, entity domain.EntityType) *domain.SyncState {
	key := stateKey(tenantID, entity)
	state, ok := m.states[key]
	if !ok {
		state = domain.NewSyncState(tenantID, entity)
		m.states[key] = state
	}
	return state
}

func (m *MockSyncStateStore) GetOrCreate(ctx context.Context, tenantID string, entity domain.EntityType) (*domain.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.getOrCreateLocked(tenantID, entity)), nil
}

func (m *MockSyncStateStore) ListAll(ctx context.Context, tenantID string) ([]*domain.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.SyncState
	for _, e := range domain.AllEntityTypes() {
		result = append(result, copyState(m.getOrCreateLocked(tenantID, e)))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EntityType < result[j].EntityType })
	return result, nil
}

func (m *MockSyncStateStore) UpdateCursor(ctx context.Context, tenantID string, entity domain.EntityType, cursor *string, hwm *int64) error {
	if m.UpdateCursorFn != nil {
		if err := m.UpdateCursorFn(tenantID, entity, cursor, hwm); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreateLocked(tenantID, entity)
	if cursor != nil {
		c := *cursor
		state.LastCursor = &c
	} else {
		state.LastCursor = nil
	}
	if hwm != nil && (state.LastSyncedID == nil || *hwm > *state.LastSyncedID) {
		v := *hwm
		state.LastSyncedID = &v
	}
	return nil
}

func (m *MockSyncStateStore) UpdateMetrics(ctx context.Context, tenantID string, entity domain.EntityType, records int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreateLocked(tenantID, entity)
	state.TotalRecordsSynced += int64(records)
	state.LastRunRecords = records
	return nil
}

func (m *MockSyncStateStore) ResetFailures(ctx context.Context, tenantID string, entity domain.EntityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreateLocked(tenantID, entity)
	state.ConsecutiveFailures = 0
	state.LastError = ""
	if !state.IsLocked {
		state.Status = domain.SyncStatusIdle
	}
	return nil
}

func (m *MockSyncStateStore) ResetAll(ctx context.Context, tenantID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, state := range m.states {
		if state.TenantID != tenantID {
			continue
		}
		if state.IsLocked && !state.LockExpired(now) {
			continue
		}
		clearLock(state)
		state.LastCursor = nil
		state.LastSyncedID = nil
		state.ConsecutiveFailures = 0
		state.LastError = ""
		state.Status = domain.SyncStatusIdle
		n++
	}
	return n, nil
}

func (m *MockSyncStateStore) TryLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error) {
	if m.TryLockFn != nil {
		return m.TryLockFn(tenantID, entity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreateLocked(tenantID, entity)
	if state.IsLocked {
		return false, nil
	}
	lock(state, owner, now, expiresAt)
	return true, nil
}

func (m *MockSyncStateStore) ForceLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreateLocked(tenantID, entity)
	if !state.IsLocked || !state.LockExpired(now) {
		return false, nil
	}
	lock(state, owner, now, expiresAt)
	return true, nil
}

func (m *MockSyncStateStore) ExtendLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreateLocked(tenantID, entity)
	if !state.IsLocked || state.LockOwner != owner {
		return false, nil
	}
	state.LockExpiresAt = &expiresAt
	return true, nil
}

func (m *MockSyncStateStore) ReleaseCompleted(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreateLocked(tenantID, entity)
	if owner != "" && (!state.IsLocked || state.LockOwner != owner) {
		return domain.ErrLockNotHeld
	}
	clearLock(state)
	state.Status = domain.SyncStatusCompleted
	state.ConsecutiveFailures = 0
	state.LastError = ""
	state.LastCompletedAt = &now
	return nil
}

func (m *MockSyncStateStore) ReleaseFailed(ctx context.Context, tenantID string, entity domain.EntityType, owner, errMsg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreateLocked(tenantID, entity)
	if owner != "" && (!state.IsLocked || state.LockOwner != owner) {
		return domain.ErrLockNotHeld
	}
	clearLock(state)
	state.Status = domain.SyncStatusFailed
	state.ConsecutiveFailures++
	state.LastError = errMsg
	state.LastFailedAt = &now
	return nil
}

func lock(state *domain.SyncState, owner string, now, expiresAt time.Time) {
	state.IsLocked = true
	state.LockOwner = owner
	state.LockedAt = &now
	state.LockExpiresAt = &expiresAt
	state.Status = domain.SyncStatusRunning
	state.LastStartedAt = &now
	state.LastError = ""
}

func clearLock(state *domain.SyncState) {
	state.IsLocked = false
	state.LockOwner = ""
	state.LockedAt = nil
	state.LockExpiresAt = nil
}

func copyState(s *domain.SyncState) *domain.SyncState {
	c := *s
	return &c
}

// Helper methods for testing

// Put replaces the stored row for test setup.
func (m *MockSyncStateStore) Put(state *domain.SyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateKey(state.TenantID, state.EntityType)] = copyState(state)
}

// Snapshot returns a copy of the stored row, or nil.
func (m *MockSyncStateStore) Snapshot(tenantID string, entity domain.EntityType) *domain.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[stateKey(tenantID, entity)]
	if !ok {
		return nil
	}
	return copyState(state)
}

func (m *MockSyncStateStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
