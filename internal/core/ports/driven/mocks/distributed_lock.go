package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

const (
	selfOwner  = "self"
	otherOwner = "other-instance"
)

// MockDistributedLock stands in for the scheduler:<entity> cycle locks.
// Like the Redis and advisory-lock adapters it only lets this instance
// release or extend names it holds.
type MockDistributedLock struct {
	mu       sync.Mutex
	held     map[string]heldLock
	acquired []string

	// AcquireFn replaces Acquire when set, e.g. to simulate a backend outage
	AcquireFn func(name string, ttl time.Duration) (bool, error)
	PingErr   error

	// Now defaults to time.Now
	Now func() time.Time
}

type heldLock struct {
	owner     string
	expiresAt time.Time
}

// NewMockDistributedLock creates an empty lock table.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{held: make(map[string]heldLock)}
}

func (m *MockDistributedLock) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockDistributedLock) liveLocked(name string) (heldLock, bool) {
	h, ok := m.held[name]
	if !ok || !m.now().Before(h.expiresAt) {
		return heldLock{}, false
	}
	return h, true
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.liveLocked(name); ok {
		return false, nil
	}
	m.held[name] = heldLock{owner: selfOwner, expiresAt: m.now().Add(ttl)}
	m.acquired = append(m.acquired, name)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.held[name]; ok && h.owner == selfOwner {
		delete(m.held, name)
	}
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.liveLocked(name)
	if !ok || h.owner != selfOwner {
		return fmt.Errorf("extend lock %s: %w", name, domain.ErrLockNotHeld)
	}
	h.expiresAt = m.now().Add(ttl)
	m.held[name] = h
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	return m.PingErr
}

// HoldForOther marks name as taken by another instance for ttl.
func (m *MockDistributedLock) HoldForOther(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[name] = heldLock{owner: otherOwner, expiresAt: m.now().Add(ttl)}
}

// IsHeld reports whether anyone holds a live lock on name.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.liveLocked(name)
	return ok
}

// Acquired lists the names this instance acquired, in order.
func (m *MockDistributedLock) Acquired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acquired...)
}
