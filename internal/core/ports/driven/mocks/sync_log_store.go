package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

var _ driven.SyncLogStore = (*MockSyncLogStore)(nil)

// MockSyncLogStore is a mock implementation of SyncLogStore for testing
type MockSyncLogStore struct {
	mu   sync.Mutex
	logs map[string]*domain.SyncLog
}

// NewMockSyncLogStore creates a new MockSyncLogStore
func NewMockSyncLogStore() *MockSyncLogStore {
	return &MockSyncLogStore{
		logs: make(map[string]*domain.SyncLog),
	}
}

func (m *MockSyncLogStore) Create(ctx context.Context, log *domain.SyncLog, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *log
	m.logs[log.ID] = &c

	tenantLogs := m.recentLocked(log.TenantID)
	if keep > 0 && len(tenantLogs) > keep {
		for _, old := range tenantLogs[keep:] {
			delete(m.logs, old.ID)
		}
	}
	return nil
}

func (m *MockSyncLogStore) Get(ctx context.Context, id string) (*domain.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *log
	return &c, nil
}

func (m *MockSyncLogStore) RecordEntityResult(ctx context.Context, id string, records int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return domain.ErrNotFound
	}
	log.RecordsProcessed += int64(records)
	if log.PendingEntities > 0 {
		log.PendingEntities--
	}
	if errMsg != "" {
		if log.ErrorMessage != "" {
			log.ErrorMessage += "; "
		}
		log.ErrorMessage += errMsg
	}
	if log.PendingEntities == 0 && log.Status == domain.SyncLogRunning {
		now := time.Now()
		log.CompletedAt = &now
		log.Status = domain.SyncLogCompleted
		if log.ErrorMessage != "" {
			log.Status = domain.SyncLogFailed
		}
	}
	return nil
}

func (m *MockSyncLogStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]*domain.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := m.recentLocked(tenantID)
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	result := make([]*domain.SyncLog, 0, len(logs))
	for _, log := range logs {
		c := *log
		result = append(result, &c)
	}
	return result, nil
}

func (m *MockSyncLogStore) recentLocked(tenantID string) []*domain.SyncLog {
	var logs []*domain.SyncLog
	for _, log := range m.logs {
		if log.TenantID == tenantID {
			logs = append(logs, log)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].StartedAt.After(logs[j].StartedAt) })
	return logs
}
