package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

var (
	_ driven.PageSource     = (*MockPageSource)(nil)
	_ driven.RecordUpserter = (*MockRecordUpserter)(nil)
)

// MockPageSource serves a fixed list of pages chained by cursor.
// Page i is requested with cursor "" (or any since id) for i == 0 and
// cursor "page-i" afterwards.
type MockPageSource struct {
	mu       sync.Mutex
	Pages    []*domain.Page
	Requests []domain.PageRequest

	// FetchFn overrides the default paging behavior when set
	FetchFn func(req domain.PageRequest) (*domain.Page, error)

	// FetchContextFn is FetchFn for fetches that watch ctx. It wins over FetchFn.
	FetchContextFn func(ctx context.Context, req domain.PageRequest) (*domain.Page, error)
}

// NewMockPageSource builds a source whose pages hold the given record ids.
func NewMockPageSource(pages ...[]int64) *MockPageSource {
	src := &MockPageSource{}
	for i, ids := range pages {
		page := &domain.Page{}
		for _, id := range ids {
			page.Records = append(page.Records, domain.Record{
				ExternalID: id,
				Raw:        []byte(fmt.Sprintf(`{"id":%d}`, id)),
			})
		}
		if i < len(pages)-1 {
			page.HasMore = true
			page.NextCursor = fmt.Sprintf("page-%d", i+1)
		}
		src.Pages = append(src.Pages, page)
	}
	return src
}

func (m *MockPageSource) FetchPage(ctx context.Context, tenant *domain.Tenant, req domain.PageRequest) (*domain.Page, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.FetchContextFn != nil {
		return m.FetchContextFn(ctx, req)
	}
	if m.FetchFn != nil {
		return m.FetchFn(req)
	}
	if len(m.Pages) == 0 {
		return &domain.Page{}, nil
	}
	idx := 0
	if req.Cursor != "" {
		if _, err := fmt.Sscanf(req.Cursor, "page-%d", &idx); err != nil {
			return nil, fmt.Errorf("unknown cursor %q", req.Cursor)
		}
	}
	if idx >= len(m.Pages) {
		return nil, fmt.Errorf("cursor %q out of range", req.Cursor)
	}
	return m.Pages[idx], nil
}

// RequestLog returns the requests received so far.
func (m *MockPageSource) RequestLog() []domain.PageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PageRequest(nil), m.Requests...)
}

// MockRecordUpserter stores records in memory keyed by tenant and external id
type MockRecordUpserter struct {
	mu      sync.Mutex
	records map[string]map[int64][]byte
	Calls   int

	UpsertFn func(tenantID string, record domain.Record) error
}

// NewMockRecordUpserter creates a new MockRecordUpserter
func NewMockRecordUpserter() *MockRecordUpserter {
	return &MockRecordUpserter{records: make(map[string]map[int64][]byte)}
}

func (m *MockRecordUpserter) Upsert(ctx context.Context, tenantID string, record domain.Record) error {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(tenantID, record); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.records[tenantID] == nil {
		m.records[tenantID] = make(map[int64][]byte)
	}
	m.records[tenantID][record.ExternalID] = record.Raw
	return nil
}

// Count returns the number of distinct records stored for the tenant.
func (m *MockRecordUpserter) Count(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[tenantID])
}
