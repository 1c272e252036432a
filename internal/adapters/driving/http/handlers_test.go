package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/storesync/internal/core/ports/driving"
	"github.com/custodia-labs/storesync/internal/core/services"
)

// Mock services for testing

type mockAuthService struct {
	authenticateFn  func(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error)
	validateTokenFn func(ctx context.Context, token string) (*domain.AuthContext, error)
}

func (m *mockAuthService) Authenticate(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	if m.validateTokenFn != nil {
		return m.validateTokenFn(ctx, token)
	}
	switch token {
	case "admin-token":
		return &domain.AuthContext{Subject: "ops", Role: domain.RoleAdmin}, nil
	case "viewer-token":
		return &domain.AuthContext{Subject: "ro", Role: domain.RoleViewer}, nil
	}
	return nil, domain.ErrTokenInvalid
}

type mockTenantService struct {
	createFn    func(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error)
	getFn       func(ctx context.Context, id string) (*domain.Tenant, error)
	listFn      func(ctx context.Context) ([]*domain.Tenant, error)
	setActiveFn func(ctx context.Context, id string, active bool) error
}

func (m *mockTenantService) Create(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error) {
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockTenantService) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockTenantService) List(ctx context.Context) ([]*domain.Tenant, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockTenantService) SetActive(ctx context.Context, id string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	return nil
}

type mockSyncService struct {
	triggerFullFn   func(ctx context.Context, tenantID string) (*domain.SyncLog, error)
	triggerEntityFn func(ctx context.Context, tenantID string, entity domain.EntityType) (*domain.Task, error)
	getStatusFn     func(ctx context.Context, tenantID string) (*driving.SyncStatusReport, error)
	resetEntityFn   func(ctx context.Context, tenantID string, entity domain.EntityType) error
	resetAllFn      func(ctx context.Context, tenantID string) (int, error)
}

func (m *mockSyncService) TriggerFullSync(ctx context.Context, tenantID string) (*domain.SyncLog, error) {
	if m.triggerFullFn != nil {
		return m.triggerFullFn(ctx, tenantID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncService) TriggerEntitySync(ctx context.Context, tenantID string, entity domain.EntityType) (*domain.Task, error) {
	if m.triggerEntityFn != nil {
		return m.triggerEntityFn(ctx, tenantID, entity)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncService) GetStatus(ctx context.Context, tenantID string) (*driving.SyncStatusReport, error) {
	if m.getStatusFn != nil {
		return m.getStatusFn(ctx, tenantID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSyncService) ResetEntity(ctx context.Context, tenantID string, entity domain.EntityType) error {
	if m.resetEntityFn != nil {
		return m.resetEntityFn(ctx, tenantID, entity)
	}
	return errors.New("not implemented")
}

func (m *mockSyncService) ResetAll(ctx context.Context, tenantID string) (int, error) {
	if m.resetAllFn != nil {
		return m.resetAllFn(ctx, tenantID)
	}
	return 0, errors.New("not implemented")
}

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

// Helper functions

func newTestServer(auth driving.AuthService, tenants driving.TenantService, sync driving.SyncService) *Server {
	if auth == nil {
		auth = &mockAuthService{}
	}
	if tenants == nil {
		tenants = &mockTenantService{}
	}
	if sync == nil {
		sync = &mockSyncService{}
	}
	cfg := DefaultConfig()
	cfg.Version = "1.2.3"
	return NewServer(cfg, auth, tenants, sync, mockPinger{}, nil)
}

func doRequest(s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

// Health endpoint tests

func TestHandleHealth(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	rr := doRequest(s, "GET", "/health", "", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	var resp StatusResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %s", resp.Status)
	}
}

func TestHandleReady(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	if rr := doRequest(s, "GET", "/ready", "", nil); rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	down := NewServer(DefaultConfig(), &mockAuthService{}, &mockTenantService{}, &mockSyncService{},
		mockPinger{}, mockPinger{err: errors.New("connection refused")})
	rr := doRequest(down, "GET", "/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "redis unavailable") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	rr := doRequest(s, "GET", "/version", "", nil)

	var resp VersionResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %s", resp.Version)
	}
}

func TestHandleDocs(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	rr := doRequest(s, "GET", "/api/v1/docs", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("docs are not valid JSON: %v", err)
	}
	paths, _ := doc["paths"].(map[string]interface{})
	if _, ok := paths["/tenants/{id}/sync"]; !ok {
		t.Error("expected the sync status route to be documented")
	}
}

func TestMetricsRoute(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("storesync_sync_runs_total 0\n"))
	})
	s := NewServer(cfg, &mockAuthService{}, &mockTenantService{}, &mockSyncService{}, mockPinger{}, nil)

	rr := doRequest(s, "GET", "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "storesync_sync_runs_total") {
		t.Errorf("unexpected metrics response: %d %s", rr.Code, rr.Body.String())
	}

	// Without a handler the route is not registered
	if rr := doRequest(newTestServer(nil, nil, nil), "GET", "/metrics", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without metrics handler, got %d", rr.Code)
	}
}

// Auth endpoint tests

func TestHandleToken(t *testing.T) {
	auth := &mockAuthService{
		authenticateFn: func(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
			switch {
			case req.Username == "" || req.Password == "":
				return nil, domain.ErrInvalidInput
			case req.Password != "s3cret":
				return nil, domain.ErrInvalidCredentials
			}
			return &domain.LoginResponse{Token: "jwt", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	s := newTestServer(auth, nil, nil)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{"valid", domain.LoginRequest{Username: "ops", Password: "s3cret"}, http.StatusOK},
		{"wrong password", domain.LoginRequest{Username: "ops", Password: "nope"}, http.StatusUnauthorized},
		{"missing fields", domain.LoginRequest{}, http.StatusBadRequest},
		{"malformed", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(s, "POST", "/api/v1/auth/token", "", tt.body)
			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

// Tenant endpoint tests

func TestHandleCreateTenant(t *testing.T) {
	tenants := &mockTenantService{
		createFn: func(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error) {
			if req.ID == "acme" {
				return nil, fmt.Errorf("%w: tenant acme", domain.ErrAlreadyExists)
			}
			if err := req.Validate(); err != nil {
				return nil, err
			}
			return &domain.Tenant{ID: req.ID, ShopDomain: req.ShopDomain, Active: true}, nil
		},
	}
	s := newTestServer(nil, tenants, nil)

	valid := domain.CreateTenantRequest{ID: "globex", ShopDomain: "globex.myshopify.com", AccessToken: "shpat_x"}

	rr := doRequest(s, "POST", "/api/v1/tenants", "admin-token", valid)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "shpat_x") {
		t.Error("credentials must not be echoed back")
	}

	if rr := doRequest(s, "POST", "/api/v1/tenants", "viewer-token", valid); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for viewer, got %d", rr.Code)
	}
	if rr := doRequest(s, "POST", "/api/v1/tenants", "", valid); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	dup := valid
	dup.ID = "acme"
	if rr := doRequest(s, "POST", "/api/v1/tenants", "admin-token", dup); rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", rr.Code)
	}

	invalid := valid
	invalid.ShopDomain = "https://globex.myshopify.com"
	if rr := doRequest(s, "POST", "/api/v1/tenants", "admin-token", invalid); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid input, got %d", rr.Code)
	}
}

func TestHandleListAndGetTenants(t *testing.T) {
	tenants := &mockTenantService{
		listFn: func(ctx context.Context) ([]*domain.Tenant, error) {
			return []*domain.Tenant{{ID: "acme"}, {ID: "globex"}}, nil
		},
		getFn: func(ctx context.Context, id string) (*domain.Tenant, error) {
			if id == "acme" {
				return &domain.Tenant{ID: "acme"}, nil
			}
			return nil, domain.ErrNotFound
		},
	}
	s := newTestServer(nil, tenants, nil)

	rr := doRequest(s, "GET", "/api/v1/tenants", "viewer-token", nil)
	var list []domain.Tenant
	_ = json.NewDecoder(rr.Body).Decode(&list)
	if rr.Code != http.StatusOK || len(list) != 2 {
		t.Errorf("expected 2 tenants, got %d (status %d)", len(list), rr.Code)
	}

	if rr := doRequest(s, "GET", "/api/v1/tenants/acme", "viewer-token", nil); rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if rr := doRequest(s, "GET", "/api/v1/tenants/ghost", "viewer-token", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHandleListTenants_Empty(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	rr := doRequest(s, "GET", "/api/v1/tenants", "admin-token", nil)

	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rr.Body.String())
	}
}

func TestHandleEnableDisableTenant(t *testing.T) {
	calls := map[string]bool{}
	tenants := &mockTenantService{
		setActiveFn: func(ctx context.Context, id string, active bool) error {
			if id == "ghost" {
				return domain.ErrNotFound
			}
			calls[id] = active
			return nil
		},
	}
	s := newTestServer(nil, tenants, nil)

	if rr := doRequest(s, "POST", "/api/v1/tenants/acme/disable", "admin-token", nil); rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if active, ok := calls["acme"]; !ok || active {
		t.Error("expected acme to be disabled")
	}
	if rr := doRequest(s, "POST", "/api/v1/tenants/acme/enable", "admin-token", nil); rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if !calls["acme"] {
		t.Error("expected acme to be enabled")
	}
	if rr := doRequest(s, "POST", "/api/v1/tenants/ghost/enable", "admin-token", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

// Sync endpoint tests

func TestHandleTriggerFullSync(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"unknown tenant", domain.ErrNotFound, http.StatusNotFound},
		{"inactive tenant", domain.ErrTenantInactive, http.StatusConflict},
		{"running", fmt.Errorf("%w: orders", domain.ErrSyncInProgress), http.StatusConflict},
		{"backend down", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sync := &mockSyncService{
				triggerFullFn: func(ctx context.Context, tenantID string) (*domain.SyncLog, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return domain.NewSyncLog(tenantID, domain.SyncTypeFull, 3), nil
				},
			}
			s := newTestServer(nil, nil, sync)

			rr := doRequest(s, "POST", "/api/v1/tenants/acme/sync", "admin-token", nil)
			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if tt.wantStatus == http.StatusInternalServerError && strings.Contains(rr.Body.String(), "connection reset") {
				t.Error("internal errors must not leak")
			}
		})
	}
}

func TestHandleTriggerEntitySync(t *testing.T) {
	var got domain.EntityType
	sync := &mockSyncService{
		triggerEntityFn: func(ctx context.Context, tenantID string, entity domain.EntityType) (*domain.Task, error) {
			got = entity
			if entity == domain.EntityProducts {
				return nil, fmt.Errorf("%w: reset products before syncing", domain.ErrCircuitOpen)
			}
			return domain.NewSyncEntityTask(tenantID, entity, false, ""), nil
		},
	}
	s := newTestServer(nil, nil, sync)

	rr := doRequest(s, "POST", "/api/v1/tenants/acme/sync/orders", "admin-token", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if got != domain.EntityOrders {
		t.Errorf("expected orders, got %s", got)
	}
	var task domain.Task
	_ = json.NewDecoder(rr.Body).Decode(&task)
	if task.TenantID != "acme" || task.Type != domain.TaskTypeSyncEntity {
		t.Errorf("unexpected task: %+v", task)
	}

	if rr := doRequest(s, "POST", "/api/v1/tenants/acme/sync/products", "admin-token", nil); rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for open circuit, got %d", rr.Code)
	}
	if rr := doRequest(s, "POST", "/api/v1/tenants/acme/sync/invoices", "admin-token", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown entity, got %d", rr.Code)
	}
}

func TestHandleGetSyncStatus(t *testing.T) {
	sync := &mockSyncService{
		getStatusFn: func(ctx context.Context, tenantID string) (*driving.SyncStatusReport, error) {
			if tenantID != "acme" {
				return nil, domain.ErrNotFound
			}
			state := domain.NewSyncState("acme", domain.EntityOrders)
			state.ConsecutiveFailures = 5
			return &driving.SyncStatusReport{
				TenantID: "acme",
				Entities: []*domain.EntityStatus{{SyncState: state, BreakerOpen: true}},
			}, nil
		},
	}
	s := newTestServer(nil, nil, sync)

	rr := doRequest(s, "GET", "/api/v1/tenants/acme/sync", "viewer-token", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"circuit_open":true`) {
		t.Errorf("expected circuit flag in body: %s", rr.Body.String())
	}

	if rr := doRequest(s, "GET", "/api/v1/tenants/ghost/sync", "viewer-token", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHandleResets(t *testing.T) {
	var resetEntity domain.EntityType
	sync := &mockSyncService{
		resetEntityFn: func(ctx context.Context, tenantID string, entity domain.EntityType) error {
			resetEntity = entity
			return nil
		},
		resetAllFn: func(ctx context.Context, tenantID string) (int, error) {
			return 2, nil
		},
	}
	s := newTestServer(nil, nil, sync)

	rr := doRequest(s, "POST", "/api/v1/tenants/acme/sync/customers/reset", "admin-token", nil)
	if rr.Code != http.StatusOK || resetEntity != domain.EntityCustomers {
		t.Errorf("entity reset: status %d, entity %q", rr.Code, resetEntity)
	}

	rr = doRequest(s, "POST", "/api/v1/tenants/acme/sync/reset", "admin-token", nil)
	var resp ResetResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if rr.Code != http.StatusOK || resp.Reset != 2 {
		t.Errorf("reset all: status %d, reset %d", rr.Code, resp.Reset)
	}

	if rr := doRequest(s, "POST", "/api/v1/tenants/acme/sync/reset", "viewer-token", nil); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for viewer, got %d", rr.Code)
	}
}

// The API drives the real services against in-memory ports.
func TestServer_FullSyncFlow(t *testing.T) {
	tenantStore := mocks.NewMockTenantStore()
	states := mocks.NewMockSyncStateStore()
	logs := mocks.NewMockSyncLogStore()
	queue := mocks.NewMockTaskQueue()
	locks := services.NewLockManager(services.LockManagerConfig{Store: states})

	auth := services.NewAuthService(services.AuthServiceConfig{
		AuthAdapter:       mocks.NewMockAuthAdapter(),
		AdminUsername:     "ops",
		AdminPasswordHash: "s3cret",
	})
	tenants := services.NewTenantService(tenantStore, states)
	sync := services.NewSyncService(services.SyncServiceConfig{
		Tenants:   tenantStore,
		States:    states,
		Logs:      logs,
		TaskQueue: queue,
		Locks:     locks,
	})
	s := NewServer(DefaultConfig(), auth, tenants, sync, mockPinger{}, nil)

	rr := doRequest(s, "POST", "/api/v1/auth/token", "", domain.LoginRequest{Username: "ops", Password: "s3cret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("token: %d %s", rr.Code, rr.Body.String())
	}
	var login domain.LoginResponse
	_ = json.NewDecoder(rr.Body).Decode(&login)

	rr = doRequest(s, "POST", "/api/v1/tenants", login.Token, domain.CreateTenantRequest{
		ID:          "acme",
		ShopDomain:  "acme.myshopify.com",
		AccessToken: "shpat_test",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create tenant: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(s, "POST", "/api/v1/tenants/acme/sync", login.Token, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("full sync: %d %s", rr.Code, rr.Body.String())
	}
	var syncLog domain.SyncLog
	_ = json.NewDecoder(rr.Body).Decode(&syncLog)
	if syncLog.PendingEntities != len(domain.AllEntityTypes()) {
		t.Errorf("expected %d pending entities, got %d", len(domain.AllEntityTypes()), syncLog.PendingEntities)
	}
	if got := len(queue.Pending()); got != len(domain.AllEntityTypes()) {
		t.Errorf("expected one queued task per entity, got %d", got)
	}

	rr = doRequest(s, "GET", "/api/v1/tenants/acme/sync", login.Token, nil)
	var report driving.SyncStatusReport
	_ = json.NewDecoder(rr.Body).Decode(&report)
	if len(report.Entities) != len(domain.AllEntityTypes()) || len(report.RecentLogs) != 1 {
		t.Errorf("unexpected report: %d entities, %d logs", len(report.Entities), len(report.RecentLogs))
	}
	if report.Queue == nil || report.Queue.PendingCount != int64(len(domain.AllEntityTypes())) {
		t.Errorf("expected queue depth in report, got %+v", report.Queue)
	}
}
