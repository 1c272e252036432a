package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/swaggo/swag"

	"github.com/custodia-labs/storesync/internal/core/domain"

	// Registers the OpenAPI document with swag
	_ "github.com/custodia-labs/storesync/docs"
)

// readyTimeout bounds the dependency pings behind /ready
const readyTimeout = 3 * time.Second

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ResetResponse reports how many entity states were reset
// @Description Reset result
type ResetResponse struct {
	Reset int `json:"reset" example:"3"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the liveness of the API process
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings PostgreSQL and, when configured, Redis
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse  "A dependency is unreachable"
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "dependency", "postgres", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "dependency", "redis", "error", err)
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the build version of the service
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// handleDocs serves the registered OpenAPI document
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api documentation unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// Auth endpoints

// handleToken godoc
// @Summary      Issue admin token
// @Description  Exchange the admin username and password for a JWT
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        request  body      domain.LoginRequest  true  "Admin credentials"
// @Success      200      {object}  domain.LoginResponse
// @Failure      400      {object}  ErrorResponse  "Invalid request body"
// @Failure      401      {object}  ErrorResponse  "Invalid credentials"
// @Router       /auth/token [post]
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.authService.Authenticate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "username and password are required")
		case errors.Is(err, domain.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			s.logger.Error("token issuance failed", "error", err)
			writeError(w, http.StatusInternalServerError, "authentication failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Tenant endpoints

// handleListTenants godoc
// @Summary      List tenants
// @Tags         Tenants
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   domain.Tenant
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Router       /tenants [get]
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.tenantService.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if tenants == nil {
		tenants = []*domain.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

// handleCreateTenant godoc
// @Summary      Register tenant
// @Description  Stores the tenant with encrypted credentials and seeds one sync state per entity type
// @Tags         Tenants
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.CreateTenantRequest  true  "Tenant details"
// @Success      201      {object}  domain.Tenant
// @Failure      400      {object}  ErrorResponse  "Invalid input"
// @Failure      409      {object}  ErrorResponse  "Tenant already exists"
// @Router       /tenants [post]
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenant, err := s.tenantService.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

// handleGetTenant godoc
// @Summary      Get tenant
// @Tags         Tenants
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  domain.Tenant
// @Failure      404  {object}  ErrorResponse  "Tenant not found"
// @Router       /tenants/{id} [get]
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// handleEnableTenant godoc
// @Summary      Enable tenant
// @Tags         Tenants
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  StatusResponse
// @Failure      404  {object}  ErrorResponse  "Tenant not found"
// @Router       /tenants/{id}/enable [post]
func (s *Server) handleEnableTenant(w http.ResponseWriter, r *http.Request) {
	s.setTenantActive(w, r, true)
}

// handleDisableTenant godoc
// @Summary      Disable tenant
// @Description  Disabled tenants are skipped by the scheduler and by queued jobs
// @Tags         Tenants
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  StatusResponse
// @Failure      404  {object}  ErrorResponse  "Tenant not found"
// @Router       /tenants/{id}/disable [post]
func (s *Server) handleDisableTenant(w http.ResponseWriter, r *http.Request) {
	s.setTenantActive(w, r, false)
}

func (s *Server) setTenantActive(w http.ResponseWriter, r *http.Request, active bool) {
	if err := s.tenantService.SetActive(r.Context(), r.PathValue("id"), active); err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := "disabled"
	if active {
		status = "enabled"
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: status})
}

// Sync endpoints

// handleGetSyncStatus godoc
// @Summary      Get sync status
// @Description  Per-entity sync state with lock and circuit flags, recent sync logs and queue depth
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  driving.SyncStatusReport
// @Failure      404  {object}  ErrorResponse  "Tenant not found"
// @Router       /tenants/{id}/sync [get]
func (s *Server) handleGetSyncStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncService.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleTriggerFullSync godoc
// @Summary      Trigger full sync
// @Description  Clears every checkpoint of the tenant and enqueues an initial run per entity type
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      202  {object}  domain.SyncLog
// @Failure      404  {object}  ErrorResponse  "Tenant not found"
// @Failure      409  {object}  ErrorResponse  "Sync in progress or tenant inactive"
// @Router       /tenants/{id}/sync [post]
func (s *Server) handleTriggerFullSync(w http.ResponseWriter, r *http.Request) {
	log, err := s.syncService.TriggerFullSync(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, log)
}

// handleTriggerEntitySync godoc
// @Summary      Trigger entity sync
// @Description  Enqueues an incremental run for one entity. An open circuit must be reset first.
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true  "Tenant ID"
// @Param        entity  path      string  true  "Entity type"  Enums(customers, products, orders)
// @Success      202     {object}  domain.Task
// @Failure      400     {object}  ErrorResponse  "Unknown entity type"
// @Failure      404     {object}  ErrorResponse  "Tenant not found"
// @Failure      409     {object}  ErrorResponse  "Sync in progress, circuit open or tenant inactive"
// @Router       /tenants/{id}/sync/{entity} [post]
func (s *Server) handleTriggerEntitySync(w http.ResponseWriter, r *http.Request) {
	entity, err := domain.ParseEntityType(r.PathValue("entity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.syncService.TriggerEntitySync(r.Context(), r.PathValue("id"), entity)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// handleResetEntity godoc
// @Summary      Reset entity failures
// @Description  Clears the consecutive failure counter so automated syncs resume
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true  "Tenant ID"
// @Param        entity  path      string  true  "Entity type"  Enums(customers, products, orders)
// @Success      200     {object}  StatusResponse
// @Failure      400     {object}  ErrorResponse  "Unknown entity type"
// @Failure      404     {object}  ErrorResponse  "Tenant not found"
// @Router       /tenants/{id}/sync/{entity}/reset [post]
func (s *Server) handleResetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := domain.ParseEntityType(r.PathValue("entity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.syncService.ResetEntity(r.Context(), r.PathValue("id"), entity); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "reset"})
}

// handleResetAll godoc
// @Summary      Reset all sync state
// @Description  Clears checkpoints and failures for every entity not held by a live runner
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  ResetResponse
// @Failure      404  {object}  ErrorResponse  "Tenant not found"
// @Router       /tenants/{id}/sync/reset [post]
func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.syncService.ResetAll(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{Reset: n})
}

// writeServiceError maps domain errors onto status codes
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrSyncInProgress),
		errors.Is(err, domain.ErrCircuitOpen),
		errors.Is(err, domain.ErrTenantInactive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
