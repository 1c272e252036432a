// Package docs registers the storesync admin API description with swag.
// Regenerate with: swag init -g cmd/storesync/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/token": {
            "post": {
                "description": "Exchange the admin username and password for a JWT",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Authentication"],
                "summary": "Issue admin token",
                "parameters": [
                    {"description": "Admin credentials", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/domain.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.LoginResponse"}},
                    "400": {"description": "Invalid request body", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tenants": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "List tenants",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.Tenant"}}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Stores the tenant with encrypted credentials and seeds one sync state per entity type",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Register tenant",
                "parameters": [
                    {"description": "Tenant details", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/domain.CreateTenantRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Tenant"}},
                    "400": {"description": "Invalid input", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Tenant already exists", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tenants/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Get tenant",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Tenant"}},
                    "404": {"description": "Tenant not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tenants/{id}/enable": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Enable tenant",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.StatusResponse"}},
                    "404": {"description": "Tenant not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tenants/{id}/disable": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Disabled tenants are skipped by the scheduler and by queued jobs",
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Disable tenant",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.StatusResponse"}},
                    "404": {"description": "Tenant not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tenants/{id}/sync": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Per-entity sync state with lock and circuit flags, recent sync logs and queue depth",
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "Get sync status",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/driving.SyncStatusReport"}},
                    "404": {"description": "Tenant not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Clears every checkpoint of the tenant and enqueues an initial run per entity type",
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "Trigger full sync",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/domain.SyncLog"}},
                    "404": {"description": "Tenant not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Sync in progress or tenant inactive", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tenants/{id}/sync/reset": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Clears checkpoints and failures for every entity not held by a live runner",
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "Reset all sync state",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.ResetResponse"}},
                    "404": {"description": "Tenant not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tenants/{id}/sync/{entity}": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Enqueues an incremental run for one entity. An open circuit must be reset first.",
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "Trigger entity sync",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "id", "in": "path", "required": true},
                    {"enum": ["customers", "products", "orders"], "type": "string", "description": "Entity type", "name": "entity", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/domain.Task"}},
                    "400": {"description": "Unknown entity type", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "404": {"description": "Tenant not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Sync in progress, circuit open or tenant inactive", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tenants/{id}/sync/{entity}/reset": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Clears the consecutive failure counter so automated syncs resume",
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "Reset entity failures",
                "parameters": [
                    {"type": "string", "description": "Tenant ID", "name": "id", "in": "path", "required": true},
                    {"enum": ["customers", "products", "orders"], "type": "string", "description": "Entity type", "name": "entity", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.StatusResponse"}},
                    "400": {"description": "Unknown entity type", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "404": {"description": "Tenant not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.LoginRequest": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "domain.LoginResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "domain.CreateTenantRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "shop_domain": {"type": "string"},
                "access_token": {"type": "string"}
            }
        },
        "domain.Tenant": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "shop_domain": {"type": "string"},
                "active": {"type": "boolean"},
                "last_synced_at": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.SyncLog": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "tenant_id": {"type": "string"},
                "sync_type": {"type": "string"},
                "status": {"type": "string", "enum": ["running", "completed", "failed"]},
                "records_processed": {"type": "integer"},
                "pending_entities": {"type": "integer"},
                "error_message": {"type": "string"},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"}
            }
        },
        "domain.Task": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "type": {"type": "string"},
                "tenant_id": {"type": "string"},
                "payload": {"type": "object", "additionalProperties": {"type": "string"}},
                "status": {"type": "string"},
                "priority": {"type": "integer"},
                "attempts": {"type": "integer"},
                "max_attempts": {"type": "integer"},
                "scheduled_for": {"type": "string"}
            }
        },
        "domain.EntityStatus": {
            "type": "object",
            "properties": {
                "tenant_id": {"type": "string"},
                "entity_type": {"type": "string"},
                "status": {"type": "string", "enum": ["idle", "running", "completed", "failed"]},
                "is_locked": {"type": "boolean"},
                "lock_expires_at": {"type": "string"},
                "last_cursor": {"type": "string"},
                "last_synced_id": {"type": "integer"},
                "consecutive_failures": {"type": "integer"},
                "last_error": {"type": "string"},
                "total_records_synced": {"type": "integer"},
                "last_run_records": {"type": "integer"},
                "lock_stale": {"type": "boolean"},
                "circuit_open": {"type": "boolean"}
            }
        },
        "driven.QueueStats": {
            "type": "object",
            "properties": {
                "pending_count": {"type": "integer"},
                "processing_count": {"type": "integer"},
                "completed_count": {"type": "integer"},
                "failed_count": {"type": "integer"},
                "oldest_pending_age": {"type": "integer"}
            }
        },
        "driving.SyncStatusReport": {
            "type": "object",
            "properties": {
                "tenant_id": {"type": "string"},
                "last_synced_at": {"type": "string"},
                "entities": {"type": "array", "items": {"$ref": "#/definitions/domain.EntityStatus"}},
                "recent_logs": {"type": "array", "items": {"$ref": "#/definitions/domain.SyncLog"}},
                "queue": {"$ref": "#/definitions/driven.QueueStats"}
            }
        },
        "http.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "invalid request body"}}
        },
        "http.StatusResponse": {
            "type": "object",
            "properties": {"status": {"type": "string", "example": "ok"}}
        },
        "http.ResetResponse": {
            "type": "object",
            "properties": {"reset": {"type": "integer", "example": 3}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "storesync admin API",
	Description:      "Tenant registry, on-demand sync triggers and sync status for the storesync engine.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
