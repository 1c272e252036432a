package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks permission for this action
	ErrForbidden = errors.New("forbidden")

	// ErrSyncInProgress indicates a sync is already running
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrCircuitOpen indicates automated syncs are halted after repeated failures
	ErrCircuitOpen = errors.New("sync halted after consecutive failures")

	// ErrLockNotHeld indicates the caller no longer owns the sync lock
	ErrLockNotHeld = errors.New("lock not held")

	// ErrTenantInactive indicates the tenant is disabled
	ErrTenantInactive = errors.New("tenant inactive")

	// ErrUpstream indicates the commerce API returned an unusable response
	ErrUpstream = errors.New("upstream error")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrInvalidCredentials indicates wrong username/password combination
	ErrInvalidCredentials = errors.New("invalid credentials")
)
