package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrAlreadyExists", ErrAlreadyExists, "already exists"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrUnauthorized", ErrUnauthorized, "unauthorized"},
		{"ErrForbidden", ErrForbidden, "forbidden"},
		{"ErrSyncInProgress", ErrSyncInProgress, "sync already in progress"},
		{"ErrCircuitOpen", ErrCircuitOpen, "sync halted after consecutive failures"},
		{"ErrLockNotHeld", ErrLockNotHeld, "lock not held"},
		{"ErrTenantInactive", ErrTenantInactive, "tenant inactive"},
		{"ErrUpstream", ErrUpstream, "upstream error"},
		{"ErrTokenExpired", ErrTokenExpired, "token expired"},
		{"ErrTokenInvalid", ErrTokenInvalid, "token invalid"},
		{"ErrInvalidCredentials", ErrInvalidCredentials, "invalid credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrAlreadyExists,
		ErrInvalidInput,
		ErrUnauthorized,
		ErrForbidden,
		ErrSyncInProgress,
		ErrCircuitOpen,
		ErrLockNotHeld,
		ErrTenantInactive,
		ErrUpstream,
		ErrTokenExpired,
		ErrTokenInvalid,
		ErrInvalidCredentials,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestErrorsIsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("get tenant %s: %w", "t-1", ErrNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("wrapped ErrNotFound should match")
	}
	if errors.Is(wrapped, ErrUnauthorized) {
		t.Error("wrapped ErrNotFound should not match ErrUnauthorized")
	}
}
