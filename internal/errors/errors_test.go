package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Session not found")
		assert.Equal(t, "NOT_FOUND: Session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]int{"retryAfter": 42}
		err := RateLimitExceeded().WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"GuestSessionExpired", func() *AppError { return GuestSessionExpired() }, ErrCodeGuestSessionExpired},
		{"NotFound", func() *AppError { return NotFound("Session") }, ErrCodeNotFound},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"AdminAlreadyClaimed", func() *AppError { return AdminAlreadyClaimed() }, ErrCodeAdminAlreadyClaimed},
		{"SwipeLimitReached", func() *AppError { return SwipeLimitReached("test") }, ErrCodeSwipeLimitReached},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("code", "invalid") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("itemId") }, ErrCodeMissingRequired},
		{"SecurityRejection", func() *AppError { return SecurityRejection("blocked", nil) }, ErrCodeSecurityRejection},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"UpstreamUnavailable", func() *AppError { return UpstreamUnavailable("jellyfin", nil) }, ErrCodeUpstreamUnavailable},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestUpstreamUnavailable(t *testing.T) {
	cause := errors.New("timeout")
	err := UpstreamUnavailable("plex", cause)
	assert.Contains(t, err.Message, "plex")
	assert.ErrorIs(t, err, cause)
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError through fmt wrapping", func(t *testing.T) {
		original := GuestSessionExpired()
		wrapped := fmt.Errorf("resolve credentials: %w", original)
		extracted, ok := AsAppError(wrapped)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		extracted, ok := AsAppError(errors.New("standard error"))
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, GetCode(NotFound("Session")))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("standard error")))
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(AdminAlreadyClaimed(), ErrCodeAdminAlreadyClaimed))
	assert.False(t, HasCode(Conflict("x"), ErrCodeAdminAlreadyClaimed))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeConflict))
}
