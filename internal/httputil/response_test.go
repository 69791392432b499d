package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/swiparr/swiparr-server/internal/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   apperrors.ErrorCode
	}{
		{"guest session expired", apperrors.GuestSessionExpired(), http.StatusUnauthorized, apperrors.ErrCodeGuestSessionExpired},
		{"unauthorized", apperrors.Unauthorized("no"), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
		{"forbidden", apperrors.Forbidden("no"), http.StatusForbidden, apperrors.ErrCodeForbidden},
		{"admin already claimed", apperrors.AdminAlreadyClaimed(), http.StatusConflict, apperrors.ErrCodeAdminAlreadyClaimed},
		{"security rejection", apperrors.SecurityRejection("blocked", nil), http.StatusBadRequest, apperrors.ErrCodeSecurityRejection},
		{"upstream", apperrors.UpstreamUnavailable("tmdb", nil), http.StatusBadGateway, apperrors.ErrCodeUpstreamUnavailable},
		{"rate limit", apperrors.RateLimitExceeded(), http.StatusTooManyRequests, apperrors.ErrCodeRateLimitExceeded},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantCode, body.Code)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		ItemID string `json:"itemId"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"itemId":"abc"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "abc", dst.ItemID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	err := DecodeJSON(req, &dst)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}
