package handler

import (
	"net/http"

	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/httputil"
	"github.com/swiparr/swiparr-server/internal/middleware"
	"github.com/swiparr/swiparr-server/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// requireIdentity returns the authenticated identity or writes a 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) *model.Identity {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
	}
	return identity
}
