package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/httputil"
	"github.com/swiparr/swiparr-server/internal/match"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
	matchService   *service.MatchService
	events         http.Handler
	requireAuth    func(http.Handler) http.Handler
	lookupLimit    func(http.Handler) http.Handler
}

func NewSessionHandler(
	sessionService *service.SessionService,
	matchService *service.MatchService,
	events http.Handler,
	requireAuth func(http.Handler) http.Handler,
	lookupLimit func(http.Handler) http.Handler,
) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		matchService:   matchService,
		events:         events,
		requireAuth:    requireAuth,
		lookupLimit:    lookupLimit,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Anonymous visitors look up a code before choosing how to sign in.
	r.With(h.lookupLimit).Get("/provider", h.LookupProvider)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/", h.Get)
		r.Post("/", h.CreateOrJoin)
		r.Patch("/", h.Update)
		r.Delete("/", h.Leave)
		r.Get("/matches", h.Matches)
		r.Get("/stats", h.Stats)
		r.Get("/events", h.events.ServeHTTP)
	})

	return r
}

// GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	h.writeState(w, r, identity)
}

func (h *SessionHandler) writeState(w http.ResponseWriter, r *http.Request, identity *model.Identity) {
	state, err := h.sessionService.Get(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type sessionActionRequest struct {
	Action            string `json:"action"`
	Code              string `json:"code"`
	AllowGuestLending bool   `json:"allowGuestLending"`
}

// POST /api/session
func (h *SessionHandler) CreateOrJoin(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	var req sessionActionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	switch req.Action {
	case "create":
		_, err = h.sessionService.Create(r.Context(), identity, req.AllowGuestLending)
	case "join":
		_, err = h.sessionService.Join(r.Context(), identity, req.Code)
	default:
		err = apperrors.InvalidInput("action", "must be create or join")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeState(w, r, identity)
}

type sessionUpdateRequest struct {
	Filters           *model.Filters  `json:"filters"`
	Settings          *match.Settings `json:"settings"`
	AllowGuestLending *bool           `json:"allowGuestLending"`
}

// PATCH /api/session
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	var req sessionUpdateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Filters == nil && req.Settings == nil && req.AllowGuestLending == nil {
		writeError(w, apperrors.ValidationError("Nothing to update"))
		return
	}

	ctx := r.Context()
	if req.Filters != nil {
		if err := h.sessionService.UpdateFilters(ctx, identity, *req.Filters); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Settings != nil {
		if err := h.sessionService.UpdateSettings(ctx, identity, *req.Settings); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.AllowGuestLending != nil {
		if err := h.sessionService.UpdateLending(ctx, identity, *req.AllowGuestLending); err != nil {
			writeError(w, err)
			return
		}
	}
	h.writeState(w, r, identity)
}

// DELETE /api/session
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	if err := h.sessionService.Leave(r.Context(), identity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GET /api/session/provider?code=
func (h *SessionHandler) LookupProvider(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperrors.MissingRequired("code"))
		return
	}
	info, err := h.sessionService.LookupProvider(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GET /api/session/matches
func (h *SessionHandler) Matches(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	matches, err := h.matchService.ListMatches(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// GET /api/session/stats
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	stats, err := h.matchService.Stats(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
