package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/swiparr/swiparr-server/internal/httputil"
	"github.com/swiparr/swiparr-server/internal/service"
)

type AdminHandler struct {
	adminService *service.AdminService
}

func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Post("/claim", h.Claim)
	r.Put("/libraries", h.SetLibraries)

	return r
}

// GET /api/admin/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	status, err := h.adminService.Status(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// POST /api/admin/claim
func (h *AdminHandler) Claim(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	if err := h.adminService.Claim(r.Context(), identity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type librariesRequest struct {
	Libraries []string `json:"libraries"`
}

// PUT /api/admin/libraries
func (h *AdminHandler) SetLibraries(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	var req librariesRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	included, err := h.adminService.SetIncludedLibraries(r.Context(), identity, req.Libraries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"included": included})
}
