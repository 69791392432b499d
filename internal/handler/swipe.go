package handler

import (
	"net/http"

	"github.com/swiparr/swiparr-server/internal/httputil"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/service"
)

type SwipeHandler struct {
	swipeService *service.SwipeService
}

func NewSwipeHandler(swipeService *service.SwipeService) *SwipeHandler {
	return &SwipeHandler{swipeService: swipeService}
}

type swipeRequest struct {
	ItemID    string          `json:"itemId"`
	Direction model.Direction `json:"direction"`
}

// POST /api/swipe
func (h *SwipeHandler) Swipe(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	var req swipeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.swipeService.Swipe(r.Context(), identity, req.ItemID, req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
