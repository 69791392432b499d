package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/httputil"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/service"
)

// maxImageDimension bounds resize requests forwarded upstream.
const maxImageDimension = 4000

// DeckHandler serves the swipe deck and the catalog lookups behind the filter UI.
type DeckHandler struct {
	deckService *service.DeckService
}

func NewDeckHandler(deckService *service.DeckService) *DeckHandler {
	return &DeckHandler{deckService: deckService}
}

func (h *DeckHandler) CatalogRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/genres", h.Genres)
	r.Get("/years", h.Years)
	r.Get("/regions", h.Regions)
	r.Get("/watch-providers", h.WatchProviders)
	r.Get("/libraries", h.Libraries)
	r.Get("/items/{id}", h.Item)
	r.Get("/items/{id}/image", h.Image)

	return r
}

// GET /api/deck?page=
func (h *DeckHandler) Deck(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	page, err := h.deckService.GetDeck(r.Context(), identity, ParsePage(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /api/catalog/items/{id}
func (h *DeckHandler) Item(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	item, err := h.deckService.Item(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *DeckHandler) Genres(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	genres, err := h.deckService.Genres(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, genres)
}

func (h *DeckHandler) Years(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	years, err := h.deckService.Years(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, years)
}

func (h *DeckHandler) Regions(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	regions, err := h.deckService.Regions(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, regions)
}

// GET /api/catalog/watch-providers?region=
func (h *DeckHandler) WatchProviders(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	providers, err := h.deckService.WatchProviders(r.Context(), identity, r.URL.Query().Get("region"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

// GET /api/catalog/libraries
func (h *DeckHandler) Libraries(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	view, err := h.deckService.Libraries(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func parseDimension(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return min(n, maxImageDimension)
}

// GET /api/catalog/items/{id}/image?type=&width=&height=
func (h *DeckHandler) Image(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	q := r.URL.Query()
	img, err := h.deckService.Image(r.Context(), identity, chi.URLParam(r, "id"), provider.ImageRequest{
		Type:   q.Get("type"),
		Width:  parseDimension(q.Get("width")),
		Height: parseDimension(q.Get("height")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

type watchlistRequest struct {
	ItemID       string `json:"itemId"`
	Action       string `json:"action"`
	UseWatchlist bool   `json:"useWatchlist"`
}

// POST /api/user/watchlist
func (h *DeckHandler) Watchlist(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	var req watchlistRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Action != "add" && req.Action != "remove" {
		writeError(w, apperrors.InvalidInput("action", "must be add or remove"))
		return
	}
	err := h.deckService.ToggleWatchlist(r.Context(), identity, provider.WatchlistRequest{
		ItemID:       req.ItemID,
		Add:          req.Action == "add",
		UseWatchlist: req.UseWatchlist,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
