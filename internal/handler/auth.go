package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/swiparr/swiparr-server/internal/httputil"
	"github.com/swiparr/swiparr-server/internal/middleware"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/service"
)

type AuthHandler struct {
	authService    *service.AuthService
	sessionService *service.SessionService
	requireAuth    func(http.Handler) http.Handler
	loginLimit     func(http.Handler) http.Handler
	cookies        middleware.CookieOptions
}

func NewAuthHandler(
	authService *service.AuthService,
	sessionService *service.SessionService,
	requireAuth func(http.Handler) http.Handler,
	loginLimit func(http.Handler) http.Handler,
	cookies middleware.CookieOptions,
) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		sessionService: sessionService,
		requireAuth:    requireAuth,
		loginLimit:     loginLimit,
		cookies:        cookies,
	}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.loginLimit)
		r.Post("/login", h.Login)
		r.Post("/guest", h.GuestLogin)
		r.Get("/pin", h.RequestPin)
	})

	// Clients poll the pin until it is confirmed; the pin id and client id
	// already gate it, so it sits outside the login limit.
	r.Post("/pin", h.PinLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})

	return r
}

type loginRequest struct {
	Provider  string `json:"provider"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Token     string `json:"token"`
	ServerURL string `json:"serverUrl"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	User    *model.Identity `json:"user"`
	IsAdmin bool            `json:"isAdmin"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.authService.Login(r.Context(), req.Provider, provider.LoginCredentials{
		Username:  req.Username,
		Password:  req.Password,
		Token:     req.Token,
		ServerURL: req.ServerURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	middleware.SetAuthCookie(w, result.Token, h.cookies)
	writeJSON(w, http.StatusOK, loginResponse{Token: result.Token, User: result.Identity, IsAdmin: result.IsAdmin})
}

// GET /api/auth/pin?provider=
func (h *AuthHandler) RequestPin(w http.ResponseWriter, r *http.Request) {
	pin, err := h.authService.RequestPin(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pin)
}

type pinLoginRequest struct {
	Provider string `json:"provider"`
	PinID    string `json:"pinId"`
	ClientID string `json:"clientId"`
}

type pinLoginResponse struct {
	Authorized bool            `json:"authorized"`
	Token      string          `json:"token,omitempty"`
	User       *model.Identity `json:"user,omitempty"`
	IsAdmin    bool            `json:"isAdmin,omitempty"`
}

// POST /api/auth/pin
func (h *AuthHandler) PinLogin(w http.ResponseWriter, r *http.Request) {
	var req pinLoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.authService.PinLogin(r.Context(), req.Provider, req.PinID, req.ClientID)
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, pinLoginResponse{Authorized: false})
		return
	}

	middleware.SetAuthCookie(w, result.Token, h.cookies)
	writeJSON(w, http.StatusOK, pinLoginResponse{
		Authorized: true,
		Token:      result.Token,
		User:       result.Identity,
		IsAdmin:    result.IsAdmin,
	})
}

type guestLoginRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// POST /api/auth/guest
func (h *AuthHandler) GuestLogin(w http.ResponseWriter, r *http.Request) {
	var req guestLoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.authService.GuestLogin(r.Context(), req.Code, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	middleware.SetAuthCookie(w, result.Token, h.cookies)
	writeJSON(w, http.StatusOK, loginResponse{Token: result.Token, User: result.Identity})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	if err := h.authService.Logout(r.Context(), identity); err != nil {
		writeError(w, err)
		return
	}

	middleware.ClearAuthCookie(w, h.cookies)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}
	state, err := h.sessionService.Get(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    identity,
		"session": state,
	})
}
