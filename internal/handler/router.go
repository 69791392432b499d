package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/audit"
	"github.com/swiparr/swiparr-server/internal/config"
	"github.com/swiparr/swiparr-server/internal/database"
	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/middleware"
	"github.com/swiparr/swiparr-server/internal/service"
	"github.com/swiparr/swiparr-server/internal/sse"
)

const loginLimiterName = "login"

// RouterDeps is everything the HTTP surface needs from the process.
type RouterDeps struct {
	DB       *database.DB
	Auth     *service.AuthService
	Sessions *service.SessionService
	Swipes   *service.SwipeService
	Decks    *service.DeckService
	Matches  *service.MatchService
	Admin    *service.AdminService
	Broker   *sse.Broker

	// LookupLimiter throttles anonymous session code lookups.
	LookupLimiter service.Limiter

	// ImageOrigins are the artwork hosts the CSP allows besides this server.
	ImageOrigins       []string
	StaticDir          string
	CORSAllowedOrigins []string
	Cookies            middleware.CookieOptions
	IsProduction       bool
}

func NewRouter(deps RouterDeps) chi.Router {
	authMiddleware := middleware.NewAuthMiddleware(deps.Auth)
	csrfMiddleware := middleware.NewCSRFMiddleware(deps.Cookies)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(deps.IsProduction, deps.ImageOrigins)
	lookupLimitMiddleware := middleware.NewRateLimitMiddleware(deps.LookupLimiter, "session_lookup")
	loginLimit := httprate.Limit(
		config.LoginRateLimitPerMin,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(loginLimitExceeded),
	)

	authHandler := NewAuthHandler(deps.Auth, deps.Sessions, authMiddleware.Handler, loginLimit, deps.Cookies)
	sessionHandler := NewSessionHandler(
		deps.Sessions, deps.Matches, NewEventsHandler(deps.Broker), authMiddleware.Handler, lookupLimitMiddleware.Handler,
	)
	swipeHandler := NewSwipeHandler(deps.Swipes)
	deckHandler := NewDeckHandler(deps.Decks)
	adminHandler := NewAdminHandler(deps.Admin)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.CSRFHeaderName},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", healthHandler(deps.DB))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(csrfMiddleware.Handler)

		// The event stream outlives the request timeout, so only the
		// non-streaming routes carry it.
		r.Mount("/session", sessionHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

			r.Mount("/auth", authHandler.Routes())

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Handler)
				r.Post("/swipe", swipeHandler.Swipe)
				r.Get("/deck", deckHandler.Deck)
				r.Post("/user/watchlist", deckHandler.Watchlist)
				r.Mount("/catalog", deckHandler.CatalogRoutes())
				r.Mount("/admin", adminHandler.Routes())
			})
		})
	})

	if deps.StaticDir != "" {
		r.NotFound(StaticFileServer(deps.StaticDir, "").ServeHTTP)
	}

	return r
}

func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("health check database ping failed")
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]any{
			"status":    status,
			"timestamp": time.Now().UnixMilli(),
		})
	}
}

func loginLimitExceeded(w http.ResponseWriter, r *http.Request) {
	metrics.RateLimitRejections.WithLabelValues(loginLimiterName).Inc()
	audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed, Details: map[string]interface{}{"limiter": loginLimiterName}})
	writeError(w, apperrors.RateLimitExceeded())
}
