package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/swiparr/swiparr-server/internal/config"
	"github.com/swiparr/swiparr-server/internal/handler"
	"github.com/swiparr/swiparr-server/internal/jobs"
	"github.com/swiparr/swiparr-server/internal/middleware"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/redis"
	"github.com/swiparr/swiparr-server/internal/repository"
	"github.com/swiparr/swiparr-server/internal/service"
	"github.com/swiparr/swiparr-server/internal/sse"
	"github.com/swiparr/swiparr-server/internal/ssrf"
	"github.com/swiparr/swiparr-server/internal/vault"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("database connected")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	} else {
		log.Info().Msg("REDIS_URL not set, events and rate limits stay in process")
	}

	sessionRepo := repository.NewSessionRepository(db.DB)
	memberRepo := repository.NewMemberRepository(db.DB)
	identityRepo := repository.NewIdentityRepository(db.DB)
	likeRepo := repository.NewLikeRepository(db.DB)
	hiddenRepo := repository.NewHiddenRepository(db.DB)
	configRepo := repository.NewConfigRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var lookupLimiter service.Limiter
	if redisClient != nil {
		lookupLimiter = service.NewRedisFixedWindowLimiter(redisClient.Client, "ratelimit", cfg.RateLimitMax, cfg.RateLimitWindow())
	} else {
		lookupLimiter = service.NewFixedWindowLimiter(cfg.RateLimitMax, cfg.RateLimitWindow())
	}

	guard := ssrf.New(nil)
	registry := provider.NewRegistry(
		provider.NewJellyfin(cfg.JellyfinURL, cfg.ProviderTimeout(), guard),
		provider.NewPlex(cfg.PlexURL, cfg.PlexTVURL, cfg.ProviderTimeout(), guard),
		provider.NewTMDB(cfg.TMDBBaseURL, cfg.TMDBAccessToken, cfg.ProviderTimeout()),
	)
	v := vault.New(cfg.AuthSecret)

	adminService := service.NewAdminService(db, configRepo, registry)
	sessionService := service.NewSessionService(db, sessionRepo, memberRepo, identityRepo, v, registry, adminService, broker)
	authService := service.NewAuthService(
		db, identityRepo, sessionRepo, memberRepo, registry, guard, v, adminService, sessionService,
		service.AuthOptions{
			Secret:          cfg.AuthSecret,
			SessionTTL:      cfg.AuthSessionTTL(),
			DefaultProvider: cfg.ProviderName(),
			ProviderLock:    cfg.ProviderLock,
		},
	)
	deckService := service.NewDeckService(likeRepo, hiddenRepo, registry, sessionService, adminService, cfg.DeckPageSize)

	router := handler.NewRouter(handler.RouterDeps{
		DB:                 db,
		Auth:               authService,
		Sessions:           sessionService,
		Swipes:             service.NewSwipeService(db, sessionRepo, likeRepo, hiddenRepo, sessionService),
		Decks:              deckService,
		Matches:            service.NewMatchService(likeRepo, hiddenRepo, sessionService, deckService),
		Admin:              adminService,
		Broker:             broker,
		LookupLimiter:      lookupLimiter,
		ImageOrigins:       registry.ImageOrigins(),
		StaticDir:          cfg.StaticDir,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Cookies: middleware.CookieOptions{
			Secure: cfg.SecureCookies,
			MaxAge: cfg.AuthSessionTTL(),
		},
		IsProduction: isProduction,
	})

	cleanupJob := jobs.NewCleanupJob(identityRepo, sessionService, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("provider", cfg.ProviderName()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")

	// Close event streams first so Shutdown is not held open by them.
	broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}
