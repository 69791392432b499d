package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password", "swiparr",
}

var supportedProviders = map[string]bool{
	"jellyfin": true,
	"plex":     true,
	"tmdb":     true,
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL"`
	AuthSecret  string `env:"AUTH_SECRET,required,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	MediaProvider          string `env:"MEDIA_PROVIDER" envDefault:"jellyfin"`
	JellyfinURL            string `env:"JELLYFIN_URL"`
	PlexURL                string `env:"PLEX_URL"`
	PlexTVURL              string `env:"PLEX_TV_URL" envDefault:"https://plex.tv"`
	TMDBAccessToken        string `env:"TMDB_ACCESS_TOKEN"`
	TMDBBaseURL            string `env:"TMDB_BASE_URL" envDefault:"https://api.themoviedb.org/3"`
	ProviderLock           bool   `env:"PROVIDER_LOCK" envDefault:"true"`
	ProviderTimeoutSeconds int    `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"30"`

	RateLimitMax           int `env:"RATE_LIMIT_MAX" envDefault:"20"`
	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	DeckPageSize           int `env:"DECK_PAGE_SIZE" envDefault:"50"`
	AuthSessionTTLHours    int `env:"AUTH_SESSION_TTL_HOURS" envDefault:"720"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	SecureCookies      bool     `env:"SECURE_COOKIES" envDefault:"false"`

	// StaticDir holds the built web client; empty serves the API only.
	StaticDir string `env:"STATIC_DIR"`
}

// DatabaseConfig is the subset needed by maintenance commands.
type DatabaseConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c *Config) AuthSessionTTL() time.Duration {
	return time.Duration(c.AuthSessionTTLHours) * time.Hour
}

// ProviderName returns the configured provider in lower case.
func (c *Config) ProviderName() string {
	return strings.ToLower(strings.TrimSpace(c.MediaProvider))
}

func (c *Config) Validate(isProduction bool) error {
	provider := c.ProviderName()
	if !supportedProviders[provider] {
		return fmt.Errorf("MEDIA_PROVIDER must be one of jellyfin, plex, tmdb; got %q", c.MediaProvider)
	}

	switch provider {
	case "jellyfin":
		if c.ProviderLock && c.JellyfinURL == "" {
			return fmt.Errorf("JELLYFIN_URL is required when PROVIDER_LOCK is enabled")
		}
		if err := validateHTTPURL(c.JellyfinURL, "JELLYFIN_URL"); err != nil {
			return err
		}
	case "plex":
		if c.ProviderLock && c.PlexURL == "" {
			return fmt.Errorf("PLEX_URL is required when PROVIDER_LOCK is enabled")
		}
		if err := validateHTTPURL(c.PlexURL, "PLEX_URL"); err != nil {
			return err
		}
	case "tmdb":
		if c.TMDBAccessToken == "" {
			return fmt.Errorf("TMDB_ACCESS_TOKEN is required for the tmdb provider")
		}
	}

	if c.RateLimitMax <= 0 || c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW_SECONDS must be positive")
	}
	if c.ProviderTimeoutSeconds <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT_SECONDS must be positive")
	}

	if isProduction {
		if err := validateSecret("AUTH_SECRET", c.AuthSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !c.SecureCookies {
			log.Warn().Msg("SECURE_COOKIES is disabled in production: auth cookies will be sent over plain HTTP")
		}
	}

	return nil
}

// validateHTTPURL accepts an empty value; path prefixes are allowed for servers behind a reverse proxy.
func validateHTTPURL(rawURL, fieldName string) error {
	if rawURL == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, u.RawQuery)
	}
	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func LoadDatabase() (*DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
