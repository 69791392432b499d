// Package provider adapts media catalogs (Jellyfin, Plex, TMDB) to one contract.
package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/swiparr/swiparr-server/internal/model"
)

var (
	// ErrUnsupported is returned for operations a provider does not offer.
	ErrUnsupported = errors.New("provider: operation not supported")
	// ErrUnauthorized means the upstream rejected the supplied credentials.
	ErrUnauthorized = errors.New("provider: credentials rejected")
	// ErrNotFound means the upstream has no such item.
	ErrNotFound = errors.New("provider: item not found")
	// ErrUnavailable wraps transport failures, 5xx responses and an open breaker.
	ErrUnavailable = errors.New("provider: upstream unavailable")
)

// Capabilities are static per provider.
type Capabilities struct {
	HasAuth           bool `json:"hasAuth"`
	HasWatchlist      bool `json:"hasWatchlist"`
	HasLibraries      bool `json:"hasLibraries"`
	RequiresServerURL bool `json:"requiresServerUrl"`
	HasStreaming      bool `json:"hasStreamingSettings"`
}

// AuthContext carries the effective credentials for one upstream call.
type AuthContext struct {
	AccessToken string
	DeviceID    string
	UserID      string
	// ServerURL overrides the configured base URL. It has already passed the
	// resolved SSRF check at login and is re-checked structurally per request.
	ServerURL string
}

// LoginCredentials are what a user submits to sign in.
type LoginCredentials struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Token     string `json:"token"`
	ServerURL string `json:"serverUrl"`
}

// AuthResult is a successful upstream authentication.
type AuthResult struct {
	UserID      string
	UserName    string
	AccessToken string
	DeviceID    string
}

// MediaProvider is the catalog contract. Implementations map their wire format
// into model types on ingress so callers never branch on provider identity.
type MediaProvider interface {
	Name() string
	Capabilities() Capabilities
	GetItems(ctx context.Context, filters model.Filters, auth AuthContext) ([]model.MediaItem, error)
	GetItemDetails(ctx context.Context, id string, auth AuthContext) (*model.MediaItem, error)
	GetGenres(ctx context.Context, auth AuthContext) ([]model.Genre, error)
	GetYears(ctx context.Context, auth AuthContext) ([]model.Year, error)
	GetRegions(ctx context.Context, auth AuthContext) ([]model.Region, error)
	GetWatchProviders(ctx context.Context, region string, auth AuthContext) ([]model.WatchProvider, error)
	Authenticate(ctx context.Context, creds LoginCredentials) (*AuthResult, error)
}

// LibraryProvider lists the movie libraries a deck can be restricted to.
type LibraryProvider interface {
	GetLibraries(ctx context.Context, auth AuthContext) ([]model.Library, error)
}

// WatchlistRequest adds an item to or removes it from the user's list.
// UseWatchlist selects the likes-based watchlist over favorites on Jellyfin.
type WatchlistRequest struct {
	ItemID       string
	Add          bool
	UseWatchlist bool
}

// WatchlistProvider writes to the user's watchlist or favorites upstream.
type WatchlistProvider interface {
	SetWatchlisted(ctx context.Context, req WatchlistRequest, auth AuthContext) error
}

// ImageRequest selects artwork of an item. Zero dimensions keep the original size.
type ImageRequest struct {
	Type   string
	Width  int
	Height int
}

type Image struct {
	ContentType string
	Data        []byte
}

// ImageProvider fetches artwork that clients cannot load directly, either
// because it needs a token or because the server is not reachable from them.
type ImageProvider interface {
	GetImage(ctx context.Context, itemID string, req ImageRequest, auth AuthContext) (*Image, error)
}

// Pin is a device-link code the user confirms on the provider's website.
type Pin struct {
	ID        string `json:"pinId"`
	Code      string `json:"pin"`
	ClientID  string `json:"clientId"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	AuthURL   string `json:"authUrl"`
}

// PinAuthenticator is implemented by providers with a device-link login.
// CheckPin returns an empty token while the pin is still unconfirmed.
type PinAuthenticator interface {
	RequestPin(ctx context.Context) (*Pin, error)
	CheckPin(ctx context.Context, pinID, clientID string) (string, error)
}

// ServerVerifier is implemented by providers that can check reachability of a server.
type ServerVerifier interface {
	VerifyServer(ctx context.Context, auth AuthContext) error
}

// ImageSourcer is implemented by providers whose artwork is linked directly
// instead of going through the image proxy. ImageOrigins lists the
// scheme://host origins a browser loads it from.
type ImageSourcer interface {
	ImageOrigins() []string
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]MediaProvider
}

func NewRegistry(providers ...MediaProvider) *Registry {
	r := &Registry{providers: make(map[string]MediaProvider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

func (r *Registry) Get(name string) (MediaProvider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// ImageOrigins collects the direct artwork origins of every registered provider,
// sorted and without duplicates.
func (r *Registry) ImageOrigins() []string {
	var origins []string
	for _, p := range r.providers {
		if src, ok := p.(ImageSourcer); ok {
			origins = append(origins, src.ImageOrigins()...)
		}
	}
	slices.Sort(origins)
	return slices.Compact(origins)
}
