package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiparr/swiparr-server/internal/database"
	"github.com/swiparr/swiparr-server/internal/middleware"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/repository"
	"github.com/swiparr/swiparr-server/internal/service"
	"github.com/swiparr/swiparr-server/internal/sse"
	"github.com/swiparr/swiparr-server/internal/ssrf"
	"github.com/swiparr/swiparr-server/internal/vault"
)

// stubCatalog serves a fixed list of movies and accepts "secret" for anyone.
type stubCatalog struct {
	items []model.MediaItem

	mu        sync.Mutex
	watchlist map[string]bool
}

func (c *stubCatalog) Name() string { return "jellyfin" }

func (c *stubCatalog) Capabilities() provider.Capabilities {
	return provider.Capabilities{HasAuth: true, HasWatchlist: true, HasLibraries: true}
}

func (c *stubCatalog) GetItems(context.Context, model.Filters, provider.AuthContext) ([]model.MediaItem, error) {
	return c.items, nil
}

func (c *stubCatalog) GetItemDetails(_ context.Context, id string, _ provider.AuthContext) (*model.MediaItem, error) {
	for _, item := range c.items {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, provider.ErrNotFound
}

func (c *stubCatalog) GetGenres(context.Context, provider.AuthContext) ([]model.Genre, error) {
	return []model.Genre{{ID: "1", Name: "Drama"}}, nil
}

func (c *stubCatalog) GetYears(context.Context, provider.AuthContext) ([]model.Year, error) {
	return nil, nil
}

func (c *stubCatalog) GetRegions(context.Context, provider.AuthContext) ([]model.Region, error) {
	return nil, provider.ErrUnsupported
}

func (c *stubCatalog) GetWatchProviders(context.Context, string, provider.AuthContext) ([]model.WatchProvider, error) {
	return nil, provider.ErrUnsupported
}

func (c *stubCatalog) Authenticate(_ context.Context, creds provider.LoginCredentials) (*provider.AuthResult, error) {
	if creds.Password != "secret" {
		return nil, provider.ErrUnauthorized
	}
	return &provider.AuthResult{
		UserID:      "user-" + strings.ToLower(creds.Username),
		UserName:    creds.Username,
		AccessToken: "token-" + strings.ToLower(creds.Username),
		DeviceID:    "device-" + strings.ToLower(creds.Username),
	}, nil
}

func (c *stubCatalog) GetLibraries(context.Context, provider.AuthContext) ([]model.Library, error) {
	return []model.Library{{ID: "movies", Name: "Movies"}}, nil
}

func (c *stubCatalog) SetWatchlisted(_ context.Context, req provider.WatchlistRequest, _ provider.AuthContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchlist[req.ItemID] = req.Add
	return nil
}

func (c *stubCatalog) GetImage(_ context.Context, itemID string, _ provider.ImageRequest, _ provider.AuthContext) (*provider.Image, error) {
	if itemID != "m1" {
		return nil, provider.ErrNotFound
	}
	return &provider.Image{ContentType: "image/png", Data: []byte("png-bytes")}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	db, err := database.Connect("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	sessionRepo := repository.NewSessionRepository(db.DB)
	memberRepo := repository.NewMemberRepository(db.DB)
	identityRepo := repository.NewIdentityRepository(db.DB)
	likeRepo := repository.NewLikeRepository(db.DB)
	hiddenRepo := repository.NewHiddenRepository(db.DB)
	configRepo := repository.NewConfigRepository(db.DB)

	catalog := &stubCatalog{watchlist: make(map[string]bool)}
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		catalog.items = append(catalog.items, model.MediaItem{ID: id, Name: "Movie " + id})
	}
	registry := provider.NewRegistry(catalog)
	v := vault.New("router-test-secret-router-test-secret")
	broker := sse.NewBroker(nil)
	t.Cleanup(broker.Close)

	admin := service.NewAdminService(db, configRepo, registry)
	sessions := service.NewSessionService(db, sessionRepo, memberRepo, identityRepo, v, registry, admin, broker)
	auth := service.NewAuthService(db, identityRepo, sessionRepo, memberRepo, registry, ssrf.New(nil), v, admin, sessions, service.AuthOptions{
		Secret:          "router-test-secret",
		SessionTTL:      time.Hour,
		DefaultProvider: "jellyfin",
		ProviderLock:    true,
	})
	decks := service.NewDeckService(likeRepo, hiddenRepo, registry, sessions, admin, 50)

	return NewRouter(RouterDeps{
		DB:            db,
		Auth:          auth,
		Sessions:      sessions,
		Swipes:        service.NewSwipeService(db, sessionRepo, likeRepo, hiddenRepo, sessions),
		Decks:         decks,
		Matches:       service.NewMatchService(likeRepo, hiddenRepo, sessions, decks),
		Admin:         admin,
		Broker:        broker,
		LookupLimiter: service.NewFixedWindowLimiter(20, time.Minute),
		Cookies:       middleware.CookieOptions{MaxAge: time.Hour},
	})
}

type apiClient struct {
	t      *testing.T
	router http.Handler
	token  string
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func (c *apiClient) decode(rec *httptest.ResponseRecorder, out any) {
	c.t.Helper()
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func (c *apiClient) login(username string) {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/auth/login", map[string]string{"username": username, "password": "secret"})
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	c.decode(rec, &resp)
	require.NotEmpty(c.t, resp.Token)
	c.token = resp.Token
}

func TestRouterHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterSessionFlow(t *testing.T) {
	router := newTestRouter(t)
	alice := &apiClient{t: t, router: router}
	bob := &apiClient{t: t, router: router}
	anonymous := &apiClient{t: t, router: router}

	alice.login("Alice")
	bob.login("Bob")

	rec := alice.do(http.MethodPost, "/api/session", map[string]any{"action": "create"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state service.SessionState
	alice.decode(rec, &state)
	require.NotNil(t, state.Code)
	code := *state.Code
	assert.True(t, state.IsHost)

	rec = anonymous.do(http.MethodGet, "/api/session/provider?code="+code, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider":"jellyfin"`)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	rec = bob.do(http.MethodPost, "/api/session", map[string]any{"action": "join", "code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = alice.do(http.MethodGet, "/api/deck", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page service.DeckPage
	alice.decode(rec, &page)
	assert.True(t, page.Seeded)
	assert.Len(t, page.Items, 4)

	rec = alice.do(http.MethodPost, "/api/swipe", map[string]string{"itemId": "m2", "direction": "right"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = bob.do(http.MethodPost, "/api/swipe", map[string]string{"itemId": "m2", "direction": "right"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var swipe service.SwipeResult
	bob.decode(rec, &swipe)
	assert.True(t, swipe.IsNewMatch)

	rec = alice.do(http.MethodGet, "/api/session/matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var matches []service.MatchedItem
	alice.decode(rec, &matches)
	require.Len(t, matches, 1)
	assert.Equal(t, "Movie m2", matches[0].Name)
	assert.Len(t, matches[0].LikedBy, 2)

	rec = bob.do(http.MethodPatch, "/api/session", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = bob.do(http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = bob.do(http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":null`)
}

func TestRouterRejections(t *testing.T) {
	router := newTestRouter(t)
	client := &apiClient{t: t, router: router}

	t.Run("deck requires auth", func(t *testing.T) {
		rec := client.do(http.MethodGet, "/api/deck", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := client.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "Eve", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("cookie auth needs a csrf token", func(t *testing.T) {
		client.login("Alice")
		req := httptest.NewRequest(http.MethodPost, "/api/swipe", strings.NewReader(`{"itemId":"m1","direction":"left"}`))
		req.AddCookie(&http.Cookie{Name: middleware.AuthCookieName, Value: client.token})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("pin login needs a pin provider", func(t *testing.T) {
		rec := client.do(http.MethodGet, "/api/auth/pin", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	})

	t.Run("unknown api route", func(t *testing.T) {
		rec := client.do(http.MethodGet, "/api/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouterLoginRateLimit(t *testing.T) {
	router := newTestRouter(t)
	client := &apiClient{t: t, router: router}

	var last int
	for i := 0; i < 11; i++ {
		last = client.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "Eve", "password": "nope"}).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRouterCatalogExtras(t *testing.T) {
	router := newTestRouter(t)
	admin := &apiClient{t: t, router: router}
	bob := &apiClient{t: t, router: router}
	admin.login("Alice")
	bob.login("Bob")

	t.Run("image proxy", func(t *testing.T) {
		rec := bob.do(http.MethodGet, "/api/catalog/items/m1/image?type=Primary&width=300", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "private, max-age=86400", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "png-bytes", rec.Body.String())

		rec = bob.do(http.MethodGet, "/api/catalog/items/m9/image", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = bob.do(http.MethodGet, "/api/catalog/items/m1/image?type=Logo", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("library selection", func(t *testing.T) {
		rec := bob.do(http.MethodPut, "/api/admin/libraries", map[string]any{"libraries": []string{"movies"}})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = admin.do(http.MethodPut, "/api/admin/libraries", map[string]any{"libraries": []string{"movies", "movies"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"included":["movies"]}`, rec.Body.String())

		rec = bob.do(http.MethodGet, "/api/catalog/libraries", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var view service.LibrariesView
		bob.decode(rec, &view)
		assert.Equal(t, []string{"movies"}, view.Included)
		assert.Len(t, view.Libraries, 1)
	})

	t.Run("watchlist", func(t *testing.T) {
		tests := []struct {
			name   string
			body   map[string]any
			status int
		}{
			{name: "add", body: map[string]any{"itemId": "m2", "action": "add"}, status: http.StatusOK},
			{name: "bad action", body: map[string]any{"itemId": "m2", "action": "toggle"}, status: http.StatusBadRequest},
			{name: "missing item", body: map[string]any{"action": "remove"}, status: http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := bob.do(http.MethodPost, "/api/user/watchlist", tt.body)
				assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			})
		}
	})

	t.Run("csp has no scheme wildcard", func(t *testing.T) {
		rec := bob.do(http.MethodGet, "/api/catalog/libraries", nil)
		assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "img-src 'self' data:")
		assert.NotContains(t, rec.Header().Get("Content-Security-Policy"), "http:")
	})
}
