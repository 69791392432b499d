package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/swiparr/swiparr-server/internal/database"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/repository"
	"github.com/swiparr/swiparr-server/internal/sse"
	"github.com/swiparr/swiparr-server/internal/ssrf"
	"github.com/swiparr/swiparr-server/internal/vault"
)

const testPassword = "hunter2"

const (
	pinPending = "pin-pending"
	pinReady   = "pin-ready"
	pinClient  = "client-1"
)

// fakeProvider is an in-memory catalog that accepts testPassword for any user.
// Items alternate between the libraries lib-a and lib-b.
type fakeProvider struct {
	name      string
	anonymous bool
	items     []model.MediaItem
	library   map[string]string

	mu        sync.Mutex
	lastAuth  provider.AuthContext
	watchlist map[string]bool
}

func newFakeProvider(n int) *fakeProvider {
	p := &fakeProvider{name: "jellyfin", library: make(map[string]string), watchlist: make(map[string]bool)}
	for i := 0; i < n; i++ {
		id := "item-" + string(rune('A'+i/26)) + string(rune('a'+i%26))
		p.items = append(p.items, model.MediaItem{ID: id, Name: "Movie " + id, ProductionYear: 1990 + i%30})
		p.library[id] = []string{"lib-a", "lib-b"}[i%2]
	}
	return p
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Capabilities() provider.Capabilities {
	if p.anonymous {
		return provider.Capabilities{}
	}
	return provider.Capabilities{HasAuth: true, HasWatchlist: true, HasLibraries: true}
}

func (p *fakeProvider) record(auth provider.AuthContext) {
	p.mu.Lock()
	p.lastAuth = auth
	p.mu.Unlock()
}

func (p *fakeProvider) LastAuth() provider.AuthContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuth
}

func (p *fakeProvider) GetItems(_ context.Context, filters model.Filters, auth provider.AuthContext) ([]model.MediaItem, error) {
	p.record(auth)
	var out []model.MediaItem
	for _, item := range p.items {
		if len(filters.Libraries) > 0 && !slices.Contains(filters.Libraries, p.library[item.ID]) {
			continue
		}
		if filters.Accepts(item) {
			out = append(out, item)
		}
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (p *fakeProvider) GetItemDetails(_ context.Context, id string, auth provider.AuthContext) (*model.MediaItem, error) {
	p.record(auth)
	for _, item := range p.items {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, provider.ErrNotFound
}

func (p *fakeProvider) GetGenres(context.Context, provider.AuthContext) ([]model.Genre, error) {
	return []model.Genre{{ID: "1", Name: "Drama"}}, nil
}

func (p *fakeProvider) GetYears(context.Context, provider.AuthContext) ([]model.Year, error) {
	return nil, nil
}

func (p *fakeProvider) GetRegions(context.Context, provider.AuthContext) ([]model.Region, error) {
	return nil, provider.ErrUnsupported
}

func (p *fakeProvider) GetWatchProviders(context.Context, string, provider.AuthContext) ([]model.WatchProvider, error) {
	return nil, provider.ErrUnsupported
}

func (p *fakeProvider) Authenticate(_ context.Context, creds provider.LoginCredentials) (*provider.AuthResult, error) {
	if creds.Token != "" {
		return &provider.AuthResult{UserID: "user-pinned", UserName: "Pinned", AccessToken: creds.Token}, nil
	}
	if creds.Password != testPassword {
		return nil, provider.ErrUnauthorized
	}
	return &provider.AuthResult{
		UserID:      "user-" + strings.ToLower(creds.Username),
		UserName:    creds.Username,
		AccessToken: "token-" + strings.ToLower(creds.Username),
		DeviceID:    "device-" + strings.ToLower(creds.Username),
	}, nil
}

func (p *fakeProvider) GetLibraries(context.Context, provider.AuthContext) ([]model.Library, error) {
	return []model.Library{{ID: "lib-a", Name: "Films"}, {ID: "lib-b", Name: "Classics"}}, nil
}

func (p *fakeProvider) SetWatchlisted(_ context.Context, req provider.WatchlistRequest, auth provider.AuthContext) error {
	p.record(auth)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchlist[req.ItemID] = req.Add
	return nil
}

func (p *fakeProvider) Watchlisted(itemID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watchlist[itemID]
}

func (p *fakeProvider) GetImage(_ context.Context, itemID string, req provider.ImageRequest, auth provider.AuthContext) (*provider.Image, error) {
	p.record(auth)
	if _, ok := p.library[itemID]; !ok {
		return nil, provider.ErrNotFound
	}
	return &provider.Image{ContentType: "image/jpeg", Data: []byte(itemID + ":" + req.Type)}, nil
}

func (p *fakeProvider) RequestPin(context.Context) (*provider.Pin, error) {
	return &provider.Pin{ID: pinReady, Code: "ABCD", ClientID: pinClient, AuthURL: "https://auth.example/#?code=ABCD"}, nil
}

func (p *fakeProvider) CheckPin(_ context.Context, pinID, clientID string) (string, error) {
	switch {
	case clientID != pinClient:
		return "", provider.ErrUnauthorized
	case pinID == pinReady:
		return "pinned-token", nil
	case pinID == pinPending:
		return "", nil
	}
	return "", provider.ErrNotFound
}

// recordingPublisher captures published events per session.
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]sse.Event
}

func (p *recordingPublisher) Publish(_ context.Context, code string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]sse.Event)
	}
	p.events[code] = append(p.events[code], event)
	return nil
}

func (p *recordingPublisher) count(code string, eventType model.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events[code] {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	db        *database.DB
	provider  *fakeProvider
	publisher *recordingPublisher

	sessionRepo  repository.SessionRepository
	memberRepo   repository.MemberRepository
	identityRepo repository.IdentityRepository
	configRepo   repository.ConfigRepository
	registry     *provider.Registry
	vault        *vault.Vault

	admin    *AdminService
	sessions *SessionService
	auth     *AuthService
	swipes   *SwipeService
	decks    *DeckService
	matches  *MatchService
}

func newTestEnv(t *testing.T) *testEnv {
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

	fp := newFakeProvider(120)
	plex := newFakeProvider(10)
	plex.name = "plex"
	tmdb := newFakeProvider(10)
	tmdb.name, tmdb.anonymous = "tmdb", true
	registry := provider.NewRegistry(fp, plex, tmdb)
	v := vault.New("service-test-secret-service-test-secret")
	publisher := &recordingPublisher{}

	admin := NewAdminService(db, configRepo, registry)
	sessions := NewSessionService(db, sessionRepo, memberRepo, identityRepo, v, registry, admin, publisher)
	auth := NewAuthService(db, identityRepo, sessionRepo, memberRepo, registry, ssrf.New(nil), v, admin, sessions, AuthOptions{
		Secret:          "service-test-secret",
		SessionTTL:      time.Hour,
		DefaultProvider: "jellyfin",
		ProviderLock:    true,
	})
	decks := NewDeckService(likeRepo, hiddenRepo, registry, sessions, admin, 50)

	return &testEnv{
		db:           db,
		provider:     fp,
		publisher:    publisher,
		sessionRepo:  sessionRepo,
		memberRepo:   memberRepo,
		identityRepo: identityRepo,
		configRepo:   configRepo,
		registry:     registry,
		vault:        v,
		admin:        admin,
		sessions:     sessions,
		auth:         auth,
		swipes:       NewSwipeService(db, sessionRepo, likeRepo, hiddenRepo, sessions),
		decks:        decks,
		matches:      NewMatchService(likeRepo, hiddenRepo, sessions, decks),
	}
}

// openAuth returns an AuthService that lets clients pick any registered provider.
func (e *testEnv) openAuth() *AuthService {
	return NewAuthService(e.db, e.identityRepo, e.sessionRepo, e.memberRepo, e.registry, ssrf.New(nil), e.vault, e.admin, e.sessions, AuthOptions{
		Secret:          "service-test-secret",
		SessionTTL:      time.Hour,
		DefaultProvider: "jellyfin",
	})
}

func (e *testEnv) login(t *testing.T, username string) *model.Identity {
	t.Helper()
	result, err := e.auth.Login(context.Background(), "", provider.LoginCredentials{Username: username, Password: testPassword})
	require.NoError(t, err)
	return result.Identity
}

func (e *testEnv) guest(t *testing.T, code, name string) *model.Identity {
	t.Helper()
	result, err := e.auth.GuestLogin(context.Background(), code, name)
	require.NoError(t, err)
	return result.Identity
}

// host logs a user in and opens a session for them.
func (e *testEnv) host(t *testing.T, username string, lending bool) (*model.Identity, string) {
	t.Helper()
	identity := e.login(t, username)
	session, err := e.sessions.Create(context.Background(), identity, lending)
	require.NoError(t, err)
	return identity, session.Code
}

func (e *testEnv) join(t *testing.T, username, code string) *model.Identity {
	t.Helper()
	identity := e.login(t, username)
	_, err := e.sessions.Join(context.Background(), identity, code)
	require.NoError(t, err)
	return identity
}
