package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/ssrf"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(NewTMDB("https://tmdb.example", "tok", time.Second))

	p, err := reg.Get("TMDB")
	require.NoError(t, err)
	assert.Equal(t, "tmdb", p.Name())

	_, err = reg.Get("emby")
	assert.Error(t, err)
}

func TestRegistry_ImageOrigins(t *testing.T) {
	reg := NewRegistry(
		NewJellyfin("https://jf.example", time.Second, nil),
		NewPlex("https://plex.example", "https://plex.tv", time.Second, nil),
		NewTMDB("https://tmdb.example", "tok", time.Second),
	)
	assert.Equal(t, []string{"https://image.tmdb.org"}, reg.ImageOrigins(), "media server artwork goes through the proxy")
	assert.Empty(t, NewRegistry().ImageOrigins())
}

func TestAPIClient_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadGateway, ErrUnavailable},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := newAPIClient("test", srv.URL, time.Second, nil)
			var out map[string]any
			err := c.getJSON(context.Background(), c.buildURL(srv.URL, "/x", nil), nil, &out)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAPIClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newAPIClient("breaker-test", srv.URL, time.Second, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.do(ctx, http.MethodGet, srv.URL, nil, nil)
		require.ErrorIs(t, err, ErrUnavailable)
	}

	_, err := c.do(ctx, http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the upstream")
}

func TestAPIClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newAPIClient("breaker-4xx", srv.URL, time.Second, nil)
	for i := 0; i < 8; i++ {
		_, err := c.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
		require.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(8), hits.Load())
}

func TestAPIClient_RejectsInternalServerURL(t *testing.T) {
	c := newAPIClient("guarded", "https://media.example", time.Second, ssrf.New(nil))

	_, err := c.base(AuthContext{ServerURL: "http://169.254.169.254"})
	assert.ErrorIs(t, err, ssrf.ErrBlockedURL)

	base, err := c.base(AuthContext{})
	require.NoError(t, err)
	assert.Equal(t, "https://media.example", base)
}

func TestAPIClient_DialsUserServersThroughGuard(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(t, w, map[string]string{"ok": "yes"})
	}))
	defer srv.Close()
	ctx := context.Background()

	configured := newAPIClient("dial-configured", srv.URL, time.Second, nil)
	_, err := configured.do(ctx, http.MethodGet, srv.URL+"/System/Info/Public", nil, nil)
	require.NoError(t, err)

	// The same loopback server reached as a per-identity URL is refused at dial time.
	user := newAPIClient("dial-user", "https://media.example", time.Second, nil)
	_, err = user.do(ctx, http.MethodGet, srv.URL+"/System/Info/Public", nil, nil)
	assert.ErrorIs(t, err, ssrf.ErrBlockedURL)
	assert.Equal(t, int32(1), hits.Load())
}

func TestJellyfin_GetItemsAndAuthenticate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Users/AuthenticateByName", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["Pw"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Contains(t, r.Header.Get("Authorization"), `MediaBrowser Client="Swiparr"`)
		writeJSON(t, w, map[string]any{"User": map[string]string{"Id": "u1", "Name": "alice"}, "AccessToken": "jf-token"})
	})
	mux.HandleFunc("/Users/u1/Items", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), `Token="jf-token"`)
		assert.Equal(t, "Movie", r.URL.Query().Get("IncludeItemTypes"))
		assert.Equal(t, "Action|Drama", r.URL.Query().Get("Genres"))
		writeJSON(t, w, map[string]any{"Items": []map[string]any{
			{"Id": "a", "Name": "Short", "RunTimeTicks": int64(30) * ticksPerMinute, "Genres": []string{"Action"}},
			{"Id": "b", "Name": "Feature", "RunTimeTicks": int64(110) * ticksPerMinute, "Genres": []string{"Drama"},
				"ImageTags": map[string]string{"Primary": "p1"}},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	jf := NewJellyfin(srv.URL, time.Second, nil)
	ctx := context.Background()

	_, err := jf.Authenticate(ctx, LoginCredentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := jf.Authenticate(ctx, LoginCredentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, "jf-token", res.AccessToken)
	assert.NotEmpty(t, res.DeviceID)

	items, err := jf.GetItems(ctx, model.Filters{
		Genres:       []string{"Action", "Drama"},
		RuntimeRange: &[2]int{60, 180},
	}, AuthContext{AccessToken: "jf-token", UserID: "u1", DeviceID: res.DeviceID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, 110, items[0].RuntimeMinutes)
	assert.Equal(t, "/api/catalog/items/b/image?type=Primary", items[0].PosterURL)

	_, err = jf.GetRegions(ctx, AuthContext{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestPlex_GetItemsFiltersLocally(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/library/sections", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "plex-token", r.Header.Get("X-Plex-Token"))
		assert.Equal(t, "Swiparr", r.Header.Get("X-Plex-Product"))
		writeJSON(t, w, map[string]any{"MediaContainer": map[string]any{"Directory": []map[string]string{
			{"key": "1", "title": "Movies", "type": "movie"},
			{"key": "2", "title": "Shows", "type": "show"},
		}}})
	})
	mux.HandleFunc("/library/sections/1/all", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("type"))
		writeJSON(t, w, map[string]any{"MediaContainer": map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "10", "title": "Old", "year": 1950, "rating": 8.0, "duration": 5_400_000,
				"Genre": []map[string]string{{"tag": "Drama"}}},
			{"ratingKey": "11", "title": "New", "year": 2020, "audienceRating": 7.1, "duration": 6_000_000,
				"Genre": []map[string]string{{"tag": "Drama"}}, "thumb": "/t/11"},
		}}})
	})
	mux.HandleFunc("/library/sections/2/all", func(w http.ResponseWriter, r *http.Request) {
		t.Error("show sections must not be listed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	plex := NewPlex(srv.URL, srv.URL, time.Second, nil)
	items, err := plex.GetItems(context.Background(), model.Filters{
		Genres:    []string{"Drama"},
		YearRange: &[2]int{2000, 2030},
	}, AuthContext{AccessToken: "plex-token"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "11", items[0].ID)
	assert.Equal(t, 100, items[0].RuntimeMinutes)
	assert.InDelta(t, 7.1, items[0].CommunityRating, 0.001)
	assert.Equal(t, "/api/catalog/items/11/image?type=Primary", items[0].PosterURL)
	assert.NotContains(t, items[0].PosterURL, "plex-token")
}

func TestPlex_AuthenticateWithToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/user", r.URL.Path)
		if r.Header.Get("X-Plex-Token") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]any{"id": 42, "uuid": "abc", "username": "bob"})
	}))
	defer srv.Close()

	plex := NewPlex("", srv.URL, time.Second, nil)
	ctx := context.Background()

	_, err := plex.Authenticate(ctx, LoginCredentials{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = plex.Authenticate(ctx, LoginCredentials{Token: "bad"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := plex.Authenticate(ctx, LoginCredentials{Token: "good"})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.UserID)
	assert.Equal(t, "bob", res.UserName)
	assert.Equal(t, "good", res.AccessToken)
}

func TestTMDB_DiscoverAndWatchProviders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/genre/movie/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]any{"genres": []map[string]any{{"id": 18, "name": "Drama"}, {"id": 35, "name": "Comedy"}}})
	})
	mux.HandleFunc("/discover/movie", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "18", q.Get("with_genres"))
		assert.Equal(t, "2000-01-01", q.Get("primary_release_date.gte"))
		writeJSON(t, w, map[string]any{"page": 1, "total_pages": 1, "results": []map[string]any{
			{"id": 7, "title": "Seven", "release_date": "2001-05-01", "vote_average": 7.4, "genre_ids": []int{18},
				"poster_path": "/p.jpg"},
		}})
	})
	mux.HandleFunc("/watch/providers/movie", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DE", r.URL.Query().Get("watch_region"))
		writeJSON(t, w, map[string]any{"results": []map[string]any{{"provider_id": 8, "provider_name": "Netflix", "logo_path": "/n.png"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tmdb := NewTMDB(srv.URL, "tok", time.Second)
	ctx := context.Background()

	items, err := tmdb.GetItems(ctx, model.Filters{Genres: []string{"Drama"}, YearRange: &[2]int{2000, 2005}}, AuthContext{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "7", items[0].ID)
	assert.Equal(t, 2001, items[0].ProductionYear)
	assert.Equal(t, []string{"Drama"}, items[0].Genres)
	assert.Equal(t, tmdbImageBase+"/w500/p.jpg", items[0].PosterURL)

	providers, err := tmdb.GetWatchProviders(ctx, "DE", AuthContext{})
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "8", providers[0].ID)

	_, err = tmdb.Authenticate(ctx, LoginCredentials{})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, tmdb.Capabilities().HasAuth)
}

func TestJellyfin_Libraries(t *testing.T) {
	var (
		mu      sync.Mutex
		parents []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/Users/u1/Views", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"Items": []map[string]string{
			{"Id": "L1", "Name": "Movies", "CollectionType": "movies"},
			{"Id": "L2", "Name": "Shows", "CollectionType": "tvshows"},
			{"Id": "L3", "Name": "Kids", "CollectionType": "movies"},
		}})
	})
	mux.HandleFunc("/Users/u1/Items", func(w http.ResponseWriter, r *http.Request) {
		parent := r.URL.Query().Get("ParentId")
		mu.Lock()
		parents = append(parents, parent)
		mu.Unlock()
		writeJSON(t, w, map[string]any{"Items": []map[string]any{{"Id": "in-" + parent, "Name": parent}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	jf := NewJellyfin(srv.URL, time.Second, nil)
	ctx := context.Background()
	auth := AuthContext{AccessToken: "jf-token", UserID: "u1", DeviceID: "d1"}

	libraries, err := jf.GetLibraries(ctx, auth)
	require.NoError(t, err)
	assert.Equal(t, []model.Library{{ID: "L1", Name: "Movies"}, {ID: "L3", Name: "Kids"}}, libraries)

	items, err := jf.GetItems(ctx, model.Filters{Libraries: []string{"L1", "L3"}}, auth)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "in-L1", items[0].ID)
	assert.Equal(t, "in-L3", items[1].ID)
	assert.Equal(t, []string{"L1", "L3"}, parents)
}

func TestJellyfin_SetWatchlisted(t *testing.T) {
	type call struct{ method, path, likes string }
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), `Token="jf-token"`)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.Query().Get("Likes")})
		mu.Unlock()
		writeJSON(t, w, map[string]bool{"IsFavorite": true})
	}))
	defer srv.Close()

	jf := NewJellyfin(srv.URL, time.Second, nil)
	ctx := context.Background()
	auth := AuthContext{AccessToken: "jf-token", UserID: "u1", DeviceID: "d1"}

	require.NoError(t, jf.SetWatchlisted(ctx, WatchlistRequest{ItemID: "m1", Add: true}, auth))
	require.NoError(t, jf.SetWatchlisted(ctx, WatchlistRequest{ItemID: "m1"}, auth))
	require.NoError(t, jf.SetWatchlisted(ctx, WatchlistRequest{ItemID: "m2", Add: true, UseWatchlist: true}, auth))

	assert.Equal(t, []call{
		{http.MethodPost, "/Users/u1/FavoriteItems/m1", ""},
		{http.MethodDelete, "/Users/u1/FavoriteItems/m1", ""},
		{http.MethodPost, "/Users/u1/Items/m2/Rating", "true"},
	}, calls)
}

func TestPlex_LibrariesAndWatchlist(t *testing.T) {
	var listed atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/library/sections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"MediaContainer": map[string]any{"Directory": []map[string]string{
			{"key": "1", "title": "Movies", "type": "movie"},
			{"key": "2", "title": "Shows", "type": "show"},
			{"key": "3", "title": "Classics", "type": "movie"},
		}}})
	})
	mux.HandleFunc("/library/sections/1/all", func(w http.ResponseWriter, r *http.Request) {
		t.Error("excluded library must not be listed")
	})
	mux.HandleFunc("/library/sections/3/all", func(w http.ResponseWriter, r *http.Request) {
		listed.Add(1)
		writeJSON(t, w, map[string]any{"MediaContainer": map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "30", "title": "Casablanca", "year": 1942},
		}}})
	})
	mux.HandleFunc("/:/rate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "30", r.URL.Query().Get("key"))
		assert.Equal(t, "10", r.URL.Query().Get("rating"))
		assert.Equal(t, "plex-token", r.Header.Get("X-Plex-Token"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	plex := NewPlex(srv.URL, srv.URL, time.Second, nil)
	ctx := context.Background()
	auth := AuthContext{AccessToken: "plex-token"}

	libraries, err := plex.GetLibraries(ctx, auth)
	require.NoError(t, err)
	assert.Equal(t, []model.Library{{ID: "1", Name: "Movies"}, {ID: "3", Name: "Classics"}}, libraries)

	items, err := plex.GetItems(ctx, model.Filters{Libraries: []string{"3"}}, auth)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "30", items[0].ID)
	assert.Equal(t, int32(1), listed.Load())

	require.NoError(t, plex.SetWatchlisted(ctx, WatchlistRequest{ItemID: "30", Add: true}, auth))
}

func TestPlex_GetImage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/library/metadata/11/art", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "plex-token", r.Header.Get("X-Plex-Token"))
		assert.Empty(t, r.URL.Query().Get("X-Plex-Token"))
		assert.Equal(t, "640", r.URL.Query().Get("width"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	})
	mux.HandleFunc("/library/metadata/12/thumb", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	plex := NewPlex(srv.URL, srv.URL, time.Second, nil)
	ctx := context.Background()
	auth := AuthContext{AccessToken: "plex-token"}

	img, err := plex.GetImage(ctx, "11", ImageRequest{Type: "Backdrop", Width: 640}, auth)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.ContentType)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, img.Data)

	_, err = plex.GetImage(ctx, "12", ImageRequest{}, auth)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = plex.GetImage(ctx, "11", ImageRequest{Type: "logo"}, auth)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestPlex_PinLogin(t *testing.T) {
	var (
		checks   atomic.Int32
		mu       sync.Mutex
		clientID string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/pins", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("strong"))
		mu.Lock()
		clientID = r.Header.Get("X-Plex-Client-Identifier")
		mu.Unlock()
		writeJSON(t, w, map[string]any{"id": 99, "code": "abcd1234", "expiresAt": "2026-10-16T12:00:00Z"})
	})
	mux.HandleFunc("/api/v2/pins/99", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		assert.Equal(t, clientID, r.Header.Get("X-Plex-Client-Identifier"))
		mu.Unlock()
		if checks.Add(1) == 1 {
			writeJSON(t, w, map[string]any{"id": 99, "authToken": nil})
			return
		}
		writeJSON(t, w, map[string]any{"id": 99, "authToken": "linked-token"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	plex := NewPlex("", srv.URL, time.Second, nil)
	ctx := context.Background()

	pin, err := plex.RequestPin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "99", pin.ID)
	assert.Equal(t, "abcd1234", pin.Code)
	assert.Contains(t, pin.ClientID, "swiparr-")
	assert.Contains(t, pin.AuthURL, "https://app.plex.tv/auth#?")
	assert.Contains(t, pin.AuthURL, "code=abcd1234")

	token, err := plex.CheckPin(ctx, pin.ID, pin.ClientID)
	require.NoError(t, err)
	assert.Empty(t, token, "unconfirmed pin")

	token, err = plex.CheckPin(ctx, pin.ID, pin.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "linked-token", token)
}

func TestPlex_AuthenticateWithPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/users/signin", r.URL.Path)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("login") != "bob" || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]any{"id": 42, "uuid": "abc", "username": "bob", "authToken": "signed-in"})
	}))
	defer srv.Close()

	plex := NewPlex("", srv.URL, time.Second, nil)
	ctx := context.Background()

	_, err := plex.Authenticate(ctx, LoginCredentials{Username: "bob", Password: "nope"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := plex.Authenticate(ctx, LoginCredentials{Username: "bob", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.UserID)
	assert.Equal(t, "signed-in", res.AccessToken)
}
