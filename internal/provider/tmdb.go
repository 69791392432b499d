package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/swiparr/swiparr-server/internal/model"
)

const (
	tmdbImageBase = "https://image.tmdb.org/t/p"
	// Session decks draw from a fixed window of discover pages so every member
	// shuffles the same catalog.
	tmdbSessionPages = 5
	tmdbMaxPage      = 500
	tmdbFirstYear    = 1900
)

// TMDB is the public catalog. It has no user accounts; everyone shares the server token.
type TMDB struct {
	client *apiClient
	token  string
}

func NewTMDB(baseURL, token string, timeout time.Duration) *TMDB {
	// The base URL is operator configuration, so no per-identity guard applies.
	return &TMDB{client: newAPIClient("tmdb", baseURL, timeout, nil), token: token}
}

func (t *TMDB) Name() string { return "tmdb" }

// ImageOrigins reports the public image CDN posters are linked from.
func (t *TMDB) ImageOrigins() []string {
	u, err := url.Parse(tmdbImageBase)
	if err != nil {
		return nil
	}
	return []string{u.Scheme + "://" + u.Host}
}

func (t *TMDB) Capabilities() Capabilities {
	return Capabilities{HasStreaming: true}
}

type tmdbMovie struct {
	ID                  int64       `json:"id"`
	Title               string      `json:"title"`
	OriginalTitle       string      `json:"original_title"`
	Overview            string      `json:"overview"`
	Tagline             string      `json:"tagline"`
	ReleaseDate         string      `json:"release_date"`
	VoteAverage         float64     `json:"vote_average"`
	Runtime             int         `json:"runtime"`
	GenreIDs            []int64     `json:"genre_ids"`
	Genres              []tmdbGenre `json:"genres"`
	PosterPath          string      `json:"poster_path"`
	BackdropPath        string      `json:"backdrop_path"`
	ProductionCompanies []struct {
		Name string `json:"name"`
	} `json:"production_companies"`
}

type tmdbGenre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type tmdbPage struct {
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
	Results    []tmdbMovie `json:"results"`
}

func (t *TMDB) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.token)
	return h
}

func (t *TMDB) toMediaItem(m tmdbMovie, genreNames map[int64]string) model.MediaItem {
	item := model.MediaItem{
		ID:              strconv.FormatInt(m.ID, 10),
		Name:            m.Title,
		OriginalTitle:   m.OriginalTitle,
		Overview:        m.Overview,
		Tagline:         m.Tagline,
		CommunityRating: m.VoteAverage,
		RuntimeMinutes:  m.Runtime,
	}
	if len(m.ReleaseDate) >= 4 {
		item.ProductionYear, _ = strconv.Atoi(m.ReleaseDate[:4])
	}
	for _, id := range m.GenreIDs {
		if name, ok := genreNames[id]; ok {
			item.Genres = append(item.Genres, name)
		}
	}
	for _, g := range m.Genres {
		item.Genres = append(item.Genres, g.Name)
	}
	for _, c := range m.ProductionCompanies {
		item.Studios = append(item.Studios, c.Name)
	}
	if m.PosterPath != "" {
		item.PosterURL = tmdbImageBase + "/w500" + m.PosterPath
	}
	if m.BackdropPath != "" {
		item.BackdropURL = tmdbImageBase + "/w1280" + m.BackdropPath
	}
	return item
}

func (t *TMDB) genreMaps(ctx context.Context) (map[string]int64, map[int64]string, error) {
	genres, err := t.GetGenres(ctx, AuthContext{})
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]int64, len(genres))
	byID := make(map[int64]string, len(genres))
	for _, g := range genres {
		id, _ := strconv.ParseInt(g.ID, 10, 64)
		byName[g.Name] = id
		byID[id] = g.Name
	}
	return byName, byID, nil
}

func (t *TMDB) discoverParams(filters model.Filters, genreIDs map[string]int64) url.Values {
	q := url.Values{}
	switch filters.SortBy {
	case model.SortRating:
		q.Set("sort_by", "vote_average.desc")
		q.Set("vote_count.gte", "200")
	case model.SortYear:
		q.Set("sort_by", "primary_release_date.desc")
	default:
		q.Set("sort_by", "popularity.desc")
	}
	if len(filters.Genres) > 0 {
		ids := make([]string, 0, len(filters.Genres))
		for _, name := range filters.Genres {
			if id, ok := genreIDs[name]; ok {
				ids = append(ids, strconv.FormatInt(id, 10))
			}
		}
		// Any of the selected genres, matching the local filter semantics.
		q.Set("with_genres", strings.Join(ids, "|"))
	}
	if filters.YearRange != nil {
		q.Set("primary_release_date.gte", fmt.Sprintf("%d-01-01", filters.YearRange[0]))
		q.Set("primary_release_date.lte", fmt.Sprintf("%d-12-31", filters.YearRange[1]))
	}
	if filters.MinCommunityRating > 0 {
		q.Set("vote_average.gte", strconv.FormatFloat(filters.MinCommunityRating, 'f', -1, 64))
	}
	if filters.RuntimeRange != nil {
		q.Set("with_runtime.gte", strconv.Itoa(filters.RuntimeRange[0]))
		q.Set("with_runtime.lte", strconv.Itoa(filters.RuntimeRange[1]))
	}
	if len(filters.WatchProviders) > 0 {
		region := filters.WatchRegion
		if region == "" {
			region = "US"
		}
		q.Set("with_watch_providers", strings.Join(filters.WatchProviders, "|"))
		q.Set("watch_region", region)
		q.Set("with_watch_monetization_types", "flatrate|free|ads|rent|buy")
	}
	if len(filters.OfficialRatings) > 0 {
		region := filters.WatchRegion
		if region == "" {
			region = "US"
		}
		q.Set("certification_country", region)
		q.Set("certification", strings.Join(filters.OfficialRatings, "|"))
	}
	return q
}

func (t *TMDB) fetchPage(ctx context.Context, path string, q url.Values, page int) (*tmdbPage, error) {
	base, err := t.client.base(AuthContext{})
	if err != nil {
		return nil, err
	}
	q.Set("page", strconv.Itoa(page))
	var resp tmdbPage
	if err := t.client.getJSON(ctx, t.client.buildURL(base, path, q), t.headers(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetItems uses search when a term is set, otherwise discover. Random order
// picks a random discover page; any other order reads a fixed page window.
func (t *TMDB) GetItems(ctx context.Context, filters model.Filters, _ AuthContext) ([]model.MediaItem, error) {
	genreIDs, genreNames, err := t.genreMaps(ctx)
	if err != nil {
		return nil, err
	}

	var pages []*tmdbPage
	switch {
	case filters.SearchTerm != "":
		page, err := t.fetchPage(ctx, "/search/movie", url.Values{"query": {filters.SearchTerm}}, 1)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	case filters.SortBy == model.SortRandom:
		q := t.discoverParams(filters, genreIDs)
		first, err := t.fetchPage(ctx, "/discover/movie", q, 1)
		if err != nil {
			return nil, err
		}
		total := min(first.TotalPages, tmdbMaxPage)
		if total <= 1 {
			pages = append(pages, first)
			break
		}
		page, err := t.fetchPage(ctx, "/discover/movie", q, rand.IntN(total)+1)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	default:
		q := t.discoverParams(filters, genreIDs)
		for n := 1; n <= tmdbSessionPages; n++ {
			page, err := t.fetchPage(ctx, "/discover/movie", q, n)
			if err != nil {
				return nil, err
			}
			pages = append(pages, page)
			if n >= page.TotalPages {
				break
			}
		}
	}

	var items []model.MediaItem
	for _, page := range pages {
		for _, m := range page.Results {
			items = append(items, t.toMediaItem(m, genreNames))
		}
	}
	if filters.Limit > 0 && len(items) > filters.Limit {
		items = items[:filters.Limit]
	}
	return items, nil
}

func (t *TMDB) GetItemDetails(ctx context.Context, id string, _ AuthContext) (*model.MediaItem, error) {
	base, err := t.client.base(AuthContext{})
	if err != nil {
		return nil, err
	}
	var m tmdbMovie
	if err := t.client.getJSON(ctx, t.client.buildURL(base, "/movie/"+url.PathEscape(id), nil), t.headers(), &m); err != nil {
		return nil, err
	}
	item := t.toMediaItem(m, nil)
	return &item, nil
}

func (t *TMDB) GetGenres(ctx context.Context, _ AuthContext) ([]model.Genre, error) {
	base, err := t.client.base(AuthContext{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Genres []tmdbGenre `json:"genres"`
	}
	if err := t.client.getJSON(ctx, t.client.buildURL(base, "/genre/movie/list", nil), t.headers(), &resp); err != nil {
		return nil, err
	}
	genres := make([]model.Genre, 0, len(resp.Genres))
	for _, g := range resp.Genres {
		genres = append(genres, model.Genre{ID: strconv.FormatInt(g.ID, 10), Name: g.Name})
	}
	return genres, nil
}

// GetYears lists every year from the current one back to 1900; TMDB has no year facet.
func (t *TMDB) GetYears(context.Context, AuthContext) ([]model.Year, error) {
	current := time.Now().Year()
	years := make([]model.Year, 0, current-tmdbFirstYear+1)
	for y := current; y >= tmdbFirstYear; y-- {
		years = append(years, model.Year{Name: strconv.Itoa(y), Value: y})
	}
	return years, nil
}

func (t *TMDB) GetRegions(ctx context.Context, _ AuthContext) ([]model.Region, error) {
	base, err := t.client.base(AuthContext{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []struct {
			Code string `json:"iso_3166_1"`
			Name string `json:"english_name"`
		} `json:"results"`
	}
	if err := t.client.getJSON(ctx, t.client.buildURL(base, "/watch/providers/regions", nil), t.headers(), &resp); err != nil {
		return nil, err
	}
	regions := make([]model.Region, 0, len(resp.Results))
	for _, r := range resp.Results {
		regions = append(regions, model.Region{Code: r.Code, Name: r.Name})
	}
	return regions, nil
}

func (t *TMDB) GetWatchProviders(ctx context.Context, region string, _ AuthContext) ([]model.WatchProvider, error) {
	base, err := t.client.base(AuthContext{})
	if err != nil {
		return nil, err
	}
	if region == "" {
		region = "US"
	}
	var resp struct {
		Results []struct {
			ID       int64  `json:"provider_id"`
			Name     string `json:"provider_name"`
			LogoPath string `json:"logo_path"`
		} `json:"results"`
	}
	q := url.Values{"watch_region": {region}}
	if err := t.client.getJSON(ctx, t.client.buildURL(base, "/watch/providers/movie", q), t.headers(), &resp); err != nil {
		return nil, err
	}
	out := make([]model.WatchProvider, 0, len(resp.Results))
	for _, p := range resp.Results {
		wp := model.WatchProvider{ID: strconv.FormatInt(p.ID, 10), Name: p.Name}
		if p.LogoPath != "" {
			wp.LogoPath = tmdbImageBase + "/w92" + p.LogoPath
		}
		out = append(out, wp)
	}
	return out, nil
}

// Authenticate is not available; TMDB users sign in with a display name only.
func (t *TMDB) Authenticate(context.Context, LoginCredentials) (*AuthResult, error) {
	return nil, ErrUnsupported
}
