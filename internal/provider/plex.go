package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/ssrf"
)

const (
	plexClientID = "Swiparr"
	plexAuthApp  = "https://app.plex.tv/auth"
)

type Plex struct {
	client *apiClient
	// account talks to plex.tv for token verification.
	account *apiClient
}

func NewPlex(baseURL, plexTVURL string, timeout time.Duration, guard *ssrf.Guard) *Plex {
	return &Plex{
		client:  newAPIClient("plex", baseURL, timeout, guard),
		account: newAPIClient("plex-tv", plexTVURL, timeout, guard),
	}
}

func (p *Plex) Name() string { return "plex" }

func (p *Plex) Capabilities() Capabilities {
	return Capabilities{HasAuth: true, HasWatchlist: true, HasLibraries: true}
}

type plexTag struct {
	Tag  string `json:"tag"`
	Role string `json:"role"`
}

type plexMetadata struct {
	RatingKey      string    `json:"ratingKey"`
	Title          string    `json:"title"`
	OriginalTitle  string    `json:"originalTitle"`
	Summary        string    `json:"summary"`
	Tagline        string    `json:"tagline"`
	Year           int       `json:"year"`
	Duration       int64     `json:"duration"` // milliseconds
	AudienceRating float64   `json:"audienceRating"`
	Rating         float64   `json:"rating"`
	ContentRating  string    `json:"contentRating"`
	Thumb          string    `json:"thumb"`
	Art            string    `json:"art"`
	Genre          []plexTag `json:"Genre"`
	Role           []plexTag `json:"Role"`
	Studio         string    `json:"studio"`
}

type plexDirectory struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type plexContainer struct {
	MediaContainer struct {
		Metadata  []plexMetadata  `json:"Metadata"`
		Directory []plexDirectory `json:"Directory"`
	} `json:"MediaContainer"`
}

func (p *Plex) toMediaItem(m plexMetadata) model.MediaItem {
	rating := m.AudienceRating
	if rating == 0 {
		rating = m.Rating
	}
	item := model.MediaItem{
		ID:              m.RatingKey,
		Name:            m.Title,
		OriginalTitle:   m.OriginalTitle,
		Overview:        m.Summary,
		Tagline:         m.Tagline,
		ProductionYear:  m.Year,
		CommunityRating: rating,
		OfficialRating:  m.ContentRating,
		RuntimeMinutes:  int(m.Duration / 60_000),
	}
	for _, g := range m.Genre {
		item.Genres = append(item.Genres, g.Tag)
	}
	for _, r := range m.Role {
		item.People = append(item.People, model.Person{Name: r.Tag, Role: r.Role, Type: "Actor"})
	}
	if m.Studio != "" {
		item.Studios = []string{m.Studio}
	}
	// Plex artwork needs the token, so clients load it through the image proxy.
	if m.Thumb != "" {
		item.PosterURL = ImageProxyPath(m.RatingKey, ImagePrimary)
	}
	if m.Art != "" {
		item.BackdropURL = ImageProxyPath(m.RatingKey, ImageBackdrop)
	}
	return item
}

func (p *Plex) headers(token string) http.Header {
	return p.headersFor(token, plexClientID)
}

// headersFor sets a specific client identifier; plex.tv ties pins to it.
func (p *Plex) headersFor(token, clientID string) http.Header {
	h := http.Header{}
	h.Set("X-Plex-Client-Identifier", clientID)
	h.Set("X-Plex-Product", "Swiparr")
	h.Set("X-Plex-Version", "1.0.0")
	h.Set("X-Plex-Platform", "Web")
	h.Set("X-Plex-Device", "Web")
	if token != "" {
		h.Set("X-Plex-Token", token)
	}
	return h
}

// movieSections lists movie libraries, limited to only when it is not empty.
func (p *Plex) movieSections(ctx context.Context, base string, auth AuthContext, only []string) ([]plexDirectory, error) {
	var resp plexContainer
	if err := p.client.getJSON(ctx, p.client.buildURL(base, "/library/sections", nil), p.headers(auth.AccessToken), &resp); err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(only))
	for _, key := range only {
		allowed[key] = true
	}
	var sections []plexDirectory
	for _, d := range resp.MediaContainer.Directory {
		if d.Type != "movie" || (len(allowed) > 0 && !allowed[d.Key]) {
			continue
		}
		sections = append(sections, d)
	}
	return sections, nil
}

// GetItems lists movies across all movie sections. Random order and limits are
// pushed to Plex; the remaining filters are applied locally because the Plex
// filter syntax does not cover all of them consistently across versions.
func (p *Plex) GetItems(ctx context.Context, filters model.Filters, auth AuthContext) ([]model.MediaItem, error) {
	base, err := p.client.base(auth)
	if err != nil {
		return nil, err
	}
	sections, err := p.movieSections(ctx, base, auth, filters.Libraries)
	if err != nil {
		return nil, err
	}

	var items []model.MediaItem
	for _, s := range sections {
		q := url.Values{"type": {"1"}, "includeGuids": {"1"}}
		if filters.SortBy == model.SortRandom {
			q.Set("sort", "random")
			q.Set("unwatched", "1")
		}
		if filters.Limit > 0 {
			q.Set("X-Plex-Container-Start", "0")
			q.Set("X-Plex-Container-Size", strconv.Itoa(filters.Limit))
		}

		var resp plexContainer
		endpoint := p.client.buildURL(base, "/library/sections/"+url.PathEscape(s.Key)+"/all", q)
		if err := p.client.getJSON(ctx, endpoint, p.headers(auth.AccessToken), &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.MediaContainer.Metadata {
			item := p.toMediaItem(m)
			if !filters.Accepts(item) {
				continue
			}
			if filters.SearchTerm != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(filters.SearchTerm)) {
				continue
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (p *Plex) GetItemDetails(ctx context.Context, id string, auth AuthContext) (*model.MediaItem, error) {
	base, err := p.client.base(auth)
	if err != nil {
		return nil, err
	}
	var resp plexContainer
	endpoint := p.client.buildURL(base, "/library/metadata/"+url.PathEscape(id), nil)
	if err := p.client.getJSON(ctx, endpoint, p.headers(auth.AccessToken), &resp); err != nil {
		return nil, err
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return nil, ErrNotFound
	}
	item := p.toMediaItem(resp.MediaContainer.Metadata[0])
	return &item, nil
}

// directoryTitles collects distinct directory titles of a per-section listing such as "genre" or "year".
func (p *Plex) directoryTitles(ctx context.Context, auth AuthContext, listing string) ([]plexDirectory, error) {
	base, err := p.client.base(auth)
	if err != nil {
		return nil, err
	}
	sections, err := p.movieSections(ctx, base, auth, nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []plexDirectory
	for _, s := range sections {
		var resp plexContainer
		endpoint := p.client.buildURL(base, "/library/sections/"+url.PathEscape(s.Key)+"/"+listing, nil)
		if err := p.client.getJSON(ctx, endpoint, p.headers(auth.AccessToken), &resp); err != nil {
			return nil, err
		}
		for _, d := range resp.MediaContainer.Directory {
			if seen[d.Title] {
				continue
			}
			seen[d.Title] = true
			out = append(out, d)
		}
	}
	return out, nil
}

func (p *Plex) GetGenres(ctx context.Context, auth AuthContext) ([]model.Genre, error) {
	dirs, err := p.directoryTitles(ctx, auth, "genre")
	if err != nil {
		return nil, err
	}
	genres := make([]model.Genre, 0, len(dirs))
	for _, d := range dirs {
		genres = append(genres, model.Genre{ID: d.Key, Name: d.Title})
	}
	return genres, nil
}

func (p *Plex) GetYears(ctx context.Context, auth AuthContext) ([]model.Year, error) {
	dirs, err := p.directoryTitles(ctx, auth, "year")
	if err != nil {
		return nil, err
	}
	years := make([]model.Year, 0, len(dirs))
	for _, d := range dirs {
		v, err := strconv.Atoi(d.Title)
		if err != nil {
			continue
		}
		years = append(years, model.Year{Name: d.Title, Value: v})
	}
	return years, nil
}

func (p *Plex) GetRegions(context.Context, AuthContext) ([]model.Region, error) {
	return nil, ErrUnsupported
}

func (p *Plex) GetWatchProviders(context.Context, string, AuthContext) ([]model.WatchProvider, error) {
	return nil, ErrUnsupported
}

type plexAccount struct {
	ID        int64  `json:"id"`
	UUID      string `json:"uuid"`
	Username  string `json:"username"`
	Title     string `json:"title"`
	AuthToken string `json:"authToken"`
}

func (a plexAccount) result(token, deviceID string) *AuthResult {
	userID := a.UUID
	if userID == "" {
		userID = strconv.FormatInt(a.ID, 10)
	}
	name := a.Username
	if name == "" {
		name = a.Title
	}
	return &AuthResult{UserID: userID, UserName: name, AccessToken: token, DeviceID: deviceID}
}

// Authenticate signs in against plex.tv, either by verifying a token from the
// pin flow or with username and password.
func (p *Plex) Authenticate(ctx context.Context, creds LoginCredentials) (*AuthResult, error) {
	base, err := p.account.base(AuthContext{})
	if err != nil {
		return nil, err
	}

	if creds.Token == "" {
		if creds.Username == "" || creds.Password == "" {
			return nil, ErrUnauthorized
		}
		form := url.Values{"login": {creds.Username}, "password": {creds.Password}}
		var account plexAccount
		if err := p.account.postForm(ctx, p.account.buildURL(base, "/api/v2/users/signin", nil), p.headers(""), form, &account); err != nil {
			return nil, err
		}
		if account.AuthToken == "" {
			return nil, ErrUnauthorized
		}
		return account.result(account.AuthToken, plexClientID), nil
	}

	var account plexAccount
	if err := p.account.getJSON(ctx, p.account.buildURL(base, "/api/v2/user", nil), p.headers(creds.Token), &account); err != nil {
		return nil, err
	}
	return account.result(creds.Token, plexClientID), nil
}

// RequestPin creates a strong pin under a fresh client identifier. The user
// confirms it at AuthURL; CheckPin must be called with the same identifier.
func (p *Plex) RequestPin(ctx context.Context) (*Pin, error) {
	base, err := p.account.base(AuthContext{})
	if err != nil {
		return nil, err
	}
	clientID := "swiparr-" + uuid.NewString()
	var resp struct {
		ID        int64  `json:"id"`
		Code      string `json:"code"`
		ExpiresAt string `json:"expiresAt"`
	}
	q := url.Values{"strong": {"true"}}
	if err := p.account.postJSON(ctx, p.account.buildURL(base, "/api/v2/pins", q), p.headersFor("", clientID), struct{}{}, &resp); err != nil {
		return nil, err
	}
	auth := url.Values{
		"clientID":                 {clientID},
		"code":                     {resp.Code},
		"context[device][product]": {"Swiparr"},
	}
	return &Pin{
		ID:        strconv.FormatInt(resp.ID, 10),
		Code:      resp.Code,
		ClientID:  clientID,
		ExpiresAt: resp.ExpiresAt,
		AuthURL:   plexAuthApp + "#?" + auth.Encode(),
	}, nil
}

func (p *Plex) CheckPin(ctx context.Context, pinID, clientID string) (string, error) {
	base, err := p.account.base(AuthContext{})
	if err != nil {
		return "", err
	}
	var resp struct {
		AuthToken *string `json:"authToken"`
	}
	endpoint := p.account.buildURL(base, "/api/v2/pins/"+url.PathEscape(pinID), nil)
	if err := p.account.getJSON(ctx, endpoint, p.headersFor("", clientID), &resp); err != nil {
		return "", err
	}
	if resp.AuthToken == nil {
		return "", nil
	}
	return *resp.AuthToken, nil
}

func (p *Plex) GetLibraries(ctx context.Context, auth AuthContext) ([]model.Library, error) {
	base, err := p.client.base(auth)
	if err != nil {
		return nil, err
	}
	sections, err := p.movieSections(ctx, base, auth, nil)
	if err != nil {
		return nil, err
	}
	libraries := make([]model.Library, 0, len(sections))
	for _, s := range sections {
		libraries = append(libraries, model.Library{ID: s.Key, Name: s.Title})
	}
	return libraries, nil
}

// SetWatchlisted rates the item: Plex has no server-local watchlist, and a
// rating of 10 is what marks it as liked. UseWatchlist has no meaning here.
func (p *Plex) SetWatchlisted(ctx context.Context, req WatchlistRequest, auth AuthContext) error {
	base, err := p.client.base(auth)
	if err != nil {
		return err
	}
	rating := "-1"
	if req.Add {
		rating = "10"
	}
	q := url.Values{
		"key":        {req.ItemID},
		"identifier": {"com.plexapp.plugins.library"},
		"rating":     {rating},
	}
	_, err = p.client.do(ctx, http.MethodPut, p.client.buildURL(base, "/:/rate", q), p.headers(auth.AccessToken), nil)
	return err
}

func (p *Plex) GetImage(ctx context.Context, itemID string, req ImageRequest, auth AuthContext) (*Image, error) {
	base, err := p.client.base(auth)
	if err != nil {
		return nil, err
	}
	imageType, ok := NormalizeImageType(req.Type)
	if !ok {
		return nil, ErrUnsupported
	}
	path := map[string]string{ImagePrimary: "thumb", ImageBackdrop: "art", ImageBanner: "banner"}[imageType]
	q := url.Values{}
	if req.Width > 0 {
		q.Set("width", strconv.Itoa(req.Width))
	}
	if req.Height > 0 {
		q.Set("height", strconv.Itoa(req.Height))
	}
	endpoint := p.client.buildURL(base, "/library/metadata/"+url.PathEscape(itemID)+"/"+path, q)
	return p.client.getImage(ctx, endpoint, p.headers(auth.AccessToken))
}

func (p *Plex) VerifyServer(ctx context.Context, auth AuthContext) error {
	base, err := p.client.base(auth)
	if err != nil {
		return err
	}
	var resp map[string]any
	return p.client.getJSON(ctx, p.client.buildURL(base, "/identity", nil), p.headers(auth.AccessToken), &resp)
}
