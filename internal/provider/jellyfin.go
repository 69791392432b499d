package provider

import (
	"context"
	"fmt"
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
	jellyfinClientName = "Swiparr"
	jellyfinVersion    = "1.0.0"
	jellyfinItemFields = "Genres,Overview,ProductionYear,CommunityRating,OfficialRating,RunTimeTicks,People,Studios,Taglines,OriginalTitle"
	// Jellyfin reports runtime in 100ns ticks.
	ticksPerMinute = int64(60 * 10_000_000)
)

type Jellyfin struct {
	client *apiClient
}

func NewJellyfin(baseURL string, timeout time.Duration, guard *ssrf.Guard) *Jellyfin {
	return &Jellyfin{client: newAPIClient("jellyfin", baseURL, timeout, guard)}
}

func (j *Jellyfin) Name() string { return "jellyfin" }

func (j *Jellyfin) Capabilities() Capabilities {
	return Capabilities{HasAuth: true, HasWatchlist: true, HasLibraries: true, RequiresServerURL: true}
}

type jellyfinItem struct {
	ID              string   `json:"Id"`
	Name            string   `json:"Name"`
	OriginalTitle   string   `json:"OriginalTitle"`
	Overview        string   `json:"Overview"`
	Taglines        []string `json:"Taglines"`
	ProductionYear  int      `json:"ProductionYear"`
	CommunityRating float64  `json:"CommunityRating"`
	OfficialRating  string   `json:"OfficialRating"`
	RunTimeTicks    int64    `json:"RunTimeTicks"`
	Genres          []string `json:"Genres"`
	People          []struct {
		Name string `json:"Name"`
		Role string `json:"Role"`
		Type string `json:"Type"`
	} `json:"People"`
	Studios []struct {
		Name string `json:"Name"`
	} `json:"Studios"`
	ImageTags struct {
		Primary string `json:"Primary"`
	} `json:"ImageTags"`
	BackdropImageTags []string `json:"BackdropImageTags"`
}

type jellyfinItemsResponse struct {
	Items            []jellyfinItem `json:"Items"`
	TotalRecordCount int            `json:"TotalRecordCount"`
}

func (j *Jellyfin) toMediaItem(it jellyfinItem) model.MediaItem {
	item := model.MediaItem{
		ID:              it.ID,
		Name:            it.Name,
		OriginalTitle:   it.OriginalTitle,
		Overview:        it.Overview,
		ProductionYear:  it.ProductionYear,
		CommunityRating: it.CommunityRating,
		OfficialRating:  it.OfficialRating,
		RuntimeMinutes:  int(it.RunTimeTicks / ticksPerMinute),
		Genres:          it.Genres,
	}
	if len(it.Taglines) > 0 {
		item.Tagline = it.Taglines[0]
	}
	for _, p := range it.People {
		item.People = append(item.People, model.Person{Name: p.Name, Role: p.Role, Type: p.Type})
	}
	for _, s := range it.Studios {
		item.Studios = append(item.Studios, s.Name)
	}
	if it.ImageTags.Primary != "" {
		item.PosterURL = ImageProxyPath(it.ID, ImagePrimary)
	}
	if len(it.BackdropImageTags) > 0 {
		item.BackdropURL = ImageProxyPath(it.ID, ImageBackdrop)
	}
	return item
}

func (j *Jellyfin) headers(auth AuthContext) http.Header {
	device := auth.DeviceID
	if device == "" {
		device = uuid.NewString()
	}
	value := fmt.Sprintf(`MediaBrowser Client="%s", Device="Web", DeviceId="%s", Version="%s"`,
		jellyfinClientName, device, jellyfinVersion)
	if auth.AccessToken != "" {
		value += fmt.Sprintf(`, Token="%s"`, auth.AccessToken)
	}
	h := http.Header{}
	h.Set("Authorization", value)
	return h
}

func (j *Jellyfin) GetItems(ctx context.Context, filters model.Filters, auth AuthContext) ([]model.MediaItem, error) {
	base, err := j.client.base(auth)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("IncludeItemTypes", "Movie")
	q.Set("Recursive", "true")
	q.Set("Fields", jellyfinItemFields)
	q.Set("ImageTypeLimit", "1")
	sortBy := filters.SortBy
	if sortBy == "" {
		sortBy = model.SortName
	}
	q.Set("SortBy", string(sortBy))
	if filters.SearchTerm != "" {
		q.Set("SearchTerm", filters.SearchTerm)
	}
	if len(filters.Genres) > 0 {
		q.Set("Genres", strings.Join(filters.Genres, "|"))
	}
	if filters.YearRange != nil {
		years := make([]string, 0, filters.YearRange[1]-filters.YearRange[0]+1)
		for y := filters.YearRange[0]; y <= filters.YearRange[1]; y++ {
			years = append(years, strconv.Itoa(y))
		}
		q.Set("Years", strings.Join(years, ","))
	}
	if filters.MinCommunityRating > 0 {
		q.Set("MinCommunityRating", strconv.FormatFloat(filters.MinCommunityRating, 'f', -1, 64))
	}
	if len(filters.OfficialRatings) > 0 {
		q.Set("OfficialRatings", strings.Join(filters.OfficialRatings, "|"))
	}
	if filters.Limit > 0 {
		q.Set("Limit", strconv.Itoa(filters.Limit))
	}

	// Jellyfin takes one ParentId per query, so each included library is fetched separately.
	parents := filters.Libraries
	if len(parents) == 0 {
		parents = []string{""}
	}
	var found []jellyfinItem
	for _, parent := range parents {
		if parent != "" {
			q.Set("ParentId", parent)
		}
		var resp jellyfinItemsResponse
		endpoint := j.client.buildURL(base, "/Users/"+url.PathEscape(auth.UserID)+"/Items", q)
		if err := j.client.getJSON(ctx, endpoint, j.headers(auth), &resp); err != nil {
			return nil, err
		}
		found = append(found, resp.Items...)
	}

	items := make([]model.MediaItem, 0, len(found))
	for _, it := range found {
		item := j.toMediaItem(it)
		// Runtime is not a server-side filter on Jellyfin.
		if filters.RuntimeRange != nil && !(model.Filters{RuntimeRange: filters.RuntimeRange}).Accepts(item) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (j *Jellyfin) GetItemDetails(ctx context.Context, id string, auth AuthContext) (*model.MediaItem, error) {
	base, err := j.client.base(auth)
	if err != nil {
		return nil, err
	}
	q := url.Values{"Fields": {jellyfinItemFields}}
	var it jellyfinItem
	endpoint := j.client.buildURL(base, "/Users/"+url.PathEscape(auth.UserID)+"/Items/"+url.PathEscape(id), q)
	if err := j.client.getJSON(ctx, endpoint, j.headers(auth), &it); err != nil {
		return nil, err
	}
	item := j.toMediaItem(it)
	return &item, nil
}

func (j *Jellyfin) GetGenres(ctx context.Context, auth AuthContext) ([]model.Genre, error) {
	base, err := j.client.base(auth)
	if err != nil {
		return nil, err
	}
	q := url.Values{"UserId": {auth.UserID}, "IncludeItemTypes": {"Movie"}, "Recursive": {"true"}}
	var resp struct {
		Items []struct {
			ID   string `json:"Id"`
			Name string `json:"Name"`
		} `json:"Items"`
	}
	if err := j.client.getJSON(ctx, j.client.buildURL(base, "/Genres", q), j.headers(auth), &resp); err != nil {
		return nil, err
	}
	genres := make([]model.Genre, 0, len(resp.Items))
	for _, g := range resp.Items {
		genres = append(genres, model.Genre{ID: g.ID, Name: g.Name})
	}
	return genres, nil
}

func (j *Jellyfin) GetYears(ctx context.Context, auth AuthContext) ([]model.Year, error) {
	base, err := j.client.base(auth)
	if err != nil {
		return nil, err
	}
	q := url.Values{"UserId": {auth.UserID}, "IncludeItemTypes": {"Movie"}, "Recursive": {"true"}, "SortBy": {"SortName"}}
	var resp struct {
		Items []struct {
			Name string `json:"Name"`
		} `json:"Items"`
	}
	if err := j.client.getJSON(ctx, j.client.buildURL(base, "/Years", q), j.headers(auth), &resp); err != nil {
		return nil, err
	}
	years := make([]model.Year, 0, len(resp.Items))
	for _, y := range resp.Items {
		v, err := strconv.Atoi(y.Name)
		if err != nil {
			continue
		}
		years = append(years, model.Year{Name: y.Name, Value: v})
	}
	return years, nil
}

func (j *Jellyfin) GetRegions(context.Context, AuthContext) ([]model.Region, error) {
	return nil, ErrUnsupported
}

func (j *Jellyfin) GetWatchProviders(context.Context, string, AuthContext) ([]model.WatchProvider, error) {
	return nil, ErrUnsupported
}

func (j *Jellyfin) Authenticate(ctx context.Context, creds LoginCredentials) (*AuthResult, error) {
	base, err := j.client.base(AuthContext{ServerURL: creds.ServerURL})
	if err != nil {
		return nil, err
	}
	deviceID := uuid.NewString()

	var resp struct {
		User struct {
			ID   string `json:"Id"`
			Name string `json:"Name"`
		} `json:"User"`
		AccessToken string `json:"AccessToken"`
	}
	body := map[string]string{"Username": creds.Username, "Pw": creds.Password}
	endpoint := j.client.buildURL(base, "/Users/AuthenticateByName", nil)
	if err := j.client.postJSON(ctx, endpoint, j.headers(AuthContext{DeviceID: deviceID}), body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.User.ID == "" {
		return nil, ErrUnauthorized
	}
	return &AuthResult{
		UserID:      resp.User.ID,
		UserName:    resp.User.Name,
		AccessToken: resp.AccessToken,
		DeviceID:    deviceID,
	}, nil
}

func (j *Jellyfin) VerifyServer(ctx context.Context, auth AuthContext) error {
	base, err := j.client.base(auth)
	if err != nil {
		return err
	}
	var info map[string]any
	return j.client.getJSON(ctx, j.client.buildURL(base, "/System/Info/Public", nil), j.headers(auth), &info)
}

func (j *Jellyfin) GetLibraries(ctx context.Context, auth AuthContext) ([]model.Library, error) {
	base, err := j.client.base(auth)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []struct {
			ID             string `json:"Id"`
			Name           string `json:"Name"`
			CollectionType string `json:"CollectionType"`
		} `json:"Items"`
	}
	endpoint := j.client.buildURL(base, "/Users/"+url.PathEscape(auth.UserID)+"/Views", nil)
	if err := j.client.getJSON(ctx, endpoint, j.headers(auth), &resp); err != nil {
		return nil, err
	}
	libraries := make([]model.Library, 0, len(resp.Items))
	for _, v := range resp.Items {
		if v.CollectionType == "movies" {
			libraries = append(libraries, model.Library{ID: v.ID, Name: v.Name})
		}
	}
	return libraries, nil
}

// SetWatchlisted toggles a favorite, or with UseWatchlist the Likes flag that
// watchlist plugins read.
func (j *Jellyfin) SetWatchlisted(ctx context.Context, req WatchlistRequest, auth AuthContext) error {
	base, err := j.client.base(auth)
	if err != nil {
		return err
	}
	user := "/Users/" + url.PathEscape(auth.UserID)
	if req.UseWatchlist {
		q := url.Values{"Likes": {strconv.FormatBool(req.Add)}}
		endpoint := j.client.buildURL(base, user+"/Items/"+url.PathEscape(req.ItemID)+"/Rating", q)
		_, err := j.client.do(ctx, http.MethodPost, endpoint, j.headers(auth), nil)
		return err
	}
	method := http.MethodPost
	if !req.Add {
		method = http.MethodDelete
	}
	endpoint := j.client.buildURL(base, user+"/FavoriteItems/"+url.PathEscape(req.ItemID), nil)
	_, err = j.client.do(ctx, method, endpoint, j.headers(auth), nil)
	return err
}

func (j *Jellyfin) GetImage(ctx context.Context, itemID string, req ImageRequest, auth AuthContext) (*Image, error) {
	base, err := j.client.base(auth)
	if err != nil {
		return nil, err
	}
	imageType, ok := NormalizeImageType(req.Type)
	if !ok {
		return nil, ErrUnsupported
	}
	q := url.Values{}
	if req.Width > 0 {
		q.Set("maxWidth", strconv.Itoa(req.Width))
	}
	if req.Height > 0 {
		q.Set("maxHeight", strconv.Itoa(req.Height))
	}
	endpoint := j.client.buildURL(base, "/Items/"+url.PathEscape(itemID)+"/Images/"+imageType, q)
	return j.client.getImage(ctx, endpoint, j.headers(auth))
}
