package model

// MediaItem is the provider-neutral catalog entry shown on a card.
type MediaItem struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	OriginalTitle   string   `json:"originalTitle,omitempty"`
	Overview        string   `json:"overview,omitempty"`
	Tagline         string   `json:"tagline,omitempty"`
	ProductionYear  int      `json:"productionYear,omitempty"`
	CommunityRating float64  `json:"communityRating,omitempty"`
	OfficialRating  string   `json:"officialRating,omitempty"`
	RuntimeMinutes  int      `json:"runtimeMinutes,omitempty"`
	Genres          []string `json:"genres,omitempty"`
	People          []Person `json:"people,omitempty"`
	Studios         []string `json:"studios,omitempty"`
	PosterURL       string   `json:"posterUrl,omitempty"`
	BackdropURL     string   `json:"backdropUrl,omitempty"`
}

type Person struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Type string `json:"type,omitempty"`
}

type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Year struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type WatchProvider struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LogoPath string `json:"logoPath,omitempty"`
}

// Library is a movie library on a media server.
type Library struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SortOrder for catalog queries.
type SortOrder string

const (
	SortRandom SortOrder = "Random"
	SortName   SortOrder = "SortName"
	SortRating SortOrder = "CommunityRating"
	SortYear   SortOrder = "ProductionYear"
)

// Filters narrow a deck. They are stored as JSON on a session or, in solo mode, on the identity.
type Filters struct {
	SearchTerm         string    `json:"searchTerm,omitempty"`
	Genres             []string  `json:"genres,omitempty"`
	YearRange          *[2]int   `json:"yearRange,omitempty"`
	MinCommunityRating float64   `json:"minCommunityRating,omitempty"`
	OfficialRatings    []string  `json:"officialRatings,omitempty"`
	RuntimeRange       *[2]int   `json:"runtimeRange,omitempty"`
	WatchProviders     []string  `json:"watchProviders,omitempty"`
	WatchRegion        string    `json:"watchRegion,omitempty"`
	SortBy             SortOrder `json:"sortBy,omitempty"`
	// Limit caps provider results; zero means the whole catalog.
	Limit int `json:"-"`
	// Libraries restricts results to these library ids; empty means all.
	Libraries []string `json:"-"`
}

// Accepts reports whether item satisfies the filters that can be checked locally.
// Providers without server-side filtering apply it after fetching.
func (f Filters) Accepts(item MediaItem) bool {
	if len(f.Genres) > 0 && !anyIn(item.Genres, f.Genres) {
		return false
	}
	if f.YearRange != nil {
		if item.ProductionYear == 0 || item.ProductionYear < f.YearRange[0] || item.ProductionYear > f.YearRange[1] {
			return false
		}
	}
	if f.MinCommunityRating > 0 && item.CommunityRating < f.MinCommunityRating {
		return false
	}
	if len(f.OfficialRatings) > 0 && !anyIn([]string{item.OfficialRating}, f.OfficialRatings) {
		return false
	}
	if f.RuntimeRange != nil {
		if item.RuntimeMinutes < f.RuntimeRange[0] || item.RuntimeMinutes > f.RuntimeRange[1] {
			return false
		}
	}
	return true
}

func anyIn(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
