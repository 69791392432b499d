package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/deck"
	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/repository"
)

// soloFetchLimit bounds how many random items a solo deck asks the provider for.
const soloFetchLimit = 100

type DeckPage struct {
	Items []model.MediaItem `json:"items"`
	Page  int               `json:"page"`
	// Seeded is true for session decks, which every member sees in the same order.
	Seeded bool `json:"seeded"`
}

// DeckService assembles decks and proxies catalog lookups with the caller's
// effective credentials.
type DeckService struct {
	likeRepo   repository.LikeRepository
	hiddenRepo repository.HiddenRepository
	registry   *provider.Registry
	sessions   *SessionService
	admin      *AdminService
	pageSize   int
}

func NewDeckService(
	likeRepo repository.LikeRepository,
	hiddenRepo repository.HiddenRepository,
	registry *provider.Registry,
	sessions *SessionService,
	admin *AdminService,
	pageSize int,
) *DeckService {
	if pageSize <= 0 {
		pageSize = deck.DefaultPageSize
	}
	return &DeckService{
		likeRepo:   likeRepo,
		hiddenRepo: hiddenRepo,
		registry:   registry,
		sessions:   sessions,
		admin:      admin,
		pageSize:   pageSize,
	}
}

// LibrariesView lists the provider's movie libraries and the admin's selection.
type LibrariesView struct {
	Libraries []model.Library `json:"libraries"`
	Included  []string        `json:"included"`
}

// authFor resolves the provider and effective credentials of an identity.
func (s *DeckService) authFor(ctx context.Context, identity *model.Identity) (provider.MediaProvider, provider.AuthContext, error) {
	p, err := s.registry.Get(identity.Provider)
	if err != nil {
		return nil, provider.AuthContext{}, apperrors.InvalidInput("provider", err.Error())
	}
	creds, err := s.sessions.GetEffectiveCredentials(ctx, identity)
	if err != nil {
		return nil, provider.AuthContext{}, err
	}
	return p, provider.AuthContext{
		AccessToken: creds.AccessToken,
		DeviceID:    creds.DeviceID,
		UserID:      creds.UserID,
		ServerURL:   creds.ServerURL,
	}, nil
}

// GetDeck returns the next cards. In a session the whole filtered catalog is
// shuffled with the session code as seed, then the caller's likes and everyone's
// hiddens are removed. Solo decks use the provider's random order.
func (s *DeckService) GetDeck(ctx context.Context, identity *model.Identity, page int) (*DeckPage, error) {
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}

	session, err := s.sessions.current(ctx, identity)
	if err != nil {
		return nil, err
	}

	var (
		code    *string
		filters model.Filters
	)
	if session != nil {
		code = &session.Code
		if f, err := decodeFilters(session.Filters); err != nil {
			return nil, err
		} else if f != nil {
			filters = *f
		}
	} else if f, err := decodeFilters(identity.SoloFilters); err != nil {
		return nil, err
	} else if f != nil {
		filters = *f
	}

	liked, err := s.likeRepo.ItemIDsForUser(ctx, identity.UserID, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	hidden, err := s.hiddenRepo.ExcludedItemIDs(ctx, identity.UserID, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	exclude := deck.ExclusionSet(liked, hidden)
	id := func(item model.MediaItem) string { return item.ID }

	if p.Capabilities().HasLibraries {
		if filters.Libraries, err = s.admin.IncludedLibraries(ctx, p.Name()); err != nil {
			return nil, err
		}
	}

	if session != nil {
		// Every member must shuffle the same catalog, so sort order and limit are fixed.
		filters.SortBy = model.SortName
		filters.Limit = 0
		items, err := p.GetItems(ctx, filters, auth)
		if err != nil {
			return nil, translateProviderError(p.Name(), err)
		}
		shuffled := deck.Shuffle(items, session.Code)
		return &DeckPage{
			Items:  deck.Page(shuffled, id, exclude, page*s.pageSize, s.pageSize),
			Page:   page,
			Seeded: true,
		}, nil
	}

	if filters.SortBy == "" {
		filters.SortBy = model.SortRandom
	}
	filters.Limit = soloFetchLimit
	items, err := p.GetItems(ctx, filters, auth)
	if err != nil {
		return nil, translateProviderError(p.Name(), err)
	}
	log.Debug().Str("userId", identity.UserID).Int("fetched", len(items)).Msg("solo deck fetched")
	return &DeckPage{
		Items: deck.Page(items, id, exclude, 0, s.pageSize),
		Page:  page,
	}, nil
}

func (s *DeckService) Item(ctx context.Context, identity *model.Identity, itemID string) (*model.MediaItem, error) {
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	item, err := p.GetItemDetails(ctx, itemID, auth)
	if err != nil {
		return nil, translateProviderError(p.Name(), err)
	}
	return item, nil
}

func (s *DeckService) Genres(ctx context.Context, identity *model.Identity) ([]model.Genre, error) {
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	genres, err := p.GetGenres(ctx, auth)
	return genres, translateProviderError(p.Name(), err)
}

func (s *DeckService) Years(ctx context.Context, identity *model.Identity) ([]model.Year, error) {
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	years, err := p.GetYears(ctx, auth)
	return years, translateProviderError(p.Name(), err)
}

func (s *DeckService) Regions(ctx context.Context, identity *model.Identity) ([]model.Region, error) {
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	regions, err := p.GetRegions(ctx, auth)
	return regions, translateProviderError(p.Name(), err)
}

func (s *DeckService) WatchProviders(ctx context.Context, identity *model.Identity, region string) ([]model.WatchProvider, error) {
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	providers, err := p.GetWatchProviders(ctx, region, auth)
	return providers, translateProviderError(p.Name(), err)
}

// Libraries lists the movie libraries of the caller's provider together with
// the ones decks are restricted to.
func (s *DeckService) Libraries(ctx context.Context, identity *model.Identity) (*LibrariesView, error) {
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	lister, ok := p.(provider.LibraryProvider)
	if !ok || !p.Capabilities().HasLibraries {
		return nil, translateProviderError(p.Name(), provider.ErrUnsupported)
	}
	libraries, err := lister.GetLibraries(ctx, auth)
	if err != nil {
		return nil, translateProviderError(p.Name(), err)
	}
	included, err := s.admin.IncludedLibraries(ctx, p.Name())
	if err != nil {
		return nil, err
	}
	if included == nil {
		included = []string{}
	}
	return &LibrariesView{Libraries: libraries, Included: included}, nil
}

// ToggleWatchlist adds an item to or removes it from the caller's own upstream
// watchlist or favorites. Guests act with borrowed credentials, so they may not.
func (s *DeckService) ToggleWatchlist(ctx context.Context, identity *model.Identity, req provider.WatchlistRequest) error {
	if identity.IsGuest {
		return apperrors.Forbidden("Guests cannot modify watchlist or favorites")
	}
	if req.ItemID == "" {
		return apperrors.MissingRequired("itemId")
	}
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return err
	}
	writer, ok := p.(provider.WatchlistProvider)
	if !ok || !p.Capabilities().HasWatchlist {
		return translateProviderError(p.Name(), provider.ErrUnsupported)
	}
	if err := writer.SetWatchlisted(ctx, req, auth); err != nil {
		return translateProviderError(p.Name(), err)
	}
	log.Debug().Str("userId", identity.UserID).Str("itemId", req.ItemID).Bool("add", req.Add).Msg("watchlist updated")
	return nil
}

// Image proxies item artwork with the caller's effective credentials.
func (s *DeckService) Image(ctx context.Context, identity *model.Identity, itemID string, req provider.ImageRequest) (*provider.Image, error) {
	if itemID == "" {
		return nil, apperrors.MissingRequired("id")
	}
	if _, ok := provider.NormalizeImageType(req.Type); !ok {
		return nil, apperrors.InvalidInput("type", "must be Primary, Backdrop or Banner")
	}
	p, auth, err := s.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	fetcher, ok := p.(provider.ImageProvider)
	if !ok {
		return nil, translateProviderError(p.Name(), provider.ErrUnsupported)
	}
	img, err := fetcher.GetImage(ctx, itemID, req, auth)
	if err != nil {
		return nil, translateProviderError(p.Name(), err)
	}
	return img, nil
}
