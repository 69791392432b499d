package service

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/repository"
)

// matchDetailConcurrency bounds parallel item lookups when listing matches.
const matchDetailConcurrency = 5

type MatchedItem struct {
	model.MediaItem
	LikedBy []model.Liker `json:"likedBy"`
}

type SwipeTotals struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

type SessionStats struct {
	MySwipes    SwipeTotals `json:"mySwipes"`
	MyLikeRate  int         `json:"myLikeRate"`
	AvgSwipes   SwipeTotals `json:"avgSwipes"`
	AvgLikeRate int         `json:"avgLikeRate"`
	TotalSwipes SwipeTotals `json:"totalSwipes"`
}

type MatchService struct {
	likeRepo   repository.LikeRepository
	hiddenRepo repository.HiddenRepository
	sessions   *SessionService
	decks      *DeckService
}

func NewMatchService(
	likeRepo repository.LikeRepository,
	hiddenRepo repository.HiddenRepository,
	sessions *SessionService,
	decks *DeckService,
) *MatchService {
	return &MatchService{
		likeRepo:   likeRepo,
		hiddenRepo: hiddenRepo,
		sessions:   sessions,
		decks:      decks,
	}
}

// ListMatches returns the session's matches, newest first, each with who liked it.
// Solo mode has no matches.
func (s *MatchService) ListMatches(ctx context.Context, identity *model.Identity) ([]MatchedItem, error) {
	session, err := s.sessions.current(ctx, identity)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return []MatchedItem{}, nil
	}

	ids, err := s.likeRepo.ListMatches(ctx, session.Code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if len(ids) == 0 {
		return []MatchedItem{}, nil
	}

	likers, err := s.likeRepo.ListLikers(ctx, session.Code, ids)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	byItem := make(map[string][]model.Liker, len(ids))
	for _, l := range likers {
		if l.UserName == "" {
			l.UserName = "Unknown"
		}
		byItem[l.ItemID] = append(byItem[l.ItemID], l)
	}

	p, auth, err := s.decks.authFor(ctx, identity)
	if err != nil {
		return nil, err
	}

	out := make([]MatchedItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(matchDetailConcurrency)
	for i, id := range ids {
		out[i] = MatchedItem{MediaItem: model.MediaItem{ID: id}, LikedBy: byItem[id]}
		g.Go(func() error {
			item, err := p.GetItemDetails(gctx, id, auth)
			if err != nil {
				// A match whose item vanished upstream is still a match.
				log.Warn().Err(err).Str("itemId", id).Msg("failed to load matched item details")
				return nil
			}
			out[i].MediaItem = *item
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// Stats summarises swipe activity for the identity's current scope.
func (s *MatchService) Stats(ctx context.Context, identity *model.Identity) (*SessionStats, error) {
	session, err := s.sessions.current(ctx, identity)
	if err != nil {
		return nil, err
	}

	if session == nil {
		right, err := s.likeRepo.CountForUser(ctx, identity.UserID, nil)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		left, err := s.hiddenRepo.CountForUser(ctx, identity.UserID, nil)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		mine := SwipeTotals{Left: left, Right: right}
		rate := likeRate(mine)
		return &SessionStats{MySwipes: mine, MyLikeRate: rate, AvgSwipes: mine, AvgLikeRate: rate, TotalSwipes: mine}, nil
	}

	rights, err := s.likeRepo.CountByUser(ctx, session.Code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	lefts, err := s.hiddenRepo.CountByUser(ctx, session.Code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return computeStats(identity.UserID, lefts, rights), nil
}

func computeStats(userID string, lefts, rights []model.SwipeCount) *SessionStats {
	perUser := make(map[string]*SwipeTotals)
	get := func(id string) *SwipeTotals {
		if t, ok := perUser[id]; ok {
			return t
		}
		t := &SwipeTotals{}
		perUser[id] = t
		return t
	}
	for _, c := range lefts {
		get(c.UserID).Left += c.Count
	}
	for _, c := range rights {
		get(c.UserID).Right += c.Count
	}

	stats := &SessionStats{}
	if mine, ok := perUser[userID]; ok {
		stats.MySwipes = *mine
		stats.MyLikeRate = likeRate(*mine)
	}
	if len(perUser) == 0 {
		return stats
	}

	rateSum := 0
	for _, t := range perUser {
		stats.TotalSwipes.Left += t.Left
		stats.TotalSwipes.Right += t.Right
		rateSum += likeRate(*t)
	}
	n := float64(len(perUser))
	stats.AvgSwipes = SwipeTotals{
		Left:  int(math.Round(float64(stats.TotalSwipes.Left) / n)),
		Right: int(math.Round(float64(stats.TotalSwipes.Right) / n)),
	}
	stats.AvgLikeRate = int(math.Round(float64(rateSum) / n))
	return stats
}

// likeRate is the share of right swipes as a whole percentage.
func likeRate(t SwipeTotals) int {
	total := t.Left + t.Right
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(t.Right) * 100 / float64(total)))
}
