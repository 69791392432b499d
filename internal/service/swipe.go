package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/database"
	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/match"
	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/repository"
)

type SwipeResult struct {
	// Recorded is false when the swipe repeated an earlier one and was ignored.
	Recorded bool `json:"recorded"`
	// IsMatch reports whether the item is a session match after this swipe.
	IsMatch bool `json:"isMatch"`
	// IsNewMatch is true only for the swipe that turned the item into a match.
	IsNewMatch bool `json:"isNewMatch"`
}

// SwipeService is the ledger: likes and hiddens, plus match evaluation for
// sessions. Each session swipe runs in one transaction holding the session's
// row lock, so the insert and the match check cannot interleave with another member's.
type SwipeService struct {
	db          *database.DB
	sessionRepo repository.SessionRepository
	likeRepo    repository.LikeRepository
	hiddenRepo  repository.HiddenRepository
	sessions    *SessionService
}

func NewSwipeService(
	db *database.DB,
	sessionRepo repository.SessionRepository,
	likeRepo repository.LikeRepository,
	hiddenRepo repository.HiddenRepository,
	sessions *SessionService,
) *SwipeService {
	return &SwipeService{
		db:          db,
		sessionRepo: sessionRepo,
		likeRepo:    likeRepo,
		hiddenRepo:  hiddenRepo,
		sessions:    sessions,
	}
}

func (s *SwipeService) Swipe(ctx context.Context, identity *model.Identity, itemID string, direction model.Direction) (*SwipeResult, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, apperrors.MissingRequired("itemId")
	}
	if !direction.Valid() {
		return nil, apperrors.InvalidInput("direction", "must be left or right")
	}

	if identity.SessionCode == nil {
		if identity.IsGuest {
			return nil, apperrors.GuestSessionExpired()
		}
		return s.swipeSolo(ctx, identity, itemID, direction)
	}
	return s.swipeSession(ctx, identity, *identity.SessionCode, itemID, direction)
}

func (s *SwipeService) swipeSolo(ctx context.Context, identity *model.Identity, itemID string, direction model.Direction) (*SwipeResult, error) {
	var (
		inserted bool
		err      error
	)
	if direction == model.DirectionRight {
		inserted, err = s.likeRepo.InsertIfAbsent(ctx, identity.UserID, itemID, nil)
	} else {
		inserted, err = s.hiddenRepo.InsertIfAbsent(ctx, identity.UserID, itemID, nil)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if inserted {
		metrics.Swipes.WithLabelValues(string(direction), "solo").Inc()
	}
	return &SwipeResult{Recorded: inserted}, nil
}

func (s *SwipeService) swipeSession(ctx context.Context, identity *model.Identity, code, itemID string, direction model.Direction) (*SwipeResult, error) {
	result := &SwipeResult{}
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		sessions := s.sessionRepo.WithTx(tx)
		likes := s.likeRepo.WithTx(tx)
		hiddens := s.hiddenRepo.WithTx(tx)

		exists, err := sessions.Touch(ctx, code)
		if err != nil {
			return err
		}
		if !exists {
			if identity.IsGuest {
				return apperrors.GuestSessionExpired()
			}
			return apperrors.NotFound("Session")
		}
		session, err := sessions.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		settings, err := match.ParseSettings(session.Settings)
		if err != nil {
			log.Warn().Err(err).Str("sessionCode", code).Msg("invalid stored settings, using defaults")
		}

		if err := s.checkCaps(ctx, likes, hiddens, identity.UserID, code, direction, settings); err != nil {
			return err
		}

		if direction == model.DirectionLeft {
			result.Recorded, err = hiddens.InsertIfAbsent(ctx, identity.UserID, itemID, &code)
			return err
		}

		if result.Recorded, err = likes.InsertIfAbsent(ctx, identity.UserID, itemID, &code); err != nil {
			return err
		}
		if !result.Recorded {
			result.IsMatch, err = likes.IsMatched(ctx, code, itemID)
			return err
		}

		matched, err := likes.IsMatched(ctx, code, itemID)
		if err != nil {
			return err
		}
		if !matched {
			tally, err := likes.Tally(ctx, code, itemID)
			if err != nil {
				return err
			}
			if !match.IsMatch(settings.MatchStrategy, tally) {
				return nil
			}
			result.IsNewMatch = true
		}
		// Flags the new like too when the item was already a match.
		if err := likes.MarkMatched(ctx, code, itemID); err != nil {
			return fmt.Errorf("mark matched: %w", err)
		}
		result.IsMatch = true
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	if result.Recorded {
		metrics.Swipes.WithLabelValues(string(direction), "session").Inc()
	}
	if result.IsNewMatch {
		metrics.Matches.Inc()
		log.Info().Str("sessionCode", code).Str("itemId", itemID).Msg("new session match")
		s.sessions.publish(ctx, []pendingEvent{{code: code, eventType: model.EventMatchFound, data: map[string]string{
			"sessionCode": code,
			"itemId":      itemID,
			"userId":      identity.UserID,
			"userName":    identity.UserName,
		}}})
	}
	return result, nil
}

// checkCaps enforces the session's soft swipe limits. Zero means unlimited.
func (s *SwipeService) checkCaps(
	ctx context.Context,
	likes repository.LikeRepository,
	hiddens repository.HiddenRepository,
	userID, code string,
	direction model.Direction,
	settings match.Settings,
) error {
	if direction == model.DirectionLeft {
		if settings.MaxLeftSwipes == 0 {
			return nil
		}
		n, err := hiddens.CountForUser(ctx, userID, &code)
		if err != nil {
			return err
		}
		if n >= settings.MaxLeftSwipes {
			return apperrors.SwipeLimitReached("No left swipes left in this session")
		}
		return nil
	}

	if settings.MaxRightSwipes > 0 {
		n, err := likes.CountForUser(ctx, userID, &code)
		if err != nil {
			return err
		}
		if n >= settings.MaxRightSwipes {
			return apperrors.SwipeLimitReached("No right swipes left in this session")
		}
	}
	if settings.MaxMatches > 0 {
		n, err := likes.CountMatches(ctx, code)
		if err != nil {
			return err
		}
		if n >= settings.MaxMatches {
			return apperrors.SwipeLimitReached("This session reached its match limit")
		}
	}
	return nil
}
