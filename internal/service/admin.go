package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/audit"
	"github.com/swiparr/swiparr-server/internal/database"
	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/repository"
)

// maxIncludedLibraries bounds the stored library selection.
const maxIncludedLibraries = 100

type AdminStatus struct {
	Provider string `json:"provider"`
	HasAdmin bool   `json:"hasAdmin"`
	IsAdmin  bool   `json:"isAdmin"`
}

// AdminService coordinates the single admin slot per provider and the
// settings only that admin may change.
type AdminService struct {
	db         *database.DB
	configRepo repository.ConfigRepository
	registry   *provider.Registry
}

func NewAdminService(db *database.DB, configRepo repository.ConfigRepository, registry *provider.Registry) *AdminService {
	return &AdminService{db: db, configRepo: configRepo, registry: registry}
}

// eligible reports whether users of a provider prove who they are. Anyone can
// type any name into an unauthenticated provider, so it never gets an admin.
func (s *AdminService) eligible(providerName string) bool {
	p, err := s.registry.Get(providerName)
	if err != nil {
		return false
	}
	return p.Capabilities().HasAuth
}

// claim inserts the admin row if absent. It reports whether userID holds the
// slot afterwards and whether this call created it.
func (s *AdminService) claim(ctx context.Context, provider, userID string) (holds, created bool, err error) {
	key := model.AdminKey(provider)
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.configRepo.WithTx(tx)
		inserted, err := repo.InsertIfAbsent(ctx, key, userID)
		if err != nil {
			return fmt.Errorf("insert admin config: %w", err)
		}
		if inserted {
			holds, created = true, true
			return nil
		}
		entry, err := repo.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get admin config: %w", err)
		}
		holds = entry != nil && entry.Value == userID
		return nil
	})
	return holds, created, err
}

// Claim makes the identity admin of its provider. It fails once the slot is
// taken, including for the current holder, so exactly one of any number of
// calls succeeds.
func (s *AdminService) Claim(ctx context.Context, identity *model.Identity) error {
	if identity.IsGuest {
		return apperrors.Forbidden("Guests cannot claim admin")
	}
	if !s.eligible(identity.Provider) {
		metrics.AdminClaims.WithLabelValues("ineligible").Inc()
		return apperrors.Forbidden("Admin requires a provider with authentication")
	}

	holds, created, err := s.claim(ctx, identity.Provider, identity.UserID)
	if err != nil {
		return apperrors.Database(err)
	}

	result := "already_claimed"
	switch {
	case created:
		result = "claimed"
	case holds:
		result = "already_admin"
	}
	metrics.AdminClaims.WithLabelValues(result).Inc()
	audit.Log(ctx, audit.Event{
		Type:     audit.EventAdminClaim,
		UserID:   identity.UserID,
		Provider: identity.Provider,
		Details:  map[string]interface{}{"result": result},
	})

	if !created {
		return apperrors.AdminAlreadyClaimed()
	}
	return nil
}

// AutoClaim gives the slot to the first user to log in with an authenticated
// provider. It reports whether userID holds the slot.
func (s *AdminService) AutoClaim(ctx context.Context, provider, userID string) (bool, error) {
	if !s.eligible(provider) {
		return false, nil
	}
	holds, created, err := s.claim(ctx, provider, userID)
	if err != nil {
		return false, err
	}
	if created {
		metrics.AdminClaims.WithLabelValues("auto_claimed").Inc()
		log.Info().Str("provider", provider).Str("userId", userID).Msg("first login claimed admin")
	}
	return holds, nil
}

func (s *AdminService) IsAdmin(ctx context.Context, provider, userID string) (bool, error) {
	entry, err := s.configRepo.Get(ctx, model.AdminKey(provider))
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Value == userID, nil
}

func (s *AdminService) Status(ctx context.Context, identity *model.Identity) (*AdminStatus, error) {
	entry, err := s.configRepo.Get(ctx, model.AdminKey(identity.Provider))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &AdminStatus{
		Provider: identity.Provider,
		HasAdmin: entry != nil,
		IsAdmin:  entry != nil && !identity.IsGuest && entry.Value == identity.UserID,
	}, nil
}

// IncludedLibraries returns the library ids decks of a provider draw from.
// Empty means every movie library.
func (s *AdminService) IncludedLibraries(ctx context.Context, provider string) ([]string, error) {
	entry, err := s.configRepo.Get(ctx, model.IncludedLibrariesKey(provider))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if entry == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(entry.Value), &ids); err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("ignoring malformed library selection")
		return nil, nil
	}
	return ids, nil
}

// SetIncludedLibraries replaces the library selection of the caller's provider.
func (s *AdminService) SetIncludedLibraries(ctx context.Context, identity *model.Identity, ids []string) ([]string, error) {
	if identity.IsGuest {
		return nil, apperrors.Forbidden("Guests cannot change libraries")
	}
	p, err := s.registry.Get(identity.Provider)
	if err != nil {
		return nil, apperrors.InvalidInput("provider", err.Error())
	}
	if !p.Capabilities().HasLibraries {
		return nil, apperrors.ValidationError(p.Name() + " has no libraries to choose from")
	}
	isAdmin, err := s.IsAdmin(ctx, identity.Provider, identity.UserID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !isAdmin {
		return nil, apperrors.Forbidden("Only the admin can change libraries")
	}

	clean := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		clean = append(clean, id)
	}
	if len(clean) > maxIncludedLibraries {
		return nil, apperrors.InvalidInput("libraries", fmt.Sprintf("at most %d libraries", maxIncludedLibraries))
	}

	value, err := json.Marshal(clean)
	if err != nil {
		return nil, apperrors.Internal("Failed to encode libraries")
	}
	if err := s.configRepo.Set(ctx, model.IncludedLibrariesKey(identity.Provider), string(value)); err != nil {
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventLibrariesUpdate,
		UserID:   identity.UserID,
		Provider: identity.Provider,
		Details:  map[string]interface{}{"libraries": clean},
	})
	return clean, nil
}
