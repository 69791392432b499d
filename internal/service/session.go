package service

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/audit"
	"github.com/swiparr/swiparr-server/internal/database"
	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/match"
	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/repository"
	"github.com/swiparr/swiparr-server/internal/sse"
	"github.com/swiparr/swiparr-server/internal/util"
	"github.com/swiparr/swiparr-server/internal/vault"
)

const (
	SessionCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	SessionCodeLength = 4
	maxCodeAttempts   = 10
	// guestDeviceID stands in when a lending host never reported a device id.
	// Jellyfin rejects authorization headers without one.
	guestDeviceID = "guest-device"
)

// SessionState is what a client needs to render its current deck context.
type SessionState struct {
	Code            *string               `json:"code"`
	UserID          string                `json:"userId"`
	UserName        string                `json:"userName"`
	EffectiveUserID string                `json:"effectiveUserId"`
	IsGuest         bool                  `json:"isGuest"`
	IsHost          bool                  `json:"isHost"`
	IsAdmin         bool                  `json:"isAdmin"`
	Provider        string                `json:"provider"`
	Capabilities    provider.Capabilities `json:"capabilities"`
	LendingEnabled  bool                  `json:"lendingEnabled"`
	Filters         *model.Filters        `json:"filters"`
	Settings        *match.Settings       `json:"settings"`
	Members         []model.SessionMember `json:"members"`
}

// ProviderInfo is the public view of a session used on the login page.
type ProviderInfo struct {
	Code           string `json:"code"`
	Provider       string `json:"provider"`
	LendingEnabled bool   `json:"lendingEnabled"`
}

type pendingEvent struct {
	code      string
	eventType model.EventType
	data      any
}

type SessionService struct {
	db           *database.DB
	sessionRepo  repository.SessionRepository
	memberRepo   repository.MemberRepository
	identityRepo repository.IdentityRepository
	vault        *vault.Vault
	registry     *provider.Registry
	admin        *AdminService
	publisher    sse.Publisher
}

func NewSessionService(
	db *database.DB,
	sessionRepo repository.SessionRepository,
	memberRepo repository.MemberRepository,
	identityRepo repository.IdentityRepository,
	v *vault.Vault,
	registry *provider.Registry,
	admin *AdminService,
	publisher sse.Publisher,
) *SessionService {
	return &SessionService{
		db:           db,
		sessionRepo:  sessionRepo,
		memberRepo:   memberRepo,
		identityRepo: identityRepo,
		vault:        v,
		registry:     registry,
		admin:        admin,
		publisher:    publisher,
	}
}

func (s *SessionService) publish(ctx context.Context, events []pendingEvent) {
	for _, e := range events {
		event, err := sse.NewEvent(e.eventType, e.data)
		if err != nil {
			log.Error().Err(err).Str("eventType", string(e.eventType)).Msg("failed to encode session event")
			continue
		}
		if err := s.publisher.Publish(ctx, e.code, event); err != nil {
			log.Warn().Err(err).Str("sessionCode", e.code).Str("eventType", string(e.eventType)).Msg("failed to publish session event")
		}
	}
}

// leaveTx removes userID from every session except keep. A session left
// without members is deleted; the emptiness check runs under the session's
// row lock so a concurrent join cannot land in a deleted session.
func (s *SessionService) leaveTx(ctx context.Context, tx *sqlx.Tx, userID, keep string) ([]pendingEvent, error) {
	sessions := s.sessionRepo.WithTx(tx)
	members := s.memberRepo.WithTx(tx)
	identities := s.identityRepo.WithTx(tx)

	codes, err := members.ListCodesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	var events []pendingEvent
	for _, code := range codes {
		if code == keep {
			continue
		}
		if _, err := sessions.Touch(ctx, code); err != nil {
			return nil, fmt.Errorf("lock session: %w", err)
		}
		if _, err := members.Remove(ctx, code, userID); err != nil {
			return nil, fmt.Errorf("remove member: %w", err)
		}
		remaining, err := members.Count(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("count members: %w", err)
		}
		if remaining > 0 {
			events = append(events, pendingEvent{code: code, eventType: model.EventSessionUpdated, data: map[string]string{"sessionCode": code}})
			continue
		}
		if err := sessions.Delete(ctx, code); err != nil {
			return nil, fmt.Errorf("delete session: %w", err)
		}
		if _, err := identities.ClearSessionCode(ctx, code); err != nil {
			return nil, fmt.Errorf("detach identities: %w", err)
		}
		metrics.SessionsDeleted.WithLabelValues("last_member_left").Inc()
		events = append(events, pendingEvent{code: code, eventType: model.EventSessionDeleted, data: map[string]string{"sessionCode": code}})
	}
	return events, nil
}

// lendingParams re-encrypts the host's own token for storage on a session.
func (s *SessionService) lendingParams(identity *model.Identity) (*model.LendingParams, error) {
	if identity.AccessToken == nil || *identity.AccessToken == "" {
		return nil, apperrors.ValidationError("This account has no media server credentials to lend")
	}
	token, err := s.vault.Decrypt(*identity.AccessToken)
	if err != nil {
		return nil, translateVaultError(err)
	}
	payload, err := s.vault.Encrypt(token)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to protect credentials", err)
	}
	params := &model.LendingParams{AccessToken: payload, ServerURL: identity.ServerURL}
	if identity.DeviceID != nil {
		params.DeviceID = *identity.DeviceID
	}
	return params, nil
}

// Create opens a new session hosted by the identity, leaving any previous one.
func (s *SessionService) Create(ctx context.Context, identity *model.Identity, allowLending bool) (*model.Session, error) {
	if identity.IsGuest {
		return nil, apperrors.Forbidden("Guests cannot create sessions")
	}

	var lending *model.LendingParams
	if allowLending {
		var err error
		if lending, err = s.lendingParams(identity); err != nil {
			return nil, err
		}
	}

	var (
		session *model.Session
		events  []pendingEvent
	)
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		sessions := s.sessionRepo.WithTx(tx)

		var err error
		if events, err = s.leaveTx(ctx, tx, identity.UserID, ""); err != nil {
			return err
		}

		code, err := s.freeCode(ctx, sessions)
		if err != nil {
			return err
		}
		if session, err = sessions.Create(ctx, model.CreateSessionParams{
			Code:       code,
			HostUserID: identity.UserID,
			Provider:   identity.Provider,
		}); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if lending != nil {
			if err := sessions.SetLending(ctx, code, lending); err != nil {
				return fmt.Errorf("enable lending: %w", err)
			}
			session.HostAccessToken = &lending.AccessToken
		}
		if _, err := s.memberRepo.WithTx(tx).Add(ctx, code, identity.UserID, identity.UserName); err != nil {
			return fmt.Errorf("add host: %w", err)
		}
		return s.identityRepo.WithTx(tx).SetSessionCode(ctx, identity.UserID, &code)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	metrics.SessionsCreated.Inc()
	audit.Log(ctx, audit.Event{
		Type:        audit.EventSessionCreate,
		UserID:      identity.UserID,
		SessionCode: session.Code,
		Provider:    session.Provider,
		Details:     map[string]interface{}{"lending": allowLending},
	})
	s.publish(ctx, append(events, pendingEvent{code: session.Code, eventType: model.EventSessionUpdated, data: map[string]string{"sessionCode": session.Code}}))
	identity.SessionCode = &session.Code
	return session, nil
}

func (s *SessionService) freeCode(ctx context.Context, sessions repository.SessionRepository) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := util.RandomCode(SessionCodeChars, SessionCodeLength)
		if err != nil {
			return "", err
		}
		existing, err := sessions.FindByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", apperrors.Conflict("Could not allocate a session code, try again")
}

// Join adds the identity to the session with code. Any previous membership is
// dropped first. Guests may only join sessions that lend credentials.
func (s *SessionService) Join(ctx context.Context, identity *model.Identity, code string) (*model.Session, error) {
	code = util.NormalizeCode(code)
	if !util.IsValidCode(code, SessionCodeChars, SessionCodeLength) {
		return nil, apperrors.InvalidInput("code", "must be 4 characters")
	}

	var (
		session *model.Session
		events  []pendingEvent
	)
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		sessions := s.sessionRepo.WithTx(tx)
		exists, err := sessions.Touch(ctx, code)
		if err != nil {
			return err
		}
		if !exists {
			return apperrors.NotFound("Session")
		}
		if session, err = sessions.FindByCode(ctx, code); err != nil {
			return err
		}
		if session.Provider != identity.Provider {
			return apperrors.Forbidden("Session uses a different media provider")
		}
		if identity.IsGuest && !session.LendingEnabled() {
			return apperrors.Forbidden("This session does not allow guests")
		}

		if events, err = s.leaveTx(ctx, tx, identity.UserID, code); err != nil {
			return err
		}
		if _, err := s.memberRepo.WithTx(tx).Add(ctx, code, identity.UserID, identity.UserName); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		return s.identityRepo.WithTx(tx).SetSessionCode(ctx, identity.UserID, &code)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.publish(ctx, append(events, pendingEvent{code: code, eventType: model.EventSessionUpdated, data: map[string]string{"sessionCode": code}}))
	identity.SessionCode = &code
	return session, nil
}

// Leave removes the identity from its sessions, deleting any left empty.
func (s *SessionService) Leave(ctx context.Context, identity *model.Identity) error {
	var events []pendingEvent
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if events, err = s.leaveTx(ctx, tx, identity.UserID, ""); err != nil {
			return err
		}
		return s.identityRepo.WithTx(tx).SetSessionCode(ctx, identity.UserID, nil)
	})
	if err != nil {
		return asAppError(err)
	}

	for _, e := range events {
		if e.eventType == model.EventSessionDeleted {
			audit.Log(ctx, audit.Event{Type: audit.EventSessionDelete, UserID: identity.UserID, SessionCode: e.code})
		}
	}
	s.publish(ctx, events)
	identity.SessionCode = nil
	return nil
}

// current returns the identity's session, or nil when it has none or it was deleted.
func (s *SessionService) current(ctx context.Context, identity *model.Identity) (*model.Session, error) {
	if identity.SessionCode == nil {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByCode(ctx, *identity.SessionCode)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return session, nil
}

func (s *SessionService) Get(ctx context.Context, identity *model.Identity) (*SessionState, error) {
	state := &SessionState{
		UserID:          identity.UserID,
		UserName:        identity.UserName,
		EffectiveUserID: identity.UserID,
		IsGuest:         identity.IsGuest,
		Provider:        identity.Provider,
		Members:         []model.SessionMember{},
	}
	if p, err := s.registry.Get(identity.Provider); err == nil {
		state.Capabilities = p.Capabilities()
	}
	if !identity.IsGuest {
		isAdmin, err := s.admin.IsAdmin(ctx, identity.Provider, identity.UserID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		state.IsAdmin = isAdmin
	}

	session, err := s.current(ctx, identity)
	if err != nil {
		return nil, err
	}
	if session == nil {
		filters, err := decodeFilters(identity.SoloFilters)
		if err != nil {
			return nil, err
		}
		state.Filters = filters
		return state, nil
	}

	filters, err := decodeFilters(session.Filters)
	if err != nil {
		return nil, err
	}
	settings, err := match.ParseSettings(session.Settings)
	if err != nil {
		log.Warn().Err(err).Str("sessionCode", session.Code).Msg("invalid stored settings, using defaults")
	}
	members, err := s.memberRepo.ListBySession(ctx, session.Code)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	state.Code = &session.Code
	state.IsHost = session.HostUserID == identity.UserID
	state.LendingEnabled = session.LendingEnabled()
	state.Filters = filters
	state.Settings = &settings
	state.Members = members
	if identity.IsGuest {
		state.EffectiveUserID = session.HostUserID
	}
	return state, nil
}

// UpdateLending lets the host turn guest lending on or off. Turning it off
// clears the stored host credentials.
func (s *SessionService) UpdateLending(ctx context.Context, identity *model.Identity, enabled bool) error {
	session, err := s.current(ctx, identity)
	if err != nil {
		return err
	}
	if session == nil {
		return apperrors.NotFound("Session")
	}
	if session.HostUserID != identity.UserID || identity.IsGuest {
		return apperrors.Forbidden("Only the host can change guest lending")
	}

	var lending *model.LendingParams
	if enabled {
		if lending, err = s.lendingParams(identity); err != nil {
			return err
		}
	}
	if err := s.sessionRepo.SetLending(ctx, session.Code, lending); err != nil {
		return apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:        audit.EventLendingToggle,
		UserID:      identity.UserID,
		SessionCode: session.Code,
		Details:     map[string]interface{}{"enabled": enabled},
	})
	s.publish(ctx, []pendingEvent{{code: session.Code, eventType: model.EventSessionUpdated, data: map[string]string{"sessionCode": session.Code}}})
	return nil
}

// UpdateFilters stores deck filters on the session, or on the identity in solo mode.
func (s *SessionService) UpdateFilters(ctx context.Context, identity *model.Identity, filters model.Filters) error {
	raw, err := json.Marshal(filters)
	if err != nil {
		return apperrors.InvalidInput("filters", err.Error())
	}
	encoded := string(raw)

	session, err := s.current(ctx, identity)
	if err != nil {
		return err
	}
	if session == nil {
		if err := s.identityRepo.UpdateSoloFilters(ctx, identity.ID, &encoded); err != nil {
			return apperrors.Database(err)
		}
		identity.SoloFilters = &encoded
		return nil
	}

	if err := s.sessionRepo.UpdateFilters(ctx, session.Code, &encoded); err != nil {
		return apperrors.Database(err)
	}
	s.publish(ctx, []pendingEvent{{code: session.Code, eventType: model.EventFiltersUpdated, data: map[string]any{
		"sessionCode": session.Code,
		"userId":      identity.UserID,
		"userName":    identity.UserName,
		"filters":     filters,
	}}})
	return nil
}

func (s *SessionService) UpdateSettings(ctx context.Context, identity *model.Identity, settings match.Settings) error {
	if settings.MatchStrategy == "" {
		settings.MatchStrategy = match.AtLeastTwo
	}
	if err := settings.Validate(); err != nil {
		return apperrors.InvalidInput("settings", err.Error())
	}
	session, err := s.current(ctx, identity)
	if err != nil {
		return err
	}
	if session == nil {
		return apperrors.NotFound("Session")
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return apperrors.InvalidInput("settings", err.Error())
	}
	encoded := string(raw)
	if err := s.sessionRepo.UpdateSettings(ctx, session.Code, &encoded); err != nil {
		return apperrors.Database(err)
	}
	s.publish(ctx, []pendingEvent{{code: session.Code, eventType: model.EventSettingsUpdated, data: map[string]any{
		"sessionCode": session.Code,
		"userId":      identity.UserID,
		"userName":    identity.UserName,
		"settings":    settings,
	}}})
	return nil
}

// GetEffectiveCredentials returns the credentials a request should act with:
// a full account's own, or the host's lent credentials for a guest.
func (s *SessionService) GetEffectiveCredentials(ctx context.Context, identity *model.Identity) (*model.Credentials, error) {
	if !identity.IsGuest {
		creds := &model.Credentials{UserID: identity.UserID}
		if identity.AccessToken != nil && *identity.AccessToken != "" {
			token, err := s.vault.Decrypt(*identity.AccessToken)
			if err != nil {
				return nil, translateVaultError(err)
			}
			creds.AccessToken = token
		}
		if identity.DeviceID != nil {
			creds.DeviceID = *identity.DeviceID
		}
		if identity.ServerURL != nil {
			creds.ServerURL = *identity.ServerURL
		}
		return creds, nil
	}

	session, err := s.current(ctx, identity)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.LendingEnabled() {
		return nil, apperrors.GuestSessionExpired()
	}
	token, err := s.vault.Decrypt(*session.HostAccessToken)
	if err != nil {
		return nil, translateVaultError(err)
	}
	creds := &model.Credentials{AccessToken: token, UserID: session.HostUserID, DeviceID: guestDeviceID}
	if session.HostDeviceID != nil && *session.HostDeviceID != "" {
		creds.DeviceID = *session.HostDeviceID
	}
	if session.HostServerURL != nil {
		creds.ServerURL = *session.HostServerURL
	}
	return creds, nil
}

// LookupProvider tells an anonymous visitor which provider a session uses
// and whether it accepts guests.
func (s *SessionService) LookupProvider(ctx context.Context, code string) (*ProviderInfo, error) {
	code = util.NormalizeCode(code)
	if !util.IsValidCode(code, SessionCodeChars, SessionCodeLength) {
		return nil, apperrors.InvalidInput("code", "must be 4 characters")
	}
	session, err := s.sessionRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return &ProviderInfo{Code: session.Code, Provider: session.Provider, LendingEnabled: session.LendingEnabled()}, nil
}

func decodeFilters(raw *string) (*model.Filters, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var filters model.Filters
	if err := json.Unmarshal([]byte(*raw), &filters); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Stored filters are corrupt", err)
	}
	return &filters, nil
}

// asAppError passes AppErrors through and wraps anything else as a database error.
func asAppError(err error) error {
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.Database(err)
}

// DeleteOrphans removes sessions that no longer have any members.
func (s *SessionService) DeleteOrphans(ctx context.Context) (int64, error) {
	codes, err := s.sessionRepo.ListOrphanCodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list orphan sessions: %w", err)
	}

	var deleted int64
	for _, code := range codes {
		var gone bool
		err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			exists, err := s.sessionRepo.WithTx(tx).Touch(ctx, code)
			if err != nil || !exists {
				return err
			}
			remaining, err := s.memberRepo.WithTx(tx).Count(ctx, code)
			if err != nil || remaining > 0 {
				return err
			}
			if err := s.sessionRepo.WithTx(tx).Delete(ctx, code); err != nil {
				return err
			}
			if _, err := s.identityRepo.WithTx(tx).ClearSessionCode(ctx, code); err != nil {
				return err
			}
			gone = true
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("delete orphan session %s: %w", code, err)
		}
		if gone {
			deleted++
			metrics.SessionsDeleted.WithLabelValues("orphan_cleanup").Inc()
			s.publish(ctx, []pendingEvent{{code: code, eventType: model.EventSessionDeleted, data: map[string]string{"sessionCode": code}}})
		}
	}
	return deleted, nil
}
