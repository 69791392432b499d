package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/audit"
	"github.com/swiparr/swiparr-server/internal/database"
	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/model"
	"github.com/swiparr/swiparr-server/internal/provider"
	"github.com/swiparr/swiparr-server/internal/repository"
	"github.com/swiparr/swiparr-server/internal/ssrf"
	"github.com/swiparr/swiparr-server/internal/util"
	"github.com/swiparr/swiparr-server/internal/vault"
)

// AuthOptions are the operator settings that shape login.
type AuthOptions struct {
	Secret          string
	SessionTTL      time.Duration
	DefaultProvider string
	// ProviderLock pins the provider and its server URL to configuration.
	ProviderLock bool
}

type LoginResult struct {
	Token    string          `json:"-"`
	Identity *model.Identity `json:"user"`
	IsAdmin  bool            `json:"isAdmin"`
}

type AuthService struct {
	db           *database.DB
	identityRepo repository.IdentityRepository
	sessionRepo  repository.SessionRepository
	memberRepo   repository.MemberRepository
	registry     *provider.Registry
	guard        *ssrf.Guard
	vault        *vault.Vault
	admin        *AdminService
	sessions     *SessionService
	opts         AuthOptions
}

func NewAuthService(
	db *database.DB,
	identityRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	memberRepo repository.MemberRepository,
	registry *provider.Registry,
	guard *ssrf.Guard,
	v *vault.Vault,
	admin *AdminService,
	sessions *SessionService,
	opts AuthOptions,
) *AuthService {
	return &AuthService{
		db:           db,
		identityRepo: identityRepo,
		sessionRepo:  sessionRepo,
		memberRepo:   memberRepo,
		registry:     registry,
		guard:        guard,
		vault:        v,
		admin:        admin,
		sessions:     sessions,
		opts:         opts,
	}
}

func (s *AuthService) resolveProvider(name string) (provider.MediaProvider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || s.opts.ProviderLock {
		if s.opts.ProviderLock && name != "" && name != s.opts.DefaultProvider {
			return nil, apperrors.Forbidden("This server only accepts " + s.opts.DefaultProvider + " logins")
		}
		name = s.opts.DefaultProvider
	}
	p, err := s.registry.Get(name)
	if err != nil {
		return nil, apperrors.InvalidInput("provider", err.Error())
	}
	return p, nil
}

// Login authenticates against a media provider and issues an identity token.
// A user-supplied server URL must pass the resolved SSRF check first.
func (s *AuthService) Login(ctx context.Context, providerName string, creds provider.LoginCredentials) (*LoginResult, error) {
	p, err := s.resolveProvider(providerName)
	if err != nil {
		return nil, err
	}

	creds.ServerURL = strings.TrimSpace(creds.ServerURL)
	if creds.ServerURL != "" && s.opts.ProviderLock {
		log.Debug().Str("provider", p.Name()).Msg("ignoring client server url, provider is locked")
		creds.ServerURL = ""
	}
	if creds.ServerURL != "" {
		if err := s.guard.Validate(ctx, creds.ServerURL, ssrf.SourceUser); err != nil {
			metrics.SSRFRejections.Inc()
			audit.Log(ctx, audit.Event{
				Type:     audit.EventSSRFRejection,
				Provider: p.Name(),
				Details:  map[string]interface{}{"url": creds.ServerURL, "reason": err},
			})
			return nil, apperrors.SecurityRejection("Server URL is not allowed", err)
		}
	}

	var result *provider.AuthResult
	if p.Capabilities().HasAuth {
		result, err = p.Authenticate(ctx, creds)
		if err != nil {
			audit.Log(ctx, audit.Event{
				Type:     audit.EventLoginFailure,
				Provider: p.Name(),
				Details:  map[string]interface{}{"username": creds.Username, "reason": err},
			})
			return nil, translateProviderError(p.Name(), err)
		}
	} else {
		name := util.CleanDisplayName(creds.Username)
		if name == "" {
			return nil, apperrors.MissingRequired("username")
		}
		result = &provider.AuthResult{UserID: p.Name() + "-" + uuid.NewString(), UserName: name}
	}

	if verifier, ok := p.(provider.ServerVerifier); ok {
		auth := provider.AuthContext{AccessToken: result.AccessToken, DeviceID: result.DeviceID, UserID: result.UserID, ServerURL: creds.ServerURL}
		if err := verifier.VerifyServer(ctx, auth); err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("media server connectivity check failed, continuing login")
		}
	}

	params := model.CreateIdentityParams{
		UserID:   result.UserID,
		UserName: result.UserName,
		Provider: p.Name(),
	}
	if result.AccessToken != "" {
		payload, err := s.vault.Encrypt(result.AccessToken)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to protect credentials", err)
		}
		params.AccessToken = &payload
	}
	if result.DeviceID != "" {
		params.DeviceID = &result.DeviceID
	}
	if creds.ServerURL != "" {
		params.ServerURL = &creds.ServerURL
	}

	token, identity, err := s.issue(ctx, s.identityRepo, params)
	if err != nil {
		return nil, err
	}

	isAdmin, err := s.admin.AutoClaim(ctx, p.Name(), identity.UserID)
	if err != nil {
		log.Error().Err(err).Str("userId", identity.UserID).Msg("admin auto-claim failed")
	}

	audit.Log(ctx, audit.Event{Type: audit.EventLoginSuccess, UserID: identity.UserID, Provider: p.Name()})
	return &LoginResult{Token: token, Identity: identity, IsAdmin: isAdmin}, nil
}

// RequestPin starts a device-link login with providers that offer one.
func (s *AuthService) RequestPin(ctx context.Context, providerName string) (*provider.Pin, error) {
	p, err := s.resolveProvider(providerName)
	if err != nil {
		return nil, err
	}
	pinner, ok := p.(provider.PinAuthenticator)
	if !ok {
		return nil, translateProviderError(p.Name(), provider.ErrUnsupported)
	}
	pin, err := pinner.RequestPin(ctx)
	if err != nil {
		return nil, translateProviderError(p.Name(), err)
	}
	return pin, nil
}

// PinLogin completes a device-link login once the user has confirmed the pin.
// It returns a nil result while the pin is still pending.
func (s *AuthService) PinLogin(ctx context.Context, providerName, pinID, clientID string) (*LoginResult, error) {
	if pinID == "" || clientID == "" {
		return nil, apperrors.MissingRequired("pinId and clientId")
	}
	p, err := s.resolveProvider(providerName)
	if err != nil {
		return nil, err
	}
	pinner, ok := p.(provider.PinAuthenticator)
	if !ok {
		return nil, translateProviderError(p.Name(), provider.ErrUnsupported)
	}
	token, err := pinner.CheckPin(ctx, pinID, clientID)
	if err != nil {
		return nil, translateProviderError(p.Name(), err)
	}
	if token == "" {
		return nil, nil
	}
	return s.Login(ctx, p.Name(), provider.LoginCredentials{Token: token})
}

func (s *AuthService) issue(ctx context.Context, repo repository.IdentityRepository, params model.CreateIdentityParams) (string, *model.Identity, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	params.TokenHash = util.HashToken(s.opts.Secret, token)
	params.ExpiresAt = time.Now().Add(s.opts.SessionTTL)

	identity, err := repo.Create(ctx, params)
	if err != nil {
		return "", nil, apperrors.Database(err)
	}
	return token, identity, nil
}

// GuestLogin admits a named guest into a lending-enabled session. The guest
// has no credentials of its own and borrows the host's.
func (s *AuthService) GuestLogin(ctx context.Context, code, name string) (*LoginResult, error) {
	code = util.NormalizeCode(code)
	if !util.IsValidCode(code, SessionCodeChars, SessionCodeLength) {
		return nil, apperrors.InvalidInput("code", "must be 4 characters")
	}
	name = util.CleanDisplayName(name)
	if name == "" {
		return nil, apperrors.MissingRequired("name")
	}

	var (
		token    string
		identity *model.Identity
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
		session, err := sessions.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		if !session.LendingEnabled() {
			return apperrors.Forbidden("This session does not allow guests")
		}

		userID := "guest-" + uuid.NewString()
		if _, err := s.memberRepo.WithTx(tx).Add(ctx, code, userID, name); err != nil {
			return fmt.Errorf("add guest: %w", err)
		}
		token, identity, err = s.issue(ctx, s.identityRepo.WithTx(tx), model.CreateIdentityParams{
			UserID:      userID,
			UserName:    name,
			Provider:    session.Provider,
			IsGuest:     true,
			SessionCode: &code,
		})
		return err
	})
	if err != nil {
		return nil, asAppError(err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventGuestLogin, UserID: identity.UserID, SessionCode: code, Provider: identity.Provider})
	s.sessions.publish(ctx, []pendingEvent{{code: code, eventType: model.EventSessionUpdated, data: map[string]string{"sessionCode": code}}})
	return &LoginResult{Token: token, Identity: identity}, nil
}

// Resolve maps a bearer token to its live identity.
func (s *AuthService) Resolve(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("Unauthorized")
	}
	identity, err := s.identityRepo.FindActiveByTokenHash(ctx, util.HashToken(s.opts.Secret, token))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if identity == nil {
		return nil, apperrors.Unauthorized("Unauthorized")
	}
	if err := s.identityRepo.UpdateLastSeen(ctx, identity.ID); err != nil {
		log.Warn().Err(err).Str("identityId", identity.ID).Msg("failed to update last seen")
	}
	return identity, nil
}

// Logout revokes the token. Guests also leave their session since they cannot return.
func (s *AuthService) Logout(ctx context.Context, identity *model.Identity) error {
	if identity.IsGuest {
		if err := s.sessions.Leave(ctx, identity); err != nil {
			log.Warn().Err(err).Str("userId", identity.UserID).Msg("guest failed to leave session on logout")
		}
	}
	if err := s.identityRepo.Delete(ctx, identity.ID); err != nil {
		return apperrors.Database(err)
	}
	audit.Log(ctx, audit.Event{Type: audit.EventLogout, UserID: identity.UserID, Provider: identity.Provider})
	return nil
}
