package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/swiparr/swiparr-server/internal/database"
	"github.com/swiparr/swiparr-server/internal/model"
)

type IdentityRepository interface {
	Create(ctx context.Context, params model.CreateIdentityParams) (*model.Identity, error)
	FindActiveByTokenHash(ctx context.Context, tokenHash string) (*model.Identity, error)
	// SetSessionCode points every identity of the user at code (nil clears it).
	SetSessionCode(ctx context.Context, userID string, code *string) error
	// ClearSessionCode detaches all identities from a deleted session.
	ClearSessionCode(ctx context.Context, code string) (int64, error)
	UpdateSoloFilters(ctx context.Context, id string, filters *string) error
	UpdateLastSeen(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) IdentityRepository
}

type identityRepo struct {
	db database.DBTX
}

func NewIdentityRepository(db *sqlx.DB) IdentityRepository {
	return &identityRepo{db: db}
}

func (r *identityRepo) WithTx(tx *sqlx.Tx) IdentityRepository {
	return &identityRepo{db: tx}
}

func (r *identityRepo) Create(ctx context.Context, params model.CreateIdentityParams) (*model.Identity, error) {
	ts := now()
	var identity model.Identity
	err := r.db.GetContext(ctx, &identity, r.db.Rebind(`
		INSERT INTO identities (
			id, token_hash, user_id, user_name, provider, is_guest,
			access_token, device_id, server_url, session_code,
			expires_at, created_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING *
	`), uuid.NewString(), params.TokenHash, params.UserID, params.UserName, params.Provider, params.IsGuest,
		params.AccessToken, params.DeviceID, params.ServerURL, params.SessionCode,
		params.ExpiresAt.UTC(), ts, ts)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *identityRepo) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*model.Identity, error) {
	var identity model.Identity
	err := r.db.GetContext(ctx, &identity, r.db.Rebind(`
		SELECT * FROM identities WHERE token_hash = ? AND expires_at > ?
	`), tokenHash, now())
	return HandleNotFound(&identity, err)
}

func (r *identityRepo) SetSessionCode(ctx context.Context, userID string, code *string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE identities SET session_code = ? WHERE user_id = ?
	`), code, userID)
	return err
}

func (r *identityRepo) ClearSessionCode(ctx context.Context, code string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE identities SET session_code = NULL WHERE session_code = ?
	`), code)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *identityRepo) UpdateSoloFilters(ctx context.Context, id string, filters *string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE identities SET solo_filters = ? WHERE id = ?
	`), filters, id)
	return err
}

func (r *identityRepo) UpdateLastSeen(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE identities SET last_seen_at = ? WHERE id = ?
	`), now(), id)
	return err
}

func (r *identityRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM identities WHERE id = ?`), id)
	return err
}

func (r *identityRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM identities WHERE expires_at <= ?
	`), now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
