package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/swiparr/swiparr-server/internal/database"
	"github.com/swiparr/swiparr-server/internal/model"
)

type SessionRepository interface {
	FindByCode(ctx context.Context, code string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	// Touch bumps updated_at and reports whether the session exists. Inside a
	// transaction it takes the session's row lock, serialising writers per session.
	Touch(ctx context.Context, code string) (bool, error)
	SetLending(ctx context.Context, code string, lending *model.LendingParams) error
	UpdateFilters(ctx context.Context, code string, filters *string) error
	UpdateSettings(ctx context.Context, code string, settings *string) error
	// Delete removes the session and everything scoped to it.
	Delete(ctx context.Context, code string) error
	ListOrphanCodes(ctx context.Context) ([]string, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, r.db.Rebind(`
		SELECT * FROM sessions WHERE code = ?
	`), code)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	ts := now()
	var session model.Session
	err := r.db.GetContext(ctx, &session, r.db.Rebind(`
		INSERT INTO sessions (id, code, host_user_id, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING *
	`), uuid.NewString(), params.Code, params.HostUserID, params.Provider, ts, ts)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) Touch(ctx context.Context, code string) (bool, error) {
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET updated_at = ? WHERE code = ?
	`), now(), code))
}

func (r *sessionRepo) SetLending(ctx context.Context, code string, lending *model.LendingParams) error {
	var token, device, serverURL *string
	if lending != nil {
		token, device, serverURL = &lending.AccessToken, &lending.DeviceID, lending.ServerURL
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions
		SET host_access_token = ?, host_device_id = ?, host_server_url = ?, updated_at = ?
		WHERE code = ?
	`), token, device, serverURL, now(), code)
	return err
}

func (r *sessionRepo) UpdateFilters(ctx context.Context, code string, filters *string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET filters = ?, updated_at = ? WHERE code = ?
	`), filters, now(), code)
	return err
}

func (r *sessionRepo) UpdateSettings(ctx context.Context, code string, settings *string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET settings = ?, updated_at = ? WHERE code = ?
	`), settings, now(), code)
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, code string) error {
	for _, q := range []string{
		`DELETE FROM likes WHERE session_code = ?`,
		`DELETE FROM hiddens WHERE session_code = ?`,
		`DELETE FROM session_members WHERE session_code = ?`,
		`DELETE FROM sessions WHERE code = ?`,
	} {
		if _, err := r.db.ExecContext(ctx, r.db.Rebind(q), code); err != nil {
			return err
		}
	}
	return nil
}

func (r *sessionRepo) ListOrphanCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := r.db.SelectContext(ctx, &codes, `
		SELECT s.code FROM sessions s
		WHERE NOT EXISTS (SELECT 1 FROM session_members m WHERE m.session_code = s.code)
	`)
	return codes, err
}
