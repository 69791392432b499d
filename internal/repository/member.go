package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/swiparr/swiparr-server/internal/database"
	"github.com/swiparr/swiparr-server/internal/model"
)

type MemberRepository interface {
	// Add inserts the membership if absent and reports whether a row was created.
	Add(ctx context.Context, code, userID, userName string) (bool, error)
	Remove(ctx context.Context, code, userID string) (bool, error)
	Count(ctx context.Context, code string) (int, error)
	ListBySession(ctx context.Context, code string) ([]model.SessionMember, error)
	// ListCodesForUser returns every session the user currently belongs to.
	ListCodesForUser(ctx context.Context, userID string) ([]string, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) MemberRepository
}

type memberRepo struct {
	db database.DBTX
}

func NewMemberRepository(db *sqlx.DB) MemberRepository {
	return &memberRepo{db: db}
}

func (r *memberRepo) WithTx(tx *sqlx.Tx) MemberRepository {
	return &memberRepo{db: tx}
}

func (r *memberRepo) Add(ctx context.Context, code, userID, userName string) (bool, error) {
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO session_members (session_code, user_id, user_name, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`), code, userID, userName, now()))
}

func (r *memberRepo) Remove(ctx context.Context, code, userID string) (bool, error) {
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM session_members WHERE session_code = ? AND user_id = ?
	`), code, userID))
}

func (r *memberRepo) Count(ctx context.Context, code string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM session_members WHERE session_code = ?
	`), code)
	return n, err
}

func (r *memberRepo) ListBySession(ctx context.Context, code string) ([]model.SessionMember, error) {
	var members []model.SessionMember
	err := r.db.SelectContext(ctx, &members, r.db.Rebind(`
		SELECT * FROM session_members WHERE session_code = ? ORDER BY joined_at ASC
	`), code)
	return members, err
}

func (r *memberRepo) ListCodesForUser(ctx context.Context, userID string) ([]string, error) {
	var codes []string
	err := r.db.SelectContext(ctx, &codes, r.db.Rebind(`
		SELECT session_code FROM session_members WHERE user_id = ?
	`), userID)
	return codes, err
}
