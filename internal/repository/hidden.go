package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/swiparr/swiparr-server/internal/database"
	"github.com/swiparr/swiparr-server/internal/model"
)

type HiddenRepository interface {
	InsertIfAbsent(ctx context.Context, userID, itemID string, sessionCode *string) (bool, error)
	// ExcludedItemIDs returns every hidden item in a session, or the user's own
	// solo hiddens when sessionCode is nil.
	ExcludedItemIDs(ctx context.Context, userID string, sessionCode *string) ([]string, error)
	CountForUser(ctx context.Context, userID string, sessionCode *string) (int, error)
	CountByUser(ctx context.Context, code string) ([]model.SwipeCount, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) HiddenRepository
}

type hiddenRepo struct {
	db database.DBTX
}

func NewHiddenRepository(db *sqlx.DB) HiddenRepository {
	return &hiddenRepo{db: db}
}

func (r *hiddenRepo) WithTx(tx *sqlx.Tx) HiddenRepository {
	return &hiddenRepo{db: tx}
}

func (r *hiddenRepo) InsertIfAbsent(ctx context.Context, userID, itemID string, sessionCode *string) (bool, error) {
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO hiddens (user_id, item_id, session_code, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`), userID, itemID, sessionCode, now()))
}

func (r *hiddenRepo) ExcludedItemIDs(ctx context.Context, userID string, sessionCode *string) ([]string, error) {
	var ids []string
	if sessionCode != nil {
		err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
			SELECT DISTINCT item_id FROM hiddens WHERE session_code = ?
		`), *sessionCode)
		return ids, err
	}
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT item_id FROM hiddens WHERE user_id = ? AND session_code IS NULL
	`), userID)
	return ids, err
}

func (r *hiddenRepo) CountForUser(ctx context.Context, userID string, sessionCode *string) (int, error) {
	clause, args := scope("session_code", sessionCode)
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM hiddens WHERE user_id = ? AND `+clause), append([]any{userID}, args...)...)
	return n, err
}

func (r *hiddenRepo) CountByUser(ctx context.Context, code string) ([]model.SwipeCount, error) {
	var counts []model.SwipeCount
	err := r.db.SelectContext(ctx, &counts, r.db.Rebind(`
		SELECT user_id, COUNT(*) AS count FROM hiddens WHERE session_code = ? GROUP BY user_id
	`), code)
	return counts, err
}
