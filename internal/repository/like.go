package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/swiparr/swiparr-server/internal/database"
	"github.com/swiparr/swiparr-server/internal/match"
	"github.com/swiparr/swiparr-server/internal/model"
)

type LikeRepository interface {
	// InsertIfAbsent records a like and reports whether it was new.
	InsertIfAbsent(ctx context.Context, userID, itemID string, sessionCode *string) (bool, error)
	// Tally counts likers of an item in a session against the current membership.
	Tally(ctx context.Context, code, itemID string) (match.Tally, error)
	IsMatched(ctx context.Context, code, itemID string) (bool, error)
	// MarkMatched flags every like of the item in the session. It never clears the flag.
	MarkMatched(ctx context.Context, code, itemID string) error
	// ListMatches returns matched item ids, most recently liked first.
	ListMatches(ctx context.Context, code string) ([]string, error)
	CountMatches(ctx context.Context, code string) (int, error)
	ListLikers(ctx context.Context, code string, itemIDs []string) ([]model.Liker, error)
	ItemIDsForUser(ctx context.Context, userID string, sessionCode *string) ([]string, error)
	CountForUser(ctx context.Context, userID string, sessionCode *string) (int, error)
	CountByUser(ctx context.Context, code string) ([]model.SwipeCount, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) LikeRepository
}

type likeRepo struct {
	db database.DBTX
}

func NewLikeRepository(db *sqlx.DB) LikeRepository {
	return &likeRepo{db: db}
}

func (r *likeRepo) WithTx(tx *sqlx.Tx) LikeRepository {
	return &likeRepo{db: tx}
}

func (r *likeRepo) InsertIfAbsent(ctx context.Context, userID, itemID string, sessionCode *string) (bool, error) {
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO likes (user_id, item_id, session_code, is_match, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`), userID, itemID, sessionCode, false, now()))
}

func (r *likeRepo) Tally(ctx context.Context, code, itemID string) (match.Tally, error) {
	var row struct {
		Likers       int `db:"likers"`
		MemberLikers int `db:"member_likers"`
		Members      int `db:"members"`
	}
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT
			(SELECT COUNT(DISTINCT l.user_id) FROM likes l
				WHERE l.session_code = ? AND l.item_id = ?) AS likers,
			(SELECT COUNT(DISTINCT l.user_id) FROM likes l
				JOIN session_members m ON m.session_code = l.session_code AND m.user_id = l.user_id
				WHERE l.session_code = ? AND l.item_id = ?) AS member_likers,
			(SELECT COUNT(*) FROM session_members WHERE session_code = ?) AS members
	`), code, itemID, code, itemID, code)
	if err != nil {
		return match.Tally{}, err
	}
	return match.Tally{Likers: row.Likers, MemberLikers: row.MemberLikers, Members: row.Members}, nil
}

func (r *likeRepo) IsMatched(ctx context.Context, code, itemID string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM likes WHERE session_code = ? AND item_id = ? AND is_match = ?
	`), code, itemID, true)
	return n > 0, err
}

func (r *likeRepo) MarkMatched(ctx context.Context, code, itemID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE likes SET is_match = ? WHERE session_code = ? AND item_id = ?
	`), true, code, itemID)
	return err
}

func (r *likeRepo) ListMatches(ctx context.Context, code string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT item_id
		FROM likes
		WHERE session_code = ? AND is_match = ?
		GROUP BY item_id
		ORDER BY MAX(created_at) DESC
	`), code, true)
	return ids, err
}

func (r *likeRepo) CountMatches(ctx context.Context, code string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(DISTINCT item_id) FROM likes WHERE session_code = ? AND is_match = ?
	`), code, true)
	return n, err
}

func (r *likeRepo) ListLikers(ctx context.Context, code string, itemIDs []string) ([]model.Liker, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT l.item_id, l.user_id, COALESCE(m.user_name, '') AS user_name
		FROM likes l
		LEFT JOIN session_members m ON m.session_code = l.session_code AND m.user_id = l.user_id
		WHERE l.session_code = ? AND l.item_id IN (?)
		ORDER BY l.created_at ASC
	`, code, itemIDs)
	if err != nil {
		return nil, err
	}
	var likers []model.Liker
	err = r.db.SelectContext(ctx, &likers, r.db.Rebind(query), args...)
	return likers, err
}

func (r *likeRepo) ItemIDsForUser(ctx context.Context, userID string, sessionCode *string) ([]string, error) {
	clause, args := scope("session_code", sessionCode)
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT item_id FROM likes WHERE user_id = ? AND `+clause), append([]any{userID}, args...)...)
	return ids, err
}

func (r *likeRepo) CountForUser(ctx context.Context, userID string, sessionCode *string) (int, error) {
	clause, args := scope("session_code", sessionCode)
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM likes WHERE user_id = ? AND `+clause), append([]any{userID}, args...)...)
	return n, err
}

func (r *likeRepo) CountByUser(ctx context.Context, code string) ([]model.SwipeCount, error) {
	var counts []model.SwipeCount
	err := r.db.SelectContext(ctx, &counts, r.db.Rebind(`
		SELECT user_id, COUNT(*) AS count FROM likes WHERE session_code = ? GROUP BY user_id
	`), code)
	return counts, err
}
