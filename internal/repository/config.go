package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/swiparr/swiparr-server/internal/database"
	"github.com/swiparr/swiparr-server/internal/model"
)

type ConfigRepository interface {
	Get(ctx context.Context, key string) (*model.ConfigEntry, error)
	// InsertIfAbsent writes key only if no row exists and reports whether this call wrote it.
	InsertIfAbsent(ctx context.Context, key, value string) (bool, error)
	Set(ctx context.Context, key, value string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ConfigRepository
}

type configRepo struct {
	db database.DBTX
}

func NewConfigRepository(db *sqlx.DB) ConfigRepository {
	return &configRepo{db: db}
}

func (r *configRepo) WithTx(tx *sqlx.Tx) ConfigRepository {
	return &configRepo{db: tx}
}

func (r *configRepo) Get(ctx context.Context, key string) (*model.ConfigEntry, error) {
	var entry model.ConfigEntry
	err := r.db.GetContext(ctx, &entry, r.db.Rebind(`
		SELECT * FROM config WHERE key = ?
	`), key)
	return HandleNotFound(&entry, err)
}

func (r *configRepo) InsertIfAbsent(ctx context.Context, key, value string) (bool, error) {
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO NOTHING
	`), key, value, now()))
}

func (r *configRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`), key, value, now())
	return err
}
