package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/vault"
)

// schema is portable between PostgreSQL and SQLite. Statements run one at a time
// because the SQLite driver does not accept multi-statement Exec reliably.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		code              TEXT NOT NULL UNIQUE,
		host_user_id      TEXT NOT NULL,
		host_access_token TEXT,
		host_device_id    TEXT,
		host_server_url   TEXT,
		provider          TEXT NOT NULL,
		filters           TEXT,
		settings          TEXT,
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_members (
		session_code TEXT NOT NULL REFERENCES sessions(code) ON DELETE CASCADE,
		user_id      TEXT NOT NULL,
		user_name    TEXT NOT NULL,
		joined_at    TIMESTAMP NOT NULL,
		PRIMARY KEY (session_code, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS likes (
		user_id      TEXT NOT NULL,
		item_id      TEXT NOT NULL,
		session_code TEXT REFERENCES sessions(code) ON DELETE CASCADE,
		is_match     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS likes_session_uniq ON likes (user_id, item_id, session_code) WHERE session_code IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS likes_solo_uniq ON likes (user_id, item_id) WHERE session_code IS NULL`,
	`CREATE INDEX IF NOT EXISTS likes_session_item_idx ON likes (session_code, item_id)`,
	`CREATE TABLE IF NOT EXISTS hiddens (
		user_id      TEXT NOT NULL,
		item_id      TEXT NOT NULL,
		session_code TEXT REFERENCES sessions(code) ON DELETE CASCADE,
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS hiddens_session_uniq ON hiddens (user_id, item_id, session_code) WHERE session_code IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS hiddens_solo_uniq ON hiddens (user_id, item_id) WHERE session_code IS NULL`,
	`CREATE TABLE IF NOT EXISTS config (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS identities (
		id           TEXT PRIMARY KEY,
		token_hash   TEXT NOT NULL UNIQUE,
		user_id      TEXT NOT NULL,
		user_name    TEXT NOT NULL,
		provider     TEXT NOT NULL,
		is_guest     BOOLEAN NOT NULL DEFAULT FALSE,
		access_token TEXT,
		device_id    TEXT,
		server_url   TEXT,
		session_code TEXT,
		solo_filters TEXT,
		expires_at   TIMESTAMP NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS identities_expires_idx ON identities (expires_at)`,
}

// Migrate creates the schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	log.Info().Str("dialect", string(db.Dialect)).Int("statements", len(schema)).Msg("database schema up to date")
	return nil
}

// WipeResult counts rows touched by WipeDeprecatedTokens.
type WipeResult struct {
	Sessions   int64
	Identities int64
}

// WipeDeprecatedTokens removes credentials stored in the retired v1 vault format.
// Sessions lose their lent host credentials and server URL, so hosts must
// re-enable lending. Identities holding such a payload are deleted, which
// forces their users to log in again.
func (db *DB) WipeDeprecatedTokens(ctx context.Context) (WipeResult, error) {
	var result WipeResult

	var sessions []struct {
		Code  string `db:"code"`
		Token string `db:"host_access_token"`
	}
	if err := db.SelectContext(ctx, &sessions,
		`SELECT code, host_access_token FROM sessions WHERE host_access_token IS NOT NULL`); err != nil {
		return result, fmt.Errorf("list lending tokens: %w", err)
	}
	for _, s := range sessions {
		if !vault.IsDeprecated(s.Token) {
			continue
		}
		res, err := db.ExecContext(ctx, db.Rebind(
			`UPDATE sessions SET host_access_token = NULL, host_device_id = NULL, host_server_url = NULL WHERE code = ?`), s.Code)
		if err != nil {
			return result, fmt.Errorf("wipe lending token for %s: %w", s.Code, err)
		}
		n, _ := res.RowsAffected()
		result.Sessions += n
	}

	var identities []struct {
		ID    string `db:"id"`
		Token string `db:"access_token"`
	}
	if err := db.SelectContext(ctx, &identities,
		`SELECT id, access_token FROM identities WHERE access_token IS NOT NULL`); err != nil {
		return result, fmt.Errorf("list identity tokens: %w", err)
	}
	for _, i := range identities {
		if !vault.IsDeprecated(i.Token) {
			continue
		}
		res, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM identities WHERE id = ?`), i.ID)
		if err != nil {
			return result, fmt.Errorf("delete identity %s: %w", i.ID, err)
		}
		n, _ := res.RowsAffected()
		result.Identities += n
	}

	if result.Sessions > 0 || result.Identities > 0 {
		log.Warn().Int64("sessions", result.Sessions).Int64("identities", result.Identities).
			Msg("wiped credentials in deprecated vault format")
	}
	return result, nil
}
