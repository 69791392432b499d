package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigRepository_InsertIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewConfigRepository(db.DB)
	ctx := context.Background()

	inserted, err := repo.InsertIfAbsent(ctx, "admin_user_id:jellyfin", "u1")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertIfAbsent(ctx, "admin_user_id:jellyfin", "u2")
	require.NoError(t, err)
	assert.False(t, inserted)

	entry, err := repo.Get(ctx, "admin_user_id:jellyfin")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "u1", entry.Value)

	missing, err := repo.Get(ctx, "admin_user_id:plex")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConfigRepository_Set(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewConfigRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "included_libraries:plex", `["1"]`))
	require.NoError(t, repo.Set(ctx, "included_libraries:plex", `["1","4"]`))

	entry, err := repo.Get(ctx, "included_libraries:plex")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, `["1","4"]`, entry.Value)
}

func TestConfigRepository_ConcurrentInsertInTx(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewConfigRepository(db.DB)
	ctx := context.Background()

	const callers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var won bool
			err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
				var err error
				won, err = repo.WithTx(tx).InsertIfAbsent(ctx, "admin_user_id:plex", "someone")
				return err
			})
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	var rows int
	require.NoError(t, db.GetContext(ctx, &rows, `SELECT COUNT(*) FROM config`))
	assert.Equal(t, 1, rows)
}
