package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/swiparr/swiparr-server/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	db, err := database.Connect("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func ptr(s string) *string { return &s }
