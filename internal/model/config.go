package model

import (
	"strings"
	"time"
)

type ConfigEntry struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// AdminKey is the config key holding the admin user id for a provider.
func AdminKey(provider string) string {
	return "admin_user_id:" + strings.ToLower(provider)
}

// IncludedLibrariesKey holds the JSON list of library ids decks draw from.
func IncludedLibrariesKey(provider string) string {
	return "included_libraries:" + strings.ToLower(provider)
}
