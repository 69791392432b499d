package model

import "time"

// Identity is an authenticated browser session. Full accounts hold their own
// vault-encrypted provider token; guests hold none and borrow the host's.
type Identity struct {
	ID          string    `db:"id" json:"id"`
	TokenHash   string    `db:"token_hash" json:"-"`
	UserID      string    `db:"user_id" json:"userId"`
	UserName    string    `db:"user_name" json:"userName"`
	Provider    string    `db:"provider" json:"provider"`
	IsGuest     bool      `db:"is_guest" json:"isGuest"`
	AccessToken *string   `db:"access_token" json:"-"`
	DeviceID    *string   `db:"device_id" json:"-"`
	ServerURL   *string   `db:"server_url" json:"-"`
	SessionCode *string   `db:"session_code" json:"sessionCode,omitempty"`
	SoloFilters *string   `db:"solo_filters" json:"-"`
	ExpiresAt   time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"lastSeenAt"`
}

type CreateIdentityParams struct {
	TokenHash   string
	UserID      string
	UserName    string
	Provider    string
	IsGuest     bool
	AccessToken *string
	DeviceID    *string
	ServerURL   *string
	SessionCode *string
	ExpiresAt   time.Time
}

// Credentials are the provider credentials a request acts with.
type Credentials struct {
	AccessToken string
	DeviceID    string
	UserID      string
	ServerURL   string
}
