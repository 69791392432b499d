package model

import "time"

// Session is a collaborative deck identified by a short join code. The host's
// lent credentials are present only while guest lending is enabled.
type Session struct {
	ID              string    `db:"id" json:"id"`
	Code            string    `db:"code" json:"code"`
	HostUserID      string    `db:"host_user_id" json:"hostUserId"`
	HostAccessToken *string   `db:"host_access_token" json:"-"`
	HostDeviceID    *string   `db:"host_device_id" json:"-"`
	HostServerURL   *string   `db:"host_server_url" json:"-"`
	Provider        string    `db:"provider" json:"provider"`
	Filters         *string   `db:"filters" json:"-"`
	Settings        *string   `db:"settings" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// LendingEnabled reports whether guests may use the host's credentials.
func (s *Session) LendingEnabled() bool {
	return s.HostAccessToken != nil && *s.HostAccessToken != ""
}

type CreateSessionParams struct {
	Code       string
	HostUserID string
	Provider   string
}

// LendingParams carries the vault payload stored when a host enables lending.
type LendingParams struct {
	AccessToken string
	DeviceID    string
	ServerURL   *string
}

type SessionMember struct {
	SessionCode string    `db:"session_code" json:"sessionCode"`
	UserID      string    `db:"user_id" json:"userId"`
	UserName    string    `db:"user_name" json:"userName"`
	JoinedAt    time.Time `db:"joined_at" json:"joinedAt"`
}
