package model

import "time"

// Like is a right swipe. A nil SessionCode places it in the user's solo namespace.
type Like struct {
	UserID      string    `db:"user_id" json:"userId"`
	ItemID      string    `db:"item_id" json:"itemId"`
	SessionCode *string   `db:"session_code" json:"sessionCode,omitempty"`
	IsMatch     bool      `db:"is_match" json:"isMatch"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Hidden is a left swipe; it only removes the item from future decks.
type Hidden struct {
	UserID      string    `db:"user_id" json:"userId"`
	ItemID      string    `db:"item_id" json:"itemId"`
	SessionCode *string   `db:"session_code" json:"sessionCode,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// SwipeCount is the per-user, per-direction tally used for session stats.
type SwipeCount struct {
	UserID string `db:"user_id"`
	Count  int    `db:"count"`
}

// Liker is a session member who liked an item.
type Liker struct {
	UserID   string `db:"user_id" json:"userId"`
	UserName string `db:"user_name" json:"userName"`
	ItemID   string `db:"item_id" json:"-"`
}
