// Package match decides when a liked item becomes a session match.
package match

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Strategy selects the agreement rule for a session.
type Strategy string

const (
	AtLeastTwo Strategy = "atLeastTwo"
	AllMembers Strategy = "allMembers"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == AtLeastTwo || s == AllMembers
}

// Settings are the per-session match rules. Zero caps mean unlimited.
type Settings struct {
	MatchStrategy  Strategy `json:"matchStrategy"`
	MaxLeftSwipes  int      `json:"maxLeftSwipes,omitempty"`
	MaxRightSwipes int      `json:"maxRightSwipes,omitempty"`
	MaxMatches     int      `json:"maxMatches,omitempty"`
}

// DefaultSettings is used when a session has no stored settings.
func DefaultSettings() Settings {
	return Settings{MatchStrategy: AtLeastTwo}
}

// ParseSettings decodes stored session settings, filling defaults for missing fields.
func ParseSettings(raw *string) (Settings, error) {
	s := DefaultSettings()
	if raw == nil || *raw == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(*raw), &s); err != nil {
		return DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}
	if s.MatchStrategy == "" {
		s.MatchStrategy = AtLeastTwo
	}
	return s, s.Validate()
}

// Validate rejects unknown strategies and negative caps.
func (s Settings) Validate() error {
	if !s.MatchStrategy.Valid() {
		return fmt.Errorf("unknown match strategy %q", s.MatchStrategy)
	}
	if s.MaxLeftSwipes < 0 || s.MaxRightSwipes < 0 || s.MaxMatches < 0 {
		return fmt.Errorf("swipe limits must not be negative")
	}
	return nil
}

// Tally is the state of one item within a session at evaluation time.
type Tally struct {
	// Likers is the number of distinct users who liked the item in the session.
	Likers int
	// MemberLikers counts only likers who are still members.
	MemberLikers int
	// Members is the current membership size.
	Members int
}

// IsMatch applies the strategy to a tally. Unknown strategies fall back to atLeastTwo.
//
// allMembers needs every current member to have liked the item and at least two
// members, so a session of one never produces matches.
func IsMatch(strategy Strategy, t Tally) bool {
	switch strategy {
	case AllMembers:
		return t.Members >= 2 && t.MemberLikers >= t.Members
	default:
		return t.Likers >= 2
	}
}
