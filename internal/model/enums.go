package model

type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

func (d Direction) Valid() bool {
	return d == DirectionLeft || d == DirectionRight
}

// EventType names a live update pushed to session members.
type EventType string

const (
	EventSessionUpdated  EventType = "session_updated"
	EventFiltersUpdated  EventType = "filters_updated"
	EventSettingsUpdated EventType = "settings_updated"
	EventMatchFound      EventType = "match_found"
	EventSessionDeleted  EventType = "session_deleted"
)
