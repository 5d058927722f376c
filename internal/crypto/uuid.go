package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewMessageID returns a unique id for a bus request.
func NewMessageID() string {
	return NewUUIDv7().String()
}

// NewConnectionID returns a sortable id for a websocket connection.
func NewConnectionID() string {
	return ulid.Make().String()
}
