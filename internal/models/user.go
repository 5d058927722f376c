package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated principal allowed to own chats.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	TokenHash string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultUserRole is assigned when no role is given at creation.
const DefaultUserRole = "analyst"
