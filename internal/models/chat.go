package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultChatTitle is the title of a chat until the first answer suggests one.
const DefaultChatTitle = "New Chat"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat is a conversation owned by one user.
type Chat struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IsArchived   bool      `json:"is_archived"`
}

// Message is one persisted turn of a chat.
type Message struct {
	ID           uuid.UUID       `json:"id"`
	ChatID       uuid.UUID       `json:"chat_id"`
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	Metadata     json.RawMessage `json:"ai_response_metadata,omitempty"`
	References   json.RawMessage `json:"ai_references,omitempty"`
	TokensUsed   *int            `json:"tokens_used,omitempty"`
	ResponseTime *float64        `json:"response_time,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HistoryItem is one entry of the bounded recent-history window.
type HistoryItem struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}
