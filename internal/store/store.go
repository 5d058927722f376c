package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

// ErrNotFound is returned by mutations whose target row does not exist.
var ErrNotFound = errors.New("not found")

// DataStore defines the interface for persistent storage of users, chats
// and messages. Both PostgresStore and SQLiteStore implement this interface.
// Getters return nil, nil when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// Chat operations
	CreateChat(ctx context.Context, userID uuid.UUID, title string) (*models.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	ListChats(ctx context.Context, userID uuid.UUID, archived bool) ([]models.Chat, error)
	UpdateChatTitle(ctx context.Context, id uuid.UUID, title string) error
	SetChatArchived(ctx context.Context, id uuid.UUID, archived bool) error
	DeleteChat(ctx context.Context, id uuid.UUID) error

	// Message operations
	SaveMessage(ctx context.Context, msg *models.Message) error
	CountMessages(ctx context.Context, chatID uuid.UUID) (int64, error)
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error)
	// ListMessages returns up to limit messages, oldest first.
	ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error)
}

// Open connects the chat store: PostgreSQL when databaseURL is set, the
// SQLite file at sqlitePath otherwise. Postgres migrations run first when
// migrate is true; the SQLite schema is always applied on open.
func Open(ctx context.Context, databaseURL, sqlitePath string, migrate bool) (DataStore, error) {
	if databaseURL == "" {
		s, err := NewSQLiteStore(ctx, sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	}
	if migrate {
		if err := RunMigrations(ctx, databaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	s, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return s, nil
}
