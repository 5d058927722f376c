package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahdi-taghi/business-assistant-ari/internal/crypto"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

//go:embed schema_postgres.sql
var postgresSchema string

// RunMigrations applies the chat schema to the database at databaseURL.
// The schema is idempotent.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts user. A zero ID is replaced by a new UUID v7.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = crypto.NewUUIDv7()
	}
	if user.Role == "" {
		user.Role = models.DefaultUserRole
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, role, token_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, user.ID, user.Username, user.Role, user.TokenHash).Scan(&user.CreatedAt)
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, role, token_hash, created_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.Role, &user.TokenHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateChat creates a chat owned by userID.
func (s *PostgresStore) CreateChat(ctx context.Context, userID uuid.UUID, title string) (*models.Chat, error) {
	if title == "" {
		title = models.DefaultChatTitle
	}
	chat := &models.Chat{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chats (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, title, created_at, last_activity, is_archived
	`, crypto.NewUUIDv7(), userID, title).Scan(
		&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.LastActivity, &chat.IsArchived,
	)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat := &models.Chat{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, created_at, last_activity, is_archived
		FROM chats WHERE id = $1
	`, id).Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.LastActivity, &chat.IsArchived)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return chat, nil
}

// ListChats lists a user's chats by most recent activity.
func (s *PostgresStore) ListChats(ctx context.Context, userID uuid.UUID, archived bool) ([]models.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, created_at, last_activity, is_archived
		FROM chats
		WHERE user_id = $1 AND is_archived = $2
		ORDER BY last_activity DESC
	`, userID, archived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []models.Chat{}
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.LastActivity, &c.IsArchived); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// UpdateChatTitle renames a chat.
func (s *PostgresStore) UpdateChatTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chats SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChatArchived sets the archived flag of a chat.
func (s *PostgresStore) SetChatArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chats SET is_archived = $2 WHERE id = $1`, id, archived)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat deletes a chat and its messages.
func (s *PostgresStore) DeleteChat(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMessage inserts msg and bumps the chat's last activity.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = crypto.NewUUIDv7()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, role, content, ai_response_metadata, ai_references, tokens_used, response_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, msg.ID, msg.ChatID, msg.Role, msg.Content,
		nullJSON(msg.Metadata), nullJSON(msg.References), msg.TokensUsed, msg.ResponseTime,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE chats SET last_activity = $2 WHERE id = $1`, msg.ChatID, time.Now()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CountMessages counts the messages of a chat.
func (s *PostgresStore) CountMessages(ctx context.Context, chatID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&n)
	return n, err
}

// RecentMessages returns up to limit messages, newest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, chat_id, role, content, ai_response_metadata, ai_references, tokens_used, response_time, created_at
		FROM messages WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, chatID, limit)
}

// ListMessages returns up to limit messages, oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, chat_id, role, content, ai_response_metadata, ai_references, tokens_used, response_time, created_at
		FROM messages WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, chatID, limit)
}

func (s *PostgresStore) queryMessages(ctx context.Context, sql string, chatID uuid.UUID, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, sql, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m          models.Message
			meta, refs []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &meta, &refs, &m.TokensUsed, &m.ResponseTime, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Metadata, m.References = rawJSON(meta), rawJSON(refs)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
