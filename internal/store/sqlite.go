package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mahdi-taghi/business-assistant-ari/internal/crypto"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/talkdb.db". ":memory:" is accepted.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/talkdb.db"
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps :memory: stable.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts user. A zero ID is replaced by a new UUID v7.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = crypto.NewUUIDv7()
	}
	if user.Role == "" {
		user.Role = models.DefaultUserRole
	}
	user.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, role, token_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID.String(), user.Username, user.Role, user.TokenHash, user.CreatedAt)
	return err
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, role, token_hash, created_at
		FROM users WHERE id = ?
	`, id.String()).Scan(&user.ID, &user.Username, &user.Role, &user.TokenHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateChat creates a chat owned by userID.
func (s *SQLiteStore) CreateChat(ctx context.Context, userID uuid.UUID, title string) (*models.Chat, error) {
	if title == "" {
		title = models.DefaultChatTitle
	}
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:           crypto.NewUUIDv7(),
		UserID:       userID,
		Title:        title,
		CreatedAt:    now,
		LastActivity: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, created_at, last_activity, is_archived)
		VALUES (?, ?, ?, ?, ?, 0)
	`, chat.ID.String(), userID.String(), title, now, now)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat := &models.Chat{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, last_activity, is_archived
		FROM chats WHERE id = ?
	`, id.String()).Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.LastActivity, &chat.IsArchived)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return chat, nil
}

// ListChats lists a user's chats by most recent activity.
func (s *SQLiteStore) ListChats(ctx context.Context, userID uuid.UUID, archived bool) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, created_at, last_activity, is_archived
		FROM chats
		WHERE user_id = ? AND is_archived = ?
		ORDER BY last_activity DESC
	`, userID.String(), archived)
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
func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, id uuid.UUID, title string) error {
	return s.execOne(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, id.String())
}

// SetChatArchived sets the archived flag of a chat.
func (s *SQLiteStore) SetChatArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	return s.execOne(ctx, `UPDATE chats SET is_archived = ? WHERE id = ?`, archived, id.String())
}

// DeleteChat deletes a chat and its messages.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, `DELETE FROM chats WHERE id = ?`, id.String())
}

func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMessage inserts msg and bumps the chat's last activity.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = crypto.NewUUIDv7()
	}
	msg.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, ai_response_metadata, ai_references, tokens_used, response_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID.String(), msg.ChatID.String(), msg.Role, msg.Content,
		nullJSON(msg.Metadata), nullJSON(msg.References), msg.TokensUsed, msg.ResponseTime, msg.CreatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET last_activity = ? WHERE id = ?`, msg.CreatedAt, msg.ChatID.String()); err != nil {
		return err
	}
	return tx.Commit()
}

// CountMessages counts the messages of a chat.
func (s *SQLiteStore) CountMessages(ctx context.Context, chatID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID.String()).Scan(&n)
	return n, err
}

// RecentMessages returns up to limit messages, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, chat_id, role, content, ai_response_metadata, ai_references, tokens_used, response_time, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, chatID, limit)
}

// ListMessages returns up to limit messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, chat_id, role, content, ai_response_metadata, ai_references, tokens_used, response_time, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, chatID, limit)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, chatID uuid.UUID, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, chatID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m          models.Message
			meta, refs sql.NullString
			tokens     sql.NullInt64
			respTime   sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &meta, &refs, &tokens, &respTime, &m.CreatedAt); err != nil {
			return nil, err
		}
		if meta.Valid {
			m.Metadata = rawJSON([]byte(meta.String))
		}
		if refs.Valid {
			m.References = rawJSON([]byte(refs.String))
		}
		if tokens.Valid {
			n := int(tokens.Int64)
			m.TokensUsed = &n
		}
		if respTime.Valid {
			f := respTime.Float64
			m.ResponseTime = &f
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
