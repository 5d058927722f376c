package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteChatLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	user := &models.User{Username: "analyst1", TokenHash: "hash"}
	require.NoError(t, s.CreateUser(ctx, user))
	require.NotEqual(t, uuid.Nil, user.ID)
	require.Equal(t, models.DefaultUserRole, user.Role)

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "analyst1", got.Username)

	missing, err := s.GetUserByID(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	chat, err := s.CreateChat(ctx, user.ID, "")
	require.NoError(t, err)
	require.Equal(t, models.DefaultChatTitle, chat.Title)

	require.NoError(t, s.UpdateChatTitle(ctx, chat.ID, "واردات"))
	require.NoError(t, s.SetChatArchived(ctx, chat.ID, true))

	loaded, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, "واردات", loaded.Title)
	require.True(t, loaded.IsArchived)

	active, err := s.ListChats(ctx, user.ID, false)
	require.NoError(t, err)
	require.Empty(t, active)
	archived, err := s.ListChats(ctx, user.ID, true)
	require.NoError(t, err)
	require.Len(t, archived, 1)

	require.ErrorIs(t, s.UpdateChatTitle(ctx, uuid.New(), "x"), ErrNotFound)

	require.NoError(t, s.DeleteChat(ctx, chat.ID))
	gone, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
	require.ErrorIs(t, s.DeleteChat(ctx, chat.ID), ErrNotFound)
}

func TestSQLiteMessages(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	user := &models.User{Username: "u", TokenHash: "h"}
	require.NoError(t, s.CreateUser(ctx, user))
	chat, err := s.CreateChat(ctx, user.ID, "t")
	require.NoError(t, err)

	require.NoError(t, s.SaveMessage(ctx, &models.Message{ChatID: chat.ID, Role: models.RoleUser, Content: "q1"}))
	tokens, rt := 42, 1.5
	require.NoError(t, s.SaveMessage(ctx, &models.Message{
		ChatID:       chat.ID,
		Role:         models.RoleAssistant,
		Content:      "a1",
		Metadata:     json.RawMessage(`{"model":"m"}`),
		References:   json.RawMessage(`[]`),
		TokensUsed:   &tokens,
		ResponseTime: &rt,
	}))

	n, err := s.CountMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	recent, err := s.RecentMessages(ctx, chat.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "a1", recent[0].Content)
	require.Equal(t, 42, *recent[0].TokensUsed)
	require.JSONEq(t, `{"model":"m"}`, string(recent[0].Metadata))
	require.Nil(t, recent[1].TokensUsed)

	all, err := s.ListMessages(ctx, chat.ID, 10)
	require.NoError(t, err)
	require.Equal(t, "q1", all[0].Content)

	require.NoError(t, s.DeleteChat(ctx, chat.ID))
	n, err = s.CountMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOpenFallsBackToSQLite(t *testing.T) {
	s, err := Open(context.Background(), "", filepath.Join(t.TempDir(), "nested", "chat.db"), true)
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*SQLiteStore)
	require.True(t, ok)
	require.NoError(t, s.Ping(context.Background()))
}
