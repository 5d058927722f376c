package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mahdi-taghi/business-assistant-ari/internal/api/middleware"
	"github.com/mahdi-taghi/business-assistant-ari/internal/bus"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
	"github.com/mahdi-taghi/business-assistant-ari/internal/store"
)

type testEnv struct {
	db     *store.SQLiteStore
	redis  *store.RedisStore
	bus    *bus.Correlator
	router chi.Router
	alice  *models.User
	bob    *models.User
	as     *models.User // caller for the next request
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := &testEnv{
		db:    db,
		redis: store.NewRedisStoreFromClient(client),
		bus:   bus.New(client, bus.DefaultConfig(), zerolog.Nop()),
		alice: &models.User{Username: "alice", TokenHash: "x"},
		bob:   &models.User{Username: "bob", TokenHash: "x"},
	}
	require.NoError(t, db.CreateUser(ctx, env.alice))
	require.NoError(t, db.CreateUser(ctx, env.bob))
	env.as = env.alice

	h := NewHandler(Deps{Store: db, Redis: env.redis, Bus: env.bus, Logger: zerolog.Nop()})
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if env.as != nil {
					req = req.WithContext(middleware.WithUser(req.Context(), env.as))
				}
				next.ServeHTTP(w, req)
			})
		})
		r.Get("/api/me", h.Me)
		r.Post("/api/chats", h.CreateChat)
		r.Get("/api/chats", h.ListChats)
		r.Post("/api/chats/{id}/toggle-archive", h.ToggleArchive)
		r.Delete("/api/chats/{id}", h.DeleteChat)
		r.Get("/api/chats/{id}/messages", h.ChatMessages)
	})
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestChatLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var chat models.Chat
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/chats", CreateChatRequest{Title: "  Imports\x00 2024 "}, &chat))
	require.Equal(t, "Imports 2024", chat.Title)
	require.Equal(t, env.alice.ID, chat.UserID)

	var untitled models.Chat
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/chats", nil, &untitled))
	require.Equal(t, models.DefaultChatTitle, untitled.Title)

	var list ChatListResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/chats", nil, &list))
	require.Len(t, list.Chats, 2)

	var toggled models.Chat
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/chats/"+chat.ID.String()+"/toggle-archive", nil, &toggled))
	require.True(t, toggled.IsArchived)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/chats?archived=true", nil, &list))
	require.Len(t, list.Chats, 1)
	require.Equal(t, chat.ID, list.Chats[0].ID)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/chats?archived=false", nil, &list))
	require.Len(t, list.Chats, 1)
	require.Equal(t, untitled.ID, list.Chats[0].ID)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/chats?archived=maybe", nil, nil))
}

func TestChatMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	chat, err := env.db.CreateChat(ctx, env.alice.ID, "")
	require.NoError(t, err)
	for _, m := range []struct{ role, content string }{
		{models.RoleUser, "how many rows?"},
		{models.RoleAssistant, "42"},
		{models.RoleUser, "and last year?"},
	} {
		require.NoError(t, env.db.SaveMessage(ctx, &models.Message{ChatID: chat.ID, Role: m.role, Content: m.content}))
	}

	var resp MessageListResponse
	path := "/api/chats/" + chat.ID.String() + "/messages"
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, path, nil, &resp))
	require.Equal(t, chat.ID, resp.Chat.ID)
	require.Len(t, resp.Messages, 3)
	require.Equal(t, "how many rows?", resp.Messages[0].Content)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, path+"?limit=2", nil, &resp))
	require.Len(t, resp.Messages, 2)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, path+"?limit=0", nil, nil))
}

func TestChatOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	chat, err := env.db.CreateChat(ctx, env.alice.ID, "private")
	require.NoError(t, err)
	id := chat.ID.String()

	env.as = env.bob
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/chats/"+id+"/messages", nil, nil))
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/chats/"+id+"/toggle-archive", nil, nil))
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/chats/"+id, nil, nil))
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/chats/"+uuid.NewString(), nil, nil))
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/api/chats/not-a-uuid", nil, nil))

	var list ChatListResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/chats", nil, &list))
	require.Empty(t, list.Chats)

	env.as = nil
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/chats", nil, nil))
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/me", nil, nil))

	got, err := env.db.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.IsArchived)
}

func TestDeleteChatSweepsBusAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	chat, err := env.db.CreateChat(ctx, env.alice.ID, "")
	require.NoError(t, err)
	other, err := env.db.CreateChat(ctx, env.alice.ID, "")
	require.NoError(t, err)

	for _, c := range []*models.Chat{chat, other} {
		_, _, err := env.bus.Publish(ctx, &models.RequestEnvelope{ChatID: c.ID.String(), UserID: env.alice.ID.String(), Content: "q"})
		require.NoError(t, err)
	}
	require.NoError(t, env.redis.PushHistory(ctx, chat.ID.String(), models.RoleUser, "q"))

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/chats/"+chat.ID.String(), nil, nil))

	got, err := env.db.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	history, err := env.redis.RecentHistory(ctx, chat.ID.String(), 10)
	require.NoError(t, err)
	require.Empty(t, history)

	cfg := env.bus.Config()
	entries, err := env.redis.Client().XRange(ctx, cfg.RequestStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, other.ID.String(), entries[0].Values["chat_id"])
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	var me MeResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/me", nil, &me))
	require.Equal(t, "alice", me.Username)
	require.Equal(t, models.DefaultUserRole, me.Role)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	var resp HealthResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil, &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, "pass", resp.Checks["database"].Status)
	require.Equal(t, "pass", resp.Checks["redis"].Status)
	_, probed := resp.Checks["data_db"]
	require.False(t, probed)

	h := NewHandler(Deps{Store: env.db, Redis: env.redis, DataDB: downPinger{}, Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.Equal(t, "fail", resp.Checks["data_db"].Status)
}

func TestSanitizeTitle(t *testing.T) {
	long := ""
	for i := 0; i < 150; i++ {
		long += "ب"
	}
	require.Equal(t, 100, len([]rune(sanitizeTitle(long))))
	require.Equal(t, "a b", sanitizeTitle("\ta b\n"))
}
