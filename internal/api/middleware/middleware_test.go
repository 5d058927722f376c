package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mahdi-taghi/business-assistant-ari/internal/crypto"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return f[id], nil
}

func newUser(t *testing.T, users fakeUsers) (*models.User, string) {
	t.Helper()
	u := &models.User{ID: uuid.New(), Username: "analyst"}
	token, hash, err := crypto.GenerateToken(u.ID)
	require.NoError(t, err)
	u.TokenHash = hash
	users[u.ID] = u
	return u, token
}

func whoami(w http.ResponseWriter, r *http.Request) {
	if u := GetUserFromContext(r.Context()); u != nil {
		w.Write([]byte(u.Username))
		return
	}
	w.Write([]byte("anonymous"))
}

func TestRequireAuth(t *testing.T) {
	users := fakeUsers{}
	_, token := newUser(t, users)
	other, _ := newUser(t, users)
	auth := NewAuthMiddleware(users, zerolog.Nop())
	h := auth.RequireAuth(http.HandlerFunc(whoami))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"lowercase scheme", "bearer " + token, "", http.StatusOK},
		{"query token", "", token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed", "Bearer nope", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + other.ID.String() + ".bad", "", http.StatusUnauthorized},
		{"unknown user", "Bearer " + uuid.NewString() + ".secret", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/chats"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				require.Equal(t, "analyst", rec.Body.String())
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	users := fakeUsers{}
	_, token := newUser(t, users)
	h := NewAuthMiddleware(users, zerolog.Nop()).OptionalAuth(http.HandlerFunc(whoami))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/chat/x?token=garbage", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "anonymous", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/chat/x?token="+token, nil))
	require.Equal(t, "analyst", rec.Body.String())
}

func newLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, zerolog.Nop(), cfg), mr
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	rl, _ := newLimiter(t, RateLimiterConfig{
		Overrides: map[string]RateLimit{"GET /limited": {2, time.Hour, userKey}},
	})
	h := rl.Middleware(http.HandlerFunc(whoami))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			require.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	require.Equal(t, []int{200, 200, 429}, codes)

	// Unlimited routes pass through.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterWhitelistAndBlock(t *testing.T) {
	rl, _ := newLimiter(t, RateLimiterConfig{
		Whitelist: []string{"10.0.0.0/8", "192.0.2.1"},
		Overrides: map[string]RateLimit{"GET /limited": {1, time.Hour, userKey}},
	})
	h := rl.Middleware(http.HandlerFunc(whoami))

	for _, addr := range []string{"10.1.2.3:1", "192.0.2.1:1"} {
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/limited", nil)
			req.RemoteAddr = addr
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, addr)
		}
	}

	require.NoError(t, rl.blocker.Block(context.Background(), "198.51.100.9", time.Minute, "test"))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.9:1"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserKey(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	require.Equal(t, "ratelimit:ip:203.0.113.7", userKey(req))

	req.Header.Set("Authorization", "Bearer "+id.String()+".secret")
	require.Equal(t, "ratelimit:user:"+id.String(), userKey(req))
}

func TestNormalizePath(t *testing.T) {
	id := uuid.NewString()
	require.Equal(t, "/api/chats/:id/messages", normalizePath("/api/chats/"+id+"/messages"))
	require.Equal(t, "/ws/chat/:id", normalizePath("/ws/chat/"+id))
	require.Equal(t, "/api/chats", normalizePath("/api/chats"))
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(whoami))

	req := httptest.NewRequest(http.MethodGet, "/api/chats?x=../etc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ws/chat/abc?token="+uuid.NewString()+".c2VjcmV0LXZhbHVl", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterAutoBlocks(t *testing.T) {
	rl, _ := newLimiter(t, RateLimiterConfig{
		AutoBlockEnabled: true,
		Overrides:        map[string]RateLimit{"GET /limited": {1, time.Hour, userKey}},
	})
	h := rl.Middleware(http.HandlerFunc(whoami))

	last := 0
	for i := 0; i < 12; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "203.0.113.50:1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	require.Equal(t, http.StatusForbidden, last)

	ctx := context.Background()
	blocked, err := rl.blocker.IsBlocked(ctx, "203.0.113.50")
	require.NoError(t, err)
	require.True(t, blocked)

	require.NoError(t, rl.blocker.Unblock(ctx, "203.0.113.50"))
	blocked, err = rl.blocker.IsBlocked(ctx, "203.0.113.50")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestTakeReportsReset(t *testing.T) {
	rl, _ := newLimiter(t, RateLimiterConfig{})
	ctx := context.Background()

	first, err := rl.Take(ctx, "ratelimit:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, first.Allowed)
	require.Equal(t, 1, first.Remaining)

	_, err = rl.Take(ctx, "ratelimit:test", 2, time.Minute)
	require.NoError(t, err)
	third, err := rl.Take(ctx, "ratelimit:test", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, third.Allowed)
	require.Equal(t, 0, third.Remaining)
	require.WithinDuration(t, time.Now().Add(time.Minute), third.ResetAt, 2*time.Second)
}

func TestLoggerRecordsAuthenticatedUser(t *testing.T) {
	users := fakeUsers{}
	user, token := newUser(t, users)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	h := Logger(logger)(NewAuthMiddleware(users, zerolog.Nop()).RequireAuth(http.HandlerFunc(whoami)))
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "request completed", line["message"])
	require.Equal(t, user.ID.String(), line["user_id"])
	require.Equal(t, float64(http.StatusOK), line["status"])
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(whoami)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
