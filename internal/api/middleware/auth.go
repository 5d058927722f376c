package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/crypto"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

type contextKey string

const UserContextKey contextKey = "user"

var errNoToken = errors.New("missing token")

// UserLookup resolves the owner of an API token.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AuthMiddleware resolves API tokens to users.
type AuthMiddleware struct {
	users  UserLookup
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(users UserLookup, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{users: users, logger: logger}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.authenticate(r)
		if err != nil {
			if errors.Is(err, errNoToken) {
				jsonError(w, http.StatusUnauthorized, "missing auth token")
			} else {
				jsonError(w, http.StatusUnauthorized, "invalid auth token")
			}
			return
		}
		noteUser(r.Context(), user.ID.String())
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// OptionalAuth attaches the user when the token is valid and passes the
// request through either way. The websocket route decides on its own how to
// refuse anonymous peers.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, err := m.authenticate(r); err == nil {
			noteUser(r.Context(), user.ID.String())
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (*models.User, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, errNoToken
	}

	userID, secret, err := crypto.ParseToken(token)
	if err != nil {
		return nil, err
	}

	user, err := m.users.GetUserByID(r.Context(), userID)
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", userID.String()).Msg("user lookup failed")
		return nil, err
	}
	if user == nil {
		return nil, crypto.ErrInvalidToken
	}

	if err := crypto.VerifySecret(user.TokenHash, secret); err != nil {
		m.logger.Warn().
			Str("type", "security").
			Str("event", "invalid_token").
			Str("user_id", userID.String()).
			Str("ip", RealIP(r)).
			Msg("token verification failed")
		return nil, err
	}
	return user, nil
}

// TokenFromRequest returns the bearer token, falling back to the token query
// parameter that browser websocket clients have to use.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserFromContext retrieves the authenticated user from context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
