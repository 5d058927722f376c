package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/session"
	"github.com/mahdi-taghi/business-assistant-ari/internal/store"
)

// maxTitleRunes bounds user-supplied chat titles.
const maxTitleRunes = 100

// Pinger is anything whose liveness can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChatSweeper drops every bus entry belonging to a chat.
type ChatSweeper interface {
	CleanupChat(ctx context.Context, chatID string) (int, error)
}

// Deps lists what the handlers need. Bus, Sessions and DataDB are optional.
type Deps struct {
	Store    store.DataStore
	Redis    *store.RedisStore
	Bus      ChatSweeper
	Sessions *session.Connector
	DataDB   Pinger
	Logger   zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	bus      ChatSweeper
	sessions *session.Connector
	dataDB   Pinger
	logger   zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		db:       d.Store,
		redis:    d.Redis,
		bus:      d.Bus,
		sessions: d.Sessions,
		dataDB:   d.DataDB,
		logger:   d.Logger.With().Str("component", "api").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeTitle trims a title, removes control characters and limits it
// to maxTitleRunes runes.
func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)

	// Remove control characters
	title = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, title)

	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title
}
