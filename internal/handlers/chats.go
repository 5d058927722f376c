package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mahdi-taghi/business-assistant-ari/internal/api/middleware"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
	"github.com/mahdi-taghi/business-assistant-ari/internal/store"
)

const (
	defaultMessagePage = 100
	maxMessagePage     = 500
)

// CreateChatRequest represents the chat creation request.
type CreateChatRequest struct {
	Title string `json:"title"`
}

// ChatListResponse represents the list chats response.
type ChatListResponse struct {
	Chats []models.Chat `json:"chats"`
}

// MessageListResponse represents the chat history response.
type MessageListResponse struct {
	Chat     models.Chat      `json:"chat"`
	Messages []models.Message `json:"messages"`
}

// CreateChat creates a chat owned by the caller.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	title := sanitizeTitle(req.Title)
	if title == "" {
		title = models.DefaultChatTitle
	}

	chat, err := h.db.CreateChat(r.Context(), user.ID, title)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("create chat failed")
		h.Error(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	h.JSON(w, http.StatusCreated, chat)
}

// ListChats lists the caller's chats. ?archived=true lists archived ones.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	archived := false
	if v := r.URL.Query().Get("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "archived must be a boolean")
			return
		}
		archived = b
	}

	chats, err := h.db.ListChats(r.Context(), user.ID, archived)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("list chats failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}

	h.JSON(w, http.StatusOK, ChatListResponse{Chats: chats})
}

// ToggleArchive flips the archived flag of a chat.
func (h *Handler) ToggleArchive(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.ownedChat(w, r)
	if !ok {
		return
	}

	if err := h.db.SetChatArchived(r.Context(), chat.ID, !chat.IsArchived); err != nil {
		h.logger.Error().Err(err).Str("chat_id", chat.ID.String()).Msg("toggle archive failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	chat.IsArchived = !chat.IsArchived

	h.JSON(w, http.StatusOK, chat)
}

// DeleteChat removes a chat, its messages and whatever it still has on the
// bus and in the history cache.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.ownedChat(w, r)
	if !ok {
		return
	}

	if err := h.db.DeleteChat(r.Context(), chat.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error().Err(err).Str("chat_id", chat.ID.String()).Msg("delete chat failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	log := h.logger.With().Str("chat_id", chat.ID.String()).Logger()
	if h.bus != nil {
		if n, err := h.bus.CleanupChat(r.Context(), chat.ID.String()); err != nil {
			log.Warn().Err(err).Msg("bus sweep after delete failed")
		} else if n > 0 {
			log.Debug().Int("entries", n).Msg("bus entries removed")
		}
	}
	if h.redis != nil {
		if err := h.redis.ClearChat(r.Context(), chat.ID.String()); err != nil {
			log.Warn().Err(err).Msg("history cache clear failed")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChatMessages returns the chat's messages, oldest first.
func (h *Handler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.ownedChat(w, r)
	if !ok {
		return
	}

	limit := defaultMessagePage
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMessagePage)
	}

	msgs, err := h.db.ListMessages(r.Context(), chat.ID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", chat.ID.String()).Msg("list messages failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	h.JSON(w, http.StatusOK, MessageListResponse{Chat: *chat, Messages: msgs})
}

// ownedChat loads the {id} chat and writes the error response itself when
// the caller may not see it. Chats of other users look exactly like missing
// ones.
func (h *Handler) ownedChat(w http.ResponseWriter, r *http.Request) (*models.Chat, bool) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return nil, false
	}

	chat, err := h.db.GetChat(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", id.String()).Msg("chat lookup failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	if chat == nil || chat.UserID != user.ID {
		h.Error(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	return chat, true
}
