package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahdi-taghi/business-assistant-ari/internal/api/middleware"
)

// ChatSocket upgrades to a websocket session on the {id} chat. Anonymous
// and unauthorized peers are refused after the upgrade with a close code.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.Error(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	user := middleware.GetUserFromContext(r.Context())
	h.sessions.Serve(w, r, user, chi.URLParam(r, "id"))
}
