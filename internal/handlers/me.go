package handlers

import (
	"net/http"

	"github.com/mahdi-taghi/business-assistant-ari/internal/api/middleware"
)

// MeResponse represents the caller's profile.
type MeResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	h.JSON(w, http.StatusOK, MeResponse{
		ID:       user.ID.String(),
		Username: user.Username,
		Role:     user.Role,
		JoinedAt: user.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}
