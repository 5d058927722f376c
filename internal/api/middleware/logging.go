package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// Auth runs inside this handler; it reports the user back here.
			var user string
			r = r.WithContext(context.WithValue(r.Context(), userSlotKey, &user))

			upgrade := websocket.IsWebSocketUpgrade(r)

			defer func() {
				status, msg := ww.Status(), "request completed"
				if upgrade && status == 0 {
					status, msg = http.StatusSwitchingProtocols, "websocket session ended"
				}
				ev := logger.Info()
				if status >= http.StatusInternalServerError {
					ev = logger.Error()
				}
				ev.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Str("user_id", user).
					Msg(msg)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

const userSlotKey contextKey = "log_user"

// noteUser records the authenticated user for the request log line.
func noteUser(ctx context.Context, id string) {
	if slot, ok := ctx.Value(userSlotKey).(*string); ok {
		*slot = id
	}
}
