package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// TimeoutMiddleware cancels the request context after timeout. WebSocket
// upgrade requests are passed through untouched since their context lives
// as long as the connection.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
