package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/webmonitoring/diffing-service/internal/logging"
)

type contextKey int

const requestLoggerKey contextKey = iota

// requestIDMiddleware assigns every inbound request a correlation id (taking
// one supplied via X-Request-Id, otherwise minting a fresh uuid), echoes it
// back on the response, and stashes a logger tagged with it in the request
// context so every log line emitted while handling the request can be tied
// back to it.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		logger := logging.Default().With("request_id", id)
		ctx := context.WithValue(r.Context(), requestLoggerKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger retrieves the request-scoped logger stashed by
// requestIDMiddleware, falling back to the package default if none was set
// (e.g. in tests that call a handler directly).
func requestLogger(r *http.Request) logging.Logger {
	if l, ok := r.Context().Value(requestLoggerKey).(logging.Logger); ok {
		return l
	}
	return logging.Default()
}
