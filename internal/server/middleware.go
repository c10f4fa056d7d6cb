package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/JamesGuthrie/httpserve/internal/logging"
	"github.com/JamesGuthrie/httpserve/pkg/utils"
)

type contextKey int

const requestIDKey contextKey = iota

// RequestID returns the ID assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// recoveryMiddleware turns a panic into a 500 so one bad request cannot
// take the process down.
func recoveryMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("Panic while serving request", map[string]interface{}{
				"panic":      rec,
				"path":       r.URL.Path,
				"request_id": RequestID(r.Context()),
				"stack":      string(debug.Stack()),
			})
			http.Error(w, "500 internal server error", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags each request with a fresh ID, echoed in the
// X-Request-ID response header.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID)))
	})
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := utils.NewResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		logger.Info("Request processed", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     wrapped.Status(),
			"duration":   time.Since(start).String(),
			"remote":     utils.GetRealIP(r),
			"user_agent": r.UserAgent(),
			"request_id": RequestID(r.Context()),
			"bytes_sent": wrapped.Size(),
		})
	})
}
