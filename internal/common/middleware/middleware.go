package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
)

// Context keys
type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	UserIDKey        contextKey = "user_id"
	RequestIDKey     contextKey = "request_id"
)

// Headers read by the middleware
const (
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderUserID         = "X-User-ID"
	HeaderAdminKey       = "X-Admin-Key"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

// GetUserID retrieves the user ID from context
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// CorrelationID middleware adds a correlation ID to each request
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = ulid.Make().String()
		}

		ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
		w.Header().Set(HeaderCorrelationID, correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ulid.Make().String()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger creates a structured logging middleware
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"correlation_id", GetCorrelationID(r.Context()),
					"user_id", GetUserID(r.Context()),
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer recovers from panics and logs them
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
						"correlation_id", GetCorrelationID(r.Context()),
					)
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// UserExtractor reads the authenticated user from the X-User-ID header set by
// the gateway in front of the service.
func UserExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get(HeaderUserID); userID != "" {
			r = r.WithContext(WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser ensures a user ID is present
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminKey guards back-office routes with a shared key. An empty key
// disables the routes entirely.
func AdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Admin access is disabled")
				return
			}
			got := r.Header.Get(HeaderAdminKey)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyStore caches responses by idempotency key. Claim reserves a key
// for the request about to run and reports false if it is already taken.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (response []byte, found bool, err error)
	Claim(ctx context.Context, key string, marker []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, response []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// cachedResponse with a zero Status marks a request still in flight
type cachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body,omitempty"`
}

var inFlightMarker, _ = json.Marshal(cachedResponse{})

// Idempotency runs a mutating request at most once per Idempotency-Key and
// user. The key is claimed before the handler runs; a duplicate arriving
// meanwhile gets 409, and one arriving after a 2xx gets the stored response.
// Non-2xx responses free the key so the client can retry.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := r.Header.Get(HeaderIdempotencyKey)
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := GetUserID(r.Context()) + ":" + r.URL.Path + ":" + idempotencyKey

			claimed, err := store.Claim(r.Context(), key, inFlightMarker, ttl)
			if err != nil {
				logger.Warn("idempotency claim failed", "error", err, "key", idempotencyKey)
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				replayOrConflict(w, r, store, key, logger)
				return
			}

			stored := false
			defer func() {
				if stored {
					return
				}
				if err := store.Delete(context.WithoutCancel(r.Context()), key); err != nil {
					logger.Warn("idempotency release failed", "error", err, "key", idempotencyKey)
				}
			}()

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Store successful responses
			if rec.status >= 200 && rec.status < 300 {
				payload, _ := json.Marshal(cachedResponse{Status: rec.status, Body: rec.body})
				if err := store.Set(context.WithoutCancel(r.Context()), key, payload, ttl); err != nil {
					logger.Warn("idempotency store failed", "error", err, "key", idempotencyKey)
					return
				}
				stored = true
			}
		})
	}
}

func replayOrConflict(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key string, logger *slog.Logger) {
	cached, found, err := store.Get(r.Context(), key)
	if err != nil {
		logger.Warn("idempotency lookup failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Could not check idempotency key")
		return
	}

	var resp cachedResponse
	if found && json.Unmarshal(cached, &resp) == nil && resp.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Idempotency-Replayed", "true")
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
		return
	}
	writeError(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "A request with this idempotency key is still in progress")
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
