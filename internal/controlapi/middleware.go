package controlapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/beacon/internal/logger"
	"github.com/rafaeljc/beacon/internal/observability"
)

// APIKeyHeader carries the plain API key on authenticated routes.
const APIKeyHeader = "X-API-Key"

// injectLogger stores the API logger, tagged with the request id, in the
// request context.
func (a *API) injectLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := a.logger.With(slog.String("request_id", middleware.GetReqID(r.Context())))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}

// RequestLogger logs the end of each request with its method, path, status
// and duration. 4xx responses log at Warn, 5xx at Error.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		logger.FromContext(r.Context()).Log(r.Context(), level, "HTTP request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("duration", time.Since(start).String()),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// Metrics records request counts and latency labelled by the matched route
// pattern, so path parameters do not explode the label cardinality.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		observability.HostAPIReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		observability.HostAPIReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

// authenticateAPIKey rejects requests whose API key does not hash to the
// configured value.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Missing API key",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(HashAPIKey(key)), []byte(a.apiKeyHash)) != 1 {
			logger.FromContext(r.Context()).Warn("rejected request with invalid api key")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HashAPIKey returns the value expected in the API key hash setting.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
