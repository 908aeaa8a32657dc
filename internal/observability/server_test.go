package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/beacon/internal/config"
	"github.com/rafaeljc/beacon/internal/observability"
)

func testConfig() *config.ObservabilityConfig {
	// Non-default paths prove the routes come from configuration.
	return &config.ObservabilityConfig{
		Enabled:       true,
		Port:          "0",
		Timeout:       time.Second,
		LivenessPath:  "/alive",
		ReadinessPath: "/check-deps",
		MetricsPath:   "/telemetry",
		StatusPath:    "/engine",
	}
}

func checker(name string, err error) observability.Checker {
	return observability.CheckerFunc{Component: name, Fn: func(context.Context) error { return err }}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()
		s := observability.NewServer(logger, testConfig(), nil)

		rec := get(t, s.Handler(), "/alive")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
	})

	t.Run("readiness with healthy dependencies", func(t *testing.T) {
		t.Parallel()
		s := observability.NewServer(logger, testConfig(), nil, checker("redis", nil), checker("controller", nil))

		rec := get(t, s.Handler(), "/check-deps")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

		var body map[string]map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, map[string]string{"redis": "up", "controller": "up"}, body["status"])
	})

	t.Run("readiness with a failing dependency", func(t *testing.T) {
		t.Parallel()
		s := observability.NewServer(logger, testConfig(), nil,
			checker("redis", errors.New("connection refused")),
			checker("controller", nil),
		)

		rec := get(t, s.Handler(), "/check-deps")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "down: connection refused", body["status"]["redis"])
		assert.Equal(t, "up", body["status"]["controller"])
	})

	t.Run("metrics", func(t *testing.T) {
		t.Parallel()
		observability.PresentedMessages.Add(0)
		s := observability.NewServer(logger, testConfig(), nil)

		rec := get(t, s.Handler(), "/telemetry")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "beacon_controller_presented_messages_total")
	})

	t.Run("status route is absent without a status func", func(t *testing.T) {
		t.Parallel()
		s := observability.NewServer(logger, testConfig(), nil)

		assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/engine").Code)
	})

	t.Run("status renders the reported state", func(t *testing.T) {
		t.Parallel()
		status := func(context.Context) (any, error) {
			return map[string]any{"active_messages": []string{"welcome"}}, nil
		}
		s := observability.NewServer(logger, testConfig(), status)

		rec := get(t, s.Handler(), "/engine")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"active_messages":["welcome"]}`, rec.Body.String())
	})

	t.Run("status failure is reported as unavailable", func(t *testing.T) {
		t.Parallel()
		status := func(context.Context) (any, error) { return nil, errors.New("controller stopped") }
		s := observability.NewServer(logger, testConfig(), status)

		rec := get(t, s.Handler(), "/engine")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"error":"controller stopped"}`, rec.Body.String())
	})
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	t.Parallel()

	s := observability.NewServer(nil, testConfig(), nil)
	assert.NoError(t, s.Shutdown(context.Background()))
}
