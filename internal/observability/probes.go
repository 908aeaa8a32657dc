package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
)

// liveness responds with 200 OK while the HTTP server is running.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel and answers 200 only if all pass.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	statusMap := make(map[string]string, len(s.checkers))
	hasError := false

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range s.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// WARN: the orchestrator retries, a single failure is not an incident.
				s.logger.Warn("health probe failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				statusMap[c.Name()] = fmt.Sprintf("down: %v", err)
				hasError = true
			} else {
				statusMap[c.Name()] = "up"
			}
		}(checker)
	}

	wg.Wait()

	if hasError {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, map[string]any{"status": statusMap})
}

// statusHandler renders the engine state reported by the StatusFunc.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	status, err := s.status(ctx)
	if err != nil {
		s.logger.Warn("status unavailable", slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}
	render.JSON(w, r, status)
}
