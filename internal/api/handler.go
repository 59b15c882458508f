// Package api exposes the HTTP surface: the public inbound webhook plus
// token-protected operator endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jobpulse/jobpulse/internal/orchestrator"
	"github.com/jobpulse/jobpulse/internal/window"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Engine is the orchestrator surface the HTTP layer depends on.
type Engine interface {
	HandleInbound(ctx context.Context, address, displayName, text string) (window.Status, error)
	RunCycle(ctx context.Context) (orchestrator.CycleReport, error)
	Status(ctx context.Context) (orchestrator.EngineStatus, error)
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Engine Engine
	// Token protects the operator routes. Empty leaves them unmounted.
	Token string
}

// NewHandler builds the router. The webhook and health check are public;
// everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Post("/webhook/inbound", handleInbound(deps))

	if deps.Token != "" {
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.Token))
			r.Get("/status", handleStatus(deps))
			r.Post("/cycle/run", handleRunCycle(deps))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// InboundRequest is the platform's webhook payload for an inbound message.
type InboundRequest struct {
	From        string `json:"from"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

func handleInbound(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req InboundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.From == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "from is required")
			return
		}

		st, err := deps.Engine.HandleInbound(r.Context(), req.From, req.DisplayName, req.Text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to process inbound message: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"window_state":    st.State,
			"hours_remaining": st.HoursRemaining,
		})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Engine.Status(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read status: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	}
}

func handleRunCycle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Engine.RunCycle(r.Context())
		if err == orchestrator.ErrCycleRunning {
			httpError(w, http.StatusConflict, "conflict", "a delivery cycle is already running")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "cycle failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"cycle_id":  report.CycleID,
			"eligible":  report.Eligible,
			"sent":      report.Sent,
			"reminders": report.Reminders,
			"skipped":   report.Skipped,
			"errors":    report.Errors,
			"duration":  report.Duration.String(),
		})
	}
}

func httpError(w http.ResponseWriter, status int, errType, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": fmt.Sprintf(format, args...),
		},
	})
}
