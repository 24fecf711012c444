// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/dirsync/pkg/cache"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
)

// Handler exposes manual triggering and status over HTTP.
type Handler struct {
	coord *Coordinator
	mux   *http.ServeMux

	// plans caches previews keyed by the last finished run ID, so a run
	// finishing anywhere makes older previews unreachable. Nil disables it.
	plans *cache.Cache[string, *reconcile.Plan]
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithPlanCache caches GET /v1/sync/plan responses for ttl. A nil clock
// means time.Now.
func WithPlanCache(ttl time.Duration, now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if ttl <= 0 {
			return
		}
		if now == nil {
			now = time.Now
		}
		h.plans = cache.New(
			cache.WithExpiry[string, *reconcile.Plan](ttl),
			cache.WithMaxSize[string, *reconcile.Plan](4),
			cache.WithClock[string, *reconcile.Plan](now),
			cache.WithLoadFunc(func(ctx context.Context, _ string) (*reconcile.Plan, error) {
				return h.coord.Preview(ctx)
			}),
		)
	}
}

// NewHandler creates the sync admin handler.
func NewHandler(c *Coordinator, opts ...HandlerOption) *Handler {
	h := &Handler{coord: c, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /v1/sync/run", h.run)
	h.mux.HandleFunc("GET /v1/sync/status", h.status)
	h.mux.HandleFunc("GET /v1/sync/plan", h.plan)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type runResponse struct {
	Summary *reconcile.RunSummary `json:"summary,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// run executes a manual run synchronously. The request context is the run
// context, so a client disconnect cancels the run.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.coord.Run(r.Context(), reconcile.TriggerManual)
	if h.plans != nil && summary != nil {
		h.plans.Clear()
	}

	var already *AlreadyRunningError
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, runResponse{Summary: summary})
	case errors.As(err, &already):
		h.writeError(w, http.StatusConflict, "AlreadyRunning", err.Error())
	default:
		h.writeJSON(w, http.StatusBadGateway, runResponse{Summary: summary, Error: err.Error()})
	}
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.coord.Status())
}

// plan serves a dry run. ?refresh=true bypasses the cache.
func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	var (
		plan *reconcile.Plan
		err  error
	)
	if h.plans == nil {
		plan, err = h.coord.Preview(r.Context())
	} else {
		key := h.planKey()
		if r.URL.Query().Get("refresh") == "true" {
			h.plans.Delete(key)
		}
		plan, err = h.plans.GetOrLoad(r.Context(), key)
	}
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "PreviewFailed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) planKey() string {
	if last := h.coord.Status().LastRun; last != nil {
		return last.RunID
	}
	return ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	h.writeJSON(w, status, errorResponse{Error: errType, Message: message})
}
