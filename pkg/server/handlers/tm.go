package handlers

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itineradb/itinera/pkg/metrics"
	"github.com/itineradb/itinera/pkg/server"
	"github.com/itineradb/itinera/pkg/tm"
)

// TMHandlers exposes the transaction manager over HTTP.
type TMHandlers struct {
	tm        *tm.Manager
	metrics   *metrics.Collector
	startTime time.Time
}

// NewTM creates the handler set for a transaction manager.
func NewTM(manager *tm.Manager, collector *metrics.Collector) *TMHandlers {
	return &TMHandlers{tm: manager, metrics: collector, startTime: time.Now()}
}

// Routes mounts the TM endpoints.
func (h *TMHandlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/_metrics", h.Metrics)
	r.Post("/die", h.Die)

	r.Post("/txn/start", h.Start)
	r.Post("/txn/commit", h.Commit)
	r.Post("/txn/abort", h.Abort)
	r.Post("/txn/enlist", h.Enlist)
	r.Get("/txn/watch", h.Watch)
	r.Get("/txn/{xid}", h.Status)
}

// Health reports liveness.
func (h *TMHandlers) Health(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Metrics serves the Prometheus exposition.
func (h *TMHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_ = h.metrics.WritePrometheus(w)
}

// Die terminates the process. Failure-injection hook.
func (h *TMHandlers) Die(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	}()
}

// Start allocates a fresh global transaction id.
func (h *TMHandlers) Start(w http.ResponseWriter, r *http.Request) {
	xid := h.tm.Start()
	server.WriteJSON(w, http.StatusCreated, map[string]any{
		"xid":    xid,
		"status": string(tm.StateActive),
	})
}

// Commit drives two-phase commit for the transaction and reports the
// outcome. A commit that outlives its deadline reports IN_DOUBT while
// the decision keeps running in the background.
func (h *TMHandlers) Commit(w http.ResponseWriter, r *http.Request) {
	xid := xidFromRequest(r)
	if xid == "" {
		writeError(w, &BadRequestError{Message: "xid is required"})
		return
	}
	state, err := h.tm.Commit(r.Context(), xid)
	if err != nil {
		if errors.Is(err, tm.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		writeError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"xid":    xid,
		"status": string(state),
	})
}

// Abort rolls the transaction back. Idempotent, and safe to call for
// unknown xids so operators can resolve orphans.
func (h *TMHandlers) Abort(w http.ResponseWriter, r *http.Request) {
	xid := xidFromRequest(r)
	if xid == "" {
		writeError(w, &BadRequestError{Message: "xid is required"})
		return
	}
	state, err := h.tm.Abort(r.Context(), xid)
	if err != nil {
		writeError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"xid":    xid,
		"status": string(state),
	})
}

// Enlist registers a participant endpoint under an active transaction.
func (h *TMHandlers) Enlist(w http.ResponseWriter, r *http.Request) {
	xid := xidFromRequest(r)
	if xid == "" {
		writeError(w, &BadRequestError{Message: "xid is required"})
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Endpoint == "" {
		writeError(w, &BadRequestError{Message: "endpoint is required"})
		return
	}
	if err := h.tm.Enlist(xid, req.Endpoint); err != nil {
		if errors.Is(err, tm.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		writeError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Status reports the TM's record of a transaction.
func (h *TMHandlers) Status(w http.ResponseWriter, r *http.Request) {
	xid := chi.URLParam(r, "xid")
	state, ok := h.tm.Status(xid)
	if !ok {
		http.NotFound(w, r)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"xid":          xid,
		"status":       string(state),
		"participants": h.tm.Participants(xid),
	})
}
