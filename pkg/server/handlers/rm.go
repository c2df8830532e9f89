package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itineradb/itinera/pkg/errcode"
	"github.com/itineradb/itinera/pkg/metrics"
	"github.com/itineradb/itinera/pkg/rm"
	"github.com/itineradb/itinera/pkg/server"
)

// RMHandlers exposes one resource manager over HTTP.
type RMHandlers struct {
	rm        *rm.ResourceManager
	metrics   *metrics.Collector
	startTime time.Time
}

// NewRM creates the handler set for a resource manager.
func NewRM(manager *rm.ResourceManager, collector *metrics.Collector) *RMHandlers {
	return &RMHandlers{rm: manager, metrics: collector, startTime: time.Now()}
}

// Routes mounts the RM endpoints.
func (h *RMHandlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/_metrics", h.Metrics)
	r.Post("/die", h.Die)

	r.Get("/records", h.ScanRecords)
	r.Post("/records", h.AddRecord)
	r.Get("/records/{key}", h.GetRecord)
	r.Put("/records/{key}", h.UpdateRecord)
	r.Patch("/records/{key}", h.UpdateRecord)
	r.Delete("/records/{key}", h.DeleteRecord)

	r.Post("/txn/prepare", h.Prepare)
	r.Post("/txn/commit", h.Commit)
	r.Post("/txn/abort", h.Abort)
}

// Health reports liveness plus a few engine statistics.
func (h *RMHandlers) Health(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"table":       h.rm.Table(),
		"uptime":      time.Since(h.startTime).String(),
		"active_txns": h.rm.ActiveTransactions(),
		"prepared":    h.rm.PreparedTransactions(),
		"page_pool":   h.rm.PoolStats(),
	})
}

// Metrics serves the Prometheus exposition.
func (h *RMHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_ = h.metrics.WritePrometheus(w)
}

// Die terminates the process. Failure-injection hook for crash-recovery
// tests.
func (h *RMHandlers) Die(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	}()
}

// GetRecord reads the record visible to the caller's transaction.
func (h *RMHandlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rec, err := h.rm.Read(r.Context(), xidFromRequest(r), key)
	if err != nil {
		writeError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"record": recordBody(rec),
	})
}

// ScanRecords lists the visible records of one page.
func (h *RMHandlers) ScanRecords(w http.ResponseWriter, r *http.Request) {
	pageID := r.URL.Query().Get("page")
	if pageID == "" {
		writeError(w, &BadRequestError{Message: "page query parameter is required"})
		return
	}
	recs, err := h.rm.ScanPage(r.Context(), xidFromRequest(r), pageID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordBody(rec))
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"records": out,
	})
}

// AddRecord inserts a record under the caller's transaction.
func (h *RMHandlers) AddRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Xid   string         `json:"xid"`
		Key   string         `json:"key"`
		Value map[string]any `json:"value"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	xid := xidFromRequest(r)
	if xid == "" {
		xid = req.Xid
	}
	if req.Key == "" {
		writeError(w, &BadRequestError{Message: "key is required"})
		return
	}
	if err := h.rm.Add(r.Context(), xid, req.Key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

// UpdateRecord merges updates into a record under the caller's
// transaction.
func (h *RMHandlers) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		Xid     string         `json:"xid"`
		Updates map[string]any `json:"updates"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	xid := xidFromRequest(r)
	if xid == "" {
		xid = req.Xid
	}
	if err := h.rm.Update(r.Context(), xid, key, req.Updates); err != nil {
		writeError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// DeleteRecord tombstones a record under the caller's transaction.
func (h *RMHandlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.rm.Delete(r.Context(), xidFromRequest(r), key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Prepare votes on phase one. Validation failures are reported as a
// structured no-vote with HTTP 200, matching the participant contract.
func (h *RMHandlers) Prepare(w http.ResponseWriter, r *http.Request) {
	xid := xidFromRequest(r)
	if xid == "" {
		writeError(w, &BadRequestError{Message: "xid is required"})
		return
	}
	if err := h.rm.Prepare(r.Context(), xid); err != nil {
		server.WriteJSON(w, http.StatusOK, map[string]any{
			"ok":      false,
			"err":     string(errcode.CodeOf(err)),
			"message": err.Error(),
		})
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Commit applies phase two. Idempotent.
func (h *RMHandlers) Commit(w http.ResponseWriter, r *http.Request) {
	xid := xidFromRequest(r)
	if xid == "" {
		writeError(w, &BadRequestError{Message: "xid is required"})
		return
	}
	if err := h.rm.Commit(r.Context(), xid); err != nil {
		writeError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Abort rolls a transaction back. Idempotent.
func (h *RMHandlers) Abort(w http.ResponseWriter, r *http.Request) {
	xid := xidFromRequest(r)
	if xid == "" {
		writeError(w, &BadRequestError{Message: "xid is required"})
		return
	}
	if err := h.rm.Abort(r.Context(), xid); err != nil {
		writeError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func recordBody(rec *rm.Record) map[string]any {
	return map[string]any{
		"key":     rec.Key,
		"fields":  rec.Fields,
		"version": rec.Version,
	}
}
