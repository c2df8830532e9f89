package handlers

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itineradb/itinera/pkg/errcode"
	"github.com/itineradb/itinera/pkg/metrics"
	"github.com/itineradb/itinera/pkg/server"
	"github.com/itineradb/itinera/pkg/wc"
)

// WCHandlers exposes the workflow controller's booking API.
type WCHandlers struct {
	wc        *wc.Controller
	metrics   *metrics.Collector
	startTime time.Time
}

// NewWC creates the handler set for a workflow controller.
func NewWC(controller *wc.Controller, collector *metrics.Collector) *WCHandlers {
	return &WCHandlers{wc: controller, metrics: collector, startTime: time.Now()}
}

// Routes mounts the WC endpoints.
func (h *WCHandlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/_metrics", h.Metrics)

	r.Group(func(r chi.Router) {
		r.Use(h.availabilityMiddleware)

		r.Post("/txn/start", h.Start)
		r.Post("/txn/commit", h.Commit)
		r.Post("/txn/abort", h.Abort)
		r.Get("/txn/{xid}", h.Status)

		r.Post("/flights", h.AddFlight)
		r.Get("/flights/{flightNum}", h.QueryFlight)
		r.Delete("/flights/{flightNum}", h.DeleteFlight)

		r.Post("/hotels", h.AddHotel)
		r.Get("/hotels/{location}", h.QueryHotel)
		r.Delete("/hotels/{location}", h.DeleteHotel)

		r.Post("/cars", h.AddCar)
		r.Get("/cars/{location}", h.QueryCar)
		r.Delete("/cars/{location}", h.DeleteCar)

		r.Post("/customers", h.AddCustomer)
		r.Get("/customers/{custName}", h.QueryCustomer)
		r.Delete("/customers/{custName}", h.DeleteCustomer)
		r.Get("/customers/{custName}/bill", h.QueryCustomerBill)

		r.Post("/reserve/flight", h.ReserveFlight)
		r.Post("/reserve/hotel", h.ReserveHotel)
		r.Post("/reserve/car", h.ReserveCar)
	})

	r.Post("/admin/reconnect", h.Reconnect)
	r.Post("/admin/die", h.Die)
	r.Post("/admin/die-hard", h.DieHard)
}

func (h *WCHandlers) availabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.wc.Available() {
			writeError(w, &UnavailableError{})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeWCError reports a controller error, flagging whether the
// enclosing transaction was auto-aborted on the way out.
func writeWCError(w http.ResponseWriter, err error) {
	var opErr *wc.OpError
	if !errors.As(err, &opErr) {
		writeError(w, err)
		return
	}
	body := map[string]any{
		"ok":                  false,
		"transaction_aborted": opErr.TransactionAborted,
	}
	status := http.StatusInternalServerError
	var ce *errcode.Error
	if errors.As(opErr.Err, &ce) {
		status = errcode.HTTPStatus(ce.Code)
		body["error"] = string(ce.Code)
		body["key"] = ce.Key
		body["message"] = ce.Message
	} else {
		body["error"] = string(errcode.InternalInvariant)
		body["message"] = opErr.Err.Error()
	}
	server.WriteJSON(w, status, body)
}

// Metrics serves the Prometheus exposition.
func (h *WCHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_ = h.metrics.WritePrometheus(w)
}

// Health reports liveness and availability.
func (h *WCHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !h.wc.Available() {
		status = "down"
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"uptime": time.Since(h.startTime).String(),
	})
}

// Reconnect rebuilds downstream clients and reports per-endpoint
// status.
func (h *WCHandlers) Reconnect(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"endpoints": h.wc.Reconnect(r.Context()),
	})
}

// Die marks the controller unavailable without stopping the process.
func (h *WCHandlers) Die(w http.ResponseWriter, r *http.Request) {
	h.wc.Die()
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// DieHard terminates the process. Failure-injection hook.
func (h *WCHandlers) DieHard(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	}()
}

// Start opens a new global transaction.
func (h *WCHandlers) Start(w http.ResponseWriter, r *http.Request) {
	xid, err := h.wc.Start(r.Context())
	if err != nil {
		writeWCError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordTxnStarted()
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{
		"xid":    xid,
		"status": "ACTIVE",
	})
}

// Commit drives the transaction to its outcome, reporting IN_DOUBT on
// a timed-out decision.
func (h *WCHandlers) Commit(w http.ResponseWriter, r *http.Request) {
	xid := xidFromRequest(r)
	if xid == "" {
		writeError(w, &BadRequestError{Message: "xid is required"})
		return
	}
	status, err := h.wc.Commit(r.Context(), xid)
	if err != nil {
		writeWCError(w, err)
		return
	}
	if h.metrics != nil {
		switch status {
		case "COMMITTED":
			h.metrics.RecordTxnCommitted()
		case "ABORTED":
			h.metrics.RecordTxnAborted()
		case "IN_DOUBT":
			h.metrics.RecordTxnInDoubt()
		}
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"xid":    xid,
		"status": status,
	})
}

// Abort rolls the transaction back.
func (h *WCHandlers) Abort(w http.ResponseWriter, r *http.Request) {
	xid := xidFromRequest(r)
	if xid == "" {
		writeError(w, &BadRequestError{Message: "xid is required"})
		return
	}
	status, err := h.wc.Abort(r.Context(), xid)
	if err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"xid":    xid,
		"status": status,
	})
}

// Status reports the transaction's state as the TM records it.
func (h *WCHandlers) Status(w http.ResponseWriter, r *http.Request) {
	xid := chi.URLParam(r, "xid")
	status, err := h.wc.Status(r.Context(), xid)
	if err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"xid":    xid,
		"status": status,
	})
}

// ---------------------------------------------------------------------
// Flights
// ---------------------------------------------------------------------

func (h *WCHandlers) AddFlight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FlightNum string `json:"flightNum"`
		Price     int64  `json:"price"`
		NumSeats  int64  `json:"numSeats"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.FlightNum == "" {
		writeError(w, &BadRequestError{Message: "flightNum is required"})
		return
	}
	if err := h.wc.AddFlight(r.Context(), xidFromRequest(r), req.FlightNum, req.Price, req.NumSeats); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (h *WCHandlers) QueryFlight(w http.ResponseWriter, r *http.Request) {
	fields, err := h.wc.QueryFlight(r.Context(), xidFromRequest(r), chi.URLParam(r, "flightNum"))
	if err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "flight": fields})
}

func (h *WCHandlers) DeleteFlight(w http.ResponseWriter, r *http.Request) {
	if err := h.wc.DeleteFlight(r.Context(), xidFromRequest(r), chi.URLParam(r, "flightNum")); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---------------------------------------------------------------------
// Hotels
// ---------------------------------------------------------------------

func (h *WCHandlers) AddHotel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location string `json:"location"`
		Price    int64  `json:"price"`
		NumRooms int64  `json:"numRooms"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Location == "" {
		writeError(w, &BadRequestError{Message: "location is required"})
		return
	}
	if err := h.wc.AddHotel(r.Context(), xidFromRequest(r), req.Location, req.Price, req.NumRooms); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (h *WCHandlers) QueryHotel(w http.ResponseWriter, r *http.Request) {
	fields, err := h.wc.QueryHotel(r.Context(), xidFromRequest(r), chi.URLParam(r, "location"))
	if err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "hotel": fields})
}

func (h *WCHandlers) DeleteHotel(w http.ResponseWriter, r *http.Request) {
	if err := h.wc.DeleteHotel(r.Context(), xidFromRequest(r), chi.URLParam(r, "location")); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---------------------------------------------------------------------
// Cars
// ---------------------------------------------------------------------

func (h *WCHandlers) AddCar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location string `json:"location"`
		Price    int64  `json:"price"`
		NumCars  int64  `json:"numCars"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Location == "" {
		writeError(w, &BadRequestError{Message: "location is required"})
		return
	}
	if err := h.wc.AddCar(r.Context(), xidFromRequest(r), req.Location, req.Price, req.NumCars); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (h *WCHandlers) QueryCar(w http.ResponseWriter, r *http.Request) {
	fields, err := h.wc.QueryCar(r.Context(), xidFromRequest(r), chi.URLParam(r, "location"))
	if err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "car": fields})
}

func (h *WCHandlers) DeleteCar(w http.ResponseWriter, r *http.Request) {
	if err := h.wc.DeleteCar(r.Context(), xidFromRequest(r), chi.URLParam(r, "location")); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------

func (h *WCHandlers) AddCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustName string `json:"custName"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CustName == "" {
		writeError(w, &BadRequestError{Message: "custName is required"})
		return
	}
	if err := h.wc.AddCustomer(r.Context(), xidFromRequest(r), req.CustName); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (h *WCHandlers) QueryCustomer(w http.ResponseWriter, r *http.Request) {
	fields, err := h.wc.QueryCustomer(r.Context(), xidFromRequest(r), chi.URLParam(r, "custName"))
	if err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "customer": fields})
}

func (h *WCHandlers) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.wc.DeleteCustomer(r.Context(), xidFromRequest(r), chi.URLParam(r, "custName")); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *WCHandlers) QueryCustomerBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.wc.QueryCustomerBill(r.Context(), xidFromRequest(r), chi.URLParam(r, "custName"))
	if err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "reservations": bill})
}

// ---------------------------------------------------------------------
// Reservations
// ---------------------------------------------------------------------

type reserveRequest struct {
	CustName string `json:"custName"`
	Key      string `json:"key"`
	Count    int64  `json:"count"`
}

func (h *WCHandlers) parseReserve(w http.ResponseWriter, r *http.Request) (reserveRequest, bool) {
	var req reserveRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, err)
		return req, false
	}
	if req.CustName == "" || req.Key == "" {
		writeError(w, &BadRequestError{Message: "custName and key are required"})
		return req, false
	}
	return req, true
}

func (h *WCHandlers) ReserveFlight(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseReserve(w, r)
	if !ok {
		return
	}
	if err := h.wc.ReserveFlight(r.Context(), xidFromRequest(r), req.CustName, req.Key, req.Count); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (h *WCHandlers) ReserveHotel(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseReserve(w, r)
	if !ok {
		return
	}
	if err := h.wc.ReserveHotel(r.Context(), xidFromRequest(r), req.CustName, req.Key, req.Count); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (h *WCHandlers) ReserveCar(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseReserve(w, r)
	if !ok {
		return
	}
	if err := h.wc.ReserveCar(r.Context(), xidFromRequest(r), req.CustName, req.Key, req.Count); err != nil {
		writeWCError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}
