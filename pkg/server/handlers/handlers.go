// Package handlers implements the HTTP surfaces of the three booking
// services: resource manager, transaction manager and workflow
// controller.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/itineradb/itinera/pkg/client"
	"github.com/itineradb/itinera/pkg/errcode"
	"github.com/itineradb/itinera/pkg/server"
)

// xidFromRequest extracts the transaction context: the X-Transaction-Id
// header wins, the legacy xid query parameter is accepted for
// compatibility.
func xidFromRequest(r *http.Request) string {
	if xid := r.Header.Get(client.XidHeader); xid != "" {
		return xid
	}
	return r.URL.Query().Get("xid")
}

// parseJSONBody parses a JSON request body into target.
func parseJSONBody(r *http.Request, target any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return &BadRequestError{Message: "failed to read request body"}
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return &BadRequestError{Message: "request body is empty"}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &BadRequestError{Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// BadRequestError signals a malformed request.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// UnavailableError signals a service that has been marked down.
type UnavailableError struct{}

func (e *UnavailableError) Error() string { return "service unavailable" }

// writeError maps an error to its stable HTTP status and a structured
// body. Structured errors keep their code on the wire; everything else
// becomes INTERNAL_INVARIANT.
func writeError(w http.ResponseWriter, err error) {
	var badReq *BadRequestError
	if errors.As(err, &badReq) {
		server.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"ok":      false,
			"error":   "BAD_REQUEST",
			"message": badReq.Message,
		})
		return
	}
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		server.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":      false,
			"error":   "UNAVAILABLE",
			"message": unavailable.Error(),
		})
		return
	}

	var ce *errcode.Error
	if errors.As(err, &ce) {
		server.WriteJSON(w, errcode.HTTPStatus(ce.Code), map[string]any{
			"ok":      false,
			"error":   string(ce.Code),
			"key":     ce.Key,
			"message": ce.Message,
		})
		return
	}

	server.WriteJSON(w, http.StatusInternalServerError, map[string]any{
		"ok":      false,
		"error":   string(errcode.InternalInvariant),
		"message": err.Error(),
	})
}
