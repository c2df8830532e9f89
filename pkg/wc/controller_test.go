package wc

import (
	"errors"
	"testing"

	"github.com/itineradb/itinera/pkg/errcode"
)

func TestReservationIndexLayout(t *testing.T) {
	ix := ReservationIndex()

	key, err := ix.Encode("alice", ResvFlight, "F100")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(key) != 40 {
		t.Errorf("Expected 40-char key, got %d", len(key))
	}

	// Every reservation of one customer lands on that customer's page.
	prefix, err := ix.PagePrefix("alice")
	if err != nil {
		t.Fatalf("PagePrefix failed: %v", err)
	}
	hotel, _ := ix.Encode("alice", ResvHotel, "rome")
	if ix.PageID(key) != prefix || ix.PageID(hotel) != prefix {
		t.Error("Expected both reservations on the customer's page")
	}

	cols := ix.Decode(key)
	if cols[0] != "alice" || cols[1] != ResvFlight || cols[2] != "F100" {
		t.Errorf("Decode mismatch: %v", cols)
	}
}

func TestOpErrorUnwrap(t *testing.T) {
	inner := errcode.New(errcode.InsufficientAvailability, "F100", "")
	err := &OpError{Err: inner, TransactionAborted: true}

	if !errcode.Is(err, errcode.InsufficientAvailability) {
		t.Error("Expected code to survive wrapping")
	}
	var ce *errcode.Error
	if !errors.As(err, &ce) || ce.Key != "F100" {
		t.Error("Expected errors.As to reach the structured error")
	}
}

func TestControllerAvailability(t *testing.T) {
	c := NewController(Config{
		TMURL:           "http://localhost:1",
		FlightsURL:      "http://localhost:1",
		HotelsURL:       "http://localhost:1",
		CarsURL:         "http://localhost:1",
		CustomersURL:    "http://localhost:1",
		ReservationsURL: "http://localhost:1",
	})
	if !c.Available() {
		t.Error("Expected controller available on startup")
	}
	c.Die()
	if c.Available() {
		t.Error("Expected controller down after Die")
	}
}
