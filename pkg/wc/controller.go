// Package wc implements the workflow controller: the orchestrator of
// multi-participant booking operations under a single transaction id.
package wc

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/itineradb/itinera/pkg/client"
	"github.com/itineradb/itinera/pkg/errcode"
	"github.com/itineradb/itinera/pkg/rm"
)

// Reservation key layout: customer name, reservation type, resource key.
var (
	reservationWidths     = []int{16, 8, 16}
	reservationPrefixCols = 1
)

// ReservationIndex returns the composite index describing reservation
// keys. The reservations RM must be configured with the same layout.
func ReservationIndex() *rm.CompositeIndex {
	ix, err := rm.NewCompositeIndex(reservationWidths, reservationPrefixCols)
	if err != nil {
		panic(err)
	}
	return ix
}

// Reservation types stored in the resvType column.
const (
	ResvFlight = "FLIGHT"
	ResvHotel  = "HOTEL"
	ResvCar    = "CAR"
)

// Config wires the controller to its collaborators.
type Config struct {
	TMURL           string
	FlightsURL      string
	HotelsURL       string
	CarsURL         string
	CustomersURL    string
	ReservationsURL string

	// AutoAbort aborts the enclosing transaction on any downstream
	// failure (default on; set DisableAutoAbort to turn off).
	DisableAutoAbort bool
	// CommitTimeout is the client-facing budget for TM commit before
	// the controller reports IN_DOUBT.
	CommitTimeout time.Duration
	// RequestTimeout bounds each downstream call.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// Controller orchestrates booking flows. It is stateless apart from its
// outbound clients and is safe for concurrent use.
type Controller struct {
	cfg Config

	tm           *client.TMClient
	flights      *client.RMClient
	hotels       *client.RMClient
	cars         *client.RMClient
	customers    *client.RMClient
	reservations *client.RMClient

	resvIndex *rm.CompositeIndex
	logger    *slog.Logger
	down      atomic.Bool
}

// OpError wraps a downstream failure, recording whether the enclosing
// transaction was auto-aborted before the error was surfaced.
type OpError struct {
	Err                error
	TransactionAborted bool
}

func (e *OpError) Error() string { return e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

// NewController builds a controller and its outbound clients.
func NewController(cfg Config) *Controller {
	if cfg.CommitTimeout == 0 {
		cfg.CommitTimeout = 15 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Controller{
		cfg:       cfg,
		resvIndex: ReservationIndex(),
		logger:    cfg.Logger,
	}
	c.buildClients()
	return c
}

func (c *Controller) buildClients() {
	clientCfg := &client.Config{Timeout: c.cfg.RequestTimeout}
	c.tm = client.NewTMClient(c.cfg.TMURL, clientCfg)
	c.flights = client.NewRMClient(c.cfg.FlightsURL, clientCfg)
	c.hotels = client.NewRMClient(c.cfg.HotelsURL, clientCfg)
	c.cars = client.NewRMClient(c.cfg.CarsURL, clientCfg)
	c.customers = client.NewRMClient(c.cfg.CustomersURL, clientCfg)
	c.reservations = client.NewRMClient(c.cfg.ReservationsURL, clientCfg)
}

// Available reports whether the controller accepts requests. Die flips
// this off for failure-injection tests.
func (c *Controller) Available() bool { return !c.down.Load() }

// Die marks the controller unavailable.
func (c *Controller) Die() { c.down.Store(true) }

// Reconnect rebuilds the outbound clients and probes every endpoint,
// returning per-endpoint status. It also clears the Die flag.
func (c *Controller) Reconnect(ctx context.Context) map[string]string {
	c.buildClients()
	c.down.Store(false)
	status := make(map[string]string)
	probe := func(name string, err error) {
		if err != nil {
			status[name] = err.Error()
			return
		}
		status[name] = "ok"
	}
	probe("tm", c.tm.Health(ctx))
	probe("flights", c.flights.Health(ctx))
	probe("hotels", c.hotels.Health(ctx))
	probe("cars", c.cars.Health(ctx))
	probe("customers", c.customers.Health(ctx))
	probe("reservations", c.reservations.Health(ctx))
	return status
}

// fail applies the auto-abort policy to a downstream error: every
// failure under an active xid goes through this one path.
func (c *Controller) fail(ctx context.Context, xid string, err error) error {
	aborted := false
	if !c.cfg.DisableAutoAbort && xid != "" {
		if _, aerr := c.tm.Abort(ctx, xid); aerr != nil {
			c.logger.Warn("auto-abort failed", "xid", xid, "error", aerr)
		} else {
			aborted = true
		}
	}
	return &OpError{Err: err, TransactionAborted: aborted}
}

// Start opens a new global transaction.
func (c *Controller) Start(ctx context.Context) (string, error) {
	return c.tm.Start(ctx)
}

// Commit drives the transaction to its outcome. A TM-side IN_DOUBT or a
// client-facing timeout surfaces as IN_DOUBT; callers should poll
// Status until a terminal state appears.
func (c *Controller) Commit(ctx context.Context, xid string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommitTimeout)
	defer cancel()
	status, err := c.tm.Commit(cctx, xid)
	if err != nil {
		if errcode.Is(err, errcode.Timeout) {
			return "IN_DOUBT", nil
		}
		return "", err
	}
	return status, nil
}

// Abort rolls the transaction back.
func (c *Controller) Abort(ctx context.Context, xid string) (string, error) {
	return c.tm.Abort(ctx, xid)
}

// Status returns the TM's record for xid.
func (c *Controller) Status(ctx context.Context, xid string) (string, error) {
	return c.tm.Status(ctx, xid)
}

// ---------------------------------------------------------------------
// Flights
// ---------------------------------------------------------------------

// AddFlight creates a flight with all seats available.
func (c *Controller) AddFlight(ctx context.Context, xid, flightNum string, price, numSeats int64) error {
	fields := map[string]any{
		"flightNum": flightNum,
		"price":     price,
		"numSeats":  numSeats,
		"numAvail":  numSeats,
	}
	if err := c.flights.Add(ctx, xid, flightNum, fields); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}

// DeleteFlight removes a flight.
func (c *Controller) DeleteFlight(ctx context.Context, xid, flightNum string) error {
	if err := c.flights.Delete(ctx, xid, flightNum); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}

// QueryFlight reads a flight under xid.
func (c *Controller) QueryFlight(ctx context.Context, xid, flightNum string) (map[string]any, error) {
	rec, err := c.flights.Read(ctx, xid, flightNum)
	if err != nil {
		return nil, err
	}
	return rec.Fields, nil
}

// ReserveFlight books seats on a flight for a customer.
func (c *Controller) ReserveFlight(ctx context.Context, xid, custName, flightNum string, seats int64) error {
	return c.reserve(ctx, xid, c.flights, ResvFlight, custName, flightNum, seats)
}

// ---------------------------------------------------------------------
// Hotels
// ---------------------------------------------------------------------

// AddHotel creates a hotel location with all rooms available.
func (c *Controller) AddHotel(ctx context.Context, xid, location string, price, numRooms int64) error {
	fields := map[string]any{
		"location": location,
		"price":    price,
		"numRooms": numRooms,
		"numAvail": numRooms,
	}
	if err := c.hotels.Add(ctx, xid, location, fields); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}

// DeleteHotel removes a hotel location.
func (c *Controller) DeleteHotel(ctx context.Context, xid, location string) error {
	if err := c.hotels.Delete(ctx, xid, location); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}

// QueryHotel reads a hotel location under xid.
func (c *Controller) QueryHotel(ctx context.Context, xid, location string) (map[string]any, error) {
	rec, err := c.hotels.Read(ctx, xid, location)
	if err != nil {
		return nil, err
	}
	return rec.Fields, nil
}

// ReserveHotel books rooms at a location for a customer.
func (c *Controller) ReserveHotel(ctx context.Context, xid, custName, location string, rooms int64) error {
	return c.reserve(ctx, xid, c.hotels, ResvHotel, custName, location, rooms)
}

// ---------------------------------------------------------------------
// Cars
// ---------------------------------------------------------------------

// AddCar creates a car location with all cars available.
func (c *Controller) AddCar(ctx context.Context, xid, location string, price, numCars int64) error {
	fields := map[string]any{
		"location": location,
		"price":    price,
		"numCars":  numCars,
		"numAvail": numCars,
	}
	if err := c.cars.Add(ctx, xid, location, fields); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}

// DeleteCar removes a car location.
func (c *Controller) DeleteCar(ctx context.Context, xid, location string) error {
	if err := c.cars.Delete(ctx, xid, location); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}

// QueryCar reads a car location under xid.
func (c *Controller) QueryCar(ctx context.Context, xid, location string) (map[string]any, error) {
	rec, err := c.cars.Read(ctx, xid, location)
	if err != nil {
		return nil, err
	}
	return rec.Fields, nil
}

// ReserveCar books cars at a location for a customer.
func (c *Controller) ReserveCar(ctx context.Context, xid, custName, location string, cars int64) error {
	return c.reserve(ctx, xid, c.cars, ResvCar, custName, location, cars)
}

// ---------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------

// AddCustomer registers a customer.
func (c *Controller) AddCustomer(ctx context.Context, xid, custName string) error {
	fields := map[string]any{"custName": custName}
	if err := c.customers.Add(ctx, xid, custName, fields); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}

// DeleteCustomer removes a customer.
func (c *Controller) DeleteCustomer(ctx context.Context, xid, custName string) error {
	if err := c.customers.Delete(ctx, xid, custName); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}

// QueryCustomer reads a customer under xid.
func (c *Controller) QueryCustomer(ctx context.Context, xid, custName string) (map[string]any, error) {
	rec, err := c.customers.Read(ctx, xid, custName)
	if err != nil {
		return nil, err
	}
	return rec.Fields, nil
}

// QueryCustomerBill lists a customer's reservations.
func (c *Controller) QueryCustomerBill(ctx context.Context, xid, custName string) ([]map[string]any, error) {
	pageID, err := c.resvIndex.PagePrefix(custName)
	if err != nil {
		return nil, err
	}
	recs, err := c.reservations.Scan(ctx, xid, pageID)
	if err != nil {
		return nil, err
	}
	bill := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		bill = append(bill, rec.Fields)
	}
	return bill, nil
}

// ---------------------------------------------------------------------
// The reserve composite operation
// ---------------------------------------------------------------------

// reserve implements the core cross-participant contract: verify the
// customer, verify availability, decrement the inventory and insert the
// reservation record, all under one xid. Any failure goes through the
// auto-abort pipeline.
func (c *Controller) reserve(ctx context.Context, xid string, inventory *client.RMClient, resvType, custName, resvKey string, count int64) error {
	if count <= 0 {
		return c.fail(ctx, xid, errcode.New(errcode.InsufficientAvailability, resvKey,
			fmt.Sprintf("requested %d", count)))
	}

	if _, err := c.customers.Read(ctx, xid, custName); err != nil {
		return c.fail(ctx, xid, err)
	}

	item, err := inventory.Read(ctx, xid, resvKey)
	if err != nil {
		return c.fail(ctx, xid, err)
	}
	avail, ok := rm.FieldInt(item.Fields, "numAvail")
	if !ok {
		return c.fail(ctx, xid, errcode.New(errcode.InternalInvariant, resvKey, "record has no numAvail field"))
	}
	if avail < count {
		return c.fail(ctx, xid, errcode.New(errcode.InsufficientAvailability, resvKey,
			fmt.Sprintf("requested %d, available %d", count, avail)))
	}

	updates := map[string]any{"numAvail": avail - count}
	if err := inventory.Update(ctx, xid, resvKey, updates); err != nil {
		return c.fail(ctx, xid, err)
	}

	key, err := c.resvIndex.Encode(custName, resvType, resvKey)
	if err != nil {
		return c.fail(ctx, xid, err)
	}
	fields := map[string]any{
		"custName": custName,
		"resvType": resvType,
		"resvKey":  resvKey,
		"count":    count,
	}
	if err := c.reservations.Add(ctx, xid, key, fields); err != nil {
		return c.fail(ctx, xid, err)
	}
	return nil
}
