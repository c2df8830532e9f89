// Package tm implements the global transaction coordinator: xid
// allocation, participant tracking and the two-phase commit driver.
package tm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/itineradb/itinera/pkg/metrics"
)

// State is the coordinator-side transaction state.
type State string

const (
	StateActive    State = "ACTIVE"
	StatePreparing State = "PREPARING"
	StateCommitted State = "COMMITTED"
	StateAborted   State = "ABORTED"
	// StateInDoubt is reported to callers when the commit driver exceeds
	// its budget. It is never stored: the driver keeps running and the
	// local record ends up COMMITTED or ABORTED.
	StateInDoubt State = "IN_DOUBT"
)

// ErrNotFound is returned for unknown transaction ids.
var ErrNotFound = errors.New("transaction not found")

// ErrNotActive is returned when enlisting into a transaction that has
// left the ACTIVE state.
var ErrNotActive = errors.New("transaction is not active")

// ParticipantClient drives 2PC verbs against one participant endpoint.
type ParticipantClient interface {
	Prepare(ctx context.Context, endpoint, xid string) error
	Commit(ctx context.Context, endpoint, xid string) error
	Abort(ctx context.Context, endpoint, xid string) error
}

// Config tunes the commit driver.
type Config struct {
	// PrepareTimeout bounds each participant prepare call.
	PrepareTimeout time.Duration
	// CommitTimeout bounds the whole commit driver before the caller is
	// told IN_DOUBT. The driver itself keeps running.
	CommitTimeout time.Duration
	// RetryBase is the first backoff step for commit/abort broadcasts.
	RetryBase time.Duration
	// MaxRetries bounds broadcast retries per participant.
	MaxRetries uint64
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		PrepareTimeout: 3 * time.Second,
		CommitTimeout:  10 * time.Second,
		RetryBase:      100 * time.Millisecond,
		MaxRetries:     6,
	}
}

type txn struct {
	state        State
	participants []string
}

// Manager keeps global transaction state behind a single mutex. All
// outbound 2PC calls happen outside the mutex against a snapshot of the
// participant list.
type Manager struct {
	mu    sync.Mutex
	txns  map[string]*txn
	parts ParticipantClient
	cfg   Config

	events  *EventHub
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewManager creates a coordinator.
func NewManager(parts ParticipantClient, cfg Config) *Manager {
	if cfg.PrepareTimeout == 0 {
		cfg.PrepareTimeout = DefaultConfig().PrepareTimeout
	}
	if cfg.CommitTimeout == 0 {
		cfg.CommitTimeout = DefaultConfig().CommitTimeout
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		txns:    make(map[string]*txn),
		parts:   parts,
		cfg:     cfg,
		events:  NewEventHub(),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Events exposes the transaction event hub for watch subscribers.
func (m *Manager) Events() *EventHub { return m.events }

// Start allocates a globally unique transaction id.
func (m *Manager) Start() string {
	xid := uuid.NewString()
	m.mu.Lock()
	m.txns[xid] = &txn{state: StateActive}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordTxnStarted()
	}
	m.events.Publish(Event{Xid: xid, Status: StateActive, Time: time.Now()})
	return xid
}

// Enlist adds a participant endpoint to an active transaction. Set
// semantics: re-enlisting the same endpoint is a no-op.
func (m *Manager) Enlist(xid, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[xid]
	if !ok {
		return ErrNotFound
	}
	if t.state != StateActive {
		return ErrNotActive
	}
	for _, p := range t.participants {
		if p == endpoint {
			return nil
		}
	}
	t.participants = append(t.participants, endpoint)
	return nil
}

// Status returns the local state for xid.
func (m *Manager) Status(xid string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[xid]
	if !ok {
		return "", false
	}
	return t.state, true
}

// Participants returns a copy of the participant list for xid.
func (m *Manager) Participants(xid string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[xid]
	if !ok {
		return nil
	}
	return append([]string(nil), t.participants...)
}

// Commit drives two-phase commit. Terminal states are returned
// idempotently; a driver that outlives CommitTimeout reports IN_DOUBT
// to the caller while the decision continues in the background.
func (m *Manager) Commit(ctx context.Context, xid string) (State, error) {
	m.mu.Lock()
	t, ok := m.txns[xid]
	if !ok {
		m.mu.Unlock()
		return "", ErrNotFound
	}
	switch t.state {
	case StateCommitted, StateAborted:
		state := t.state
		m.mu.Unlock()
		return state, nil
	case StatePreparing:
		// Another caller's driver is running; its outcome stands.
		m.mu.Unlock()
		return StateInDoubt, nil
	}
	t.state = StatePreparing
	participants := append([]string(nil), t.participants...)
	m.mu.Unlock()

	m.events.Publish(Event{Xid: xid, Status: StatePreparing, Time: time.Now()})

	done := make(chan State, 1)
	go func() { done <- m.drive(xid, participants) }()

	timer := time.NewTimer(m.cfg.CommitTimeout)
	defer timer.Stop()
	select {
	case state := <-done:
		return state, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if m.metrics != nil {
		m.metrics.RecordTxnInDoubt()
	}
	m.logger.Warn("commit driver still running, reporting in doubt", "xid", xid)
	return StateInDoubt, nil
}

// drive runs both 2PC phases to completion, detached from the caller's
// deadline so the decision is always reached.
func (m *Manager) drive(xid string, participants []string) State {
	ctx := context.Background()

	// Phase 1: prepare in stable order. The first failure decides abort.
	for _, endpoint := range participants {
		pctx, cancel := context.WithTimeout(ctx, m.cfg.PrepareTimeout)
		err := m.parts.Prepare(pctx, endpoint, xid)
		cancel()
		if err != nil {
			m.logger.Info("prepare failed, aborting globally", "xid", xid, "participant", endpoint, "error", err)
			m.broadcastAbort(ctx, xid, participants)
			m.casState(xid, StatePreparing, StateAborted)
			return StateAborted
		}
	}

	// The commit point. A concurrent Abort may have won during phase
	// one; its terminal state stands, and participants that prepared
	// after its broadcast get a second abort.
	if !m.casState(xid, StatePreparing, StateCommitted) {
		m.logger.Info("abort won during prepare, rolling back", "xid", xid)
		m.broadcastAbort(ctx, xid, participants)
		return StateAborted
	}

	// Phase 2: every participant acknowledged prepare and the decision
	// is recorded; participants must not unilaterally abort. Broadcast
	// with backoff until each acknowledges.
	g, gctx := errgroup.WithContext(ctx)
	for _, endpoint := range participants {
		endpoint := endpoint
		g.Go(func() error {
			return m.withBackoff(gctx, func(c context.Context) error {
				return m.parts.Commit(c, endpoint, xid)
			})
		})
	}
	if err := g.Wait(); err != nil {
		// Prepared state is durable at the participant; the decision
		// stands and operators can re-drive commit.
		m.logger.Error("commit broadcast gave up on a participant", "xid", xid, "error", err)
	}
	if m.metrics != nil {
		m.metrics.RecordTxnCommitted()
	}
	return StateCommitted
}

// Abort transitions to ABORTED and broadcasts abort to all
// participants. Idempotent; unknown xids and committed transactions
// return their terminal state without side effects.
func (m *Manager) Abort(ctx context.Context, xid string) (State, error) {
	m.mu.Lock()
	t, ok := m.txns[xid]
	if !ok {
		// Aborting an unknown xid is a safe no-op: this is the operator
		// recovery path after a coordinator restart.
		m.mu.Unlock()
		return StateAborted, nil
	}
	if t.state == StateCommitted {
		m.mu.Unlock()
		return StateCommitted, nil
	}
	alreadyAborted := t.state == StateAborted
	t.state = StateAborted
	participants := append([]string(nil), t.participants...)
	m.mu.Unlock()

	if !alreadyAborted {
		m.broadcastAbort(ctx, xid, participants)
		if m.metrics != nil {
			m.metrics.RecordTxnAborted()
		}
		m.events.Publish(Event{Xid: xid, Status: StateAborted, Time: time.Now()})
	}
	return StateAborted, nil
}

func (m *Manager) broadcastAbort(ctx context.Context, xid string, participants []string) {
	g, gctx := errgroup.WithContext(ctx)
	for _, endpoint := range participants {
		endpoint := endpoint
		g.Go(func() error {
			err := m.withBackoff(gctx, func(c context.Context) error {
				return m.parts.Abort(c, endpoint, xid)
			})
			if err != nil {
				m.logger.Error("abort broadcast gave up on a participant", "xid", xid, "participant", endpoint, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// withBackoff retries fn with exponential backoff up to MaxRetries.
func (m *Manager) withBackoff(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(m.cfg.MaxRetries, retry.NewExponential(m.cfg.RetryBase))
	return retry.Do(ctx, b, func(c context.Context) error {
		if err := fn(c); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// casState transitions xid from one state to another. Terminal states
// set by a concurrent caller are never overwritten.
func (m *Manager) casState(xid string, from, to State) bool {
	m.mu.Lock()
	t, ok := m.txns[xid]
	if !ok || t.state != from {
		m.mu.Unlock()
		return false
	}
	t.state = to
	m.mu.Unlock()
	m.events.Publish(Event{Xid: xid, Status: to, Time: time.Now()})
	return true
}
