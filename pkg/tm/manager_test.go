package tm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeParticipant records 2PC verbs and simulates failures per endpoint.
type fakeParticipant struct {
	mu           sync.Mutex
	calls        []string
	prepareErr   map[string]error
	commitErr    map[string]error
	prepareDelay time.Duration
	commitDelay  time.Duration
}

func newFakeParticipant() *fakeParticipant {
	return &fakeParticipant{
		prepareErr: make(map[string]error),
		commitErr:  make(map[string]error),
	}
}

func (f *fakeParticipant) record(verb, endpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, verb+" "+endpoint)
}

func (f *fakeParticipant) count(verb, endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == verb+" "+endpoint {
			n++
		}
	}
	return n
}

func (f *fakeParticipant) Prepare(ctx context.Context, endpoint, xid string) error {
	if f.prepareDelay > 0 {
		select {
		case <-time.After(f.prepareDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.record("prepare", endpoint)
	return f.prepareErr[endpoint]
}

func (f *fakeParticipant) Commit(ctx context.Context, endpoint, xid string) error {
	if f.commitDelay > 0 {
		select {
		case <-time.After(f.commitDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.record("commit", endpoint)
	return f.commitErr[endpoint]
}

func (f *fakeParticipant) Abort(ctx context.Context, endpoint, xid string) error {
	f.record("abort", endpoint)
	return nil
}

func newTestManager(parts ParticipantClient) *Manager {
	cfg := DefaultConfig()
	cfg.RetryBase = time.Millisecond
	cfg.MaxRetries = 2
	cfg.PrepareTimeout = time.Second
	cfg.CommitTimeout = 5 * time.Second
	return NewManager(parts, cfg)
}

func TestCommitHappyPath(t *testing.T) {
	parts := newFakeParticipant()
	m := newTestManager(parts)
	ctx := context.Background()

	xid := m.Start()
	if state, ok := m.Status(xid); !ok || state != StateActive {
		t.Fatalf("Expected ACTIVE, got %v", state)
	}

	m.Enlist(xid, "http://rm1")
	m.Enlist(xid, "http://rm2")
	m.Enlist(xid, "http://rm1") // set semantics
	if n := len(m.Participants(xid)); n != 2 {
		t.Fatalf("Expected 2 participants, got %d", n)
	}

	state, err := m.Commit(ctx, xid)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if state != StateCommitted {
		t.Errorf("Expected COMMITTED, got %v", state)
	}
	for _, ep := range []string{"http://rm1", "http://rm2"} {
		if parts.count("prepare", ep) != 1 {
			t.Errorf("Expected one prepare at %s", ep)
		}
		if parts.count("commit", ep) != 1 {
			t.Errorf("Expected one commit at %s", ep)
		}
	}
}

func TestCommitAbortsOnPrepareFailure(t *testing.T) {
	parts := newFakeParticipant()
	parts.prepareErr["http://rm2"] = errors.New("prepare voted no")
	m := newTestManager(parts)
	ctx := context.Background()

	xid := m.Start()
	m.Enlist(xid, "http://rm1")
	m.Enlist(xid, "http://rm2")

	state, err := m.Commit(ctx, xid)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if state != StateAborted {
		t.Errorf("Expected ABORTED, got %v", state)
	}
	if parts.count("commit", "http://rm1") != 0 {
		t.Error("Expected no commit after prepare failure")
	}
	if parts.count("abort", "http://rm1") == 0 || parts.count("abort", "http://rm2") == 0 {
		t.Error("Expected abort broadcast to all participants")
	}
}

func TestCommitIdempotent(t *testing.T) {
	parts := newFakeParticipant()
	m := newTestManager(parts)
	ctx := context.Background()

	xid := m.Start()
	m.Enlist(xid, "http://rm1")
	if state, _ := m.Commit(ctx, xid); state != StateCommitted {
		t.Fatalf("Expected COMMITTED, got %v", state)
	}
	// A second commit returns the terminal state without new calls.
	state, err := m.Commit(ctx, xid)
	if err != nil {
		t.Fatalf("Repeated commit failed: %v", err)
	}
	if state != StateCommitted {
		t.Errorf("Expected COMMITTED, got %v", state)
	}
	if parts.count("commit", "http://rm1") != 1 {
		t.Errorf("Expected exactly one commit, got %d", parts.count("commit", "http://rm1"))
	}
}

func TestCommitUnknownXid(t *testing.T) {
	m := newTestManager(newFakeParticipant())
	if _, err := m.Commit(context.Background(), "no-such-xid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAbortUnknownXidIsNoOp(t *testing.T) {
	parts := newFakeParticipant()
	m := newTestManager(parts)

	state, err := m.Abort(context.Background(), "no-such-xid")
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if state != StateAborted {
		t.Errorf("Expected ABORTED, got %v", state)
	}
	if len(parts.calls) != 0 {
		t.Error("Expected no participant calls")
	}
}

func TestAbortAfterCommitKeepsTerminalState(t *testing.T) {
	parts := newFakeParticipant()
	m := newTestManager(parts)
	ctx := context.Background()

	xid := m.Start()
	m.Enlist(xid, "http://rm1")
	m.Commit(ctx, xid)

	state, err := m.Abort(ctx, xid)
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if state != StateCommitted {
		t.Errorf("Expected COMMITTED to stand, got %v", state)
	}
	if parts.count("abort", "http://rm1") != 0 {
		t.Error("Expected no abort broadcast after commit")
	}
}

func TestAbortIdempotent(t *testing.T) {
	parts := newFakeParticipant()
	m := newTestManager(parts)
	ctx := context.Background()

	xid := m.Start()
	m.Enlist(xid, "http://rm1")

	m.Abort(ctx, xid)
	m.Abort(ctx, xid)
	if parts.count("abort", "http://rm1") != 1 {
		t.Errorf("Expected one abort broadcast, got %d", parts.count("abort", "http://rm1"))
	}
}

func TestEnlistRules(t *testing.T) {
	m := newTestManager(newFakeParticipant())
	ctx := context.Background()

	if err := m.Enlist("no-such-xid", "http://rm1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	xid := m.Start()
	m.Abort(ctx, xid)
	if err := m.Enlist(xid, "http://rm1"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive, got %v", err)
	}
}

func TestCommitReportsInDoubtOnTimeout(t *testing.T) {
	parts := newFakeParticipant()
	parts.commitDelay = 500 * time.Millisecond
	cfg := DefaultConfig()
	cfg.RetryBase = time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	m := NewManager(parts, cfg)
	ctx := context.Background()

	xid := m.Start()
	m.Enlist(xid, "http://rm1")

	state, err := m.Commit(ctx, xid)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if state != StateInDoubt {
		t.Fatalf("Expected IN_DOUBT, got %v", state)
	}

	// The driver keeps running and reaches a terminal decision.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if s, _ := m.Status(xid); s == StateCommitted {
			break
		}
		if time.Now().After(deadline) {
			s, _ := m.Status(xid)
			t.Fatalf("Expected COMMITTED eventually, still %v", s)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAbortDuringPrepareStaysAborted(t *testing.T) {
	parts := newFakeParticipant()
	parts.prepareDelay = 300 * time.Millisecond
	cfg := DefaultConfig()
	cfg.RetryBase = time.Millisecond
	cfg.MaxRetries = 2
	cfg.CommitTimeout = 50 * time.Millisecond
	m := NewManager(parts, cfg)
	ctx := context.Background()

	xid := m.Start()
	m.Enlist(xid, "http://rm1")

	// The driver is still inside phase one when Commit gives up on
	// waiting for it.
	state, err := m.Commit(ctx, xid)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if state != StateInDoubt {
		t.Fatalf("Expected IN_DOUBT, got %v", state)
	}

	state, err = m.Abort(ctx, xid)
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if state != StateAborted {
		t.Fatalf("Expected ABORTED, got %v", state)
	}

	// Let the driver finish its prepare and observe the abort. The
	// terminal state must not flip and no commit may reach the
	// participant.
	time.Sleep(600 * time.Millisecond)
	if s, _ := m.Status(xid); s != StateAborted {
		t.Errorf("Expected ABORTED to stand, got %v", s)
	}
	if n := parts.count("commit", "http://rm1"); n != 0 {
		t.Errorf("Expected no commit delivery, got %d", n)
	}
	if parts.count("abort", "http://rm1") == 0 {
		t.Error("Expected abort broadcast to the participant")
	}
}

func TestCommitRetriesFailedBroadcast(t *testing.T) {
	ctx := context.Background()

	// Fail the first commit attempt, then succeed.
	var attempts int
	var mu sync.Mutex
	flaky := &flakyParticipant{fakeParticipant: newFakeParticipant(), failFirst: func() bool {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return attempts == 1
	}}
	m := newTestManager(flaky)

	xid := m.Start()
	m.Enlist(xid, "http://rm1")

	state, err := m.Commit(ctx, xid)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if state != StateCommitted {
		t.Errorf("Expected COMMITTED after retry, got %v", state)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts < 2 {
		t.Errorf("Expected at least 2 commit attempts, got %d", attempts)
	}
}

// flakyParticipant fails commit while failFirst reports true.
type flakyParticipant struct {
	*fakeParticipant
	failFirst func() bool
}

func (f *flakyParticipant) Commit(ctx context.Context, endpoint, xid string) error {
	if f.failFirst() {
		return errors.New("temporary network error")
	}
	return f.fakeParticipant.Commit(ctx, endpoint, xid)
}

func TestEventsPublishedOnTransitions(t *testing.T) {
	m := newTestManager(newFakeParticipant())
	events, cancel := m.Events().Subscribe()
	defer cancel()

	xid := m.Start()
	m.Enlist(xid, "http://rm1")
	if _, err := m.Commit(context.Background(), xid); err != nil {
		t.Fatal(err)
	}

	var seen []State
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-events:
			if ev.Xid == xid {
				seen = append(seen, ev.Status)
			}
		case <-timeout:
			t.Fatalf("Expected 3 events, got %v", seen)
		}
	}
	if seen[0] != StateActive || seen[1] != StatePreparing || seen[2] != StateCommitted {
		t.Errorf("Expected ACTIVE, PREPARING, COMMITTED, got %v", seen)
	}
}
