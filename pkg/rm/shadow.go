package rm

import "sync"

// txnPhase is the per-xid lifecycle inside one resource manager.
type txnPhase int

const (
	phaseActive txnPhase = iota
	phasePrepared
)

// txnState carries everything one transaction has done against this RM:
// its shadow records, the committed versions it observed on first touch,
// and, once prepared, the keys it locked and the pages it pinned.
type txnState struct {
	shadow       map[string]*Record
	startVersion map[string]uint64
	baseDeleted  map[string]bool
	heldKeys     []string
	pinnedPages  []string
	phase        txnPhase
	enlisted     bool
}

func newTxnState() *txnState {
	return &txnState{
		shadow:       make(map[string]*Record),
		startVersion: make(map[string]uint64),
		baseDeleted:  make(map[string]bool),
	}
}

// observe records the committed state of key at first touch. Later
// touches keep the original observation, which is what OCC validates
// against at prepare time.
func (st *txnState) observe(key string, committed *Record) {
	if _, seen := st.startVersion[key]; seen {
		return
	}
	if committed == nil {
		st.startVersion[key] = 0
		st.baseDeleted[key] = true
		return
	}
	st.startVersion[key] = committed.Version
	st.baseDeleted[key] = committed.Deleted
}

// ShadowRecordPool owns the per-transaction state of one resource
// manager. Shadow records are invisible to every other xid until commit
// merges them into the committed pool.
type ShadowRecordPool struct {
	mu   sync.Mutex
	txns map[string]*txnState
}

// NewShadowRecordPool creates an empty pool.
func NewShadowRecordPool() *ShadowRecordPool {
	return &ShadowRecordPool{txns: make(map[string]*txnState)}
}

func (p *ShadowRecordPool) get(xid string) *txnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txns[xid]
}

func (p *ShadowRecordPool) getOrCreate(xid string) *txnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.txns[xid]
	if !ok {
		st = newTxnState()
		p.txns[xid] = st
	}
	return st
}

func (p *ShadowRecordPool) remove(xid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.txns, xid)
}

func (p *ShadowRecordPool) put(xid string, st *txnState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txns[xid] = st
}

// ActiveCount returns the number of transactions with local state.
func (p *ShadowRecordPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txns)
}

// PreparedXids returns the ids of transactions in the prepared phase.
func (p *ShadowRecordPool) PreparedXids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var xids []string
	for xid, st := range p.txns {
		if st.phase == phasePrepared {
			xids = append(xids, xid)
		}
	}
	return xids
}
