package rm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/itineradb/itinera/pkg/errcode"
	"github.com/itineradb/itinera/pkg/metrics"
)

// Enlister registers this resource manager as a participant of a global
// transaction. The HTTP client implementation talks to the transaction
// manager's enlist endpoint.
type Enlister interface {
	Enlist(ctx context.Context, xid, endpoint string) error
}

// Config configures one resource manager instance.
type Config struct {
	// Table is the logical resource this RM owns (e.g. FLIGHTS).
	Table string
	// Endpoint is this RM's externally reachable base URL, reported to
	// the transaction manager on enlistment.
	Endpoint string
	// JournalPath is the prepare journal file. Required.
	JournalPath string
	// PoolCapacity bounds the committed page cache (default 64 pages).
	PoolCapacity int
	// Enlister is optional; without it the RM runs standalone (local
	// transactions driven directly via Prepare/Commit/Abort).
	Enlister Enlister
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// ResourceManager is a per-table storage engine offering CRUD under
// snapshot-like isolation. Writes go to per-transaction shadow records;
// prepare acquires row locks in sorted key order, validates semantics
// and versions against the committed view, and journals the prepared
// state durably; commit merges the shadow at observed-version+1 and
// pages the result out to the backend store.
type ResourceManager struct {
	cfg     Config
	index   PageIndex
	io      PageIO
	pool    *CommittedPagePool
	shadows *ShadowRecordPool
	locks   *RowLockManager
	journal *PrepareJournal
	logger  *slog.Logger
	metrics *metrics.Collector

	// mu serializes transaction lifecycle transitions (prepare, commit,
	// abort, recover). Record-level operations rely on the pools' own
	// locks.
	mu sync.Mutex
}

// New creates a resource manager and replays its prepare journal, so a
// restarted process resumes with every prepared transaction's locks and
// shadow intact.
func New(cfg Config, index PageIndex, io PageIO) (*ResourceManager, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("rm: table name is required")
	}
	if cfg.JournalPath == "" {
		return nil, fmt.Errorf("rm: journal path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	journal, err := OpenPrepareJournal(cfg.JournalPath)
	if err != nil {
		return nil, err
	}
	m := &ResourceManager{
		cfg:     cfg,
		index:   index,
		io:      io,
		pool:    NewCommittedPagePool(cfg.PoolCapacity),
		shadows: NewShadowRecordPool(),
		locks:   NewRowLockManager(),
		journal: journal,
		logger:  cfg.Logger.With("table", cfg.Table),
		metrics: cfg.Metrics,
	}
	if err := m.recover(); err != nil {
		return nil, err
	}
	return m, nil
}

// Table returns the logical resource name.
func (m *ResourceManager) Table() string { return m.cfg.Table }

// PageIndex returns the index strategy in use.
func (m *ResourceManager) PageIndex() PageIndex { return m.index }

// PoolStats exposes committed pool statistics.
func (m *ResourceManager) PoolStats() map[string]any { return m.pool.Stats() }

// ActiveTransactions returns the number of xids with local state.
func (m *ResourceManager) ActiveTransactions() int { return m.shadows.ActiveCount() }

// PreparedTransactions returns the xids currently in the prepared phase.
func (m *ResourceManager) PreparedTransactions() []string { return m.shadows.PreparedXids() }

// LockOwner reports which xid holds the lock for a raw key, if any.
func (m *ResourceManager) LockOwner(key string) (string, bool) {
	norm, err := m.index.Normalize(key)
	if err != nil {
		return "", false
	}
	return m.locks.Owner(norm)
}

// committedRecord returns the committed record for a normalized key,
// loading the key's page on demand. Returns nil when the key has never
// been committed.
func (m *ResourceManager) committedRecord(ctx context.Context, key string) (*Record, error) {
	page, err := m.ensurePage(ctx, m.index.PageID(key))
	if err != nil {
		return nil, err
	}
	return page.Get(key), nil
}

func (m *ResourceManager) ensurePage(ctx context.Context, pageID string) (*Page, error) {
	if page := m.pool.Get(pageID); page != nil {
		return page, nil
	}
	page, err := m.io.PageIn(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordPageIn()
	}
	m.pool.Put(pageID, page)
	return page, nil
}

// effective returns the record visible to xid for a normalized key:
// shadow wins over committed. The committed observation is recorded on
// first touch.
func (m *ResourceManager) effective(ctx context.Context, st *txnState, key string) (*Record, error) {
	if sh, ok := st.shadow[key]; ok {
		return sh, nil
	}
	committed, err := m.committedRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	st.observe(key, committed)
	return committed, nil
}

// Read returns the record visible to xid. With an empty xid the read
// sees only committed state and observes nothing.
func (m *ResourceManager) Read(ctx context.Context, xid, key string) (*Record, error) {
	rec, err := m.read(ctx, xid, key)
	if m.metrics != nil {
		m.metrics.RecordRead(err == nil)
	}
	return rec, err
}

func (m *ResourceManager) read(ctx context.Context, xid, key string) (*Record, error) {
	norm, err := m.index.Normalize(key)
	if err != nil {
		return nil, errcode.New(errcode.KeyNotFound, key, err.Error())
	}
	var rec *Record
	if xid == "" {
		rec, err = m.committedRecord(ctx, norm)
	} else {
		rec, err = m.effective(ctx, m.shadows.getOrCreate(xid), norm)
	}
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, errcode.New(errcode.KeyNotFound, key, "")
	}
	return rec.Clone(), nil
}

// Add inserts a record under xid. Fails with KEY_EXISTS when the
// effective record is present. No locks are taken; conflicts surface at
// prepare.
func (m *ResourceManager) Add(ctx context.Context, xid, key string, fields map[string]any) error {
	err := m.add(ctx, xid, key, fields)
	if m.metrics != nil {
		m.metrics.RecordWrite(err == nil)
	}
	return err
}

func (m *ResourceManager) add(ctx context.Context, xid, key string, fields map[string]any) error {
	norm, err := m.index.Normalize(key)
	if err != nil {
		return errcode.New(errcode.InternalInvariant, key, err.Error())
	}
	st := m.shadows.getOrCreate(xid)
	if st.phase != phaseActive {
		return errcode.New(errcode.InternalInvariant, key, "write after prepare")
	}
	eff, err := m.effective(ctx, st, norm)
	if err != nil {
		return err
	}
	if eff != nil && !eff.Deleted {
		return errcode.New(errcode.KeyExists, key, "")
	}
	if err := m.enlist(ctx, xid, st); err != nil {
		return err
	}
	st.shadow[norm] = &Record{
		Key:     norm,
		Fields:  cloneFields(fields),
		Version: st.startVersion[norm],
		Deleted: false,
	}
	return nil
}

// Update merges a patch into the effective record under xid. Fails with
// KEY_NOT_FOUND when the effective record is absent.
func (m *ResourceManager) Update(ctx context.Context, xid, key string, patch map[string]any) error {
	err := m.update(ctx, xid, key, patch)
	if m.metrics != nil {
		m.metrics.RecordWrite(err == nil)
	}
	return err
}

func (m *ResourceManager) update(ctx context.Context, xid, key string, patch map[string]any) error {
	norm, err := m.index.Normalize(key)
	if err != nil {
		return errcode.New(errcode.KeyNotFound, key, err.Error())
	}
	st := m.shadows.getOrCreate(xid)
	if st.phase != phaseActive {
		return errcode.New(errcode.InternalInvariant, key, "write after prepare")
	}
	eff, err := m.effective(ctx, st, norm)
	if err != nil {
		return err
	}
	if eff == nil || eff.Deleted {
		return errcode.New(errcode.KeyNotFound, key, "")
	}
	if err := m.enlist(ctx, xid, st); err != nil {
		return err
	}
	merged := cloneFields(eff.Fields)
	if merged == nil {
		merged = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		merged[k] = v
	}
	st.shadow[norm] = &Record{
		Key:     norm,
		Fields:  merged,
		Version: st.startVersion[norm],
		Deleted: false,
	}
	return nil
}

// Delete writes a shadow tombstone under xid. Fails with KEY_NOT_FOUND
// when the effective record is absent.
func (m *ResourceManager) Delete(ctx context.Context, xid, key string) error {
	err := m.del(ctx, xid, key)
	if m.metrics != nil {
		m.metrics.RecordWrite(err == nil)
	}
	return err
}

func (m *ResourceManager) del(ctx context.Context, xid, key string) error {
	norm, err := m.index.Normalize(key)
	if err != nil {
		return errcode.New(errcode.KeyNotFound, key, err.Error())
	}
	st := m.shadows.getOrCreate(xid)
	if st.phase != phaseActive {
		return errcode.New(errcode.InternalInvariant, key, "write after prepare")
	}
	eff, err := m.effective(ctx, st, norm)
	if err != nil {
		return err
	}
	if eff == nil || eff.Deleted {
		return errcode.New(errcode.KeyNotFound, key, "")
	}
	if err := m.enlist(ctx, xid, st); err != nil {
		return err
	}
	st.shadow[norm] = &Record{
		Key:     norm,
		Version: st.startVersion[norm],
		Deleted: true,
	}
	return nil
}

// ScanPage returns the records of one page visible to xid, sorted by
// key. Tombstones are filtered out. Used for prefix listings such as a
// customer's reservations.
func (m *ResourceManager) ScanPage(ctx context.Context, xid, pageID string) ([]*Record, error) {
	page, err := m.ensurePage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]*Record, len(page.Records))
	for key, rec := range page.Records {
		merged[key] = rec
	}
	if xid != "" {
		if st := m.shadows.get(xid); st != nil {
			for key, sh := range st.shadow {
				if m.index.PageID(key) == pageID {
					merged[key] = sh
				}
			}
		}
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]*Record, 0, len(keys))
	for _, key := range keys {
		if rec := merged[key]; !rec.Deleted {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// enlist registers this RM with the transaction manager on the first
// mutation under xid.
func (m *ResourceManager) enlist(ctx context.Context, xid string, st *txnState) error {
	if st.enlisted || m.cfg.Enlister == nil {
		return nil
	}
	if err := m.cfg.Enlister.Enlist(ctx, xid, m.cfg.Endpoint); err != nil {
		return fmt.Errorf("enlist with transaction manager: %w", err)
	}
	st.enlisted = true
	return nil
}

// Prepare is phase one of 2PC: lock every shadow key in sorted order,
// validate the shadow against the current committed state, then journal
// the prepared snapshot durably. Any failure releases everything and
// returns the first error; a transaction with an empty shadow prepares
// as a no-op holding no locks.
func (m *ResourceManager) Prepare(ctx context.Context, xid string) error {
	err := m.prepare(ctx, xid)
	if m.metrics != nil {
		m.metrics.RecordPrepare(err == nil)
	}
	return err
}

func (m *ResourceManager) prepare(ctx context.Context, xid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.shadows.get(xid)
	if st == nil || len(st.shadow) == 0 {
		return nil
	}
	if st.phase == phasePrepared {
		return nil
	}

	keys := make([]string, 0, len(st.shadow))
	for key := range st.shadow {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Sorted acquisition order rules out lock cycles across xids.
	for _, key := range keys {
		if !m.locks.TryLock(xid, key) {
			m.locks.ReleaseAll(xid)
			if m.metrics != nil {
				m.metrics.RecordLockConflict()
			}
			return errcode.New(errcode.LockConflict, key, "")
		}
	}

	var pinned []string
	fail := func(err error) error {
		for _, pageID := range pinned {
			m.pool.Unpin(pageID)
		}
		m.locks.ReleaseAll(xid)
		return err
	}

	for _, key := range keys {
		pageID := m.index.PageID(key)
		if _, err := m.ensurePage(ctx, pageID); err != nil {
			return fail(err)
		}
		m.pool.Pin(pageID)
		pinned = append(pinned, pageID)

		committed, err := m.committedRecord(ctx, key)
		if err != nil {
			return fail(err)
		}
		curVersion, curDeleted := uint64(0), true
		if committed != nil {
			curVersion, curDeleted = committed.Version, committed.Deleted
		}
		if st.baseDeleted[key] && !curDeleted {
			return fail(errcode.New(errcode.KeyExists, key, "committed by another transaction"))
		}
		if !st.baseDeleted[key] && curDeleted {
			return fail(errcode.New(errcode.KeyNotFound, key, "removed by another transaction"))
		}
		if curVersion != st.startVersion[key] {
			if m.metrics != nil {
				m.metrics.RecordVersionConflict()
			}
			return fail(errcode.New(errcode.VersionConflict, key,
				fmt.Sprintf("observed version %d, committed version %d", st.startVersion[key], curVersion)))
		}
	}

	entry := &JournalEntry{
		Xid:          xid,
		Shadow:       st.shadow,
		StartVersion: st.startVersion,
		HeldKeys:     keys,
	}
	if err := m.journal.Append(entry); err != nil {
		return fail(errcode.New(errcode.InternalInvariant, "", "journal write failed: "+err.Error()))
	}

	st.heldKeys = keys
	st.pinnedPages = pinned
	st.phase = phasePrepared
	m.logger.Info("transaction prepared", "xid", xid, "keys", len(keys))
	return nil
}

// Commit merges the prepared shadow into the committed pool, with each
// modified key's version becoming observed-version+1, pages the result
// out to the backend, releases locks and clears the journal entry.
// Committing an unknown xid is an idempotent no-op; a backend failure
// leaves the transaction prepared so the caller can retry.
func (m *ResourceManager) Commit(ctx context.Context, xid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.shadows.get(xid)
	if st == nil {
		// Already finished, or nothing ever happened here.
		return m.journal.Remove(xid)
	}
	if len(st.shadow) == 0 {
		m.finish(xid, st)
		return m.journal.Remove(xid)
	}
	if st.phase != phasePrepared {
		return errcode.New(errcode.InternalInvariant, "", "commit before prepare")
	}

	byPage := make(map[string][]string)
	for key := range st.shadow {
		pageID := m.index.PageID(key)
		byPage[pageID] = append(byPage[pageID], key)
	}
	pageIDs := make([]string, 0, len(byPage))
	for pageID := range byPage {
		pageIDs = append(pageIDs, pageID)
	}
	sort.Strings(pageIDs)

	for _, pageID := range pageIDs {
		page, err := m.ensurePage(ctx, pageID)
		if err != nil {
			return err
		}
		next := page.Clone()
		for _, key := range byPage[pageID] {
			newVersion := st.startVersion[key] + 1
			// Re-applying after a crash mid-commit must not move
			// versions backwards.
			if cur := next.Get(key); cur != nil && cur.Version >= newVersion {
				continue
			}
			sh := st.shadow[key]
			next.Put(&Record{
				Key:     key,
				Fields:  cloneFields(sh.Fields),
				Version: newVersion,
				Deleted: sh.Deleted,
			})
		}
		if err := m.io.PageOut(ctx, pageID, next); err != nil {
			m.logger.Error("page out failed, transaction stays prepared", "xid", xid, "page", pageID, "error", err)
			return err
		}
		if m.metrics != nil {
			m.metrics.RecordPageOut()
		}
		m.pool.Put(pageID, next)
	}

	m.finish(xid, st)
	if err := m.journal.Remove(xid); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordTxnCommitted()
	}
	m.logger.Info("transaction committed", "xid", xid, "keys", len(st.shadow))
	return nil
}

// Abort discards the shadow, releases locks and clears the journal
// entry. Legal from any phase and idempotent.
func (m *ResourceManager) Abort(ctx context.Context, xid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.shadows.get(xid)
	if st == nil {
		return m.journal.Remove(xid)
	}
	m.finish(xid, st)
	if err := m.journal.Remove(xid); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordTxnAborted()
	}
	m.logger.Info("transaction aborted", "xid", xid)
	return nil
}

// finish releases all per-xid resources. Caller holds m.mu.
func (m *ResourceManager) finish(xid string, st *txnState) {
	for _, pageID := range st.pinnedPages {
		m.pool.Unpin(pageID)
	}
	m.locks.ReleaseAll(xid)
	m.shadows.remove(xid)
}

// recover replays the prepare journal: every prepared transaction gets
// its shadow, observed versions and row locks back, so the transaction
// manager can still drive a deterministic decision after a crash.
func (m *ResourceManager) recover() error {
	entries := m.journal.Entries()
	for _, entry := range entries {
		st := newTxnState()
		st.shadow = entry.Shadow
		st.startVersion = entry.StartVersion
		st.heldKeys = entry.HeldKeys
		st.phase = phasePrepared
		st.enlisted = true
		for _, key := range entry.HeldKeys {
			if !m.locks.TryLock(entry.Xid, key) {
				owner, _ := m.locks.Owner(key)
				return errcode.New(errcode.InternalInvariant, key,
					fmt.Sprintf("recovered lock already held by %s", owner))
			}
		}
		m.shadows.put(entry.Xid, st)
		m.logger.Info("recovered prepared transaction", "xid", entry.Xid, "keys", len(entry.Shadow))
	}
	if len(entries) > 0 {
		m.logger.Info("journal replay complete", "prepared", len(entries))
	}
	return nil
}
