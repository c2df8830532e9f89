package rm

import (
	"sort"
	"sync"
)

// RowLockManager provides per-key exclusive locks owned by transaction
// ids. Locks are acquired only during prepare, in sorted key order, and
// released on commit, abort or prepare rollback.
type RowLockManager struct {
	mu     sync.Mutex
	owners map[string]string // key -> xid
}

// NewRowLockManager creates an empty lock table.
func NewRowLockManager() *RowLockManager {
	return &RowLockManager{owners: make(map[string]string)}
}

// TryLock attempts to acquire the lock for key on behalf of xid without
// blocking. Re-acquisition by the owning xid is a no-op success.
func (lm *RowLockManager) TryLock(xid, key string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	owner, held := lm.owners[key]
	if !held {
		lm.owners[key] = xid
		return true
	}
	return owner == xid
}

// ReleaseAll releases every key owned by xid.
func (lm *RowLockManager) ReleaseAll(xid string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for key, owner := range lm.owners {
		if owner == xid {
			delete(lm.owners, key)
		}
	}
}

// Owner returns the xid holding key, if any.
func (lm *RowLockManager) Owner(key string) (string, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	owner, held := lm.owners[key]
	return owner, held
}

// HeldBy returns the sorted set of keys locked by xid.
func (lm *RowLockManager) HeldBy(xid string) []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	var keys []string
	for key, owner := range lm.owners {
		if owner == xid {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
