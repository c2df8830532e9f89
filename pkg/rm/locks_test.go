package rm

import "testing"

func TestTryLockConflict(t *testing.T) {
	lm := NewRowLockManager()

	if !lm.TryLock("tx1", "k1") {
		t.Fatal("Expected tx1 to acquire k1")
	}
	if lm.TryLock("tx2", "k1") {
		t.Error("Expected tx2 to be refused k1")
	}
	if !lm.TryLock("tx2", "k2") {
		t.Error("Expected tx2 to acquire k2")
	}
}

func TestTryLockReentrant(t *testing.T) {
	lm := NewRowLockManager()

	lm.TryLock("tx1", "k1")
	if !lm.TryLock("tx1", "k1") {
		t.Error("Expected re-acquisition by the owner to succeed")
	}
}

func TestReleaseAll(t *testing.T) {
	lm := NewRowLockManager()

	lm.TryLock("tx1", "k1")
	lm.TryLock("tx1", "k2")
	lm.TryLock("tx2", "k3")

	lm.ReleaseAll("tx1")

	if !lm.TryLock("tx2", "k1") {
		t.Error("Expected k1 to be free after release")
	}
	if owner, held := lm.Owner("k3"); !held || owner != "tx2" {
		t.Error("Expected tx2 to still hold k3")
	}
}

func TestHeldBy(t *testing.T) {
	lm := NewRowLockManager()

	lm.TryLock("tx1", "b")
	lm.TryLock("tx1", "a")
	lm.TryLock("tx2", "c")

	keys := lm.HeldBy("tx1")
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Expected [a b], got %v", keys)
	}
	if len(lm.HeldBy("tx3")) != 0 {
		t.Error("Expected no keys for unknown xid")
	}
}
