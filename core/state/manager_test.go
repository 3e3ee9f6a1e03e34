package state

import (
	"errors"
	"math/big"
	"testing"

	"exchangefunds/storage"
	"exchangefunds/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr)
}

type storedRecord struct {
	Owner  uint64
	Amount *big.Int
	Tags   []string
}

func TestManagerKVRoundTrip(t *testing.T) {
	manager := newTestManager(t)

	key := []byte("record/1")
	if err := manager.KVPut(key, &storedRecord{Owner: 7, Amount: big.NewInt(1_000), Tags: []string{"a"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got storedRecord
	ok, err := manager.KVGet(key, &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if got.Owner != 7 || got.Amount.Cmp(big.NewInt(1_000)) != 0 || len(got.Tags) != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := manager.KVDelete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = manager.KVGet(key, &got)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected record to be removed")
	}
	if _, err := manager.KVGet(nil, &got); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestManagerNextIDIncrementsPerSequence(t *testing.T) {
	manager := newTestManager(t)

	peek, err := manager.PeekID("exchange")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if peek != 1 {
		t.Fatalf("expected first id to be 1, got %d", peek)
	}
	for want := uint64(1); want <= 3; want++ {
		id, err := manager.NextID("exchange")
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		if id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
	}
	id, err := manager.NextID("account")
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if id != 1 {
		t.Fatalf("sequences must be independent, got %d", id)
	}
	if _, err := manager.NextID(""); err == nil {
		t.Fatalf("expected unnamed sequence to be rejected")
	}
}

func TestManagerAtomicRollsBackOnError(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.KVPut([]byte("balance"), big.NewInt(10)); err != nil {
		t.Fatalf("put: %v", err)
	}
	before := manager.Root()

	failure := errors.New("transfer failed")
	err := manager.Atomic(func() error {
		if err := manager.KVPut([]byte("balance"), big.NewInt(0)); err != nil {
			return err
		}
		if _, err := manager.NextID("exchange"); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure to propagate, got %v", err)
	}
	if manager.Root() != before {
		t.Fatalf("expected state root to be restored")
	}
	balance := new(big.Int)
	if _, err := manager.KVGet([]byte("balance"), balance); err != nil {
		t.Fatalf("get: %v", err)
	}
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected balance 10 after rollback, got %s", balance)
	}
	if id, _ := manager.PeekID("exchange"); id != 1 {
		t.Fatalf("expected sequence rollback, next id %d", id)
	}
}

func TestManagerAtomicRollsBackOnPanic(t *testing.T) {
	manager := newTestManager(t)
	before := manager.Root()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = manager.Atomic(func() error {
			if err := manager.KVPut([]byte("escrow"), big.NewInt(5)); err != nil {
				return err
			}
			panic("invariant violated")
		})
	}()
	if manager.Root() != before {
		t.Fatalf("expected state root to be restored after panic")
	}
}

func TestManagerNestedAtomicJoinsOuter(t *testing.T) {
	manager := newTestManager(t)
	before := manager.Root()

	err := manager.Atomic(func() error {
		if err := manager.Atomic(func() error {
			return manager.KVPut([]byte("inner"), uint64(1))
		}); err != nil {
			return err
		}
		return errors.New("outer failed")
	})
	if err == nil {
		t.Fatalf("expected outer failure")
	}
	if manager.Root() != before {
		t.Fatalf("inner writes must be discarded with the outer transition")
	}
}

func TestManagerCommitPersistsRoot(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.KVPut([]byte("k"), uint64(3)); err != nil {
		t.Fatalf("put: %v", err)
	}
	pending := manager.Root()
	root, err := manager.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if root != pending {
		t.Fatalf("committed root %s differs from pending %s", root.Hex(), pending.Hex())
	}
	var got uint64
	if ok, err := manager.KVGet([]byte("k"), &got); err != nil || !ok || got != 3 {
		t.Fatalf("expected value after commit, ok=%v err=%v got=%d", ok, err, got)
	}
}
