package trie

import (
	"bytes"
	"testing"

	"github.com/rwasm-project/rwasm/core/types"
)

func bytes32(s string) types.Hash {
	var h types.Hash
	copy(h[:], s)
	return h
}

func refRoot(t *testing.T, entries map[types.Hash][]types.Hash, flags map[types.Hash]uint32) types.Hash {
	t.Helper()
	db := NewTrieStateDB(nil)
	for k, v := range entries {
		if err := db.Update(k, v, flags[k]); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	return db.ComputeRoot()
}

// TestCommitMultipleValues commits two keys, then a third, comparing the
// root each time against a trie built directly from the same pairs.
func TestCommitMultipleValues(t *testing.T) {
	db := NewTrieStateDB(nil)
	jt := NewJournaledTrie(db)

	key1, key2, key3 := bytes32("key1"), bytes32("key2"), bytes32("key3")
	val1, val2, val3 := bytes32("val1"), bytes32("val2"), bytes32("val3")

	jt.Update(key1, []types.Hash{val1}, 0)
	jt.Update(key2, []types.Hash{val2}, 1)
	if _, _, err := jt.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	want := refRoot(t,
		map[types.Hash][]types.Hash{key1: {val1}, key2: {val2}},
		map[types.Hash]uint32{key2: 1})
	if got := jt.ComputeRoot(); got != want {
		t.Fatalf("root after first commit = %x, want %x", got, want)
	}

	jt.Update(key3, []types.Hash{val3}, 0)
	if _, _, err := jt.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	want = refRoot(t,
		map[types.Hash][]types.Hash{key1: {val1}, key2: {val2}, key3: {val3}},
		map[types.Hash]uint32{key2: 1})
	if got := jt.ComputeRoot(); got != want {
		t.Fatalf("root after second commit = %x, want %x", got, want)
	}
}

// TestPreimageUpdateAndCheck mirrors test_code_preimage_update_and_check:
// a preimage staged before commit is visible immediately and survives the
// commit (invariant 7: preimage preference).
func TestPreimageUpdateAndCheck(t *testing.T) {
	jt := NewJournaledTrie(NewTrieStateDB(nil))

	addr1 := bytes32("address1")
	code1 := []byte{1, 2, 3, 4, 5, 6}
	code1Hash := bytes32("codehash1")

	fields := make([]types.Hash, 4)
	fields[2] = code1Hash
	jt.Update(addr1, fields, 12)

	if !jt.UpdatePreimage(addr1, 2, code1) {
		t.Fatalf("UpdatePreimage returned false")
	}
	if got := jt.Preimage(code1Hash); !bytes.Equal(got, code1) {
		t.Fatalf("Preimage before commit = %x, want %x", got, code1)
	}
	if _, _, err := jt.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := jt.Preimage(code1Hash); !bytes.Equal(got, code1) {
		t.Fatalf("Preimage after commit = %x, want %x", got, code1)
	}
	if size := jt.PreimageSize(code1Hash); size != uint32(len(code1)) {
		t.Fatalf("PreimageSize = %d, want %d", size, len(code1))
	}
}

// TestUpdatePreimageUnknownField rejects a field index beyond the stored
// value words.
func TestUpdatePreimageUnknownField(t *testing.T) {
	jt := NewJournaledTrie(NewTrieStateDB(nil))
	key := bytes32("key")
	jt.Update(key, []types.Hash{bytes32("v0")}, 0)
	if jt.UpdatePreimage(key, 5, []byte("nope")) {
		t.Fatalf("UpdatePreimage should fail for an out-of-range field")
	}
	if jt.UpdatePreimage(bytes32("missing"), 0, []byte("nope")) {
		t.Fatalf("UpdatePreimage should fail for an unknown key")
	}
}

// TestCommitAndRollback mirrors test_commit_and_rollback (S4/S5 scenarios
// and invariant 6: intermediate same-key updates within one checkpoint
// don't affect the post-rollback root).
func TestCommitAndRollback(t *testing.T) {
	jt := NewJournaledTrie(NewTrieStateDB(nil))
	key1, key2 := bytes32("key1"), bytes32("key2")
	val1, val2 := bytes32("val1"), bytes32("val2")

	jt.Update(key1, []types.Hash{val1}, 0)
	jt.Update(key2, []types.Hash{val2}, 1)
	if _, _, err := jt.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	baseline := jt.ComputeRoot()

	cp := jt.Checkpoint()
	jt.Update(bytes32("key3"), []types.Hash{bytes32("val3")}, 0)
	jt.Rollback(cp)
	if n := len(jt.TouchedKeys()); n != 0 {
		t.Fatalf("TouchedKeys after rollback = %d, want 0", n)
	}
	if got := jt.ComputeRoot(); got != baseline {
		t.Fatalf("root after rollback = %x, want %x", got, baseline)
	}

	cp = jt.Checkpoint()
	jt.Update(key2, []types.Hash{bytes32("Hello, World")}, 0)
	jt.Rollback(cp)
	if n := len(jt.TouchedKeys()); n != 0 {
		t.Fatalf("TouchedKeys after second rollback = %d, want 0", n)
	}
	if got := jt.ComputeRoot(); got != baseline {
		t.Fatalf("root after second rollback = %x, want %x", got, baseline)
	}
}

// TestRollbackToEmpty mirrors test_rollback_to_empty: rolling all the way
// back to the zero checkpoint on an empty trie is a no-op on the root.
func TestRollbackToEmpty(t *testing.T) {
	jt := NewJournaledTrie(NewTrieStateDB(nil))
	emptyRootVal := jt.ComputeRoot()

	cp := jt.Checkpoint()
	jt.Update(bytes32("key1"), []types.Hash{bytes32("val1")}, 0)
	jt.Update(bytes32("key2"), []types.Hash{bytes32("val2")}, 1)
	jt.Rollback(cp)
	if got := jt.ComputeRoot(); got != emptyRootVal {
		t.Fatalf("root after rollback = %x, want empty root %x", got, emptyRootVal)
	}
	if n := len(jt.TouchedKeys()); n != 0 {
		t.Fatalf("TouchedKeys = %d, want 0", n)
	}

	cp = jt.Checkpoint()
	jt.Update(bytes32("key3"), []types.Hash{bytes32("val3")}, 0)
	jt.Update(bytes32("key4"), []types.Hash{bytes32("val4")}, 1)
	jt.Rollback(cp)
	if got := jt.ComputeRoot(); got != emptyRootVal {
		t.Fatalf("root after second rollback = %x, want empty root %x", got, emptyRootVal)
	}
}

// TestRollbackIdempotence covers invariant 5: rolling back twice to the
// same checkpoint is a no-op the second time.
func TestRollbackIdempotence(t *testing.T) {
	jt := NewJournaledTrie(NewTrieStateDB(nil))
	jt.Update(bytes32("key1"), []types.Hash{bytes32("val1")}, 0)
	cp := jt.Checkpoint()
	jt.Update(bytes32("key2"), []types.Hash{bytes32("val2")}, 0)

	jt.Rollback(cp)
	afterFirst := jt.JournalLength()
	jt.Rollback(cp)
	if jt.JournalLength() != afterFirst {
		t.Fatalf("second rollback to the same checkpoint changed journal length: %d -> %d", afterFirst, jt.JournalLength())
	}
}

// TestRollbackOverflowPanics covers the "programmer error, not a runtime
// condition" contract: rolling back to a checkpoint newer than the
// current journal panics rather than erroring.
func TestRollbackOverflowPanics(t *testing.T) {
	jt := NewJournaledTrie(NewTrieStateDB(nil))
	cp := Checkpoint{JournalLen: 5}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on checkpoint overflow")
		}
	}()
	jt.Rollback(cp)
}

// TestGetRemovedIsNotFound checks that a key journaled as removed reads as
// not-found rather than surfacing the tombstone entry.
func TestGetRemovedIsNotFound(t *testing.T) {
	jt := NewJournaledTrie(NewTrieStateDB(nil))
	key := bytes32("key1")
	jt.Update(key, []types.Hash{bytes32("val1")}, 0)
	if _, _, err := jt.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, _, isCold, found := jt.Get(key); !found || !isCold {
		t.Fatalf("Get after commit: found=%v isCold=%v, want true/true", found, isCold)
	}

	jt.Remove(key)
	if _, _, isCold, found := jt.Get(key); found || isCold {
		t.Fatalf("Get after journaled remove: found=%v isCold=%v, want false/false", found, isCold)
	}
}

// TestCheckpointTracker exercises the named-checkpoint introspection
// surface.
func TestCheckpointTracker(t *testing.T) {
	jt := NewJournaledTrie(NewTrieStateDB(nil))
	ct := NewCheckpointTracker(jt)

	ct.Mark("genesis")
	jt.Update(bytes32("k1"), []types.Hash{bytes32("v1")}, 0)
	ct.Mark("tx1")
	jt.Update(bytes32("k2"), []types.Hash{bytes32("v2")}, 0)

	if ct.CheckpointCount() != 2 {
		t.Fatalf("CheckpointCount = %d, want 2", ct.CheckpointCount())
	}
	if _, ok := ct.RollbackTo("tx1"); !ok {
		t.Fatalf("RollbackTo(tx1) failed")
	}
	if jt.JournalLength() != 1 {
		t.Fatalf("JournalLength after rollback = %d, want 1", jt.JournalLength())
	}
	if ct.CheckpointCount() != 2 {
		t.Fatalf("CheckpointCount after rollback = %d, want 2 (tx1 still live)", ct.CheckpointCount())
	}
	if ct.Rollbacks() != 1 {
		t.Fatalf("Rollbacks = %d, want 1", ct.Rollbacks())
	}
}
