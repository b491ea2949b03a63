// journal.go implements the journaled trie: a shared key->value store
// with logical checkpoints, rollback, commit, a preimage index, and a log
// buffer. Compiled rWASM programs reference this abstraction through host
// calls for persistent storage reads/writes and log emission.
package trie

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rwasm-project/rwasm/core/types"
	"github.com/rwasm-project/rwasm/log"
)

// ErrStorageCommit wraps a Storage.Update/Remove failure encountered while
// flushing pending journal entries to the backing store during Commit.
var ErrStorageCommit = errors.New("trie: storage commit failed")

// Checkpoint is an opaque handle capturing journal and log buffer lengths
// at the moment it was taken; its only operation is to be handed back to
// Rollback.
type Checkpoint struct {
	JournalLen uint32
	LogsLen    uint32
}

type journalEntryKind uint8

const (
	entryChanged journalEntryKind = iota
	entryRemoved
)

// journalEntry is one pending mutation. prevState is the index of the
// immediately preceding journal entry for the same key, or -1 if there was
// none, enabling O(1) rollback chains per key.
type journalEntry struct {
	kind      journalEntryKind
	key       types.Hash
	values    []types.Hash
	flags     uint32
	prevState int
}

// JournaledTrie is a key->value store with pending (journaled) mutations
// layered over committed Storage. All operations are logically
// single-threaded; thread-safety is provided by a single RWMutex wrapping
// the interior: reads take the read lock, every mutation (including
// Preimage/PreimageSize, which stage no new data but still touch the
// shared staged preimage map) takes the write lock.
type JournaledTrie struct {
	mu sync.RWMutex

	storage   Storage
	state     map[types.Hash]int // key -> index into journal of its most recent entry
	preimages *PreimageTracker   // staged preimages, flushed to storage on Commit
	logs      []types.Log
	journal   []journalEntry

	logger *log.Logger
}

// NewJournaledTrie creates a journaled trie layered over storage.
func NewJournaledTrie(storage Storage) *JournaledTrie {
	return &JournaledTrie{
		storage:   storage,
		state:     make(map[types.Hash]int),
		preimages: NewPreimageTracker(),
		logger:    log.Default().Module("journaled-trie"),
	}
}

// Checkpoint returns a handle to the current journal and log positions.
func (t *JournaledTrie) Checkpoint() Checkpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Checkpoint{JournalLen: uint32(len(t.journal)), LogsLen: uint32(len(t.logs))}
}

// Get composes the current view of key from pending journal entries over
// committed storage. isCold is true when the value was served straight
// from committed storage with no pending entry. found is false both when
// the key has never been written and when its most recent pending entry
// is a removal.
func (t *JournaledTrie) Get(key types.Hash) (values []types.Hash, flags uint32, isCold bool, found bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLocked(key)
}

func (t *JournaledTrie) getLocked(key types.Hash) (values []types.Hash, flags uint32, isCold bool, found bool) {
	if idx, ok := t.state[key]; ok {
		e := t.journal[idx]
		if e.kind == entryRemoved {
			return nil, 0, false, false
		}
		return e.values, e.flags, false, true
	}
	values, flags, ok := t.storage.Get(key)
	if !ok {
		return nil, 0, false, false
	}
	return values, flags, true, true
}

// Update appends an ItemChanged journal entry for key and makes it the
// current view.
func (t *JournaledTrie) Update(key types.Hash, values []types.Hash, flags uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := -1
	if idx, ok := t.state[key]; ok {
		prev = idx
	}
	t.journal = append(t.journal, journalEntry{
		kind:      entryChanged,
		key:       key,
		values:    append([]types.Hash(nil), values...),
		flags:     flags,
		prevState: prev,
	})
	t.state[key] = len(t.journal) - 1
}

// Remove appends an ItemRemoved journal entry for key.
func (t *JournaledTrie) Remove(key types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := -1
	if idx, ok := t.state[key]; ok {
		prev = idx
	}
	t.journal = append(t.journal, journalEntry{kind: entryRemoved, key: key, prevState: prev})
	t.state[key] = len(t.journal) - 1
}

// EmitLog appends a contract log to the pending log buffer.
func (t *JournaledTrie) EmitLog(address types.Address, topics []types.Hash, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = append(t.logs, types.Log{Address: address, Topics: topics, Data: data})
}

// UpdatePreimage stages a preimage whose hash must equal the fieldIdx-th
// value word stored under key. Returns false when key has no such field
// (nothing staged in that case).
func (t *JournaledTrie) UpdatePreimage(key types.Hash, fieldIdx uint32, preimage []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	values, _, _, found := t.getLocked(key)
	if !found || int(fieldIdx) >= len(values) {
		return false
	}
	return t.preimages.Record(values[fieldIdx], preimage)
}

// Preimage resolves a preimage by hash, preferring a staged copy over one
// already committed to storage.
func (t *JournaledTrie) Preimage(hash types.Hash) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if data, ok := t.preimages.Lookup(hash); ok {
		return data
	}
	data, _ := t.storage.GetPreimage(hash)
	return data
}

// PreimageSize returns the byte length of the preimage for hash.
func (t *JournaledTrie) PreimageSize(hash types.Hash) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if data, ok := t.preimages.Lookup(hash); ok {
		return uint32(len(data))
	}
	return uint32(t.storage.PreimageSize(hash))
}

// ComputeRoot returns the read-only root of committed storage (pending
// journal entries are not reflected until Commit).
func (t *JournaledTrie) ComputeRoot() types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.storage.ComputeRoot()
}

// Commit flushes every key with a pending journal entry to storage (the
// *last* pending entry per key wins), flushes staged preimages, clears
// the journal/preimages/logs, and recomputes the Merkle root.
func (t *JournaledTrie) Commit() (types.Hash, []types.Log, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := time.Now()

	last := make(map[types.Hash]journalEntry, len(t.journal))
	for _, e := range t.journal {
		last[e.key] = e
	}
	for key, e := range last {
		var err error
		switch e.kind {
		case entryChanged:
			err = t.storage.Update(key, e.values, e.flags)
		case entryRemoved:
			err = t.storage.Remove(key)
		}
		if err != nil {
			return types.Hash{}, nil, fmt.Errorf("%w: %v", ErrStorageCommit, err)
		}
	}
	for hash, data := range t.preimages.All() {
		t.storage.UpdatePreimage(hash, data)
	}

	logs := t.logs
	t.journal = nil
	t.state = make(map[types.Hash]int)
	t.preimages.Clear()
	t.logs = nil

	root := t.storage.ComputeRoot()
	t.logger.Info("commit", "keys", len(last), "logs", len(logs), "elapsed_ms", time.Since(start).Milliseconds())
	return root, logs, nil
}

// Rollback truncates the journal and log buffers to checkpoint, restoring
// state[key] to each truncated entry's prev_state (or removing key from
// state if prev_state was none). Panics if checkpoint is longer than the
// current journal, i.e. it was taken before a Commit cleared the journal
// out from under it -- a programmer error, not a runtime condition.
func (t *JournaledTrie) Rollback(cp Checkpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(cp.JournalLen) > len(t.journal) {
		panic(fmt.Sprintf("trie: checkpoint overflow during rollback (%d > %d)", cp.JournalLen, len(t.journal)))
	}
	if int(cp.LogsLen) > len(t.logs) {
		panic(fmt.Sprintf("trie: checkpoint overflow during rollback (%d > %d)", cp.LogsLen, len(t.logs)))
	}

	for i := len(t.journal) - 1; i >= int(cp.JournalLen); i-- {
		e := t.journal[i]
		if e.prevState >= 0 {
			t.state[e.key] = e.prevState
		} else {
			delete(t.state, e.key)
		}
	}
	removed := len(t.journal) - int(cp.JournalLen)
	t.journal = t.journal[:cp.JournalLen]
	t.logs = t.logs[:cp.LogsLen]

	t.logger.Info("rollback", "entries_reverted", removed, "journal_len", len(t.journal))
}

// JournalLength returns the number of pending journal entries.
func (t *JournaledTrie) JournalLength() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.journal)
}

// TouchedKeys returns every key with a pending journal entry.
func (t *JournaledTrie) TouchedKeys() []types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]types.Hash, 0, len(t.state))
	for k := range t.state {
		keys = append(keys, k)
	}
	return keys
}
