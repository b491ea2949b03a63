package trie

import "sync"

// CheckpointTracker records named checkpoints against a JournaledTrie for
// debugging and CLI diagnostics: checkpoint count, journal length, and
// the touched-key set. It carries no account or block model; it is
// trie-generic.
type CheckpointTracker struct {
	mu          sync.Mutex
	trie        *JournaledTrie
	checkpoints map[string]Checkpoint
	order       []string
	rollbacks   int
}

// NewCheckpointTracker creates a tracker bound to trie.
func NewCheckpointTracker(trie *JournaledTrie) *CheckpointTracker {
	return &CheckpointTracker{
		trie:        trie,
		checkpoints: make(map[string]Checkpoint),
	}
}

// Mark records a named checkpoint at the trie's current journal position,
// overwriting any prior checkpoint with the same name.
func (ct *CheckpointTracker) Mark(name string) Checkpoint {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	cp := ct.trie.Checkpoint()
	if _, exists := ct.checkpoints[name]; !exists {
		ct.order = append(ct.order, name)
	}
	ct.checkpoints[name] = cp
	return cp
}

// RollbackTo reverts the trie to the named checkpoint and invalidates every
// checkpoint recorded after it. Returns false if name was never marked.
func (ct *CheckpointTracker) RollbackTo(name string) (Checkpoint, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	cp, ok := ct.checkpoints[name]
	if !ok {
		return Checkpoint{}, false
	}
	ct.trie.Rollback(cp)
	ct.rollbacks++

	idx := -1
	for i, n := range ct.order {
		if n == name {
			idx = i
			break
		}
	}
	if idx >= 0 {
		for _, n := range ct.order[idx+1:] {
			delete(ct.checkpoints, n)
		}
		ct.order = ct.order[:idx+1]
	}
	return cp, true
}

// CheckpointCount returns the number of live named checkpoints.
func (ct *CheckpointTracker) CheckpointCount() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.checkpoints)
}

// Rollbacks returns the number of rollbacks performed through this tracker.
func (ct *CheckpointTracker) Rollbacks() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.rollbacks
}
