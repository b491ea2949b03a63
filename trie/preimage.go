package trie

import (
	"sync"

	"github.com/rwasm-project/rwasm/core/types"
)

// PreimageTracker stores hash->data mappings supplied by a caller that
// already knows the hash. The journaled trie uses it like this:
// UpdatePreimage is handed a value hash that was already written into a
// journal entry and a preimage the caller claims hashes to it, so there is
// nothing left to compute, only to store. Recording can be switched off
// entirely (the distinction debug and release builds of the toolchain make
// for preimage tracking).
type PreimageTracker struct {
	mu        sync.RWMutex
	preimages map[types.Hash][]byte
	enabled   bool
}

// NewPreimageTracker creates a preimage tracker with recording enabled.
func NewPreimageTracker() *PreimageTracker {
	return &PreimageTracker{
		preimages: make(map[types.Hash][]byte),
		enabled:   true,
	}
}

// SetEnabled enables or disables preimage recording. When disabled, Record
// is a no-op; Lookup/Size continue to serve whatever was recorded earlier.
func (pt *PreimageTracker) SetEnabled(enabled bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.enabled = enabled
}

// Record stores data under hash. Returns false without storing if tracking
// is disabled.
func (pt *PreimageTracker) Record(hash types.Hash, data []byte) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.enabled {
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	pt.preimages[hash] = cp
	return true
}

// Lookup returns the preimage for hash and whether it was found.
func (pt *PreimageTracker) Lookup(hash types.Hash) ([]byte, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	data, ok := pt.preimages[hash]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true
}

// Size returns the byte length of the preimage stored under hash, or 0 if
// none is recorded.
func (pt *PreimageTracker) Size(hash types.Hash) int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.preimages[hash])
}

// Clear removes every staged preimage, used once a Commit has flushed them
// to durable storage.
func (pt *PreimageTracker) Clear() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.preimages = make(map[types.Hash][]byte)
}

// All returns a copy of every staged hash->preimage mapping, used by Commit
// to flush preimages to the backing store.
func (pt *PreimageTracker) All() map[types.Hash][]byte {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make(map[types.Hash][]byte, len(pt.preimages))
	for h, data := range pt.preimages {
		cp := make([]byte, len(data))
		copy(cp, data)
		out[h] = cp
	}
	return out
}
