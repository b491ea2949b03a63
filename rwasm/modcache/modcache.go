// Package modcache caches finalized rWASM programs keyed by the Keccak256
// hash of their source WASM bytes, so re-translating an already-seen
// module is a cache lookup instead of a full Compiler.Translate/Finalize
// pass. Backed by github.com/VictoriaMetrics/fastcache rather than a
// hand-rolled LRU.
package modcache

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/rwasm-project/rwasm/core/types"
	"github.com/rwasm-project/rwasm/crypto"
)

// Cache is a fixed-size, concurrency-safe byte cache of finalized rWASM
// programs. fastcache manages its own eviction internally (a bucketed
// approximation of LRU); Cache only needs to translate between (source
// bytes) and (cache key, cached program).
type Cache struct {
	inner *fastcache.Cache

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache sized to approximately maxBytes of cached program
// data (fastcache rounds this up to its own bucket granularity).
func New(maxBytes int) *Cache {
	return &Cache{inner: fastcache.New(maxBytes)}
}

// Key returns the cache key for sourceWasm: its Keccak256 hash.
func Key(sourceWasm []byte) types.Hash {
	return crypto.Keccak256Hash(sourceWasm)
}

// Get returns the cached finalized program for sourceWasm, if present.
func (c *Cache) Get(sourceWasm []byte) ([]byte, bool) {
	key := Key(sourceWasm)
	out, ok := c.inner.HasGet(nil, key[:])
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return out, ok
}

// Put stores program under the cache key derived from sourceWasm.
func (c *Cache) Put(sourceWasm []byte, program []byte) {
	key := Key(sourceWasm)
	c.inner.Set(key[:], program)
}

// Stats mirrors fastcache's own counters alongside this wrapper's
// hit/miss tallies, for the metrics package to export.
type Stats struct {
	Hits        uint64
	Misses      uint64
	EntriesSize uint64
	BytesSize   uint64
}

// Stats reports cumulative hit/miss counts and the underlying fastcache
// size.
func (c *Cache) Stats() Stats {
	var fs fastcache.Stats
	c.inner.UpdateStats(&fs)
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		EntriesSize: fs.EntriesCount,
		BytesSize:   fs.BytesSize,
	}
}

// Reset clears every cached program.
func (c *Cache) Reset() {
	c.inner.Reset()
	c.hits.Store(0)
	c.misses.Store(0)
}
