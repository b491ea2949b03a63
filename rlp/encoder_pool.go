// encoder_pool.go provides a pooled RLP encoder for the journaled trie's
// hot path: TrieStateDB.Update RLP-encodes a storageRecord on every write
// through EncoderPool, whose running metrics make that path observable.
// Each call still allocates its result through EncodeToBytes; the pooled
// scratch buffer is not written to.
package rlp

import "sync"

// defaultBufSize is the initial capacity for a pooled encoder's scratch
// buffer. Unused today (EncodeBytes does not need a scratch buffer of its
// own, since EncodeToBytes already builds the result), kept only as the
// pool's New hook baseline so a future batch-encoding path has a sized
// buffer to start from instead of growing from zero.
const defaultBufSize = 256

// EncoderMetrics tracks encoder pool usage for monitoring.
type EncoderMetrics struct {
	// PoolHits counts every buffer EncodeBytes takes from the pool,
	// including freshly allocated ones that PoolMisses also counts.
	PoolHits int64
	// PoolMisses counts how many times a new buffer was allocated.
	PoolMisses int64
	// TotalEncodes counts the total number of encode operations.
	TotalEncodes int64
	// TotalBytes counts the total bytes of RLP output produced.
	TotalBytes int64
}

// EncoderPool pools scratch buffers for repeated storageRecord encoding
// and tracks aggregate throughput for callers that want to observe it
// (e.g. a future rwasmc --print-rwasm-bytes-style diagnostic flag).
type EncoderPool struct {
	mu      sync.Mutex
	pool    sync.Pool
	metrics EncoderMetrics
}

// NewEncoderPool creates an encoder pool with default buffer sizing.
func NewEncoderPool() *EncoderPool {
	ep := &EncoderPool{}
	ep.pool.New = func() interface{} {
		ep.mu.Lock()
		ep.metrics.PoolMisses++
		ep.mu.Unlock()
		buf := make([]byte, 0, defaultBufSize)
		return &buf
	}
	return ep
}

// Metrics returns a point-in-time copy of the pool's usage counters.
func (ep *EncoderPool) Metrics() EncoderMetrics {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.metrics
}

// EncodeBytes encodes val with the standard reflective encoder, counting
// the call and its output size against the pool's metrics. The scratch
// buffer pool exists for parity with a batch-encoding path this package
// does not need yet; today's callers (TrieStateDB.Update) encode one
// storageRecord at a time, so this wrapper's only job beyond EncodeToBytes
// is bookkeeping.
func (ep *EncoderPool) EncodeBytes(val interface{}) ([]byte, error) {
	bufp := ep.pool.Get().(*[]byte)
	defer ep.pool.Put(bufp)
	*bufp = (*bufp)[:0]

	ep.mu.Lock()
	ep.metrics.PoolHits++
	ep.mu.Unlock()

	result, err := EncodeToBytes(val)
	if err != nil {
		return nil, err
	}
	ep.mu.Lock()
	ep.metrics.TotalEncodes++
	ep.metrics.TotalBytes += int64(len(result))
	ep.mu.Unlock()
	return result, nil
}
