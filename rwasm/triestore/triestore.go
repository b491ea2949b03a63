// Package triestore persists journaled-trie nodes to disk with
// github.com/cockroachdb/pebble. It implements trie.NodeReader /
// trie.NodeWriter so a *Store can sit directly under a trie.NodeDatabase.
package triestore

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rwasm-project/rwasm/core/types"
	"github.com/rwasm-project/rwasm/trie"
)

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("triestore: store is closed")

// nodeKeyPrefix namespaces trie node keys within the pebble instance, so a
// single on-disk database can later carry other key spaces (e.g.
// preimages) without collision.
var nodeKeyPrefix = []byte("n")

// Store is an on-disk trie node store backed by a pebble key-value
// database. It satisfies both trie.NodeReader and trie.NodeWriter, so it
// can be handed to trie.NewNodeDatabase as the disk layer directly.
type Store struct {
	db     *pebble.DB
	closed bool
}

// Open opens (creating if absent) a pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("triestore: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func nodeKey(hash types.Hash) []byte {
	key := make([]byte, len(nodeKeyPrefix)+len(hash))
	copy(key, nodeKeyPrefix)
	copy(key[len(nodeKeyPrefix):], hash[:])
	return key
}

// Node implements trie.NodeReader: it looks up the RLP-encoded node stored
// under hash, returning trie.ErrNodeNotFound if absent.
func (s *Store) Node(hash types.Hash) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	val, closer, err := s.db.Get(nodeKey(hash))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, trie.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("triestore: get: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Put implements trie.NodeWriter: it stores data under hash, fsync-free
// (callers batch many Put calls per NodeDatabase.Commit, then rely on
// pebble's WAL for durability; Flush forces a sync point).
func (s *Store) Put(hash types.Hash, data []byte) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.db.Set(nodeKey(hash), data, pebble.NoSync); err != nil {
		return fmt.Errorf("triestore: set: %w", err)
	}
	return nil
}

// Batch accumulates Put calls for one atomic pebble write.
type Batch struct {
	store *Store
	batch *pebble.Batch
}

// NewBatch opens a new write batch against the store.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, batch: s.db.NewBatch()}
}

// Put stages a node write in the batch.
func (b *Batch) Put(hash types.Hash, data []byte) {
	_ = b.batch.Set(nodeKey(hash), data, nil)
}

// Commit applies every staged write atomically.
func (b *Batch) Commit() error {
	if b.store.closed {
		return ErrClosed
	}
	if err := b.batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("triestore: batch commit: %w", err)
	}
	return nil
}

// Flush forces a durable sync of everything written so far.
func (s *Store) Flush() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.db.Flush(); err != nil {
		return fmt.Errorf("triestore: flush: %w", err)
	}
	return nil
}

// Close releases the underlying pebble database.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var (
	_ trie.NodeReader = (*Store)(nil)
	_ trie.NodeWriter = (*Store)(nil)
)

// OpenStateDB assembles the full disk-backed storage stack for a journaled
// trie in one call: a pebble Store at dir, a trie.NodeDatabase reading
// committed nodes through it, and a trie.TrieStateDB on top. The returned
// Store is the same one wired under the state DB; callers hand it to
// NodeDatabase.Commit (or use Flush/Close) when persisting.
func OpenStateDB(dir string) (*trie.TrieStateDB, *Store, error) {
	store, err := Open(dir)
	if err != nil {
		return nil, nil, err
	}
	return trie.NewTrieStateDB(trie.NewNodeDatabase(store)), store, nil
}
