package trie

import (
	"sync"

	"github.com/rwasm-project/rwasm/core/types"
	"github.com/rwasm-project/rwasm/rlp"
)

// Storage is the backing store a JournaledTrie commits into and reads
// cold (un-journaled) values from. TrieStateDB is the only implementation
// in this repository; the interface exists so tests can substitute a bare
// in-memory map without dragging in the full Merkle trie.
type Storage interface {
	// Get returns the value words and flags committed under key.
	Get(key types.Hash) (values []types.Hash, flags uint32, ok bool)
	// Update commits value words and flags under key.
	Update(key types.Hash, values []types.Hash, flags uint32) error
	// Remove deletes key from committed storage.
	Remove(key types.Hash) error
	// ComputeRoot returns the current Merkle root of committed storage.
	ComputeRoot() types.Hash
	// GetPreimage returns a durably stored preimage for hash.
	GetPreimage(hash types.Hash) ([]byte, bool)
	// UpdatePreimage durably stores a preimage for hash.
	UpdatePreimage(hash types.Hash, data []byte)
	// PreimageSize returns the byte length of the durable preimage for
	// hash, or 0 if none is stored.
	PreimageSize(hash types.Hash) int
}

// storageRecord is the RLP encoding of one committed key's value: a flags
// word followed by the ordered list of 32-byte value words.
type storageRecord struct {
	Flags  uint64
	Values [][]byte
}

// TrieStateDB backs a JournaledTrie with the module's Merkle Patricia
// trie (trie.Trie) plus a reference-counted node database for committed
// nodes and a PreimageTracker for durably stored preimages: a generic
// trie wrapped to speak the (key, values, flags) vocabulary the journaled
// trie needs instead of raw trie.Get/Put byte strings.
type TrieStateDB struct {
	mu        sync.Mutex
	tr        *Trie
	db        *RefCountDB
	preimages *PreimageTracker
	enc       *rlp.EncoderPool
	prevRoot  types.Hash
}

// NewTrieStateDB creates an empty TrieStateDB. db may be nil for a
// memory-only trie with no node persistence. A non-nil db is wrapped in a
// RefCountDB: every commit references the nodes it touches, and every
// commit after the first dereferences the root it is superseding, so
// CollectGarbage can reclaim nodes from state no longer reachable from the
// current root.
func NewTrieStateDB(db *NodeDatabase) *TrieStateDB {
	var refdb *RefCountDB
	if db != nil {
		refdb = NewRefCountDB(db)
	}
	return &TrieStateDB{
		tr:        New(),
		db:        refdb,
		preimages: NewPreimageTracker(),
		enc:       rlp.NewEncoderPool(),
	}
}

// EncoderMetrics returns this state DB's storageRecord encoding throughput,
// for diagnostic reporting.
func (s *TrieStateDB) EncoderMetrics() rlp.EncoderMetrics {
	return s.enc.Metrics()
}

func (s *TrieStateDB) Get(key types.Hash) ([]types.Hash, uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.tr.Get(key[:])
	if err != nil || len(raw) == 0 {
		return nil, 0, false
	}
	var rec storageRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, 0, false
	}
	values := make([]types.Hash, len(rec.Values))
	for i, v := range rec.Values {
		values[i] = types.BytesToHash(v)
	}
	return values, uint32(rec.Flags), true
}

func (s *TrieStateDB) Update(key types.Hash, values []types.Hash, flags uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := storageRecord{Flags: uint64(flags), Values: make([][]byte, len(values))}
	for i, v := range values {
		rec.Values[i] = v.Bytes()
	}
	enc, err := s.enc.EncodeBytes(rec)
	if err != nil {
		return err
	}
	return s.tr.Put(key[:], enc)
}

func (s *TrieStateDB) Remove(key types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Delete(key[:])
}

func (s *TrieStateDB) ComputeRoot() types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		root, err := CommitTrie(s.tr, s.db)
		if err == nil {
			if s.prevRoot != (types.Hash{}) && s.prevRoot != root {
				s.db.Dereference(s.prevRoot)
			}
			s.prevRoot = root
			return root
		}
	}
	return s.tr.Hash()
}

// CollectGarbage reclaims every node the backing RefCountDB has observed
// reach zero references (typically a prior ComputeRoot's now-superseded
// root and any subtree unique to it). A no-op on a memory-only
// TrieStateDB (db == nil).
func (s *TrieStateDB) CollectGarbage() (nodesRemoved int, bytesFreed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, 0
	}
	return s.db.CollectGarbage()
}

// GCStats reports the backing RefCountDB's current node/reference
// bookkeeping. Returns the zero value on a memory-only TrieStateDB.
func (s *TrieStateDB) GCStats() RefCountStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return RefCountStats{}
	}
	return s.db.Stats()
}

func (s *TrieStateDB) GetPreimage(hash types.Hash) ([]byte, bool) {
	return s.preimages.Lookup(hash)
}

func (s *TrieStateDB) UpdatePreimage(hash types.Hash, data []byte) {
	s.preimages.Record(hash, data)
}

func (s *TrieStateDB) PreimageSize(hash types.Hash) int {
	return s.preimages.Size(hash)
}

// Iterate returns an Iterator over every (key, storageRecord) pair
// currently held in the underlying trie, in lexicographic key order. Used
// for state dumps and the CLI's diagnostic surface.
func (s *TrieStateDB) Iterate() *Iterator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewIterator(s.tr)
}

// Prove generates a Merkle proof that key's current value (or absence) is
// consistent with ComputeRoot's most recently returned root.
func (s *TrieStateDB) Prove(key types.Hash) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proof, err := s.tr.Prove(key[:])
	if err == ErrNotFound {
		return s.tr.ProveAbsence(key[:])
	}
	return proof, err
}

// DiffAgainst compares this TrieStateDB's current trie against another's,
// returning the set of keys inserted, removed, or changed between them.
func (s *TrieStateDB) DiffAgainst(other *TrieStateDB) *DiffTracker {
	s.mu.Lock()
	other.mu.Lock()
	defer other.mu.Unlock()
	defer s.mu.Unlock()
	return ComputeTrieDiff(other.tr, s.tr)
}
