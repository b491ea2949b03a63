package triestore

import (
	"testing"

	"github.com/rwasm-project/rwasm/core/types"
	"github.com/rwasm-project/rwasm/trie"
)

func hashOf(s string) types.Hash {
	var h types.Hash
	copy(h[:], s)
	return h
}

func TestPutNodeRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	h := hashOf("node-a")
	if err := store.Put(h, []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Node(h)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("Node = %q, want %q", got, "payload")
	}
}

func TestNodeMissingReturnsSentinel(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, err := store.Node(hashOf("missing")); err != trie.ErrNodeNotFound {
		t.Fatalf("Node err = %v, want trie.ErrNodeNotFound", err)
	}
}

func TestBatchCommit(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	b := store.NewBatch()
	b.Put(hashOf("n1"), []byte("v1"))
	b.Put(hashOf("n2"), []byte("v2"))
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for _, tc := range []struct{ key, want string }{{"n1", "v1"}, {"n2", "v2"}} {
		got, err := store.Node(hashOf(tc.key))
		if err != nil {
			t.Fatalf("Node(%s): %v", tc.key, err)
		}
		if string(got) != tc.want {
			t.Fatalf("Node(%s) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Put(hashOf("x"), []byte("y")); err != ErrClosed {
		t.Fatalf("Put after Close = %v, want ErrClosed", err)
	}
	if _, err := store.Node(hashOf("x")); err != ErrClosed {
		t.Fatalf("Node after Close = %v, want ErrClosed", err)
	}
}

func TestUsableAsNodeDatabaseDisk(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	h := hashOf("db-node")
	if err := store.Put(h, []byte("from-disk")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	db := trie.NewNodeDatabase(store)
	got, err := db.Node(h)
	if err != nil {
		t.Fatalf("NodeDatabase.Node: %v", err)
	}
	if string(got) != "from-disk" {
		t.Fatalf("NodeDatabase.Node = %q, want %q", got, "from-disk")
	}
}
