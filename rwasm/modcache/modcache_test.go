package modcache

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	c := New(1 << 20)
	wasm := []byte("\x00asm\x01\x00\x00\x00fake-module-bytes")
	program := []byte{0x01, 0x02, 0x03, 0x04}

	if _, ok := c.Get(wasm); ok {
		t.Fatalf("expected miss on empty cache")
	}

	c.Put(wasm, program)

	got, ok := c.Get(wasm)
	if !ok {
		t.Fatalf("expected hit after Put")
	}
	if string(got) != string(program) {
		t.Fatalf("got %x, want %x", got, program)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestKeyDiffersByContent(t *testing.T) {
	a := Key([]byte("module-a"))
	b := Key([]byte("module-b"))
	if a == b {
		t.Fatalf("distinct module bytes produced the same cache key")
	}
}

func TestReset(t *testing.T) {
	c := New(1 << 20)
	wasm := []byte("module")
	c.Put(wasm, []byte{0xff})
	c.Reset()
	if _, ok := c.Get(wasm); ok {
		t.Fatalf("expected miss after Reset")
	}
	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 1 {
		t.Fatalf("stats after reset = %+v", stats)
	}
}
