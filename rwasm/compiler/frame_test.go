package compiler

import (
	"testing"

	"github.com/rwasm-project/rwasm/rwasm/opcode"
	"github.com/rwasm-project/rwasm/rwasm/wasmmod"
)

func newTestCompiler(types []wasmmod.FuncType) *Compiler {
	return &Compiler{
		mod:           &wasmmod.Module{Types: types},
		sigLookup:     make(map[string]uint32),
		funcBeginning: make(map[uint32]int),
	}
}

func TestSigIndexDedupsIdenticalSignatures(t *testing.T) {
	c := newTestCompiler([]wasmmod.FuncType{
		{Params: []byte{0x7F, 0x7F}, Results: []byte{0x7F}},
		{Params: []byte{0x7F, 0x7F}, Results: []byte{0x7F}}, // identical shape, different type index
		{Params: []byte{0x7E}, Results: nil},
	})
	a := c.sigIndex(0)
	b := c.sigIndex(1)
	d := c.sigIndex(2)
	if a != b {
		t.Fatalf("identical signatures should share a slot: got %d and %d", a, b)
	}
	if d == a {
		t.Fatalf("distinct signature should not share a slot with (0,1)'s")
	}
	if len(c.sigTable) != 2 {
		t.Fatalf("sigTable len = %d, want 2", len(c.sigTable))
	}
}

func TestEmitFrameRotateMovesContinuationBelowArgs(t *testing.T) {
	c := newTestCompiler(nil)
	// Simulate a 2-argument call: two args already pushed, continuation
	// pushed last, height = numArgs+1 = 3.
	c.emitFrameRotate(2, 3)

	wantTags := []opcode.Tag{
		opcode.LocalGet, // stash continuation (slot 2) into the transient slot
		opcode.LocalGet, opcode.LocalSet, // shift arg1 (slot 1 -> slot 2)
		opcode.LocalGet, opcode.LocalSet, // shift arg0 (slot 0 -> slot 1)
		opcode.LocalGet, opcode.LocalSet, // restore continuation into slot 0
		opcode.Drop,
	}
	if len(c.code) != len(wantTags) {
		t.Fatalf("emitted %d instructions, want %d", len(c.code), len(wantTags))
	}
	for i, want := range wantTags {
		if c.code[i].Tag != want {
			t.Errorf("instruction %d: tag = %s, want %s", i, c.code[i].Tag, want)
		}
	}

	// The shift must process the shallowest argument first (slot 1 -> 2
	// before slot 0 -> 1), since processing slot 0 first would clobber
	// slot 1 before it's read.
	if c.code[1].U32 != 1 || c.code[2].U32 != 2 {
		t.Fatalf("first shift should read slot 1 and write slot 2, got read=%d write=%d", c.code[1].U32, c.code[2].U32)
	}
	if c.code[3].U32 != 0 || c.code[4].U32 != 1 {
		t.Fatalf("second shift should read slot 0 and write slot 1, got read=%d write=%d", c.code[3].U32, c.code[4].U32)
	}
	// Final restore must write the continuation to slot 0 (the window's
	// deepest slot, vacated by the shift above).
	if c.code[6].U32 != 0 {
		t.Fatalf("continuation restore should target slot 0, got %d", c.code[6].U32)
	}
}

func TestEmitFrameRotateNoopForZeroArgs(t *testing.T) {
	c := newTestCompiler(nil)
	c.emitFrameRotate(0, 1)
	if len(c.code) != 0 {
		t.Fatalf("expected no instructions for a zero-arg rotate, got %d", len(c.code))
	}
}
