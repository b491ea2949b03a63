package compiler

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rwasm-project/rwasm/rwasm/opcode"
)

// buildMemoryGrowModule builds a function "grow" that grows linear memory
// by its i32 argument and returns the previous page count.
func buildMemoryGrowModule() []byte {
	var buf bytes.Buffer
	buf.Write(moduleHeader())

	typeSec := append(uleb128(1), funcTypeEntry([]byte{opI32Type}, []byte{opI32Type})...)
	buf.Write(section(1, typeSec))

	funcSec := append(uleb128(1), uleb128(0)...)
	buf.Write(section(3, funcSec))

	var memSec bytes.Buffer
	memSec.Write(uleb128(1))
	memSec.WriteByte(0x00) // limits: min only
	memSec.Write(uleb128(1))
	buf.Write(section(5, memSec.Bytes()))

	exportSec := append(uleb128(1), name("grow")...)
	exportSec = append(exportSec, 0x00)
	exportSec = append(exportSec, uleb128(0)...)
	buf.Write(section(7, exportSec))

	var body bytes.Buffer
	body.WriteByte(opLocalGet)
	body.Write(uleb128(0))
	body.WriteByte(0x40) // memory.grow
	body.WriteByte(0x00) // reserved memory index
	body.WriteByte(opEnd)

	codeSec := append(uleb128(1), codeEntry(nil, body.Bytes())...)
	buf.Write(section(10, codeSec))

	return buf.Bytes()
}

// TestMemoryGrowEmitsBoundsGuard checks that memory.grow lowers to a guard
// comparing delta + current size against the configured page maximum, with
// a failure path that skips the grow and substitutes the u32 failure value.
func TestMemoryGrowEmitsBoundsGuard(t *testing.T) {
	cfg := DefaultConfig().WithSectionsPrelude(false).WithMaxMemoryPages(16)
	c, err := New(buildMemoryGrowModule(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Translate(nil); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	guard := []opcode.Tag{
		opcode.LocalGet, opcode.MemorySize, opcode.I32Add, opcode.I32Const,
		opcode.I32GtU, opcode.BrIfEqz, opcode.Drop, opcode.I32Const,
		opcode.Br, opcode.MemoryGrow,
	}
	start := -1
	for i := 0; i+len(guard) <= len(c.code); i++ {
		match := true
		for j, want := range guard {
			if c.code[i+j].Tag != want {
				match = false
				break
			}
		}
		if match {
			start = i
			break
		}
	}
	if start < 0 {
		t.Fatalf("guard sequence not found in lowered code:\n%v", c.code)
	}

	// The page-limit constant must be the configured maximum, and the
	// failure path must push the u32 all-ones failure value.
	if got := c.code[start+3].U64; got != 16 {
		t.Fatalf("guard limit = %d, want the configured 16", got)
	}
	if got := c.code[start+7].U64; got != uint64(^uint32(0)) {
		t.Fatalf("failure value = %#x, want u32 max", got)
	}
	// Both branches stay inside the guard: BrIfEqz lands on the grow,
	// Br lands just past it.
	if got := start + 5 + int(c.code[start+5].I32); got != start+9 {
		t.Fatalf("BrIfEqz target = %d, want the MemoryGrow at %d", got, start+9)
	}
	if got := start + 8 + int(c.code[start+8].I32); got != start+10 {
		t.Fatalf("Br target = %d, want the join point at %d", got, start+10)
	}
}

// TestStateRouterComparesEveryArm checks that the state-router entry reads
// the state tag afresh for every dispatch arm (each comparison consumes
// its operands) and terminates the chain with Unreachable.
func TestStateRouterComparesEveryArm(t *testing.T) {
	c := newTestCompiler(nil)
	entry := StateRouterEntry([]uint32{1, 2, 3}, RouterInstructions{StateIdx: 0, InputIdx: 1, OutputIdx: 2})
	if err := c.translateStateRouter(entry); err != nil {
		t.Fatalf("translateStateRouter: %v", err)
	}

	var stateReads, dispatches int
	for _, in := range c.code {
		if in.Tag == opcode.LocalGet && in.U32 == entry.Routing.StateIdx {
			stateReads++
		}
		if in.Tag == opcode.CallInternal {
			dispatches++
		}
	}
	if stateReads != len(entry.States) {
		t.Fatalf("state tag reads = %d, want one per arm (%d)", stateReads, len(entry.States))
	}
	if dispatches != len(entry.States) {
		t.Fatalf("dispatches = %d, want %d", dispatches, len(entry.States))
	}
	if last := c.code[len(c.code)-1]; last.Tag != opcode.Unreachable {
		t.Fatalf("router chain ends with %s, want unreachable", last.Tag)
	}
}

// TestBlockFuelMetering checks that fuel metering charges each structured
// construct entry, and that turning metering off suppresses every charge
// in a module with no host calls.
func TestBlockFuelMetering(t *testing.T) {
	count := func(cfg Config) int {
		c, err := New(buildBrTableModule(), cfg, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := c.Translate(nil); err != nil {
			t.Fatalf("Translate: %v", err)
		}
		n := 0
		for _, in := range c.code {
			if in.Tag == opcode.ConsumeFuel {
				n++
			}
		}
		return n
	}

	if got := count(DefaultConfig().WithSectionsPrelude(false)); got != 4 {
		t.Fatalf("ConsumeFuel count = %d, want one per block (4)", got)
	}
	if got := count(DefaultConfig().WithSectionsPrelude(false).WithFuelMetering(false)); got != 0 {
		t.Fatalf("ConsumeFuel count with metering off = %d, want 0", got)
	}
}

// buildTailCallModule builds a function "again" that tail-calls itself.
func buildTailCallModule() []byte {
	var buf bytes.Buffer
	buf.Write(moduleHeader())

	typeSec := append(uleb128(1), funcTypeEntry([]byte{opI32Type}, []byte{opI32Type})...)
	buf.Write(section(1, typeSec))

	funcSec := append(uleb128(1), uleb128(0)...)
	buf.Write(section(3, funcSec))

	exportSec := append(uleb128(1), name("again")...)
	exportSec = append(exportSec, 0x00)
	exportSec = append(exportSec, uleb128(0)...)
	buf.Write(section(7, exportSec))

	var body bytes.Buffer
	body.WriteByte(opLocalGet)
	body.Write(uleb128(0))
	body.WriteByte(0x12) // return_call
	body.Write(uleb128(0))
	body.WriteByte(opEnd)

	codeSec := append(uleb128(1), codeEntry(nil, body.Bytes())...)
	buf.Write(section(10, codeSec))

	return buf.Bytes()
}

// TestTailCallRequiresConfig checks that return_call is rejected unless
// tail calls are enabled, and that an enabled tail call lowers to a
// ReturnCallInternal rewritten to a backward Br at Finalize.
func TestTailCallRequiresConfig(t *testing.T) {
	c, err := New(buildTailCallModule(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Translate(nil); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Translate without tail calls: err = %v, want ErrNotSupported", err)
	}

	c, err = New(buildTailCallModule(), DefaultConfig().WithTailCall(true), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Translate(nil); err != nil {
		t.Fatalf("Translate with tail calls: %v", err)
	}

	var tailSite = -1
	for i, in := range c.code {
		if in.Tag == opcode.ReturnCallInternal {
			tailSite = i
		}
	}
	if tailSite < 0 {
		t.Fatalf("no ReturnCallInternal emitted:\n%v", c.code)
	}
	if _, err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	in := c.code[tailSite]
	if in.Tag != opcode.Br {
		t.Fatalf("tail call not rewritten to Br, got %s", in.Tag)
	}
	if target := tailSite + int(in.I32); target != c.funcBeginning[0] {
		t.Fatalf("tail-call Br target = %d, want the function's beginning %d", target, c.funcBeginning[0])
	}
}
