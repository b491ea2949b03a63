package compiler

import (
	"errors"
	"testing"

	"github.com/rwasm-project/rwasm/rwasm/linker"
	"github.com/rwasm-project/rwasm/rwasm/opcode"
)

// TestE2EExportedAddFunction compiles a single exported function
// returning i32.const(1) + i32.const(2) and checks that the source map's
// entry for it lies inside the program after the router prelude, and that
// the program starts with the router's I32Const plus a Br landing on it.
func TestE2EExportedAddFunction(t *testing.T) {
	c, err := New(buildAddModule(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry := ExportEntry("add")
	if err := c.Translate(&entry); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	out, err := c.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("finalized program is empty")
	}

	maps, err := c.BuildSourceMap()
	if err != nil {
		t.Fatalf("BuildSourceMap: %v", err)
	}
	var addPos = -1
	for _, fsm := range maps {
		if fsm.FuncName == "add" {
			addPos = fsm.Position
			if fsm.Position <= 0 || fsm.Position >= len(out) {
				t.Fatalf("add's Position = %d, want inside the program and after the router prelude", fsm.Position)
			}
			if fsm.Length <= 0 {
				t.Fatalf("add's Length = %d, want > 0", fsm.Length)
			}
		}
	}
	if addPos < 0 {
		t.Fatalf("source map missing an entry named %q, got %+v", "add", maps)
	}

	// The program file format has no header, so byte offset 0 is the
	// host's entry point: it must decode straight into the router
	// prelude — the synthetic continuation push, then the dispatch
	// branch (CallInternal rewritten to Br) landing exactly on add.
	r := opcode.NewReader(out)
	first, err := opcode.Decode(r)
	if err != nil {
		t.Fatalf("decoding the program's first instruction: %v", err)
	}
	if first.Tag != opcode.I32Const || first.U64 != uint64(initPreludeValue) {
		t.Fatalf("program starts with %v, want the router's I32Const(%d)", first, initPreludeValue)
	}
	brPos := r.Pos()
	second, err := opcode.Decode(r)
	if err != nil {
		t.Fatalf("decoding the program's second instruction: %v", err)
	}
	if second.Tag != opcode.Br {
		t.Fatalf("program's second instruction is %v, want the router's dispatch Br", second)
	}
	if target := brPos + int(second.I32); target != addPos {
		t.Fatalf("router dispatch targets byte %d, want add's position %d", target, addPos)
	}
}

// TestE2ESelfRecursiveCallLowersToSingleBr checks that a self-recursive
// call must lower to exactly one CallInternal, rewritten to exactly one Br
// at Finalize with the displacement landing on the callee's own beginning.
func TestE2ESelfRecursiveCallLowersToSingleBr(t *testing.T) {
	c, err := New(buildSelfRecursiveModule(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Translate(nil); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	var callInternalCount int
	var brSiteIdx = -1
	for _, in := range c.code {
		if in.Tag == opcode.CallInternal {
			callInternalCount++
		}
	}
	if callInternalCount != 1 {
		t.Fatalf("CallInternal count = %d, want 1 (before Finalize rewrites it to Br)", callInternalCount)
	}

	if _, err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// After Finalize, the CallInternal must have become a Br whose I32
	// displacement, added to its own instruction index, lands on the
	// callee's recorded beginning.
	var brCount int
	for i, in := range c.code {
		if in.Tag == opcode.Br {
			brCount++
			brSiteIdx = i
		}
	}
	if brCount != 1 {
		t.Fatalf("Br count after Finalize = %d, want exactly 1", brCount)
	}
	target := brSiteIdx + int(c.code[brSiteIdx].I32)
	funcStart, ok := c.funcBeginning[0]
	if !ok {
		t.Fatalf("funcBeginning missing entry for func 0")
	}
	if target != funcStart {
		t.Fatalf("Br target instruction %d, want the callee's beginning %d", target, funcStart)
	}
}

// TestE2EBrTableConverges checks that a 3-target br_table whose arms
// converge on the same outer-block tail must translate and finalize without
// error and produce exactly one BrTable dispatch.
func TestE2EBrTableConverges(t *testing.T) {
	c, err := New(buildBrTableModule(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry := ExportEntry("dispatch")
	if err := c.Translate(&entry); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if _, err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	var brTableCount int
	for _, in := range c.code {
		if in.Tag == opcode.BrTable {
			brTableCount++
		}
	}
	if brTableCount != 1 {
		t.Fatalf("BrTable count = %d, want 1", brTableCount)
	}
}

// TestE2EUnresolvableImportFails checks that a module importing a host
// function absent from the linker must fail Translate with UnknownImport,
// and ExitCode must map that to the documented non-zero exit code.
func TestE2EUnresolvableImportFails(t *testing.T) {
	c, err := New(buildUnresolvableImportModule(), DefaultConfig(), linker.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry := ExportEntry("call_host")
	err = c.Translate(&entry)
	if err == nil {
		t.Fatalf("expected Translate to fail for an unresolved import")
	}
	if !errors.Is(err, ErrUnknownImport) {
		t.Fatalf("err = %v, want wrapping ErrUnknownImport", err)
	}
	if code := ExitCode(err); code != -8 {
		t.Fatalf("ExitCode = %d, want -8", code)
	}
}
