package compiler

import (
	"github.com/rwasm-project/rwasm/rwasm/opcode"
	"github.com/rwasm-project/rwasm/rwasm/wasmmod"
)

// sigIndex dedups typeIdx's signature into the compiler's flat sigTable,
// returning the index TypeCheck should carry. Two WASM type-section entries
// with identical param/result shapes share one rWASM signature slot.
func (c *Compiler) sigIndex(typeIdx uint32) uint32 {
	sig := wasmmod.FuncType{}
	if int(typeIdx) < len(c.mod.Types) {
		sig = c.mod.Types[typeIdx]
	}
	key := string(sig.Params) + "|" + string(sig.Results)
	if idx, ok := c.sigLookup[key]; ok {
		return idx
	}
	idx := uint32(len(c.sigTable))
	c.sigTable = append(c.sigTable, sig)
	c.sigLookup[key] = idx
	return idx
}

// emitContinuation pushes the call-site's resume point as an I32Const
// placeholder (instruction-index units) and records its position for
// serialize to rewrite to a byte offset once the whole program's layout is
// final. resumeAt is the instruction index execution should continue at.
func (c *Compiler) emitContinuation(resumeAt int) {
	idx := c.pos()
	c.Emit(opcode.NewU64(opcode.I32Const, uint64(resumeAt)))
	c.contFixups = append(c.contFixups, idx)
}

// emitFrameRotate relocates a just-pushed continuation value, currently the
// shallowest (topmost) of numArgs+1 live values, down to the deepest slot,
// shifting the numArgs argument values up by one each to close the gap. This
// is the callee side of the calling convention: a call site pushes its
// arguments and then its continuation on top with no rearrangement, and
// whichever function is entered relocates that continuation below its own
// arguments before doing anything else, since only the callee reliably knows
// its own arity.
//
// height is the frame-relative stack height immediately after the
// continuation push (so the continuation sits at height-1, args at
// [height-1-numArgs, height-2]). It emits a LocalGet that stashes the
// continuation in one extra transient slot, one LocalGet/LocalSet pair per
// argument shifting it up by one slot, and LocalGet/LocalSet/Drop to put the
// continuation below the arguments (2N+4 instructions), and returns the new
// height (unchanged: the rotate only rearranges existing slots).
func (c *Compiler) emitFrameRotate(numArgs uint32, height uint32) uint32 {
	if numArgs == 0 {
		return height
	}
	contPos := height - 1
	argsBase := contPos - numArgs

	// Stash the continuation in a transient slot above the live window so
	// the shift below can freely overwrite its original slot.
	c.Emit(opcode.NewU32(opcode.LocalGet, contPos))
	tmpPos := height // the push above lands here

	// Shift each argument up by one, shallowest first, so a write never
	// clobbers a source a later iteration still needs.
	for i := int32(numArgs) - 1; i >= 0; i-- {
		src := argsBase + uint32(i)
		dst := src + 1
		c.Emit(opcode.NewU32(opcode.LocalGet, src))
		c.Emit(opcode.NewU32(opcode.LocalSet, dst))
	}

	// Drop the continuation into the now-vacated slot at the window's
	// bottom, then discard the transient copy.
	c.Emit(opcode.NewU32(opcode.LocalGet, tmpPos))
	c.Emit(opcode.NewU32(opcode.LocalSet, argsBase))
	c.Emit(opcode.NewSimple(opcode.Drop))

	return height
}

// frameSize is the number of frame-relative slots a function's own
// parameters and declared locals occupy, excluding the continuation slot at
// index 0.
func frameSize(numParams, numLocals uint32) uint32 { return numParams + numLocals }
