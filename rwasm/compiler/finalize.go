package compiler

import (
	"fmt"

	"github.com/rwasm-project/rwasm/rwasm/opcode"
)

// isBranchTag reports whether t carries a branch offset in instruction-index
// units that needs both bounds validation and a later byte-offset rewrite.
func isBranchTag(t opcode.Tag) bool {
	switch t {
	case opcode.Br, opcode.BrIfEqz, opcode.BrIfNez, opcode.BrAdjust, opcode.BrAdjustIfNez:
		return true
	default:
		return false
	}
}

// validateInjections checks the recorded injection-segment ledger before
// branch validation relies on it: segments must be ordered, non-overlapping
// and in-bounds (the code buffer is append-only, so recording order is
// position order), lowering must only ever expand its origin (a negative
// delta means the accounting itself is wrong), and when a leading prelude
// was emitted its segment must begin at instruction 0 — the program has no
// header, so offset 0 is the host's entry point and anything placed there
// other than the prelude is a translation-ordering bug.
func (c *Compiler) validateInjections() error {
	prev := 0
	for i, inj := range c.injections {
		if inj.Begin < prev || inj.End < inj.Begin || inj.End > len(c.code) {
			return fmt.Errorf("%w: malformed injection segment [%d,%d)", ErrOutOfBuffer, inj.Begin, inj.End)
		}
		if inj.delta() < 0 {
			return fmt.Errorf("%w: injection segment [%d,%d) shrinks its %d-opcode origin", ErrOutOfBuffer, inj.Begin, inj.End, inj.OriginLen)
		}
		if i == 0 && inj.OriginLen == 0 && inj.Begin != 0 {
			return fmt.Errorf("%w: prelude injection begins at %d, want 0", ErrOutOfBuffer, inj.Begin)
		}
		prev = inj.End
	}
	return nil
}

// correctBranchOffsets validates every branch's target. Branch
// displacements are computed directly in final instruction-index units as
// each one is patched during body translation (the code buffer is
// append-only and nothing is inserted after a branch is written), so there
// is no separate correction arithmetic to perform here; instead the
// injection ledger is used to check the patched offsets: a target must
// land inside the code section, and a branch from outside an injection
// segment may not land strictly inside one — synthesized code has no
// source-level labels, so such a target can only mean a displacement that
// failed to account for the injected expansion. (Landing exactly on a
// segment's Begin is legal: that is where the source opcode the segment
// replaces used to start.)
func (c *Compiler) correctBranchOffsets() error {
	for i, in := range c.code {
		if !isBranchTag(in.Tag) {
			continue
		}
		target := i + int(in.I32)
		if target < 0 || target > len(c.code) {
			return fmt.Errorf("%w: branch at %d targets out-of-range instruction %d", ErrOutOfBuffer, i, target)
		}
		for _, inj := range c.injections {
			if target > inj.Begin && target < inj.End && !(i >= inj.Begin && i < inj.End) {
				return fmt.Errorf("%w: branch at %d targets synthesized code at %d inside [%d,%d)", ErrOutOfBuffer, i, target, inj.Begin, inj.End)
			}
		}
	}
	return nil
}

// rewriteInternalCalls replaces every CallInternal(fn) and
// ReturnCallInternal(fn) with a plain Br to fn's recorded entry point,
// still in instruction-index-relative units (serialize converts every
// branch, these included, to byte units in its own pass). Both opcodes
// exist only to carry a readable function index through translation; the
// flat rWASM program has no call instruction of its own, only branches,
// matching a calling convention built entirely from pushed continuations
// and drop-keep returns. The two differ purely in what the call site
// emitted around them: a fresh continuation for CallInternal, the frame
// teardown of a tail call for ReturnCallInternal.
func (c *Compiler) rewriteInternalCalls() error {
	for i, in := range c.code {
		if in.Tag != opcode.CallInternal && in.Tag != opcode.ReturnCallInternal {
			continue
		}
		target, ok := c.funcBeginning[in.U32]
		if !ok {
			return fmt.Errorf("%w: function %d", ErrMissingFunction, in.U32)
		}
		c.code[i] = opcode.NewI32(opcode.Br, int32(target-i))
	}
	return nil
}

// instructionByteOffsets returns, for each instruction index (and one
// trailing entry for the position just past the last instruction), its
// byte offset in the serialized program.
func (c *Compiler) instructionByteOffsets() ([]int, error) {
	offsets := make([]int, len(c.code)+1)
	pos := 0
	for i, in := range c.code {
		offsets[i] = pos
		pos += opcode.Size(in)
	}
	offsets[len(c.code)] = pos
	return offsets, nil
}

// serialize converts every instruction-index-relative quantity (branch
// offsets, RefFunc's function index, pushed call continuations) to its
// final byte-offset form and encodes the whole code section to bytes,
// prefixed with the magic marker when configured.
func (c *Compiler) serialize() ([]byte, error) {
	offsets, err := c.instructionByteOffsets()
	if err != nil {
		return nil, err
	}

	out := make([]opcode.Instruction, len(c.code))
	copy(out, c.code)

	for i, in := range out {
		if !isBranchTag(in.Tag) {
			continue
		}
		target := i + int(in.I32)
		out[i].I32 = int32(offsets[target] - offsets[i])
	}

	for i, in := range out {
		if in.Tag != opcode.RefFunc {
			continue
		}
		begin, ok := c.funcBeginning[in.U32]
		if !ok {
			return nil, fmt.Errorf("%w: ref.func target %d", ErrMissingFunction, in.U32)
		}
		out[i].U32 = uint32(offsets[begin])
	}

	for _, i := range c.contFixups {
		instrIdx := int(out[i].U64)
		if instrIdx < 0 || instrIdx >= len(offsets) {
			return nil, fmt.Errorf("%w: continuation fixup out of range", ErrOutOfBuffer)
		}
		out[i].U64 = uint64(offsets[instrIdx])
	}

	maxSize := c.cfg.MaxCodeSize
	if maxSize > 0 && c.cfg.WithMagicPrefix {
		maxSize -= len(magicPrefix)
	}
	w := opcode.NewWriter(maxSize)
	for _, in := range out {
		if err := opcode.Encode(in, w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBinaryFormat, err)
		}
	}
	if !c.cfg.WithMagicPrefix {
		return w.Bytes(), nil
	}
	result := make([]byte, 0, len(magicPrefix)+w.Len())
	result = append(result, magicPrefix[:]...)
	result = append(result, w.Bytes()...)
	return result, nil
}
