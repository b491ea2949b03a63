package opcode

import (
	"errors"
	"fmt"
)

// Errors surfaced by Encode/Decode. Prefixed to stay distinct from the
// compiler's own error set.
var (
	ErrIllegalOpcode   = errors.New("opcode: illegal tag byte")
	ErrReaderUnderflow = errors.New("opcode: reader underflow")
	ErrWriterOverflow  = errors.New("opcode: writer overflow")
)

// Instruction is a single rWASM instruction: a tag plus whatever immediates
// its layout calls for. Not every field is meaningful for every tag; Encode
// reads only the fields the tag's layout specifies.
type Instruction struct {
	Tag Tag

	// U32 holds a single uint32 immediate (index, depth, table size, …).
	U32 uint32
	// I32 holds a signed branch-offset immediate, in instruction-index units
	// until finalize rewrites it to a byte-offset.
	I32 int32
	// U64 holds a const-value immediate (I32Const/I64Const both carry the
	// raw 64-bit pattern; I32Const narrows on use).
	U64 uint64
	// U32b holds the second uint32 of a two-word immediate (memory/table
	// index alongside an offset/index, or TableCopy/TableInit's two table
	// indices).
	U32b uint32
	// Drop/Keep hold a drop-keep descriptor for Return/ReturnIfNez.
	Drop uint32
	Keep uint32
}

// NewSimple builds a zero-immediate instruction.
func NewSimple(tag Tag) Instruction { return Instruction{Tag: tag} }

// NewU32 builds a single-uint32-immediate instruction.
func NewU32(tag Tag, v uint32) Instruction { return Instruction{Tag: tag, U32: v} }

// NewI32 builds a branch-offset instruction.
func NewI32(tag Tag, v int32) Instruction { return Instruction{Tag: tag, I32: v} }

// NewU64 builds a const instruction.
func NewU64(tag Tag, v uint64) Instruction { return Instruction{Tag: tag, U64: v} }

// NewU32Pair builds a two-uint32-immediate instruction (memory/table ops).
func NewU32Pair(tag Tag, a, b uint32) Instruction { return Instruction{Tag: tag, U32: a, U32b: b} }

// NewDropKeep builds a Return/ReturnIfNez instruction.
func NewDropKeep(tag Tag, drop, keep uint32) Instruction {
	return Instruction{Tag: tag, Drop: drop, Keep: keep}
}

// String renders the instruction's mnemonic and immediates for tracing.
func (in Instruction) String() string {
	switch immLayout(in.Tag) {
	case immU32:
		return fmt.Sprintf("%s %d", in.Tag, in.U32)
	case immI32:
		return fmt.Sprintf("%s %d", in.Tag, in.I32)
	case immU64:
		return fmt.Sprintf("%s %d", in.Tag, in.U64)
	case immU32U32:
		return fmt.Sprintf("%s %d %d", in.Tag, in.U32, in.U32b)
	case immDropKeep:
		return fmt.Sprintf("%s drop=%d keep=%d", in.Tag, in.Drop, in.Keep)
	default:
		return in.Tag.String()
	}
}
