// Package dropkeep implements the (drop, keep) stack-surgery primitive: pop
// keep values, discard drop values below them, then push the keep values
// back. It lowers the descriptor into an explicit LocalGet/LocalSet
// sequence rather than emitting a dedicated opcode.
package dropkeep

import (
	"errors"
	"fmt"

	"github.com/rwasm-project/rwasm/rwasm/opcode"
)

// MaxTotal bounds drop+keep; beyond this the descriptor is almost certainly
// a miscompilation rather than a legitimate stack shuffle.
const MaxTotal = 1 << 16

// ErrOutOfBounds is returned when drop+keep overflows MaxTotal.
var ErrOutOfBounds = errors.New("dropkeep: drop+keep out of bounds")

// DropKeep is a validated (drop, keep) descriptor.
type DropKeep struct {
	Drop uint32
	Keep uint32
}

// New validates and constructs a DropKeep descriptor.
func New(drop, keep uint32) (DropKeep, error) {
	if uint64(drop)+uint64(keep) > MaxTotal {
		return DropKeep{}, fmt.Errorf("%w: drop=%d keep=%d", ErrOutOfBounds, drop, keep)
	}
	return DropKeep{Drop: drop, Keep: keep}, nil
}

// Sink receives instructions emitted by Translate; it abstracts over the
// compiler's code-section buffer so this package has no dependency on it.
type Sink interface {
	Emit(in opcode.Instruction)
}

// Translate expands dk into an explicit sequence of LocalGet/LocalSet pairs
// that achieves the described stack effect, emitting into sink. base is the
// local-slot depth of the bottom of the "drop" region (i.e. the operand
// stack depth before the keep+drop values were pushed, expressed as a local
// index base the compiler tracks per call site).
//
// "Plain" is used for branches and returns without a return-address value
// live on the stack. Callers needing the with-return-param variant should
// use TranslateWithReturn instead, which reserves one extra slot above the
// keep region for the return address and preserves it across the shuffle.
func Translate(dk DropKeep, base uint32, sink Sink) {
	if dk.Drop == 0 && dk.Keep == 0 {
		return
	}
	if dk.Drop == 0 {
		// Nothing below the kept values needs discarding.
		return
	}
	// Move each of the `keep` values down by `drop` slots, deepest first, so
	// that a write to a given destination never clobbers a source some
	// later iteration still needs to read (that ordering matters whenever
	// keep > drop, where the source and destination windows overlap).
	for i := uint32(0); i < dk.Keep; i++ {
		srcDepth := base + dk.Drop + uint32(i)
		dstDepth := base + uint32(i)
		sink.Emit(opcode.NewU32(opcode.LocalGet, srcDepth))
		sink.Emit(opcode.NewU32(opcode.LocalSet, dstDepth))
	}
	// The moves are push/pop-neutral (every LocalGet is matched by a
	// LocalSet), so the `drop` slots vacated above the relocated values
	// are still physically on the stack; pop them so the resulting depth
	// matches the descriptor's stack effect.
	for i := uint32(0); i < dk.Drop; i++ {
		sink.Emit(opcode.NewSimple(opcode.Drop))
	}
}

// TranslateWithReturn is the with-return-param variant: the return address
// occupies one extra slot above the kept values that must survive the
// shuffle untouched. retDepth is that slot's local depth before the move.
func TranslateWithReturn(dk DropKeep, base uint32, retDepth uint32, sink Sink) {
	if dk.Drop == 0 && dk.Keep == 0 {
		return
	}
	// Preserve the return address first: move it down by `drop` slots too,
	// so it lands directly above the relocated keep region.
	if dk.Drop > 0 {
		sink.Emit(opcode.NewU32(opcode.LocalGet, retDepth))
		sink.Emit(opcode.NewU32(opcode.LocalSet, retDepth-dk.Drop))
	}
	Translate(dk, base, sink)
}
