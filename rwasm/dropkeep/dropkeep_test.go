package dropkeep

import (
	"errors"
	"testing"

	"github.com/rwasm-project/rwasm/rwasm/opcode"
)

type recordingSink struct {
	emitted []opcode.Instruction
}

func (s *recordingSink) Emit(in opcode.Instruction) { s.emitted = append(s.emitted, in) }

func TestNewRejectsOutOfBounds(t *testing.T) {
	if _, err := New(1<<16, 1<<16); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("want ErrOutOfBounds, got %v", err)
	}
}

func TestTranslateNoopWhenZero(t *testing.T) {
	dk, err := New(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sink := &recordingSink{}
	Translate(dk, 0, sink)
	if len(sink.emitted) != 0 {
		t.Fatalf("expected no emitted instructions, got %d", len(sink.emitted))
	}
}

func TestTranslateEmitsLocalMoves(t *testing.T) {
	dk, err := New(2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sink := &recordingSink{}
	Translate(dk, 0, sink)
	if len(sink.emitted) != 4 {
		t.Fatalf("want 4 instructions (1 keep value x LocalGet+LocalSet, then 2 Drops), got %d", len(sink.emitted))
	}
	if sink.emitted[0].Tag != opcode.LocalGet || sink.emitted[0].U32 != 2 {
		t.Fatalf("unexpected first instruction: %v", sink.emitted[0])
	}
	if sink.emitted[1].Tag != opcode.LocalSet || sink.emitted[1].U32 != 0 {
		t.Fatalf("unexpected second instruction: %v", sink.emitted[1])
	}
	for i := 2; i < 4; i++ {
		if sink.emitted[i].Tag != opcode.Drop {
			t.Fatalf("instruction %d: tag = %s, want drop", i, sink.emitted[i].Tag)
		}
	}
}

func TestTranslateWithReturnPreservesReturnSlot(t *testing.T) {
	dk, err := New(1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sink := &recordingSink{}
	TranslateWithReturn(dk, 0, 5, sink)
	if sink.emitted[0].Tag != opcode.LocalGet || sink.emitted[0].U32 != 5 {
		t.Fatalf("expected return slot preserved first, got %v", sink.emitted[0])
	}
	if sink.emitted[1].Tag != opcode.LocalSet || sink.emitted[1].U32 != 4 {
		t.Fatalf("expected return slot moved down by drop, got %v", sink.emitted[1])
	}
}
