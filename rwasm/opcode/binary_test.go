package opcode

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Instruction{
		NewSimple(Unreachable),
		NewSimple(Drop),
		NewU32(ConsumeFuel, 42),
		NewU32(LocalGet, 3),
		NewI32(Br, -5),
		NewI32(BrAdjust, 1000),
		NewU64(I32Const, 0xFFFFFFFF),
		NewU64(I64Const, 0x0123456789ABCDEF),
		NewU32Pair(I32Load, 2, 16),
		NewDropKeep(Return, 3, 1),
		NewU32(CallInternal, 7),
		NewU32(TypeCheck, 0),
	}
	for _, want := range cases {
		w := NewWriter(0)
		if err := Encode(want, w); err != nil {
			t.Fatalf("encode %v: %v", want, err)
		}
		got, err := Decode(NewReader(w.Bytes()))
		if err != nil {
			t.Fatalf("decode %v: %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: want %+v got %+v", want, got)
		}
	}
}

func TestDecodeIllegalOpcode(t *testing.T) {
	_, err := Decode(NewReader([]byte{0xFF}))
	if err != ErrIllegalOpcode {
		t.Fatalf("want ErrIllegalOpcode, got %v", err)
	}
}

func TestDecodeReaderUnderflow(t *testing.T) {
	// ConsumeFuel wants a u32 immediate but none is supplied.
	_, err := Decode(NewReader([]byte{byte(ConsumeFuel), 0x01}))
	if err != ErrReaderUnderflow {
		t.Fatalf("want ErrReaderUnderflow, got %v", err)
	}
}

func TestWriterOverflow(t *testing.T) {
	w := NewWriter(2)
	if err := Encode(NewSimple(Unreachable), w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := Encode(NewU32(ConsumeFuel, 1), w)
	if err != ErrWriterOverflow {
		t.Fatalf("want ErrWriterOverflow, got %v", err)
	}
}

func TestSizeMatchesEncodedLength(t *testing.T) {
	in := NewU32Pair(I64Store, 0, 8)
	w := NewWriter(0)
	if err := Encode(in, w); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got, want := len(w.Bytes()), Size(in); got != want {
		t.Fatalf("Size() = %d, encoded length = %d", want, got)
	}
}

func TestTagString(t *testing.T) {
	if got := Br.String(); got != "br" {
		t.Fatalf("Br.String() = %q", got)
	}
	if got := Tag(250).String(); got == "" {
		t.Fatalf("unknown tag should still render something, got empty string")
	}
}
