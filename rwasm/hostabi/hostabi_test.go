package hostabi

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestEncodeDecodeU256RoundTrip(t *testing.T) {
	v := uint256.NewInt(0xdeadbeef)
	v.Lsh(v, 64)
	v.Or(v, uint256.NewInt(123456789))

	h := EncodeU256(v)
	got := DecodeU256(h)
	if got.Cmp(v) != 0 {
		t.Fatalf("round trip = %s, want %s", got.String(), v.String())
	}
}

func TestPackUnpackLowerU64(t *testing.T) {
	const want = uint64(1_000_000_007)
	h := PackLowerU64(want)
	got, err := UnpackLowerU64(h)
	if err != nil {
		t.Fatalf("UnpackLowerU64: %v", err)
	}
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestUnpackLowerU64RejectsWideValue(t *testing.T) {
	v := new(uint256.Int).SetUint64(1)
	v.Lsh(v, 200)
	if _, err := UnpackLowerU64(EncodeU256(v)); err == nil {
		t.Fatalf("expected error for a value that doesn't fit in 64 bits")
	}
}

func TestBalanceConsume(t *testing.T) {
	b := NewBalance(100)
	if !b.Consume(40) {
		t.Fatalf("Consume(40) should succeed with balance 100")
	}
	if b.Remaining() != 60 {
		t.Fatalf("Remaining = %d, want 60", b.Remaining())
	}
	if b.Consume(1000) {
		t.Fatalf("Consume(1000) should fail with balance 60")
	}
	if b.Remaining() != 60 {
		t.Fatalf("Remaining after failed Consume = %d, want 60", b.Remaining())
	}
}
