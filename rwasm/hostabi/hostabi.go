// Package hostabi provides the 256-bit operand encoding helpers the
// host-call ABI uses: a Call(importIdx) expects its arguments consumed
// from the operand stack in reverse order and its results pushed in
// natural order, and several host calls (balance transfers, storage-slot
// reads) pass 256-bit words, represented with github.com/holiman/uint256
// instead of hand-rolled big-endian arithmetic.
package hostabi

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/rwasm-project/rwasm/core/types"
)

// EncodeU256 renders v as a big-endian 32-byte word, the layout the
// journaled trie's value words (types.Hash) and the rWASM host-call ABI's
// 256-bit operands share.
func EncodeU256(v *uint256.Int) types.Hash {
	var h types.Hash
	b := v.Bytes32()
	copy(h[:], b[:])
	return h
}

// DecodeU256 parses a big-endian 32-byte word into a uint256.Int.
func DecodeU256(h types.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(h[:])
}

// PackLowerU64 packs a uint64 into the low 8 bytes of a 256-bit word (the
// remaining bytes zero), used for host calls whose argument is logically
// 64-bit (e.g. a fuel balance or a block number) but carried through the
// ABI's 256-bit journaled-trie value slot.
func PackLowerU64(v uint64) types.Hash {
	return EncodeU256(new(uint256.Int).SetUint64(v))
}

// UnpackLowerU64 is the inverse of PackLowerU64; it returns an error if any
// of the upper 24 bytes are non-zero, since that means the word does not
// actually fit in 64 bits.
func UnpackLowerU64(h types.Hash) (uint64, error) {
	v := DecodeU256(h)
	if !v.IsUint64() {
		return 0, fmt.Errorf("hostabi: value %s does not fit in 64 bits", v.String())
	}
	return v.Uint64(), nil
}

// FuelCost is the accounting unit ConsumeFuel opcodes subtract from a
// running balance; it is a thin named uint64 rather than a raw integer so
// host-call signatures documenting fuel costs are self-describing.
type FuelCost uint64

// Balance tracks a host-side fuel balance, decremented by ConsumeFuel
// opcodes emitted before each host Call. Exhausting it is a host
// runtime concern (trapping execution), not a compiler error; this type
// only accounts for it.
type Balance struct {
	remaining uint64
}

// NewBalance creates a fuel balance with the given initial amount.
func NewBalance(initial uint64) *Balance { return &Balance{remaining: initial} }

// Consume subtracts cost from the balance. Returns false (balance
// unchanged) if cost exceeds what remains.
func (b *Balance) Consume(cost FuelCost) bool {
	if uint64(cost) > b.remaining {
		return false
	}
	b.remaining -= uint64(cost)
	return true
}

// Remaining returns the current balance.
func (b *Balance) Remaining() uint64 { return b.remaining }
