package compiler

import (
	"fmt"

	"github.com/rwasm-project/rwasm/rwasm/opcode"
)

// Raw WebAssembly instruction opcodes this translator recognizes. Floating
// point opcodes have no rWASM equivalent (the target instruction set is
// integer-only, per its data model) and are rejected with NotSupported
// wherever they appear.
const (
	wasmUnreachable byte = 0x00
	wasmNop         byte = 0x01
	wasmBlock       byte = 0x02
	wasmLoop        byte = 0x03
	wasmIf          byte = 0x04
	wasmElse        byte = 0x05
	wasmEnd         byte = 0x0B
	wasmBr          byte = 0x0C
	wasmBrIf        byte = 0x0D
	wasmBrTable     byte = 0x0E
	wasmReturn      byte = 0x0F
	wasmCall        byte = 0x10
	wasmCallIndir   byte = 0x11
	wasmRetCall     byte = 0x12
	wasmRetCallInd  byte = 0x13
	wasmDrop        byte = 0x1A
	wasmSelect      byte = 0x1B
	wasmSelectT     byte = 0x1C
	wasmLocalGet    byte = 0x20
	wasmLocalSet    byte = 0x21
	wasmLocalTee    byte = 0x22
	wasmGlobalGet   byte = 0x23
	wasmGlobalSet   byte = 0x24
	wasmTableGet    byte = 0x25
	wasmTableSet    byte = 0x26
	wasmMemorySize  byte = 0x3F
	wasmMemoryGrow  byte = 0x40
	wasmI32Const    byte = 0x41
	wasmI64Const    byte = 0x42
	wasmF32Const    byte = 0x43
	wasmF64Const    byte = 0x44
	wasmRefNull     byte = 0xD0
	wasmRefIsNull   byte = 0xD1
	wasmRefFunc     byte = 0xD2
	wasmMiscPrefix  byte = 0xFC
)

// wasm misc (0xFC-prefixed) sub-opcodes used by the bulk-memory/reference
// proposals that the rWASM instruction set carries equivalents for.
const (
	miscMemoryInit byte = 8
	miscDataDrop   byte = 9
	miscMemoryCopy byte = 10
	miscMemoryFill byte = 11
	miscTableInit  byte = 12
	miscElemDrop   byte = 13
	miscTableCopy  byte = 14
	miscTableGrow  byte = 15
	miscTableSize  byte = 16
	miscTableFill  byte = 17
)

// loadTag maps a raw load opcode byte to its rWASM tag. Memory opcodes
// outside this table (the f32/f64 family) are not supported.
var loadTag = map[byte]opcode.Tag{
	0x28: opcode.I32Load, 0x29: opcode.I64Load,
	0x2C: opcode.I32Load8S, 0x2D: opcode.I32Load8U, 0x2E: opcode.I32Load16S, 0x2F: opcode.I32Load16U,
	0x30: opcode.I64Load8S, 0x31: opcode.I64Load8U, 0x32: opcode.I64Load16S, 0x33: opcode.I64Load16U,
	0x34: opcode.I64Load32S, 0x35: opcode.I64Load32U,
}

// storeTag maps a raw store opcode byte to its rWASM tag.
var storeTag = map[byte]opcode.Tag{
	0x36: opcode.I32Store, 0x37: opcode.I64Store,
	0x3A: opcode.I32Store8, 0x3B: opcode.I32Store16,
	0x3C: opcode.I64Store8, 0x3D: opcode.I64Store16, 0x3E: opcode.I64Store32,
}

// binopTag maps a raw integer arithmetic/comparison/conversion opcode byte
// (0x45-0xC4, skipping the float range) to its rWASM tag.
var binopTag = map[byte]opcode.Tag{
	0x45: opcode.I32Eqz, 0x46: opcode.I32Eq, 0x47: opcode.I32Ne,
	0x48: opcode.I32LtS, 0x49: opcode.I32LtU, 0x4A: opcode.I32GtS, 0x4B: opcode.I32GtU,
	0x4C: opcode.I32LeS, 0x4D: opcode.I32LeU, 0x4E: opcode.I32GeS, 0x4F: opcode.I32GeU,
	0x50: opcode.I64Eqz, 0x51: opcode.I64Eq, 0x52: opcode.I64Ne,
	0x53: opcode.I64LtS, 0x54: opcode.I64LtU, 0x55: opcode.I64GtS, 0x56: opcode.I64GtU,
	0x57: opcode.I64LeS, 0x58: opcode.I64LeU, 0x59: opcode.I64GeS, 0x5A: opcode.I64GeU,
	0x67: opcode.I32Clz, 0x68: opcode.I32Ctz, 0x69: opcode.I32Popcnt,
	0x6A: opcode.I32Add, 0x6B: opcode.I32Sub, 0x6C: opcode.I32Mul,
	0x6D: opcode.I32DivS, 0x6E: opcode.I32DivU, 0x6F: opcode.I32RemS, 0x70: opcode.I32RemU,
	0x71: opcode.I32And, 0x72: opcode.I32Or, 0x73: opcode.I32Xor,
	0x74: opcode.I32Shl, 0x75: opcode.I32ShrS, 0x76: opcode.I32ShrU, 0x77: opcode.I32Rotl, 0x78: opcode.I32Rotr,
	0x79: opcode.I64Clz, 0x7A: opcode.I64Ctz, 0x7B: opcode.I64Popcnt,
	0x7C: opcode.I64Add, 0x7D: opcode.I64Sub, 0x7E: opcode.I64Mul,
	0x7F: opcode.I64DivS, 0x80: opcode.I64DivU, 0x81: opcode.I64RemS, 0x82: opcode.I64RemU,
	0x83: opcode.I64And, 0x84: opcode.I64Or, 0x85: opcode.I64Xor,
	0x86: opcode.I64Shl, 0x87: opcode.I64ShrS, 0x88: opcode.I64ShrU, 0x89: opcode.I64Rotl, 0x8A: opcode.I64Rotr,
	0xA7: opcode.I32WrapI64,
	0xAC: opcode.I64ExtendI32S, 0xAD: opcode.I64ExtendI32U,
	0xC0: opcode.I32Extend8S, 0xC1: opcode.I32Extend16S,
	0xC2: opcode.I64Extend8S, 0xC3: opcode.I64Extend16S, 0xC4: opcode.I64Extend32S,
}

// isFloatOpcode reports the raw opcode bytes this translator rejects outright
// since the rWASM instruction set has no floating-point equivalent: the
// f32/f64 const, load/store, comparison, arithmetic and conversion ranges.
func isFloatOpcode(b byte) bool {
	switch {
	case b == 0x2A || b == 0x2B || b == 0x38 || b == 0x39: // f32/f64 load, store
		return true
	case b >= 0x43 && b <= 0x44: // f32.const, f64.const
		return true
	case b >= 0x5B && b <= 0x66: // f32/f64 comparisons
		return true
	case b >= 0x8B && b <= 0xA6: // f32/f64 arithmetic, conversions
		return true
	case b >= 0xA8 && b <= 0xAB: // i32/i64 truncation from float
		return true
	case b >= 0xAE && b <= 0xBF && b != 0xC0 && b != 0xC1 && b != 0xC2 && b != 0xC3 && b != 0xC4: // f32/f64 reinterpret + remaining conversions
		return true
	default:
		return false
	}
}

// cursor walks a raw WASM function-body byte stream, LEB128-decoding
// immediates as it goes. Distinct from wasmmod's section-level decoder,
// since it needs byte-granular instruction-boundary tracking the section
// decoder has no reason to expose.
type cursor struct {
	buf []byte
	pos int
}

var errCursorUnderflow = fmt.Errorf("%w: truncated instruction stream", ErrModuleError)

func (cu *cursor) done() bool { return cu.pos >= len(cu.buf) }

func (cu *cursor) u8() (byte, error) {
	if cu.pos >= len(cu.buf) {
		return 0, errCursorUnderflow
	}
	b := cu.buf[cu.pos]
	cu.pos++
	return b, nil
}

func (cu *cursor) u32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := cu.u8()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 35 {
			return 0, fmt.Errorf("%w: LEB128 overflow", ErrModuleError)
		}
	}
	return result, nil
}

func (cu *cursor) s32() (int32, error) {
	v, err := cu.s64(32)
	return int32(v), err
}

// s64 reads a signed LEB128 value of at most bits significant bits.
func (cu *cursor) s64(bits uint) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = cu.u8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, fmt.Errorf("%w: LEB128 overflow", ErrModuleError)
		}
	}
	if shift < bits && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func (cu *cursor) memarg() (offset uint32, align uint32, err error) {
	if align, err = cu.u32(); err != nil {
		return 0, 0, err
	}
	if offset, err = cu.u32(); err != nil {
		return 0, 0, err
	}
	return offset, align, nil
}

// blockType decodes a WASM blocktype immediate (signed LEB128 s33) into its
// param/result arity, resolving a positive value against the module's type
// section for multi-value blocks.
func (w *bodyWalker) blockType(cu *cursor) (paramArity, resultArity uint32, err error) {
	v, err := cu.s64(33)
	if err != nil {
		return 0, 0, err
	}
	switch v {
	case -64: // 0x40, empty
		return 0, 0, nil
	case -1, -2: // i32, i64
		return 0, 1, nil
	case -3, -4: // f32, f64
		return 0, 0, notSupported("floating-point block result type")
	case -16, -17: // funcref, externref
		return 0, 1, nil
	default:
		if v < 0 || int(v) >= len(w.c.mod.Types) {
			return 0, 0, fmt.Errorf("%w: blocktype %d out of range", ErrModuleError, v)
		}
		ft := w.c.mod.Types[v]
		return uint32(len(ft.Params)), uint32(len(ft.Results)), nil
	}
}
