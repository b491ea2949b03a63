package compiler

// Minimal WASM binary builders for the end-to-end compiler tests. Each
// builder hand-encodes a real WASM module byte-for-byte against wasmmod's
// documented section/LEB128 format, rather than a simplified stand-in, so
// these tests exercise the same Decode path production modules go through.

import (
	"bytes"
	"encoding/binary"
)

// Raw WASM opcodes used by the fixture builders below.
const (
	opI32Const = 0x41
	opI32Add   = 0x6A
	opCall     = 0x10
	opEnd      = 0x0B
	opBlock    = 0x02
	opLocalGet = 0x20
	opBrTable  = 0x0E
	opBr       = 0x0C
	opVoidType = 0x40
	opI32Type  = 0x7F
)

func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

func sleb128(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7F)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func section(id byte, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(id)
	buf.Write(uleb128(uint32(len(body))))
	buf.Write(body)
	return buf.Bytes()
}

func name(s string) []byte {
	var buf bytes.Buffer
	buf.Write(uleb128(uint32(len(s))))
	buf.WriteString(s)
	return buf.Bytes()
}

func moduleHeader() []byte {
	h := make([]byte, 8)
	binary.LittleEndian.PutUint32(h[0:4], 0x6D736100)
	binary.LittleEndian.PutUint32(h[4:8], 1)
	return h
}

// funcTypeEntry encodes one type-section entry: func tag, params, results.
func funcTypeEntry(params, results []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x60)
	buf.Write(uleb128(uint32(len(params))))
	buf.Write(params)
	buf.Write(uleb128(uint32(len(results))))
	buf.Write(results)
	return buf.Bytes()
}

// codeEntry wraps a locals-declaration (empty here) and instruction body
// into one code-section function entry, length-prefixed.
func codeEntry(localGroups []byte, body []byte) []byte {
	var content bytes.Buffer
	if localGroups == nil {
		content.Write(uleb128(0)) // zero local groups
	} else {
		content.Write(localGroups)
	}
	content.Write(body)
	var buf bytes.Buffer
	buf.Write(uleb128(uint32(content.Len())))
	buf.Write(content.Bytes())
	return buf.Bytes()
}

// buildAddModule builds a single exported function "add" with no
// parameters that returns i32.const(1) + i32.const(2) == 3.
func buildAddModule() []byte {
	var buf bytes.Buffer
	buf.Write(moduleHeader())

	typeSec := append(uleb128(1), funcTypeEntry(nil, []byte{opI32Type})...)
	buf.Write(section(1, typeSec))

	funcSec := append(uleb128(1), uleb128(0)...) // one function, type index 0
	buf.Write(section(3, funcSec))

	exportSec := append(uleb128(1), name("add")...)
	exportSec = append(exportSec, 0x00 /* ExternFunc */)
	exportSec = append(exportSec, uleb128(0)...)
	buf.Write(section(7, exportSec))

	var body bytes.Buffer
	body.WriteByte(opI32Const)
	body.Write(sleb128(1))
	body.WriteByte(opI32Const)
	body.Write(sleb128(2))
	body.WriteByte(opI32Add)
	body.WriteByte(opEnd)

	codeSec := append(uleb128(1), codeEntry(nil, body.Bytes())...)
	buf.Write(section(10, codeSec))

	return buf.Bytes()
}

// buildSelfRecursiveModule builds a single exported function "loop_"
// that calls itself once (func index 0) before returning, so its body
// lowers to exactly one internal call, itself rewritten to a single Br at
// Finalize.
func buildSelfRecursiveModule() []byte {
	var buf bytes.Buffer
	buf.Write(moduleHeader())

	typeSec := append(uleb128(1), funcTypeEntry([]byte{opI32Type}, []byte{opI32Type})...)
	buf.Write(section(1, typeSec))

	funcSec := append(uleb128(1), uleb128(0)...)
	buf.Write(section(3, funcSec))

	exportSec := append(uleb128(1), name("loop_")...)
	exportSec = append(exportSec, 0x00)
	exportSec = append(exportSec, uleb128(0)...)
	buf.Write(section(7, exportSec))

	var body bytes.Buffer
	body.WriteByte(opLocalGet)
	body.Write(uleb128(0))
	body.WriteByte(opCall)
	body.Write(uleb128(0)) // self-call, func index 0
	body.WriteByte(opEnd)

	codeSec := append(uleb128(1), codeEntry(nil, body.Bytes())...)
	buf.Write(section(10, codeSec))

	return buf.Bytes()
}

// buildBrTableModule builds an exported function "dispatch" whose body
// is a 3-target br_table inside an enclosing block, each arm converging on
// the same tail (i32.const arm-specific value).
func buildBrTableModule() []byte {
	var buf bytes.Buffer
	buf.Write(moduleHeader())

	typeSec := append(uleb128(1), funcTypeEntry([]byte{opI32Type}, []byte{opI32Type})...)
	buf.Write(section(1, typeSec))

	funcSec := append(uleb128(1), uleb128(0)...)
	buf.Write(section(3, funcSec))

	exportSec := append(uleb128(1), name("dispatch")...)
	exportSec = append(exportSec, 0x00)
	exportSec = append(exportSec, uleb128(0)...)
	buf.Write(section(7, exportSec))

	// block $outer (result i32)
	//   block $b2
	//     block $b1
	//       block $b0
	//         local.get 0
	//         br_table $b0 $b1 $b2 $b2
	//       end
	//       i32.const 0
	//       br $outer
	//     end
	//     i32.const 1
	//     br $outer
	//   end
	//   i32.const 2
	// end
	var body bytes.Buffer
	body.WriteByte(opBlock)
	body.WriteByte(opI32Type)
	body.WriteByte(opBlock)
	body.WriteByte(opVoidType)
	body.WriteByte(opBlock)
	body.WriteByte(opVoidType)
	body.WriteByte(opBlock)
	body.WriteByte(opVoidType)
	body.WriteByte(opLocalGet)
	body.Write(uleb128(0))
	body.WriteByte(opBrTable)
	body.Write(uleb128(3)) // 3 explicit targets + default
	body.Write(uleb128(0))
	body.Write(uleb128(1))
	body.Write(uleb128(2))
	body.Write(uleb128(2)) // default
	body.WriteByte(opEnd)  // end $b0
	body.WriteByte(opI32Const)
	body.Write(sleb128(0))
	body.WriteByte(opBr)
	body.Write(uleb128(2)) // br $outer
	body.WriteByte(opEnd)  // end $b1
	body.WriteByte(opI32Const)
	body.Write(sleb128(1))
	body.WriteByte(opBr)
	body.Write(uleb128(1)) // br $outer
	body.WriteByte(opEnd)  // end $b2
	body.WriteByte(opI32Const)
	body.Write(sleb128(2))
	body.WriteByte(opEnd) // end $outer
	body.WriteByte(opEnd) // end function

	codeSec := append(uleb128(1), codeEntry(nil, body.Bytes())...)
	buf.Write(section(10, codeSec))

	return buf.Bytes()
}

// buildUnresolvableImportModule builds an exported function "call_host"
// that imports a host function no linker entry resolves, and calls it.
func buildUnresolvableImportModule() []byte {
	var buf bytes.Buffer
	buf.Write(moduleHeader())

	typeSec := append(uleb128(1), funcTypeEntry(nil, nil)...)
	buf.Write(section(1, typeSec))

	var importSec bytes.Buffer
	importSec.Write(uleb128(1))
	importSec.Write(name("env"))
	importSec.Write(name("missing_host_fn"))
	importSec.WriteByte(0x00) // ExternFunc
	importSec.Write(uleb128(0))
	buf.Write(section(2, importSec.Bytes()))

	funcSec := append(uleb128(1), uleb128(0)...) // one local function, type index 0
	buf.Write(section(3, funcSec))

	exportSec := append(uleb128(1), name("call_host")...)
	exportSec = append(exportSec, 0x00)
	exportSec = append(exportSec, uleb128(1)...) // combined index space: import is 0, this is 1
	buf.Write(section(7, exportSec))

	var body bytes.Buffer
	body.WriteByte(opCall)
	body.Write(uleb128(0)) // call the unresolved import
	body.WriteByte(opEnd)

	codeSec := append(uleb128(1), codeEntry(nil, body.Bytes())...)
	buf.Write(section(10, codeSec))

	return buf.Bytes()
}
