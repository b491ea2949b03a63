// Package opcode defines the closed rWASM instruction set and its
// fixed-width binary encoding. Every instruction has a 1-byte tag and a
// fixed per-opcode immediate layout; there is no padding and no alignment.
package opcode

import "fmt"

// Tag identifies an rWASM instruction's wire-format opcode byte.
type Tag byte

const (
	Unreachable Tag = iota
	ConsumeFuel
	Drop
	Select
	LocalGet
	LocalSet
	LocalTee
	Br
	BrIfEqz
	BrIfNez
	BrAdjust
	BrAdjustIfNez
	BrTable
	Return
	ReturnIfNez
	ReturnCall
	ReturnCallInternal
	ReturnCallIndirect
	Call
	CallInternal
	CallIndirect
	GlobalGet
	GlobalSet
	I32Load
	I32Load8S
	I32Load8U
	I32Load16S
	I32Load16U
	I64Load
	I64Load8S
	I64Load8U
	I64Load16S
	I64Load16U
	I64Load32S
	I64Load32U
	I32Store
	I32Store8
	I32Store16
	I64Store
	I64Store8
	I64Store16
	I64Store32
	MemorySize
	MemoryGrow
	MemoryFill
	MemoryCopy
	MemoryInit
	DataDrop
	TableSize
	TableGrow
	TableFill
	TableGet
	TableSet
	TableCopy
	TableInit
	ElemStore
	ElemDrop
	RefFunc
	I32Const
	I64Const
	I32Eqz
	I32Eq
	I32Ne
	I32LtS
	I32LtU
	I32GtS
	I32GtU
	I32LeS
	I32LeU
	I32GeS
	I32GeU
	I64Eqz
	I64Eq
	I64Ne
	I64LtS
	I64LtU
	I64GtS
	I64GtU
	I64LeS
	I64LeU
	I64GeS
	I64GeU
	I32Clz
	I32Ctz
	I32Popcnt
	I32Add
	I32Sub
	I32Mul
	I32DivS
	I32DivU
	I32RemS
	I32RemU
	I32And
	I32Or
	I32Xor
	I32Shl
	I32ShrS
	I32ShrU
	I32Rotl
	I32Rotr
	I64Clz
	I64Ctz
	I64Popcnt
	I64Add
	I64Sub
	I64Mul
	I64DivS
	I64DivU
	I64RemS
	I64RemU
	I64And
	I64Or
	I64Xor
	I64Shl
	I64ShrS
	I64ShrU
	I64Rotl
	I64Rotr
	I32WrapI64
	I64ExtendI32S
	I64ExtendI32U
	I32Extend8S
	I32Extend16S
	I64Extend8S
	I64Extend16S
	I64Extend32S
	TypeCheck
	maxTag
)

var names = [maxTag]string{
	Unreachable: "unreachable", ConsumeFuel: "consume_fuel", Drop: "drop", Select: "select",
	LocalGet: "local.get", LocalSet: "local.set", LocalTee: "local.tee",
	Br: "br", BrIfEqz: "br_if_eqz", BrIfNez: "br_if_nez", BrAdjust: "br_adjust", BrAdjustIfNez: "br_adjust_if_nez",
	BrTable: "br_table", Return: "return", ReturnIfNez: "return_if_nez",
	ReturnCall: "return_call", ReturnCallInternal: "return_call_internal", ReturnCallIndirect: "return_call_indirect",
	Call: "call", CallInternal: "call_internal", CallIndirect: "call_indirect",
	GlobalGet: "global.get", GlobalSet: "global.set",
	I32Load: "i32.load", I32Load8S: "i32.load8_s", I32Load8U: "i32.load8_u", I32Load16S: "i32.load16_s", I32Load16U: "i32.load16_u",
	I64Load: "i64.load", I64Load8S: "i64.load8_s", I64Load8U: "i64.load8_u", I64Load16S: "i64.load16_s", I64Load16U: "i64.load16_u",
	I64Load32S: "i64.load32_s", I64Load32U: "i64.load32_u",
	I32Store: "i32.store", I32Store8: "i32.store8", I32Store16: "i32.store16",
	I64Store: "i64.store", I64Store8: "i64.store8", I64Store16: "i64.store16", I64Store32: "i64.store32",
	MemorySize: "memory.size", MemoryGrow: "memory.grow", MemoryFill: "memory.fill", MemoryCopy: "memory.copy",
	MemoryInit: "memory.init", DataDrop: "data.drop",
	TableSize: "table.size", TableGrow: "table.grow", TableFill: "table.fill", TableGet: "table.get",
	TableSet: "table.set", TableCopy: "table.copy", TableInit: "table.init",
	ElemStore: "elem.store", ElemDrop: "elem.drop", RefFunc: "ref.func",
	I32Const: "i32.const", I64Const: "i64.const",
	I32Eqz: "i32.eqz", I32Eq: "i32.eq", I32Ne: "i32.ne", I32LtS: "i32.lt_s", I32LtU: "i32.lt_u",
	I32GtS: "i32.gt_s", I32GtU: "i32.gt_u", I32LeS: "i32.le_s", I32LeU: "i32.le_u", I32GeS: "i32.ge_s", I32GeU: "i32.ge_u",
	I64Eqz: "i64.eqz", I64Eq: "i64.eq", I64Ne: "i64.ne", I64LtS: "i64.lt_s", I64LtU: "i64.lt_u",
	I64GtS: "i64.gt_s", I64GtU: "i64.gt_u", I64LeS: "i64.le_s", I64LeU: "i64.le_u", I64GeS: "i64.ge_s", I64GeU: "i64.ge_u",
	I32Clz: "i32.clz", I32Ctz: "i32.ctz", I32Popcnt: "i32.popcnt",
	I32Add: "i32.add", I32Sub: "i32.sub", I32Mul: "i32.mul", I32DivS: "i32.div_s", I32DivU: "i32.div_u",
	I32RemS: "i32.rem_s", I32RemU: "i32.rem_u", I32And: "i32.and", I32Or: "i32.or", I32Xor: "i32.xor",
	I32Shl: "i32.shl", I32ShrS: "i32.shr_s", I32ShrU: "i32.shr_u", I32Rotl: "i32.rotl", I32Rotr: "i32.rotr",
	I64Clz: "i64.clz", I64Ctz: "i64.ctz", I64Popcnt: "i64.popcnt",
	I64Add: "i64.add", I64Sub: "i64.sub", I64Mul: "i64.mul", I64DivS: "i64.div_s", I64DivU: "i64.div_u",
	I64RemS: "i64.rem_s", I64RemU: "i64.rem_u", I64And: "i64.and", I64Or: "i64.or", I64Xor: "i64.xor",
	I64Shl: "i64.shl", I64ShrS: "i64.shr_s", I64ShrU: "i64.shr_u", I64Rotl: "i64.rotl", I64Rotr: "i64.rotr",
	I32WrapI64: "i32.wrap_i64", I64ExtendI32S: "i64.extend_i32_s", I64ExtendI32U: "i64.extend_i32_u",
	I32Extend8S: "i32.extend8_s", I32Extend16S: "i32.extend16_s",
	I64Extend8S: "i64.extend8_s", I64Extend16S: "i64.extend16_s", I64Extend32S: "i64.extend32_s",
	TypeCheck: "type_check",
}

// String returns the deterministic textual name used by tracing.
func (t Tag) String() string {
	if t < 0 || int(t) >= len(names) || names[t] == "" {
		return fmt.Sprintf("tag(%d)", byte(t))
	}
	return names[t]
}

// Valid reports whether t is a recognized opcode tag.
func (t Tag) Valid() bool {
	return t >= 0 && t < maxTag && names[t] != ""
}

// immKind describes the fixed immediate layout that follows a tag byte.
type immKind byte

const (
	immNone immKind = iota
	immU32          // a single little-endian uint32 (index/depth)
	immI32          // a single little-endian int32 (branch offset)
	immU64          // a single little-endian uint64 (const value)
	immU32U32       // two little-endian uint32s (e.g. memory/table ops with an index + immediate)
	immDropKeep     // two little-endian uint32s: drop, keep
)

var layout = [maxTag]immKind{
	Unreachable: immNone, ConsumeFuel: immU32, Drop: immNone, Select: immNone,
	LocalGet: immU32, LocalSet: immU32, LocalTee: immU32,
	Br: immI32, BrIfEqz: immI32, BrIfNez: immI32, BrAdjust: immI32, BrAdjustIfNez: immI32,
	BrTable: immU32, Return: immDropKeep, ReturnIfNez: immDropKeep,
	ReturnCall: immU32, ReturnCallInternal: immU32, ReturnCallIndirect: immU32,
	Call: immU32, CallInternal: immU32, CallIndirect: immU32,
	GlobalGet: immU32, GlobalSet: immU32,
	I32Load: immU32U32, I32Load8S: immU32U32, I32Load8U: immU32U32, I32Load16S: immU32U32, I32Load16U: immU32U32,
	I64Load: immU32U32, I64Load8S: immU32U32, I64Load8U: immU32U32, I64Load16S: immU32U32, I64Load16U: immU32U32,
	I64Load32S: immU32U32, I64Load32U: immU32U32,
	I32Store: immU32U32, I32Store8: immU32U32, I32Store16: immU32U32,
	I64Store: immU32U32, I64Store8: immU32U32, I64Store16: immU32U32, I64Store32: immU32U32,
	MemorySize: immNone, MemoryGrow: immNone, MemoryFill: immNone, MemoryCopy: immNone,
	MemoryInit: immU32, DataDrop: immU32,
	TableSize: immU32, TableGrow: immU32, TableFill: immU32, TableGet: immU32,
	TableSet: immU32, TableCopy: immU32U32, TableInit: immU32U32,
	ElemStore: immU32, ElemDrop: immU32, RefFunc: immU32,
	I32Const: immU64, I64Const: immU64,
	TypeCheck: immU32,
}

func immLayout(t Tag) immKind {
	if t >= 0 && int(t) < len(layout) {
		return layout[t]
	}
	return immNone
}
