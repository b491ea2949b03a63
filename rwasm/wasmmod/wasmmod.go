// Package wasmmod decodes the WebAssembly binary module format into the
// section-level structure the rWASM compiler walks. It is the "external,
// reused" module parser the compiler sits on top of: it does not interpret
// instruction semantics, only section framing and LEB128-encoded fields.
package wasmmod

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WASM binary format constants.
const (
	Magic   uint32 = 0x6D736100 // "\0asm"
	Version uint32 = 1
	MinSize        = 8
)

// Section IDs per the WebAssembly core specification.
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionTable    byte = 4
	SectionMemory   byte = 5
	SectionGlobal   byte = 6
	SectionExport   byte = 7
	SectionStart    byte = 8
	SectionElement  byte = 9
	SectionCode     byte = 10
	SectionData     byte = 11
)

// Export/import external kinds.
const (
	ExternFunc   byte = 0
	ExternTable  byte = 1
	ExternMemory byte = 2
	ExternGlobal byte = 3
)

var (
	ErrTooShort      = errors.New("wasmmod: bytecode too short for a module header")
	ErrBadMagic      = errors.New("wasmmod: invalid magic bytes")
	ErrBadVersion    = errors.New("wasmmod: unsupported module version")
	ErrBadSection    = errors.New("wasmmod: malformed section header")
	ErrSectionLength = errors.New("wasmmod: section extends past module end")
	ErrLEB128        = errors.New("wasmmod: truncated LEB128 value")
)

// Section is one raw section as it appears in the module.
type Section struct {
	ID   byte
	Data []byte
}

// FuncType is an entry of the type section.
type FuncType struct {
	Params  []byte // value types, 0x7F=i32 0x7E=i64 0x7D=f32 0x7C=f64
	Results []byte
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Field  string
	Kind   byte
	// TypeIndex is meaningful when Kind == ExternFunc.
	TypeIndex uint32
}

// Global is one entry of the global section.
type Global struct {
	ValType    byte
	Mutable    bool
	InitExpr   []byte // raw constant expression bytes, ending in 0x0B
	InitIsFunc bool   // not set by Decode: a ref.func initializer stays in InitExpr
	FuncIndex  uint32 // valid when InitIsFunc
}

// Table describes a table section entry.
type Table struct {
	ElemType byte
	Min      uint32
	Max      uint32
	HasMax   bool
}

// Memory describes a memory section entry, in 64KiB pages.
type Memory struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// ElementKind distinguishes the three WASM element-segment flavors.
type ElementKind int

const (
	ElementActive ElementKind = iota
	ElementPassive
	ElementDeclared
)

// Element is one entry of the element section.
type Element struct {
	Kind       ElementKind
	TableIndex uint32
	OffsetExpr []byte
	FuncIdxs   []uint32
}

// DataKind distinguishes active and passive data segments.
type DataKind int

const (
	DataActive DataKind = iota
	DataPassive
)

// Data is one entry of the data section.
type Data struct {
	Kind       DataKind
	MemIndex   uint32
	OffsetExpr []byte
	Bytes      []byte
}

// Func is one entry of the code section: locals plus the raw instruction
// stream (still in source WASM opcode form).
type Func struct {
	Locals []LocalGroup
	Body   []byte
}

// LocalGroup is a run-length-encoded group of same-typed locals.
type LocalGroup struct {
	Count   uint32
	ValType byte
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Module is the fully decoded set of sections the compiler needs.
type Module struct {
	Types      []FuncType
	Imports    []Import
	FuncTypes  []uint32 // function section: type index per module-defined func
	Tables     []Table
	Memories   []Memory
	Globals    []Global
	Exports    []Export
	StartFunc  uint32
	HasStart   bool
	Elements   []Element
	Codes      []Func
	Data       []Data
	DataCount  uint32
	HasDataCnt bool
}

// ImportFuncCount returns the number of function imports, which occupy the
// low indices of the combined function index space.
func (m *Module) ImportFuncCount() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == ExternFunc {
			n++
		}
	}
	return n
}

// FuncTypeIndex returns the type-section index for a function in the
// combined (imports + module-defined) index space.
func (m *Module) FuncTypeIndex(funcIdx uint32) (uint32, error) {
	importFuncs := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind != ExternFunc {
			continue
		}
		if importFuncs == funcIdx {
			return imp.TypeIndex, nil
		}
		importFuncs++
	}
	localIdx := funcIdx - importFuncs
	if int(localIdx) >= len(m.FuncTypes) {
		return 0, fmt.Errorf("wasmmod: function index %d out of range", funcIdx)
	}
	return m.FuncTypes[localIdx], nil
}

// TotalFuncCount returns imported funcs plus module-defined funcs.
func (m *Module) TotalFuncCount() int {
	return m.ImportFuncCount() + len(m.FuncTypes)
}

// Decode parses a WebAssembly binary module into a Module. It validates
// section framing and well-formedness of lengths but does not validate
// instruction-level type soundness; that is the compiler's job.
func Decode(code []byte) (*Module, error) {
	if len(code) < MinSize {
		return nil, ErrTooShort
	}
	magic := binary.LittleEndian.Uint32(code[0:4])
	if magic != Magic {
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(code[4:8])
	if version != Version {
		return nil, ErrBadVersion
	}

	sections, err := splitSections(code[8:])
	if err != nil {
		return nil, err
	}

	mod := &Module{}
	seen := make(map[byte]bool)
	for _, sec := range sections {
		if sec.ID != SectionCustom && seen[sec.ID] {
			return nil, fmt.Errorf("%w: duplicate section id %d", ErrBadSection, sec.ID)
		}
		seen[sec.ID] = true

		switch sec.ID {
		case SectionCustom:
			// Skipped: names, producers, source maps are not needed here.
		case SectionType:
			if mod.Types, err = decodeTypeSection(sec.Data); err != nil {
				return nil, err
			}
		case SectionImport:
			if mod.Imports, err = decodeImportSection(sec.Data); err != nil {
				return nil, err
			}
		case SectionFunction:
			if mod.FuncTypes, err = decodeFunctionSection(sec.Data); err != nil {
				return nil, err
			}
		case SectionTable:
			if mod.Tables, err = decodeTableSection(sec.Data); err != nil {
				return nil, err
			}
		case SectionMemory:
			if mod.Memories, err = decodeMemorySection(sec.Data); err != nil {
				return nil, err
			}
		case SectionGlobal:
			if mod.Globals, err = decodeGlobalSection(sec.Data); err != nil {
				return nil, err
			}
		case SectionExport:
			if mod.Exports, err = decodeExportSection(sec.Data); err != nil {
				return nil, err
			}
		case SectionStart:
			idx, _, err := decodeU32(sec.Data, 0)
			if err != nil {
				return nil, err
			}
			mod.StartFunc, mod.HasStart = idx, true
		case SectionElement:
			if mod.Elements, err = decodeElementSection(sec.Data); err != nil {
				return nil, err
			}
		case 12: // DataCount section
			cnt, _, err := decodeU32(sec.Data, 0)
			if err != nil {
				return nil, err
			}
			mod.DataCount, mod.HasDataCnt = cnt, true
		case SectionCode:
			if mod.Codes, err = decodeCodeSection(sec.Data); err != nil {
				return nil, err
			}
		case SectionData:
			if mod.Data, err = decodeDataSection(sec.Data); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown section id %d", ErrBadSection, sec.ID)
		}
	}
	return mod, nil
}

func splitSections(buf []byte) ([]Section, error) {
	var sections []Section
	off := 0
	for off < len(buf) {
		if off >= len(buf) {
			break
		}
		id := buf[off]
		off++
		size, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		if off+int(size) > len(buf) {
			return nil, ErrSectionLength
		}
		sections = append(sections, Section{ID: id, Data: buf[off : off+int(size)]})
		off += int(size)
	}
	return sections, nil
}

// decodeU32 reads an unsigned LEB128 value starting at off.
func decodeU32(buf []byte, off int) (uint32, int, error) {
	var result uint32
	var shift uint
	n := 0
	for {
		if off+n >= len(buf) {
			return 0, 0, ErrLEB128
		}
		b := buf[off+n]
		n++
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 35 {
			return 0, 0, ErrLEB128
		}
	}
	return result, n, nil
}

// decodeS64 reads a signed LEB128 value starting at off.
func decodeS64(buf []byte, off int) (int64, int, error) {
	var result int64
	var shift uint
	n := 0
	var b byte
	for {
		if off+n >= len(buf) {
			return 0, 0, ErrLEB128
		}
		b = buf[off+n]
		n++
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, 0, ErrLEB128
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, nil
}

func decodeName(buf []byte, off int) (string, int, error) {
	ln, n, err := decodeU32(buf, off)
	if err != nil {
		return "", 0, err
	}
	start := off + n
	end := start + int(ln)
	if end > len(buf) {
		return "", 0, ErrSectionLength
	}
	return string(buf[start:end]), n + int(ln), nil
}

func decodeTypeSection(buf []byte) ([]FuncType, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	types := make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		if off >= len(buf) || buf[off] != 0x60 {
			return nil, fmt.Errorf("%w: expected func type tag 0x60", ErrBadSection)
		}
		off++
		pcount, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		params := append([]byte(nil), buf[off:off+int(pcount)]...)
		off += int(pcount)
		rcount, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		results := append([]byte(nil), buf[off:off+int(rcount)]...)
		off += int(rcount)
		types = append(types, FuncType{Params: params, Results: results})
	}
	return types, nil
}

func decodeImportSection(buf []byte) ([]Import, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	imports := make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		mod, n, err := decodeName(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		field, n, err := decodeName(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		if off >= len(buf) {
			return nil, ErrSectionLength
		}
		kind := buf[off]
		off++
		imp := Import{Module: mod, Field: field, Kind: kind}
		switch kind {
		case ExternFunc:
			idx, n, err := decodeU32(buf, off)
			if err != nil {
				return nil, err
			}
			off += n
			imp.TypeIndex = idx
		case ExternTable:
			off++ // elem type
			_, n, hasMax, err := decodeLimits(buf, off)
			if err != nil {
				return nil, err
			}
			_ = hasMax
			off += n
		case ExternMemory:
			_, n, _, err := decodeLimits(buf, off)
			if err != nil {
				return nil, err
			}
			off += n
		case ExternGlobal:
			off++ // val type
			off++ // mutability flag
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

// decodeLimits reads a limits block (flag, min[, max]) and returns the
// number of bytes consumed.
func decodeLimits(buf []byte, off int) (min uint32, n int, hasMax bool, err error) {
	if off >= len(buf) {
		return 0, 0, false, ErrSectionLength
	}
	flag := buf[off]
	total := 1
	minVal, m, err := decodeU32(buf, off+total)
	if err != nil {
		return 0, 0, false, err
	}
	total += m
	if flag&0x01 != 0 {
		_, m, err := decodeU32(buf, off+total)
		if err != nil {
			return 0, 0, false, err
		}
		total += m
		return minVal, total, true, nil
	}
	return minVal, total, false, nil
}

func decodeFunctionSection(buf []byte) ([]uint32, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		idx, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, idx)
	}
	return out, nil
}

func decodeTableSection(buf []byte) ([]Table, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Table, 0, count)
	for i := uint32(0); i < count; i++ {
		if off >= len(buf) {
			return nil, ErrSectionLength
		}
		elemType := buf[off]
		off++
		minVal, n, hasMax, err := decodeLimits(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		t := Table{ElemType: elemType, Min: minVal, HasMax: hasMax}
		if hasMax {
			maxVal, _, err := decodeU32(buf, off-n+1)
			_ = maxVal
			_ = err
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeMemorySection(buf []byte) ([]Memory, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Memory, 0, count)
	for i := uint32(0); i < count; i++ {
		minVal, n, hasMax, err := decodeLimits(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, Memory{Min: minVal, HasMax: hasMax})
	}
	return out, nil
}

func decodeGlobalSection(buf []byte) ([]Global, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Global, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+1 >= len(buf) {
			return nil, ErrSectionLength
		}
		valType := buf[off]
		mutable := buf[off+1] != 0
		off += 2
		start := off
		for off < len(buf) && buf[off] != 0x0B {
			off++
		}
		if off >= len(buf) {
			return nil, ErrSectionLength
		}
		off++ // consume 0x0B
		out = append(out, Global{ValType: valType, Mutable: mutable, InitExpr: buf[start : off-1]})
	}
	return out, nil
}

func decodeExportSection(buf []byte) ([]Export, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		name, n, err := decodeName(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		if off >= len(buf) {
			return nil, ErrSectionLength
		}
		kind := buf[off]
		off++
		idx, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, Export{Name: name, Kind: kind, Index: idx})
	}
	return out, nil
}

func decodeElementSection(buf []byte) ([]Element, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, count)
	for i := uint32(0); i < count; i++ {
		flags, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		el := Element{}
		switch flags {
		case 0:
			el.Kind = ElementActive
			start := off
			for off < len(buf) && buf[off] != 0x0B {
				off++
			}
			off++
			el.OffsetExpr = buf[start : off-1]
			cnt, n, err := decodeU32(buf, off)
			if err != nil {
				return nil, err
			}
			off += n
			for j := uint32(0); j < cnt; j++ {
				fi, n, err := decodeU32(buf, off)
				if err != nil {
					return nil, err
				}
				off += n
				el.FuncIdxs = append(el.FuncIdxs, fi)
			}
		case 1:
			el.Kind = ElementPassive
			off++ // elem kind byte
			cnt, n, err := decodeU32(buf, off)
			if err != nil {
				return nil, err
			}
			off += n
			for j := uint32(0); j < cnt; j++ {
				fi, n, err := decodeU32(buf, off)
				if err != nil {
					return nil, err
				}
				off += n
				el.FuncIdxs = append(el.FuncIdxs, fi)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported element segment flags %d", ErrBadSection, flags)
		}
		out = append(out, el)
	}
	return out, nil
}

func decodeCodeSection(buf []byte) ([]Func, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Func, 0, count)
	for i := uint32(0); i < count; i++ {
		size, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		bodyEnd := off + int(size)
		if bodyEnd > len(buf) {
			return nil, ErrSectionLength
		}
		body := buf[off:bodyEnd]
		locals, ln, err := decodeLocals(body)
		if err != nil {
			return nil, err
		}
		out = append(out, Func{Locals: locals, Body: body[ln:]})
		off = bodyEnd
	}
	return out, nil
}

func decodeLocals(buf []byte) ([]LocalGroup, int, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, 0, err
	}
	groups := make([]LocalGroup, 0, count)
	for i := uint32(0); i < count; i++ {
		n, m, err := decodeU32(buf, off)
		if err != nil {
			return nil, 0, err
		}
		off += m
		if off >= len(buf) {
			return nil, 0, ErrSectionLength
		}
		vt := buf[off]
		off++
		groups = append(groups, LocalGroup{Count: n, ValType: vt})
	}
	return groups, off, nil
}

func decodeDataSection(buf []byte) ([]Data, error) {
	count, off, err := decodeU32(buf, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Data, 0, count)
	for i := uint32(0); i < count; i++ {
		flags, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		d := Data{}
		switch flags {
		case 0:
			d.Kind = DataActive
			start := off
			for off < len(buf) && buf[off] != 0x0B {
				off++
			}
			off++
			d.OffsetExpr = buf[start : off-1]
		case 1:
			d.Kind = DataPassive
		default:
			return nil, fmt.Errorf("%w: unsupported data segment flags %d", ErrBadSection, flags)
		}
		size, n, err := decodeU32(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		end := off + int(size)
		if end > len(buf) {
			return nil, ErrSectionLength
		}
		d.Bytes = append([]byte(nil), buf[off:end]...)
		off = end
		out = append(out, d)
	}
	return out, nil
}

// EvalConstI64 evaluates a restricted constant expression (i32.const,
// i64.const, or a single global.get of an imported immutable global) to an
// i64, as used for global initializers and segment offsets. extendedConst
// additionally permits i32/i64 add, sub and mul over the two top values;
// i32 results wrap to 32 bits.
func EvalConstI64(expr []byte, globalInit func(idx uint32) (int64, bool), extendedConst bool) (int64, bool, error) {
	var stack []int64
	off := 0
	for off < len(expr) {
		op := expr[off]
		off++
		switch op {
		case 0x41: // i32.const
			v, n, err := decodeS64(expr, off)
			if err != nil {
				return 0, false, err
			}
			off += n
			stack = append(stack, int32ToI64(int32(v)))
		case 0x42: // i64.const
			v, n, err := decodeS64(expr, off)
			if err != nil {
				return 0, false, err
			}
			off += n
			stack = append(stack, v)
		case 0x23: // global.get
			idx, n, err := decodeU32(expr, off)
			if err != nil {
				return 0, false, err
			}
			off += n
			if globalInit == nil {
				return 0, false, fmt.Errorf("wasmmod: global.get in const expr without resolver")
			}
			v, ok := globalInit(idx)
			if !ok {
				return 0, false, nil
			}
			stack = append(stack, v)
		case 0x6A, 0x6B, 0x6C, 0x7C, 0x7D, 0x7E: // i32/i64 add, sub, mul
			if !extendedConst || len(stack) < 2 {
				return 0, false, fmt.Errorf("wasmmod: non-static initializer")
			}
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			var r int64
			switch op {
			case 0x6A, 0x7C:
				r = a + b
			case 0x6B, 0x7D:
				r = a - b
			default:
				r = a * b
			}
			if op <= 0x6C {
				r = int32ToI64(int32(r))
			}
			stack = append(stack, r)
		default:
			return 0, false, fmt.Errorf("wasmmod: unsupported const-expr opcode 0x%02x", op)
		}
	}
	if len(stack) != 1 {
		return 0, false, fmt.Errorf("wasmmod: const expr did not produce exactly one value")
	}
	return stack[0], true, nil
}

func int32ToI64(v int32) int64 { return int64(v) }
