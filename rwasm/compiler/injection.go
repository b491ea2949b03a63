package compiler

// Injection records a region of the code section, in instruction-index
// units, that was synthesized during lowering and therefore did not exist
// in the source WASM. OriginLen is how many source-level instructions this
// region replaces (0 for the leading prelude, which exists only in rWASM).
// Finalize uses the ledger to cross-check the directly-patched branch
// displacements: no branch from outside a segment may land strictly inside
// one, and the prelude segment must sit at instruction 0.
type Injection struct {
	Begin     int
	End       int
	OriginLen int
}

// delta is how many instructions this injection net-added relative to the
// source; lowering only ever expands, so a negative delta marks a
// bookkeeping error.
func (inj Injection) delta() int {
	return (inj.End - inj.Begin) - inj.OriginLen
}

// FuncSourceMap is one entry of the compiler's source map: a function's
// name, its internal index, and the byte span it occupies in the finalized
// program.
type FuncSourceMap struct {
	FuncName string
	FuncIdx  uint32
	Position int
	Length   int
}
