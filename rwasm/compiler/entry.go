package compiler

// initPreludeValue is the synthetic return address pushed before entering
// the state router: a magic constant distinguishing the router's own frame
// from genuine call continuations, so the runtime knows when a Return
// means "exit to the host".
const initPreludeValue = 1000

// EntryKind discriminates the FuncOrExport variants.
type EntryKind int

const (
	EntryExport EntryKind = iota
	EntryFunc
	EntryGlobal
	EntryStateRouter
)

// RouterInstructions names the three locals a state-router dispatch reads:
// the state tag, the packed input pointer, and the output pointer.
type RouterInstructions struct {
	StateIdx  uint32
	InputIdx  uint32
	OutputIdx uint32
}

// FuncOrExport selects the compiler's entrypoint.
type FuncOrExport struct {
	Kind EntryKind

	// Export: the name of an exported function.
	Export string
	// Func: a function index directly.
	Func uint32
	// Global: the opcode tag of a global-initializer entry. Rarely used;
	// not a callable entrypoint.
	GlobalOpcode byte

	// StateRouter: a dispatch table keyed by state tag, func index per
	// state, and the input/output/state local layout.
	States  []uint32
	Routing RouterInstructions
}

// ExportEntry builds an Export-kind FuncOrExport.
func ExportEntry(name string) FuncOrExport { return FuncOrExport{Kind: EntryExport, Export: name} }

// FuncEntry builds a Func-kind FuncOrExport.
func FuncEntry(idx uint32) FuncOrExport { return FuncOrExport{Kind: EntryFunc, Func: idx} }

// StateRouterEntry builds a StateRouter-kind FuncOrExport.
func StateRouterEntry(states []uint32, routing RouterInstructions) FuncOrExport {
	return FuncOrExport{Kind: EntryStateRouter, States: states, Routing: routing}
}
