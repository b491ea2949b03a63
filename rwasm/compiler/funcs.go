package compiler

import (
	"fmt"

	"github.com/rwasm-project/rwasm/rwasm/opcode"
	"github.com/rwasm-project/rwasm/rwasm/wasmmod"
)

// translateImportFuncs emits, for every host-function import, a thin
// trampoline: TypeCheck against the import's declared signature, relocate
// the caller's pushed continuation below the arguments (the host Call
// opcode expects its arguments directly on top, same as any other call
// target), ConsumeFuel (when fuel metering is on), Call to the resolved
// import index, then Return. Module code that targets one of these indices
// via `call` gets this trampoline's position recorded in funcBeginning
// exactly like a module-defined function, so the two kinds are
// indistinguishable to the call-site lowering in body.go.
func (c *Compiler) translateImportFuncs() error {
	idx := uint32(0)
	for _, imp := range c.mod.Imports {
		if imp.Kind != wasmmod.ExternFunc {
			continue
		}
		entry, err := c.linker.Resolve(imp.Module, imp.Field)
		if err != nil {
			return fmt.Errorf("%w: %s::%s", ErrUnknownImport, imp.Module, imp.Field)
		}
		numParams := c.paramArity(imp.TypeIndex)

		c.funcBeginning[idx] = c.pos()
		c.Emit(opcode.NewU32(opcode.TypeCheck, c.sigIndex(imp.TypeIndex)))
		if !c.cfg.TranslateFuncAsInline {
			c.emitFrameRotate(numParams, numParams+1)
		}
		if c.cfg.FuelConsume && entry.FuelCost > 0 {
			c.Emit(opcode.NewU32(opcode.ConsumeFuel, entry.FuelCost))
			if c.metrics != nil {
				c.metrics.FuelConsumed.Add(float64(entry.FuelCost))
			}
		}
		c.Emit(opcode.NewU32(opcode.Call, entry.ImportIndex))
		c.Emit(opcode.NewDropKeep(opcode.Return, 0, c.resultArity(imp.TypeIndex)))
		idx++
	}
	return nil
}

func (c *Compiler) resultArity(typeIdx uint32) uint32 {
	if int(typeIdx) >= len(c.mod.Types) {
		return 0
	}
	return uint32(len(c.mod.Types[typeIdx].Results))
}

func (c *Compiler) paramArity(typeIdx uint32) uint32 {
	if int(typeIdx) >= len(c.mod.Types) {
		return 0
	}
	return uint32(len(c.mod.Types[typeIdx].Params))
}

// translateFunctions lowers every module-defined function body in index
// order. Each function's start position is recorded in funcBeginning
// before its body is walked, since internal calls (including
// self-recursive ones) may reference it before or after its own
// definition and are resolved only at Finalize time.
//
// A function's prologue is: TypeCheck against its own signature, relocate
// the caller's continuation below its parameters (see emitFrameRotate),
// then reserve its declared locals by pushing a zero per slot. The body
// walker's frame-relative addressing treats slot 0 as the continuation,
// slots [1, numParams] as parameters and the slots above as declared
// locals, a layout fixed for the function's whole activation.
func (c *Compiler) translateFunctions() error {
	importFuncs := uint32(c.mod.ImportFuncCount())
	for i, fn := range c.mod.Codes {
		idx := importFuncs + uint32(i)
		typeIdx, err := c.mod.FuncTypeIndex(idx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrModuleError, err)
		}
		sig := wasmmod.FuncType{}
		if int(typeIdx) < len(c.mod.Types) {
			sig = c.mod.Types[typeIdx]
		}
		numParams := uint32(len(sig.Params))
		numLocals := localCount(fn.Locals)
		results := uint32(len(sig.Results))

		c.funcBeginning[idx] = c.pos()

		contSlots := uint32(1)
		if c.cfg.TranslateFuncAsInline {
			contSlots = 0
		}

		c.Emit(opcode.NewU32(opcode.TypeCheck, c.sigIndex(typeIdx)))
		if contSlots == 1 {
			c.emitFrameRotate(numParams, numParams+1)
		}
		for j := uint32(0); j < numLocals; j++ {
			c.Emit(opcode.NewU64(opcode.I32Const, 0))
		}

		w := &bodyWalker{
			c:         c,
			frame:     frameSize(numParams, numLocals),
			numParams: numParams,
			numLocals: numLocals,
			results:   results,
			contSlots: contSlots,
			height:    frameSize(numParams, numLocals) + contSlots,
		}
		if err := w.translate(fn.Body); err != nil {
			return fmt.Errorf("function %d: %w", idx, err)
		}
	}
	return nil
}

func localCount(groups []wasmmod.LocalGroup) uint32 {
	var n uint32
	for _, g := range groups {
		n += g.Count
	}
	return n
}
