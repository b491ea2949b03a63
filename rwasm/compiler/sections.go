package compiler

import (
	"github.com/rwasm-project/rwasm/rwasm/opcode"
	"github.com/rwasm-project/rwasm/rwasm/wasmmod"
)

// translateSections emits the section-init half of the leading prelude at
// code offset 0, before any router or function body: for each global, its
// initializer; for each table, a reservation of its minimum size; for each
// element segment, its materialization; for each memory, an initial-pages
// directive; for each data segment, its materialization. runTranslate
// records the combined sections-plus-router prelude as one injection
// segment.
func (c *Compiler) translateSections() error {
	if err := c.translateGlobals(); err != nil {
		return err
	}
	if err := c.translateTables(); err != nil {
		return err
	}
	if err := c.translateElements(); err != nil {
		return err
	}
	if err := c.translateMemories(); err != nil {
		return err
	}
	return c.translateData()
}

func (c *Compiler) globalInit(idx uint32) (int64, bool) {
	v, ok := c.globalValues[idx]
	return v, ok
}

// translateGlobals evaluates every global's initializer and emits
// I64Const(value); GlobalSet(i). Initializers other than an i32/i64 const,
// a global.get of an already evaluated global, and (under ExtendedConst)
// add/sub/mul over those fail with NotSupported; ref.func initializers are
// not evaluated and fail the same way. A placeholder value is never
// silently substituted.
func (c *Compiler) translateGlobals() error {
	for i, g := range c.mod.Globals {
		idx := uint32(i)
		v, ok, err := wasmmod.EvalConstI64(g.InitExpr, c.globalInit, c.cfg.ExtendedConst)
		if err != nil {
			return notSupported("non-static global initializer: " + err.Error())
		}
		if !ok {
			return notSupported("non-static global initializer")
		}
		c.globalValues[idx] = v
		c.Emit(opcode.NewU64(opcode.I64Const, uint64(v)))
		c.Emit(opcode.NewU32(opcode.GlobalSet, idx))
	}
	return nil
}

// translateTables reserves each table's minimum size: push a fill value,
// push the minimum size, TableGrow(i), Drop the previous size TableGrow
// returns.
func (c *Compiler) translateTables() error {
	for i, t := range c.mod.Tables {
		c.Emit(opcode.NewU64(opcode.I32Const, 0)) // fill value: null funcref
		c.Emit(opcode.NewU64(opcode.I32Const, uint64(t.Min)))
		c.Emit(opcode.NewU32(opcode.TableGrow, uint32(i)))
		c.Emit(opcode.NewSimple(opcode.Drop))
	}
	return nil
}

// translateElements materializes every element segment: passive segments
// are written into a segment slot via ElemStore; active segments evaluate
// their offset, push each (index, func index) pair via TableSet, and emit
// TableInit/TableGet to fault on out-of-bounds offsets.
func (c *Compiler) translateElements() error {
	for i, el := range c.mod.Elements {
		segIdx := uint32(i)
		switch el.Kind {
		case wasmmod.ElementPassive:
			c.Emit(opcode.NewU32(opcode.ElemStore, segIdx))
		case wasmmod.ElementActive:
			offset, ok, err := wasmmod.EvalConstI64(el.OffsetExpr, c.globalInit, c.cfg.ExtendedConst)
			if err != nil || !ok {
				return notSupported("non-static element segment offset")
			}
			for j, fn := range el.FuncIdxs {
				c.Emit(opcode.NewU64(opcode.I32Const, uint64(offset)+uint64(j)))
				c.Emit(opcode.NewU32(opcode.RefFunc, fn))
				c.Emit(opcode.NewU32(opcode.TableSet, el.TableIndex))
			}
			c.Emit(opcode.NewU32Pair(opcode.TableInit, segIdx, el.TableIndex))
			c.Emit(opcode.NewU32(opcode.TableGet, el.TableIndex))
			c.Emit(opcode.NewSimple(opcode.Drop))
		case wasmmod.ElementDeclared:
			// No runtime effect; declared segments only license ref.func
			// validation, which this compiler does not perform.
		}
	}
	return nil
}

// translateMemories emits a directive (not a real instruction stream entry
// in the strict sense, but represented here as MemoryGrow-from-zero for a
// uniform flat encoding) setting each memory's initial page count.
func (c *Compiler) translateMemories() error {
	for _, m := range c.mod.Memories {
		if m.Min > c.cfg.MaxMemoryPages {
			return ErrMemoryUsageTooBig
		}
		c.Emit(opcode.NewU64(opcode.I32Const, uint64(m.Min)))
		c.Emit(opcode.NewSimple(opcode.MemoryGrow))
		c.Emit(opcode.NewSimple(opcode.Drop))
	}
	return nil
}

// translateData materializes data segments: active segments are written
// via MemoryInit against a pre-reserved data index; passive segments are
// dropped into the data-segment table for later MemoryInit/DataDrop use at
// runtime (no upfront instruction is needed beyond making the bytes
// available, which the runtime does by holding a reference to the source
// module's data section — this compiler's contract is only to emit the
// index wiring).
func (c *Compiler) translateData() error {
	for i, d := range c.mod.Data {
		segIdx := uint32(i)
		if d.Kind != wasmmod.DataActive {
			continue
		}
		offset, ok, err := wasmmod.EvalConstI64(d.OffsetExpr, c.globalInit, c.cfg.ExtendedConst)
		if err != nil || !ok {
			return notSupported("non-static data segment offset")
		}
		c.Emit(opcode.NewU64(opcode.I32Const, uint64(offset)))
		c.Emit(opcode.NewU64(opcode.I32Const, 0))
		c.Emit(opcode.NewU64(opcode.I32Const, uint64(len(d.Bytes))))
		c.Emit(opcode.NewU32(opcode.MemoryInit, segIdx))
		c.Emit(opcode.NewU32(opcode.DataDrop, segIdx))
	}
	return nil
}

// translateStateRouter emits the StateRouter entry variant: a chain of
// "state_tag == k ? call state_k : ..." comparisons terminated by
// Unreachable. Each dispatched call carries the synthetic continuation
// value, so the trailing Return either resumes a real caller or hands
// control back to the host.
func (c *Compiler) translateStateRouter(entry FuncOrExport) error {
	for i, fn := range entry.States {
		c.Emit(opcode.NewU32(opcode.LocalGet, entry.Routing.StateIdx))
		c.Emit(opcode.NewU64(opcode.I32Const, uint64(i)))
		c.Emit(opcode.NewSimple(opcode.I32Eq))
		skip := c.pos()
		c.Emit(opcode.NewI32(opcode.BrIfEqz, 0)) // patched below
		c.Emit(opcode.NewU32(opcode.LocalGet, entry.Routing.InputIdx))
		c.Emit(opcode.NewU32(opcode.LocalGet, entry.Routing.OutputIdx))
		c.Emit(opcode.NewU64(opcode.I32Const, initPreludeValue))
		c.Emit(opcode.NewU32(opcode.CallInternal, fn))
		c.Emit(opcode.NewDropKeep(opcode.Return, 0, 1))
		target := c.pos() - skip
		c.code[skip] = opcode.NewI32(opcode.BrIfEqz, int32(target))
	}
	c.Emit(opcode.NewSimple(opcode.Unreachable))
	return nil
}
