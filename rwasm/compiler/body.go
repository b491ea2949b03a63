package compiler

import (
	"fmt"

	"github.com/rwasm-project/rwasm/rwasm/dropkeep"
	"github.com/rwasm-project/rwasm/rwasm/opcode"
	"github.com/rwasm-project/rwasm/rwasm/wasmmod"
)

// labelKind discriminates the three structured control-flow constructs that
// push a label onto bodyWalker's control stack.
type labelKind int

const (
	labelBlock labelKind = iota
	labelLoop
	labelIf
)

// label tracks one live structured-control-flow scope while walking a
// function body, enough to resolve a `br`/`br_if` targeting it and to patch
// its forward branches once its `end` is reached.
type label struct {
	kind         labelKind
	paramArity   uint32
	resultArity  uint32
	entryHeight  uint32 // frame-relative height when the construct was entered
	loopStart    int    // instruction index of the loop's first body instruction (labelLoop only)
	pending      []int  // instruction indices of placeholder Br/BrIfEqz/BrIfNez awaiting a patch to this label's end
	elseJumpSite int    // instruction index of the `if`'s placeholder jump to else/end (labelIf only)
	hasElse      bool
}

// bodyWalker lowers one function's raw WASM instruction stream into the
// compiler's flat rWASM code section. frame-relative addressing is fixed
// for the whole activation: slot 0 is the continuation the caller pushed,
// slots [1, numParams] are parameters, and the slots above are declared
// locals; height tracks the current top of this frame's portion of the
// operand stack as instructions are walked.
type bodyWalker struct {
	c *Compiler

	frame     uint32 // numParams + numLocals
	numParams uint32
	numLocals uint32
	results   uint32
	// contSlots is 1 when slot 0 holds the caller's continuation (the
	// normal callable-function layout) and 0 under inline translation,
	// where no continuation slot exists and locals start at slot 0.
	contSlots uint32

	height uint32
	labels []label
}

// translate walks body (a function's locals-declaration-stripped
// instruction stream, ending in the function-level `end`) and lowers every
// instruction. Falling off the end of the body is an implicit `return`,
// handled by treating the function itself as an outermost label.
func (w *bodyWalker) translate(body []byte) error {
	cu := &cursor{buf: body}
	w.labels = append(w.labels, label{
		kind:        labelBlock,
		resultArity: w.results,
		entryHeight: w.height,
	})
	if err := w.walk(cu); err != nil {
		return err
	}
	// Defense in depth: every path out of the body above ends in an
	// explicit Return/ReturnIfNez or a Br out of the function; this is
	// unreachable if the body was well-formed, but the rWASM program is
	// flat, so a malformed body must trap rather than fall into whatever
	// comes next in the code section.
	w.c.Emit(opcode.NewSimple(opcode.Unreachable))
	return nil
}

// walk lowers instructions until it consumes the `end` that closes the
// outermost label still on w.labels (the function itself), returning once
// that label has been popped.
func (w *bodyWalker) walk(cu *cursor) error {
	for !cu.done() {
		op, err := cu.u8()
		if err != nil {
			return err
		}
		if isFloatOpcode(op) {
			return notSupported(fmt.Sprintf("floating-point opcode 0x%02x", op))
		}
		done, err := w.step(cu, op)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return errCursorUnderflow
}

// step lowers a single raw opcode. It returns done=true when the opcode was
// the `end` that closed the function's outermost (synthetic) label.
func (w *bodyWalker) step(cu *cursor, op byte) (bool, error) {
	switch op {
	case wasmUnreachable:
		w.c.Emit(opcode.NewSimple(opcode.Unreachable))
	case wasmNop:
		// no-op

	case wasmBlock:
		return false, w.enterBlock(cu)
	case wasmLoop:
		return false, w.enterLoop(cu)
	case wasmIf:
		return false, w.enterIf(cu)
	case wasmElse:
		return false, w.enterElse()
	case wasmEnd:
		return w.leave()

	case wasmBr:
		depth, err := cu.u32()
		if err != nil {
			return false, err
		}
		return false, w.emitBranch(depth, false)
	case wasmBrIf:
		depth, err := cu.u32()
		if err != nil {
			return false, err
		}
		return false, w.emitBranch(depth, true)
	case wasmBrTable:
		return false, w.emitBrTable(cu)
	case wasmReturn:
		w.emitReturn(false)

	case wasmCall:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		return false, w.emitCall(idx)
	case wasmCallIndir:
		typeIdx, err := cu.u32()
		if err != nil {
			return false, err
		}
		tableIdx, err := cu.u32()
		if err != nil {
			return false, err
		}
		return false, w.emitCallIndirect(typeIdx, tableIdx)
	case wasmRetCall:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		return false, w.emitReturnCall(idx)
	case wasmRetCallInd:
		typeIdx, err := cu.u32()
		if err != nil {
			return false, err
		}
		tableIdx, err := cu.u32()
		if err != nil {
			return false, err
		}
		return false, w.emitReturnCallIndirect(typeIdx, tableIdx)

	case wasmDrop:
		w.c.Emit(opcode.NewSimple(opcode.Drop))
		w.height--
	case wasmSelect:
		w.c.Emit(opcode.NewSimple(opcode.Select))
		w.height -= 2
	case wasmSelectT:
		if _, err := cu.u32(); err != nil { // vector of result types, arity always 1
			return false, err
		}
		w.c.Emit(opcode.NewSimple(opcode.Select))
		w.height -= 2

	case wasmLocalGet:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU32(opcode.LocalGet, w.localSlot(idx)))
		w.height++
	case wasmLocalSet:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU32(opcode.LocalSet, w.localSlot(idx)))
		w.height--
	case wasmLocalTee:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU32(opcode.LocalTee, w.localSlot(idx)))
	case wasmGlobalGet:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU32(opcode.GlobalGet, idx))
		w.height++
	case wasmGlobalSet:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU32(opcode.GlobalSet, idx))
		w.height--
	case wasmTableGet:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU32(opcode.TableGet, idx))
	case wasmTableSet:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU32(opcode.TableSet, idx))
		w.height -= 2

	case wasmMemorySize:
		if _, err := cu.u8(); err != nil { // reserved memory index, always 0
			return false, err
		}
		w.c.Emit(opcode.NewSimple(opcode.MemorySize))
		w.height++
	case wasmMemoryGrow:
		if _, err := cu.u8(); err != nil {
			return false, err
		}
		w.emitMemoryGrow()

	case wasmI32Const:
		v, err := cu.s32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU64(opcode.I32Const, uint64(uint32(v))))
		w.height++
	case wasmI64Const:
		v, err := cu.s64(64)
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU64(opcode.I64Const, uint64(v)))
		w.height++

	case wasmRefNull:
		if _, err := cu.u32(); err != nil { // reftype byte, encoded as a LEB for simplicity
			return false, err
		}
		w.c.Emit(opcode.NewU64(opcode.I32Const, 0))
		w.height++
	case wasmRefIsNull:
		w.c.Emit(opcode.NewSimple(opcode.I32Eqz))
	case wasmRefFunc:
		idx, err := cu.u32()
		if err != nil {
			return false, err
		}
		w.c.Emit(opcode.NewU32(opcode.RefFunc, idx))
		w.height++

	case wasmMiscPrefix:
		return false, w.stepMisc(cu)

	default:
		if tag, ok := loadTag[op]; ok {
			offset, _, err := cu.memarg()
			if err != nil {
				return false, err
			}
			w.c.Emit(opcode.NewU32Pair(tag, offset, 0))
			return false, nil
		}
		if tag, ok := storeTag[op]; ok {
			offset, _, err := cu.memarg()
			if err != nil {
				return false, err
			}
			w.c.Emit(opcode.NewU32Pair(tag, offset, 0))
			w.height -= 2
			return false, nil
		}
		if tag, ok := binopTag[op]; ok {
			w.c.Emit(opcode.NewSimple(tag))
			if isUnaryOpcode(op) {
				// height unchanged: pop one, push one
			} else {
				w.height--
			}
			return false, nil
		}
		return false, notSupported(fmt.Sprintf("unsupported opcode 0x%02x", op))
	}
	return false, nil
}

// isUnaryOpcode reports whether op is one of the integer opcodes that
// consumes exactly one operand and produces one (eqz, clz/ctz/popcnt,
// wrap/extend/sign-extension), as opposed to the binary arithmetic and
// comparison opcodes that consume two and produce one.
func isUnaryOpcode(op byte) bool {
	switch op {
	case 0x45, 0x50, // i32.eqz, i64.eqz
		0x67, 0x68, 0x69, // i32 clz/ctz/popcnt
		0x79, 0x7A, 0x7B, // i64 clz/ctz/popcnt
		0xA7, 0xAC, 0xAD, // i32.wrap_i64, i64.extend_i32_s/u
		0xC0, 0xC1, 0xC2, 0xC3, 0xC4: // sign-extension ops
		return true
	default:
		return false
	}
}

func (w *bodyWalker) stepMisc(cu *cursor) error {
	sub, err := cu.u8()
	if err != nil {
		return err
	}
	switch sub {
	case miscMemoryInit:
		segIdx, err := cu.u32()
		if err != nil {
			return err
		}
		if _, err := cu.u8(); err != nil { // memory index, always 0
			return err
		}
		w.c.Emit(opcode.NewU32(opcode.MemoryInit, segIdx))
		w.height -= 3
	case miscDataDrop:
		segIdx, err := cu.u32()
		if err != nil {
			return err
		}
		w.c.Emit(opcode.NewU32(opcode.DataDrop, segIdx))
	case miscMemoryCopy:
		if _, err := cu.u8(); err != nil {
			return err
		}
		if _, err := cu.u8(); err != nil {
			return err
		}
		w.c.Emit(opcode.NewSimple(opcode.MemoryCopy))
		w.height -= 3
	case miscMemoryFill:
		if _, err := cu.u8(); err != nil {
			return err
		}
		w.c.Emit(opcode.NewSimple(opcode.MemoryFill))
		w.height -= 3
	case miscTableInit:
		segIdx, err := cu.u32()
		if err != nil {
			return err
		}
		tableIdx, err := cu.u32()
		if err != nil {
			return err
		}
		w.c.Emit(opcode.NewU32Pair(opcode.TableInit, segIdx, tableIdx))
		w.height -= 3
	case miscElemDrop:
		segIdx, err := cu.u32()
		if err != nil {
			return err
		}
		w.c.Emit(opcode.NewU32(opcode.ElemDrop, segIdx))
	case miscTableCopy:
		dstTable, err := cu.u32()
		if err != nil {
			return err
		}
		srcTable, err := cu.u32()
		if err != nil {
			return err
		}
		w.c.Emit(opcode.NewU32Pair(opcode.TableCopy, dstTable, srcTable))
		w.height -= 3
	case miscTableGrow:
		idx, err := cu.u32()
		if err != nil {
			return err
		}
		w.emitTableGrow(idx)
	case miscTableSize:
		idx, err := cu.u32()
		if err != nil {
			return err
		}
		w.c.Emit(opcode.NewU32(opcode.TableSize, idx))
		w.height++
	case miscTableFill:
		idx, err := cu.u32()
		if err != nil {
			return err
		}
		w.c.Emit(opcode.NewU32(opcode.TableFill, idx))
		w.height -= 3
	default:
		return notSupported(fmt.Sprintf("unsupported 0xFC sub-opcode %d", sub))
	}
	return nil
}

// localSlot maps a WASM local index to its frame-relative slot: params
// directly above the continuation slot (when one exists), declared locals
// above them. The continuation is never directly addressable from source.
func (w *bodyWalker) localSlot(wasmIdx uint32) uint32 { return wasmIdx + w.contSlots }

// enterBlock lowers a `block`: apart from the per-block fuel charge
// (emitBlockFuel) no code is emitted (a block is purely a branch target),
// just a label recording the height its result must land at.
func (w *bodyWalker) enterBlock(cu *cursor) error {
	paramArity, resultArity, err := w.blockType(cu)
	if err != nil {
		return err
	}
	w.emitBlockFuel()
	w.labels = append(w.labels, label{
		kind:        labelBlock,
		paramArity:  paramArity,
		resultArity: resultArity,
		entryHeight: w.height - paramArity,
	})
	return nil
}

// blockFuelCost is the flat fuel charge emitted at the entry of every
// block, loop and if when fuel metering is on. Host calls carry their own
// per-import cost from the linker; this constant meters control flow.
const blockFuelCost = 1

// emitBlockFuel charges blockFuelCost at a structured-construct entry when
// fuel metering is enabled. For loops the caller records loopStart before
// calling this, so every iteration's back-edge re-pays the charge.
func (w *bodyWalker) emitBlockFuel() {
	if !w.c.cfg.FuelConsume {
		return
	}
	w.c.Emit(opcode.NewU32(opcode.ConsumeFuel, blockFuelCost))
}

// enterLoop lowers a `loop`: like a block, but a branch to it jumps
// backward to its first instruction rather than forward to its end, and
// its "result" for branch purposes is its param arity (re-supplying inputs
// for the next iteration).
func (w *bodyWalker) enterLoop(cu *cursor) error {
	paramArity, resultArity, err := w.blockType(cu)
	if err != nil {
		return err
	}
	start := w.c.pos()
	w.emitBlockFuel()
	w.labels = append(w.labels, label{
		kind:        labelLoop,
		paramArity:  paramArity,
		resultArity: resultArity,
		entryHeight: w.height - paramArity,
		loopStart:   start,
	})
	return nil
}

// enterIf lowers an `if`: pops the condition, emits a placeholder
// BrIfEqz(0) to skip the true arm (patched once `else`/`end` is reached),
// and pushes an if-label.
func (w *bodyWalker) enterIf(cu *cursor) error {
	paramArity, resultArity, err := w.blockType(cu)
	if err != nil {
		return err
	}
	w.emitBlockFuel()
	w.height--
	site := w.c.pos()
	w.c.Emit(opcode.NewI32(opcode.BrIfEqz, 0))
	w.labels = append(w.labels, label{
		kind:         labelIf,
		paramArity:   paramArity,
		resultArity:  resultArity,
		entryHeight:  w.height - paramArity,
		elseJumpSite: site,
	})
	return nil
}

// enterElse lowers `else`: the true arm just finished at the if's result
// height, so it emits a placeholder unconditional Br to the end (collected
// into pending like any other forward branch) and patches the if's BrIfEqz
// to land here, then resets height to the if's params for the false arm.
func (w *bodyWalker) enterElse() error {
	top := &w.labels[len(w.labels)-1]
	if top.kind != labelIf {
		return notSupported("else without matching if")
	}
	site := w.c.pos()
	w.c.Emit(opcode.NewI32(opcode.Br, 0))
	top.pending = append(top.pending, site)

	target := w.c.pos() - top.elseJumpSite
	w.c.code[top.elseJumpSite] = opcode.NewI32(opcode.BrIfEqz, int32(target))
	top.hasElse = true
	w.height = top.entryHeight + top.paramArity
	return nil
}

// leave lowers `end`: pops the current label, patches every pending
// forward branch to land here, and for `if` without `else` synthesizes the
// BrIfEqz target directly (since there is no separate else arm to jump
// past). Returns done=true when the label popped was the function's own
// outermost label.
func (w *bodyWalker) leave() (bool, error) {
	if len(w.labels) == 0 {
		return false, notSupported("end without matching block")
	}
	top := w.labels[len(w.labels)-1]
	w.labels = w.labels[:len(w.labels)-1]

	if top.kind == labelIf && !top.hasElse {
		target := w.c.pos() - top.elseJumpSite
		w.c.code[top.elseJumpSite] = opcode.NewI32(opcode.BrIfEqz, int32(target))
	}
	for _, site := range top.pending {
		target := w.c.pos() - site
		w.c.code[site] = opcode.NewI32(w.c.code[site].Tag, int32(target))
	}
	w.height = top.entryHeight + top.resultArity

	if len(w.labels) == 0 {
		w.emitReturn(false)
		return true, nil
	}
	return false, nil
}

// emitBranch lowers a `br`/`br_if` targeting the label relDepth levels out
// (0 = innermost). A depth equal to the number of live labels targets the
// function itself, i.e. `return`. Otherwise it shuffles the stack down to
// the target label's entry height plus its arity (result arity for a
// block/if, param arity for a loop, since a loop branch re-supplies its
// inputs) and emits the branch itself: an unconditional placeholder Br
// appended to the target label's pending list for a forward branch, or a
// direct backward Br to the loop's start.
func (w *bodyWalker) emitBranch(relDepth uint32, conditional bool) error {
	if int(relDepth) >= len(w.labels) {
		w.emitReturn(conditional)
		return nil
	}
	idx := len(w.labels) - 1 - int(relDepth)
	target := &w.labels[idx]
	arity := target.resultArity
	if target.kind == labelLoop {
		arity = target.paramArity
	}

	var condSite int
	if conditional {
		condSite = w.c.pos()
		w.c.Emit(opcode.NewI32(opcode.BrIfEqz, 0)) // skip the shuffle+branch when false
		w.height--
	}

	dk, err := dropkeep.New(w.height-target.entryHeight-arity, arity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDropKeepOutOfBound, err)
	}
	dropkeep.Translate(dk, target.entryHeight, w.c)

	if target.kind == labelLoop {
		w.c.Emit(opcode.NewI32(opcode.Br, int32(target.loopStart-w.c.pos())))
	} else {
		site := w.c.pos()
		w.c.Emit(opcode.NewI32(opcode.Br, 0))
		target.pending = append(target.pending, site)
	}

	if conditional {
		afterSite := w.c.pos()
		w.c.code[condSite] = opcode.NewI32(opcode.BrIfEqz, int32(afterSite-condSite))
	}
	return nil
}

// emitReturn lowers a `return` (or a br/br_if whose depth reaches the
// function's own outermost label): a single Return/ReturnIfNez carrying
// (drop: frame, keep: results). The frame's declared locals and parameters
// sit contiguously above the continuation at slot 0, so discarding exactly
// `frame` slots below the `results` values lands the continuation directly
// beneath them, where the runtime's Return semantics expect to find it.
func (w *bodyWalker) emitReturn(conditional bool) {
	tag := opcode.Return
	if conditional {
		tag = opcode.ReturnIfNez
		w.height--
	}
	w.c.Emit(opcode.NewDropKeep(tag, w.frame, w.results))
}

// emitCall lowers a `call` targeting internal function index idx (module
// function or import trampoline alike, both reached via CallInternal): push
// the continuation on top of the already-evaluated arguments, then jump.
// The callee's own prologue relocates the continuation below its
// parameters; the call site does no rearrangement of its own.
func (w *bodyWalker) emitCall(idx uint32) error {
	if w.contSlots == 0 {
		return notSupported("call inside an inline-translated function")
	}
	results := w.c.resultArity(w.calleeTypeIndex(idx))
	params := w.c.paramArity(w.calleeTypeIndex(idx))

	resumeAt := w.c.pos() + 2 // this I32Const plus the CallInternal below
	w.c.emitContinuation(resumeAt)
	w.height++
	w.c.Emit(opcode.NewU32(opcode.CallInternal, idx))
	w.height = w.height - 1 - params + results
	return nil
}

// calleeTypeIndex resolves idx's WASM type-section index, covering both
// import and module-defined functions.
func (w *bodyWalker) calleeTypeIndex(idx uint32) uint32 {
	if t, err := w.c.mod.FuncTypeIndex(idx); err == nil {
		return t
	}
	return 0
}

// emitCallIndirect lowers `call_indirect`: the table index to invoke was
// already pushed by the body; push the continuation above it, then
// CallIndirect which carries the expected signature for a runtime check
// against the table slot's actual function.
func (w *bodyWalker) emitCallIndirect(typeIdx, tableIdx uint32) error {
	if w.contSlots == 0 {
		return notSupported("call_indirect inside an inline-translated function")
	}
	w.height-- // the table index operand is consumed by CallIndirect itself
	sig := wasmmod.FuncType{}
	if int(typeIdx) < len(w.c.mod.Types) {
		sig = w.c.mod.Types[typeIdx]
	}
	params := uint32(len(sig.Params))
	results := uint32(len(sig.Results))

	resumeAt := w.c.pos() + 2
	w.c.emitContinuation(resumeAt)
	w.height++
	w.c.Emit(opcode.NewU32Pair(opcode.CallIndirect, typeIdx, tableIdx))
	w.height = w.height - 1 - params + results
	return nil
}

// emitReturnCall lowers `return_call`: the current frame is torn down
// before the jump, so the callee returns straight to this function's own
// caller. The caller's continuation (slot 0) is copied on top, then a
// drop-keep relocates the args-plus-continuation window to the frame's
// bottom; entering the callee then looks exactly like a fresh call whose
// continuation happens to be the outer caller's.
func (w *bodyWalker) emitReturnCall(idx uint32) error {
	if !w.c.cfg.TailCall {
		return notSupported("return_call requires the tail-call configuration")
	}
	if w.contSlots == 0 {
		return notSupported("return_call inside an inline-translated function")
	}
	params := w.c.paramArity(w.calleeTypeIndex(idx))

	w.c.Emit(opcode.NewU32(opcode.LocalGet, 0))
	dk, err := dropkeep.New(w.height+1-(params+1), params+1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDropKeepOutOfBound, err)
	}
	dropkeep.Translate(dk, 0, w.c)
	w.c.Emit(opcode.NewU32(opcode.ReturnCallInternal, idx))

	results := w.c.resultArity(w.calleeTypeIndex(idx))
	w.height = results
	return nil
}

// emitReturnCallIndirect is the indirect flavor: the table index operand
// rides inside the relocated window, directly beneath the continuation
// copy, where the dispatch expects it.
func (w *bodyWalker) emitReturnCallIndirect(typeIdx, tableIdx uint32) error {
	if !w.c.cfg.TailCall {
		return notSupported("return_call_indirect requires the tail-call configuration")
	}
	if w.contSlots == 0 {
		return notSupported("return_call_indirect inside an inline-translated function")
	}
	if tableIdx != 0 {
		return notSupported("return_call_indirect against a non-default table")
	}
	sig := wasmmod.FuncType{}
	if int(typeIdx) < len(w.c.mod.Types) {
		sig = w.c.mod.Types[typeIdx]
	}
	params := uint32(len(sig.Params))

	w.c.Emit(opcode.NewU32(opcode.LocalGet, 0))
	keep := params + 2 // args, table index, continuation copy
	dk, err := dropkeep.New(w.height+1-keep, keep)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDropKeepOutOfBound, err)
	}
	dropkeep.Translate(dk, 0, w.c)
	w.c.Emit(opcode.NewU32(opcode.ReturnCallIndirect, typeIdx))

	w.height = uint32(len(sig.Results))
	return nil
}

// emitBrTable lowers `br_table`: a BrTable(n) dispatch instruction followed
// by n+1 placeholder Br arms (the n explicit targets plus the default).
// Directly after them one shuffle-and-branch arm per table entry is emitted
// through emitBranch (duplicate targets each get their own arm), and each
// placeholder is patched to jump to its arm.
func (w *bodyWalker) emitBrTable(cu *cursor) error {
	n, err := cu.u32()
	if err != nil {
		return err
	}
	depths := make([]uint32, n+1)
	for i := range depths {
		d, err := cu.u32()
		if err != nil {
			return err
		}
		depths[i] = d
	}

	w.c.Emit(opcode.NewU32(opcode.BrTable, n))
	w.height--

	dispatchSites := make([]int, len(depths))
	for i := range depths {
		dispatchSites[i] = w.c.pos()
		w.c.Emit(opcode.NewI32(opcode.Br, 0))
	}

	// Arms: for each table entry, emit the shuffle-and-branch sequence here
	// and patch its dispatch slot to land on it.
	for i, depth := range depths {
		armStart := w.c.pos()
		savedHeight := w.height
		if err := w.emitBranch(depth, false); err != nil {
			return err
		}
		w.height = savedHeight
		w.c.code[dispatchSites[i]] = opcode.NewI32(opcode.Br, int32(armStart-dispatchSites[i]))
	}
	return nil
}

// emitMemoryGrow lowers `memory.grow` with a bounds guard: the requested
// delta plus the current page count is compared against the configured
// maximum, and on overflow the grow is skipped entirely with u32::MAX (the
// WASM-level grow-failure value) pushed in its place. The delta operand is
// on top of the stack at entry; the guard reads it by slot without
// consuming it, so both the failure path (which must discard it) and the
// grow itself (which consumes it) see the operand where they expect it.
func (w *bodyWalker) emitMemoryGrow() {
	begin := w.c.pos()
	deltaSlot := w.height - 1

	w.c.Emit(opcode.NewU32(opcode.LocalGet, deltaSlot))
	w.c.Emit(opcode.NewSimple(opcode.MemorySize))
	w.c.Emit(opcode.NewSimple(opcode.I32Add))
	w.c.Emit(opcode.NewU64(opcode.I32Const, uint64(w.c.cfg.MaxMemoryPages)))
	w.c.Emit(opcode.NewSimple(opcode.I32GtU))
	w.c.Emit(opcode.NewI32(opcode.BrIfEqz, 4)) // not over budget: jump to the grow
	w.c.Emit(opcode.NewSimple(opcode.Drop))    // discard the delta
	w.c.Emit(opcode.NewU64(opcode.I32Const, uint64(^uint32(0))))
	w.c.Emit(opcode.NewI32(opcode.Br, 2)) // past the grow, to the join point
	w.c.Emit(opcode.NewSimple(opcode.MemoryGrow))
	w.c.recordInjection(begin, w.c.pos(), 1)
	// Height is unchanged either way: the delta is replaced by the previous
	// page count (or the failure marker).
}

// emitTableGrow lowers `table.grow` the same way: the (value, delta)
// operands stay in place while the guard compares delta plus the current
// table size against the table's declared maximum. Tables with no declared
// maximum grow unguarded.
func (w *bodyWalker) emitTableGrow(tableIdx uint32) {
	var max uint32
	hasMax := false
	if int(tableIdx) < len(w.c.mod.Tables) {
		max = w.c.mod.Tables[tableIdx].Max
		hasMax = w.c.mod.Tables[tableIdx].HasMax
	}
	if !hasMax {
		w.c.Emit(opcode.NewU32(opcode.TableGrow, tableIdx))
		w.height--
		return
	}

	begin := w.c.pos()
	deltaSlot := w.height - 1

	w.c.Emit(opcode.NewU32(opcode.LocalGet, deltaSlot))
	w.c.Emit(opcode.NewU32(opcode.TableSize, tableIdx))
	w.c.Emit(opcode.NewSimple(opcode.I32Add))
	w.c.Emit(opcode.NewU64(opcode.I32Const, uint64(max)))
	w.c.Emit(opcode.NewSimple(opcode.I32GtU))
	w.c.Emit(opcode.NewI32(opcode.BrIfEqz, 5)) // within budget: jump to the grow
	w.c.Emit(opcode.NewSimple(opcode.Drop))    // discard the delta
	w.c.Emit(opcode.NewSimple(opcode.Drop))    // discard the init value
	w.c.Emit(opcode.NewU64(opcode.I32Const, uint64(^uint32(0))))
	w.c.Emit(opcode.NewI32(opcode.Br, 2))
	w.c.Emit(opcode.NewU32(opcode.TableGrow, tableIdx))
	w.c.recordInjection(begin, w.c.pos(), 1)
	w.height--
}
