// Package compiler implements the WASM -> rWASM translator: it loads a
// WASM module, lowers every section and every function body into one flat
// rWASM code section, builds the function-offset table, emits the
// entrypoint/router, performs branch-offset fixups for injected code, and
// finalizes the result to a contiguous byte vector.
package compiler

import (
	"fmt"
	"time"

	"github.com/rwasm-project/rwasm/log"
	"github.com/rwasm-project/rwasm/rwasm/linker"
	"github.com/rwasm-project/rwasm/rwasm/metrics"
	"github.com/rwasm-project/rwasm/rwasm/opcode"
	"github.com/rwasm-project/rwasm/rwasm/wasmmod"
)

// Compiler translates one WASM module. It is single-use: Translate must not
// be called twice, and a failed Translate invalidates the Compiler (per the
// toolchain's error-propagation policy, the state is left untouched but
// subsequent calls are undefined and callers should discard the value).
type Compiler struct {
	cfg     Config
	mod     *wasmmod.Module
	linker  *linker.Linker
	logger  *log.Logger
	metrics *metrics.Collectors

	code       []opcode.Instruction
	injections []Injection

	// funcBeginning maps an internal (combined import+local) function index
	// to the instruction index where its translated body begins.
	funcBeginning map[uint32]int
	// funcNames is populated from the export section for source-map naming.
	funcNames map[uint32]string

	sigTable  []wasmmod.FuncType
	sigLookup map[string]uint32

	globalValues map[uint32]int64

	// contFixups records the instruction index of every I32Const that pushed
	// a call-site continuation, in instruction-index units. serialize
	// rewrites each to the callee's resume point in byte-offset units, the
	// same way it rewrites RefFunc's function-index immediate.
	contFixups []int

	translated bool
	finalized  []byte
}

// New validates the module bytes and constructs a Compiler ready for
// Translate. linker may be nil if the module imports no host functions.
func New(wasmBytes []byte, cfg Config, lk *linker.Linker) (*Compiler, error) {
	mod, err := wasmmod.Decode(wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModuleError, err)
	}
	if lk == nil {
		lk = linker.New()
	}
	return &Compiler{
		cfg:           cfg,
		mod:           mod,
		linker:        lk,
		logger:        log.Default().Module("rwasm-compiler"),
		funcBeginning: make(map[uint32]int),
		funcNames:     make(map[uint32]string),
		sigLookup:     make(map[string]uint32),
		globalValues:  make(map[uint32]int64),
	}, nil
}

// WithMetrics attaches a metrics.Collectors bundle that Translate and
// Finalize report against (compile duration, function count, code-section
// size, error kind). It is optional; a Compiler with no metrics attached
// simply skips every recording call. Embedders register the bundle once
// against their own prometheus.Registerer and pass it to every Compiler
// they construct.
func (c *Compiler) WithMetrics(m *metrics.Collectors) *Compiler {
	c.metrics = m
	return c
}

// Emit appends in to the code section.
// It implements dropkeep.Sink so the drop-keep lowering package can write
// directly into the compiler's buffer.
func (c *Compiler) Emit(in opcode.Instruction) { c.code = append(c.code, in) }

func (c *Compiler) pos() int { return len(c.code) }

func (c *Compiler) recordInjection(begin, end, originLen int) {
	if end <= begin && originLen == 0 {
		return
	}
	c.injections = append(c.injections, Injection{Begin: begin, End: end, OriginLen: originLen})
}

// Translate lowers the whole module once: section prelude, then the
// entry/router, then the import trampolines, then every function body. It
// must not be called twice.
func (c *Compiler) Translate(entry *FuncOrExport) error {
	if c.translated {
		return fmt.Errorf("%w: Translate called twice", ErrNotSupported)
	}
	c.translated = true
	start := time.Now()

	if err := c.runTranslate(entry); err != nil {
		c.recordError(err)
		return err
	}

	c.logger.Info("translate complete",
		"functions", c.mod.TotalFuncCount(),
		"instructions", len(c.code),
		"elapsed_ms", time.Since(start).Milliseconds())
	if c.metrics != nil {
		c.metrics.CompileDuration.Observe(time.Since(start).Seconds())
		c.metrics.FunctionsLowered.Add(float64(c.mod.TotalFuncCount()))
	}
	return nil
}

// runTranslate is the actual lowering pipeline, factored out of Translate so
// the metrics/logging wrapper has one place to observe success or failure.
//
// The section-init code and the entry router together form the leading
// prelude, emitted ahead of every function body: the program file format
// has no header or entry-pointer field, so byte offset 0 is the only
// execution entry point a host can use, and it must fall through section
// initialization straight into the router dispatch. The whole prelude is
// recorded as one injection segment starting at 0, since none of it exists
// in the source instruction stream.
func (c *Compiler) runTranslate(entry *FuncOrExport) error {
	for _, name := range c.mod.Exports {
		if name.Kind == wasmmod.ExternFunc {
			c.funcNames[name.Index] = name.Name
		}
	}

	if c.cfg.TranslateSections {
		if err := c.translateSections(); err != nil {
			return err
		}
	}
	if entry != nil {
		if err := c.translateEntry(*entry); err != nil {
			return err
		}
	}
	c.recordInjection(0, c.pos(), 0)

	if err := c.translateImportFuncs(); err != nil {
		return err
	}
	return c.translateFunctions()
}

// recordError increments CompileErrors labeled by the sentinel kind err
// matches, via the same ExitCode classification the CLI uses.
func (c *Compiler) recordError(err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.CompileErrors.WithLabelValues(errorKindLabel(err)).Inc()
}

// ResolveFuncIndex helps CLIs turn a FuncOrExport into a concrete function
// index without running the full translation pipeline.
func (c *Compiler) ResolveFuncIndex(entry FuncOrExport) (uint32, bool) {
	switch entry.Kind {
	case EntryFunc:
		return entry.Func, true
	case EntryExport:
		for _, exp := range c.mod.Exports {
			if exp.Kind == wasmmod.ExternFunc && exp.Name == entry.Export {
				return exp.Index, true
			}
		}
	}
	return 0, false
}

func (c *Compiler) translateEntry(entry FuncOrExport) error {
	switch entry.Kind {
	case EntryExport, EntryFunc:
		idx, ok := c.ResolveFuncIndex(entry)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingEntrypoint, entry.Export)
		}
		if !c.cfg.WithRouter {
			// The entry resolves (so a bad name still fails loudly) but no
			// router prelude is emitted; the embedder jumps to the
			// function's recorded offset itself.
			return nil
		}
		return c.emitRouterToSingleFunc(idx)
	case EntryStateRouter:
		if !c.cfg.WithState {
			return notSupported("state-router entry requires the state-dispatch configuration")
		}
		return c.translateStateRouter(entry)
	case EntryGlobal:
		return notSupported("Global entry kind is not a callable rWASM entrypoint")
	default:
		return fmt.Errorf("%w: unknown entry kind", ErrMissingEntrypoint)
	}
}

// emitRouterToSingleFunc emits the router tail of the leading prelude: it
// calls a single function by internal index and returns its result, used
// for the plain Export/Func entry kinds. The entry function's beginning is
// recorded only later, when its body is translated; CallInternal carries
// the index until Finalize rewrites it to a Br. Callers record the
// enclosing prelude injection; no segment is recorded here.
func (c *Compiler) emitRouterToSingleFunc(idx uint32) error {
	c.Emit(opcode.NewU64(opcode.I32Const, uint64(initPreludeValue)))
	c.Emit(opcode.NewU32(opcode.CallInternal, idx))
	c.Emit(opcode.NewDropKeep(opcode.Return, 0, 1))
	c.Emit(opcode.NewSimple(opcode.Unreachable))
	return nil
}

// Finalize runs branch-offset fixups and serializes the lowered program to
// bytes. It may be called only after a successful Translate.
func (c *Compiler) Finalize() ([]byte, error) {
	if !c.translated {
		return nil, fmt.Errorf("%w: Finalize called before Translate", ErrNotSupported)
	}
	if c.finalized != nil {
		return c.finalized, nil
	}
	start := time.Now()

	if err := c.validateInjections(); err != nil {
		c.recordError(err)
		return nil, err
	}
	if err := c.correctBranchOffsets(); err != nil {
		c.recordError(err)
		return nil, err
	}
	if err := c.rewriteInternalCalls(); err != nil {
		c.recordError(err)
		return nil, err
	}

	out, err := c.serialize()
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	if c.cfg.MaxCodeSize > 0 && len(out) > c.cfg.MaxCodeSize {
		c.recordError(ErrMemoryUsageTooBig)
		return nil, ErrMemoryUsageTooBig
	}
	c.finalized = out

	c.logger.Info("finalize complete", "bytes", len(out), "elapsed_ms", time.Since(start).Milliseconds())
	if c.metrics != nil {
		c.metrics.CodeSectionBytes.Observe(float64(len(out)))
	}
	return out, nil
}

// BuildSourceMap returns the byte offsets and lengths of each function in
// the finalized program. Finalize must have run first.
func (c *Compiler) BuildSourceMap() ([]FuncSourceMap, error) {
	if c.finalized == nil {
		return nil, fmt.Errorf("%w: BuildSourceMap called before Finalize", ErrNotSupported)
	}
	offsets, err := c.instructionByteOffsets()
	if err != nil {
		return nil, err
	}
	prefixLen := 0
	if c.cfg.WithMagicPrefix {
		prefixLen = len(magicPrefix)
	}
	var out []FuncSourceMap
	importFuncs := uint32(c.mod.ImportFuncCount())
	total := uint32(c.mod.TotalFuncCount())
	for idx := uint32(0); idx < total; idx++ {
		if idx < importFuncs {
			continue
		}
		startInstr, ok := c.funcBeginning[idx]
		if !ok {
			continue
		}
		endInstr := len(c.code)
		for _, otherStart := range c.funcBeginning {
			if otherStart > startInstr && otherStart < endInstr {
				endInstr = otherStart
			}
		}
		startByte := offsets[startInstr] + prefixLen
		endByte := len(c.finalized)
		if endInstr < len(offsets) {
			endByte = offsets[endInstr] + prefixLen
		}
		name := c.funcNames[idx]
		if name == "" {
			name = fmt.Sprintf("func_%d", idx)
		}
		out = append(out, FuncSourceMap{
			FuncName: name,
			FuncIdx:  idx,
			Position: startByte,
			Length:   endByte - startByte,
		})
	}
	return out, nil
}
