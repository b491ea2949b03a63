// Command rwasmc is the thin CLI wrapper around the compiler: it reads a
// WASM binary, translates it to rWASM, and writes the finalized program
// (and, optionally, a source map) to disk.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/rwasm-project/rwasm/log"
	"github.com/rwasm-project/rwasm/rwasm/compiler"
	"github.com/rwasm-project/rwasm/rwasm/linker"
	"github.com/rwasm-project/rwasm/rwasm/wasmmod"
)

// rwasmOutExt is the default extension given to the output file when
// --rwasm-file-out-path is not supplied.
const rwasmOutExt = ".rwasm"

// sourceMapEntrypointName / sourceMapEntrypointIdx label the router's own
// synthetic frame in the generated source map listing.
const (
	sourceMapEntrypointName = "main"
	sourceMapEntrypointIdx  = 0
)

// funcSystemPrefix marks internal helper functions that never appear in a
// generated source map's opcode table, regardless of --restricted-fn-names.
const funcSystemPrefix = "$__"

func main() {
	// A plain package-level logger for startup failures that happen before
	// --log-format is parsed (e.g. a malformed flag).
	logger := log.Default().Module("rwasmc")

	app := &cli.App{
		Name:  "rwasmc",
		Usage: "translate a WASM module into a flat rWASM program",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file-in-path", Required: true, Usage: "input .wasm file"},
			&cli.StringFlag{Name: "rwasm-file-out-path"},
			&cli.StringFlag{Name: "rs-file-out-path"},
			&cli.BoolFlag{Name: "print-rwasm-bytes"},
			&cli.BoolFlag{Name: "gen-source-map"},
			&cli.BoolFlag{Name: "do-not-translate-sections"},
			&cli.BoolFlag{Name: "skip-type-check"},
			&cli.BoolFlag{Name: "inject-fuel"},
			&cli.BoolFlag{Name: "no-router"},
			&cli.StringFlag{Name: "entry-fn-name"},
			&cli.BoolFlag{Name: "entry-fn-name-matches-file-in-name"},
			&cli.StringFlag{Name: "restricted-fn-names"},
			&cli.StringFlag{Name: "restricted-fn-name-prefixes"},
			&cli.BoolFlag{Name: "no-magic-prefix"},
			&cli.BoolFlag{Name: "inject-init-bytecode"},
			&cli.BoolFlag{Name: "retranslate-main"},
			&cli.StringFlag{Name: "log-format", Value: "json", Usage: "log output format: json, text, or color"},
		},
		Action: func(c *cli.Context) error {
			runLogger := log.NewWithFormat(c.String("log-format"), slog.LevelInfo, os.Stderr).Module("rwasmc")
			log.SetDefault(runLogger)
			return run(c, runLogger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("rwasmc failed", "error", err)
		var exitErr *cliExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(compiler.ExitCode(err))
	}
}

// cliExitError carries a precomputed exit code for failures that originate
// outside the compiler package itself (file I/O, flag validation), so main
// does not have to re-derive a code via compiler.ExitCode for errors that
// were never compiler sentinels to begin with.
type cliExitError struct {
	code int
	err  error
}

func (e *cliExitError) Error() string { return e.err.Error() }
func (e *cliExitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &cliExitError{code: -1, err: fmt.Errorf(format, args...)}
}

func run(c *cli.Context, logger *log.Logger) error {
	fileInPath := c.String("file-in-path")
	switch {
	case strings.HasSuffix(fileInPath, ".wasm"):
	case strings.HasSuffix(fileInPath, ".wat"):
		return usageError("rwasmc: .wat input is not supported by this build; convert to .wasm first")
	default:
		return usageError("rwasmc: only .wat and .wasm formats are supported: %s", fileInPath)
	}

	wasmBytes, err := os.ReadFile(fileInPath)
	if err != nil {
		return usageError("rwasmc: read %s: %v", fileInPath, err)
	}

	if c.Bool("skip-type-check") {
		logger.Warn("skip-type-check requested but not supported by this build; type checks are always emitted")
	}

	lk, err := sovereignLinker(wasmBytes)
	if err != nil {
		return err
	}

	cfg := compiler.DefaultConfig().
		WithSectionsPrelude(!c.Bool("do-not-translate-sections")).
		WithFuelMetering(c.Bool("inject-fuel")).
		WithRouterWrap(!c.Bool("no-router")).
		WithMagicPrefixEnabled(!c.Bool("no-magic-prefix"))

	comp, err := compiler.New(wasmBytes, cfg, lk)
	if err != nil {
		return err
	}

	fileInName := strings.TrimSuffix(filepath.Base(fileInPath), filepath.Ext(fileInPath))
	entryFnName := c.String("entry-fn-name")
	if c.Bool("entry-fn-name-matches-file-in-name") {
		entryFnName = fileInName
	}

	var entry *compiler.FuncOrExport
	if c.Bool("retranslate-main") {
		fnIdx := uint32(0)
		if entryFnName != "" {
			idx, ok := comp.ResolveFuncIndex(compiler.ExportEntry(entryFnName))
			if !ok {
				return errMissingEntrypointName(entryFnName)
			}
			fnIdx = idx
		}
		e := compiler.FuncEntry(fnIdx)
		entry = &e
	} else if entryFnName != "" {
		e := compiler.ExportEntry(entryFnName)
		entry = &e
	}

	if err := comp.Translate(entry); err != nil {
		return err
	}

	sourceMaps, err := buildAndFilterSourceMaps(comp, c)
	if err != nil {
		return err
	}

	rwasmBinary, err := comp.Finalize()
	if err != nil {
		return err
	}

	if c.Bool("inject-init-bytecode") && len(sourceMaps) > 0 {
		entryMap := sourceMaps[0]
		start := entryMap.Position
		end := entryMap.Position + entryMap.Length
		if start >= 0 && end <= len(rwasmBinary) && start <= end {
			initBytecode := append([]byte(nil), rwasmBinary[start:end]...)
			rwasmBinary = append(rwasmBinary, initBytecode...)
		}
	}

	outDir := filepath.Dir(fileInPath)
	rwasmOutPath := c.String("rwasm-file-out-path")
	if rwasmOutPath == "" {
		rwasmOutPath = filepath.Join(outDir, fileInName+rwasmOutExt)
	}
	if err := os.WriteFile(rwasmOutPath, rwasmBinary, 0o644); err != nil {
		return usageError("rwasmc: write %s: %v", rwasmOutPath, err)
	}

	if c.Bool("print-rwasm-bytes") {
		logger.Info("rwasm bytes", "bytes", rwasmBinary)
	}
	logger.Info("wrote rwasm binary", "path", rwasmOutPath, "bytes", len(rwasmBinary))

	if c.Bool("gen-source-map") {
		rsOutPath := c.String("rs-file-out-path")
		if rsOutPath == "" {
			rsOutPath = filepath.Join(outDir, fileInName+"_source_map.rs")
		}
		if err := os.WriteFile(rsOutPath, []byte(renderSourceMap(sourceMaps)), 0o644); err != nil {
			return usageError("rwasmc: write %s: %v", rsOutPath, err)
		}
		logger.Info("wrote source map", "path", rsOutPath)
	}

	return nil
}

func errMissingEntrypointName(name string) error {
	return fmt.Errorf("%w: %s", compiler.ErrMissingEntrypoint, name)
}

// buildAndFilterSourceMaps calls BuildSourceMap then drops entries the
// --restricted-fn-names / --restricted-fn-name-prefixes flags exclude.
func buildAndFilterSourceMaps(comp *compiler.Compiler, c *cli.Context) ([]compiler.FuncSourceMap, error) {
	all, err := comp.BuildSourceMap()
	if err != nil {
		return nil, err
	}
	restrictedNames := splitLower(c.String("restricted-fn-names"))
	restrictedPrefixes := splitLower(c.String("restricted-fn-name-prefixes"))

	out := make([]compiler.FuncSourceMap, 0, len(all))
	for _, fsm := range all {
		if isRestricted(fsm.FuncName, restrictedNames, restrictedPrefixes) {
			continue
		}
		out = append(out, fsm)
	}
	return out, nil
}

func isRestricted(name string, names, prefixes []string) bool {
	if strings.HasPrefix(name, funcSystemPrefix) {
		return true
	}
	lower := strings.ToLower(name)
	for _, n := range names {
		if n == lower {
			return true
		}
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func splitLower(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, strings.ToLower(p))
	}
	return out
}

// renderSourceMap formats the filtered source map as a Rust-style constant
// table, matching the program-file-format contract's "suitable for
// inclusion as a constant table by host languages".
func renderSourceMap(maps []compiler.FuncSourceMap) string {
	sorted := append([]compiler.FuncSourceMap(nil), maps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	lines := make([]string, 0, len(sorted))
	for _, fsm := range sorted {
		name := fsm.FuncName
		if name == sourceMapEntrypointName {
			lines = append(lines, fmt.Sprintf("(%d, %d, %d)", sourceMapEntrypointIdx, fsm.Position, fsm.Length))
			continue
		}
		lines = append(lines, fmt.Sprintf("(%q, %d, %d)", name, fsm.Position, fsm.Length))
	}
	return "[\n    " + strings.Join(lines, ",\n    ") + "\n]"
}

// sovereignLinker builds a Linker that resolves every import a standalone
// rwasmc invocation might plausibly face: every import the module itself
// declares, registered in declaration order, with no embedder-specific
// restrictions. An embedder that withholds names instead still fails
// Translate with UnknownImport.
func sovereignLinker(wasmBytes []byte) (*linker.Linker, error) {
	mod, err := wasmmod.Decode(wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", compiler.ErrModuleError, err)
	}
	lk := linker.New()
	idx := uint32(0)
	for _, imp := range mod.Imports {
		if imp.Kind != wasmmod.ExternFunc {
			continue
		}
		const defaultFuelCost = 1
		lk.RegisterAt(imp.Module, imp.Field, idx, defaultFuelCost)
		idx++
	}
	return lk, nil
}
