package compiler

import (
	"errors"
	"fmt"

	"github.com/rwasm-project/rwasm/rwasm/opcode"
)

// Sentinel error kinds. Each maps to a fixed negative exit code for CLI
// consumers; the table is part of the toolchain's embedding contract and
// must stay stable across releases.
var (
	ErrModuleError        = errors.New("compiler: module decode error")
	ErrMissingEntrypoint  = errors.New("compiler: missing entrypoint")
	ErrMissingFunction    = errors.New("compiler: missing function")
	ErrNotSupported       = errors.New("compiler: not supported")
	ErrOutOfBuffer        = errors.New("compiler: out of buffer")
	ErrBinaryFormat       = errors.New("compiler: binary format error")
	ErrNotSupportedImport = errors.New("compiler: import kind not supported")
	ErrUnknownImport      = errors.New("compiler: unknown import")
	ErrMemoryUsageTooBig  = errors.New("compiler: memory usage too big")
	ErrDropKeepOutOfBound = errors.New("compiler: drop-keep out of bounds")
)

// ExitCode maps a CompilerError (identified via errors.Is against the
// sentinels above) to the small negative integer a CLI should exit with.
// Unrecognized errors map to -1, matching ModuleError's slot as the
// catch-all decode failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrMissingEntrypoint):
		return -2
	case errors.Is(err, ErrMissingFunction):
		return -3
	case errors.Is(err, ErrNotSupported):
		return -4
	case errors.Is(err, ErrOutOfBuffer):
		return -5
	case errors.Is(err, ErrBinaryFormat), errors.Is(err, opcode.ErrIllegalOpcode),
		errors.Is(err, opcode.ErrReaderUnderflow), errors.Is(err, opcode.ErrWriterOverflow):
		return -6
	case errors.Is(err, ErrNotSupportedImport):
		return -7
	case errors.Is(err, ErrUnknownImport):
		return -8
	case errors.Is(err, ErrMemoryUsageTooBig):
		return -9
	case errors.Is(err, ErrDropKeepOutOfBound):
		return -10
	default:
		return -1
	}
}

func notSupported(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, reason)
}

// errorKindLabel names the sentinel kind err matches, for use as a
// metrics.Collectors.CompileErrors label. Mirrors ExitCode's classification
// order so the two never disagree about which sentinel an error belongs to.
func errorKindLabel(err error) string {
	switch {
	case errors.Is(err, ErrMissingEntrypoint):
		return "missing_entrypoint"
	case errors.Is(err, ErrMissingFunction):
		return "missing_function"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	case errors.Is(err, ErrOutOfBuffer):
		return "out_of_buffer"
	case errors.Is(err, ErrBinaryFormat), errors.Is(err, opcode.ErrIllegalOpcode),
		errors.Is(err, opcode.ErrReaderUnderflow), errors.Is(err, opcode.ErrWriterOverflow):
		return "binary_format"
	case errors.Is(err, ErrNotSupportedImport):
		return "not_supported_import"
	case errors.Is(err, ErrUnknownImport):
		return "unknown_import"
	case errors.Is(err, ErrMemoryUsageTooBig):
		return "memory_usage_too_big"
	case errors.Is(err, ErrDropKeepOutOfBound):
		return "drop_keep_out_of_bounds"
	default:
		return "module_error"
	}
}
