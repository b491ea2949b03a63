package compiler

// magicPrefix is prepended to the finalized program when WithMagicPrefix is
// set, matching the program-file-format contract's "fixed magic marker".
var magicPrefix = [4]byte{0x72, 0x77, 0x61, 0x73} // "rwas"

// Config records the recognized compiler options. The zero value is not
// directly usable; construct with DefaultConfig and override with the
// With* builder methods.
type Config struct {
	// FuelConsume injects ConsumeFuel before host calls and per block.
	FuelConsume bool
	// TailCall enables the return-call family of opcodes.
	TailCall bool
	// ExtendedConst accepts multi-op constant expressions in initializers.
	ExtendedConst bool
	// TranslateSections emits a section-init prelude at offset 0.
	TranslateSections bool
	// WithState emits the state-router entry variant.
	WithState bool
	// WithRouter emits the router prelude that dispatches into an Export or
	// Func entry; with it off the entry is only resolved.
	WithRouter bool
	// WithMagicPrefix prepends a fixed magic marker to the finalized bytes.
	WithMagicPrefix bool
	// TranslateFuncAsInline lays out function bodies and import trampolines
	// without a continuation slot: no frame-rotate prologue is emitted and
	// locals start at slot 0.
	TranslateFuncAsInline bool
	// MaxCodeSize bounds the finalized program's byte length; 0 disables
	// the bound. Corresponds to RWASM_MAX_CODE_SIZE.
	MaxCodeSize int
	// MaxMemoryPages bounds accepted linear-memory growth.
	MaxMemoryPages uint32
}

// DefaultConfig returns the base configuration: fuel metering, the section
// prelude and the entry router on; tail calls, extended constants, the
// state router, the magic prefix and inline layout off. The CLI starts from
// it and sets fuel metering, the section prelude, the router and the magic
// prefix from its flags.
func DefaultConfig() Config {
	return Config{
		FuelConsume:       true,
		TranslateSections: true,
		WithRouter:        true,
		MaxCodeSize:       16 * 1024 * 1024,
		MaxMemoryPages:    65536,
	}
}

func (c Config) WithFuelMetering(v bool) Config       { c.FuelConsume = v; return c }
func (c Config) WithTailCall(v bool) Config           { c.TailCall = v; return c }
func (c Config) WithExtendedConst(v bool) Config      { c.ExtendedConst = v; return c }
func (c Config) WithSectionsPrelude(v bool) Config    { c.TranslateSections = v; return c }
func (c Config) WithStateRouter(v bool) Config        { c.WithState = v; return c }
func (c Config) WithRouterWrap(v bool) Config         { c.WithRouter = v; return c }
func (c Config) WithMagicPrefixEnabled(v bool) Config { c.WithMagicPrefix = v; return c }
func (c Config) WithInlineFunctions(v bool) Config    { c.TranslateFuncAsInline = v; return c }
func (c Config) WithMaxCodeSize(n int) Config         { c.MaxCodeSize = n; return c }
func (c Config) WithMaxMemoryPages(n uint32) Config   { c.MaxMemoryPages = n; return c }
