// Package linker maps (module, field) host-import identifiers to a stable
// integer import index and a fuel cost. It is a pure lookup: it does not
// describe argument shapes, and it is injected into the compiler rather
// than owning any translation state itself.
package linker

import (
	"errors"
	"fmt"
)

// ErrUnknownImport is returned by Resolve when no entry matches.
var ErrUnknownImport = errors.New("linker: unknown import")

// Entry is one resolved host import.
type Entry struct {
	ImportIndex uint32
	FuelCost    uint32
}

// key identifies an import by its two-part WASM import name.
type key struct {
	module string
	field  string
}

// Linker is an immutable-once-built (module, field) -> Entry table.
type Linker struct {
	entries map[key]Entry
	next    uint32
}

// New returns an empty Linker ready for Register calls.
func New() *Linker {
	return &Linker{entries: make(map[key]Entry)}
}

// Register adds a host import, assigning it the next free import index.
// fuelCost is charged via ConsumeFuel immediately before every Call to
// this import.
func (l *Linker) Register(module, field string, fuelCost uint32) uint32 {
	idx := l.next
	l.next++
	l.entries[key{module, field}] = Entry{ImportIndex: idx, FuelCost: fuelCost}
	return idx
}

// RegisterAt adds a host import at an explicit import index, for callers
// that need a stable ABI across compiler versions.
func (l *Linker) RegisterAt(module, field string, importIndex, fuelCost uint32) {
	l.entries[key{module, field}] = Entry{ImportIndex: importIndex, FuelCost: fuelCost}
	if importIndex >= l.next {
		l.next = importIndex + 1
	}
}

// Resolve looks up the (module, field) import, returning ErrUnknownImport
// wrapped with the "module::field" name when absent, matching the
// compiler's UnknownImport(name) error contract.
func (l *Linker) Resolve(module, field string) (Entry, error) {
	e, ok := l.entries[key{module, field}]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s::%s", ErrUnknownImport, module, field)
	}
	return e, nil
}

// Len returns the number of registered imports.
func (l *Linker) Len() int { return len(l.entries) }
