package linker

import "testing"

func TestRegisterAndResolve(t *testing.T) {
	l := New()
	idx := l.Register("env", "sha256", 12)
	entry, err := l.Resolve("env", "sha256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ImportIndex != idx || entry.FuelCost != 12 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestResolveUnknownImport(t *testing.T) {
	l := New()
	l.Register("env", "known", 0)
	_, err := l.Resolve("env", "unknown")
	if err == nil {
		t.Fatal("expected an error")
	}
	if got, want := err.Error(), "linker: unknown import: env::unknown"; got != want {
		t.Fatalf("err = %q, want %q", got, want)
	}
}

func TestRegisterAtKeepsExplicitIndex(t *testing.T) {
	l := New()
	l.RegisterAt("env", "fixed", 100, 5)
	next := l.Register("env", "after", 1)
	if next != 101 {
		t.Fatalf("expected next auto index to continue past explicit index, got %d", next)
	}
}
