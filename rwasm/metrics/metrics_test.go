package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMustRegisterAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	c.MustRegister(reg)

	c.FuelConsumed.Add(42)
	c.CompileErrors.WithLabelValues("UnknownImport").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawFuel, sawErrors bool
	for _, fam := range families {
		switch fam.GetName() {
		case "rwasm_compiler_fuel_consumed_total":
			sawFuel = true
			if got := fam.Metric[0].GetCounter().GetValue(); got != 42 {
				t.Fatalf("fuel_consumed_total = %v, want 42", got)
			}
		case "rwasm_compiler_errors_total":
			sawErrors = true
		}
	}
	if !sawFuel {
		t.Fatalf("fuel_consumed_total metric not gathered")
	}
	if !sawErrors {
		t.Fatalf("errors_total metric not gathered")
	}
}

func TestDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	c.MustRegister(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic registering the same collectors twice")
		}
	}()
	c.MustRegister(reg)
}
