package compiler

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rwasm-project/rwasm/rwasm/metrics"
)

// TestWithMetricsRecordsTranslateAndFinalize exercises the compiler's
// optional metrics hook end to end: a successful Translate/Finalize should
// bump the duration/size histograms and the function counter exactly once.
func TestWithMetricsRecordsTranslateAndFinalize(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := metrics.New()
	collectors.MustRegister(reg)

	c, err := New(buildAddModule(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.WithMetrics(collectors)

	entry := ExportEntry("add")
	if err := c.Translate(&entry); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if _, err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawDuration, sawSize, sawLowered bool
	for _, fam := range families {
		switch fam.GetName() {
		case "rwasm_compiler_translate_duration_seconds":
			sawDuration = true
			if got := fam.Metric[0].GetHistogram().GetSampleCount(); got != 1 {
				t.Fatalf("translate_duration_seconds sample count = %d, want 1", got)
			}
		case "rwasm_compiler_code_section_bytes":
			sawSize = true
			if got := fam.Metric[0].GetHistogram().GetSampleCount(); got != 1 {
				t.Fatalf("code_section_bytes sample count = %d, want 1", got)
			}
		case "rwasm_compiler_functions_lowered_total":
			sawLowered = true
			if got := fam.Metric[0].GetCounter().GetValue(); got == 0 {
				t.Fatalf("functions_lowered_total = %v, want > 0", got)
			}
		}
	}
	if !sawDuration || !sawSize || !sawLowered {
		t.Fatalf("missing expected metric families: duration=%v size=%v lowered=%v", sawDuration, sawSize, sawLowered)
	}
}

// TestWithMetricsRecordsCompileErrors checks that a failed Translate labels
// CompileErrors with the sentinel kind the failure actually matches.
func TestWithMetricsRecordsCompileErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := metrics.New()
	collectors.MustRegister(reg)

	c, err := New(buildUnresolvableImportModule(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.WithMetrics(collectors)

	if err := c.Translate(nil); err == nil {
		t.Fatalf("expected Translate to fail on an unresolvable import")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawUnknownImport bool
	for _, fam := range families {
		if fam.GetName() != "rwasm_compiler_errors_total" {
			continue
		}
		for _, m := range fam.Metric {
			for _, lbl := range m.Label {
				if lbl.GetName() == "kind" && lbl.GetValue() == "unknown_import" {
					sawUnknownImport = true
				}
			}
		}
	}
	if !sawUnknownImport {
		t.Fatalf("errors_total has no kind=unknown_import sample")
	}
}

// TestCompileAllSharesMetricsAcrossJobs verifies every concurrent job in a
// CompileAll batch reports into one shared Collectors bundle safely.
func TestCompileAllSharesMetricsAcrossJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := metrics.New()
	collectors.MustRegister(reg)

	addEntry := ExportEntry("add")
	dispatchEntry := ExportEntry("dispatch")

	jobs := []Job{
		{Name: "add", Wasm: buildAddModule(), Cfg: DefaultConfig(), Entry: &addEntry, Metrics: collectors},
		{Name: "loop", Wasm: buildSelfRecursiveModule(), Cfg: DefaultConfig(), Metrics: collectors},
		{Name: "dispatch", Wasm: buildBrTableModule(), Cfg: DefaultConfig(), Entry: &dispatchEntry, Metrics: collectors},
	}

	results := CompileAll(jobs)
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("job %q failed: %v", r.Name, r.Err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "rwasm_compiler_translate_duration_seconds" {
			continue
		}
		if got := fam.Metric[0].GetHistogram().GetSampleCount(); got != uint64(len(jobs)) {
			t.Fatalf("translate_duration_seconds sample count = %d, want %d", got, len(jobs))
		}
		return
	}
	t.Fatalf("translate_duration_seconds metric not gathered")
}
