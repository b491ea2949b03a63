package compiler

import (
	"bytes"
	"testing"

	"github.com/rwasm-project/rwasm/rwasm/modcache"
)

func TestCompileAllIndependentModules(t *testing.T) {
	addEntry := ExportEntry("add")
	dispatchEntry := ExportEntry("dispatch")

	jobs := []Job{
		{Name: "add", Wasm: buildAddModule(), Cfg: DefaultConfig(), Entry: &addEntry},
		{Name: "loop", Wasm: buildSelfRecursiveModule(), Cfg: DefaultConfig()},
		{Name: "dispatch", Wasm: buildBrTableModule(), Cfg: DefaultConfig(), Entry: &dispatchEntry},
	}

	results := CompileAll(jobs)
	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}
	for i, r := range results {
		if r.Name != jobs[i].Name {
			t.Fatalf("result %d name = %q, want %q (order must match input)", i, r.Name, jobs[i].Name)
		}
		if r.Err != nil {
			t.Fatalf("job %q failed: %v", r.Name, r.Err)
		}
		if len(r.Program) == 0 {
			t.Fatalf("job %q produced an empty program", r.Name)
		}
	}
}

func TestCompileAllIsolatesFailures(t *testing.T) {
	addEntry := ExportEntry("add")
	jobs := []Job{
		{Name: "good", Wasm: buildAddModule(), Cfg: DefaultConfig(), Entry: &addEntry},
		{Name: "bad", Wasm: []byte("not a wasm module")},
	}

	results := CompileAll(jobs)
	if results[0].Err != nil {
		t.Fatalf("good job failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("expected the malformed job to fail")
	}
	if len(results[0].Program) == 0 {
		t.Fatalf("good job alongside a failing sibling should still produce a program")
	}
}

func TestCompileAllServesRepeatJobsFromCache(t *testing.T) {
	cache := modcache.New(1 << 20)
	addEntry := ExportEntry("add")
	job := Job{Name: "add", Wasm: buildAddModule(), Cfg: DefaultConfig(), Entry: &addEntry, Cache: cache}

	first := CompileAll([]Job{job})
	if first[0].Err != nil {
		t.Fatalf("first compile failed: %v", first[0].Err)
	}
	second := CompileAll([]Job{job})
	if second[0].Err != nil {
		t.Fatalf("cached compile failed: %v", second[0].Err)
	}
	if !bytes.Equal(first[0].Program, second[0].Program) {
		t.Fatalf("cached program differs from the freshly compiled one")
	}
	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("cache stats = %+v, want exactly one miss then one hit", stats)
	}
}
