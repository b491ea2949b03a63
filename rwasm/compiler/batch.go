package compiler

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rwasm-project/rwasm/rwasm/linker"
	"github.com/rwasm-project/rwasm/rwasm/metrics"
	"github.com/rwasm-project/rwasm/rwasm/modcache"
)

// Job describes one independent module to translate as part of a
// CompileAll batch.
type Job struct {
	Name   string
	Wasm   []byte
	Cfg    Config
	Linker *linker.Linker
	Entry  *FuncOrExport
	// Metrics is optional; when set, every job sharing the same bundle
	// reports into it. prometheus collectors are safe for concurrent use,
	// so every goroutine CompileAll spawns may report into one bundle
	// without its own synchronization.
	Metrics *metrics.Collectors
	// Cache is optional; when set, a job whose source bytes were already
	// compiled is served the cached finalized program without running
	// Translate/Finalize again, and a fresh compilation is stored back.
	// A cached program is only valid for the configuration it was compiled
	// under, so jobs with differing Cfg/Linker/Entry must not share one
	// Cache.
	Cache *modcache.Cache
}

// Result is one job's outcome: either Program is set, or Err is non-nil.
type Result struct {
	Name    string
	Program []byte
	Err     error
}

// CompileAll translates every job concurrently via errgroup.Group and
// returns one Result per job, in the same order as jobs.
//
// Each job gets its own *Compiler instance with no state shared across
// goroutines: the sharing boundary here is across whole modules, not
// within the sequential per-function-body translation a single Compiler
// performs. CompileAll does not parallelize the inside of one module's
// Translate/Finalize pass; it parallelizes across modules that have no
// mutable state to share in the first place.
func CompileAll(jobs []Job) []Result {
	results := make([]Result, len(jobs))
	var g errgroup.Group

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = compileOne(job)
			return nil
		})
	}
	// Errors are carried per-Result rather than surfaced through the
	// errgroup itself: one job's decode/translate failure must not cancel
	// sibling jobs that are otherwise independent and may still succeed.
	_ = g.Wait()
	return results
}

func compileOne(job Job) Result {
	if job.Cache != nil {
		if program, ok := job.Cache.Get(job.Wasm); ok {
			if job.Metrics != nil {
				job.Metrics.ModCacheHits.Inc()
			}
			return Result{Name: job.Name, Program: program}
		}
		if job.Metrics != nil {
			job.Metrics.ModCacheMisses.Inc()
		}
	}
	comp, err := New(job.Wasm, job.Cfg, job.Linker)
	if err != nil {
		return Result{Name: job.Name, Err: fmt.Errorf("%s: %w", job.Name, err)}
	}
	if job.Metrics != nil {
		comp.WithMetrics(job.Metrics)
	}
	if err := comp.Translate(job.Entry); err != nil {
		return Result{Name: job.Name, Err: fmt.Errorf("%s: %w", job.Name, err)}
	}
	out, err := comp.Finalize()
	if err != nil {
		return Result{Name: job.Name, Err: fmt.Errorf("%s: %w", job.Name, err)}
	}
	if job.Cache != nil {
		job.Cache.Put(job.Wasm, out)
	}
	return Result{Name: job.Name, Program: out}
}
