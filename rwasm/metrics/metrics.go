// Package metrics exposes Prometheus collectors for the compiler and
// journaled trie: counters for rollbacks, commits and compile errors,
// histograms for compile duration and generated-code size, exported as
// real Prometheus collectors a host process can register instead of a
// plain struct of atomics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric this repository emits. Callers register
// it once against a prometheus.Registerer of their choosing (the default
// global registry, or an isolated one in tests).
type Collectors struct {
	CompileDuration   prometheus.Histogram
	CompileErrors     *prometheus.CounterVec
	FuelConsumed      prometheus.Counter
	FunctionsLowered  prometheus.Counter
	CodeSectionBytes  prometheus.Histogram
	JournalRollbacks  prometheus.Counter
	JournalDepth      prometheus.Histogram
	TrieCommits       prometheus.Counter
	ModCacheHits      prometheus.Counter
	ModCacheMisses    prometheus.Counter
}

// New creates a fresh set of collectors, unregistered.
func New() *Collectors {
	return &Collectors{
		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rwasm",
			Subsystem: "compiler",
			Name:      "translate_duration_seconds",
			Help:      "Wall-clock time spent in Compiler.Translate, per call.",
			Buckets:   prometheus.DefBuckets,
		}),
		CompileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwasm",
			Subsystem: "compiler",
			Name:      "errors_total",
			Help:      "Compilation failures, labeled by sentinel error kind.",
		}, []string{"kind"}),
		FuelConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rwasm",
			Subsystem: "compiler",
			Name:      "fuel_consumed_total",
			Help:      "Total fuel cost emitted across every ConsumeFuel opcode.",
		}),
		FunctionsLowered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rwasm",
			Subsystem: "compiler",
			Name:      "functions_lowered_total",
			Help:      "Number of function bodies translated.",
		}),
		CodeSectionBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rwasm",
			Subsystem: "compiler",
			Name:      "code_section_bytes",
			Help:      "Size in bytes of the finalized rWASM code section.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 16),
		}),
		JournalRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rwasm",
			Subsystem: "trie",
			Name:      "journal_rollbacks_total",
			Help:      "Number of JournaledTrie.Rollback calls.",
		}),
		JournalDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rwasm",
			Subsystem: "trie",
			Name:      "journal_rollback_depth",
			Help:      "Number of journal entries reverted per Rollback call.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TrieCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rwasm",
			Subsystem: "trie",
			Name:      "commits_total",
			Help:      "Number of JournaledTrie.Commit calls.",
		}),
		ModCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rwasm",
			Subsystem: "modcache",
			Name:      "hits_total",
			Help:      "Compiled-program cache hits.",
		}),
		ModCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rwasm",
			Subsystem: "modcache",
			Name:      "misses_total",
			Help:      "Compiled-program cache misses.",
		}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate-registration error (the standard prometheus convention for
// process-startup registration).
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.CompileDuration,
		c.CompileErrors,
		c.FuelConsumed,
		c.FunctionsLowered,
		c.CodeSectionBytes,
		c.JournalRollbacks,
		c.JournalDepth,
		c.TrieCommits,
		c.ModCacheHits,
		c.ModCacheMisses,
	)
}
