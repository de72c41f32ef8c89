package artifactcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label values.
const (
	hitPathOptimistic    = "optimistic"
	hitPathAuthoritative = "authoritative"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"

	actionMarked    = "marked"
	actionUnmarked  = "unmarked"
	actionDeleted   = "deleted"
	actionTempFiles = "temp_removed"
)

// Metrics holds the Prometheus collectors of one [Cache].
type Metrics struct {
	Hits                *prometheus.CounterVec
	Misses              prometheus.Counter
	Productions         *prometheus.CounterVec
	IntegrityViolations *prometheus.CounterVec
	CleanupEntries      *prometheus.CounterVec
	CleanupPasses       *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactcache_hits_total",
		Help: "Cache hits, by the path that served them",
	}, []string{"path"})

	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artifactcache_misses_total",
		Help: "Lookups that had to invoke the producer",
	})

	productions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactcache_productions_total",
		Help: "Producer invocations, by result",
	}, []string{"result"})

	integrity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactcache_integrity_violations_total",
		Help: "Entries deleted because their metadata was rejected",
	}, []string{"reason"})

	cleanupEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactcache_cleanup_entries_total",
		Help: "Entry files changed by cleanup, by action",
	}, []string{"action"})

	cleanupPasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactcache_cleanup_passes_total",
		Help: "Cleanup invocations, by result",
	}, []string{"result"})

	if reg != nil {
		reg.MustRegister(hits, misses, productions, integrity, cleanupEntries, cleanupPasses)
	}

	return &Metrics{
		Hits:                hits,
		Misses:              misses,
		Productions:         productions,
		IntegrityViolations: integrity,
		CleanupEntries:      cleanupEntries,
		CleanupPasses:       cleanupPasses,
	}
}

func (m *Metrics) observeCleanup(out CleanupOutcome) {
	switch {
	case !out.Ran:
		m.CleanupPasses.WithLabelValues(resultSkipped).Inc()
	case len(out.Errors) > 0:
		m.CleanupPasses.WithLabelValues(resultError).Inc()
	default:
		m.CleanupPasses.WithLabelValues(resultSuccess).Inc()
	}

	m.CleanupEntries.WithLabelValues(actionMarked).Add(float64(out.Marked))
	m.CleanupEntries.WithLabelValues(actionUnmarked).Add(float64(out.Unmarked))
	m.CleanupEntries.WithLabelValues(actionDeleted).Add(float64(out.Deleted))
	m.CleanupEntries.WithLabelValues(actionTempFiles).Add(float64(out.TempFilesRemoved))
}
