// Package services – domain metrics
//
// Prometheus collectors for the search flow and the result cache. Label
// cardinality is kept bounded: outcomes are a small fixed enum, never raw
// molecule names or fingerprints.
package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup outcomes.
const (
	cacheOutcomeHit           = "hit"
	cacheOutcomeAbsent        = "miss_absent"
	cacheOutcomeStale         = "miss_stale"
	cacheOutcomeOrphan        = "miss_orphan"
	cacheOutcomeCollision     = "miss_collision"
	cacheOutcomeReadError     = "miss_read_error"
	cacheOutcomeInvalidInput  = "miss_invalid_input"
)

// Search terminal outcomes.
const (
	searchOutcomeCacheHit  = "cache_hit"
	searchOutcomeSuccess   = "success"
	searchOutcomeRejected  = "start_rejected"
	searchOutcomeJobFailed = "job_failed"
	searchOutcomeExhausted = "polling_exhausted"
	searchOutcomeTimeout   = "timeout"
	searchOutcomeCancelled = "cancelled"
)

var (
	// cacheLookups counts result-cache lookups by outcome.
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patent_cache_lookups_total",
			Help: "Total number of result-cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	// cacheWriteFailures counts swallowed cache write errors. Writes are
	// best-effort, so failures only surface here and in logs.
	cacheWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patent_cache_write_failures_total",
			Help: "Total number of best-effort cache writes that failed.",
		},
	)

	// searches counts orchestrated searches by terminal outcome.
	searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patent_searches_total",
			Help: "Total number of orchestrated patent searches by terminal outcome.",
		},
		[]string{"outcome"},
	)

	// searchDuration records wall-clock duration of orchestrated searches
	// that ran a backend job (cache hits excluded). Buckets span the polling
	// cadence (20s) up to the 15-minute deadline.
	searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patent_search_duration_seconds",
			Help:    "Duration of backend-driven patent searches in seconds.",
			Buckets: []float64{5, 20, 40, 60, 120, 240, 480, 900},
		},
	)
)

func init() {
	prometheus.MustRegister(cacheLookups, cacheWriteFailures, searches, searchDuration)
}
