// Package telemetry exposes the process-wide prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchesTotal counts dispatched search queries by outcome.
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepresearch",
		Name:      "searches_total",
		Help:      "Search queries dispatched, by outcome.",
	}, []string{"status"})

	// PagesFetchedTotal counts page visits by outcome.
	PagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepresearch",
		Name:      "pages_fetched_total",
		Help:      "Pages fetched, by outcome.",
	}, []string{"status"})

	// ChallengesDetectedTotal counts page visits rejected for bot
	// challenge signatures.
	ChallengesDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deepresearch",
		Name:      "challenges_detected_total",
		Help:      "Page visits rejected as bot challenges.",
	})

	// SessionDuration observes completed research session wall time.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "deepresearch",
		Name:      "session_duration_seconds",
		Help:      "Research session wall-clock duration.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// QueuePending tracks the current pending depth of the search queue.
	QueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "deepresearch",
		Name:      "queue_pending",
		Help:      "Search queue items awaiting processing.",
	})
)

// Outcome label values.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusChallenge = "challenge"
)
