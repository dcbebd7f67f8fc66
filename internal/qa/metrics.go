package qa

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	asksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsage_qa_asks_total",
		Help: "Ask requests by outcome: answered, replayed, or the failure kind.",
	}, []string{"outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docsage_qa_stage_duration_seconds",
		Help:    "Time spent in each ask pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 9),
	}, []string{"stage"})

	ledgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsage_qa_ledger_write_failures_total",
		Help: "Answers that were returned but could not be recorded.",
	})
)
