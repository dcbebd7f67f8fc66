package locator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsage_locator_record_cache_total",
		Help: "Document record cache lookups by result.",
	}, []string{"result"})

	conversionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsage_locator_conversions_total",
		Help: "Canonical format resolutions by outcome (reused, converted, failed).",
	}, []string{"outcome"})
)
