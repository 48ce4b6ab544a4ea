package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "session",
			Name:      "loads_total",
			Help:      "Engine loads by outcome (ready, failed, discarded)",
		},
		[]string{"outcome"},
	)

	loadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatd",
			Subsystem: "session",
			Name:      "load_duration_seconds",
			Help:      "Time spent creating engines",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "session",
			Name:      "generations_total",
			Help:      "Generations by outcome (done, failed)",
		},
		[]string{"outcome"},
	)

	deltasTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "session",
			Name:      "deltas_total",
			Help:      "Non-empty text deltas received from engines",
		},
	)

	generating = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatd",
			Subsystem: "session",
			Name:      "generating",
			Help:      "Generations currently streaming",
		},
	)

	unloadErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "session",
			Name:      "unload_errors_total",
			Help:      "Failed engine unloads (best-effort, never surfaced)",
		},
	)
)
