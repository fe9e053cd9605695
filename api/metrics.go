package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookworld_active_sessions",
		Help: "Number of connected client sessions.",
	})

	metricGenerationLoops = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookworld_generation_loops",
		Help: "Number of running generation loops.",
	})

	metricFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookworld_frames_sent_total",
		Help: "Total outbound frames enqueued to clients.",
	})

	metricEngineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookworld_engine_failures_total",
		Help: "Total engine failures contained inside generation loops.",
	})
)
