package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for one-to-one and group call signaling
var (
	CallsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_initiated_total",
		Help: "Total number of calls initiated",
	}, []string{"kind"}) // "direct", "group"

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calls_active",
		Help: "Current number of calls in ringing or active state",
	})

	CallOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_outcome_total",
		Help: "Total number of calls by terminal outcome",
	}, []string{"kind", "outcome"}) // "answered", "declined", "timeout", "unavailable", "ended"

	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Call duration in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"kind"})

	GroupCallParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "group_call_participants",
		Help: "Current number of participants across all group calls",
	})

	GroupCallConflictRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "group_call_conflict_retry_total",
		Help: "Total number of group call updates retried after a version conflict",
	})

	GroupCallReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "group_call_reaped_total",
		Help: "Total number of abandoned ringing group calls reaped",
	})
)
