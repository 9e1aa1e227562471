package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Speech pipeline metrics covering recognition, translation and synthesis
var (
	SpeechSegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_segments_total",
		Help: "Total number of audio segments processed by the pipeline",
	}, []string{"outcome"}) // "completed", "rejected", "failed", "text_only", "cancelled"

	SpeechStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_stage_duration_seconds",
		Help:    "Latency of each pipeline stage",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"stage"}) // "recognize", "translate", "synthesize"

	SpeechDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_deliveries_total",
		Help: "Total number of speech results delivered to listeners",
	}, []string{"type"}) // "partial", "final"

	SpeechInflightSegments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_inflight_segments",
		Help: "Current number of segments being processed by the pipeline",
	})

	SpeechSegmentsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_segments_cancelled_total",
		Help: "Total number of in-flight segments aborted before completion",
	}, []string{"reason"}) // "mute", "call_end", "room_ended", "disconnect", "leaked"

	TranslationCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translation_cache_total",
		Help: "Translation cache lookups by tier and result",
	}, []string{"tier", "result"}) // tier: "memory", "redis"; result: "hit", "miss"

	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Total number of speech provider failures",
	}, []string{"provider", "transient"})

	PlaybackDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_dropped_total",
		Help: "Total number of synthesized clips dropped before playback",
	}, []string{"reason"}) // "overflow", "closed", "purged"

	PlaybackQueuesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_queues_active",
		Help: "Current number of per-listener playback queues",
	})
)
