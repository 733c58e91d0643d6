// Package metrics owns the prometheus collectors exported on /metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vidsub"

var (
	initOnce sync.Once

	extractionsTotal          *prometheus.CounterVec
	extractionDurationSeconds *prometheus.HistogramVec

	translationCacheLookups  *prometheus.CounterVec
	endpointCallsTotal       *prometheus.CounterVec
	endpointCallSeconds      *prometheus.HistogramVec
	endpointProbeSeconds     *prometheus.HistogramVec
	translationsExhausted    prometheus.Counter
	translationCachePurged   prometheus.Counter
	rawTranscriptionsWritten *prometheus.CounterVec
)

func initCollectors() {
	initOnce.Do(func() {
		extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "transcode_jobs_total",
			Help:      "Transcode jobs run by the audio extractor",
		}, []string{"operation", "status"})

		extractionDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "transcode_duration_seconds",
			Help:      "Wall time of transcode jobs, including the wait for the engine",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"operation"})

		translationCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "translation",
			Name:      "cache_lookups_total",
			Help:      "Translation cache lookups by result",
		}, []string{"result"})

		endpointCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "translation",
			Name:      "endpoint_calls_total",
			Help:      "Translate calls per endpoint and outcome",
		}, []string{"endpoint", "status"})

		endpointCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "translation",
			Name:      "endpoint_call_seconds",
			Help:      "Latency of translate calls per endpoint",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"})

		endpointProbeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "translation",
			Name:      "endpoint_probe_seconds",
			Help:      "Latency of availability probes per endpoint and outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3},
		}, []string{"endpoint", "status"})

		translationsExhausted = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "translation",
			Name:      "exhausted_total",
			Help:      "Translations that failed on every endpoint across all attempts",
		})

		translationCachePurged = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "translation",
			Name:      "cache_purged_entries_total",
			Help:      "Stale translation cache entries removed by maintenance",
		})

		rawTranscriptionsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcripts",
			Name:      "save_attempts_total",
			Help:      "Raw transcription save attempts by result",
		}, []string{"result"})
	})
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func ObserveTranscode(operation string, ok bool, elapsed time.Duration) {
	initCollectors()
	extractionsTotal.WithLabelValues(operation, statusLabel(ok)).Inc()
	extractionDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func ObserveCacheLookup(hit bool) {
	initCollectors()
	result := "miss"
	if hit {
		result = "hit"
	}
	translationCacheLookups.WithLabelValues(result).Inc()
}

func ObserveEndpointCall(endpoint string, ok bool, elapsed time.Duration) {
	initCollectors()
	endpointCallsTotal.WithLabelValues(endpoint, statusLabel(ok)).Inc()
	endpointCallSeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func ObserveProbe(endpoint string, ok bool, elapsed time.Duration) {
	initCollectors()
	endpointProbeSeconds.WithLabelValues(endpoint, statusLabel(ok)).Observe(elapsed.Seconds())
}

func IncTranslationExhausted() {
	initCollectors()
	translationsExhausted.Inc()
}

func AddTranslationCachePurged(n int64) {
	initCollectors()
	if n > 0 {
		translationCachePurged.Add(float64(n))
	}
}

// ObserveRawSave records the outcome of a raw transcription save: "created", "duplicate" or "error".
func ObserveRawSave(result string) {
	initCollectors()
	rawTranscriptionsWritten.WithLabelValues(result).Inc()
}
