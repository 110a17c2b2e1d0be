package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notesingest"

var (
	ingestReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Total ingestions by source and result kind",
		},
		[]string{"source", "result"},
	)

	ocrReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_requests_total",
			Help:      "Total OCR backend calls by backend and result",
		},
		[]string{"backend", "result"},
	)

	ocrLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_request_duration_seconds",
			Help:      "Duration of OCR backend calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"backend"},
	)

	ocrPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_pages_total",
			Help:      "Pages sent to OCR, by source",
		},
		[]string{"source"},
	)

	llmReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM calls by task and result",
		},
		[]string{"task", "result"},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_events_total",
			Help:      "Circuit breaker state transitions by backend and new state",
		},
		[]string{"backend", "state"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-tenant rate limiter",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(ingestReqs, ocrReqs, ocrLatency, ocrPages, llmReqs, breakerEvents, rateLimited)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

// ObserveIngest records one ingestion. result is "ok" or an error kind.
func ObserveIngest(source, result string, ocrUsed bool, pages int) {
	ingestReqs.WithLabelValues(source, result).Inc()
	if ocrUsed && pages > 0 {
		ocrPages.WithLabelValues(source).Add(float64(pages))
	}
}

func ObserveOCR(backend, result string, dur time.Duration) {
	ocrReqs.WithLabelValues(backend, result).Inc()
	ocrLatency.WithLabelValues(backend).Observe(dur.Seconds())
}

func IncLLM(task string, ok bool) { llmReqs.WithLabelValues(task, strconv.FormatBool(ok)).Inc() }

func BreakerState(backend, state string) { breakerEvents.WithLabelValues(backend, state).Inc() }

func IncRateLimited() { rateLimited.Inc() }
