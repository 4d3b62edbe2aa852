package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "Total number of requests labelled by path and status",
}, []string{"path", "status"})

var countJobsInQueue = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "count_jobs_in_queue",
	Help: "Number of jobs in queue",
})

var dispatcherSignalCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dispatcher_signal_count",
	Help: "How often the dispatcher has signaled to start worker",
})

var activeWorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "active_worker_count",
	Help: "Number of active workers",
})

var gatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_calls_total",
	Help: "Model gateway invocations labelled by provider and outcome",
}, []string{"provider", "outcome"})

var gatewayRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gateway_retries_total",
	Help: "Transport-level retries performed by the model gateway",
})

var gatewayCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "gateway_call_duration_seconds",
	Help:    "Latency of successful model gateway calls",
	Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
})

var gatewayTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_tokens_total",
	Help: "Token usage reported by the model transport",
}, []string{"kind"})

var groupsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groups_processed_total",
	Help: "Document groups finished, labelled by terminal status",
}, []string{"status"})

var rowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rows_written_total",
	Help: "Result rows appended to the output sink",
})

type HttpStatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *HttpStatusRecorder) CaptureWriteHeaderMetrics(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func IncrementJobsInQueue() {
	countJobsInQueue.Inc()
}

func DecrementJobsInQueue() {
	countJobsInQueue.Dec()
}

func StartDispatcherSignalCount() {
	dispatcherSignalCount.Inc()
}

func IncrementActiveWorkerCount() {
	activeWorkerCount.Inc()
}

func DecrementActiveWorkerCount() {
	activeWorkerCount.Dec()
}

func CaptureGatewayCall(provider string, outcome string, duration time.Duration) {
	gatewayCallsTotal.WithLabelValues(provider, outcome).Inc()
	if outcome == "success" {
		gatewayCallDuration.Observe(duration.Seconds())
	}
}

func CaptureGatewayRetry() {
	gatewayRetriesTotal.Inc()
}

func CaptureTokenUsage(promptTokens int64, outputTokens int64) {
	if promptTokens > 0 {
		gatewayTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if outputTokens > 0 {
		gatewayTokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	}
}

func CaptureGroupProcessed(status string) {
	groupsProcessedTotal.WithLabelValues(status).Inc()
}

func CaptureRowWritten() {
	rowsWrittenTotal.Inc()
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "job_duration_seconds",
	Help:    "Duration of processing jobs labelled by final status",
	Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
}, []string{"status"})

func CaptureJobMetrics(status string, duration time.Duration) {
	requestDuration.WithLabelValues(status).Observe(duration.Seconds())
}
