package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	queueWaitTime   *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the LLM metrics with reg. A nil reg uses
// the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, endpoint, run, worker, and status",
			},
			[]string{"model", "endpoint", "run_id", "worker", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "endpoint", "run_id", "worker", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "endpoint", "worker"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_throttle_total",
				Help: "Total number of rate-limit events per endpoint",
			},
			[]string{"endpoint", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_queue_wait_duration_seconds",
				Help:    "Time spent waiting for a rate-limited endpoint to cool down",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
			[]string{"endpoint"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, endpoint string,
	labels Labels,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	p.requestsTotal.WithLabelValues(model, endpoint, labels.RunID, labels.Worker, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(model, endpoint, labels.RunID, labels.Worker, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, endpoint, labels.RunID, labels.Worker, "completion").Add(float64(completionTokens))
	}
	p.requestDuration.WithLabelValues(model, endpoint, labels.Worker).Observe(duration.Seconds())
}

// IncThrottle counts a rate-limit event on an endpoint.
func (p *PrometheusRecorder) IncThrottle(endpoint, reason string) {
	p.throttleTotal.WithLabelValues(endpoint, reason).Inc()
}

// ObserveQueueWait records time spent waiting for an endpoint to cool down.
func (p *PrometheusRecorder) ObserveQueueWait(endpoint string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(endpoint).Observe(duration.Seconds())
}
