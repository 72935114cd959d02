package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// EventsPublished counts events accepted by ingress
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_events_published_total", Help: "Events accepted by ingress by event type."},
		[]string{"event_type"},
	)
	// JobsEnqueued counts delivery jobs created by fan-out
	JobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_jobs_enqueued_total", Help: "Delivery jobs created by event type."},
		[]string{"event_type"},
	)
	// WebhookDeliveries counts production delivery attempts by event type and outcome
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "status"},
	)
	WebhookRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_retries_scheduled_total", Help: "Retries scheduled after a failed attempt."},
		[]string{"event_type"},
	)
	WebhookPermanentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_permanent_failures_total", Help: "Events that exhausted every attempt."},
		[]string{"event_type"},
	)
	WebhookDeactivations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_subscription_deactivations_total", Help: "Subscriptions deactivated by the failure policy."},
	)
	// WebhookJobsDropped counts jobs discarded at dequeue time by reason (deleted, inactive)
	WebhookJobsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_jobs_dropped_total", Help: "Jobs dropped before an attempt."},
		[]string{"reason"},
	)
	WebhookQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "webhook_queue_depth", Help: "Jobs waiting in the retry heap or parked behind an in-flight attempt."},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(EventsPublished, JobsEnqueued)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency, WebhookRetries, WebhookPermanentFailures, WebhookDeactivations, WebhookJobsDropped, WebhookQueueDepth)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
