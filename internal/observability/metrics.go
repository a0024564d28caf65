// Package observability exposes Prometheus collectors for the webhook
// pipeline and HTTP traffic, plus OpenTelemetry tracing setup.
//
// Label sets are closed enumerations (delivery status, event kind, reply
// action, outcome) so cardinality stays bounded.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// webhookDeliveries counts POST deliveries by final audit status
	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ig_webhook_deliveries_total",
			Help: "Webhook deliveries by processing status.",
		},
		[]string{"status"},
	)

	// duplicates counts suppressed deliveries per dedup layer (body, event)
	duplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ig_webhook_duplicates_total",
			Help: "Deliveries suppressed by the deduplicator.",
		},
		[]string{"layer"},
	)

	// events counts normalized events by kind
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ig_events_total",
			Help: "Normalized webhook events by kind.",
		},
		[]string{"kind"},
	)

	// ruleMatches counts rules that fired
	ruleMatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ig_rule_matches_total",
			Help: "Automation rules matched by comments.",
		},
	)

	// replies counts dispatch results by outcome and delivering action
	replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ig_replies_total",
			Help: "Reply dispatch results by outcome and action.",
		},
		[]string{"outcome", "action"},
	)

	// sendAttempts counts individual outbound calls
	sendAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ig_send_attempts_total",
			Help: "Outbound send attempts by action and result.",
		},
		[]string{"action", "result"},
	)

	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		webhookDeliveries, duplicates, events, ruleMatches, replies, sendAttempts,
		httpReqs, httpLat, httpInflight,
	)
}

// ObserveDelivery records the final status of one webhook delivery
func ObserveDelivery(status string) {
	webhookDeliveries.WithLabelValues(status).Inc()
}

// ObserveDuplicate records a delivery dropped by the given dedup layer
func ObserveDuplicate(layer string) {
	duplicates.WithLabelValues(layer).Inc()
}

// ObserveEvent records one normalized event
func ObserveEvent(kind string) {
	events.WithLabelValues(kind).Inc()
}

// ObserveMatches adds n fired rules
func ObserveMatches(n int) {
	ruleMatches.Add(float64(n))
}

// ObserveReply records one dispatch result. action is empty unless sent.
func ObserveReply(outcome, action string) {
	if action == "" {
		action = "none"
	}
	replies.WithLabelValues(outcome, action).Inc()
}

// ObserveSendAttempt records one outbound call
func ObserveSendAttempt(action string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	sendAttempts.WithLabelValues(action, result).Inc()
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Metrics instruments requests. The path label is the matched mux pattern
// (Go 1.22 ServeMux), falling back to "unmatched" to keep cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		httpReqs.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpLat.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
