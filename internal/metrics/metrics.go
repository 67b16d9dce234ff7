// Package metrics holds the Prometheus collectors shared by the scoring
// engine, the HTTP layer and the lead worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	rulesFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_scoring_rules_fired_total",
			Help: "Total number of rule applications that fired",
		},
	)

	rulesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_scoring_rules_skipped_total",
			Help: "Rules skipped during scoring because they could not be evaluated",
		},
		[]string{"reason"},
	)

	scoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_scoring_duration_seconds",
			Help:    "Time spent folding rules over one transcript",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		},
	)

	leadsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_leads_detected_total",
			Help: "Sessions that crossed into lead territory",
		},
	)

	messagesThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_messages_throttled_total",
			Help: "Visitor messages rejected by the per-session throttle",
		},
	)
)

// RecordHTTPRequest records a finished HTTP request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordScoring records one scoring pass.
func RecordScoring(fired int, duration time.Duration) {
	rulesFired.Add(float64(fired))
	scoringDuration.Observe(duration.Seconds())
}

// RecordRuleSkipped counts a rule dropped from a scoring pass.
func RecordRuleSkipped(reason string) {
	rulesSkipped.WithLabelValues(reason).Inc()
}

func RecordLeadDetected() {
	leadsDetected.Inc()
}

func RecordThrottled() {
	messagesThrottled.Inc()
}
