// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Poller metrics
	PollChecks       *prometheus.CounterVec
	PollErrors       *prometheus.CounterVec
	PollsActive      prometheus.Gauge
	PollsCompleted   *prometheus.CounterVec
	PollCheckLatency *prometheus.HistogramVec

	// Ticket metrics
	TicketTransitions *prometheus.CounterVec
	TicketsOpen       prometheus.Gauge
	UserErrors        *prometheus.CounterVec

	// Matcher and pricing metrics
	MatchOutcomes  *prometheus.CounterVec
	QuotesComputed prometheus.Counter
	QuoteRobux     prometheus.Histogram

	// Deal metrics
	DealsRecorded *prometheus.CounterVec
	DealRobux     *prometheus.CounterVec

	// Notification metrics
	NotificationsSent  *prometheus.CounterVec
	NotificationErrors *prometheus.CounterVec
	WebsocketClients   prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trading_desk"
	}

	return &Metrics{
		// Poller metrics
		PollChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "checks_total",
			Help:      "Total number of external state checks by kind and result",
		}, []string{"kind", "result"}),
		PollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "errors_total",
			Help:      "Total number of absorbed poll errors by kind and error type",
		}, []string{"kind", "error_type"}),
		PollsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "active",
			Help:      "Current number of running poll chains",
		}),
		PollsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "completed_total",
			Help:      "Total number of finished poll stages by kind and outcome",
		}, []string{"kind", "outcome"}),
		PollCheckLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "check_latency_seconds",
			Help:      "External check latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		// Ticket metrics
		TicketTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ticket",
			Name:      "transitions_total",
			Help:      "Total number of ticket step transitions",
		}, []string{"from", "to"}),
		TicketsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ticket",
			Name:      "open",
			Help:      "Current number of open tickets",
		}),
		UserErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ticket",
			Name:      "user_errors_total",
			Help:      "Total number of rejected user actions by error title",
		}, []string{"title"}),

		// Matcher and pricing metrics
		MatchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "outcomes_total",
			Help:      "Total number of item matches by outcome",
		}, []string{"outcome"}),
		QuotesComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "quotes_total",
			Help:      "Total number of quotes computed",
		}),
		QuoteRobux: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "quote_robux",
			Help:      "Distribution of quoted totals in robux",
			Buckets:   []float64{500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
		}),

		// Deal metrics
		DealsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "recorded_total",
			Help:      "Total number of deals recorded by method and outcome",
		}, []string{"method", "outcome"}),
		DealRobux: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "robux_total",
			Help:      "Total robux of accepted deals by method",
		}, []string{"method"}),

		// Notification metrics
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total number of notifications delivered by sink and kind",
		}, []string{"sink", "kind"}),
		NotificationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "errors_total",
			Help:      "Total number of failed notification deliveries by sink",
		}, []string{"sink"}),
		WebsocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "websocket_clients",
			Help:      "Current number of connected websocket clients",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPollCheck records one external check and its latency.
func RecordPollCheck(kind, result string, seconds float64) {
	DefaultMetrics.PollChecks.WithLabelValues(kind, result).Inc()
	DefaultMetrics.PollCheckLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordPollError records an absorbed poll error.
func RecordPollError(kind, errorType string) {
	DefaultMetrics.PollErrors.WithLabelValues(kind, errorType).Inc()
}

// RecordPollStarted increments the active polls gauge.
func RecordPollStarted() {
	DefaultMetrics.PollsActive.Inc()
}

// RecordPollFinished decrements the active polls gauge.
func RecordPollFinished() {
	DefaultMetrics.PollsActive.Dec()
}

// RecordPollCompleted records a finished poll stage.
func RecordPollCompleted(kind, outcome string) {
	DefaultMetrics.PollsCompleted.WithLabelValues(kind, outcome).Inc()
}

// RecordTransition records a ticket step transition.
func RecordTransition(from, to string) {
	DefaultMetrics.TicketTransitions.WithLabelValues(from, to).Inc()
}

// UpdateOpenTickets sets the open tickets gauge.
func UpdateOpenTickets(n int) {
	DefaultMetrics.TicketsOpen.Set(float64(n))
}

// RecordUserError records a rejected user action.
func RecordUserError(title string) {
	DefaultMetrics.UserErrors.WithLabelValues(title).Inc()
}

// RecordMatch records a matcher outcome.
func RecordMatch(outcome string) {
	DefaultMetrics.MatchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordQuote records a computed quote.
func RecordQuote(totalRobux int64) {
	DefaultMetrics.QuotesComputed.Inc()
	DefaultMetrics.QuoteRobux.Observe(float64(totalRobux))
}

// RecordDeal records a finalized deal.
func RecordDeal(method, outcome string, robux int64) {
	DefaultMetrics.DealsRecorded.WithLabelValues(method, outcome).Inc()
	if outcome == "accepted" {
		DefaultMetrics.DealRobux.WithLabelValues(method).Add(float64(robux))
	}
}

// RecordNotification records a notification delivery attempt.
func RecordNotification(sink, kind string, err error) {
	if err != nil {
		DefaultMetrics.NotificationErrors.WithLabelValues(sink).Inc()
		return
	}
	DefaultMetrics.NotificationsSent.WithLabelValues(sink, kind).Inc()
}

// UpdateWebsocketClients sets the websocket clients gauge.
func UpdateWebsocketClients(n int) {
	DefaultMetrics.WebsocketClients.Set(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
