package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes application-level Prometheus instruments.
type Metrics struct {
	requestsAllowed *prometheus.CounterVec
	requestsDenied  *prometheus.CounterVec
	usageTracked    prometheus.Counter
	trackingErrors  prometheus.Counter

	reporterPasses   prometheus.Counter
	reporterSkipped  prometheus.Counter
	reporterOutcomes *prometheus.CounterVec
	reporterDuration prometheus.Histogram
}

// New registers the metergate instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		requestsAllowed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metergate_gateway_requests_allowed_total",
			Help: "Requests that passed the gateway middleware chain.",
		}, []string{"route"}),
		requestsDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metergate_gateway_requests_denied_total",
			Help: "Requests rejected by the gateway, by rejection kind.",
		}, []string{"route", "reason"}),
		usageTracked: factory.NewCounter(prometheus.CounterOpts{
			Name: "metergate_usage_events_tracked_total",
			Help: "Usage events recorded by the tracking stage.",
		}),
		trackingErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "metergate_usage_tracking_errors_total",
			Help: "Tracking failures absorbed without failing the request.",
		}),
		reporterPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "metergate_reporter_passes_total",
			Help: "Reconciliation passes started.",
		}),
		reporterSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "metergate_reporter_passes_skipped_total",
			Help: "Ticks skipped because a pass was still running.",
		}),
		reporterOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metergate_reporter_user_outcomes_total",
			Help: "Per-user report outcomes within reconciliation passes.",
		}, []string{"outcome"}),
		reporterDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "metergate_reporter_pass_duration_seconds",
			Help:    "Duration of reconciliation passes.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncRequestAllowed(route string) {
	if m == nil {
		return
	}
	m.requestsAllowed.WithLabelValues(route).Inc()
}

func (m *Metrics) IncRequestDenied(route, reason string) {
	if m == nil {
		return
	}
	m.requestsDenied.WithLabelValues(route, reason).Inc()
}

func (m *Metrics) IncUsageTracked() {
	if m == nil {
		return
	}
	m.usageTracked.Inc()
}

func (m *Metrics) IncTrackingError() {
	if m == nil {
		return
	}
	m.trackingErrors.Inc()
}

func (m *Metrics) IncReporterPass() {
	if m == nil {
		return
	}
	m.reporterPasses.Inc()
}

func (m *Metrics) IncReporterSkipped() {
	if m == nil {
		return
	}
	m.reporterSkipped.Inc()
}

func (m *Metrics) IncReporterOutcome(outcome string) {
	if m == nil {
		return
	}
	m.reporterOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReporterPass(seconds float64) {
	if m == nil {
		return
	}
	m.reporterDuration.Observe(seconds)
}
