package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zerto_slack"

// Metrics holds the service's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	events       *prometheus.CounterVec
	storedAlerts *prometheus.GaugeVec
	polls        *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	deliveries   *prometheus.CounterVec
	dropped      prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Change events emitted by the reconciliation cache.",
		}, []string{"source", "kind"}),
		storedAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_alerts",
			Help:      "Alerts currently known per source.",
		}, []string{"source"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Alert polls per source by result.",
		}, []string{"source", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time spent fetching alerts from a source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the delivery queue was full.",
		}),
	}

	reg.MustRegister(m.events, m.storedAlerts, m.polls, m.pollDuration, m.deliveries, m.dropped)
	return m
}

// EventEmitted counts one change event
func (m *Metrics) EventEmitted(source, kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(source, kind).Inc()
}

// SetStored records the number of alerts held for source
func (m *Metrics) SetStored(source string, n int) {
	if m == nil {
		return
	}
	m.storedAlerts.WithLabelValues(source).Set(float64(n))
}

// PollFinished records the outcome and duration of one fetch
func (m *Metrics) PollFinished(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.polls.WithLabelValues(source, result).Inc()
	m.pollDuration.WithLabelValues(source).Observe(d.Seconds())
}

// Delivered records one notification delivery attempt
func (m *Metrics) Delivered(channel string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.deliveries.WithLabelValues(channel, result).Inc()
}

// Dropped counts a notification discarded before delivery
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
