package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pokerclock"

// PrometheusMetrics implements the MetricsCollector interfaces of the timer,
// replication, failover, outbox and syncapi packages on one private registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// timer
	ticks           prometheus.Counter
	transitions     *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	activeTimers    prometheus.Gauge

	// replication
	polls        *prometheus.CounterVec
	appliedBytes prometheus.Counter

	// failover
	failoverEvents *prometheus.CounterVec
	role           *prometheus.GaugeVec
	promotion      prometheus.Histogram

	// outbox
	eventCounter    *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	outboxLag       prometheus.Gauge
	publishAttempts *prometheus.CounterVec

	// sync
	uploads       *prometheus.CounterVec
	pulledChanges prometheus.Counter
}

func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),

		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timer", Name: "ticks_total",
			Help: "Tick tasks executed across all tournaments.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timer", Name: "transitions_total",
			Help: "Timer events recorded, by event type.",
		}, []string{"event_type"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timer", Name: "persist_failures_total",
			Help: "Failed timer writes, by operation.",
		}, []string{"op"}),
		activeTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "timer", Name: "active",
			Help: "Tournaments loaded in the engine.",
		}),

		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "replication", Name: "polls_total",
			Help: "Standby snapshot polls, by outcome.",
		}, []string{"outcome"}),
		appliedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "replication", Name: "applied_bytes_total",
			Help: "Bytes of database and WAL applied on the standby.",
		}),

		failoverEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "failover", Name: "events_total",
			Help: "Failover coordinator events, by type.",
		}, []string{"type"}),
		role: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "failover", Name: "role",
			Help: "1 for the role this node currently holds.",
		}, []string{"role"}),
		promotion: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "failover", Name: "promotion_seconds",
			Help:    "Time from failover trigger to serving as primary.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		}),

		eventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "events_processed_total",
			Help: "Outbox events relayed, by type and status.",
		}, []string{"event_type", "status"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "event_duration_seconds",
			Help:    "Time to relay one outbox event including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "batch_size",
			Help:    "Events relayed per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "batch_duration_seconds",
			Help:    "Time to relay one batch.",
			Buckets: prometheus.DefBuckets,
		}),
		outboxLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "lag",
			Help: "Unsent events seen by the last batch.",
		}),
		publishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "publish_attempts_total",
			Help: "Publish attempts, by type, attempt number and status.",
		}, []string{"event_type", "attempt", "status"}),

		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "uploads_total",
			Help: "Uploaded changes, by outcome.",
		}, []string{"outcome"}),
		pulledChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "pulled_changes_total",
			Help: "Ledger changes served to devices.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.transitions, m.persistFailures, m.activeTimers,
		m.polls, m.appliedBytes,
		m.failoverEvents, m.role, m.promotion,
		m.eventCounter, m.eventDuration, m.batchSize, m.batchDuration, m.outboxLag, m.publishAttempts,
		m.uploads, m.pulledChanges,
	)
	return m
}

// Registry exposes the private registry for extra collectors.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves /metrics.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PrometheusMetrics) RecordTick(uuid.UUID) {
	m.ticks.Inc()
}

func (m *PrometheusMetrics) RecordTransition(eventType models.TimerEventType) {
	m.transitions.WithLabelValues(string(eventType)).Inc()
}

func (m *PrometheusMetrics) RecordPersistFailure(op string) {
	m.persistFailures.WithLabelValues(op).Inc()
}

func (m *PrometheusMetrics) SetActiveTimers(n int) {
	m.activeTimers.Set(float64(n))
}

func (m *PrometheusMetrics) RecordPoll(outcome string) {
	m.polls.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordApplied(bytes int64) {
	m.appliedBytes.Add(float64(bytes))
}

func (m *PrometheusMetrics) RecordFailoverEvent(eventType models.FailoverEventType) {
	m.failoverEvents.WithLabelValues(string(eventType)).Inc()
}

func (m *PrometheusMetrics) SetRole(role models.Role) {
	for _, r := range []models.Role{models.RolePrimary, models.RoleStandby} {
		v := 0.0
		if r == role {
			v = 1
		}
		m.role.WithLabelValues(string(r)).Set(v)
	}
}

func (m *PrometheusMetrics) ObservePromotion(d time.Duration) {
	m.promotion.Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	m.eventCounter.WithLabelValues(eventType, status(success)).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	m.batchSize.Observe(float64(count))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordOutboxLag(lag int) {
	m.outboxLag.Set(float64(lag))
}

func (m *PrometheusMetrics) RecordPublishAttempt(eventType string, attempt int, success bool) {
	m.publishAttempts.WithLabelValues(eventType, strconv.Itoa(attempt), status(success)).Inc()
}

func (m *PrometheusMetrics) RecordUpload(outcome string) {
	m.uploads.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordPull(changes int) {
	m.pulledChanges.Add(float64(changes))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
