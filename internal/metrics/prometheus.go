package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Workflow metrics
	submissionsAcceptedTotal *prometheus.CounterVec
	submissionsRejectedTotal *prometheus.CounterVec

	// Ledger metrics
	ledgerWriteDuration    prometheus.Histogram
	ledgerWriteErrorsTotal prometheus.Counter
	ledgerRecords          prometheus.Gauge

	// Dispatcher metrics
	notificationStepDuration  *prometheus.HistogramVec
	notificationOutcomesTotal *prometheus.CounterVec
	notificationsInFlight     prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Background task metrics
	digestRunsTotal    *prometheus.CounterVec
	digestDuration     prometheus.Histogram
	staleRegistrations prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initWorkflowMetrics(reg)
	s.initLedgerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initBackgroundMetrics(reg)
	return s
}

func (s *PrometheusSink) initWorkflowMetrics(reg prometheus.Registerer) {
	s.submissionsAcceptedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_submissions_accepted_total",
		Help: "Total number of accepted stage submissions.",
	}, []string{"stage"})
	s.submissionsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_submissions_rejected_total",
		Help: "Total number of rejected stage submissions.",
	}, []string{"stage", "reason"})

	s.register(reg, s.submissionsAcceptedTotal, "registrar_submissions_accepted_total")
	s.register(reg, s.submissionsRejectedTotal, "registrar_submissions_rejected_total")
}

func (s *PrometheusSink) initLedgerMetrics(reg prometheus.Registerer) {
	s.ledgerWriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "registrar_ledger_write_duration_seconds",
		Help:    "Duration of each ledger read-merge-write cycle in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	})
	s.ledgerWriteErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registrar_ledger_write_errors_total",
		Help: "Total number of failed ledger writes.",
	})
	s.ledgerRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrar_ledger_records",
		Help: "Number of records currently in the ledger.",
	})

	s.register(reg, s.ledgerWriteDuration, "registrar_ledger_write_duration_seconds")
	s.register(reg, s.ledgerWriteErrorsTotal, "registrar_ledger_write_errors_total")
	s.register(reg, s.ledgerRecords, "registrar_ledger_records")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.notificationStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registrar_notification_step_duration_seconds",
		Help:    "Duration of each notification pipeline step in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"step"})
	s.notificationOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_notification_outcomes_total",
		Help: "Terminal notification outcomes (success, failed, skipped).",
	}, []string{"outcome"})
	s.notificationsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrar_notifications_in_flight",
		Help: "Number of notifications currently being processed.",
	})

	s.register(reg, s.notificationStepDuration, "registrar_notification_step_duration_seconds")
	s.register(reg, s.notificationOutcomesTotal, "registrar_notification_outcomes_total")
	s.register(reg, s.notificationsInFlight, "registrar_notifications_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrar_eventbus_buffer_size",
		Help: "Number of completion events currently buffered.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrar_eventbus_buffer_capacity",
		Help: "Capacity of the completion event buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrar_eventbus_buffer_saturation",
		Help: "Buffered events as a fraction of capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registrar_eventbus_emit_errors_total",
		Help: "Total number of completion events that could not be enqueued.",
	})

	s.register(reg, s.bufferSize, "registrar_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "registrar_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "registrar_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "registrar_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initBackgroundMetrics(reg prometheus.Registerer) {
	s.digestRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_digest_runs_total",
		Help: "Total number of admin digest runs by result.",
	}, []string{"result"})
	s.digestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "registrar_digest_duration_seconds",
		Help:    "Duration of each admin digest run in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	})
	s.staleRegistrations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrar_stale_registrations",
		Help: "Registrations started but not completed within the staleness threshold.",
	})

	s.register(reg, s.digestRunsTotal, "registrar_digest_runs_total")
	s.register(reg, s.digestDuration, "registrar_digest_duration_seconds")
	s.register(reg, s.staleRegistrations, "registrar_stale_registrations")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) SubmissionAccepted(stage string) {
	s.submissionsAcceptedTotal.WithLabelValues(stage).Inc()
}

func (s *PrometheusSink) SubmissionRejected(stage string, reason string) {
	s.submissionsRejectedTotal.WithLabelValues(stage, reason).Inc()
}

func (s *PrometheusSink) LedgerWriteCompleted(duration time.Duration, err error) {
	s.ledgerWriteDuration.Observe(duration.Seconds())
	if err != nil {
		s.ledgerWriteErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) LedgerRecordsUpdate(count int) {
	s.ledgerRecords.Set(float64(count))
}

func (s *PrometheusSink) NotificationStepCompleted(step string, duration time.Duration) {
	s.notificationStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

func (s *PrometheusSink) NotificationOutcome(outcome string) {
	s.notificationOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) NotificationsInFlightIncr() {
	s.notificationsInFlight.Inc()
}

func (s *PrometheusSink) NotificationsInFlightDecr() {
	s.notificationsInFlight.Dec()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) DigestCompleted(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	s.digestRunsTotal.WithLabelValues(result).Inc()
	s.digestDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) StaleRegistrationsUpdate(count int) {
	s.staleRegistrations.Set(float64(count))
}
