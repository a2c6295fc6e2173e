package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pseudo-kernel.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Syscall channel metrics
	SubmitsTotal   *prometheus.CounterVec
	FetchesTotal   *prometheus.CounterVec
	SlotOccupied   prometheus.Gauge
	OrphanReclaims prometheus.Counter

	// Task metrics
	TasksLive  prometheus.Gauge
	TasksTotal prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSEvents      *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry  *prometheus.Registry
	stop      chan struct{}
	closeOnce sync.Once
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,
		stop:      make(chan struct{}),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		SubmitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_channel_submits_total",
				Help: "Total number of syscall channel submits by outcome",
			},
			[]string{"outcome"},
		),
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_channel_fetches_total",
				Help: "Total number of syscall channel fetches by outcome",
			},
			[]string{"outcome"},
		),
		SlotOccupied: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_channel_slot_occupied",
				Help: "Whether the session slot holds an outstanding request",
			},
		),
		OrphanReclaims: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kernel_channel_orphan_reclaims_total",
				Help: "Total number of orphaned sessions reclaimed by the janitor",
			},
		),

		TasksLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_tasks_live",
				Help: "Number of live tasks in the table",
			},
		),
		TasksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kernel_tasks_total",
				Help: "Total number of tasks registered",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_ws_connections",
				Help: "Number of active WebSocket event subscribers",
			},
		),
		WSEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_ws_events_total",
				Help: "Total number of events published to subscribers",
			},
			[]string{"type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_uptime_seconds",
				Help: "Pseudo-kernel uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Close stops the background uptime updater. Safe to call twice.
func (m *Metrics) Close() {
	m.closeOnce.Do(func() { close(m.stop) })
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		}
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSubmit implements getpinfo.Recorder.
func (m *Metrics) RecordSubmit(outcome string) {
	m.SubmitsTotal.WithLabelValues(outcome).Inc()
}

// RecordFetch implements getpinfo.Recorder.
func (m *Metrics) RecordFetch(outcome string) {
	m.FetchesTotal.WithLabelValues(outcome).Inc()
}

// SetSlotOccupied implements getpinfo.Recorder.
func (m *Metrics) SetSlotOccupied(occupied bool) {
	if occupied {
		m.SlotOccupied.Set(1)
	} else {
		m.SlotOccupied.Set(0)
	}
}

// RecordOrphanReclaim implements getpinfo.Recorder.
func (m *Metrics) RecordOrphanReclaim() {
	m.OrphanReclaims.Inc()
}

// RecordTaskRegistered tracks a task entering the table.
func (m *Metrics) RecordTaskRegistered() {
	m.TasksTotal.Inc()
	m.TasksLive.Inc()
}

// RecordTaskExited tracks a task leaving the table.
func (m *Metrics) RecordTaskExited() {
	m.TasksLive.Dec()
}

// SetTasksLive sets the live task gauge to an absolute count.
func (m *Metrics) SetTasksLive(count int) {
	m.TasksLive.Set(float64(count))
}

// RecordWSEvent records an event published to subscribers.
func (m *Metrics) RecordWSEvent(eventType string) {
	m.WSEvents.WithLabelValues(eventType).Inc()
}
