package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Routing metrics
	LeadsEnqueued      *prometheus.CounterVec
	RoutingOutcomes    *prometheus.CounterVec
	RoutingDuration    prometheus.Histogram
	EntriesReclaimed   prometheus.Counter
	QueueEntries       *prometheus.GaugeVec
	CompensatedAssigns prometheus.Counter

	// Intake metrics
	IntakeMessages *prometheus.CounterVec

	// Database metrics
	DBConnections prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered on reg. Tests pass a
// fresh prometheus.NewRegistry() so instances do not collide.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		// Routing metrics
		LeadsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routing_leads_enqueued_total",
				Help: "Total number of routeLead calls",
			},
			[]string{"result"}, // created, duplicate
		),
		RoutingOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routing_outcomes_total",
				Help: "Queue entries processed by outcome",
			},
			[]string{"outcome"}, // done, retry, failed, cancelled, stale
		),
		RoutingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "routing_entry_duration_seconds",
			Help:    "Time spent processing one queue entry",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		EntriesReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "routing_entries_reclaimed_total",
			Help: "Stalled entries returned to PENDING by the reaper",
		}),
		QueueEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "routing_queue_entries",
				Help: "Queue entries by tenant and status",
			},
			[]string{"tenant", "status"},
		),
		CompensatedAssigns: factory.NewCounter(prometheus.CounterOpts{
			Name: "routing_compensations_total",
			Help: "Workload increments rolled back after setLeadOwner failed",
		}),

		// Intake metrics
		IntakeMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_messages_total",
				Help: "Lead events consumed from the intake queue",
			},
			[]string{"result"}, // acked, requeued, rejected
		),

		// Database metrics
		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),

		// Cache metrics
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, e.g. /api/v1/tenants/:tenant_id/rules

			err := next(c)

			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, status).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// RecordEnqueue counts a routeLead call
func (m *Metrics) RecordEnqueue(created bool) {
	result := "duplicate"
	if created {
		result = "created"
	}
	m.LeadsEnqueued.WithLabelValues(result).Inc()
}

// RecordOutcome records how a queue entry finished and how long it took
func (m *Metrics) RecordOutcome(outcome string, duration time.Duration) {
	m.RoutingOutcomes.WithLabelValues(outcome).Inc()
	m.RoutingDuration.Observe(duration.Seconds())
}

// RecordCompensation counts a rolled back workload increment
func (m *Metrics) RecordCompensation() {
	m.CompensatedAssigns.Inc()
}

// RecordReclaimed adds reclaimed stalled entries
func (m *Metrics) RecordReclaimed(n int64) {
	m.EntriesReclaimed.Add(float64(n))
}

// SetQueueEntries updates the queue gauge for one tenant
func (m *Metrics) SetQueueEntries(tenantID int64, counts map[string]int64) {
	tenant := strconv.FormatInt(tenantID, 10)
	for status, n := range counts {
		m.QueueEntries.WithLabelValues(tenant, status).Set(float64(n))
	}
}

// RecordIntake counts a consumed intake message
func (m *Metrics) RecordIntake(result string) {
	m.IntakeMessages.WithLabelValues(result).Inc()
}

// UpdateDBConnections updates active database connections gauge
func (m *Metrics) UpdateDBConnections(count float64) {
	m.DBConnections.Set(count)
}

// RecordCacheHit increments cache hits counter
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments cache misses counter
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
