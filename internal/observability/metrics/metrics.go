package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "linkband_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	devicesRegistered *prometheus.CounterVec
	deviceTransitions *prometheus.CounterVec

	allocationsCreated *prometheus.CounterVec
	allocationsEnded   *prometheus.CounterVec

	serviceRequestsTotal      *prometheus.CounterVec
	serviceRequestTransitions *prometheus.CounterVec

	viewSyncTotal   *prometheus.CounterVec
	viewSyncLatency *prometheus.HistogramVec
	viewSyncLag     *prometheus.GaugeVec

	dashboardQueryTotal   *prometheus.CounterVec
	dashboardQueryLatency *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	sweeperExpirations prometheus.Counter
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		devicesRegistered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "devices_registered_total",
				Help: "Total devices registered by type",
			},
			[]string{"device_type"},
		)
		deviceTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_transitions_total",
				Help: "Total device status transitions by target status",
			},
			[]string{"status"},
		)

		allocationsCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocations_created_total",
				Help: "Total allocations created by type",
			},
			[]string{"allocation_type"},
		)
		allocationsEnded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocations_ended_total",
				Help: "Total allocations ended by reason",
			},
			[]string{"reason"},
		)

		serviceRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "service_requests_total",
				Help: "Total service requests created by type",
			},
			[]string{"request_type"},
		)
		serviceRequestTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "service_request_transitions_total",
				Help: "Total service request status transitions by target status",
			},
			[]string{"status"},
		)

		viewSyncTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "view_sync_total",
				Help: "Total organization view sync runs by result",
			},
			[]string{"result"},
		)
		viewSyncLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "view_sync_latency_seconds",
				Help:    "Organization view sync latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		viewSyncLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "view_sync_lag_seconds",
				Help: "Age of the oldest unprocessed sync event in seconds",
			},
			[]string{"consumer"},
		)

		dashboardQueryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dashboard_queries_total",
				Help: "Total dashboard queries by result",
			},
			[]string{"result"},
		)
		dashboardQueryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dashboard_query_latency_seconds",
				Help:    "Dashboard query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Total cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total inventory and report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		sweeperExpirations = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweeper_expirations_total",
				Help: "Total rentals expired by the background sweeper",
			},
		)

		prometheus.MustRegister(
			devicesRegistered,
			deviceTransitions,
			allocationsCreated,
			allocationsEnded,
			serviceRequestsTotal,
			serviceRequestTransitions,
			viewSyncTotal,
			viewSyncLatency,
			viewSyncLag,
			dashboardQueryTotal,
			dashboardQueryLatency,
			cacheLookups,
			exportTotal,
			exportLatency,
			sweeperExpirations,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_open_connections",
				Help: "Open database connections",
			},
			func() float64 { return float64(db.Stats().OpenConnections) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_in_use_connections",
				Help: "Database connections currently in use",
			},
			func() float64 { return float64(db.Stats().InUse) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_wait_count_total",
				Help: "Total connections waited for",
			},
			func() float64 { return float64(db.Stats().WaitCount) },
		),
	}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil && logger != nil {
			logger.Printf("metrics: db collector registration failed: %v", err)
		}
	}
}

// IncDeviceRegistered increments the registration counter.
func IncDeviceRegistered(deviceType string) {
	if deviceType == "" {
		deviceType = "unknown"
	}
	if devicesRegistered != nil {
		devicesRegistered.WithLabelValues(deviceType).Inc()
	}
}

// IncDeviceTransition increments the status transition counter.
func IncDeviceTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if deviceTransitions != nil {
		deviceTransitions.WithLabelValues(status).Inc()
	}
}

// IncAllocationCreated increments the allocation counter.
func IncAllocationCreated(allocationType string) {
	if allocationType == "" {
		allocationType = "unknown"
	}
	if allocationsCreated != nil {
		allocationsCreated.WithLabelValues(allocationType).Inc()
	}
}

// IncAllocationEnded increments the ended-allocation counter.
func IncAllocationEnded(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if allocationsEnded != nil {
		allocationsEnded.WithLabelValues(reason).Inc()
	}
}

// IncServiceRequest increments the service request counter.
func IncServiceRequest(requestType string) {
	if requestType == "" {
		requestType = "unknown"
	}
	if serviceRequestsTotal != nil {
		serviceRequestsTotal.WithLabelValues(requestType).Inc()
	}
}

// IncServiceRequestTransition increments the status transition counter.
func IncServiceRequestTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if serviceRequestTransitions != nil {
		serviceRequestTransitions.WithLabelValues(status).Inc()
	}
}

// ObserveViewSync records view sync duration and result.
func ObserveViewSync(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if viewSyncTotal != nil {
		viewSyncTotal.WithLabelValues(result).Inc()
	}
	if viewSyncLatency != nil {
		viewSyncLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveViewSyncLag sets the sync consumer lag in seconds.
func ObserveViewSyncLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if viewSyncLag != nil {
		viewSyncLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveDashboardQuery records dashboard query duration and result.
func ObserveDashboardQuery(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if dashboardQueryTotal != nil {
		dashboardQueryTotal.WithLabelValues(result).Inc()
	}
	if dashboardQueryLatency != nil {
		dashboardQueryLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncCacheLookup increments cache hit/miss counters.
func IncCacheLookup(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(outcome).Inc()
	}
}

// ObserveExport records export duration, format and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// AddSweeperExpirations increments the sweeper counter by count.
func AddSweeperExpirations(count int) {
	if count <= 0 {
		return
	}
	if sweeperExpirations != nil {
		sweeperExpirations.Add(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	CacheHit  = "hit"
	CacheMiss = "miss"
)
