package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantrouter_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantrouter_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	tenantResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantrouter_tenant_resolutions_total",
		Help: "Tenant resolution outcomes by source",
	}, []string{"source", "result"})

	partitionSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantrouter_partition_switches_total",
		Help: "Partition enter attempts by result",
	}, []string{"result"})

	activeContexts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tenantrouter_active_partition_contexts",
		Help: "Number of requests currently inside a tenant partition",
	})

	provisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantrouter_provision_duration_seconds",
		Help:    "Duration of partition provisioning checks",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	tablesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantrouter_tables_created_total",
		Help: "Partition-scoped tables created on demand",
	})

	directoryCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantrouter_directory_cache_total",
		Help: "Directory cache lookups by result",
	}, []string{"result"})

	credentialChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantrouter_credential_checks_total",
		Help: "Bearer credential validations by result",
	}, []string{"result"})
)

// ObserveHTTPRequest records an HTTP request metric. route must be a pattern,
// never a raw path, to keep tenant slugs out of label values.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveResolution counts a resolver outcome
func ObserveResolution(source, result string) {
	tenantResolutions.WithLabelValues(source, result).Inc()
}

// ObservePartitionSwitch counts an enter attempt
func ObservePartitionSwitch(result string) {
	partitionSwitches.WithLabelValues(result).Inc()
}

func IncActiveContexts() {
	activeContexts.Inc()
}

func DecActiveContexts() {
	activeContexts.Dec()
}

// ObserveProvision records the duration of an EnsureProvisioned call with a result label.
func ObserveProvision(result string, duration time.Duration) {
	provisionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func IncTablesCreated() {
	tablesCreated.Inc()
}

// ObserveDirectoryCache records hit, miss or error
func ObserveDirectoryCache(result string) {
	directoryCache.WithLabelValues(result).Inc()
}

func ObserveCredential(result string) {
	credentialChecks.WithLabelValues(result).Inc()
}
