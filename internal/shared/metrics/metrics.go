package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Registry *prometheus.Registry

	// Cycle metrics
	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram
	CyclesSkipped prometheus.Counter

	// Delivery metrics
	FetchFailures    *prometheus.CounterVec
	EntriesDelivered *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	RecordFailures   prometheus.Counter
	ResolveFailures  *prometheus.CounterVec

	// Housekeeping metrics
	RecordsPurged    prometheus.Counter
	LivenessFailures prometheus.Counter
}

// New creates the metrics on a private registry so that several instances
// can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_notify_cycles_total",
			Help: "Total number of delivery cycles run",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rss_notify_cycle_duration_seconds",
			Help:    "Duration of delivery cycles",
			Buckets: prometheus.DefBuckets,
		}),
		CyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_notify_cycles_skipped_total",
			Help: "Poll ticks skipped because a cycle was still running",
		}),

		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rss_notify_fetch_failures_total",
			Help: "Total number of failed feed fetches",
		}, []string{"tenant_id"}),
		EntriesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rss_notify_entries_delivered_total",
			Help: "Total number of feed entries delivered",
		}, []string{"tenant_id"}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rss_notify_send_failures_total",
			Help: "Total number of failed channel sends",
		}, []string{"tenant_id"}),
		RecordFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_notify_record_failures_total",
			Help: "Delivery records that could not be written",
		}),
		ResolveFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rss_notify_resolve_failures_total",
			Help: "Delivery targets that could not be resolved or created",
		}, []string{"kind"}),

		RecordsPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_notify_records_purged_total",
			Help: "Total number of delivery records removed by retention",
		}),
		LivenessFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rss_notify_liveness_failures_total",
			Help: "Total number of failed platform liveness checks",
		}),
	}
}
