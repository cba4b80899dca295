// Package metrics exposes the status counters the pipeline accumulates:
// one per documented rejection status, plus parser, filter, and search
// counters, all backed by a dedicated prometheus registry so tests
// never collide with the default global one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry owns one counter, counter vector, or gauge per concern.
type Registry struct {
	Reg *prometheus.Registry

	RejectedByStatus *prometheus.CounterVec
	ParseErrors      prometheus.Counter
	PreFiltered      prometheus.Counter
	UnknownSide      prometheus.Counter
	Admitted         prometheus.Counter
	FilterRejected   prometheus.Counter
	TrackedOrders    prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
}

// New builds a Registry with all counters registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		Reg: reg,
		RejectedByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderfeed_rejected_status_total",
			Help: "Count of order events dropped per documented rejection status.",
		}, []string{"status"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderfeed_parse_errors_total",
			Help: "Count of lines that failed JSON decode or numeric or timestamp validation.",
		}),
		PreFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderfeed_prefiltered_total",
			Help: "Count of lines rejected by the byte-level pre-filter.",
		}),
		UnknownSide: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderfeed_unknown_side_total",
			Help: "Count of lines with an unrecognized side code.",
		}),
		Admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderfeed_admitted_total",
			Help: "Count of updates admitted through the symbol filter.",
		}),
		FilterRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderfeed_filter_rejected_total",
			Help: "Count of updates rejected by the symbol filter.",
		}),
		TrackedOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderfeed_tracked_orders",
			Help: "Current count of orders tracked by the reactive search engine.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderfeed_search_cache_hits_total",
			Help: "Count of reactive search requests served from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderfeed_search_cache_misses_total",
			Help: "Count of reactive search requests that missed the cache.",
		}),
	}

	reg.MustRegister(
		m.RejectedByStatus,
		m.ParseErrors,
		m.PreFiltered,
		m.UnknownSide,
		m.Admitted,
		m.FilterRejected,
		m.TrackedOrders,
		m.CacheHits,
		m.CacheMisses,
	)
	return m
}
