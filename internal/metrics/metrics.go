// Package metrics holds the one process-global mutable this gateway
// carries (spec §9 "Global state"): a Prometheus registry of counters and
// gauges updated with relaxed atomics by every other component, exposed
// externally by the `prometheus` plugin (spec §1 names this exporter as
// an external collaborator; this package is just the registry it reads
// from). Initialized at process startup, never torn down.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pollgate"

var (
	// Requests counts every inbound query, labeled by listen address and
	// transport.
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of DNS requests accepted.",
	}, []string{"server", "transport"})

	// Responses counts every outbound response, labeled by RCODE.
	Responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "responses_total",
		Help:      "Total number of DNS responses sent, by rcode.",
	}, []string{"server", "rcode"})

	// CacheHits and CacheMisses count response-cache outcomes per server
	// block; they are not split by success/denial class.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of response cache hits.",
	}, []string{"server"})

	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of response cache misses.",
	}, []string{"server"})

	// UpstreamFailures counts per-endpoint forwarding failures.
	UpstreamFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_failures_total",
		Help:      "Total number of failed upstream exchanges, by upstream address.",
	}, []string{"upstream"})

	// ReloadCount and ReloadFailures track the reload controller (C8).
	ReloadCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reload_total",
		Help:      "Total number of successful configuration reloads.",
	})

	ReloadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reload_failed_total",
		Help:      "Total number of reload attempts that failed to parse.",
	})

	// ReloadUDPLoss counts close-then-rebind listener swaps on platforms
	// without SO_REUSEPORT (spec §4.8): one increment per swap, each of
	// which opens a window where UDP datagrams can be lost. It does not
	// count the datagrams themselves.
	ReloadUDPLoss = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reload_udp_loss_total",
		Help:      "Number of listener rebind windows in which UDP datagrams could be lost.",
	})
)

// Registry is the shared registerer every plugin and controller reports
// into. The collectors above are registered into it once, in this
// package's init.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		Requests,
		Responses,
		CacheHits,
		CacheMisses,
		UpstreamFailures,
		ReloadCount,
		ReloadFailures,
		ReloadUDPLoss,
	)
}
