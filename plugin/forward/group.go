package forward

import (
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Group is one upstream group: the endpoints and policy configured by a
// single `forward` directive.
type Group struct {
	From    string // target zone, normalized
	endpoints []*Endpoint
	policy  Policy

	rrCursor atomic.Uint64

	healthCheckInterval time.Duration
	maxFails            uint32

	admission *semaphore.Weighted // nil means unbounded (max_concurrent unset)
	inFlight  atomic.Int32

	failoverCodes map[int]bool
	nextCodes     map[int]bool
	exceptZones   []string

	forceTCP     bool
	dialTimeout  time.Duration
	queryTimeout time.Duration
}

// GroupConfig is the parsed form of one `forward` stanza.
type GroupConfig struct {
	From          string
	Policy        Policy
	MaxConcurrent int // 0 means unbounded, unless maxConcurrentSet
	FailoverCodes []int
	NextCodes     []int
	ExceptZones   []string
	ForceTCP      bool

	// maxConcurrentSet is true when `max_concurrent` was present in the
	// Corefile at all, distinguishing an explicit 0 (every query rejected
	// for capacity) from the directive's absence (unbounded).
	maxConcurrentSet bool
}

// SetMaxConcurrent records an explicitly parsed max_concurrent value,
// including zero.
func (c *GroupConfig) SetMaxConcurrent(n int) {
	c.MaxConcurrent = n
	c.maxConcurrentSet = true
}

// NewGroup assembles a Group from its already-constructed endpoints and
// stanza configuration.
func NewGroup(cfg GroupConfig, endpoints []*Endpoint) *Group {
	g := &Group{
		From:          normalizeZone(cfg.From),
		endpoints:     endpoints,
		policy:        cfg.Policy,
		failoverCodes: toSet(cfg.FailoverCodes),
		nextCodes:     toSet(cfg.NextCodes),
		forceTCP:      cfg.ForceTCP,
	}
	for _, z := range cfg.ExceptZones {
		g.exceptZones = append(g.exceptZones, normalizeZone(z))
	}
	if cfg.MaxConcurrent > 0 {
		g.admission = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	} else if cfg.MaxConcurrent == 0 && maxConcurrentExplicitlyZero(cfg) {
		// An explicit max_concurrent 0 means every query is rejected for
		// capacity. A weighted semaphore of size 0 always fails
		// TryAcquire, which gives us that for free.
		g.admission = semaphore.NewWeighted(0)
	}
	return g
}

// maxConcurrentExplicitlyZero distinguishes "directive absent" (unbounded,
// MaxConcurrent left at its zero value) from "max_concurrent 0" (always
// reject). GroupConfig callers that parsed an explicit 0 set this flag via
// SetMaxConcurrent; see setup.go.
func maxConcurrentExplicitlyZero(cfg GroupConfig) bool {
	return cfg.maxConcurrentSet && cfg.MaxConcurrent == 0
}

func toSet(codes []int) map[int]bool {
	m := make(map[int]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

// Skips reports whether this group should be treated as absent for name
// because it falls under one of the group's except_zones entries.
func (g *Group) Skips(name string) bool {
	name = normalizeZone(name)
	for _, z := range g.exceptZones {
		if isSubdomainOf(name, z) {
			return true
		}
	}
	return false
}

func normalizeZone(z string) string {
	z = strings.ToLower(z)
	if !strings.HasSuffix(z, ".") {
		z += "."
	}
	return z
}

func isSubdomainOf(name, zone string) bool {
	if zone == "." {
		return true
	}
	return name == zone || strings.HasSuffix(name, "."+zone)
}

// acquireAdmission returns false immediately if the group is over its
// max_concurrent budget, without selecting an endpoint. The returned
// release func must be called exactly once when ok is true.
func (g *Group) acquireAdmission() (release func(), ok bool) {
	if g.admission == nil {
		g.inFlight.Add(1)
		return func() { g.inFlight.Add(-1) }, true
	}
	if !g.admission.TryAcquire(1) {
		return nil, false
	}
	g.inFlight.Add(1)
	return func() {
		g.inFlight.Add(-1)
		g.admission.Release(1)
	}, true
}

// InFlight exposes the current in-flight count for tests and metrics.
func (g *Group) InFlight() int32 { return g.inFlight.Load() }

// NumEndpoints returns the configured endpoint count, used by the
// cascade loop to bound its retry attempts.
func (g *Group) NumEndpoints() int { return len(g.endpoints) }

// Close tears down every endpoint owned by this group.
func (g *Group) Close() error {
	for _, e := range g.endpoints {
		e.Close()
	}
	return nil
}

// classify reports whether rcode falls in the group's failover set
// (retry within the group) or its next set (cascade to the next group).
func (g *Group) classify(rcode int) (failover, next bool) {
	return g.failoverCodes[rcode], g.nextCodes[rcode]
}
