// Package cache implements the concurrent response cache: two
// independently capacitied W-TinyLFU admission caches — one for Success
// answers, one for Denial (NXDOMAIN/SERVFAIL/REFUSED) — keyed by the
// question fingerprint.
//
// The admission/eviction algorithm is github.com/outcaste-io/ristretto,
// a frequency-aware, lock-free-on-the-hot-path cache: concurrent Get
// never blocks a writer or another reader, and Set is processed
// asynchronously off a ring buffer.
package cache

import (
	"time"

	"github.com/miekg/dns"
	"github.com/outcaste-io/ristretto"

	"github.com/dnsgw/pollgate/internal/wire"
)

// Class classifies a response for the purpose of capacity accounting:
// Denial iff rcode is NXDOMAIN, SERVFAIL, or REFUSED; Success otherwise.
type Class int

const (
	Success Class = iota
	Denial
)

func classify(rcode int) Class {
	switch rcode {
	case dns.RcodeNameError, dns.RcodeServerFailure, dns.RcodeRefused:
		return Denial
	default:
		return Success
	}
}

// MinTTL is the floor applied to every cached entry's lifetime: it keeps
// a record from a flapping upstream from collapsing straight back out of
// cache. Per-class MaxTTL caps how long any one class may pin an entry.
const MinTTL = 5 * time.Second

// Config holds the per-class entry-count capacities and TTL caps parsed
// from a `cache` directive. A zero Cap means "disabled" and New returns
// an error.
type Config struct {
	SuccessCap    int
	SuccessMaxTTL time.Duration
	DenialCap     int
	DenialMaxTTL  time.Duration
}

// DefaultConfig mirrors the bare `cache` directive with no arguments: a
// generous default capacity split and the standard max TTL ceilings.
func DefaultConfig() Config {
	return Config{
		SuccessCap:    4096,
		SuccessMaxTTL: time.Hour,
		DenialCap:     1024,
		DenialMaxTTL:  5 * time.Minute,
	}
}

// Cache is the response cache plugin's backing store.
type Cache struct {
	cfg      Config
	success  *ristretto.Cache
	denial   *ristretto.Cache
}

type entry struct {
	msg       []byte // packed dns.Msg, OPT-stripped
	expiresAt time.Time
}

// New constructs a Cache with the two class-specific ristretto backends.
func New(cfg Config) (*Cache, error) {
	mk := func(cap int) (*ristretto.Cache, error) {
		return ristretto.NewCache(&ristretto.Config{
			NumCounters: int64(cap) * 10,
			MaxCost:     int64(cap),
			BufferItems: 64,
		})
	}
	success, err := mk(cfg.SuccessCap)
	if err != nil {
		return nil, err
	}
	denial, err := mk(cfg.DenialCap)
	if err != nil {
		return nil, err
	}
	return &Cache{cfg: cfg, success: success, denial: denial}, nil
}

// Close releases both backing ristretto caches.
func (c *Cache) Close() {
	c.success.Close()
	c.denial.Close()
}

// Get returns a cloned response with TTLs rewritten to remaining
// lifetime, or nil if the fingerprint misses (including a lazily expired
// entry, which ristretto enforces on its own TTL clock regardless of
// this double-check).
func (c *Cache) Get(fp wire.Fingerprint) *dns.Msg {
	e, class, ok := c.lookupBothClasses(fp)
	if !ok {
		return nil
	}

	now := time.Now()
	if !now.Before(e.expiresAt) {
		c.backendFor(class).Del(fp.Key())
		return nil
	}

	m := new(dns.Msg)
	if err := m.Unpack(e.msg); err != nil {
		c.backendFor(class).Del(fp.Key())
		return nil
	}
	wire.RewriteTTL(m, uint32(e.expiresAt.Sub(now).Seconds()))
	return m
}

// Put stores resp under fp if cacheable. A response whose MinTTL is 0 is
// never cached.
func (c *Cache) Put(fp wire.Fingerprint, resp *dns.Msg) {
	minTTL := wire.MinTTL(resp)
	if minTTL == 0 {
		return
	}

	class := classify(resp.Rcode)
	ttl := clamp(time.Duration(minTTL)*time.Second, MinTTL, c.maxTTLFor(class))

	stripped := resp.Copy()
	stripScrubOPT(stripped)
	packed, err := stripped.Pack()
	if err != nil {
		return
	}

	e := &entry{msg: packed, expiresAt: time.Now().Add(ttl)}
	c.backendFor(class).SetWithTTL(fp.Key(), e, 1, ttl)
	c.otherBackend(class).Del(fp.Key())
}

func (c *Cache) otherBackend(class Class) *ristretto.Cache {
	if class == Denial {
		return c.success
	}
	return c.denial
}

func (c *Cache) backendFor(class Class) *ristretto.Cache {
	if class == Denial {
		return c.denial
	}
	return c.success
}

func (c *Cache) maxTTLFor(class Class) time.Duration {
	if class == Denial {
		return c.cfg.DenialMaxTTL
	}
	return c.cfg.SuccessMaxTTL
}

// lookupBothClasses checks both class backends: a fingerprint is only
// ever stored in one of them at a time, but a Get doesn't know in advance
// which class the last Put settled on for this question.
func (c *Cache) lookupBothClasses(fp wire.Fingerprint) (*entry, Class, bool) {
	key := fp.Key()
	if v, ok := c.success.Get(key); ok {
		return v.(*entry), Success, true
	}
	if v, ok := c.denial.Get(key); ok {
		return v.(*entry), Denial, true
	}
	return nil, Success, false
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}

// stripScrubOPT removes the OPT pseudo-RR before persisting a response,
// per RFC 6891 §6.2.1: "The OPT record MUST NOT be cached."
func stripScrubOPT(m *dns.Msg) {
	extra := m.Extra[:0]
	for _, rr := range m.Extra {
		if rr.Header().Rrtype != dns.TypeOPT {
			extra = append(extra, rr)
		}
	}
	m.Extra = extra
}
