// Package cacheplugin adapts internal/cache's response cache (C4) to the
// onion chain's Handler contract (spec §4.4 "Onion integration"): a hit
// on the inbound phase short-circuits the chain (so plugins declared
// after Cache never run, but plugins declared before it still get their
// outbound phase), and a miss is populated on the outbound phase unless
// the response was marked uncacheable upstream.
package cacheplugin

import (
	"context"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/dnsgw/pollgate/internal/cache"
	"github.com/dnsgw/pollgate/internal/metrics"
	"github.com/dnsgw/pollgate/internal/wire"
	"github.com/dnsgw/pollgate/plugin/chain"
)

// Cache is the `cache` directive's plugin instance.
type Cache struct {
	server string
	store  *cache.Cache
	log    *zap.Logger
}

// New wraps an already-constructed cache.Cache (one per `cache`
// declaration, shared by every server block that references it, per
// spec §5 "Shared state").
func New(server string, store *cache.Cache, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{server: server, store: store, log: log}
}

func (c *Cache) Name() string { return "cache" }

// Process serves a cache hit directly; a miss falls through to later
// plugins (ultimately Forward) unchanged. A hit marks the response
// Uncacheable so this plugin's own PostProcess (which still runs on the
// way back out, since the dispatcher runs outbound phases for every
// plugin it entered, including the one that short-circuited) doesn't
// re-Put it and extend its TTL.
func (c *Cache) Process(_ context.Context, qs *chain.QueryState) (chain.Result, error) {
	fp := wire.NewFingerprint(qs.Query)
	if hit := c.store.Get(fp); hit != nil {
		metrics.CacheHits.WithLabelValues(c.server).Inc()
		hit.Id = qs.Query.Id
		qs.Uncacheable = true
		return chain.Short(hit), nil
	}
	metrics.CacheMisses.WithLabelValues(c.server).Inc()
	return chain.Next(), nil
}

// PostProcess stores the response that came back from downstream
// plugins, unless it was produced by a cache hit itself (Process already
// marked it Uncacheable) or explicitly marked uncacheable upstream.
func (c *Cache) PostProcess(_ context.Context, qs *chain.QueryState, resp *dns.Msg) *dns.Msg {
	if !qs.Uncacheable {
		fp := wire.NewFingerprint(qs.Query)
		c.store.Put(fp, resp)
	}
	return resp
}
