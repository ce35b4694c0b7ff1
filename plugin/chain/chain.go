// Package chain implements the onion-model plugin dispatcher (C6): an
// ordered stack of plugins that each see the query inbound (Process) and,
// for just the plugins actually entered, the response outbound
// (PostProcess) in reverse order.
package chain

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Transport distinguishes the two wire transports a query may arrive on.
type Transport int

const (
	UDP Transport = iota
	TCP
)

// QueryState carries everything the chain and its plugins need about one
// in-flight query.
type QueryState struct {
	Query      *dns.Msg
	Transport  Transport
	Source     net.Addr
	MaxUDPSize int

	// Uncacheable lets an upstream-facing plugin (Forward sets it on the
	// SERVFAIL it synthesizes when every group is exhausted) tell the Cache
	// plugin's outbound phase not to Put this response, without any
	// plugin reaching into another plugin's state. The Cache plugin
	// also sets this on its own inbound hit, since its own outbound
	// phase still runs (the short-circuiter is part of "plugins
	// entered") and must not re-Put and extend the hit's TTL.
	Uncacheable bool

	// StartedAt is set by the Log plugin's inbound phase for latency
	// observability; other plugins don't read or write it.
	StartedAt time.Time
}

// Result is what a plugin's Process returns: either Next (fall through to
// the next plugin) or Short (halt descent with this response).
type Result struct {
	response *dns.Msg
}

// Next continues the chain to the next plugin.
func Next() Result { return Result{} }

// Short halts descent, supplying the final response immediately.
func Short(resp *dns.Msg) Result { return Result{response: resp} }

func (r Result) isShort() bool { return r.response != nil }

// Handler is the capability set every plugin exposes: process and
// post_process, not open inheritance. Log, Cache, Prometheus, Errors,
// Forward, Health, and Reload all implement this one interface.
type Handler interface {
	Name() string
	Process(ctx context.Context, qs *QueryState) (Result, error)
	PostProcess(ctx context.Context, qs *QueryState, resp *dns.Msg) *dns.Msg
}

// Chain is one server block's ordered plugin stack.
type Chain struct {
	handlers []Handler
}

// New builds a Chain from plugin instances in declared order.
func New(handlers []Handler) *Chain {
	return &Chain{handlers: handlers}
}

// Serve runs the chain's inbound phase until a plugin returns Short (or
// the stack is exhausted), then runs PostProcess in reverse over exactly
// the plugins that were entered. If no plugin ever produces a response —
// an empty chain, or a block with nothing but pass-through plugins — an
// implicit NXDOMAIN producer stands in.
func (c *Chain) Serve(ctx context.Context, qs *QueryState) *dns.Msg {
	entered := make([]Handler, 0, len(c.handlers))
	var resp *dns.Msg

	for _, h := range c.handlers {
		entered = append(entered, h)
		res, err := h.Process(ctx, qs)
		if err != nil {
			resp = implicitError(qs.Query)
			break
		}
		if res.isShort() {
			resp = res.response
			break
		}
	}

	if resp == nil {
		resp = implicitNXDOMAIN(qs.Query)
	}

	for i := len(entered) - 1; i >= 0; i-- {
		resp = entered[i].PostProcess(ctx, qs, resp)
	}
	return resp
}

func implicitNXDOMAIN(query *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(query, dns.RcodeNameError)
	return m
}

func implicitError(query *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(query, dns.RcodeServerFailure)
	return m
}
