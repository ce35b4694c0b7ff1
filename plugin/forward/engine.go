package forward

import (
	"context"
	"strings"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/dnsgw/pollgate/internal/metrics"
	"github.com/dnsgw/pollgate/internal/wire"
	"github.com/dnsgw/pollgate/plugin/chain"
)

// Forward is the terminal plugin of a server block's onion chain: the
// cascade state machine over an ordered list of groups. It never calls a
// Next handler and always returns a definitive response.
type Forward struct {
	groups []*Group
	log    *zap.Logger
}

// New builds a Forward plugin from its groups in declared order.
func New(groups []*Group, log *zap.Logger) *Forward {
	if log == nil {
		log = zap.NewNop()
	}
	return &Forward{groups: groups, log: log}
}

func (f *Forward) Name() string { return "forward" }

// PostProcess is a no-op: Forward is terminal and has nothing to do on
// the way back out.
func (f *Forward) PostProcess(_ context.Context, _ *chain.QueryState, resp *dns.Msg) *dns.Msg {
	return resp
}

// Process runs the cascade: for each eligible group in order, try up to
// NumEndpoints distinct endpoints, retrying within the group on transport
// failure or a failover RCODE, and cascading to the next group on a next
// RCODE. The first response that isn't a transport error or a next/
// failover RCODE is definitive.
func (f *Forward) Process(ctx context.Context, qs *chain.QueryState) (chain.Result, error) {
	query := qs.Query
	name := questionName(query)

	for _, g := range f.groups {
		if g.Skips(name) {
			continue
		}

		release, ok := g.acquireAdmission()
		if !ok {
			// Over budget: skip straight to the next group without
			// selecting an endpoint, per the admission-control rule.
			continue
		}

		resp, _ := f.tryGroup(ctx, g, query, qs.Transport == chain.TCP || g.forceTCP)
		release()

		if resp != nil {
			return chain.Short(resp), nil
		}
	}

	qs.Uncacheable = true
	return chain.Short(wire.Servfail(query)), nil
}

// tryGroup runs the in-group retry loop. It returns a non-nil resp when a
// definitive answer was produced, or cascaded=true when a next-RCODE
// reply means the caller should move on to the following group without
// treating this as exhausted-by-failure.
func (f *Forward) tryGroup(ctx context.Context, g *Group, query *dns.Msg, forceTCP bool) (resp *dns.Msg, cascaded bool) {
	tried := make(map[*Endpoint]bool, g.NumEndpoints())

	for attempt := 0; attempt < g.NumEndpoints(); attempt++ {
		ep := g.selectEndpoint(tried)
		if ep == nil {
			break
		}
		tried[ep] = true

		r, err := ep.Exchange(ctx, query, forceTCP)
		if err != nil {
			ep.RecordFailure()
			metrics.UpstreamFailures.WithLabelValues(ep.Addr).Inc()
			f.log.Debug("endpoint exchange failed", zapErr(err), zapAddr(ep.Addr))
			continue
		}

		ep.RecordSuccess()

		failover, next := g.classify(r.Rcode)
		if failover {
			continue
		}
		if next {
			return nil, true
		}
		return r, false
	}

	return nil, false
}

func questionName(m *dns.Msg) string {
	if len(m.Question) == 0 {
		return "."
	}
	return strings.ToLower(m.Question[0].Name)
}
