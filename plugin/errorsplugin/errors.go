// Package errorsplugin implements the `errors` directive: the error
// consolidator (C5) wired into a server block's logger. Grounded on
// github.com/coredns/coredns's plugin/errors (vendored in the retrieved
// corpus), but recast from that plugin's error-return interception onto
// a zapcore.Core decorator, consistent with this gateway's zap-everywhere
// logging (spec §4.5: "Each log line routed through it").
package errorsplugin

import (
	"context"

	"github.com/miekg/dns"
	"go.uber.org/zap/zapcore"

	"github.com/dnsgw/pollgate/internal/consolidate"
	"github.com/dnsgw/pollgate/plugin/chain"
)

// Errors is the `errors` directive's plugin instance. It never inspects
// or alters the query/response; its entire effect is on the block's
// shared logger, installed at construction time via New.
type Errors struct {
	cores []*consolidate.Core
}

// New builds an Errors plugin from its parsed consolidate stanzas,
// layering one consolidate.Core per stanza on top of base and returning
// the resulting core for the caller to build the block's zap.Logger from.
func New(stanzas []consolidate.Config, base zapcore.Core) (*Errors, zapcore.Core, error) {
	e := &Errors{}
	core := base
	for _, cfg := range stanzas {
		c, err := consolidate.NewRegexCore(core, cfg)
		if err != nil {
			return nil, nil, err
		}
		e.cores = append(e.cores, c)
		core = c
	}
	return e, core, nil
}

func (e *Errors) Name() string { return "errors" }

func (e *Errors) Process(_ context.Context, _ *chain.QueryState) (chain.Result, error) {
	return chain.Next(), nil
}

func (e *Errors) PostProcess(_ context.Context, _ *chain.QueryState, resp *dns.Msg) *dns.Msg {
	return resp
}

// Close stops every consolidate actor, flushing any pending aggregate
// line, used when the owning server block is retired.
func (e *Errors) Close() {
	for _, c := range e.cores {
		c.Close()
	}
}
