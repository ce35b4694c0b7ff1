// Package gateway assembles a corefile.Configuration into a live set of
// server-block runtimes: it is the glue between C9 (the parsed
// configuration tree) and C6/C7 (the plugin chain and the socket
// runtime), instantiating each directive's plugin in the block's Corefile
// declaration order and opening the side-listeners (health, prometheus)
// that aren't really part of the query path.
package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dnsgw/pollgate/core/dnsserver"
	"github.com/dnsgw/pollgate/internal/cache"
	"github.com/dnsgw/pollgate/internal/consolidate"
	"github.com/dnsgw/pollgate/internal/corefile"
	"github.com/dnsgw/pollgate/plugin/cacheplugin"
	"github.com/dnsgw/pollgate/plugin/chain"
	"github.com/dnsgw/pollgate/plugin/errorsplugin"
	"github.com/dnsgw/pollgate/plugin/forward"
	"github.com/dnsgw/pollgate/plugin/healthplugin"
	"github.com/dnsgw/pollgate/plugin/logplugin"
	"github.com/dnsgw/pollgate/plugin/prometheusplugin"
	"github.com/dnsgw/pollgate/plugin/reloadplugin"
)

// Runtime is one built server block: its listen address, the Snapshot it
// serves, the side-listeners it owns, and the reload settings (if any)
// the process-wide reload controller should honor for it.
type Runtime struct {
	Listen         string
	Snapshot       *dnsserver.Snapshot
	ReloadSettings *reloadplugin.Settings

	sideListeners []sideListener
	closers       []func() error
}

type sideListener interface {
	Start() error
	Stop() error
}

// Start opens every side-listener (health, prometheus) owned by this
// runtime.
func (r *Runtime) Start() error {
	for _, sl := range r.sideListeners {
		if err := sl.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops side-listeners and releases every closeable plugin
// instance (forward groups' upstream pools and probes, cache backends,
// error consolidator actors).
func (r *Runtime) Close() error {
	for _, sl := range r.sideListeners {
		sl.Stop()
	}
	var firstErr error
	for _, c := range r.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build turns a parsed Configuration into one Runtime per server block.
// log is the base logger every block's own logger (possibly wrapped by
// an `errors { consolidate }` core) derives from.
func Build(cfg *corefile.Configuration, log *zap.Logger) ([]*Runtime, error) {
	if log == nil {
		log = zap.NewNop()
	}

	runtimes := make([]*Runtime, 0, len(cfg.Blocks))
	for _, block := range cfg.Blocks {
		rt, err := buildBlock(block, log)
		if err != nil {
			return nil, fmt.Errorf("server block %s: %w", block.Listen, err)
		}
		runtimes = append(runtimes, rt)
	}
	return runtimes, nil
}

// buildBlock instantiates one server block's plugins and assembles them
// into a chain in the block's actual Corefile declaration order (spec §3:
// "ordering in the chain is fixed per declaration order"), not a fixed
// canonical sequence. The `errors` directive is the one exception to
// "construct in chain order": whatever consolidate cores it installs must
// wrap the block's logger before any other directive's plugin is built
// with that logger, regardless of where `errors` sits in the file. Errors
// itself is still a pure pass-through Handler (see plugin/errorsplugin),
// so inserting it into the chain at its declared position has no
// behavioral effect beyond faithfully reporting the chain's shape. It is
// only inserted when it declares at least one consolidate stanza; a bare
// `errors` adds no handler to the chain.
func buildBlock(block corefile.ServerBlock, baseLog *zap.Logger) (*Runtime, error) {
	rt := &Runtime{Listen: block.Listen}

	blockCore := baseLog.Core()

	var errStanzas []consolidate.Config
	if d, ok := block.Get("errors"); ok {
		if !d.Dispenser.Next() {
			return nil, fmt.Errorf("errors: empty directive")
		}
		stanzas, err := errorsplugin.ParseErrors(d.Dispenser)
		if err != nil {
			return nil, err
		}
		errStanzas = stanzas
	}

	var errPlugin *errorsplugin.Errors
	if len(errStanzas) > 0 {
		ep, core, err := errorsplugin.New(errStanzas, blockCore)
		if err != nil {
			return nil, err
		}
		errPlugin = ep
		blockCore = core
		rt.closers = append(rt.closers, func() error { ep.Close(); return nil })
	}

	blockLog := zap.New(blockCore)

	var handlers []chain.Handler

	for _, d := range block.Directives {
		switch d.Name {
		case "errors":
			if errPlugin != nil {
				handlers = append(handlers, errPlugin)
			}

		case "log":
			if !d.Dispenser.Next() {
				return nil, fmt.Errorf("log: empty directive")
			}
			if err := logplugin.ParseLog(d.Dispenser); err != nil {
				return nil, err
			}
			handlers = append(handlers, logplugin.New(block.Listen, blockLog))

		case "cache":
			if !d.Dispenser.Next() {
				return nil, fmt.Errorf("cache: empty directive")
			}
			cacheCfg, err := cacheplugin.ParseCache(d.Dispenser)
			if err != nil {
				return nil, err
			}
			store, err := cache.New(cacheCfg)
			if err != nil {
				return nil, err
			}
			rt.closers = append(rt.closers, func() error { store.Close(); return nil })
			handlers = append(handlers, cacheplugin.New(block.Listen, store, blockLog))

		case "health":
			if !d.Dispenser.Next() {
				return nil, fmt.Errorf("health: empty directive")
			}
			addr, err := healthplugin.ParseHealth(d.Dispenser)
			if err != nil {
				return nil, err
			}
			hp := healthplugin.New(addr, blockLog)
			handlers = append(handlers, hp)
			rt.sideListeners = append(rt.sideListeners, hp)

		case "prometheus":
			if !d.Dispenser.Next() {
				return nil, fmt.Errorf("prometheus: empty directive")
			}
			addr, err := prometheusplugin.ParsePrometheus(d.Dispenser)
			if err != nil {
				return nil, err
			}
			pp := prometheusplugin.New(addr, blockLog)
			handlers = append(handlers, pp)
			rt.sideListeners = append(rt.sideListeners, pp)

		case "reload":
			if !d.Dispenser.Next() {
				return nil, fmt.Errorf("reload: empty directive")
			}
			settings, err := reloadplugin.ParseReload(d.Dispenser)
			if err != nil {
				return nil, err
			}
			handlers = append(handlers, reloadplugin.New(settings))
			rt.ReloadSettings = &settings

		case "forward":
			var groups []*forward.Group
			for d.Dispenser.Next() {
				gcfg, endpointCfgs, err := forward.ParseForward(d.Dispenser)
				if err != nil {
					return nil, err
				}
				for i := range endpointCfgs {
					endpointCfgs[i].Logger = blockLog
				}
				group := forward.NewGroup(gcfg, forward.BuildEndpoints(endpointCfgs))
				groups = append(groups, group)
			}
			fwd := forward.New(groups, blockLog)
			rt.closers = append(rt.closers, func() error {
				var firstErr error
				for _, g := range groups {
					if err := g.Close(); err != nil && firstErr == nil {
						firstErr = err
					}
				}
				return firstErr
			})
			handlers = append(handlers, fwd)

		default:
			return nil, fmt.Errorf("unreachable: unknown directive %q survived corefile.Parse", d.Name)
		}
	}
	// A server block with no `forward` directive at all falls through to
	// the chain's own implicit NXDOMAIN producer rather than a Forward
	// plugin with nothing to cascade over (spec §4.6).

	rt.Snapshot = &dnsserver.Snapshot{Chain: chain.New(handlers)}
	return rt, nil
}
