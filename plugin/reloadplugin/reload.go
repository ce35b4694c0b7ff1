// Package reloadplugin parses the `reload` directive's arguments
// (interval and optional jitter) into the settings the process-wide
// reload controller (internal/reload) polls by. The directive's plugin
// instance itself is a pass-through: hot reload is a whole-process
// concern, not a per-query one.
package reloadplugin

import (
	"context"
	"time"

	"github.com/coredns/caddy/caddyfile"
	"github.com/miekg/dns"

	"github.com/dnsgw/pollgate/plugin/chain"
)

// DefaultInterval is the reload poll interval with no `reload` directive.
// ParseReload does not use it (the interval argument is required), and the
// process-wide controller uses internal/reload's own DefaultInterval, which
// has the same value.
const DefaultInterval = 5 * time.Second

// Settings is the parsed form of one `reload interval [jitter]` stanza.
type Settings struct {
	Interval time.Duration
	Jitter   time.Duration
}

// Reload is the `reload` directive's plugin instance.
type Reload struct {
	Settings Settings
}

// New builds a Reload plugin instance from parsed Settings.
func New(s Settings) *Reload { return &Reload{Settings: s} }

func (r *Reload) Name() string { return "reload" }

func (r *Reload) Process(_ context.Context, _ *chain.QueryState) (chain.Result, error) {
	return chain.Next(), nil
}

func (r *Reload) PostProcess(_ context.Context, _ *chain.QueryState, resp *dns.Msg) *dns.Msg {
	return resp
}

// ParseReload reads one `reload interval [jitter]` stanza starting at
// the directive token itself.
func ParseReload(d *caddyfile.Dispenser) (Settings, error) {
	args := d.RemainingArgs()
	if len(args) < 1 || len(args) > 2 {
		return Settings{}, d.ArgErr()
	}
	interval, err := time.ParseDuration(args[0])
	if err != nil {
		return Settings{}, d.Errf("reload: invalid interval %q: %v", args[0], err)
	}
	s := Settings{Interval: interval}
	if len(args) == 2 {
		jitter, err := time.ParseDuration(args[1])
		if err != nil {
			return Settings{}, d.Errf("reload: invalid jitter %q: %v", args[1], err)
		}
		s.Jitter = jitter
	}
	return s, nil
}
