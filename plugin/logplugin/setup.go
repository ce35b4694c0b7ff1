package logplugin

import "github.com/coredns/caddy/caddyfile"

// ParseLog validates the bare `log` directive: it takes no arguments and
// no block.
func ParseLog(d *caddyfile.Dispenser) error {
	if len(d.RemainingArgs()) > 0 {
		return d.ArgErr()
	}
	return nil
}
