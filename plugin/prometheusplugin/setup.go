package prometheusplugin

import (
	"github.com/coredns/caddy/caddyfile"
)

// ParsePrometheus reads one `prometheus [addr]` stanza, defaulting addr
// to ":9153" as the teacher's own metrics plugin does.
func ParsePrometheus(d *caddyfile.Dispenser) (string, error) {
	addr := ":9153"
	args := d.RemainingArgs()
	switch len(args) {
	case 0:
	case 1:
		addr = args[0]
	default:
		return "", d.ArgErr()
	}
	return addr, nil
}
