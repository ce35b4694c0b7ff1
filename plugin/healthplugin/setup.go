package healthplugin

import (
	"github.com/coredns/caddy/caddyfile"
)

// ParseHealth reads one `health [addr]` stanza, defaulting addr to
// ":8080" as the teacher's own health plugin does.
func ParseHealth(d *caddyfile.Dispenser) (string, error) {
	addr := ":8080"
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
