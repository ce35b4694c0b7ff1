package cacheplugin

import (
	"strconv"
	"time"

	"github.com/coredns/caddy/caddyfile"

	"github.com/dnsgw/pollgate/internal/cache"
)

// ParseCache reads one `cache` stanza starting at the directive token
// itself. Per spec §9's open-question resolution: a bare integer
// argument is the `cache TTL` shorthand (capacity-only, using the
// default capacities' TTL ceilings is not what TTL means here — TTL
// shorthand instead caps both classes' max TTL while leaving their
// capacities at the default); the block form
// `cache { success N [TTL] ; denial N [TTL] }` sets capacity and,
// optionally, a per-class TTL cap. Mixing the two forms is a parse
// error.
func ParseCache(d *caddyfile.Dispenser) (cache.Config, error) {
	cfg := cache.DefaultConfig()

	args := d.RemainingArgs()
	switch len(args) {
	case 0:
		// block form, or bare `cache` with defaults
	case 1:
		ttl, err := parseSeconds(args[0])
		if err != nil {
			return cfg, d.Errf("cache: %v", err)
		}
		cfg.SuccessMaxTTL = ttl
		cfg.DenialMaxTTL = ttl
	default:
		return cfg, d.ArgErr()
	}

	sawShorthand := len(args) == 1

	for d.NextBlock() {
		if sawShorthand {
			return cfg, d.Errf("cache: cannot mix `cache TTL` shorthand with a block")
		}
		switch d.Val() {
		case "success":
			cap, ttl, err := parseClassArgs(d)
			if err != nil {
				return cfg, err
			}
			cfg.SuccessCap = cap
			if ttl > 0 {
				cfg.SuccessMaxTTL = ttl
			}
		case "denial":
			cap, ttl, err := parseClassArgs(d)
			if err != nil {
				return cfg, err
			}
			cfg.DenialCap = cap
			if ttl > 0 {
				cfg.DenialMaxTTL = ttl
			}
		default:
			return cfg, d.Errf("cache: unknown property %q", d.Val())
		}
	}

	return cfg, nil
}

func parseClassArgs(d *caddyfile.Dispenser) (cap int, ttl time.Duration, err error) {
	args := d.RemainingArgs()
	if len(args) < 1 || len(args) > 2 {
		return 0, 0, d.ArgErr()
	}
	cap, err = strconv.Atoi(args[0])
	if err != nil || cap < 0 {
		return 0, 0, d.Errf("cache: invalid capacity %q", args[0])
	}
	if len(args) == 2 {
		ttl, err = parseSeconds(args[1])
		if err != nil {
			return 0, 0, d.Errf("cache: %v", err)
		}
	}
	return cap, ttl, nil
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
