package errorsplugin

import (
	"fmt"
	"strings"
	"time"

	"github.com/coredns/caddy/caddyfile"
	"go.uber.org/zap/zapcore"

	"github.com/dnsgw/pollgate/internal/consolidate"
)

// ParseErrors reads one `errors` stanza starting at the directive token
// itself and returns every `consolidate window regex level` sub-stanza it
// declares.
func ParseErrors(d *caddyfile.Dispenser) ([]consolidate.Config, error) {
	var stanzas []consolidate.Config

	// A bare `errors` with no block is valid and yields no consolidation.
	_ = d.RemainingArgs()

	for d.NextBlock() {
		switch d.Val() {
		case "consolidate":
			cfg, err := parseConsolidate(d)
			if err != nil {
				return nil, err
			}
			stanzas = append(stanzas, cfg)
		default:
			return nil, d.Errf("errors: unknown property %q", d.Val())
		}
	}
	return stanzas, nil
}

func parseConsolidate(d *caddyfile.Dispenser) (consolidate.Config, error) {
	args := d.RemainingArgs()
	if len(args) < 2 || len(args) > 3 {
		return consolidate.Config{}, d.ArgErr()
	}
	window, err := time.ParseDuration(args[0])
	if err != nil {
		return consolidate.Config{}, d.Errf("errors: consolidate: invalid window %q: %v", args[0], err)
	}
	pattern := args[1]

	level := zapcore.WarnLevel
	if len(args) == 3 {
		level, err = parseLevel(args[2])
		if err != nil {
			return consolidate.Config{}, d.Errf("errors: consolidate: %v", err)
		}
	}

	return consolidate.Config{Window: window, Pattern: pattern, Level: level}, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warning", "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		var lvl zapcore.Level
		return lvl, fmt.Errorf("unknown log level %q", s)
	}
}
