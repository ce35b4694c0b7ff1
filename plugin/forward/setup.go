package forward

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coredns/caddy/caddyfile"

	"github.com/dnsgw/pollgate/plugin/chain"
)

// ParseForward reads one `forward` stanza starting at the directive
// token itself (d.Val() == "forward") and returns the group it
// describes plus the endpoints it names. Multiple `forward` stanzas in
// one server block become multiple groups in declared order, forming
// the cascade.
func ParseForward(d *caddyfile.Dispenser) (GroupConfig, []EndpointConfig, error) {
	cfg := GroupConfig{Policy: Sequential}

	args := d.RemainingArgs()
	if len(args) < 2 {
		return cfg, nil, d.ArgErr()
	}
	cfg.From = args[0]
	upstreams := args[1:]

	endpoints := make([]EndpointConfig, 0, len(upstreams))
	for _, u := range upstreams {
		ec, err := parseUpstream(u)
		if err != nil {
			return cfg, nil, d.Errf("forward: %v", err)
		}
		endpoints = append(endpoints, ec)
	}

	var sni string
	var tlsCfg *tls.Config

	for d.NextBlock() {
		switch d.Val() {
		case "policy":
			if !d.NextArg() {
				return cfg, nil, d.ArgErr()
			}
			p, ok := ParsePolicy(d.Val())
			if !ok {
				return cfg, nil, d.Errf("forward: unknown policy %q", d.Val())
			}
			cfg.Policy = p

		case "max_fails":
			n, err := nextUint(d)
			if err != nil {
				return cfg, nil, err
			}
			for i := range endpoints {
				endpoints[i].MaxFails = n
			}

		case "max_concurrent":
			n, err := nextInt(d)
			if err != nil {
				return cfg, nil, err
			}
			if n < 0 {
				return cfg, nil, d.Errf("forward: max_concurrent can't be negative: %d", n)
			}
			cfg.SetMaxConcurrent(n)

		case "health_check":
			if !d.NextArg() {
				return cfg, nil, d.ArgErr()
			}
			dur, err := time.ParseDuration(d.Val())
			if err != nil {
				return cfg, nil, d.Errf("forward: health_check: %v", err)
			}
			for i := range endpoints {
				endpoints[i].HealthInterval = dur
			}

		case "force_tcp":
			if d.NextArg() {
				return cfg, nil, d.ArgErr()
			}
			cfg.ForceTCP = true

		case "tls_servername":
			if !d.NextArg() {
				return cfg, nil, d.ArgErr()
			}
			sni = d.Val()

		case "tls":
			args := d.RemainingArgs()
			if len(args) > 0 {
				return cfg, nil, d.Errf("forward: tls takes no file arguments, use tls_servername for SNI")
			}
			tlsCfg = &tls.Config{}

		case "dial_timeout":
			dur, err := nextDuration(d)
			if err != nil {
				return cfg, nil, err
			}
			for i := range endpoints {
				endpoints[i].DialTimeout = dur
			}

		case "query_timeout":
			dur, err := nextDuration(d)
			if err != nil {
				return cfg, nil, err
			}
			for i := range endpoints {
				endpoints[i].QueryTimeout = dur
			}

		case "failover":
			codes, err := parseRcodeList(d.RemainingArgs())
			if err != nil {
				return cfg, nil, d.Errf("forward: failover: %v", err)
			}
			cfg.FailoverCodes = codes

		case "next":
			codes, err := parseRcodeList(d.RemainingArgs())
			if err != nil {
				return cfg, nil, d.Errf("forward: next: %v", err)
			}
			cfg.NextCodes = codes

		case "except":
			zones := d.RemainingArgs()
			if len(zones) == 0 {
				return cfg, nil, d.ArgErr()
			}
			cfg.ExceptZones = append(cfg.ExceptZones, zones...)

		default:
			return cfg, nil, d.Errf("forward: unknown property %q", d.Val())
		}
	}

	for i := range endpoints {
		if endpoints[i].Scheme == TLS {
			endpoints[i].SNI = sni
			endpoints[i].RootCAs = tlsCfg
		}
	}

	return cfg, endpoints, nil
}

// parseUpstream splits an upstream token into its scheme and address,
// recognizing the "tls://" prefix for DoT (default port 853) and treating
// everything else as plain DNS over UDP/TCP port 53.
func parseUpstream(tok string) (EndpointConfig, error) {
	scheme := Plain
	addr := tok
	if strings.HasPrefix(tok, "tls://") {
		scheme = TLS
		addr = strings.TrimPrefix(tok, "tls://")
	} else if strings.HasPrefix(tok, "dns://") {
		addr = strings.TrimPrefix(tok, "dns://")
	}
	if !strings.Contains(addr, ":") {
		if scheme == TLS {
			addr += ":853"
		} else {
			addr += ":53"
		}
	}
	return EndpointConfig{Addr: addr, Scheme: scheme}, nil
}

func parseRcodeList(args []string) ([]int, error) {
	codes := make([]int, 0, len(args))
	for _, a := range args {
		rc, ok := namedRcode(a)
		if !ok {
			n, err := strconv.Atoi(a)
			if err != nil {
				return nil, fmt.Errorf("invalid rcode %q", a)
			}
			rc = n
		}
		codes = append(codes, rc)
	}
	return codes, nil
}

func namedRcode(s string) (int, bool) {
	switch strings.ToUpper(s) {
	case "NOERROR":
		return 0, true
	case "FORMERR":
		return 1, true
	case "SERVFAIL":
		return 2, true
	case "NXDOMAIN":
		return 3, true
	case "REFUSED":
		return 5, true
	default:
		return 0, false
	}
}

func nextUint(d *caddyfile.Dispenser) (uint32, error) {
	if !d.NextArg() {
		return 0, d.ArgErr()
	}
	n, err := strconv.Atoi(d.Val())
	if err != nil || n < 0 {
		return 0, d.Errf("invalid non-negative integer %q", d.Val())
	}
	return uint32(n), nil
}

func nextInt(d *caddyfile.Dispenser) (int, error) {
	if !d.NextArg() {
		return 0, d.ArgErr()
	}
	n, err := strconv.Atoi(d.Val())
	if err != nil {
		return 0, d.Errf("invalid integer %q", d.Val())
	}
	return n, nil
}

func nextDuration(d *caddyfile.Dispenser) (time.Duration, error) {
	if !d.NextArg() {
		return 0, d.ArgErr()
	}
	dur, err := time.ParseDuration(d.Val())
	if err != nil {
		return 0, d.Errf("invalid duration %q: %v", d.Val(), err)
	}
	return dur, nil
}

// BuildEndpoints turns parsed endpoint configs into live Endpoints,
// sharing the logger across the group.
func BuildEndpoints(cfgs []EndpointConfig) []*Endpoint {
	out := make([]*Endpoint, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, NewEndpoint(c))
	}
	return out
}

var _ chain.Handler = (*Forward)(nil)
