// Package forward implements the forwarding engine: upstream pool
// management, DoT connection pooling, policy-driven selection, active
// health checks, per-RCODE failover/cascade, and concurrency admission.
// It is also the terminal plugin of the onion chain where a block declares
// one: Forward always produces a Response rather than calling a Next. A
// block with no `forward` directive ends in the chain's implicit NXDOMAIN
// producer instead.
package forward

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Scheme is the upstream transport an endpoint speaks.
type Scheme int

const (
	Plain Scheme = iota
	TLS
)

// Endpoint is one resolver address: its health state, its connection
// pool, and the scheme/SNI needed to dial it.
type Endpoint struct {
	Addr   string
	Scheme Scheme
	SNI    string

	maxFails uint32

	// consecutiveFailures and alive together form the health state.
	// alive is derived, not stored independently, to keep the invariant
	// alive == (consecutive_failures < max_fails) true by construction
	// rather than by convention.
	consecutiveFailures atomic.Uint32

	lastProbeAt atomic.Int64 // unix nanos

	pool *connPool

	tlsConfig *tls.Config

	dialTimeout  time.Duration
	queryTimeout time.Duration

	log *zap.Logger

	stopProbe context.CancelFunc
	probeWG   sync.WaitGroup
}

// EndpointConfig carries the per-endpoint knobs that a `forward` group
// applies uniformly, plus the address/scheme parsed out of one upstream
// token (e.g. "tls://1.1.1.1" or "9.9.9.9").
type EndpointConfig struct {
	Addr           string
	Scheme         Scheme
	SNI            string
	MaxFails       uint32
	MaxIdleConns   int
	IdleTTL        time.Duration
	DialTimeout    time.Duration
	QueryTimeout   time.Duration
	HealthInterval time.Duration
	RootCAs        *tls.Config // optional pinned root store override
	Logger         *zap.Logger
}

// NewEndpoint constructs an Endpoint and starts its health-probe loop.
// The probe loop is stopped by Close.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var tlsCfg *tls.Config
	if cfg.Scheme == TLS {
		if cfg.RootCAs != nil {
			tlsCfg = cfg.RootCAs.Clone()
		} else {
			tlsCfg = &tls.Config{}
		}
		tlsCfg.ServerName = cfg.SNI
	}

	e := &Endpoint{
		Addr:         cfg.Addr,
		Scheme:       cfg.Scheme,
		SNI:          cfg.SNI,
		maxFails:     cfg.MaxFails,
		tlsConfig:    tlsCfg,
		dialTimeout:  cfg.DialTimeout,
		queryTimeout: cfg.QueryTimeout,
		log:          logger,
	}
	e.pool = newConnPool(e, cfg.MaxIdleConns, cfg.IdleTTL)

	ctx, cancel := context.WithCancel(context.Background())
	e.stopProbe = cancel
	if cfg.HealthInterval > 0 {
		e.probeWG.Add(1)
		go e.healthLoop(ctx, cfg.HealthInterval)
	}

	return e
}

// Alive reports the health invariant:
// alive == (consecutive_failures < max_fails). A max_fails of 0 disables
// the check: the endpoint is then always alive.
func (e *Endpoint) Alive() bool {
	if e.maxFails == 0 {
		return true
	}
	return e.consecutiveFailures.Load() < e.maxFails
}

// RecordSuccess clears the failure counter. Called both from a
// successful health probe and from a live reply on the normal request
// path; either kind of success resets the streak identically.
func (e *Endpoint) RecordSuccess() {
	e.consecutiveFailures.Store(0)
}

// RecordFailure increments the failure counter, used by transport
// errors, timeouts, and failed probes alike.
func (e *Endpoint) RecordFailure() {
	e.consecutiveFailures.Add(1)
}

// ConsecutiveFailures exposes the raw counter for tests and metrics.
func (e *Endpoint) ConsecutiveFailures() uint32 {
	return e.consecutiveFailures.Load()
}

// Close stops the health-probe loop and releases pooled connections.
func (e *Endpoint) Close() error {
	e.stopProbe()
	e.probeWG.Wait()
	return e.pool.Close()
}

func (e *Endpoint) String() string {
	scheme := "dns"
	if e.Scheme == TLS {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s", scheme, e.Addr)
}

// dial opens a fresh connection for the given network ("udp" or "tcp"),
// applying TLS when the endpoint scheme requires it.
func (e *Endpoint) dial(ctx context.Context, network string) (net.Conn, error) {
	d := &net.Dialer{Timeout: e.dialTimeout}
	if e.Scheme == Plain {
		return d.DialContext(ctx, network, e.Addr)
	}

	// DoT is always carried over TCP (RFC 7858).
	td := tls.Dialer{NetDialer: d, Config: e.tlsConfig}
	return td.DialContext(ctx, "tcp", e.Addr)
}
