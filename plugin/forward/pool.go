package forward

import (
	"context"
	"net"
	"sync"
	"time"
)

// defaultMaxIdleConns is the default idle TLS connection cap per endpoint.
const defaultMaxIdleConns = 10

// defaultIdleTTL is the default idle connection lifetime before a pooled
// connection is discarded rather than reused.
const defaultIdleTTL = 30 * time.Second

// pooledConn wraps a net.Conn with the time it was returned to the pool,
// so acquire can discard anything that's aged past idleTTL.
type pooledConn struct {
	net.Conn
	idleSince time.Time
}

// connPool holds up to maxIdle idle connections for one endpoint. It
// backs both the DoT pool and, when force_tcp is set on a plain
// endpoint, a plain-TCP pool with identical acquire/release semantics.
type connPool struct {
	ep      *Endpoint
	maxIdle int
	idleTTL time.Duration

	mu   sync.Mutex
	idle []pooledConn
}

func newConnPool(ep *Endpoint, maxIdle int, idleTTL time.Duration) *connPool {
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &connPool{ep: ep, maxIdle: maxIdle, idleTTL: idleTTL}
}

// Acquire pops an idle connection not yet past its TTL, or dials a new
// one over network ("tcp" for both DoT and forced-TCP plain upstreams).
// The borrower owns the returned connection exclusively until Release or
// Discard is called.
func (p *connPool) Acquire(ctx context.Context, network string) (net.Conn, error) {
	now := time.Now()
	p.mu.Lock()
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if now.Sub(c.idleSince) > p.idleTTL {
			c.Conn.Close()
			continue
		}
		p.mu.Unlock()
		return c.Conn, nil
	}
	p.mu.Unlock()

	return p.ep.dial(ctx, network)
}

// Release returns a conn to the idle pool if it's error-free and there's
// room; otherwise it closes it.
func (p *connPool) Release(c net.Conn, errorFree bool) {
	if !errorFree || c == nil {
		if c != nil {
			c.Close()
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= p.maxIdle {
		c.Close()
		return
	}
	p.idle = append(p.idle, pooledConn{Conn: c, idleSince: time.Now()})
}

// Discard always closes c rather than pooling it, used after protocol
// errors or when cancellation leaves the connection in an unknown state.
func (p *connPool) Discard(c net.Conn) {
	if c != nil {
		c.Close()
	}
}

// Close drains and closes every idle connection.
func (p *connPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.idle {
		c.Conn.Close()
	}
	p.idle = nil
	return nil
}

// Len reports the current idle connection count, for tests.
func (p *connPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
