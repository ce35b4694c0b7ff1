package forward

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/miekg/dns"
)

// Exchange sends query to the endpoint and returns its reply. Plain
// endpoints use a single-shot UDP socket per query unless forceTCP is
// set; TLS endpoints and forced-TCP plain endpoints borrow a pooled
// connection framed per RFC 1035 §4.2.2.
func (e *Endpoint) Exchange(ctx context.Context, query *dns.Msg, forceTCP bool) (*dns.Msg, error) {
	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	if e.Scheme == Plain && !forceTCP {
		return e.exchangeUDP(ctx, query)
	}
	return e.exchangeStream(ctx, query)
}

func (e *Endpoint) exchangeUDP(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	conn, err := e.dial(ctx, "udp")
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", e.Addr, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	b, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack query: %w", err)
	}
	if _, err := conn.Write(b); err != nil {
		return nil, fmt.Errorf("write udp %s: %w", e.Addr, err)
	}

	buf := make([]byte, dns.MaxMsgSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read udp %s: %w", e.Addr, err)
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(buf[:n]); err != nil {
		return nil, fmt.Errorf("%w: unpack udp reply from %s: %v", ErrUpstreamProtocol, e.Addr, err)
	}
	return resp, nil
}

// exchangeStream borrows a pooled TCP (plain force_tcp) or DoT
// connection, writes one length-prefixed query, and reads one
// length-prefixed reply. A single in-flight query per connection is
// maintained by the pool's borrow-exclusive-use contract.
func (e *Endpoint) exchangeStream(ctx context.Context, query *dns.Msg) (resp *dns.Msg, err error) {
	conn, err := e.pool.Acquire(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("acquire stream conn %s: %w", e.Addr, err)
	}

	ok := false
	defer func() {
		if ok {
			e.pool.Release(conn, true)
		} else {
			e.pool.Discard(conn)
		}
	}()

	if dl, ok2 := ctx.Deadline(); ok2 {
		conn.SetDeadline(dl)
	}

	b, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack query: %w", err)
	}
	if err := writeFramed(conn, b); err != nil {
		return nil, fmt.Errorf("write stream %s: %w", e.Addr, err)
	}

	rb, err := readFramed(conn)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", e.Addr, err)
	}

	resp = new(dns.Msg)
	if err := resp.Unpack(rb); err != nil {
		return nil, fmt.Errorf("%w: unpack stream reply from %s: %v", ErrUpstreamProtocol, e.Addr, err)
	}
	ok = true
	return resp, nil
}

// writeFramed writes b prefixed by its 2-byte big-endian length, per
// RFC 1035 §4.2.2.
func writeFramed(w io.Writer, b []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readFramed reads one length-prefixed DNS message.
func readFramed(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// canaryQuery is the health-probe message: ". IN NS".
func canaryQuery() *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(".", dns.TypeNS)
	m.RecursionDesired = true
	return m
}

// healthLoop sends a canary query every interval until ctx is canceled.
func (e *Endpoint) healthLoop(ctx context.Context, interval time.Duration) {
	defer e.probeWG.Done()
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.probeOnce(ctx)
		}
	}
}

func (e *Endpoint) probeOnce(ctx context.Context) {
	e.lastProbeAt.Store(time.Now().UnixNano())
	pctx, cancel := context.WithTimeout(ctx, probeTimeout(e))
	defer cancel()

	_, err := e.Exchange(pctx, canaryQuery(), false)
	if err != nil {
		e.RecordFailure()
		e.log.Debug("health probe failed", zapErr(err), zapAddr(e.Addr))
		return
	}
	e.RecordSuccess()
}

func probeTimeout(e *Endpoint) time.Duration {
	if e.queryTimeout > 0 {
		return e.queryTimeout
	}
	return 5 * time.Second
}

// LastProbeAt returns the time of the most recent health probe attempt,
// zero if none has run yet.
func (e *Endpoint) LastProbeAt() time.Time {
	ns := e.lastProbeAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
