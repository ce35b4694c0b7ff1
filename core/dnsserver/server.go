// Package dnsserver runs the accept loops that terminate UDP and TCP DNS
// traffic for one listen address and dispatch each query into that
// address's plugin chain.
package dnsserver

import (
	"context"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dnsgw/pollgate/internal/wire"
	"github.com/dnsgw/pollgate/plugin/chain"
)

// DefaultGraceTimeout bounds how long Stop waits for in-flight queries
// to finish after closing the listeners. Stop returns once that time is
// up; it does not close handlers' open TCP connections itself.
const DefaultGraceTimeout = 5 * time.Second

// Snapshot is the immutable, atomically-swappable configuration a Server
// dispatches against. Every in-flight query holds a reference to the
// Snapshot it was received under for its whole lifetime, so a reload
// never changes behavior mid-query.
type Snapshot struct {
	Chain *chain.Chain
}

// Server serves DNS requests at one address (UDP and TCP). Its
// configuration can be swapped at runtime via SetSnapshot without
// interrupting queries already in flight.
type Server struct {
	Addr string

	log *zap.Logger

	snapshot atomic.Pointer[Snapshot]

	wg           sync.WaitGroup
	graceTimeout time.Duration
	closing      atomic.Bool

	udpConn net.PacketConn
	tcpLn   net.Listener
}

// NewServer constructs a Server bound to the given already-created UDP
// packet connection and TCP listener (see internal/reload and
// internal/netutil for how these are obtained via SO_REUSEPORT), serving
// snap until a reload replaces it.
func NewServer(addr string, udpConn net.PacketConn, tcpLn net.Listener, snap *Snapshot, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		Addr:         addr,
		log:          log,
		graceTimeout: DefaultGraceTimeout,
		udpConn:      udpConn,
		tcpLn:        tcpLn,
	}
	s.snapshot.Store(snap)
	return s
}

// SetSnapshot atomically publishes a new configuration. Queries already
// dispatched keep running against whatever Snapshot they captured at the
// top of their handler.
func (s *Server) SetSnapshot(snap *Snapshot) {
	s.snapshot.Store(snap)
}

// Snapshot returns the currently active configuration.
func (s *Server) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Serve runs the UDP and TCP accept loops until Stop closes the
// listeners or a loop hits a read/accept error. ctx is handed to every
// query's chain dispatch; canceling it does not stop the accept loops.
// It blocks until both loops return.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveUDP(gctx) })
	g.Go(func() error { return s.serveTCP(gctx) })
	return g.Wait()
}

func (s *Server) serveUDP(ctx context.Context) error {
	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, addr, err := s.udpConn.ReadFrom(buf)
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			return err
		}

		req := make([]byte, n)
		copy(req, buf[:n])

		s.wg.Add(1)
		go s.handleUDP(ctx, req, addr)
	}
}

func (s *Server) handleUDP(ctx context.Context, raw []byte, addr net.Addr) {
	defer s.wg.Done()
	defer s.recoverToNothing()

	snap := s.snapshot.Load()

	query, ferr := wire.Decode(raw)
	if ferr != nil {
		resp := wire.FormerrForID(idFromRaw(raw))
		b, err := resp.Pack()
		if err == nil {
			s.udpConn.WriteTo(b, addr)
		}
		return
	}

	qs := &chain.QueryState{
		Query:      query,
		Transport:  chain.UDP,
		Source:     addr,
		MaxUDPSize: wire.MaxPayloadSize(query),
	}

	resp := snap.Chain.Serve(ctx, qs)
	b, _, err := wire.EncodeUDP(resp, qs.MaxUDPSize)
	if err != nil {
		s.log.Debug("failed to encode UDP response", zap.Error(err))
		return
	}
	if _, err := s.udpConn.WriteTo(b, addr); err != nil {
		s.log.Debug("failed to write UDP response", zap.Error(err))
	}
}

func (s *Server) serveTCP(ctx context.Context) error {
	for {
		conn, err := s.tcpLn.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go s.handleTCPConn(ctx, conn)
	}
}

func (s *Server) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.recoverToNothing()

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		raw, err := readFramedTCP(conn)
		if err != nil {
			return
		}

		snap := s.snapshot.Load()

		query, ferr := wire.Decode(raw)
		var resp *dns.Msg
		if ferr != nil {
			resp = wire.FormerrForID(idFromRaw(raw))
		} else {
			qs := &chain.QueryState{
				Query:     query,
				Transport: chain.TCP,
				Source:    conn.RemoteAddr(),
			}
			resp = snap.Chain.Serve(ctx, qs)
		}

		b, err := wire.EncodeTCP(resp)
		if err != nil {
			return
		}
		if err := writeFramedTCP(conn, b); err != nil {
			return
		}
	}
}

// recoverToNothing matches the top-level panic containment every
// handler needs: a bug in one plugin must not take the listener down.
// There is no response writer reachable from a recovered panic (the
// write already happened or never will), so this only logs.
func (s *Server) recoverToNothing() {
	if rec := recover(); rec != nil {
		s.log.Error("recovered from panic handling query",
			zap.String("addr", s.Addr),
			zap.Any("panic", rec),
			zap.ByteString("stack", debug.Stack()))
	}
}

// Stop closes both listeners and waits up to the grace timeout for
// in-flight handlers to finish before returning.
func (s *Server) Stop(graceTimeout time.Duration) error {
	if graceTimeout <= 0 {
		graceTimeout = s.graceTimeout
	}
	s.closing.Store(true)

	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-time.After(graceTimeout):
	case <-done:
	}
	return nil
}

func idFromRaw(raw []byte) uint16 {
	if len(raw) < 2 {
		return 0
	}
	return uint16(raw[0])<<8 | uint16(raw[1])
}
