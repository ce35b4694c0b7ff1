package forward

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/dnsgw/pollgate/plugin/chain"
)

// fakeUpstream is a loopback UDP server that answers every query with a
// fixed rcode.
type fakeUpstream struct {
	conn   *net.UDPConn
	rcode  int
	closed chan struct{}
}

func startFakeUpstream(t *testing.T, rcode int) *fakeUpstream {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	f := &fakeUpstream{conn: conn, rcode: rcode, closed: make(chan struct{})}
	go f.serve()
	return f
}

func (f *fakeUpstream) serve() {
	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, addr, err := f.conn.ReadFrom(buf)
		if err != nil {
			close(f.closed)
			return
		}
		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			continue
		}
		resp := new(dns.Msg)
		resp.SetRcode(req, f.rcode)
		b, err := resp.Pack()
		if err != nil {
			continue
		}
		f.conn.WriteTo(b, addr)
	}
}

func (f *fakeUpstream) addr() string {
	return f.conn.LocalAddr().String()
}

func (f *fakeUpstream) Close() {
	f.conn.Close()
	<-f.closed
}

func serveForward(f *Forward) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	qs := &chain.QueryState{Query: q, Transport: chain.UDP}
	return chain.New([]chain.Handler{f}).Serve(context.Background(), qs)
}

func TestForwardProcessReturnsUpstreamAnswer(t *testing.T) {
	up := startFakeUpstream(t, dns.RcodeSuccess)
	defer up.Close()

	ep := NewEndpoint(EndpointConfig{Addr: up.addr(), Scheme: Plain, QueryTimeout: time.Second})
	defer ep.Close()
	g := NewGroup(GroupConfig{From: "."}, []*Endpoint{ep})

	f := New([]*Group{g}, nil)
	m := serveForward(f)
	require.Equal(t, dns.RcodeSuccess, m.Rcode)
}

func TestForwardCascadesOnNextRcode(t *testing.T) {
	refusing := startFakeUpstream(t, dns.RcodeRefused)
	defer refusing.Close()
	answering := startFakeUpstream(t, dns.RcodeSuccess)
	defer answering.Close()

	ep1 := NewEndpoint(EndpointConfig{Addr: refusing.addr(), Scheme: Plain, QueryTimeout: time.Second})
	defer ep1.Close()
	ep2 := NewEndpoint(EndpointConfig{Addr: answering.addr(), Scheme: Plain, QueryTimeout: time.Second})
	defer ep2.Close()

	g1 := NewGroup(GroupConfig{From: ".", NextCodes: []int{dns.RcodeRefused}}, []*Endpoint{ep1})
	g2 := NewGroup(GroupConfig{From: "."}, []*Endpoint{ep2})

	f := New([]*Group{g1, g2}, nil)
	m := serveForward(f)
	require.Equal(t, dns.RcodeSuccess, m.Rcode)
}

func TestForwardFailoverRetriesWithinGroup(t *testing.T) {
	failing := startFakeUpstream(t, dns.RcodeServerFailure)
	defer failing.Close()
	answering := startFakeUpstream(t, dns.RcodeSuccess)
	defer answering.Close()

	ep1 := NewEndpoint(EndpointConfig{Addr: failing.addr(), Scheme: Plain, QueryTimeout: time.Second})
	defer ep1.Close()
	ep2 := NewEndpoint(EndpointConfig{Addr: answering.addr(), Scheme: Plain, QueryTimeout: time.Second})
	defer ep2.Close()

	g := NewGroup(GroupConfig{From: ".", Policy: Sequential, FailoverCodes: []int{dns.RcodeServerFailure}}, []*Endpoint{ep1, ep2})

	f := New([]*Group{g}, nil)
	m := serveForward(f)
	require.Equal(t, dns.RcodeSuccess, m.Rcode)
}

func TestForwardExhaustionYieldsServfail(t *testing.T) {
	ep := NewEndpoint(EndpointConfig{Addr: "127.0.0.1:1", Scheme: Plain, QueryTimeout: 50 * time.Millisecond, DialTimeout: 50 * time.Millisecond})
	defer ep.Close()
	g := NewGroup(GroupConfig{From: "."}, []*Endpoint{ep})

	f := New([]*Group{g}, nil)
	m := serveForward(f)
	require.Equal(t, dns.RcodeServerFailure, m.Rcode)
}

func TestForwardSkipsGroupOverExceptZone(t *testing.T) {
	up := startFakeUpstream(t, dns.RcodeSuccess)
	defer up.Close()
	ep := NewEndpoint(EndpointConfig{Addr: up.addr(), Scheme: Plain, QueryTimeout: time.Second})
	defer ep.Close()

	g := NewGroup(GroupConfig{From: ".", ExceptZones: []string{"example.com"}}, []*Endpoint{ep})
	f := New([]*Group{g}, nil)
	m := serveForward(f)
	require.Equal(t, dns.RcodeServerFailure, m.Rcode)
}

func TestForwardEmptyGroupsNeverReachedFromChain(t *testing.T) {
	f := New(nil, nil)
	m := serveForward(f)
	require.Equal(t, dns.RcodeServerFailure, m.Rcode)
}
