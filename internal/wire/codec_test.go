package wire

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func newQuery(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	return m
}

func TestDecodeRejectsMultipleQuestions(t *testing.T) {
	m := newQuery("example.com")
	m.Question = append(m.Question, m.Question[0])
	b, err := m.Pack()
	require.NoError(t, err)

	_, err = Decode(b)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsZeroQuestions(t *testing.T) {
	m := new(dns.Msg)
	m.Id = 42
	b, err := m.Pack()
	require.NoError(t, err)

	_, err = Decode(b)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeAcceptsWellFormed(t *testing.T) {
	m := newQuery("example.com")
	b, err := m.Pack()
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, "example.com.", got.Question[0].Name)
}

func TestMaxPayloadSize(t *testing.T) {
	cases := []struct {
		name string
		opt  *dns.OPT
		want int
	}{
		{"no edns0", nil, DefaultUDPSize},
		{"edns0 small", &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}, 256},
		{"edns0 over cap", nil, MaxUDPSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := newQuery("example.com")
			switch tc.name {
			case "edns0 small":
				q.SetEdns0(256, false)
			case "edns0 over cap":
				q.SetEdns0(65535, false)
			}
			got := MaxPayloadSize(q)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEncodeUDPTruncates(t *testing.T) {
	resp := newQuery("example.com")
	resp.Response = true
	for i := 0; i < 200; i++ {
		rr, err := dns.NewRR("example.com. 300 IN TXT \"padding-data-to-grow-the-message-well-past-a-tiny-limit\"")
		require.NoError(t, err)
		resp.Answer = append(resp.Answer, rr)
	}

	b, truncated, err := EncodeUDP(resp, 512)
	require.NoError(t, err)
	require.True(t, truncated)

	out := new(dns.Msg)
	require.NoError(t, out.Unpack(b))
	require.True(t, out.Truncated)
	require.Len(t, out.Answer, 0)
	require.Equal(t, resp.Question, out.Question)
	require.LessOrEqual(t, len(b), 512)
}

func TestEncodeUDPNoTruncationNeeded(t *testing.T) {
	resp := newQuery("example.com")
	resp.Response = true
	rr, err := dns.NewRR("example.com. 300 IN A 1.2.3.4")
	require.NoError(t, err)
	resp.Answer = append(resp.Answer, rr)

	b, truncated, err := EncodeUDP(resp, 4096)
	require.NoError(t, err)
	require.False(t, truncated)
	require.NotEmpty(t, b)
}

func TestServfailPreservesIDAndQuestion(t *testing.T) {
	q := newQuery("example.com")
	q.Id = 1234

	resp := Servfail(q)
	require.Equal(t, uint16(1234), resp.Id)
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	require.Equal(t, q.Question, resp.Question)
}

func TestFormerrForID(t *testing.T) {
	resp := FormerrForID(99)
	require.Equal(t, uint16(99), resp.Id)
	require.Equal(t, dns.RcodeFormatError, resp.Rcode)
	require.True(t, resp.Response)
}

func TestMinTTLIgnoresOPT(t *testing.T) {
	resp := newQuery("example.com")
	resp.Response = true
	a, err := dns.NewRR("example.com. 100 IN A 1.2.3.4")
	require.NoError(t, err)
	b, err := dns.NewRR("example.com. 50 IN A 1.2.3.5")
	require.NoError(t, err)
	resp.Answer = []dns.RR{a, b}
	resp.SetEdns0(4096, false)
	resp.Extra[0].Header().Ttl = 1

	require.Equal(t, uint32(50), MinTTL(resp))
}

func TestMinTTLNoRRs(t *testing.T) {
	resp := newQuery("example.com")
	resp.Response = true
	require.Equal(t, uint32(0), MinTTL(resp))
}

func TestRewriteTTLSkipsOPT(t *testing.T) {
	resp := newQuery("example.com")
	resp.Response = true
	a, err := dns.NewRR("example.com. 100 IN A 1.2.3.4")
	require.NoError(t, err)
	resp.Answer = []dns.RR{a}
	resp.SetEdns0(4096, false)
	optTTL := resp.Extra[0].Header().Ttl

	RewriteTTL(resp, 10)
	require.Equal(t, uint32(10), resp.Answer[0].Header().Ttl)
	require.Equal(t, optTTL, resp.Extra[0].Header().Ttl)
}
