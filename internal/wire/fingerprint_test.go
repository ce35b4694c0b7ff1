package wire

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestNewFingerprintLowercasesName(t *testing.T) {
	m := newQuery("Example.COM")
	fp := NewFingerprint(m)
	require.Equal(t, "example.com.", fp.Name)
	require.Equal(t, dns.TypeA, fp.Qtype)
	require.Equal(t, uint16(dns.ClassINET), fp.Qclass)
	require.False(t, fp.DO)
}

func TestNewFingerprintCapturesDOBit(t *testing.T) {
	m := newQuery("example.com")
	m.SetEdns0(4096, true)
	fp := NewFingerprint(m)
	require.True(t, fp.DO)
}

func TestNewFingerprintIgnoresTransportAndID(t *testing.T) {
	a := newQuery("example.com")
	a.Id = 1
	b := newQuery("example.com")
	b.Id = 2
	require.Equal(t, NewFingerprint(a), NewFingerprint(b))
}
