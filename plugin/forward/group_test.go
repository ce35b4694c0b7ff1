package forward

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestGroupSkipsExceptZones(t *testing.T) {
	g := NewGroup(GroupConfig{From: ".", ExceptZones: []string{"internal.example.com"}}, nil)
	require.True(t, g.Skips("foo.internal.example.com"))
	require.True(t, g.Skips("internal.example.com"))
	require.False(t, g.Skips("example.com"))
}

func TestGroupClassifyFailoverAndNext(t *testing.T) {
	g := NewGroup(GroupConfig{
		From:          ".",
		FailoverCodes: []int{dns.RcodeServerFailure},
		NextCodes:     []int{dns.RcodeRefused},
	}, nil)

	failover, next := g.classify(dns.RcodeServerFailure)
	require.True(t, failover)
	require.False(t, next)

	failover, next = g.classify(dns.RcodeRefused)
	require.False(t, failover)
	require.True(t, next)

	failover, next = g.classify(dns.RcodeSuccess)
	require.False(t, failover)
	require.False(t, next)
}

func TestGroupAdmissionUnboundedByDefault(t *testing.T) {
	g := NewGroup(GroupConfig{From: "."}, nil)
	for i := 0; i < 100; i++ {
		release, ok := g.acquireAdmission()
		require.True(t, ok)
		defer release()
	}
	require.EqualValues(t, 100, g.InFlight())
}

func TestGroupAdmissionMaxConcurrentLimitsInFlight(t *testing.T) {
	cfg := GroupConfig{From: "."}
	cfg.SetMaxConcurrent(2)
	g := NewGroup(cfg, nil)

	r1, ok1 := g.acquireAdmission()
	require.True(t, ok1)
	r2, ok2 := g.acquireAdmission()
	require.True(t, ok2)

	_, ok3 := g.acquireAdmission()
	require.False(t, ok3)

	r1()
	_, ok4 := g.acquireAdmission()
	require.True(t, ok4)
	r2()
}

func TestGroupAdmissionExplicitZeroRejectsEverything(t *testing.T) {
	cfg := GroupConfig{From: "."}
	cfg.SetMaxConcurrent(0)
	g := NewGroup(cfg, nil)

	_, ok := g.acquireAdmission()
	require.False(t, ok)
}

func TestNormalizeZoneAndSubdomain(t *testing.T) {
	require.Equal(t, "example.com.", normalizeZone("Example.COM"))
	require.True(t, isSubdomainOf("a.example.com.", "example.com."))
	require.True(t, isSubdomainOf("example.com.", "example.com."))
	require.False(t, isSubdomainOf("notexample.com.", "example.com."))
	require.True(t, isSubdomainOf("anything.", "."))
}
