package logplugin

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dnsgw/pollgate/plugin/chain"
)

func TestLogProcessSetsStartedAtAndContinues(t *testing.T) {
	l := New("test:53", zap.NewNop())

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	qs := &chain.QueryState{Query: q}

	require.True(t, qs.StartedAt.IsZero())
	_, err := l.Process(context.Background(), qs)
	require.NoError(t, err)
	require.False(t, qs.StartedAt.IsZero())
}

func TestLogPostProcessEmitsStructuredLine(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	l := New("test:53", zap.New(obsCore))

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	qs := &chain.QueryState{Query: q}
	_, _ = l.Process(context.Background(), qs)

	resp := new(dns.Msg)
	resp.SetReply(q)
	l.PostProcess(context.Background(), qs, resp)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "query", entry.Message)
	fields := entry.ContextMap()
	require.Equal(t, "example.com.", fields["qname"])
	require.Equal(t, "NOERROR", fields["rcode"])
}

func TestTransportLabel(t *testing.T) {
	require.Equal(t, "udp", transportLabel(chain.UDP))
	require.Equal(t, "tcp", transportLabel(chain.TCP))
}
