// Package logplugin implements the standard per-query log plugin: it
// records latency and result code on the outbound phase, grounded on the
// onion model's post_process contract (spec §4.6) that observability
// fields, not query semantics, are the only thing a plugin may touch on
// the way back out.
package logplugin

import (
	"context"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/dnsgw/pollgate/internal/metrics"
	"github.com/dnsgw/pollgate/plugin/chain"
)

// Log is the `log` directive's plugin instance. It never short-circuits
// the chain: its only job is structured observability.
type Log struct {
	server string
	log    *zap.Logger
}

// New builds a Log plugin that reports under the given server-block
// listen address (used as a metrics/log label) using log for output.
func New(server string, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{server: server, log: log}
}

func (l *Log) Name() string { return "log" }

// Process records the start time in the query's context-free QueryState
// and always continues the chain.
func (l *Log) Process(_ context.Context, qs *chain.QueryState) (chain.Result, error) {
	metrics.Requests.WithLabelValues(l.server, transportLabel(qs.Transport)).Inc()
	qs.StartedAt = time.Now()
	return chain.Next(), nil
}

// PostProcess emits one structured line per query with its latency and
// result code, matching the teacher corpus's idiom of attaching
// structured fields (qname/qtype/rcode/duration) to every request log
// line rather than free-form text.
func (l *Log) PostProcess(_ context.Context, qs *chain.QueryState, resp *dns.Msg) *dns.Msg {
	metrics.Responses.WithLabelValues(l.server, dns.RcodeToString[resp.Rcode]).Inc()

	fields := []zap.Field{
		zap.String("server", l.server),
		zap.String("rcode", dns.RcodeToString[resp.Rcode]),
	}
	if len(qs.Query.Question) > 0 {
		q := qs.Query.Question[0]
		fields = append(fields,
			zap.String("qname", q.Name),
			zap.String("qtype", dns.TypeToString[q.Qtype]),
		)
	}
	if !qs.StartedAt.IsZero() {
		fields = append(fields, zap.Duration("duration", time.Since(qs.StartedAt)))
	}
	l.log.Info("query", fields...)
	return resp
}

func transportLabel(t chain.Transport) string {
	if t == chain.TCP {
		return "tcp"
	}
	return "udp"
}
