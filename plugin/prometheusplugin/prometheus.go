// Package prometheusplugin implements the `prometheus` directive: an
// HTTP endpoint exposing the process-global metrics registry
// (internal/metrics), named in spec §1 as an external collaborator this
// document only specifies through its interface. Grounded on the
// teacher's own direct dependency on github.com/prometheus/client_golang
// and on how IrineSistiana/mosdns starts its own metrics HTTP listener
// alongside the DNS server.
package prometheusplugin

import (
	"context"
	"net/http"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dnsgw/pollgate/internal/metrics"
	"github.com/dnsgw/pollgate/internal/netutil"
	"github.com/dnsgw/pollgate/plugin/chain"
)

// Prometheus is the `prometheus` directive's plugin instance.
type Prometheus struct {
	Addr string

	log *zap.Logger
	srv *http.Server
}

// New builds a Prometheus plugin bound to addr.
func New(addr string, log *zap.Logger) *Prometheus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prometheus{Addr: addr, log: log}
}

func (p *Prometheus) Name() string { return "prometheus" }

func (p *Prometheus) Process(_ context.Context, _ *chain.QueryState) (chain.Result, error) {
	return chain.Next(), nil
}

func (p *Prometheus) PostProcess(_ context.Context, _ *chain.QueryState, resp *dns.Msg) *dns.Msg {
	return resp
}

// Start opens the metrics listener and serves until Stop is called.
func (p *Prometheus) Start() error {
	ln, err := netutil.ListenTCP(p.Addr, false)
	if err != nil {
		return err
	}
	p.Addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	p.srv = &http.Server{Handler: mux}

	go func() {
		if err := p.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.log.Debug("prometheus endpoint stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes the metrics listener.
func (p *Prometheus) Stop() error {
	if p.srv == nil {
		return nil
	}
	return p.srv.Shutdown(context.Background())
}
