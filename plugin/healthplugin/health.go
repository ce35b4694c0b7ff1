// Package healthplugin implements the `health` directive's TCP liveness
// endpoint, named in spec §1 as an external collaborator this document
// only specifies through its interface: a listener that accepts and
// replies 200 OK, grounded on github.com/coredns/coredns's plugin/health
// (vendored in the retrieved corpus), simplified to a plain net.Listener
// rather than that package's reuseport helper since this gateway already
// owns reuseport handling centrally in internal/netutil for the DNS
// sockets themselves.
package healthplugin

import (
	"context"
	"io"
	"net/http"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/dnsgw/pollgate/internal/netutil"
	"github.com/dnsgw/pollgate/plugin/chain"
)

// Health is the `health` directive's plugin instance. Its Process/
// PostProcess are pass-throughs: the real behavior is the HTTP listener
// Start opens.
type Health struct {
	Addr string

	log *zap.Logger

	srv *http.Server
}

// New builds a Health plugin bound to addr (e.g. ":8080").
func New(addr string, log *zap.Logger) *Health {
	if log == nil {
		log = zap.NewNop()
	}
	return &Health{Addr: addr, log: log}
}

func (h *Health) Name() string { return "health" }

func (h *Health) Process(_ context.Context, _ *chain.QueryState) (chain.Result, error) {
	return chain.Next(), nil
}

func (h *Health) PostProcess(_ context.Context, _ *chain.QueryState, resp *dns.Msg) *dns.Msg {
	return resp
}

// Start opens the liveness listener and serves until Stop is called.
func (h *Health) Start() error {
	ln, err := netutil.ListenTCP(h.Addr, false)
	if err != nil {
		return err
	}
	h.Addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, http.StatusText(http.StatusOK))
	})
	h.srv = &http.Server{Handler: mux}

	go func() {
		if err := h.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.log.Debug("health endpoint stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes the liveness listener.
func (h *Health) Stop() error {
	if h.srv == nil {
		return nil
	}
	return h.srv.Shutdown(context.Background())
}
