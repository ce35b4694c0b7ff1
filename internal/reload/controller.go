// Package reload implements the zero-downtime reload controller (C8): a
// single background task that polls the Corefile for content changes,
// parses and builds a replacement configuration, and swaps server-block
// runtimes in atomically — reusing unchanged blocks' listeners untouched,
// binding new listeners (via SO_REUSEPORT where available) for modified
// or new ones, and retiring replaced runtimes only after their grace
// period, all without dropping an in-flight request (spec §4.8).
//
// Grounded on the teacher corpus's own hash-poll-and-restart loop
// (github.com/coredns/coredns's plugin/reload, vendored in the retrieved
// corpus), adapted from that plugin's whole-process caddy.Instance
// restart onto this gateway's own per-block Server/Snapshot model.
package reload

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dnsgw/pollgate/core/dnsserver"
	"github.com/dnsgw/pollgate/internal/corefile"
	"github.com/dnsgw/pollgate/internal/gateway"
	"github.com/dnsgw/pollgate/internal/metrics"
	"github.com/dnsgw/pollgate/internal/netutil"
)

// DefaultInterval is used when no server block declares a `reload`
// directive at all.
const DefaultInterval = 5 * time.Second

// DefaultGraceTimeout bounds how long a retired runtime's in-flight
// handlers get, after its listeners are closed, before the runtime's
// plugins (side listeners, upstream pools, caches) are closed.
const DefaultGraceTimeout = 5 * time.Second

type liveBlock struct {
	hash    [sha256.Size]byte
	runtime *gateway.Runtime
	server  *dnsserver.Server
}

// Controller owns the poll loop and the live server-block set.
type Controller struct {
	path string
	log  *zap.Logger

	interval     time.Duration
	jitter       time.Duration
	graceTimeout time.Duration

	mu       sync.Mutex
	live     map[string]*liveBlock
	fileHash [sha512.Size]byte
}

// New builds a Controller watching path. Interval and jitter default to
// DefaultInterval/0 until Load discovers a `reload` directive's settings.
func New(path string, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		path:         path,
		log:          log,
		interval:     DefaultInterval,
		graceTimeout: DefaultGraceTimeout,
		live:         make(map[string]*liveBlock),
	}
}

// Load performs the initial parse-and-build, opening every server
// block's listeners from scratch (there is nothing to reuse yet) and
// starting each one's accept loops against ctx.
func (c *Controller) Load(ctx context.Context) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reload: read corefile: %w", err)
	}
	cfg, err := corefile.Parse(c.path, data)
	if err != nil {
		return fmt.Errorf("reload: parse corefile: %w", err)
	}
	runtimes, err := gateway.Build(cfg, c.log)
	if err != nil {
		return fmt.Errorf("reload: build config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, rt := range runtimes {
		lb, err := c.startBlock(ctx, rt, cfg.Blocks[i].ContentHash, false)
		if err != nil {
			return fmt.Errorf("reload: start %s: %w", rt.Listen, err)
		}
		c.live[rt.Listen] = lb
	}
	c.fileHash = cfg.Hash
	c.applyReloadSettings(runtimes)
	return nil
}

func (c *Controller) applyReloadSettings(runtimes []*gateway.Runtime) {
	for _, rt := range runtimes {
		if rt.ReloadSettings != nil {
			c.interval = rt.ReloadSettings.Interval
			c.jitter = rt.ReloadSettings.Jitter
			return
		}
	}
}

func (c *Controller) startBlock(ctx context.Context, rt *gateway.Runtime, hash [sha256.Size]byte, reusePort bool) (*liveBlock, error) {
	udpConn, err := netutil.ListenUDP(rt.Listen, reusePort)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	tcpLn, err := netutil.ListenTCP(rt.Listen, reusePort)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("listen tcp: %w", err)
	}

	if err := rt.Start(); err != nil {
		udpConn.Close()
		tcpLn.Close()
		return nil, fmt.Errorf("start side listeners: %w", err)
	}

	srv := dnsserver.NewServer(rt.Listen, udpConn, tcpLn, rt.Snapshot, c.log)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			c.log.Debug("server loop exited", zap.String("listen", rt.Listen), zap.Error(err))
		}
	}()

	return &liveBlock{hash: hash, runtime: rt, server: srv}, nil
}

// Run polls the Corefile until ctx is canceled.
func (c *Controller) Run(ctx context.Context) {
	for {
		wait := c.nextInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := c.poll(ctx); err != nil {
			c.log.Warn("reload poll failed", zap.Error(err))
		}
	}
}

func (c *Controller) nextInterval() time.Duration {
	c.mu.Lock()
	interval, jitter := c.interval, c.jitter
	c.mu.Unlock()
	if jitter <= 0 {
		return interval
	}
	return interval + time.Duration(rand.Int63n(int64(jitter)))
}

// poll checks the Corefile's content hash and, on change, parses, builds,
// and swaps in a new configuration. A parse or build failure leaves the
// current snapshot running (spec §7: "Config at reload -> keep current
// snapshot; log once").
func (c *Controller) poll(ctx context.Context) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read corefile: %w", err)
	}
	newHash := corefile.Hash(data)

	c.mu.Lock()
	unchanged := newHash == c.fileHash
	c.mu.Unlock()
	if unchanged {
		return nil
	}

	cfg, err := corefile.Parse(c.path, data)
	if err != nil {
		metrics.ReloadFailures.Inc()
		c.log.Error("corefile parse failed, keeping current configuration", zap.Error(err))
		return nil
	}
	runtimes, err := gateway.Build(cfg, c.log)
	if err != nil {
		metrics.ReloadFailures.Inc()
		c.log.Error("corefile build failed, keeping current configuration", zap.Error(err))
		return nil
	}

	c.swap(ctx, cfg, runtimes)
	metrics.ReloadCount.Inc()
	return nil
}

// swap diffs runtimes against the live set by listen address (spec
// §4.8 step 2): unchanged blocks are left untouched, new and modified
// blocks get freshly bound listeners, and anything no longer present is
// retired after grace.
func (c *Controller) swap(ctx context.Context, cfg *corefile.Configuration, runtimes []*gateway.Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newLive := make(map[string]*liveBlock, len(runtimes))

	for i, rt := range runtimes {
		hash := cfg.Blocks[i].ContentHash
		old, existed := c.live[rt.Listen]

		if existed && old.hash == hash {
			newLive[rt.Listen] = old
			continue
		}

		// On platforms without SO_REUSEPORT, the replacement listener
		// cannot coexist on the same address as the retiring one: close
		// it first and accept the brief rebind window spec §4.8 permits
		// there, reported through ReloadUDPLoss rather than silently.
		if existed && !netutil.SupportsReusePort {
			old.server.Stop(0)
			old.runtime.Close()
			metrics.ReloadUDPLoss.Inc()
		}

		lb, err := c.startBlock(ctx, rt, hash, existed && netutil.SupportsReusePort)
		if err != nil {
			c.log.Error("failed to bind replacement listener, keeping previous block",
				zap.String("listen", rt.Listen), zap.Error(err))
			if existed && netutil.SupportsReusePort {
				newLive[rt.Listen] = old
			}
			continue
		}
		newLive[rt.Listen] = lb

		if existed && netutil.SupportsReusePort {
			retire(old, c.graceTimeout)
		}
	}

	for addr, old := range c.live {
		if _, present := newLive[addr]; !present {
			retire(old, c.graceTimeout)
		}
	}

	c.live = newLive
	c.fileHash = cfg.Hash
	c.applyReloadSettings(runtimes)
}

func retire(old *liveBlock, grace time.Duration) {
	go func() {
		old.server.Stop(grace)
		old.runtime.Close()
	}()
}

// Shutdown stops every live server block, waiting up to grace for
// in-flight handlers.
func (c *Controller) Shutdown(grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var wg sync.WaitGroup
	for _, lb := range c.live {
		wg.Add(1)
		go func(lb *liveBlock) {
			defer wg.Done()
			lb.server.Stop(grace)
			lb.runtime.Close()
		}(lb)
	}
	wg.Wait()
}
