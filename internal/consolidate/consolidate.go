// Package consolidate implements the error consolidator (C5): an
// actor-style task that folds repeated log lines matching a regex into a
// single aggregate line per time window, grounded on the teacher's own
// `errors { consolidate }` directive (github.com/coredns/coredns's
// plugin/errors package, vendored into the retrieved corpus) but recast
// as a zapcore.Core decorator so it composes with this gateway's
// zap-everywhere logging instead of the plugin.Handler error-return path
// CoreDNS uses.
package consolidate

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is one `errors { consolidate window regex level }` stanza.
type Config struct {
	Window  time.Duration
	Pattern string
	Level   zapcore.Level
}

// Core wraps an underlying zapcore.Core: entries whose rendered message
// matches Pattern are counted but never forwarded; every Window, if any
// were suppressed, a single aggregate entry is emitted in their place.
// Non-matching entries pass through unchanged and in order.
type Core struct {
	next zapcore.Core

	window  time.Duration
	level   zapcore.Level
	matcher matchFunc
	pattern string

	// count is shared with every Core derived via With, so suppressed
	// entries logged through a derived core land in the same aggregate.
	count *atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type matchFunc func(msg string) bool

var _ zapcore.Core = (*Core)(nil)

// NewCore builds a Core around next, starting its background fold loop.
// Close must be called to stop that loop (e.g. on server-block
// retirement).
func NewCore(next zapcore.Core, cfg Config, matcher matchFunc) *Core {
	c := &Core{
		next:    next,
		window:  cfg.Window,
		level:   cfg.Level,
		matcher: matcher,
		pattern: cfg.Pattern,
		count:   new(atomic.Uint64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Core) Enabled(lvl zapcore.Level) bool { return c.next.Enabled(lvl) }

// Check adds this Core to ce when the entry's level is enabled, the same
// contract every zapcore.Core implementation follows so that the logger
// actually calls Write for entries this Core should see.
func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	return &Core{
		next:    c.next.With(fields),
		window:  c.window,
		level:   c.level,
		matcher: c.matcher,
		pattern: c.pattern,
		count:   c.count,
		stop:    c.stop,
		done:    c.done,
	}
}

// Write suppresses matching entries (counting them) and passes everything
// else straight through to next, preserving order for non-matching lines.
func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if c.matcher(ent.Message) {
		c.count.Add(1)
		return nil
	}
	return c.next.Write(ent, fields)
}

func (c *Core) Sync() error { return c.next.Sync() }

// Close stops the fold loop, flushing any pending suppressed count as a
// final aggregate line.
func (c *Core) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

func (c *Core) loop() {
	defer close(c.done)
	t := time.NewTicker(c.window)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.flush()
		case <-c.stop:
			c.flush()
			return
		}
	}
}

func (c *Core) flush() {
	n := c.count.Swap(0)
	if n == 0 {
		return
	}
	ent := zapcore.Entry{Level: c.level, Time: time.Now(), Message: formatAggregate(n, c.pattern)}
	c.next.Write(ent, nil)
}
