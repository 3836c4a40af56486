package alert

import (
	"sync"
	"time"
)

// Channel delivers alert events to an external destination. Send reports
// whether delivery happened; rate-capped and failed sends return false.
type Channel interface {
	Name() string
	Send(Event) bool
}

// DefaultRatePerHour caps sends per channel per hour.
const DefaultRatePerHour = 60

// limiter enforces a per-hour send cap, counted before any I/O so a flapping
// rule cannot flood a destination.
type limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	start   time.Time
	count   int
	now     func() time.Time
}

func newLimiter(maxPerHour int) *limiter {
	if maxPerHour <= 0 {
		maxPerHour = DefaultRatePerHour
	}
	return &limiter{max: maxPerHour, window: time.Hour, now: time.Now}
}

func (l *limiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.start.IsZero() || now.Sub(l.start) >= l.window {
		l.start = now
		l.count = 0
	}
	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}

// channelBase carries the shared name, rate cap, and error capture.
type channelBase struct {
	name    string
	limiter *limiter

	errMu     sync.Mutex
	lastError error
}

func newChannelBase(name string, maxPerHour int) channelBase {
	return channelBase{name: name, limiter: newLimiter(maxPerHour)}
}

func (c *channelBase) Name() string { return c.name }

// LastError returns the most recent delivery error, or nil.
func (c *channelBase) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastError
}

func (c *channelBase) setError(err error) {
	c.errMu.Lock()
	c.lastError = err
	c.errMu.Unlock()
}

// send wraps a delivery function with the rate cap and error capture.
func (c *channelBase) send(deliver func() error) bool {
	if !c.limiter.allow() {
		return false
	}
	if err := deliver(); err != nil {
		c.setError(err)
		return false
	}
	c.setError(nil)
	return true
}
