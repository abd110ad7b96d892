// Package ratelimit throttles dispatches per notification category.
//
// Throttling is evaluated at dispatch time, immediately before playback, so
// queue depth reflects true pending demand and a stale entry of a category
// never shadows a later, higher-priority one. A window token is consumed
// only when a dispatch is actually allowed; drops leave the window state
// untouched.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config maps category -> minimum interval between dispatches.
// A zero window means the category is never throttled.
// Categories without an explicit window use Default.
type Config struct {
	Windows map[string]time.Duration
	Default time.Duration
}

// DefaultWindows mirrors the original hook tooling's cooldowns.
func DefaultWindows() map[string]time.Duration {
	return map[string]time.Duration{
		"error":             0,
		"security":          0,
		"permission":        2 * time.Second,
		"file-operation":    3 * time.Second,
		"command-execution": 2 * time.Second,
		"completion":        10 * time.Second,
		"general":           15 * time.Second,
	}
}

const DefaultWindow = 15 * time.Second

// CategoryStats is a point-in-time view of one category.
type CategoryStats struct {
	Window      time.Duration `json:"window"`
	LastEmitted time.Time     `json:"last_emitted"`
	Emitted     uint64        `json:"emitted"`
	Dropped     uint64        `json:"dropped"`
}

type category struct {
	window      time.Duration
	lim         *rate.Limiter
	lastEmitted time.Time
	emitted     uint64
	dropped     uint64
}

// Limiter tracks per-category windows. Safe for concurrent use: Allow runs
// on the consumer loop while Apply (config reload) and Snapshot (ping) run
// elsewhere.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]time.Duration
	def     time.Duration
	cats    map[string]*category
}

func New(cfg Config) *Limiter {
	l := &Limiter{cats: map[string]*category{}}
	l.Apply(cfg)
	return l
}

// Apply swaps the window table. Categories whose window changed get a fresh
// token bucket; counters survive.
func (l *Limiter) Apply(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg.Windows == nil {
		cfg.Windows = DefaultWindows()
	}
	if cfg.Default <= 0 {
		cfg.Default = DefaultWindow
	}
	l.windows = cfg.Windows
	l.def = cfg.Default

	for name, c := range l.cats {
		w := l.windowForLocked(name)
		if w != c.window {
			c.window = w
			c.lim = newBucket(w)
		}
	}
}

// Allow reports whether a dispatch of the category may proceed at now.
// An allowed dispatch consumes the category's window; a denial does not.
func (l *Limiter) Allow(name string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.cats[name]
	if c == nil {
		w := l.windowForLocked(name)
		c = &category{window: w, lim: newBucket(w)}
		l.cats[name] = c
	}
	if !c.lim.AllowN(now, 1) {
		c.dropped++
		return false
	}
	c.emitted++
	c.lastEmitted = now
	return true
}

// Window returns the effective window for a category.
func (l *Limiter) Window(name string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windowForLocked(name)
}

// Snapshot returns per-category stats for status output.
func (l *Limiter) Snapshot() map[string]CategoryStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]CategoryStats, len(l.cats))
	for name, c := range l.cats {
		out[name] = CategoryStats{
			Window:      c.window,
			LastEmitted: c.lastEmitted,
			Emitted:     c.emitted,
			Dropped:     c.dropped,
		}
	}
	return out
}

func (l *Limiter) windowForLocked(name string) time.Duration {
	if w, ok := l.windows[name]; ok {
		return w
	}
	return l.def
}

// newBucket builds a one-token bucket refilling once per window.
// Zero window means unlimited.
func newBucket(w time.Duration) *rate.Limiter {
	if w <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(w), 1)
}
