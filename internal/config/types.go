package config

import (
	"time"

	"notifyd/internal/cache"
	"notifyd/internal/ipc"
	"notifyd/internal/journal"
	"notifyd/internal/playback"
	"notifyd/internal/ratelimit"
)

// Config is the daemon + client configuration.
//
// All durations are Go duration strings (e.g. "50ms", "10s", "1m").
// File format is JSON or YAML; both decode strictly so typos surface at
// load time instead of silently defaulting.
type Config struct {
	// Socket is the IPC channel address. NOTIFYD_SOCKET overrides it.
	Socket string `json:"socket,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Queue     QueueConfig     `json:"queue"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Cache     CacheConfig     `json:"cache"`
	Playback  PlaybackConfig  `json:"playback"`
	Client    ClientConfig    `json:"client"`
	Journal   *JournalConfig  `json:"journal,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// QueueConfig bounds the pending-notification queue.
//
// DefaultTTL, when non-zero, discards entries that waited longer than this
// rather than playing them stale. "0s" disables TTL.
type QueueConfig struct {
	Capacity   int    `json:"capacity,omitempty"`
	DefaultTTL string `json:"default_ttl,omitempty"`
}

// RateLimitConfig maps category -> minimum interval between dispatched
// notifications of that category. "0s" disables throttling for a category
// (keep error/security at zero). DefaultWindow applies to categories not
// listed. Strict priority ordering has no starvation protection; throttle
// spammy categories here instead.
type RateLimitConfig struct {
	Windows       map[string]string `json:"windows,omitempty"`
	DefaultWindow string            `json:"default_window,omitempty"`
}

type CacheConfig struct {
	Capacity int `json:"capacity,omitempty"`
}

// PlaybackConfig wraps the external speak command.
type PlaybackConfig struct {
	Command     string   `json:"command,omitempty"`
	Args        []string `json:"args,omitempty"`
	MaxDuration string   `json:"max_duration,omitempty"`
	VoiceHint   string   `json:"voice_hint,omitempty"`
	// SpeakerName personalizes resolved payloads ("Maya, build complete").
	SpeakerName string `json:"speaker_name,omitempty"`
}

// ClientConfig bounds the producer-side call. Both timeouts together are
// the worst case a producer ever waits before falling back locally.
type ClientConfig struct {
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	AckTimeout     string `json:"ack_timeout,omitempty"`
}

// JournalConfig controls the persistent outcome journal.
//
// Driver values: "sqlite" (default when section present) or "none".
// The journal records outcomes only, never pending entries; the queue is
// memory-resident by design.
type JournalConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`
	Retention     string `json:"retention,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// Default returns the zero-config daemon setup: console logging, default
// socket and windows, journal disabled.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// ---- resolution helpers (string durations -> typed values) ----

func (c *Config) SocketPath() string {
	return ipc.SocketPath(c.Socket)
}

func (c *QueueConfig) ResolveCapacity() int {
	if c.Capacity <= 0 {
		return 256
	}
	return c.Capacity
}

func (c *QueueConfig) ResolveTTL() (time.Duration, error) {
	return parseDuration("queue.default_ttl", c.DefaultTTL)
}

// Resolve converts the string windows into a ratelimit.Config, overlaying
// user entries on the built-in defaults.
func (c *RateLimitConfig) Resolve() (ratelimit.Config, error) {
	windows := ratelimit.DefaultWindows()
	for name, raw := range c.Windows {
		d, err := parseDuration("rate_limit.windows."+name, raw)
		if err != nil {
			return ratelimit.Config{}, err
		}
		windows[name] = d
	}
	def, err := durationOr("rate_limit.default_window", c.DefaultWindow, ratelimit.DefaultWindow)
	if err != nil {
		return ratelimit.Config{}, err
	}
	return ratelimit.Config{Windows: windows, Default: def}, nil
}

func (c *CacheConfig) ResolveCapacity() int {
	if c.Capacity <= 0 {
		return cache.DefaultCapacity
	}
	return c.Capacity
}

func (c *PlaybackConfig) ResolveMaxDuration() (time.Duration, error) {
	return durationOr("playback.max_duration", c.MaxDuration, playback.DefaultMaxDuration)
}

func (c *ClientConfig) ResolveConnectTimeout() (time.Duration, error) {
	return durationOr("client.connect_timeout", c.ConnectTimeout, DefaultConnectTimeout)
}

func (c *ClientConfig) ResolveAckTimeout() (time.Duration, error) {
	return durationOr("client.ack_timeout", c.AckTimeout, DefaultAckTimeout)
}

// Resolve converts the section into a journal.Config. A nil section (or
// driver "none") disables the journal entirely.
func (c *JournalConfig) Resolve() (journal.Config, error) {
	if c == nil {
		return journal.Config{}, nil
	}
	driver := c.Driver
	if driver == "" {
		driver = "sqlite"
	}
	path := c.Path
	if path == "" {
		path = "/tmp/notifyd/journal.db"
	}
	busy, err := durationOr("journal.busy_timeout", c.BusyTimeout, DefaultJournalBusyTimeout)
	if err != nil {
		return journal.Config{}, err
	}
	retention, err := durationOr("journal.retention", c.Retention, journal.DefaultRetention)
	if err != nil {
		return journal.Config{}, err
	}
	return journal.Config{Driver: driver, Path: path, BusyTimeout: busy, Retention: retention}, nil
}

// Validate resolves every duration field once so a bad config is rejected
// before commit/publish.
func (c *Config) Validate() error {
	if _, err := c.Queue.ResolveTTL(); err != nil {
		return err
	}
	if _, err := c.RateLimit.Resolve(); err != nil {
		return err
	}
	if _, err := c.Playback.ResolveMaxDuration(); err != nil {
		return err
	}
	if _, err := c.Client.ResolveConnectTimeout(); err != nil {
		return err
	}
	if _, err := c.Client.ResolveAckTimeout(); err != nil {
		return err
	}
	if c.Journal != nil {
		if _, err := parseDuration("journal.busy_timeout", c.Journal.BusyTimeout); err != nil {
			return err
		}
		if _, err := parseDuration("journal.retention", c.Journal.Retention); err != nil {
			return err
		}
	}
	return nil
}
