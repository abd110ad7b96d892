// Package daemon is the coordinator: it owns the unix socket, the pending
// queue, the single consumer loop, and the daemon lifecycle state machine.
package daemon

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"notifyd/internal/cache"
	"notifyd/internal/config"
	"notifyd/internal/eventbus"
	"notifyd/internal/ipc"
	"notifyd/internal/journal"
	"notifyd/internal/playback"
	"notifyd/internal/queue"
	"notifyd/internal/ratelimit"
	"notifyd/internal/runtime/supervisor"
	logx "notifyd/pkg/logx"
)

// Options bundle the daemon's collaborators. Provider defaults to the exec
// provider built from config; tests inject a ProviderFunc instead.
type Options struct {
	Manager  *config.Manager
	Logger   logx.Logger
	LogSvc   *logx.Service
	Provider playback.Provider
	Bus      eventbus.Bus[journal.Outcome]
	Store    journal.Store
}

// Service is the notification coordinator.
//
// Concurrency model: acceptor goroutines (one per connection) and the single
// consumer loop share s.mu for queue access and sequence assignment. Playback
// happens only on the consumer loop, so mutual exclusion of audio needs no
// extra lock.
type Service struct {
	cfgMgr *config.Manager
	log    logx.Logger
	logSvc *logx.Service
	bus    eventbus.Bus[journal.Outcome]
	store  journal.Store

	mu      sync.Mutex
	queue   *queue.Queue
	seq     uint64
	ttl     time.Duration
	entropy *ulid.MonotonicEntropy

	limiter *ratelimit.Limiter
	cache   *cache.Cache
	exec    *playback.Executor

	state   atomic.Int32
	started time.Time

	// wake has capacity 1: the consumer misses no enqueue and the acceptor
	// never blocks.
	wake    chan struct{}
	drainCh chan struct{}
	drain1  sync.Once

	countersMu sync.Mutex
	counters   map[string]uint64

	activeCategory atomic.Value // string

	speakerMu   sync.Mutex
	speakerName string
	voiceHint   string

	pidPath string
	cron    *cron.Cron
}

func New(opts Options) (*Service, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("daemon: config manager is required")
	}
	cfg := opts.Manager.Get()
	if cfg == nil {
		return nil, fmt.Errorf("daemon: config not loaded")
	}
	log := opts.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New[journal.Outcome]()
	}

	rlCfg, err := cfg.RateLimit.Resolve()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.Queue.ResolveTTL()
	if err != nil {
		return nil, err
	}
	maxDur, err := cfg.Playback.ResolveMaxDuration()
	if err != nil {
		return nil, err
	}

	provider := opts.Provider
	if provider == nil {
		provider = playback.NewExecProvider(cfg.Playback.Command, cfg.Playback.Args, log.With(logx.String("component", "playback")))
	}

	s := &Service{
		cfgMgr:      opts.Manager,
		log:         log,
		logSvc:      opts.LogSvc,
		bus:         bus,
		store:       opts.Store,
		queue:       queue.New(cfg.Queue.ResolveCapacity()),
		ttl:         ttl,
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		limiter:     ratelimit.New(rlCfg),
		cache:       cache.New(cfg.Cache.ResolveCapacity()),
		exec:        playback.NewExecutor(provider, maxDur, log.With(logx.String("component", "playback"))),
		wake:        make(chan struct{}, 1),
		drainCh:     make(chan struct{}),
		counters:    map[string]uint64{},
		speakerName: cfg.Playback.SpeakerName,
		voiceHint:   cfg.Playback.VoiceHint,
	}
	s.activeCategory.Store("")
	s.state.Store(int32(ipc.StateStopped))
	return s, nil
}

// State returns the current lifecycle state.
func (s *Service) State() ipc.State { return ipc.State(s.state.Load()) }

// Bus exposes the outcome bus for observers (the journal recorder, tests).
func (s *Service) Bus() eventbus.Bus[journal.Outcome] { return s.bus }

// Run brings the daemon up and blocks until the context is canceled or a
// shutdown request drains it. The socket is released before Run returns.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.cfgMgr.Get()
	s.state.Store(int32(ipc.StateStarting))
	s.started = time.Now()

	// Journaled counters survive restarts; seed the in-memory view.
	if s.store != nil {
		seedCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if saved, err := s.store.Counters(seedCtx); err == nil {
			s.countersMu.Lock()
			for k, v := range saved {
				s.counters[k] = v
			}
			s.countersMu.Unlock()
		}
		cancel()
	}

	socketPath := cfg.SocketPath()
	ln, err := ipc.Listen(socketPath)
	if err != nil {
		s.state.Store(int32(ipc.StateStopped))
		return err
	}
	s.pidPath = ipc.PIDPath(socketPath)
	if err := os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		s.log.Warn("pidfile write failed", logx.String("path", s.pidPath), logx.Err(err))
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))

	consumerDone := make(chan struct{})
	sup.Go("consumer", func(ctx context.Context) error {
		defer close(consumerDone)
		s.consume(ctx)
		return nil
	})
	sup.Go("acceptor", func(ctx context.Context) error {
		return s.accept(ctx, ln)
	})
	sup.Go("journal-recorder", func(ctx context.Context) error {
		err := journal.NewRecorder(s.store, s.log.With(logx.String("component", "journal"))).Run(ctx, s.bus)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	sup.GoRestart("config-watch", func(ctx context.Context) error {
		return s.cfgMgr.Watch(ctx)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	sup.Go0("config-reload", func(ctx context.Context) {
		s.watchReloads(ctx)
	})

	s.startPrune(cfg)

	s.state.Store(int32(ipc.StateRunning))
	notifyReady(s.log)
	s.log.Info("daemon running",
		logx.String("socket", socketPath),
		logx.Int("pid", os.Getpid()),
	)

	// Hold until cancellation (signal) or an explicit shutdown request.
	select {
	case <-ctx.Done():
	case <-s.drainCh:
	}

	notifyStopping(s.log)
	s.state.Store(int32(ipc.StateDraining))
	// Closing the listener stops new work; in-flight acceptor goroutines see
	// the draining state and reject notify ops.
	_ = ln.Close()

	// The consumer finishes the current playback (bounded by the configured
	// max_duration, not the built-in default) and exits once it observes
	// draining with an empty mandate.
	s.wakeConsumer()
	select {
	case <-consumerDone:
	case <-time.After(s.exec.MaxDuration() + 5*time.Second):
		s.log.Warn("consumer did not drain in time")
	}

	s.state.Store(int32(ipc.StateStopping))
	s.discardPending()

	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-time.After(2 * time.Second):
		}
	}

	sup.Cancel()
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = sup.Wait(waitCtx)
	cancel()

	if s.store != nil {
		_ = s.store.Close()
	}
	_ = os.Remove(s.pidPath)
	_ = os.Remove(socketPath)
	s.state.Store(int32(ipc.StateStopped))
	s.log.Info("daemon stopped")
	return nil
}

// Shutdown requests a drain-then-stop. Safe to call from any goroutine and
// idempotent.
func (s *Service) Shutdown() {
	s.drain1.Do(func() { close(s.drainCh) })
}

func (s *Service) wakeConsumer() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// discardPending empties the queue at shutdown, counting every entry.
func (s *Service) discardPending() {
	s.mu.Lock()
	dropped := s.queue.Drain()
	s.mu.Unlock()
	for _, e := range dropped {
		s.recordOutcome(journal.Outcome{
			At:       time.Now(),
			ID:       e.ID,
			Source:   e.Source,
			Category: e.Category,
			Priority: e.Priority.String(),
			Outcome:  journal.OutcomeDiscarded,
			Reason:   "daemon shutdown",
		})
	}
	if len(dropped) > 0 {
		s.log.Info("pending entries discarded", logx.Int("count", len(dropped)))
	}
}

func (s *Service) recordOutcome(o journal.Outcome) {
	s.countersMu.Lock()
	s.counters[o.Outcome]++
	s.countersMu.Unlock()
	s.bus.Publish(o)
}

func (s *Service) bumpCounter(name string) {
	s.countersMu.Lock()
	s.counters[name]++
	s.countersMu.Unlock()
}

func (s *Service) stats() *ipc.Stats {
	s.mu.Lock()
	depth := s.queue.Len()
	s.mu.Unlock()

	s.countersMu.Lock()
	counters := make(map[string]uint64, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	s.countersMu.Unlock()

	categories := map[string]ipc.CategoryStats{}
	for name, cs := range s.limiter.Snapshot() {
		categories[name] = ipc.CategoryStats{
			Window:  cs.Window.String(),
			Emitted: cs.Emitted,
			Dropped: cs.Dropped,
		}
	}
	cs := s.cache.Stats()

	active, _ := s.activeCategory.Load().(string)
	uptime := int64(0)
	if !s.started.IsZero() {
		uptime = int64(time.Since(s.started).Seconds())
	}
	return &ipc.Stats{
		State:          s.State().String(),
		PID:            os.Getpid(),
		QueueDepth:     depth,
		ActiveCategory: active,
		UptimeSeconds:  uptime,
		Counters:       counters,
		Categories:     categories,
		Cache: &ipc.CacheStats{
			Size:      cs.Size,
			Capacity:  cs.Capacity,
			Hits:      cs.Hits,
			Misses:    cs.Misses,
			Evictions: cs.Evictions,
		},
	}
}

// watchReloads applies committed config changes to the live components.
// Socket path and queue capacity changes need a restart; everything else is
// applied in place.
func (s *Service) watchReloads(ctx context.Context) {
	ch := s.cfgMgr.Subscribe(4)
	defer s.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			s.applyConfig(cfg)
		}
	}
}

func (s *Service) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	// Validated on load, so these cannot fail here.
	if rlCfg, err := cfg.RateLimit.Resolve(); err == nil {
		s.limiter.Apply(rlCfg)
	}
	if ttl, err := cfg.Queue.ResolveTTL(); err == nil {
		s.mu.Lock()
		s.ttl = ttl
		s.mu.Unlock()
	}
	if d, err := cfg.Playback.ResolveMaxDuration(); err == nil {
		s.exec.SetMaxDuration(d)
	}
	s.cache.Resize(cfg.Cache.ResolveCapacity())

	s.speakerMu.Lock()
	s.speakerName = cfg.Playback.SpeakerName
	s.voiceHint = cfg.Playback.VoiceHint
	s.speakerMu.Unlock()

	if s.logSvc != nil {
		s.logSvc.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}
	s.log.Info("config reloaded")
}

// startPrune schedules journal retention cleanup. No journal, no cron.
func (s *Service) startPrune(cfg *config.Config) {
	if s.store == nil || cfg.Journal == nil {
		return
	}
	schedule := cfg.Journal.PruneSchedule
	if schedule == "" {
		schedule = "@hourly"
	}
	retention := journal.DefaultRetention
	if jc, err := cfg.Journal.Resolve(); err == nil && jc.Retention > 0 {
		retention = jc.Retention
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if n, err := s.store.PruneBefore(ctx, time.Now().Add(-retention)); err != nil {
			s.log.Warn("journal prune failed", logx.Err(err))
		} else if n > 0 {
			s.log.Debug("journal prune", logx.Int64("rows", n))
		}
	})
	if err != nil {
		s.log.Warn("invalid prune schedule", logx.String("schedule", schedule), logx.Err(err))
		return
	}
	c.Start()
	s.cron = c
}
