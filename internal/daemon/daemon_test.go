package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/ipc"
	"notifyd/internal/playback"
	logx "notifyd/pkg/logx"
)

func startDaemon(t *testing.T, provider playback.Provider, extraYAML string) (socket string, svc *Service) {
	t.Helper()

	dir := t.TempDir()
	socket = filepath.Join(dir, "n.sock")
	cfgPath := filepath.Join(dir, "config.yaml")
	raw := fmt.Sprintf("socket: %s\nlogging:\n  level: error\n  console: false\n%s", socket, extraYAML)
	if err := os.WriteFile(cfgPath, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mgr := config.NewManager(cfgPath)
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}

	svc, err := New(Options{Manager: mgr, Logger: logx.Nop(), Provider: provider})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("daemon run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	waitFor(t, 2*time.Second, func() bool {
		resp, err := roundTrip(socket, &ipc.Request{Version: ipc.ProtocolVersion, Op: ipc.OpPing})
		return err == nil && resp.Status == ipc.StateRunning.String()
	})
	return socket, svc
}

func roundTrip(socket string, req *ipc.Request) (*ipc.Response, error) {
	conn, err := net.DialTimeout("unix", socket, 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	if err := ipc.WriteFrame(conn, req); err != nil {
		return nil, err
	}
	return ipc.ReadResponse(conn)
}

func notify(t *testing.T, socket, text, priority, category string) *ipc.Response {
	t.Helper()
	p, err := ipc.ParsePriority(priority)
	if err != nil {
		t.Fatalf("parse priority: %v", err)
	}
	resp, err := roundTrip(socket, &ipc.Request{
		Version:  ipc.ProtocolVersion,
		Op:       ipc.OpNotify,
		Text:     text,
		Priority: p,
		Category: category,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	return resp
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// gateProvider blocks each playback until released, recording texts in play
// order.
type gateProvider struct {
	mu      sync.Mutex
	played  []string
	gate    chan struct{}
	started chan string
}

func newGateProvider() *gateProvider {
	return &gateProvider{gate: make(chan struct{}), started: make(chan string, 16)}
}

func (p *gateProvider) Play(ctx context.Context, text, hint string) error {
	p.mu.Lock()
	p.played = append(p.played, text)
	p.mu.Unlock()
	p.started <- text
	select {
	case <-p.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *gateProvider) release() { p.gate <- struct{}{} }

func (p *gateProvider) order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

const unlimitedYAML = "rate_limit:\n  default_window: 0s\n  windows:\n    general: 0s\n"

func TestDispatchOrderFollowsPriority(t *testing.T) {
	provider := newGateProvider()
	socket, _ := startDaemon(t, provider, unlimitedYAML)

	// First entry occupies the consumer so the rest queue up behind it.
	if resp := notify(t, socket, "first", "medium", ""); resp.Status != ipc.StatusAccepted {
		t.Fatalf("first: %+v", resp)
	}
	<-provider.started

	notify(t, socket, "low", "low", "")
	notify(t, socket, "critical", "critical", "")
	notify(t, socket, "high", "high", "")

	for i := 0; i < 4; i++ {
		provider.release()
		if i < 3 {
			<-provider.started
		}
	}

	waitFor(t, 2*time.Second, func() bool { return len(provider.order()) == 4 })
	got := provider.order()
	want := []string{"first", "critical", "high", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("play order = %v, want %v", got, want)
		}
	}
}

func TestAcceptAssignsIDAndSequence(t *testing.T) {
	provider := playback.ProviderFunc(func(ctx context.Context, text, hint string) error { return nil })
	socket, _ := startDaemon(t, provider, unlimitedYAML)

	r1 := notify(t, socket, "one", "medium", "")
	r2 := notify(t, socket, "two", "medium", "")
	if r1.Status != ipc.StatusAccepted || r2.Status != ipc.StatusAccepted {
		t.Fatalf("statuses: %q %q", r1.Status, r2.Status)
	}
	if r1.ID == "" || r2.ID == "" || r1.ID == r2.ID {
		t.Fatalf("ids: %q %q", r1.ID, r2.ID)
	}
	if r2.Sequence <= r1.Sequence {
		t.Fatalf("sequence not increasing: %d then %d", r1.Sequence, r2.Sequence)
	}
}

func TestRejectsInvalidFrames(t *testing.T) {
	provider := playback.ProviderFunc(func(ctx context.Context, text, hint string) error { return nil })
	socket, _ := startDaemon(t, provider, "")

	cases := []struct {
		name string
		req  ipc.Request
		want string
	}{
		{"bad version", ipc.Request{Version: 99, Op: ipc.OpNotify, Text: "x"}, ipc.ReasonBadVersion},
		{"unknown op", ipc.Request{Version: ipc.ProtocolVersion, Op: "bogus"}, ipc.ReasonBadOp},
		{"empty text", ipc.Request{Version: ipc.ProtocolVersion, Op: ipc.OpNotify, Text: "   "}, ipc.ReasonEmptyText},
	}
	for _, tc := range cases {
		resp, err := roundTrip(socket, &tc.req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if resp.Status != ipc.StatusRejected || resp.Reason != tc.want {
			t.Fatalf("%s: got %+v, want reason %q", tc.name, resp, tc.want)
		}
	}
}

func TestRejectsMalformedJSON(t *testing.T) {
	provider := playback.ProviderFunc(func(ctx context.Context, text, hint string) error { return nil })
	socket, _ := startDaemon(t, provider, "")

	conn, err := net.DialTimeout("unix", socket, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	if _, err := conn.Write([]byte("{not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := ipc.ReadResponse(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Status != ipc.StatusRejected {
		t.Fatalf("status = %q, want rejected", resp.Status)
	}
}

func TestRateLimitedEntryIsDropped(t *testing.T) {
	var mu sync.Mutex
	var played int
	provider := playback.ProviderFunc(func(ctx context.Context, text, hint string) error {
		mu.Lock()
		played++
		mu.Unlock()
		return nil
	})
	socket, _ := startDaemon(t, provider, "rate_limit:\n  windows:\n    general: 1h\n")

	notify(t, socket, "one", "medium", "general")
	notify(t, socket, "two", "medium", "general")

	waitFor(t, 2*time.Second, func() bool {
		resp, err := roundTrip(socket, &ipc.Request{Version: ipc.ProtocolVersion, Op: ipc.OpPing})
		if err != nil || resp.Stats == nil {
			return false
		}
		return resp.Stats.Counters["played"] == 1 && resp.Stats.Counters["rate_limited"] == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if played != 1 {
		t.Fatalf("played = %d, want 1", played)
	}
}

func TestInterruptPreemptsPlayback(t *testing.T) {
	provider := newGateProvider()
	socket, _ := startDaemon(t, provider, unlimitedYAML)

	notify(t, socket, "long", "medium", "")
	<-provider.started

	notify(t, socket, "urgent", "interrupt", "")
	// The in-flight play is canceled via context, not the gate.
	<-provider.started

	provider.release()
	waitFor(t, 2*time.Second, func() bool {
		got := provider.order()
		return len(got) == 2 && got[1] == "urgent"
	})
}

func TestShutdownDrains(t *testing.T) {
	provider := playback.ProviderFunc(func(ctx context.Context, text, hint string) error { return nil })
	socket, svc := startDaemon(t, provider, unlimitedYAML)

	resp, err := roundTrip(socket, &ipc.Request{Version: ipc.ProtocolVersion, Op: ipc.OpShutdown})
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if resp.Status != ipc.StatusStopping {
		t.Fatalf("status = %q, want stopping", resp.Status)
	}

	waitFor(t, 3*time.Second, func() bool { return svc.State() == ipc.StateStopped })
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Fatalf("socket not removed: %v", err)
	}
}

func TestPlaybackNeverOverlaps(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	var played atomic.Int32
	provider := playback.ProviderFunc(func(ctx context.Context, text, hint string) error {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		played.Add(1)
		return nil
	})
	socket, _ := startDaemon(t, provider, unlimitedYAML)

	const producers = 4
	const perProducer = 6
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				resp, err := roundTrip(socket, &ipc.Request{
					Version:  ipc.ProtocolVersion,
					Op:       ipc.OpNotify,
					Text:     fmt.Sprintf("msg %d-%d", p, i),
					Priority: ipc.PriorityMedium,
				})
				if err != nil || resp.Status != ipc.StatusAccepted {
					t.Errorf("notify %d-%d: %v %+v", p, i, err, resp)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool { return played.Load() == producers*perProducer })
	if overlapped.Load() {
		t.Fatalf("two playbacks ran concurrently")
	}
}

func TestOverflowRejectsLessUrgentNewcomer(t *testing.T) {
	provider := newGateProvider()
	socket, _ := startDaemon(t, provider, unlimitedYAML+"queue:\n  capacity: 2\n")

	// Occupy the consumer, then fill the queue with critical work.
	notify(t, socket, "busy", "medium", "")
	<-provider.started
	for _, text := range []string{"crit-1", "crit-2"} {
		if resp := notify(t, socket, text, "critical", ""); resp.Status != ipc.StatusAccepted {
			t.Fatalf("%s: %+v", text, resp)
		}
	}

	// The full queue outranks the newcomer; it must be the one turned away.
	resp := notify(t, socket, "later", "background", "")
	if resp.Status != ipc.StatusRejected || resp.Reason != ipc.ReasonOverflow {
		t.Fatalf("resp = %+v, want overflow rejection", resp)
	}

	for i := 0; i < 3; i++ {
		provider.release()
		if i < 2 {
			<-provider.started
		}
	}
	waitFor(t, 2*time.Second, func() bool { return len(provider.order()) == 3 })
	got := provider.order()
	want := []string{"busy", "crit-1", "crit-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("play order = %v, want %v", got, want)
		}
	}
}

func TestPingReportsQueueDepth(t *testing.T) {
	provider := newGateProvider()
	socket, _ := startDaemon(t, provider, unlimitedYAML)

	notify(t, socket, "first", "medium", "")
	<-provider.started
	notify(t, socket, "second", "medium", "")
	notify(t, socket, "third", "medium", "")

	resp, err := roundTrip(socket, &ipc.Request{Version: ipc.ProtocolVersion, Op: ipc.OpPing})
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if resp.Stats == nil || resp.Stats.QueueDepth != 2 {
		t.Fatalf("stats = %+v, want queue depth 2", resp.Stats)
	}
	if resp.Stats.ActiveCategory != "general" {
		t.Fatalf("active category = %q, want general", resp.Stats.ActiveCategory)
	}

	provider.release()
	<-provider.started
	provider.release()
	<-provider.started
	provider.release()
}
