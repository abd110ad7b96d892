package journal

import (
	"context"
	"time"

	"notifyd/internal/eventbus"
	logx "notifyd/pkg/logx"
)

// Recorder drains outcomes off the bus and appends them to the store. It
// exists so playback never blocks on disk I/O.
type Recorder struct {
	store Store
	log   logx.Logger
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Run consumes outcomes until ctx is canceled. Intended to run under the
// supervisor. A nil store makes Run a no-op that still drains its
// subscription.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus[Outcome]) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-ch:
			if !ok {
				return nil
			}
			if r.store == nil {
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			if err := r.store.AppendOutcome(wctx, o); err != nil {
				r.log.Warn("journal append failed", logx.Err(err))
			}
			cancel()
		}
	}
}
