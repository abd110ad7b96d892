package daemon

import (
	"context"
	"time"

	"notifyd/internal/journal"
	"notifyd/internal/playback"
	"notifyd/internal/queue"
	logx "notifyd/pkg/logx"
)

// consume is the single dispatch loop. All playback flows through here, so
// at most one notification is audible at a time.
func (s *Service) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.drainCh:
			// Current playback (if any) already finished; whatever is still
			// queued is discarded by the shutdown path.
			return
		default:
		}

		e := s.next()
		if e == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.drainCh:
				return
			case <-s.wake:
			}
			continue
		}
		s.dispatch(ctx, e)
	}
}

// next pops the highest-priority entry, counting TTL-expired entries it
// skips over.
func (s *Service) next() *queue.Entry {
	now := time.Now()
	s.mu.Lock()
	e, expired := s.queue.Pop(now)
	s.mu.Unlock()

	for _, ex := range expired {
		s.recordOutcome(journal.Outcome{
			At:       now,
			ID:       ex.ID,
			Source:   ex.Source,
			Category: ex.Category,
			Priority: ex.Priority.String(),
			Outcome:  journal.OutcomeExpired,
			Reason:   "ttl elapsed",
		})
		s.log.Debug("entry expired unplayed",
			logx.String("id", ex.ID),
			logx.Duration("waited", now.Sub(ex.EnqueuedAt)),
		)
	}
	return e
}

func (s *Service) dispatch(ctx context.Context, e *queue.Entry) {
	now := time.Now()

	// Rate limiting happens here, at dispatch, so a throttled entry never
	// blocks a later higher-priority one and drops consume no window.
	if !s.limiter.Allow(e.Category, now) {
		s.recordOutcome(journal.Outcome{
			At:       now,
			ID:       e.ID,
			Source:   e.Source,
			Category: e.Category,
			Priority: e.Priority.String(),
			Outcome:  journal.OutcomeRateLimited,
			Reason:   "category window",
		})
		s.log.Info("rate limited",
			logx.String("id", e.ID),
			logx.String("category", e.Category),
			logx.Duration("window", s.limiter.Window(e.Category)),
		)
		return
	}

	s.speakerMu.Lock()
	speaker := s.speakerName
	hint := s.voiceHint
	s.speakerMu.Unlock()

	payload, err := s.cache.GetOrCompute(e.Text, hint, now, func() (string, error) {
		return resolvePayload(speaker, e.Text), nil
	})
	if err != nil {
		payload = e.Text
	}

	s.activeCategory.Store(e.Category)
	start := time.Now()
	result, playErr := s.exec.Play(ctx, e.Sequence, payload, hint)
	took := time.Since(start)
	s.activeCategory.Store("")

	o := journal.Outcome{
		At:       start,
		ID:       e.ID,
		Source:   e.Source,
		Category: e.Category,
		Priority: e.Priority.String(),
		TookMS:   took.Milliseconds(),
	}
	switch result {
	case playback.ResultCompleted:
		o.Outcome = journal.OutcomePlayed
	case playback.ResultTimedOut:
		o.Outcome = journal.OutcomeTimedOut
	case playback.ResultCanceled:
		o.Outcome = journal.OutcomeCanceled
		o.Reason = "preempted"
	default:
		o.Outcome = journal.OutcomeFailed
		if playErr != nil {
			o.Reason = playErr.Error()
		}
	}
	s.recordOutcome(o)
}

// resolvePayload personalizes the spoken text. Kept trivial on purpose; the
// cache in front of it is what matters for repeated notifications.
func resolvePayload(speaker, text string) string {
	if speaker == "" {
		return text
	}
	return speaker + ", " + text
}
