package daemon

import (
	"context"
	"errors"
	"net"
	"time"

	"notifyd/internal/ipc"
	"notifyd/internal/journal"
	"notifyd/internal/queue"
	logx "notifyd/pkg/logx"

	"github.com/oklog/ulid/v2"
)

// connDeadline bounds a whole request/response exchange. Producers are local
// and send one small frame; anything slower is stuck.
const connDeadline = 2 * time.Second

func (s *Service) accept(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			// Accept errors on unix sockets are rare; brief pause avoids a
			// tight error loop.
			s.log.Warn("accept failed", logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	req, err := ipc.ReadRequest(conn)
	if err != nil {
		s.bumpCounter("rejected")
		_ = ipc.WriteFrame(conn, &ipc.Response{
			Status: ipc.StatusRejected,
			Reason: "malformed frame: " + err.Error(),
		})
		return
	}
	resp := s.handleRequest(req)
	if err := ipc.WriteFrame(conn, resp); err != nil {
		s.log.Debug("response write failed", logx.Err(err))
	}
}

func (s *Service) handleRequest(req *ipc.Request) *ipc.Response {
	if reason := req.Validate(); reason != "" {
		s.bumpCounter("rejected")
		return &ipc.Response{Status: ipc.StatusRejected, Reason: reason}
	}

	switch req.Op {
	case ipc.OpPing:
		// Ping answers in every state so status checks work mid-drain.
		return &ipc.Response{Status: s.State().String(), Stats: s.stats()}

	case ipc.OpShutdown:
		s.Shutdown()
		return &ipc.Response{Status: ipc.StatusStopping}

	case ipc.OpNotify:
		return s.acceptNotify(req)

	default:
		s.bumpCounter("rejected")
		return &ipc.Response{Status: ipc.StatusRejected, Reason: ipc.ReasonBadOp}
	}
}

// acceptNotify admits one notification: id + sequence assignment and the
// queue push happen under one lock so ordering is total.
func (s *Service) acceptNotify(req *ipc.Request) *ipc.Response {
	if s.State() != ipc.StateRunning {
		s.bumpCounter("rejected")
		return &ipc.Response{Status: ipc.StatusRejected, Reason: ipc.ReasonDraining}
	}

	now := time.Now()

	s.mu.Lock()
	s.seq++
	e := &queue.Entry{
		ID:         ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		Text:       req.Text,
		Priority:   req.Priority,
		Category:   req.NormalizedCategory(),
		Source:     req.Source,
		CreatedAt:  now,
		Sequence:   s.seq,
		EnqueuedAt: now,
	}
	if s.ttl > 0 {
		e.ExpiresAt = now.Add(s.ttl)
	}
	evicted, err := s.queue.Push(e)
	s.mu.Unlock()

	if err != nil {
		s.bumpCounter("rejected")
		return &ipc.Response{Status: ipc.StatusRejected, Reason: err.Error()}
	}
	if evicted != nil {
		s.recordOutcome(journal.Outcome{
			At:       now,
			ID:       evicted.ID,
			Source:   evicted.Source,
			Category: evicted.Category,
			Priority: evicted.Priority.String(),
			Outcome:  journal.OutcomeOverflow,
			Reason:   ipc.ReasonOverflow,
		})
		s.log.Debug("queue overflow",
			logx.String("evicted", evicted.ID),
			logx.String("priority", evicted.Priority.String()),
		)
		if evicted == e {
			// The queue is full of more urgent work; the newcomer lost.
			s.bumpCounter("rejected")
			return &ipc.Response{Status: ipc.StatusRejected, Reason: ipc.ReasonOverflow}
		}
	}

	s.bumpCounter("accepted")
	s.log.Debug("notification accepted",
		logx.String("id", e.ID),
		logx.Uint64("seq", e.Sequence),
		logx.String("priority", e.Priority.String()),
		logx.String("category", e.Category),
	)

	// Interrupt tier preempts whatever is playing so it reaches the speaker
	// as soon as possible. The preempted playback is counted as canceled by
	// the consumer. The sequence bound keeps the cancel from landing on the
	// interrupt itself when the consumer dispatches it first.
	if req.Priority == ipc.PriorityInterrupt {
		if s.exec.RequestCancel(e.Sequence) {
			s.log.Debug("in-flight playback preempted", logx.String("by", e.ID))
		}
	}
	s.wakeConsumer()

	return &ipc.Response{Status: ipc.StatusAccepted, ID: e.ID, Sequence: e.Sequence}
}
