// Package eventbus fans playback outcomes out of the dispatch loop to
// slower observers (the journal recorder, tests). The loop must never wait
// on an observer, so delivery is lossy by contract.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// Bus is an in-memory fanout of values of one event type.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers use buffered channels; a full buffer drops the event.
//
// The daemon publishes journal outcomes through it; tests subscribe to
// observe dispatch without polling.
type Bus[T any] interface {
	Publish(v T)
	Subscribe(buffer int) (ch <-chan T, unsubscribe func())
}

// New returns a bus with no background goroutines; fanout happens on the
// publisher's goroutine.
func New[T any]() Bus[T] {
	return &memBus[T]{subs: map[uint64]chan T{}}
}

type memBus[T any] struct {
	mu   sync.RWMutex
	subs map[uint64]chan T
	seq  atomic.Uint64
}

func (b *memBus[T]) Publish(v T) {
	// Snapshot subscribers so the sends happen outside the lock.
	b.mu.RLock()
	chs := make([]chan T, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close the channel between snapshot
		// and send; the recover absorbs that instead of taking the
		// publisher down.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- v:
			default:
			}
		}()
	}
}

func (b *memBus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Safe because Publish recovers from send-on-closed.
			close(ch)
		})
	}
	return ch, unsub
}
