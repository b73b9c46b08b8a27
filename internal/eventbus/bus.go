package eventbus

import (
	"sync"
	"sync/atomic"
)

// Bus is an in-memory fan-out channel.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a full subscriber loses its oldest
//     buffered event, so the latest state always gets through.
//   - Unsubscribe is idempotent and closes the subscriber channel.
type Bus[T any] interface {
	Publish(v T)
	Subscribe(buffer int) (ch <-chan T, unsubscribe func())
	Len() int
}

// Stats reports delivery counters of a Mem bus.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// New returns an in-memory bus. It owns no goroutines.
func New[T any]() *Mem[T] {
	return &Mem[T]{subs: map[uint64]chan T{}}
}

// Mem is the in-memory Bus implementation.
type Mem[T any] struct {
	mu   sync.RWMutex
	subs map[uint64]chan T
	seq  uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

var _ Bus[struct{}] = (*Mem[struct{}])(nil)

// Publish delivers v to every subscriber. The read lock is held across the
// non-blocking sends so an unsubscribe can never close a channel mid-send.
func (b *Mem[T]) Publish(v T) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Mem[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *Mem[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Mem[T]) Stats() Stats {
	return Stats{
		Subscribers: b.Len(),
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
