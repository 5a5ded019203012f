// Package eventbus provides a small generic pub/sub used to fan pool
// lifecycle events out to observers (stats, logging, tests). Publishing never
// blocks: subscribers that fall behind drop events and the drop is counted.
package eventbus

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

const DefaultBufferSize = 100

// Bus delivers events of type T to any number of subscribers
type Bus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	subscriberSeq atomic.Uint64
	bufferSize    int
	isShutdown    atomic.Bool
}

type subscriber[T any] struct {
	ch         chan T
	id         string
	lastActive atomic.Int64
	dropped    atomic.Uint64
	isActive   atomic.Bool
}

// New creates a Bus with the default per-subscriber buffer
func New[T any]() *Bus[T] {
	return NewWithBuffer[T](DefaultBufferSize)
}

// NewWithBuffer creates a Bus whose subscriber channels hold up to bufferSize
// undelivered events
func NewWithBuffer[T any](bufferSize int) *Bus[T] {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel that receives events and a cleanup function.
// Cancelling ctx unsubscribes as well.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if b.isShutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub_" + strconv.FormatUint(b.subscriberSeq.Add(1), 10)
	sub := &subscriber[T]{
		id: id,
		ch: make(chan T, b.bufferSize),
	}
	sub.lastActive.Store(time.Now().UnixNano())
	sub.isActive.Store(true)

	b.subscribers.Store(id, sub)

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return sub.ch, func() { b.unsubscribe(id) }
}

// Publish delivers the event to every active subscriber without blocking and
// returns the delivery count
func (b *Bus[T]) Publish(event T) int {
	if b.isShutdown.Load() {
		return 0
	}

	delivered := 0
	now := time.Now().UnixNano()

	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() {
			return true
		}
		select {
		case sub.ch <- event:
			sub.lastActive.Store(now)
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})

	return delivered
}

// Shutdown stops the bus. Subscriber channels are abandoned rather than
// closed so in-flight publishes cannot panic.
func (b *Bus[T]) Shutdown() {
	if !b.isShutdown.CompareAndSwap(false, true) {
		return
	}

	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		sub.isActive.Store(false)
		return true
	})
	b.subscribers.Clear()
}

// Stats provides aggregate bus metrics
type Stats struct {
	Subscribers  int
	TotalDropped uint64
	IsShutdown   bool
}

func (b *Bus[T]) Stats() Stats {
	stats := Stats{IsShutdown: b.isShutdown.Load()}
	if stats.IsShutdown {
		return stats
	}

	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		stats.Subscribers++
		stats.TotalDropped += sub.dropped.Load()
		return true
	})

	return stats
}

func (b *Bus[T]) unsubscribe(id string) {
	if sub, exists := b.subscribers.Load(id); exists {
		// Mark inactive first so no new sends find it, then drop the map
		// entry; the channel is left for GC to avoid send-on-closed panics
		sub.isActive.Store(false)
		b.subscribers.Delete(id)
	}
}
