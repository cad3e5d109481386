package eventbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Bus is the in-process event fan-out.
//
// Each subscriber owns an independent buffered channel, so a slow or
// disconnected subscriber never blocks publishers or affects task execution.
type Bus struct {
	bufferSize int
	logger     *zap.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize overrides the per-subscriber buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLogger attaches a logger used for drop diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		bufferSize: DefaultBufferSize,
		logger:     zap.NewNop(),
		subs:       make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	id  uint64
	bus *Bus

	// mu serializes send/drop against this subscription's channel so the
	// drop-oldest swap cannot interleave with another publisher and break
	// per-subject ordering.
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// C returns the receive channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new subscriber. Subscriptions created after Close
// receive an already-closed channel.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan Event, b.bufferSize),
	}
	if b.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	if !sub.closed {
		close(sub.ch)
		sub.closed = true
	}
	sub.mu.Unlock()
}

// Publish fans the event out to all current subscribers without blocking.
//
// When a subscriber's buffer is full, its oldest buffered event is discarded
// to admit the new one (drop-oldest overflow policy).
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	b.published.Add(1)

	for _, sub := range subs {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Buffer full: evict the oldest event, then admit the new one.
			select {
			case old := <-sub.ch:
				b.dropped.Add(1)
				b.logger.Debug("event dropped for slow subscriber",
					zap.String("dropped_event_id", old.ID),
					zap.String("subject_id", old.SubjectID))
			default:
			}
			select {
			case sub.ch <- e:
			default:
			}
		}
		sub.mu.Unlock()
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if !sub.closed {
			close(sub.ch)
			sub.closed = true
		}
		sub.mu.Unlock()
	}
}

// Stats reports publish and drop counters since startup.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}
