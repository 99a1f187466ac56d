package bus

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bus is an in-process publish/subscribe event bus. Subscribers select events
// by kind prefix, e.g. "transport." receives every transport event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	closed bool
	logger *zap.Logger
}

type subscription struct {
	prefix string
	ch     chan Event
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger logs events dropped because a subscriber's buffer was full.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		b.logger = logger.Named("bus")
	}
}

// New creates a new event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[int]*subscription),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Delivery never blocks: a subscriber with a full buffer misses the event.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
				b.logger.Debug("event dropped, subscriber buffer full",
					zap.String("kind", evt.Kind), zap.String("prefix", sub.prefix), zap.Int("buffer", cap(sub.ch)))
			}
		}
	}
}

// Emit is shorthand for publishing a payload under kind with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel receiving events whose kind starts with prefix,
// and the function that removes the subscription. The unsubscribe function
// closes the channel and is safe to call more than once.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Close drops every subscription and closes their channels. Publishing after
// Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Listen subscribes to a single event kind and yields its payloads as T.
// Events of that kind carrying a different payload type are skipped. The
// returned stream ends when the unsubscribe function is called.
func Listen[T any](b *Bus, kind string, bufSize int) (<-chan T, func()) {
	raw, unsub := b.Subscribe(kind, bufSize)
	out := make(chan T, bufSize)
	go func() {
		defer close(out)
		for evt := range raw {
			if evt.Kind != kind {
				continue
			}
			v, ok := evt.Payload.(T)
			if !ok {
				continue
			}
			select {
			case out <- v:
			default:
			}
		}
	}()
	return out, unsub
}
