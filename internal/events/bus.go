// Package events fans room notifications out to in-process subscribers.
package events

import (
	"context"
	"sync"

	"github.com/and161185/sharevault/internal/model"
	"go.uber.org/zap"
)

// Publisher is what mutating services depend on.
type Publisher interface {
	Publish(ctx context.Context, ev model.RoomEvent) error
}

// Bus delivers every published event to each live subscription in
// registration order. Publish returns once every subscriber has accepted
// the event.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs []*Subscription
}

// NewBus constructs an empty bus. A nil logger is replaced by zap.NewNop.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// Subscription is one registered receiver: a channel or a callback.
type Subscription struct {
	bus *Bus
	ch  chan model.RoomEvent
	fn  func(model.RoomEvent)

	done chan struct{}
	once sync.Once

	// held for reading while a send is in flight; Close takes it for
	// writing before closing ch.
	sendMu sync.RWMutex
	closed bool
}

// C returns the receive channel; nil for callback subscriptions.
// It is closed by Unsubscribe.
func (s *Subscription) C() <-chan model.RoomEvent { return s.ch }

// Done is closed once the subscription is removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close is shorthand for Bus.Unsubscribe.
func (s *Subscription) Close() { s.bus.Unsubscribe(s) }

// Subscribe registers a channel subscription with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	s := &Subscription{bus: b, ch: make(chan model.RoomEvent, buffer), done: make(chan struct{})}
	b.add(s)
	return s
}

// SubscribeFunc registers fn to be called inline by Publish.
func (b *Bus) SubscribeFunc(fn func(model.RoomEvent)) *Subscription {
	s := &Subscription{bus: b, fn: fn, done: make(chan struct{})}
	b.add(s)
	return s
}

func (b *Bus) add(s *Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(s *Subscription) {
	s.once.Do(func() {
		b.mu.Lock()
		for i, x := range b.subs {
			if x == s {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()

		close(s.done)
		s.sendMu.Lock()
		s.closed = true
		if s.ch != nil {
			close(s.ch)
		}
		s.sendMu.Unlock()
	})
}

// Close removes every subscription.
func (b *Bus) Close() {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subs...)
	b.mu.RUnlock()
	for _, s := range subs {
		b.Unsubscribe(s)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to each subscription in order. It blocks on full
// channels and returns ctx.Err() if the context ends first; subscribers
// after the blocked one do not receive the event.
func (b *Bus) Publish(ctx context.Context, ev model.RoomEvent) error {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.deliver(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscription) deliver(ctx context.Context, ev model.RoomEvent) error {
	if s.fn != nil {
		s.call(ev)
		return nil
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- ev:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscription) call(ev model.RoomEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.log.Error("event handler panic",
				zap.Any("panic", r),
				zap.String("type", string(ev.Type)),
				zap.String("room_id", ev.RoomID.String()))
		}
	}()
	select {
	case <-s.done:
		return
	default:
	}
	s.fn(ev)
}
