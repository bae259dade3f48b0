package event

import (
	"context"
	"sync"
	"time"
)

// Notifier is the contract every store backend implements for waking
// workers.
type Notifier interface {
	// Publish wakes every subscriber of queue.
	Publish(ctx context.Context, queue string) error

	// Subscribe registers interest in queue until the subscription is
	// closed.
	Subscribe(ctx context.Context, queue string) (*Subscription, error)
}

// Subscription receives coalesced wake-ups for one queue.
type Subscription struct {
	queue  string
	c      chan struct{}
	once   sync.Once
	cancel func()
}

// NewSubscription creates a subscription. cancel runs once on Close.
func NewSubscription(queue string, cancel func()) *Subscription {
	return &Subscription{queue: queue, c: make(chan struct{}, 1), cancel: cancel}
}

// Queue returns the subscribed queue.
func (s *Subscription) Queue() string { return s.queue }

// C returns the wake-up channel.
func (s *Subscription) C() <-chan struct{} { return s.c }

// Notify records a wake-up without blocking.
func (s *Subscription) Notify() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// Close unregisters the subscription.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}

// Bus wraps a Notifier with a blocking wait.
type Bus struct {
	notifier Notifier
}

// NewBus creates a bus over the given notifier.
func NewBus(n Notifier) *Bus {
	return &Bus{notifier: n}
}

// Publish wakes the subscribers of queue.
func (b *Bus) Publish(ctx context.Context, queue string) error {
	return b.notifier.Publish(ctx, queue)
}

// Subscribe registers interest in queue.
func (b *Bus) Subscribe(ctx context.Context, queue string) (*Subscription, error) {
	return b.notifier.Subscribe(ctx, queue)
}

// Wait blocks until sub is notified, the timeout elapses or ctx is done.
// It returns true on a wake-up and false on timeout.
func (b *Bus) Wait(ctx context.Context, sub *Subscription, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sub.C():
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Notifier returns the underlying notifier.
func (b *Bus) Notifier() Notifier { return b.notifier }
