package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loqalabs/chatsay/internal/chat"
)

// DefaultCapacity is the number of chat events the relay holds before the
// overflow policy applies.
const DefaultCapacity = 32

// ErrFull is returned by Offer under OverflowFatal when the queue is full.
var ErrFull = errors.New("relay channel full")

// ErrClosed is returned by Offer after Close.
var ErrClosed = errors.New("relay channel closed")

// Overflow selects what Offer does when the queue is full.
type Overflow string

const (
	OverflowFatal      Overflow = "fatal"
	OverflowDropOldest Overflow = "drop_oldest"
	OverflowBlock      Overflow = "block"
)

func ParseOverflow(s string) (Overflow, error) {
	switch o := Overflow(s); o {
	case OverflowFatal, OverflowDropOldest, OverflowBlock:
		return o, nil
	case "":
		return OverflowFatal, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Channel is a bounded FIFO hand-off between one producer and one consumer.
type Channel struct {
	queue    chan chat.Event
	overflow Overflow
	onDrop   func(chat.Event)

	closeOnce sync.Once
	// mu serialises Offer against Close so a send never races a close.
	mu     sync.RWMutex
	closed bool
}

type Option func(*Channel)

// WithDropHook is called with every event evicted under OverflowDropOldest.
func WithDropHook(fn func(chat.Event)) Option {
	return func(c *Channel) { c.onDrop = fn }
}

func New(capacity int, overflow Overflow, opts ...Option) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if overflow == "" {
		overflow = OverflowFatal
	}
	c := &Channel{
		queue:    make(chan chat.Event, capacity),
		overflow: overflow,
		onDrop:   func(chat.Event) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Offer enqueues evt. Under OverflowFatal and OverflowDropOldest it never
// blocks; under OverflowBlock it waits for space or ctx.
func (c *Channel) Offer(ctx context.Context, evt chat.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	select {
	case c.queue <- evt:
		return nil
	default:
	}

	switch c.overflow {
	case OverflowDropOldest:
		for {
			select {
			case dropped := <-c.queue:
				c.onDrop(dropped)
			default:
			}
			select {
			case c.queue <- evt:
				return nil
			default:
			}
		}
	case OverflowBlock:
		select {
		case c.queue <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return fmt.Errorf("%w (capacity %d)", ErrFull, cap(c.queue))
	}
}

// Receive waits for the next event. ok is false once the channel has been
// closed and drained.
func (c *Channel) Receive(ctx context.Context) (evt chat.Event, ok bool, err error) {
	select {
	case evt, ok = <-c.queue:
		return evt, ok, nil
	case <-ctx.Done():
		return chat.Event{}, false, ctx.Err()
	}
}

// Close marks the producer as finished. Queued events stay receivable.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.queue)
		c.mu.Unlock()
	})
}

func (c *Channel) Len() int { return len(c.queue) }

func (c *Channel) Cap() int { return cap(c.queue) }

func (c *Channel) Overflow() Overflow { return c.overflow }
