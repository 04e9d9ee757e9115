package stream

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned to the producer after the consumer called Close.
	ErrClosed = errors.New("stream: consumer closed")

	// ErrTerminated is returned for any Send after a terminal event.
	ErrTerminated = errors.New("stream: terminal event already sent")
)

// Channel is an ordered single-producer single-consumer event relay.
//
// The producer calls Send for each event and Finish when it is done; a
// terminal event (error or complete) finishes the channel by itself. The
// consumer calls Next until it reports false, and Close to cancel. Send and
// Finish must only be called from the producing goroutine.
type Channel struct {
	events chan Event
	done   chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once

	mu         sync.Mutex
	terminated bool
}

// NewChannel creates an unbuffered channel, so the producer runs at most one
// event ahead of the consumer.
func NewChannel() *Channel {
	return &Channel{
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

// Send delivers ev to the consumer, blocking until it is received.
func (c *Channel) Send(ctx context.Context, ev Event) error {
	terminal := IsTerminal(ev)

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return ErrTerminated
	}
	if terminal {
		c.terminated = true
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.events <- ev:
		if terminal {
			c.Finish()
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminated reports whether a terminal event has been sent.
func (c *Channel) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Finish ends the stream. It is safe to call more than once.
func (c *Channel) Finish() {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.terminated = true
		c.mu.Unlock()
		close(c.events)
	})
}

// Next blocks for the next event. It returns false once the stream has
// finished or ctx is done.
func (c *Channel) Next(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-c.events:
		return ev, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Close cancels the stream from the consumer side.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed when the consumer calls Close.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Bind returns a context that is cancelled when parent is done or the
// consumer closes the channel.
func (c *Channel) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Drain reads every remaining event. It is meant for callers that want the
// whole run at once, such as the CLI and tests.
func Drain(ctx context.Context, c *Channel) []Event {
	var out []Event
	for {
		ev, ok := c.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}
