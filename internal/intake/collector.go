package intake

import (
	"context"
	"errors"
	"sync"
	"time"

	"intake-engine/internal/transport"
)

var (
	// ErrAwaitTimeout is the expected outcome of a reply wait whose deadline
	// elapsed. Callers decide what to do with it; it is not a system error.
	ErrAwaitTimeout = errors.New("await reply: deadline elapsed")

	// ErrCollectorActive guards the one-collector-per-channel invariant. Two
	// live collectors on one channel could consume the same reply.
	ErrCollectorActive = errors.New("a reply collector is already active on this channel")

	// ErrCollectorCancelled is returned when the wait was cancelled before a
	// reply arrived.
	ErrCollectorCancelled = errors.New("reply collector cancelled")

	// ErrChannelGone is returned when the underlying subscription closed,
	// which means the channel was removed or became unusable.
	ErrChannelGone = errors.New("channel subscription closed")
)

// Collectors creates reply collectors and enforces that at most one is live
// per channel at any time.
type Collectors struct {
	conv   transport.Conversation
	mu     sync.Mutex
	active map[string]*Reply
}

func NewCollectors(conv transport.Conversation) *Collectors {
	return &Collectors{
		conv:   conv,
		active: make(map[string]*Reply),
	}
}

// Collect starts a one-shot wait for the next message in channelID authored
// by authorID. The returned Reply resolves exactly once: with the message,
// with ErrAwaitTimeout after deadline, or with a cancellation error. The
// subscription is released on every outcome.
func (c *Collectors) Collect(channelID, authorID string, deadline time.Duration) (*Reply, error) {
	c.mu.Lock()
	if _, busy := c.active[channelID]; busy {
		c.mu.Unlock()
		return nil, ErrCollectorActive
	}

	sub, err := c.conv.SubscribeMessages(channelID, func(m transport.Message) bool {
		return m.AuthorID == authorID
	})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	r := &Reply{
		sub:      sub,
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
		release: func() {
			c.mu.Lock()
			delete(c.active, channelID)
			c.mu.Unlock()
		},
	}
	c.active[channelID] = r
	c.mu.Unlock()

	go r.run(deadline)
	return r, nil
}

// ActiveCount reports live collectors, for diagnostics.
func (c *Collectors) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Reply is a one-shot handle on a pending reply wait.
type Reply struct {
	sub      transport.Subscription
	done     chan struct{}
	cancelCh chan struct{}

	resolveOnce sync.Once
	cancelOnce  sync.Once
	release     func()

	msg transport.Message
	err error
}

func (r *Reply) run(deadline time.Duration) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case m, ok := <-r.sub.Messages():
		if !ok {
			r.resolve(transport.Message{}, ErrChannelGone)
			return
		}
		r.resolve(m, nil)
	case <-timer.C:
		r.resolve(transport.Message{}, ErrAwaitTimeout)
	case <-r.cancelCh:
		r.resolve(transport.Message{}, ErrCollectorCancelled)
	}
}

func (r *Reply) resolve(msg transport.Message, err error) {
	r.resolveOnce.Do(func() {
		r.msg = msg
		r.err = err
		r.sub.Cancel()
		r.release()
		close(r.done)
	})
}

// Wait blocks until the collector resolves or ctx ends. A ctx end cancels
// the collector before returning.
func (r *Reply) Wait(ctx context.Context) (transport.Message, error) {
	select {
	case <-r.done:
		return r.msg, r.err
	case <-ctx.Done():
		r.Cancel()
		<-r.done
		return transport.Message{}, ctx.Err()
	}
}

// Cancel stops the wait. Idempotent; safe to call after resolution.
func (r *Reply) Cancel() {
	r.cancelOnce.Do(func() {
		close(r.cancelCh)
	})
}
