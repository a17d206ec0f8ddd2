// Package throttler defines the Throttler interface the consumer consults
// before dispatching each message, mirroring spirit's throttler.Throttler /
// throttler.Noop pair so a concurrency cap can be layered in without
// touching the dispatch loop itself.
package throttler

import "context"

// Throttler is consulted by the consumer after it fetches a message and
// before it dispatches it. BlockWait returns once it is safe to proceed; it
// may block indefinitely while ctx remains active.
type Throttler interface {
	Open() error
	Close() error
	BlockWait(ctx context.Context) error
}

// Noop never blocks and imposes no concurrency limit.
type Noop struct{}

func (n *Noop) Open() error                        { return nil }
func (n *Noop) Close() error                       { return nil }
func (n *Noop) BlockWait(ctx context.Context) error { return nil }

// Concurrency caps the number of in-flight messages using a buffered
// channel as a semaphore. The consumer sizes one to its worker count, so
// this cap is the consumer's fan-out limit.
type Concurrency struct {
	slots chan struct{}
}

// NewConcurrency returns a Throttler that allows at most max concurrent
// holders between BlockWait and the caller's own release of its slot via
// Release.
func NewConcurrency(max int) *Concurrency {
	return &Concurrency{slots: make(chan struct{}, max)}
}

func (c *Concurrency) Open() error  { return nil }
func (c *Concurrency) Close() error { return nil }

// BlockWait acquires a slot, blocking until one is free or ctx is done.
// The caller must call Release when the work is complete.
func (c *Concurrency) BlockWait(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot acquired by BlockWait.
func (c *Concurrency) Release() {
	<-c.slots
}
