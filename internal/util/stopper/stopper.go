// Package stopper provides cooperative goroutine lifecycle management.
//
// A stopper.Context wraps a context.Context and tracks every goroutine
// started through Go. Calling Stop begins a graceful shutdown: the
// Stopping channel closes immediately so goroutines can finish
// in-flight work, and the context itself is canceled only once every
// tracked goroutine has returned or the given grace period elapses.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Context decorates a context.Context with graceful-shutdown
// bookkeeping. The zero value is not usable; construct one with
// WithContext.
type Context struct {
	context.Context

	cancel context.CancelFunc

	mu struct {
		sync.Mutex
		err     error
		stopped bool
	}

	stopping chan struct{}
	wg       sync.WaitGroup
}

// WithContext returns a new Context whose lifetime is bound to parent.
// Canceling parent has the same effect as calling Stop(0).
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	ret := &Context{
		Context:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
	go func() {
		<-parent.Done()
		ret.Stop(0)
	}()
	return ret
}

// Go starts fn in a new goroutine tracked by the Context. If fn
// returns a non-nil error, it is recorded and will be returned by
// Stop; the first error wins.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.mu.err == nil {
				c.mu.err = err
			}
			c.mu.Unlock()
		}
	}()
}

// Stopping returns a channel that is closed once Stop has been
// called. Long-running loops should select on this channel to begin
// winding down.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Stop requests a graceful shutdown. It blocks until every goroutine
// started via Go has returned, or until timeout elapses (a timeout of
// zero means wait forever). The underlying context is canceled once
// all goroutines have exited or the timeout fires, whichever is
// first. It is safe to call Stop more than once.
func (c *Context) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if c.mu.stopped {
		c.mu.Unlock()
		c.cancel()
		return c.mu.err
	}
	c.mu.stopped = true
	c.mu.Unlock()

	close(c.stopping)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(timeout):
		}
	}

	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.err
}

// Err mirrors context.Context.Err, returning the reason the Context's
// underlying context was canceled, if any.
func (c *Context) Err() error {
	if err := c.Context.Err(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
