// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package interrupt coordinates cooperative shutdown of a download batch.
//
// A Controller has three phases. Running: workers claim and process items.
// Stopping: Request was called, workers stop claiming but running transfers
// continue. Aborted: the grace period elapsed (or AbortNow was called) and
// transfer contexts are cancelled. The controller is passed explicitly, so
// tests drive it without process signals.
package interrupt

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Controller is the shared cancellation flag. It is safe for concurrent use
// and every method is idempotent.
type Controller struct {
	grace time.Duration
	log   zerolog.Logger

	stopOnce  sync.Once
	abortOnce sync.Once
	stopping  chan struct{}
	aborted   chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// New returns a controller whose transfers get grace to finish after a
// stop request.
func New(grace time.Duration, log zerolog.Logger) *Controller {
	return &Controller{
		grace:    grace,
		log:      log,
		stopping: make(chan struct{}),
		aborted:  make(chan struct{}),
	}
}

// Request asks the batch to stop: no new items are claimed and the grace
// period starts.
func (c *Controller) Request() {
	first := false
	c.stopOnce.Do(func() {
		close(c.stopping)
		first = true
	})
	if !first {
		return
	}
	if c.grace <= 0 {
		c.AbortNow()
		return
	}

	c.log.Info().Dur("grace_period", c.grace).Msg("stop requested, draining running transfers")
	c.mu.Lock()
	if !c.Aborted() {
		c.timer = time.AfterFunc(c.grace, c.AbortNow)
	}
	c.mu.Unlock()
}

// AbortNow cancels running transfers immediately. It implies Request.
func (c *Controller) AbortNow() {
	c.stopOnce.Do(func() { close(c.stopping) })
	c.abortOnce.Do(func() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.mu.Unlock()
		c.log.Warn().Msg("aborting running transfers")
		close(c.aborted)
	})
}

// Stopping reports whether a stop was requested.
func (c *Controller) Stopping() bool {
	select {
	case <-c.stopping:
		return true
	default:
		return false
	}
}

// Done is closed when a stop is requested.
func (c *Controller) Done() <-chan struct{} { return c.stopping }

// Abort is closed when running transfers must be cancelled.
func (c *Controller) Abort() <-chan struct{} { return c.aborted }

// Aborted reports whether the grace period is over.
func (c *Controller) Aborted() bool {
	select {
	case <-c.aborted:
		return true
	default:
		return false
	}
}

// TransferContext derives a context from parent that is also cancelled on
// abort. A stop request alone does not cancel it.
func (c *Controller) TransferContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.aborted:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// NotifySignals binds OS signals to the controller: the first signal
// requests a stop, a second aborts immediately. Cancelling ctx or calling
// the returned function unbinds them.
func (c *Controller) NotifySignals(ctx context.Context, sigs ...os.Signal) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, sigs...)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		count := 0
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				count++
				c.log.Info().Str("signal", sig.String()).Int("count", count).Msg("received signal")
				if count == 1 {
					c.Request()
				} else {
					c.AbortNow()
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		cancel()
	}
}
