// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine drains the download queue with a pool of workers. Each
// worker claims an item, resolves it if needed, transfers it with resume
// support, and records the outcome back in the queue.
//
// The engine never decides retry policy itself: it classifies what
// happened into a types.Failure and lets the queue apply its rules.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/internal/httputil"
	"github.com/pdiddy/paperfetch/internal/interrupt"
	"github.com/pdiddy/paperfetch/internal/queue"
	"github.com/pdiddy/paperfetch/internal/resolve"
	"github.com/pdiddy/paperfetch/pkg/types"
)

// partialDir holds in-flight transfers under the output directory.
const partialDir = ".partial"

// Queue is the subset of the work queue the engine drives.
type Queue interface {
	ClaimNext(ctx context.Context) (types.QueueItem, bool, error)
	NextDue(ctx context.Context) (time.Time, bool, error)
	SetResolved(ctx context.Context, id, resolvedURL string, expectBinary bool, hint *types.NamingHint) error
	RestartProgress(ctx context.Context, id, etag string, contentLength *int64) error
	UpdateProgress(ctx context.Context, id string, bytes int64, contentLength *int64) error
	MarkCompleted(ctx context.Context, id, savedPath string, observedSize int64) error
	MarkFailed(ctx context.Context, id string, failure *types.Failure) (types.ItemStatus, error)
}

// Resolver turns an identifier into a download target.
type Resolver interface {
	Resolve(ctx context.Context, id types.Identifier, rc resolve.Context) (resolve.Outcome, error)
}

// Summary counts what happened to the items processed by one Run.
type Summary struct {
	Completed   int
	Requeued    int
	Failed      int
	Interrupted int
}

// Total returns the number of item attempts processed.
func (s Summary) Total() int {
	return s.Completed + s.Requeued + s.Failed + s.Interrupted
}

// HasFailures reports whether any item failed terminally.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// Engine runs download batches against a queue.
type Engine struct {
	queue    Queue
	resolver Resolver
	cfg      types.Config
	client   *http.Client
	namer    Namer
	login    *LoginDetector
	log      zerolog.Logger
	now      func() time.Time

	outMu sync.Mutex
	out   io.Writer
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the transfer client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithNamer replaces the default file namer.
func WithNamer(n Namer) Option {
	return func(e *Engine) { e.namer = n }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithOutput sets where per-item progress lines and the batch summary
// are printed. The default discards them.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// New builds an engine. It fails only when the login patterns in cfg do
// not compile.
func New(q Queue, r Resolver, cfg types.Config, opts ...Option) (*Engine, error) {
	login, err := NewLoginDetector(cfg.Auth)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		queue:    q,
		resolver: r,
		cfg:      cfg,
		login:    login,
		log:      zerolog.Nop(),
		now:      time.Now,
		out:      io.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = httputil.NewTransferClient(cfg.HTTP)
	}
	if e.namer == nil {
		e.namer = DefaultNamer{BinaryExtensions: cfg.Auth.BinaryExtensions}
	}
	return e, nil
}

// outcome is what one processed item contributes to the Summary.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRequeued
	outcomeFailed
	outcomeInterrupted
)

// Run processes the queue until no pending item remains or ctrl requests a
// stop. Items whose transfers are aborted stay in_progress with their
// progress recorded; ResetInProgress returns them to pending. The error is
// non-nil only for storage or filesystem faults, which stop the batch.
func (e *Engine) Run(ctx context.Context, ctrl *interrupt.Controller) (Summary, error) {
	if err := os.MkdirAll(filepath.Join(e.cfg.Engine.OutDir, partialDir), 0o755); err != nil {
		return Summary{}, fmt.Errorf("creating output directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		summary  Summary
		firstErr error
	)
	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeCompleted:
			summary.Completed++
		case outcomeRequeued:
			summary.Requeued++
		case outcomeFailed:
			summary.Failed++
		case outcomeInterrupted:
			summary.Interrupted++
		}
	}

	workers := max(e.cfg.Engine.Workers, 1)
	e.log.Info().Int("workers", workers).Str("out_dir", e.cfg.Engine.OutDir).Msg("batch started")
	for i := range workers {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			err := e.work(runCtx, ctrl, worker, record)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
			}
		}(i)
	}
	wg.Wait()

	e.printf("\nBatch summary: %d completed, %d requeued, %d failed, %d interrupted (total: %d)\n",
		summary.Completed, summary.Requeued, summary.Failed, summary.Interrupted, summary.Total())
	e.log.Info().
		Int("completed", summary.Completed).
		Int("requeued", summary.Requeued).
		Int("failed", summary.Failed).
		Int("interrupted", summary.Interrupted).
		Msg("batch finished")
	return summary, firstErr
}

// work is one worker's claim loop.
func (e *Engine) work(ctx context.Context, ctrl *interrupt.Controller, worker int, record func(outcome)) error {
	log := e.log.With().Int("worker", worker).Logger()
	for {
		if ctrl.Stopping() || ctx.Err() != nil {
			return nil
		}

		item, ok, err := e.queue.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("claiming next item: %w", err)
		}
		if !ok {
			wait, pending, err := e.idleWait(ctx)
			if err != nil {
				return err
			}
			if !pending {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ctrl.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		o, err := e.process(ctx, ctrl, item, log)
		if err != nil {
			return fmt.Errorf("processing item %s: %w", item.ID, err)
		}
		record(o)
	}
}

// idleWait decides how long a worker with nothing to claim sleeps. It
// reports false when no pending item remains.
func (e *Engine) idleWait(ctx context.Context) (time.Duration, bool, error) {
	due, pending, err := e.queue.NextDue(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !pending {
		return 0, false, nil
	}
	poll := e.cfg.Engine.PollInterval
	wait := due.Sub(e.now())
	switch {
	case due.IsZero() || wait <= 0:
		wait = min(poll, 10*time.Millisecond)
	case wait > poll:
		wait = poll
	}
	return wait, true, nil
}

// process takes one claimed item through resolution and transfer.
func (e *Engine) process(ctx context.Context, ctrl *interrupt.Controller, item types.QueueItem, parent zerolog.Logger) (outcome, error) {
	log := parent.With().Str("item_id", item.ID).Str("input", item.Input).Int("attempt", item.AttemptCount).Logger()

	// Queue writes use ctx so progress is still recorded after an abort;
	// network I/O uses tctx, which the abort cancels.
	tctx, cancel := ctrl.TransferContext(ctx)
	defer cancel()

	if item.ResolvedURL == "" {
		out, err := e.resolver.Resolve(tctx, item.Identifier(), resolve.Context{MaxRedirects: e.cfg.Resolve.MaxRedirects})
		if err != nil {
			if tctx.Err() != nil {
				log.Info().Msg("resolution interrupted")
				return outcomeInterrupted, nil
			}
			return e.fail(ctx, item, types.TransientFailure("resolution fault: "+err.Error(), 0), log)
		}
		if out.Kind != resolve.OutcomeTarget {
			if f := out.Failure(); f != nil {
				return e.fail(ctx, item, f, log)
			}
			return e.fail(ctx, item, types.PermanentFailure("resolver returned "+out.Kind.String(), "report this input", 0), log)
		}
		hint := NamingHintFor(out.Target.Metadata, out.Target.URL, e.cfg.Auth.BinaryExtensions)
		if err := e.queue.SetResolved(ctx, item.ID, out.Target.URL, out.Target.ExpectBinary, hint); err != nil {
			return 0, err
		}
		item.ResolvedURL = out.Target.URL
		item.ExpectBinary = out.Target.ExpectBinary
		item.NamingHint = hint
		log.Debug().Str("url", item.ResolvedURL).Msg("resolved")
	}

	e.printf("downloading: %s (%s)\n", item.Input, item.ResolvedURL)
	res, err := e.download(ctx, tctx, item, false, log)
	if err != nil {
		return 0, err
	}
	if res.failure != nil && res.failure.Class == types.ClassAuthRequired {
		log.Info().Str("domain", res.failure.Domain).Msg("auth required, retrying with browser identity")
		res, err = e.download(ctx, tctx, item, true, log)
		if err != nil {
			return 0, err
		}
	}

	switch {
	case res.interrupted:
		log.Info().Msg("transfer interrupted, progress kept")
		e.printf("interrupted: %s\n", item.Input)
		return outcomeInterrupted, nil
	case res.recorded:
		e.printf("failed:  %s (%v)\n", item.Input, res.failure)
		return outcomeFailed, nil
	case res.failure != nil:
		return e.fail(ctx, item, res.failure, log)
	default:
		e.printf("saved:   %s -> %s\n", item.Input, res.path)
		return outcomeCompleted, nil
	}
}

// fail hands a classified failure to the queue and reports the result.
func (e *Engine) fail(ctx context.Context, item types.QueueItem, f *types.Failure, log zerolog.Logger) (outcome, error) {
	status, err := e.queue.MarkFailed(ctx, item.ID, f)
	if err != nil {
		return 0, err
	}
	ev := log.Warn()
	if status == types.StatusFailed {
		ev = log.Error()
	}
	ev.Str("class", string(f.Class)).Str("kind", string(f.Kind)).Str("status", string(status)).Msg(f.Cause)

	if status == types.StatusPending {
		e.printf("requeued: %s (%v)\n", item.Input, f)
		return outcomeRequeued, nil
	}
	e.printf("failed:  %s (%v)\n", item.Input, f)
	return outcomeFailed, nil
}

func (e *Engine) printf(format string, args ...any) {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	fmt.Fprintf(e.out, format, args...)
}

// isIntegrity reports whether err is the queue's integrity rejection.
func isIntegrity(err error) (*types.Failure, bool) {
	if !errors.Is(err, queue.ErrIntegrityMismatch) {
		return nil, false
	}
	var f *types.Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, true
}
