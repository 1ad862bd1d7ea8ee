// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/internal/httputil"
	"github.com/pdiddy/paperfetch/internal/queue"
	"github.com/pdiddy/paperfetch/pkg/types"
)

// attemptResult is the outcome of one transfer attempt.
type attemptResult struct {
	path string
	size int64

	failure *types.Failure
	// recorded is set when the queue already persisted failure.
	recorded bool

	interrupted bool
}

func (e *Engine) partialPath(id string) string {
	return filepath.Join(e.cfg.Engine.OutDir, partialDir, id+".part")
}

func (e *Engine) userAgent(browser bool) string {
	if browser {
		return e.cfg.HTTP.BrowserUserAgent
	}
	return e.cfg.HTTP.UserAgent
}

// download runs one transfer attempt for a resolved item, resuming the
// partial file when the server allows it.
func (e *Engine) download(ctx, tctx context.Context, item types.QueueItem, browser bool, log zerolog.Logger) (attemptResult, error) {
	partial := e.partialPath(item.ID)
	offset := e.resumeOffset(tctx, item, partial, browser, log)

	res, restart, err := e.fetch(ctx, tctx, item, partial, offset, browser, log)
	if err != nil || !restart {
		return res, err
	}
	log.Info().Msg("representation changed, restarting from the first byte")
	if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
		return attemptResult{}, fmt.Errorf("removing partial file: %w", err)
	}
	res, _, err = e.fetch(ctx, tctx, item, partial, 0, browser, log)
	return res, err
}

// resumeOffset returns the byte offset to resume from, or 0 to start
// over. Resuming needs recorded progress backed by the partial file and
// a server that accepts ranges for the same representation. The check
// uses the same identity as the transfer that follows it.
func (e *Engine) resumeOffset(tctx context.Context, item types.QueueItem, partial string, browser bool, log zerolog.Logger) int64 {
	if item.BytesDownloaded <= 0 {
		return 0
	}
	fi, err := os.Stat(partial)
	if err != nil || fi.Size() < item.BytesDownloaded {
		log.Info().Int64("recorded", item.BytesDownloaded).Msg("partial file missing or short, restarting")
		return 0
	}

	info, err := httputil.CheckRanges(tctx, e.client, item.ResolvedURL, e.userAgent(browser), browser)
	switch {
	case err != nil:
		log.Debug().Err(err).Msg("range check failed")
		return 0
	case !info.AcceptsRanges:
		log.Info().Msg("server does not accept byte ranges, restarting")
		return 0
	case item.ETag != "" && info.ETag != "" && info.ETag != item.ETag:
		log.Info().Str("old", item.ETag).Str("new", info.ETag).Msg("etag changed, restarting")
		return 0
	case item.ContentLength != nil && info.Size >= 0 && info.Size != *item.ContentLength:
		log.Info().Int64("old", *item.ContentLength).Int64("new", info.Size).Msg("size changed, restarting")
		return 0
	}
	return item.BytesDownloaded
}

// fetch issues the GET and streams the body into the partial file. It
// reports restart when a resumed response does not line up with the
// partial file.
func (e *Engine) fetch(ctx, tctx context.Context, item types.QueueItem, partial string, offset int64, browser bool, log zerolog.Logger) (attemptResult, bool, error) {
	req, err := http.NewRequestWithContext(tctx, http.MethodGet, item.ResolvedURL, nil)
	if err != nil {
		return attemptResult{failure: types.PermanentFailure(
			"malformed target URL "+item.ResolvedURL, "enqueue a direct http or https link instead", 0,
		)}, false, nil
	}
	httputil.SetIdentity(req, e.userAgent(browser), browser)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if item.ETag != "" && !strings.HasPrefix(item.ETag, "W/") {
			req.Header.Set("If-Range", item.ETag)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if interrupted(tctx) {
			return attemptResult{interrupted: true}, false, nil
		}
		return attemptResult{failure: classifyError(err)}, false, nil
	}
	defer resp.Body.Close()
	final := resp.Request.URL

	var (
		f        *os.File
		expected *int64
		written  int64
	)
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, _, total, err := httputil.ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || start != offset {
			return attemptResult{}, true, nil
		}
		if total >= 0 && item.ContentLength != nil && total != *item.ContentLength {
			return attemptResult{}, true, nil
		}
		expected = item.ContentLength
		if total >= 0 {
			expected = &total
		}
		if f, err = openForResume(partial, offset); err != nil {
			return attemptResult{}, false, err
		}
		if err := e.queue.UpdateProgress(ctx, item.ID, offset, expected); err != nil {
			f.Close()
			return attemptResult{}, false, err
		}
		written = offset
		log.Info().Int64("offset", offset).Msg("resuming transfer")

	case resp.StatusCode == http.StatusOK:
		if isHTMLResponse(resp) && (item.ExpectBinary || e.login.ExpectsBinary(item.ResolvedURL, resp)) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, loginSniffBytes))
			if e.login.IsLoginPage(final, body) {
				return attemptResult{failure: types.AuthFailure(final.Hostname(), "", 0)}, false, nil
			}
			return attemptResult{failure: types.PermanentFailure(
				fmt.Sprintf("expected a document from %s but got an HTML page", final),
				"open the URL in a browser; the document may need a different link",
				resp.StatusCode,
			)}, false, nil
		}
		if offset > 0 {
			log.Info().Msg("server ignored the byte range, restarting from the first byte")
		}
		if resp.ContentLength >= 0 {
			cl := resp.ContentLength
			expected = &cl
		}
		if err := e.queue.RestartProgress(ctx, item.ID, resp.Header.Get("ETag"), expected); err != nil {
			return attemptResult{}, false, err
		}
		if f, err = os.Create(partial); err != nil {
			return attemptResult{}, false, fmt.Errorf("creating partial file: %w", err)
		}

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		if item.ContentLength != nil && offset == *item.ContentLength {
			res, err := e.finish(ctx, item, partial, offset, item.ContentLength, log)
			return res, false, err
		}
		return attemptResult{}, true, nil

	default:
		return attemptResult{failure: classifyStatus(resp.StatusCode, final)}, false, nil
	}

	written, failure, stopped, err := e.stream(ctx, tctx, item.ID, resp.Body, f, written, log)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing partial file: %w", cerr)
	}
	switch {
	case err != nil:
		return attemptResult{}, false, err
	case stopped:
		return attemptResult{interrupted: true}, false, nil
	case failure != nil:
		return attemptResult{failure: failure}, false, nil
	}
	res, err := e.finish(ctx, item, partial, written, expected, log)
	return res, false, err
}

func openForResume(partial string, offset int64) (*os.File, error) {
	f, err := os.OpenFile(partial, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening partial file: %w", err)
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating partial file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seeking partial file: %w", err)
	}
	return f, nil
}

// stream copies body into f, persisting progress every
// ProgressIntervalBytes or ProgressInterval. It returns the total bytes in
// the file and either a transient failure, an interruption, or a local
// fault.
func (e *Engine) stream(ctx, tctx context.Context, id string, body io.Reader, f *os.File, written int64, log zerolog.Logger) (int64, *types.Failure, bool, error) {
	buf := make([]byte, 32<<10)
	saved, savedAt := written, time.Now()
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return written, nil, false, fmt.Errorf("writing %s: %w", f.Name(), err)
			}
			written += int64(n)
			if written-saved >= e.cfg.Engine.ProgressIntervalBytes || time.Since(savedAt) >= e.cfg.Engine.ProgressInterval {
				if err := e.saveProgress(ctx, id, written, log); err != nil {
					return written, nil, false, err
				}
				saved, savedAt = written, time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if err := e.saveProgress(ctx, id, written, log); err != nil {
				return written, nil, false, err
			}
			if interrupted(tctx) {
				return written, nil, true, nil
			}
			return written, classifyError(rerr), false, nil
		}
	}
	return written, nil, false, e.saveProgress(ctx, id, written, log)
}

// saveProgress records written bytes. Overflowing the announced length is
// left for the integrity check at completion.
func (e *Engine) saveProgress(ctx context.Context, id string, written int64, log zerolog.Logger) error {
	err := e.queue.UpdateProgress(ctx, id, written, nil)
	if errors.Is(err, queue.ErrProgressOverflow) {
		log.Warn().Int64("bytes", written).Msg("server sent more than announced")
		return nil
	}
	return err
}

// finish verifies the size, moves the partial file into place and
// completes the item.
func (e *Engine) finish(ctx context.Context, item types.QueueItem, partial string, size int64, expected *int64, log zerolog.Logger) (attemptResult, error) {
	if expected != nil && *expected != size {
		err := e.queue.MarkCompleted(ctx, item.ID, "", size)
		f, ok := isIntegrity(err)
		if !ok {
			if err == nil {
				err = fmt.Errorf("queue accepted %d bytes for item %s, expected %d", size, item.ID, *expected)
			}
			return attemptResult{}, err
		}
		if rmErr := os.Remove(partial); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Msg("removing partial file")
		}
		return attemptResult{failure: f, recorded: true}, nil
	}

	dest, err := claimPath(e.cfg.Engine.OutDir, e.namer.Name(item))
	if err != nil {
		return attemptResult{}, err
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(dest)
		return attemptResult{}, fmt.Errorf("moving file into place: %w", err)
	}
	if err := e.queue.MarkCompleted(ctx, item.ID, dest, size); err != nil {
		if f, ok := isIntegrity(err); ok {
			os.Remove(dest)
			return attemptResult{failure: f, recorded: true}, nil
		}
		return attemptResult{}, err
	}
	log.Info().Str("path", dest).Int64("bytes", size).Msg("completed")

	if e.cfg.Engine.WriteMetadata {
		if err := WriteSidecar(SidecarPath(dest), newSidecar(item, dest, size, e.now())); err != nil {
			e.printf("  warning: writing metadata failed: %v\n", err)
			log.Warn().Err(err).Msg("writing metadata sidecar")
		}
	}
	return attemptResult{path: dest, size: size}, nil
}
