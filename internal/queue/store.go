// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package queue is the durable work queue. It owns every QueueItem and
// drives the item state machine:
//
//	pending -> in_progress -> completed | failed | pending (retry)
//
// All state lives in a single SQLite database. Each operation is one
// statement or one transaction, and the pool holds a single connection, so
// ClaimNext is the only point of mutual exclusion between workers.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/pdiddy/paperfetch/internal/queue/migrations"
	"github.com/pdiddy/paperfetch/pkg/types"
)

var (
	// ErrNotFound is returned when no item has the given id.
	ErrNotFound = errors.New("queue: item not found")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the item's current state.
	ErrInvalidTransition = errors.New("queue: invalid state transition")

	// ErrIntegrityMismatch is returned by MarkCompleted when the observed
	// size differs from the recorded content length.
	ErrIntegrityMismatch = errors.New("queue: integrity mismatch")

	// ErrProgressOverflow is returned when reported progress exceeds the
	// known content length.
	ErrProgressOverflow = errors.New("queue: progress exceeds content length")
)

// Store is the SQLite-backed queue.
type Store struct {
	db  *sql.DB
	cfg types.QueueConfig
	now func() time.Time
	log zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now. Tests use it to step over backoff gates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the queue database at cfg.DBPath and applies any
// pending migrations.
func Open(ctx context.Context, cfg types.QueueConfig, log zerolog.Logger, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating queue directory: %w", err)
		}
	}

	dsn := cfg.DBPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes every statement; claims cannot interleave.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, cfg: cfg, now: time.Now, log: log}
	for _, o := range opts {
		o(s)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`,
	); err != nil {
		return err
	}
	files, err := migrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		var applied int
		if err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM schema_migrations WHERE version = ?`, file,
		).Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}
		if err := s.applyMigration(ctx, file); err != nil {
			return err
		}
		s.log.Debug().Str("migration", file).Msg("applied migration")
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, file string) error {
	body, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, file, s.stamp(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func migrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Enqueue adds a pending item for id.
func (s *Store) Enqueue(ctx context.Context, id types.Identifier) (types.QueueItem, error) {
	items, err := s.EnqueueMany(ctx, []types.Identifier{id})
	if err != nil {
		return types.QueueItem{}, err
	}
	return items[0], nil
}

// EnqueueMany adds one pending item per identifier in a single transaction.
// Duplicate submissions are not detected here.
func (s *Store) EnqueueMany(ctx context.Context, ids []types.Identifier) ([]types.QueueItem, error) {
	for _, id := range ids {
		if strings.TrimSpace(id.Value) == "" {
			return nil, fmt.Errorf("enqueue: empty identifier")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	out := make([]types.QueueItem, 0, len(ids))
	for _, id := range ids {
		item := types.QueueItem{
			ID:         uuid.NewString(),
			Input:      id.Value,
			SourceKind: id.Kind,
			Status:     types.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO items (id, input, source_kind, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID, item.Input, string(item.SourceKind), string(item.Status), now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting item: %w", err)
		}
		if item.Seq, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("reading sequence: %w", err)
		}
		out = append(out, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing enqueue: %w", err)
	}
	return out, nil
}

// ClaimNext atomically moves the oldest due pending item to in_progress.
// It reports false when no item is claimable right now.
func (s *Store) ClaimNext(ctx context.Context) (types.QueueItem, bool, error) {
	now := s.stamp()
	row := s.db.QueryRowContext(ctx,
		`UPDATE items
		    SET status = 'in_progress', started_at = ?, updated_at = ?
		  WHERE status = 'pending'
		    AND id = (SELECT id FROM items
		               WHERE status = 'pending'
		                 AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		               ORDER BY seq
		               LIMIT 1)
		RETURNING `+itemColumns,
		now, now, now,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.QueueItem{}, false, nil
	}
	if err != nil {
		return types.QueueItem{}, false, fmt.Errorf("claiming item: %w", err)
	}
	return item, true, nil
}

// SetResolved records the concrete download URL and naming hint so later
// attempts skip resolution. expectBinary records that the resolver expects
// a document, not a web page, at resolvedURL.
func (s *Store) SetResolved(ctx context.Context, id, resolvedURL string, expectBinary bool, hint *types.NamingHint) error {
	hintJSON, err := encodeJSON(hint)
	if err != nil {
		return err
	}
	return s.update(ctx, id, types.StatusInProgress,
		`UPDATE items SET resolved_url = ?, expect_binary = ?, naming_hint = ?, updated_at = ? WHERE id = ?`,
		resolvedURL, expectBinary, hintJSON, s.stamp(), id,
	)
}

// RestartProgress resets progress to zero for a transfer starting from the
// first byte and records the new representation's validator and length.
func (s *Store) RestartProgress(ctx context.Context, id, etag string, contentLength *int64) error {
	return s.update(ctx, id, types.StatusInProgress,
		`UPDATE items SET bytes_downloaded = 0, etag = ?, content_length = ?, updated_at = ? WHERE id = ?`,
		etag, nullInt64(contentLength), s.stamp(), id,
	)
}

// UpdateProgress records transfer progress. The stored value never
// decreases; use RestartProgress to go back to zero. A nil contentLength
// keeps the recorded one.
func (s *Store) UpdateProgress(ctx context.Context, id string, bytes int64, contentLength *int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		item, err := getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if item.Status != types.StatusInProgress {
			return fmt.Errorf("%w: progress on %s item %s", ErrInvalidTransition, item.Status, id)
		}

		cl := item.ContentLength
		if contentLength != nil {
			cl = contentLength
		}
		if bytes < 0 || (cl != nil && bytes > *cl) {
			return fmt.Errorf("%w: %d bytes of %d for item %s", ErrProgressOverflow, bytes, derefOr(cl, -1), id)
		}
		if bytes < item.BytesDownloaded {
			bytes = item.BytesDownloaded
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE items SET bytes_downloaded = ?, content_length = ?, updated_at = ? WHERE id = ?`,
			bytes, nullInt64(cl), s.stamp(), id,
		)
		return err
	})
}

// MarkCompleted finishes an item. When the content length is known and
// observedSize differs, the item fails terminally with an integrity
// failure and the returned error wraps both ErrIntegrityMismatch and the
// *types.Failure.
func (s *Store) MarkCompleted(ctx context.Context, id, savedPath string, observedSize int64) error {
	var mismatch *types.Failure
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		item, err := getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if item.Status != types.StatusInProgress {
			return fmt.Errorf("%w: complete %s item %s", ErrInvalidTransition, item.Status, id)
		}

		now := s.now().UTC()
		item.UpdatedAt = now
		item.NextAttemptAt = nil

		if item.ContentLength != nil && *item.ContentLength != observedSize {
			mismatch = types.IntegrityFailure(*item.ContentLength, observedSize)
			item.Status = types.StatusFailed
			item.LastError = mismatch
			item.BytesDownloaded = min(observedSize, *item.ContentLength)
		} else {
			item.Status = types.StatusCompleted
			item.SavedPath = savedPath
			item.LastError = nil
			item.BytesDownloaded = observedSize
			if item.ContentLength == nil {
				item.ContentLength = &observedSize
			}
		}

		if err := saveTerminal(ctx, tx, item); err != nil {
			return err
		}
		rec := item
		if mismatch != nil {
			rec.BytesDownloaded = observedSize
		}
		return insertAttempt(ctx, tx, rec, now)
	})
	if err != nil {
		return err
	}
	if mismatch != nil {
		return fmt.Errorf("%w: %w", ErrIntegrityMismatch, mismatch)
	}
	return nil
}

// MarkFailed records a failed attempt. A retryable failure returns the item
// to pending behind a backoff gate with attempt_count incremented, unless
// the incremented count exceeds MaxRetries. Anything else is terminal. The
// resulting status is returned.
func (s *Store) MarkFailed(ctx context.Context, id string, failure *types.Failure) (types.ItemStatus, error) {
	if failure == nil {
		return "", fmt.Errorf("mark failed: nil failure for item %s", id)
	}
	var status types.ItemStatus
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		item, err := getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if item.Status != types.StatusInProgress {
			return fmt.Errorf("%w: fail %s item %s", ErrInvalidTransition, item.Status, id)
		}

		now := s.now().UTC()
		item.LastError = failure
		item.UpdatedAt = now

		if failure.Retryable() {
			item.AttemptCount++
			if item.AttemptCount <= s.cfg.MaxRetries {
				next := now.Add(Backoff(item.AttemptCount, s.cfg.BackoffBase, s.cfg.BackoffMax))
				errJSON, err := encodeJSON(failure)
				if err != nil {
					return err
				}
				_, err = tx.ExecContext(ctx,
					`UPDATE items
					    SET status = 'pending', attempt_count = ?, last_error = ?,
					        next_attempt_at = ?, updated_at = ?
					  WHERE id = ?`,
					item.AttemptCount, errJSON, next.UnixNano(), now.UnixNano(), id,
				)
				status = types.StatusPending
				return err
			}
		}

		item.Status = types.StatusFailed
		item.NextAttemptAt = nil
		status = types.StatusFailed
		if err := saveTerminal(ctx, tx, item); err != nil {
			return err
		}
		return insertAttempt(ctx, tx, item, now)
	})
	return status, err
}

// ResetInProgress returns every in_progress item to pending, keeping its
// progress and attempt count. It is run at startup to recover items
// orphaned by a crash or an aborted shutdown, and is idempotent.
func (s *Store) ResetInProgress(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = 'pending', updated_at = ? WHERE status = 'in_progress'`,
		s.stamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("resetting in-progress items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Requeue returns a terminally failed item to pending with a fresh attempt
// budget. Resolution and transfer state are cleared, so the item is
// resolved again, for example after the operator logged in to a site.
func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.update(ctx, id, types.StatusFailed,
		`UPDATE items
		    SET status = 'pending', attempt_count = 0, resolved_url = '', expect_binary = 0, etag = '',
		        bytes_downloaded = 0, content_length = NULL, last_error = NULL,
		        next_attempt_at = NULL, updated_at = ?
		  WHERE id = ?`,
		s.stamp(), id,
	)
}

// Compact deletes terminal items last updated before cutoff from the live
// queue. History rows are unaffected.
func (s *Store) Compact(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE status IN ('completed', 'failed') AND updated_at < ?`,
		cutoff.UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("compacting queue: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// update runs a single-row UPDATE after checking that the item exists and
// is in the required state.
func (s *Store) update(ctx context.Context, id string, want types.ItemStatus, query string, args ...any) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		item, err := getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if item.Status != want {
			return fmt.Errorf("%w: item %s is %s, want %s", ErrInvalidTransition, id, item.Status, want)
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) stamp() int64 {
	return s.now().UTC().UnixNano()
}

// saveTerminal writes the full state of an item entering a terminal state.
func saveTerminal(ctx context.Context, tx *sql.Tx, item types.QueueItem) error {
	errJSON, err := encodeJSON(item.LastError)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE items
		    SET status = ?, attempt_count = ?, bytes_downloaded = ?, content_length = ?,
		        last_error = ?, saved_path = ?, next_attempt_at = NULL, updated_at = ?
		  WHERE id = ?`,
		string(item.Status), item.AttemptCount, item.BytesDownloaded, nullInt64(item.ContentLength),
		errJSON, item.SavedPath, item.UpdatedAt.UnixNano(), item.ID,
	)
	if err != nil {
		return fmt.Errorf("saving terminal state: %w", err)
	}
	return nil
}

// Backoff is the delay before retry number attempt (1-based):
// base * 2^(attempt-1), capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

func derefOr(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}
