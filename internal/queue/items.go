// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/paperfetch/pkg/types"
)

const itemColumns = `id, seq, input, source_kind, resolved_url, status, attempt_count,
	bytes_downloaded, content_length, etag, last_error, naming_hint, saved_path,
	created_at, started_at, updated_at, next_attempt_at, expect_binary`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanItem(row rowScanner) (types.QueueItem, error) {
	var (
		item          types.QueueItem
		kind, status  string
		contentLength sql.NullInt64
		lastErr, hint sql.NullString
		created       int64
		started       sql.NullInt64
		updated       int64
		next          sql.NullInt64
	)
	err := row.Scan(
		&item.ID, &item.Seq, &item.Input, &kind, &item.ResolvedURL, &status, &item.AttemptCount,
		&item.BytesDownloaded, &contentLength, &item.ETag, &lastErr, &hint, &item.SavedPath,
		&created, &started, &updated, &next, &item.ExpectBinary,
	)
	if err != nil {
		return types.QueueItem{}, err
	}

	item.SourceKind = types.ParseIdentifierKind(kind)
	item.Status = types.ItemStatus(status)
	item.ContentLength = int64Ptr(contentLength)
	item.CreatedAt = fromStamp(created)
	item.UpdatedAt = fromStamp(updated)
	item.StartedAt = timePtr(started)
	item.NextAttemptAt = timePtr(next)

	if lastErr.Valid {
		item.LastError = &types.Failure{}
		if err := json.Unmarshal([]byte(lastErr.String), item.LastError); err != nil {
			return types.QueueItem{}, fmt.Errorf("decoding last_error of %s: %w", item.ID, err)
		}
	}
	if hint.Valid {
		item.NamingHint = &types.NamingHint{}
		if err := json.Unmarshal([]byte(hint.String), item.NamingHint); err != nil {
			return types.QueueItem{}, fmt.Errorf("decoding naming_hint of %s: %w", item.ID, err)
		}
	}
	return item, nil
}

func getItem(ctx context.Context, q queryRower, id string) (types.QueueItem, error) {
	item, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.QueueItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.QueueItem{}, fmt.Errorf("reading item %s: %w", id, err)
	}
	return item, nil
}

// Get returns the item with the given id.
func (s *Store) Get(ctx context.Context, id string) (types.QueueItem, error) {
	return getItem(ctx, s.db, id)
}

// ListQuery filters List. Zero values select everything.
type ListQuery struct {
	Status types.ItemStatus
	Limit  int
}

// List returns items in claim order.
func (s *Store) List(ctx context.Context, q ListQuery) ([]types.QueueItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var args []any
	if q.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []types.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Counts returns the number of items in each status. Every status is
// present in the map.
func (s *Store) Counts(ctx context.Context) (map[types.ItemStatus]int, error) {
	counts := map[types.ItemStatus]int{
		types.StatusPending:    0,
		types.StatusInProgress: 0,
		types.StatusCompleted:  0,
		types.StatusFailed:     0,
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.ItemStatus(status)] = n
	}
	return counts, rows.Err()
}

// NextDue reports the earliest time a pending item becomes claimable. It
// returns false when there are no pending items. An ungated item yields the
// zero time.
func (s *Store) NextDue(ctx context.Context) (time.Time, bool, error) {
	var (
		n        int
		earliest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), min(coalesce(next_attempt_at, 0)) FROM items WHERE status = 'pending'`,
	).Scan(&n, &earliest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading next due time: %w", err)
	}
	if n == 0 {
		return time.Time{}, false, nil
	}
	if !earliest.Valid || earliest.Int64 == 0 {
		return time.Time{}, true, nil
	}
	return fromStamp(earliest.Int64), true, nil
}

// HistoryQuery filters History. Zero values select everything.
type HistoryQuery struct {
	ItemID string
	Status types.ItemStatus
	Limit  int
}

// History returns terminal attempt records, newest first.
func (s *Store) History(ctx context.Context, q HistoryQuery) ([]types.AttemptRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, q.ItemID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}

	query := `SELECT id, item_id, input, source_kind, resolved_url, status, attempt_count,
		bytes_downloaded, content_length, saved_path, naming_hint, failure, recorded_at
		FROM attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []types.AttemptRecord
	for rows.Next() {
		var (
			rec           types.AttemptRecord
			kind, status  string
			contentLength sql.NullInt64
			hint, failure sql.NullString
			recorded      int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.ItemID, &rec.Input, &kind, &rec.ResolvedURL, &status, &rec.AttemptCount,
			&rec.BytesDownloaded, &contentLength, &rec.SavedPath, &hint, &failure, &recorded,
		); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		rec.SourceKind = types.ParseIdentifierKind(kind)
		rec.Status = types.ItemStatus(status)
		rec.ContentLength = int64Ptr(contentLength)
		rec.RecordedAt = fromStamp(recorded)
		if hint.Valid {
			rec.NamingHint = &types.NamingHint{}
			if err := json.Unmarshal([]byte(hint.String), rec.NamingHint); err != nil {
				return nil, fmt.Errorf("decoding naming_hint: %w", err)
			}
		}
		if failure.Valid {
			rec.Failure = &types.Failure{}
			if err := json.Unmarshal([]byte(failure.String), rec.Failure); err != nil {
				return nil, fmt.Errorf("decoding failure: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// insertAttempt appends the history row for an item entering a terminal
// state. It runs inside the transition's transaction.
func insertAttempt(ctx context.Context, tx *sql.Tx, item types.QueueItem, at time.Time) error {
	hintJSON, err := encodeJSON(item.NamingHint)
	if err != nil {
		return err
	}
	errJSON, err := encodeJSON(item.LastError)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attempts (item_id, input, source_kind, resolved_url, status, attempt_count,
			bytes_downloaded, content_length, saved_path, naming_hint, failure, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Input, string(item.SourceKind), item.ResolvedURL, string(item.Status), item.AttemptCount,
		item.BytesDownloaded, nullInt64(item.ContentLength), item.SavedPath, hintJSON, errJSON, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// encodeJSON returns nil for a nil pointer so the column stays NULL.
func encodeJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return string(b), nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func fromStamp(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromStamp(n.Int64)
	return &t
}
