package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// backoffSchedule is the exponential per-inbox delivery backoff
// ladder from spec.md §4.5: "1min, 5min, 30min, 2h, 12h, capped at
// 24h".
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// Backoff is the current delivery-failure state for one inbox URL.
type Backoff struct {
	Inbox         string
	FailureCount  int
	BackoffUntil  time.Time
	LastError     string
}

// Active reports whether the backoff is still in effect at now.
func (b *Backoff) Active(now time.Time) bool {
	return b != nil && now.Before(b.BackoffUntil)
}

// BackoffStore persists per-inbox delivery backoff state, grounded on
// the teacher's services.DeliveryAttempts (a dedicated SQL-backed
// tracker, augmenting spec.md §6's schema with a `delivery_backoffs`
// table since the spec names the state machine but not its storage).
type BackoffStore struct {
	db *sql.DB

	get    *sql.Stmt
	upsert *sql.Stmt
	clear  *sql.Stmt
}

// NewBackoffStore prepares the statements used against
// delivery_backoffs.
func NewBackoffStore(db *sql.DB) (*BackoffStore, error) {
	s := &BackoffStore{db: db}
	var err error
	if s.get, err = db.Prepare(`SELECT inbox_url, failure_count, backoff_until, last_error
		FROM delivery_backoffs WHERE inbox_url = ?`); err != nil {
		return nil, fmt.Errorf("queue: prepare backoff get: %w", err)
	}
	if s.upsert, err = db.Prepare(`INSERT INTO delivery_backoffs (inbox_url, failure_count, backoff_until, last_error)
		VALUES (?, 1, ?, ?)
		ON DUPLICATE KEY UPDATE failure_count = failure_count + 1, backoff_until = VALUES(backoff_until),
			last_error = VALUES(last_error)`); err != nil {
		return nil, fmt.Errorf("queue: prepare backoff upsert: %w", err)
	}
	if s.clear, err = db.Prepare(`DELETE FROM delivery_backoffs WHERE inbox_url = ?`); err != nil {
		return nil, fmt.Errorf("queue: prepare backoff clear: %w", err)
	}
	return s, nil
}

// Get returns the stored backoff record for inbox, or nil if there is
// none. The record is returned whether or not BackoffUntil has passed;
// callers check Active (spec.md §4.5 "getActiveDeliveryBackoff").
func (s *BackoffStore) Get(ctx context.Context, inbox string) (*Backoff, error) {
	b := &Backoff{}
	err := s.get.QueryRowContext(ctx, inbox).Scan(&b.Inbox, &b.FailureCount, &b.BackoffUntil, &b.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get backoff %q: %w", inbox, err)
	}
	return b, nil
}

func scheduleFor(failureCount int) time.Duration {
	idx := failureCount
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return backoffSchedule[idx]
}

// RecordFailure advances inbox's failure count and recomputes
// backoffUntil from the schedule, per the state machine in spec.md
// §4.5 ("none → failing₁ → failing₂ … → failing_max (cap)").
func (s *BackoffStore) RecordFailure(ctx context.Context, inbox string, lastErr string) error {
	existing, err := s.Get(ctx, inbox)
	if err != nil {
		return err
	}
	count := 0
	if existing != nil {
		count = existing.FailureCount
	}
	until := time.Now().Add(scheduleFor(count))
	if _, err := s.upsert.ExecContext(ctx, inbox, until, lastErr); err != nil {
		return fmt.Errorf("queue: record failure for %q: %w", inbox, err)
	}
	return nil
}

// Clear removes any backoff record for inbox, transitioning it back
// to "none" on a successful delivery.
func (s *BackoffStore) Clear(ctx context.Context, inbox string) error {
	if _, err := s.clear.ExecContext(ctx, inbox); err != nil {
		return fmt.Errorf("queue: clear backoff for %q: %w", inbox, err)
	}
	return nil
}
