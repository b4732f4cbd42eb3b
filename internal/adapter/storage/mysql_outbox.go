package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/settlement/internal/core/domain"
)

func (s *queries) InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) error {
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, type, payload, status, attempts, max_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AggregateType, e.AggregateID, e.Type, string(e.Payload), domain.OutboxPending, e.Attempts, maxAttempts, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ClaimPendingEvents stamps the oldest unleased pending rows with a fresh
// claim token in one UPDATE, then reads back what it stamped. Lease times use
// the database clock so instances never compare their own clocks.
func (s *queries) ClaimPendingEvents(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxEvent, error) {
	token := uuid.NewString()
	_, err := s.q.ExecContext(ctx, `
		UPDATE outbox_events
		SET claim_token = ?, claimed_until = CURRENT_TIMESTAMP(6) + INTERVAL ? MICROSECOND
		WHERE status = ? AND (claimed_until IS NULL OR claimed_until < CURRENT_TIMESTAMP(6))
		ORDER BY created_at, id
		LIMIT ?`, token, lease.Microseconds(), domain.OutboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, status, attempts, max_attempts, last_error, created_at, processed_at
		FROM outbox_events WHERE claim_token = ? AND status = ?
		ORDER BY created_at, id`, token, domain.OutboxPending)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload []byte
		var lastError sql.NullString
		var processed sql.NullTime
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &payload, &e.Status,
			&e.Attempts, &e.MaxAttempts, &lastError, &e.CreatedAt, &processed); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		e.LastError = lastError.String
		e.ProcessedAt = timePtr(processed)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *queries) MarkEventDone(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = ?, processed_at = ?, last_error = NULL, claim_token = NULL, claimed_until = NULL
		WHERE id = ?`,
		domain.OutboxDone, at, id)
	if err != nil {
		return fmt.Errorf("mark outbox event done: %w", err)
	}
	return nil
}

// MarkEventFailed counts the attempt and parks the event when park is set.
// The lease is dropped so a retry goes out on the next poll.
func (s *queries) MarkEventFailed(ctx context.Context, id string, errMsg string, park bool) error {
	status := domain.OutboxPending
	if park {
		status = domain.OutboxFailed
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = ?, status = ?, claim_token = NULL, claimed_until = NULL
		WHERE id = ?`,
		errMsg, status, id)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}
	return nil
}
