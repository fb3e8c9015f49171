package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arvancloud/sms-gateway/internal/db"
	"go.uber.org/zap"
)

// RetryStore appends one row per retry decision.
type RetryStore struct {
	db  *db.DB
	log *zap.Logger
}

// NewRetryStore builds a RetryStore over the shared pool.
func NewRetryStore(database *db.DB, log *zap.Logger) *RetryStore {
	return &RetryStore{db: database, log: log}
}

// Create records a scheduled retry decision; the terminal attempt that
// exhausts the budget writes no retry row. Retry rows are append-only:
// retry_count on the request row is the running total.
func (s *RetryStore) Create(ctx context.Context, r *Retry) error {
	query := `INSERT INTO retries (request_id, attempt_number, provider_used, error_message, delay_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	now := time.Now().UTC()
	r.CreatedAt = now
	_, err := s.db.ExecContext(ctx, query, r.RequestID, r.AttemptNumber, r.ProviderUsed, r.ErrorMessage, r.DelaySeconds, now)
	if err != nil {
		return fmt.Errorf("create retry record: %w", err)
	}
	return nil
}

// CountByRequestID returns how many retry rows exist for a request, used to
// check the retry_count <= max_retries invariant independently of the
// request row's own counter.
func (s *RetryStore) CountByRequestID(ctx context.Context, requestID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM retries WHERE request_id = $1`
	if err := s.db.QueryRowContext(ctx, query, requestID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count retries: %w", err)
	}
	return count, nil
}

// ListByRequestID returns every retry row for a request, oldest first.
func (s *RetryStore) ListByRequestID(ctx context.Context, requestID int64) ([]*Retry, error) {
	query := `SELECT id, request_id, attempt_number, provider_used, error_message, delay_seconds, created_at
		FROM retries WHERE request_id = $1 ORDER BY attempt_number ASC`
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list retries: %w", err)
	}
	defer rows.Close()

	var out []*Retry
	for rows.Next() {
		var r Retry
		if err := rows.Scan(&r.ID, &r.RequestID, &r.AttemptNumber, &r.ProviderUsed, &r.ErrorMessage, &r.DelaySeconds, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan retry: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
