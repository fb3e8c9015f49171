package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/arvancloud/sms-gateway/internal/db"
	"go.uber.org/zap"
)

// RequestStore persists the request lifecycle row.
type RequestStore struct {
	db  *db.DB
	log *zap.Logger
}

// NewRequestStore builds a RequestStore over the shared pool.
func NewRequestStore(database *db.DB, log *zap.Logger) *RequestStore {
	return &RequestStore{db: database, log: log}
}

func joinProviders(providers []string) string {
	return strings.Join(providers, ",")
}

func splitProviders(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Create inserts a new request row in the pending state.
func (s *RequestStore) Create(ctx context.Context, r *Request) error {
	query := `INSERT INTO requests (message_id, phone, text, status, retry_count, max_retries, failed_providers, is_permanently_failed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`

	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	err := s.db.QueryRowContext(ctx, query, r.MessageID, r.Phone, r.Text, r.Status, r.RetryCount, r.MaxRetries,
		joinProviders(r.FailedProviders), r.IsPermanentlyFailed, now, now).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func scanRequest(row interface{ Scan(...any) error }) (*Request, error) {
	var r Request
	var providerUsed sql.NullString
	var failedProviders string
	err := row.Scan(&r.ID, &r.MessageID, &r.Phone, &r.Text, &r.Status, &providerUsed, &r.RetryCount,
		&r.MaxRetries, &failedProviders, &r.IsPermanentlyFailed, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if providerUsed.Valid {
		r.ProviderUsed = &providerUsed.String
	}
	r.FailedProviders = splitProviders(failedProviders)
	return &r, nil
}

const selectRequestColumns = `id, message_id, phone, text, status, provider_used, retry_count, max_retries, failed_providers, is_permanently_failed, created_at, updated_at`

// GetByMessageID fetches a request by its opaque message id.
func (s *RequestStore) GetByMessageID(ctx context.Context, messageID string) (*Request, error) {
	query := `SELECT ` + selectRequestColumns + ` FROM requests WHERE message_id = $1`
	r, err := scanRequest(s.db.QueryRowContext(ctx, query, messageID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request not found: %s", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get request by message id: %w", err)
	}
	return r, nil
}

// UpdateStatus moves a request to processing/completed/etc, optionally
// stamping the provider that was used.
func (s *RequestStore) UpdateStatus(ctx context.Context, messageID string, status RequestStatus, providerUsed *string) error {
	query := `UPDATE requests SET status = $2, provider_used = COALESCE($3, provider_used), updated_at = $4 WHERE message_id = $1`
	_, err := s.db.ExecContext(ctx, query, messageID, status, providerUsed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	return nil
}

// RecordRetryAttempt bumps retry_count and appends to failed_providers.
func (s *RequestStore) RecordRetryAttempt(ctx context.Context, messageID string, failedProvider string) error {
	req, err := s.GetByMessageID(ctx, messageID)
	if err != nil {
		return err
	}
	failed := append(req.FailedProviders, failedProvider)
	query := `UPDATE requests SET status = $2, retry_count = retry_count + 1, failed_providers = $3, updated_at = $4 WHERE message_id = $1`
	_, err = s.db.ExecContext(ctx, query, messageID, StatusRetrying, joinProviders(failed), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record retry attempt: %w", err)
	}
	return nil
}

// MarkPermanentlyFailed terminally fails a request after retries are
// exhausted. failed_providers is left as-is: it records only the providers
// that triggered an actual retry, not the terminal attempt's provider,
// which is already captured by its response row.
func (s *RequestStore) MarkPermanentlyFailed(ctx context.Context, messageID string) error {
	query := `UPDATE requests SET status = $2, is_permanently_failed = true, updated_at = $3 WHERE message_id = $1`
	_, err := s.db.ExecContext(ctx, query, messageID, StatusPermanentlyFailed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark permanently failed: %w", err)
	}
	return nil
}

// ListStalledProcessing returns requests stuck in processing/retrying past
// cutoff, for the optional stalled-request sweep (see internal/sweep).
func (s *RequestStore) ListStalledProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*Request, error) {
	query := `SELECT ` + selectRequestColumns + ` FROM requests
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, StatusProcessing, StatusRetrying, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stalled request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ByStatusAndProvider lists requests filtered by optional status/provider,
// for the read-only admin/reporting endpoints.
func (s *RequestStore) ByStatusAndProvider(ctx context.Context, status, provider string, limit int) ([]*Request, error) {
	query := `SELECT ` + selectRequestColumns + ` FROM requests WHERE ($1 = '' OR status = $1) AND ($2 = '' OR provider_used = $2)
		ORDER BY created_at DESC LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, status, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
