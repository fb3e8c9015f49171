package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arvancloud/sms-gateway/internal/db"
	"go.uber.org/zap"
)

// ResponseStore appends one row per upstream attempt.
type ResponseStore struct {
	db  *db.DB
	log *zap.Logger
}

// NewResponseStore builds a ResponseStore over the shared pool.
func NewResponseStore(database *db.DB, log *zap.Logger) *ResponseStore {
	return &ResponseStore{db: database, log: log}
}

// Create persists one attempt's upstream outcome. Responses are append-only.
func (s *ResponseStore) Create(ctx context.Context, requestID int64, responseData string, statusCode int) error {
	query := `INSERT INTO responses (request_id, response_data, status_code, created_at) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, requestID, responseData, statusCode, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create response: %w", err)
	}
	return nil
}

// ListByRequestID returns every response recorded for a request, newest first.
func (s *ResponseStore) ListByRequestID(ctx context.Context, requestID int64) ([]*Response, error) {
	query := `SELECT id, request_id, response_data, status_code, created_at FROM responses WHERE request_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []*Response
	for rows.Next() {
		var r Response
		if err := rows.Scan(&r.ID, &r.RequestID, &r.ResponseData, &r.StatusCode, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
