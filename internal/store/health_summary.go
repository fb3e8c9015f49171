package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arvancloud/sms-gateway/internal/db"
	"go.uber.org/zap"
)

// minSamplesForSummary is the sample count below which the coarse summary
// flag is left at its prior value rather than recomputed (per spec §4.4:
// "if cumulative samples >= 10, recompute").
const minSamplesForSummary = 10

// healthySuccessRate is the success-rate cutoff for the coarse flag, a
// longer-horizon signal distinct from the 5-minute sliding window.
const healthySuccessRate = 0.8

// HealthSummaryStore persists the one-row-per-provider coarse health flag.
type HealthSummaryStore struct {
	db  *db.DB
	log *zap.Logger
}

// NewHealthSummaryStore builds a HealthSummaryStore over the shared pool.
func NewHealthSummaryStore(database *db.DB, log *zap.Logger) *HealthSummaryStore {
	return &HealthSummaryStore{db: database, log: log}
}

// RecordSuccess increments success_count and recomputes is_healthy once
// enough samples have accumulated.
func (s *HealthSummaryStore) RecordSuccess(ctx context.Context, providerName string) error {
	return s.upsertAndRecompute(ctx, providerName, true)
}

// RecordFailure increments failure_count and recomputes is_healthy once
// enough samples have accumulated.
func (s *HealthSummaryStore) RecordFailure(ctx context.Context, providerName string) error {
	return s.upsertAndRecompute(ctx, providerName, false)
}

func (s *HealthSummaryStore) upsertAndRecompute(ctx context.Context, providerName string, success bool) error {
	now := time.Now().UTC()

	var successDelta, failureDelta int64
	if success {
		successDelta = 1
	} else {
		failureDelta = 1
	}

	upsert := `INSERT INTO provider_health_summary (provider_name, success_count, failure_count, last_checked, is_healthy)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (provider_name) DO UPDATE SET
			success_count = provider_health_summary.success_count + $2,
			failure_count = provider_health_summary.failure_count + $3,
			last_checked = $4`
	if _, err := s.db.ExecContext(ctx, upsert, providerName, successDelta, failureDelta, now); err != nil {
		return fmt.Errorf("upsert provider health summary: %w", err)
	}

	summary, err := s.Get(ctx, providerName)
	if err != nil {
		return err
	}
	total := summary.SuccessCount + summary.FailureCount
	if total < minSamplesForSummary {
		return nil
	}

	isHealthy := float64(summary.SuccessCount)/float64(total) >= healthySuccessRate
	update := `UPDATE provider_health_summary SET is_healthy = $2 WHERE provider_name = $1`
	if _, err := s.db.ExecContext(ctx, update, providerName, isHealthy); err != nil {
		return fmt.Errorf("update provider health summary flag: %w", err)
	}
	return nil
}

// Get returns the summary row for a provider, defaulting to a healthy
// zero-sample row if none exists yet.
func (s *HealthSummaryStore) Get(ctx context.Context, providerName string) (*ProviderHealthSummary, error) {
	query := `SELECT provider_name, success_count, failure_count, last_checked, is_healthy FROM provider_health_summary WHERE provider_name = $1`
	var summary ProviderHealthSummary
	err := s.db.QueryRowContext(ctx, query, providerName).Scan(
		&summary.ProviderName, &summary.SuccessCount, &summary.FailureCount, &summary.LastChecked, &summary.IsHealthy)
	if err != nil {
		return &ProviderHealthSummary{ProviderName: providerName, IsHealthy: true}, nil
	}
	return &summary, nil
}

// All returns the summary rows for every provider that has recorded at
// least one sample.
func (s *HealthSummaryStore) All(ctx context.Context) ([]*ProviderHealthSummary, error) {
	query := `SELECT provider_name, success_count, failure_count, last_checked, is_healthy FROM provider_health_summary ORDER BY provider_name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list provider health summaries: %w", err)
	}
	defer rows.Close()

	var out []*ProviderHealthSummary
	for rows.Next() {
		var summary ProviderHealthSummary
		if err := rows.Scan(&summary.ProviderName, &summary.SuccessCount, &summary.FailureCount, &summary.LastChecked, &summary.IsHealthy); err != nil {
			return nil, fmt.Errorf("scan provider health summary: %w", err)
		}
		out = append(out, &summary)
	}
	return out, rows.Err()
}
