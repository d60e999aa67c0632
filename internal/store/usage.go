package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/beacon/pkg/models"
)

// UpsertUsage adds a delta to one usage window. The conflict strategy is
// additive on (tenant, project, metric, window_start), so flushes from
// multiple instances converge instead of clobbering each other.
func (s *Store) UpsertUsage(ctx context.Context, tenantID, projectID string, metric models.Metric, quantity int64, windowStart time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO usage_records (id, tenant_id, project_id, metric, quantity, window_start, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, project_id, metric, window_start)
		DO UPDATE SET quantity = usage_records.quantity + EXCLUDED.quantity`,
		uuid.New().String(), tenantID, projectID, string(metric), quantity, windowStart)
	if err != nil {
		return fmt.Errorf("failed to upsert usage: %w", err)
	}
	return nil
}

// TenantUsageTotal sums one metric across a tenant's projects for a window.
func (s *Store) TenantUsageTotal(ctx context.Context, tenantID string, metric models.Metric, windowStart time.Time) (int64, error) {
	var total int64
	err := s.queryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM usage_records
		WHERE tenant_id = $1 AND metric = $2 AND window_start = $3`,
		tenantID, string(metric), windowStart,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage: %w", err)
	}
	return total, nil
}

// UsageByProject returns a tenant's per-project counters for a window.
func (s *Store) UsageByProject(ctx context.Context, tenantID string, windowStart time.Time) ([]*models.UsageRecord, error) {
	rows, err := s.query(ctx, `
		SELECT id, tenant_id, project_id, metric, quantity, window_start, created_at
		FROM usage_records
		WHERE tenant_id = $1 AND window_start = $2
		ORDER BY project_id, metric`, tenantID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageRecord
	for rows.Next() {
		var (
			rec    models.UsageRecord
			metric string
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.ProjectID, &metric, &rec.Quantity, &rec.WindowStart, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Metric = models.Metric(metric)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
