package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/models"
)

// RecordAudit appends one audit row for a tenant-scoped action.
func (s *Store) RecordAudit(ctx context.Context, tenantID, action string, details models.JSONB) error {
	_, err := s.exec(ctx, `
		INSERT INTO audit_log (id, tenant_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		uuid.New().String(), tenantID, action, details)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// RecordEventMetadata persists the audit metadata for a durably appended
// event. This write is non-authoritative; on failure the publish still
// succeeded and the caller only alerts.
func (s *Store) RecordEventMetadata(ctx context.Context, event *models.Event) error {
	_, err := s.exec(ctx, `
		INSERT INTO event_metadata (event_id, tenant_id, project_id, topic, sequence, published_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (event_id) DO NOTHING`,
		event.ID, event.TenantID, event.ProjectID, event.Topic, event.Sequence, event.PublishedAt)
	if err != nil {
		return fmt.Errorf("failed to record event metadata: %w", err)
	}
	return nil
}

// EventSequenceByID resolves a delivered event id to its log sequence, for
// id-based stream resumption. Metadata writes are best effort, so a missing
// row means unresolvable, not that the event never existed.
func (s *Store) EventSequenceByID(ctx context.Context, tenantID, eventID string) (uint64, error) {
	var seq uint64
	err := s.queryRow(ctx, `
		SELECT sequence FROM event_metadata WHERE tenant_id = $1 AND event_id = $2`,
		tenantID, eventID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, apierr.New(apierr.CodeNotFound, "event metadata not found")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve event sequence: %w", err)
	}
	return seq, nil
}

// PruneEventMetadata removes metadata rows older than the retention cutoff.
func (s *Store) PruneEventMetadata(ctx context.Context, tenantID string, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `
		DELETE FROM event_metadata WHERE tenant_id = $1 AND published_at < $2`, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune event metadata: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
