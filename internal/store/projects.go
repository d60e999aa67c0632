package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/models"
)

// CreateProject inserts a project under a tenant.
func (s *Store) CreateProject(ctx context.Context, tenantID, name string, limits models.ProjectLimits) (*models.Project, error) {
	p := &models.Project{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Name:     name,
		Limits:   limits,
	}
	err := s.queryRow(ctx, `
		INSERT INTO projects (id, tenant_id, name, max_connections, max_events_per_sec, max_payload_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`,
		p.ID, p.TenantID, p.Name, p.Limits.MaxConnections, p.Limits.MaxEventsPerSec, p.Limits.MaxPayloadSize,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// ProjectByID loads one project, scoped to its tenant.
func (s *Store) ProjectByID(ctx context.Context, tenantID, projectID string) (*models.Project, error) {
	var p models.Project
	err := s.queryRow(ctx, `
		SELECT id, tenant_id, name, max_connections, max_events_per_sec, max_payload_size, created_at, updated_at
		FROM projects WHERE tenant_id = $1 AND id = $2`, tenantID, projectID,
	).Scan(&p.ID, &p.TenantID, &p.Name, &p.Limits.MaxConnections, &p.Limits.MaxEventsPerSec, &p.Limits.MaxPayloadSize, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.CodeNotFound, "project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &p, nil
}

// ProjectsByTenant lists a tenant's projects.
func (s *Store) ProjectsByTenant(ctx context.Context, tenantID string) ([]*models.Project, error) {
	rows, err := s.query(ctx, `
		SELECT id, tenant_id, name, max_connections, max_events_per_sec, max_payload_size, created_at, updated_at
		FROM projects WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Limits.MaxConnections, &p.Limits.MaxEventsPerSec, &p.Limits.MaxPayloadSize, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
