package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/models"
)

// CreateAPIKey persists a key row. Only the lookup hash is stored; the raw
// secret never reaches this layer.
func (s *Store) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	err := s.queryRow(ctx, `
		INSERT INTO api_keys (id, tenant_id, project_id, lookup_hash, scopes, rate_limit_per_sec, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, NOW())
		RETURNING created_at`,
		key.ID, key.TenantID, key.ProjectID, key.LookupHash, pq.Array(key.Scopes.Strings()), key.RateLimitPerSec, key.ExpiresAt,
	).Scan(&key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	key.IsActive = true
	return nil
}

// APIKeyByLookupHash resolves a raw credential's keyed hash to its key row.
func (s *Store) APIKeyByLookupHash(ctx context.Context, lookupHash string) (*models.APIKey, error) {
	var (
		k      models.APIKey
		scopes []string
	)
	err := s.queryRow(ctx, `
		SELECT id, tenant_id, project_id, lookup_hash, scopes, rate_limit_per_sec, is_active, expires_at, created_at
		FROM api_keys WHERE lookup_hash = $1`, lookupHash,
	).Scan(&k.ID, &k.TenantID, &k.ProjectID, &k.LookupHash, pq.Array(&scopes), &k.RateLimitPerSec, &k.IsActive, &k.ExpiresAt, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.CodeNotFound, "api key not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}
	set, err := models.ParseScopes(scopes)
	if err != nil {
		return nil, fmt.Errorf("corrupt scopes on api key %s: %w", k.ID, err)
	}
	k.Scopes = set
	return &k, nil
}

// RevokeAPIKey deactivates a key within its tenant. Revocation is effective
// on the next authentication; no credential caching exists to invalidate.
func (s *Store) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	res, err := s.exec(ctx, `
		UPDATE api_keys SET is_active = FALSE WHERE tenant_id = $1 AND id = $2`, tenantID, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.CodeNotFound, "api key not found")
	}
	return nil
}

// APIKeysByProject lists a project's keys without their lookup hashes.
func (s *Store) APIKeysByProject(ctx context.Context, tenantID, projectID string) ([]*models.APIKey, error) {
	rows, err := s.query(ctx, `
		SELECT id, tenant_id, project_id, scopes, rate_limit_per_sec, is_active, expires_at, created_at
		FROM api_keys WHERE tenant_id = $1 AND project_id = $2 ORDER BY created_at`, tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var out []*models.APIKey
	for rows.Next() {
		var (
			k      models.APIKey
			scopes []string
		)
		if err := rows.Scan(&k.ID, &k.TenantID, &k.ProjectID, pq.Array(&scopes), &k.RateLimitPerSec, &k.IsActive, &k.ExpiresAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		set, err := models.ParseScopes(scopes)
		if err != nil {
			return nil, fmt.Errorf("corrupt scopes on api key %s: %w", k.ID, err)
		}
		k.Scopes = set
		out = append(out, &k)
	}
	return out, rows.Err()
}
