package models

import "time"

// APIKey is a machine credential scoped to a project. The raw secret is
// returned once at creation and never stored; only the keyed lookup hash
// is persisted.
type APIKey struct {
	ID              string    `json:"id" db:"id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	ProjectID       string    `json:"project_id" db:"project_id"`
	LookupHash      string    `json:"-" db:"lookup_hash"`
	Scopes          ScopeSet  `json:"scopes"`
	RateLimitPerSec int       `json:"rate_limit_per_sec" db:"rate_limit_per_sec"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the key is past its optional expiry.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
