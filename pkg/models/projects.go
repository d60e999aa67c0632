package models

import "time"

// ProjectLimits are the per-project enforcement knobs.
type ProjectLimits struct {
	MaxConnections  int   `json:"max_connections" db:"max_connections"`
	MaxEventsPerSec int   `json:"max_events_per_sec" db:"max_events_per_sec"`
	MaxPayloadSize  int64 `json:"max_payload_size" db:"max_payload_size"`
}

// HardMaxPayloadSize is the platform-wide payload ceiling (1 MiB). Project
// limits may only tighten it.
const HardMaxPayloadSize int64 = 1 << 20

// EffectiveMaxPayload clamps the project payload limit to the platform cap.
func (l ProjectLimits) EffectiveMaxPayload() int64 {
	if l.MaxPayloadSize <= 0 || l.MaxPayloadSize > HardMaxPayloadSize {
		return HardMaxPayloadSize
	}
	return l.MaxPayloadSize
}

// Project is a limits-bearing sub-partition within a tenant.
type Project struct {
	ID        string        `json:"id" db:"id"`
	TenantID  string        `json:"tenant_id" db:"tenant_id"`
	Name      string        `json:"name" db:"name"`
	Limits    ProjectLimits `json:"limits"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}
