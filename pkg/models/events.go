package models

import (
	"encoding/json"
	"time"
)

// Event is one published message. Sequence is assigned by the event log on
// durable append and is the event's primary identity; id is the producer's
// correlation handle.
type Event struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	ProjectID   string          `json:"project_id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
	Sequence    uint64          `json:"sequence,omitempty"`
}
