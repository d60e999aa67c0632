package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Metric names a billable usage counter.
type Metric string

const (
	MetricEventsPublished  Metric = "events_published"
	MetricEventsDelivered  Metric = "events_delivered"
	MetricWebSocketMinutes Metric = "websocket_minutes"
	MetricAPIRequests      Metric = "api_requests"
)

// UsageRecord is one persisted counter window. Rows are upserted on the
// (tenant, project, metric, window_start) key with an additive conflict
// strategy, so counters are non-decreasing within a window.
type UsageRecord struct {
	ID          string    `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	ProjectID   string    `json:"project_id" db:"project_id"`
	Metric      Metric    `json:"metric" db:"metric"`
	Quantity    int64     `json:"quantity" db:"quantity"`
	WindowStart time.Time `json:"window_start" db:"window_start"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// JSONB is a helper for jsonb columns.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", src)
	}
	return json.Unmarshal(b, j)
}
