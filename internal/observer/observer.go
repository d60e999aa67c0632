// Package observer is the single capability through which the core reports
// operational events. Traces, metrics and alerts are outputs of the core,
// never participants in its contracts; components call Observe and sinks
// decide what to do with it.
package observer

import (
	"context"
	"time"
)

// Kind names an operational event class.
type Kind string

const (
	KindSubscriberLagging   Kind = "subscriber_lagging"
	KindMetadataWriteFailed Kind = "metadata_write_failed"
	KindKillSwitch          Kind = "kill_switch"
	KindQuotaRejected       Kind = "quota_rejected"
	KindRateLimited         Kind = "rate_limited"
	KindTrialExpired        Kind = "trial_expired"
	KindSessionEvicted      Kind = "session_evicted"
	KindEventDropped        Kind = "event_dropped"
	KindWebhookDuplicate    Kind = "webhook_duplicate"
)

// Event is one structured observability record emitted by the core.
type Event struct {
	Kind      Kind                   `json:"kind"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	ProjectID string                 `json:"project_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Topic     string                 `json:"topic,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Quantity  int64                  `json:"quantity,omitempty"`
	At        time.Time              `json:"at"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Observer receives operational events. Implementations must be safe for
// concurrent use and must never block the caller for long; the core calls
// Observe from hot paths.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// Multi fans one event out to several sinks.
type Multi []Observer

// Observe implements Observer.
func (m Multi) Observe(ctx context.Context, e Event) {
	for _, o := range m {
		o.Observe(ctx, e)
	}
}

// Nop discards all events.
type Nop struct{}

// Observe implements Observer.
func (Nop) Observe(context.Context, Event) {}
