// Package ingress validates and durably appends published events. The
// validation pipeline runs in a fixed order so a request failing multiple
// checks always reports the same error: scope, topic, payload, schema,
// quota. Nothing about an event is observable to subscribers before the log
// append succeeds.
package ingress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/beacon/internal/eventlog"
	"github.com/harborgrid/beacon/internal/gate"
	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

// Store is the identity surface the publisher reads and writes.
type Store interface {
	ProjectByID(ctx context.Context, tenantID, projectID string) (*models.Project, error)
	RecordEventMetadata(ctx context.Context, event *models.Event) error
}

// Admitter decides quota admission and records usage.
type Admitter interface {
	Admit(ctx context.Context, tenant *models.Tenant, quantity int64) error
	Track(tenantID, projectID string, metric models.Metric, quantity int64)
}

// Result reports a durable append back to the producer.
type Result struct {
	EventID     string    `json:"event_id"`
	Sequence    uint64    `json:"sequence"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher is the ingress pipeline.
type Publisher struct {
	store   Store
	log     eventlog.Log
	quota   Admitter
	schemas *SchemaRegistry
	logger  logging.Logger
	obs     observer.Observer
	now     func() time.Time
	newID   func() string
}

// New builds a publisher.
func New(store Store, log eventlog.Log, quota Admitter, schemas *SchemaRegistry, logger logging.Logger, obs observer.Observer) *Publisher {
	if obs == nil {
		obs = observer.Nop{}
	}
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &Publisher{
		store:   store,
		log:     log,
		quota:   quota,
		schemas: schemas,
		logger:  logger,
		obs:     obs,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Publish runs the full pipeline for one event.
func (p *Publisher) Publish(ctx context.Context, auth *gate.AuthContext, topic string, payload json.RawMessage) (*Result, error) {
	if err := gate.RequireScope(auth, models.ScopeEventsPublish); err != nil {
		return nil, err
	}
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}

	project, err := p.store.ProjectByID(ctx, auth.TenantID, auth.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := ValidatePayload(payload, project.Limits); err != nil {
		return nil, err
	}
	if err := p.schemas.Validate(project.ID, topic, payload); err != nil {
		return nil, err
	}
	if err := p.quota.Admit(ctx, auth.Tenant, 1); err != nil {
		return nil, err
	}

	subject, err := eventlog.Subject(auth.TenantID, auth.ProjectID, topic)
	if err != nil {
		return nil, err
	}

	eventID := p.newID()
	publishedAt := p.now().UTC()
	headers := map[string]string{
		eventlog.HeaderEventID:     eventID,
		eventlog.HeaderTenantID:    auth.TenantID,
		eventlog.HeaderProjectID:   auth.ProjectID,
		eventlog.HeaderTopic:       topic,
		eventlog.HeaderPublishedAt: publishedAt.Format(time.RFC3339Nano),
	}

	ack, err := p.log.Append(ctx, subject, headers, payload)
	if err != nil {
		return nil, apierr.Transient(apierr.CodePublishFailed, "event log append failed", err)
	}

	p.quota.Track(auth.TenantID, auth.ProjectID, models.MetricEventsPublished, 1)

	event := &models.Event{
		ID:          eventID,
		TenantID:    auth.TenantID,
		ProjectID:   auth.ProjectID,
		Topic:       topic,
		Payload:     payload,
		PublishedAt: publishedAt,
		Sequence:    ack.Sequence,
	}
	// The append is the source of truth. A metadata write failure degrades
	// audit only; the producer still gets a success.
	if err := p.store.RecordEventMetadata(ctx, event); err != nil {
		p.logger.WithError(err).WithFields(logging.Fields{
			"event_id":  eventID,
			"tenant_id": auth.TenantID,
		}).Error("Event metadata write failed after durable append")
		p.obs.Observe(ctx, observer.Event{
			Kind:      observer.KindMetadataWriteFailed,
			TenantID:  auth.TenantID,
			ProjectID: auth.ProjectID,
			Topic:     topic,
			At:        publishedAt,
		})
	}

	return &Result{EventID: eventID, Sequence: ack.Sequence, PublishedAt: publishedAt}, nil
}

// MaxTopicLength bounds topic names in bytes.
const MaxTopicLength = 255

// ValidateTopic enforces the topic grammar: non-empty, at most 255 bytes,
// characters from [a-zA-Z0-9._-].
func ValidateTopic(topic string) error {
	if topic == "" {
		return apierr.New(apierr.CodeInvalidTopic, "topic must not be empty")
	}
	if len(topic) > MaxTopicLength {
		return apierr.Newf(apierr.CodeInvalidTopic, "topic exceeds %d bytes", MaxTopicLength)
	}
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return apierr.Newf(apierr.CodeInvalidTopic, "topic contains invalid character %q", c)
		}
	}
	return nil
}

// ValidatePayload enforces the payload contract: valid JSON whose top level
// is an object or array, within the project's effective size limit.
func ValidatePayload(payload json.RawMessage, limits models.ProjectLimits) error {
	limit := limits.EffectiveMaxPayload()
	if int64(len(payload)) > limit {
		return apierr.New(apierr.CodePayloadTooLarge, "payload exceeds size limit").
			WithDetails(map[string]interface{}{"size": len(payload), "limit": limit})
	}
	trimmed := firstNonSpace(payload)
	if trimmed != '{' && trimmed != '[' {
		return apierr.New(apierr.CodeInvalidPayload, "payload must be a JSON object or array")
	}
	if !json.Valid(payload) {
		return apierr.New(apierr.CodeInvalidPayload, "payload is not valid JSON")
	}
	return nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
