// Package dispatch consumes the event log tail and fans events out to live
// sessions. A slow subscriber loses events (drop for that session only);
// the dispatcher never blocks the log consumer on any session's queue.
package dispatch

import (
	"context"
	"time"

	"github.com/harborgrid/beacon/internal/eventlog"
	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/internal/registry"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

// UsageRecorder records delivery counts; satisfied by the quota tracker.
type UsageRecorder interface {
	Track(tenantID, projectID string, metric models.Metric, quantity int64)
}

// Dispatcher is the log-to-sessions fan-out loop.
type Dispatcher struct {
	log      eventlog.Log
	registry *registry.Registry
	usage    UsageRecorder
	logger   logging.Logger
	obs      observer.Observer

	sub eventlog.Subscription
}

// New builds a dispatcher. usage may be nil.
func New(log eventlog.Log, reg *registry.Registry, usage UsageRecorder, logger logging.Logger, obs observer.Observer) *Dispatcher {
	if obs == nil {
		obs = observer.Nop{}
	}
	return &Dispatcher{log: log, registry: reg, usage: usage, logger: logger, obs: obs}
}

// Start attaches to the log tail. Only events appended after attach are
// dispatched; history is the replay engine's job.
func (d *Dispatcher) Start(ctx context.Context) error {
	sub, err := d.log.Subscribe(ctx, eventlog.AllFilter(), eventlog.DeliverNew(), d.handle)
	if err != nil {
		return err
	}
	d.sub = sub
	d.logger.Info("Dispatcher attached to event log tail")
	return nil
}

// Stop detaches from the log.
func (d *Dispatcher) Stop() {
	if d.sub != nil {
		d.sub.Stop()
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg eventlog.Message) {
	env, tenantID, projectID, ok := DecodeEnvelope(msg)
	if !ok {
		d.logger.WithField("subject", msg.Subject).Warn("Discarding malformed log message")
		return
	}

	delivered := int64(0)
	for _, session := range d.registry.MatchingSessions(tenantID, projectID, env.Topic) {
		if session.TrySend(env) {
			delivered++
			continue
		}
		d.obs.Observe(ctx, observer.Event{
			Kind:      observer.KindSubscriberLagging,
			TenantID:  tenantID,
			ProjectID: projectID,
			SessionID: session.ID,
			Topic:     env.Topic,
			At:        time.Now().UTC(),
		})
	}
	if delivered > 0 && d.usage != nil {
		d.usage.Track(tenantID, projectID, models.MetricEventsDelivered, delivered)
	}
}

// DecodeEnvelope rebuilds the delivery envelope from a log message. Identity
// rides in headers; the message data is the raw payload.
func DecodeEnvelope(msg eventlog.Message) (env *registry.Envelope, tenantID, projectID string, ok bool) {
	tenantID, projectID, topic, ok := eventlog.SplitSubject(msg.Subject)
	if !ok {
		return nil, "", "", false
	}
	publishedAt := msg.Timestamp
	if raw := msg.Headers[eventlog.HeaderPublishedAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			publishedAt = t
		}
	}
	if h := msg.Headers[eventlog.HeaderTopic]; h != "" {
		topic = h
	}
	return &registry.Envelope{
		ID:          msg.Headers[eventlog.HeaderEventID],
		Topic:       topic,
		Payload:     msg.Data,
		PublishedAt: publishedAt,
		Sequence:    msg.Sequence,
		Timestamp:   msg.Timestamp,
	}, tenantID, projectID, true
}
