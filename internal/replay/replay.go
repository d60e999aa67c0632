// Package replay serves bounded reads of retained history through ephemeral
// log consumers. Replay batches carry resume cursors; resuming from a
// returned cursor is deterministic over unchanged retained history.
package replay

import (
	"context"
	"time"

	"github.com/harborgrid/beacon/internal/dispatch"
	"github.com/harborgrid/beacon/internal/eventlog"
	"github.com/harborgrid/beacon/internal/gate"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/cursor"
	"github.com/harborgrid/beacon/pkg/models"
)

const (
	// DefaultLimit applies when the caller does not bound the batch.
	DefaultLimit = 100
	// MaxLimit caps one batch regardless of the request.
	MaxLimit = 1000
	// fetchWait bounds how long a fetch waits for retained messages.
	fetchWait = 2 * time.Second
)

// Item is one replayed event plus the cursor that resumes after it.
type Item struct {
	Event  models.Event  `json:"event"`
	Cursor cursor.Cursor `json:"-"`
}

// Batch is one replay response.
type Batch struct {
	Items []Item
	// Next resumes strictly after the last item. Empty batch means Next is
	// the request's own position.
	Next string
}

// Engine reads history from the event log.
type Engine struct {
	log eventlog.Log
}

// New builds a replay engine.
func New(log eventlog.Log) *Engine {
	return &Engine{log: log}
}

// Replay fetches up to limit retained events for the authenticated project.
// An empty topic replays every topic in the project. A nil cursor starts at
// the oldest retained event; a cursor resumes at its pinned sequence,
// inclusive, so the caller can verify continuity.
func (e *Engine) Replay(ctx context.Context, auth *gate.AuthContext, topic string, cur *cursor.Cursor, limit int) (*Batch, error) {
	if err := gate.RequireScope(auth, models.ScopeEventsSubscribe); err != nil {
		return nil, err
	}
	if !auth.Tenant.Status.CanUsePlatform() {
		return nil, apierr.New(apierr.CodeTenantSuspended, "tenant is not active")
	}
	if topic != "" {
		// Reuse the ingress topic grammar so filters cannot smuggle
		// subject wildcards.
		if err := validateReplayTopic(topic); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	filter := eventlog.ProjectFilter(auth.TenantID, auth.ProjectID)
	if topic != "" {
		filter = eventlog.TopicFilter(auth.TenantID, auth.ProjectID, topic)
	}

	start := eventlog.DeliverAll()
	if cur != nil {
		start = eventlog.FromSequence(cur.Sequence)
	}

	msgs, err := e.log.Fetch(ctx, filter, start, limit, fetchWait)
	if err != nil {
		return nil, apierr.Transient(apierr.CodeInternal, "replay fetch failed", err)
	}

	batch := &Batch{Items: make([]Item, 0, len(msgs))}
	for _, msg := range msgs {
		env, tenantID, projectID, ok := dispatch.DecodeEnvelope(msg)
		if !ok || tenantID != auth.TenantID || projectID != auth.ProjectID {
			continue
		}
		batch.Items = append(batch.Items, Item{
			Event: models.Event{
				ID:          env.ID,
				TenantID:    tenantID,
				ProjectID:   projectID,
				Topic:       env.Topic,
				Payload:     env.Payload,
				PublishedAt: env.PublishedAt,
				Sequence:    msg.Sequence,
			},
			Cursor: cursor.Cursor{Sequence: msg.Sequence, Timestamp: msg.Timestamp},
		})
	}
	if n := len(batch.Items); n > 0 {
		last := batch.Items[n-1].Cursor
		batch.Next = cursor.Cursor{Sequence: last.Sequence + 1, Timestamp: last.Timestamp}.Encode()
	} else if cur != nil {
		batch.Next = cur.Encode()
	}
	return batch, nil
}

func validateReplayTopic(topic string) error {
	if len(topic) > 255 {
		return apierr.New(apierr.CodeInvalidTopic, "topic exceeds 255 bytes")
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
