package observer

import (
	"context"
	"sync"
	"time"

	"github.com/harborgrid/beacon/pkg/logging"
)

// LogSink writes observer events as structured log lines.
type LogSink struct {
	Logger logging.Logger
}

// Observe implements Observer.
func (s *LogSink) Observe(_ context.Context, e Event) {
	entry := s.Logger.WithFields(logging.Fields{
		"kind":       string(e.Kind),
		"tenant_id":  e.TenantID,
		"project_id": e.ProjectID,
		"session_id": e.SessionID,
		"topic":      e.Topic,
		"reason":     e.Reason,
		"quantity":   e.Quantity,
	})
	switch e.Kind {
	case KindMetadataWriteFailed, KindKillSwitch:
		entry.Warn("Core event")
	default:
		entry.Debug("Core event")
	}
}

// Recorder captures events for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Observe implements Observer.
func (r *Recorder) Observe(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.events = append(r.events, e)
}

// Events returns a snapshot of captured events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// CountKind returns how many captured events carry the kind.
func (r *Recorder) CountKind(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
