package registry

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Envelope is the delivery shape pushed to subscribers. Sequence rides along
// so transports can mint resume cursors.
type Envelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
	Sequence    uint64          `json:"-"`
	Timestamp   time.Time       `json:"-"`
}

// Outbound is one frame queued to a session. Either Event is set, or Err
// carries a terminal error after which the session channel closes.
type Outbound struct {
	Event *Envelope
	Err   string
}

// Session is one live subscriber connection. The registry owns registration
// and lookup; the session owns its subscription set and its bounded
// outbound queue.
type Session struct {
	ID        string
	TenantID  string
	ProjectID string
	CreatedAt time.Time

	mu     sync.RWMutex
	topics map[string]struct{}
	closed bool

	out chan Outbound
}

func newSession(id, tenantID, projectID string, topics []string, queueDepth int) *Session {
	s := &Session{
		ID:        id,
		TenantID:  tenantID,
		ProjectID: projectID,
		CreatedAt: time.Now().UTC(),
		topics:    make(map[string]struct{}, len(topics)),
		out:       make(chan Outbound, queueDepth),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	return s
}

// Out is the frame stream a transport writer drains. It closes when the
// session is evicted or unregistered.
func (s *Session) Out() <-chan Outbound { return s.out }

// Matches reports whether the session wants events on topic. An empty
// subscription set is a project-wide wildcard; otherwise each subscription
// is a plain prefix filter: "user." matches every user.* topic, and
// "orders" matches "orders", "orders.paid" and "ordersarchive" alike.
// Callers wanting segment boundaries subscribe with a trailing dot.
func (s *Session) Matches(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.topics) == 0 {
		return true
	}
	for sub := range s.topics {
		if strings.HasPrefix(topic, sub) {
			return true
		}
	}
	return false
}

// Subscriptions returns the current topic filters, sorted order not
// guaranteed.
func (s *Session) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Session) updateSubscriptions(add, remove []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range add {
		s.topics[t] = struct{}{}
	}
	for _, t := range remove {
		delete(s.topics, t)
	}
}

// TrySend queues an event without blocking. It reports false when the queue
// is full or the session is closed; a full queue drops the event for this
// session only.
func (s *Session) TrySend(env *Envelope) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- Outbound{Event: env}:
		return true
	default:
		return false
	}
}

// closeWithError marks the session closed, queues a terminal error frame if
// there is room, and closes the outbound channel. Safe to call once; the
// registry guarantees single closure.
func (s *Session) closeWithError(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if reason != "" {
		select {
		case s.out <- Outbound{Err: reason}:
		default:
		}
	}
	close(s.out)
}
