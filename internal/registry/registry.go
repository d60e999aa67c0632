// Package registry tracks live subscriber sessions for WebSocket and SSE
// fan-out. All state is in-process and rebuilt from reconnects after a
// restart.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
)

// DefaultQueueDepth bounds each session's outbound queue.
const DefaultQueueDepth = 1000

type projectKey struct {
	tenantID  string
	projectID string
}

// Registry is the in-memory connection registry.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byProject map[projectKey]map[string]*Session
	byTenant  map[string]map[string]*Session

	queueDepth int
	logger     logging.Logger
	obs        observer.Observer
}

// New builds an empty registry.
func New(logger logging.Logger, obs observer.Observer, queueDepth int) *Registry {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if obs == nil {
		obs = observer.Nop{}
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		byProject:  make(map[projectKey]map[string]*Session),
		byTenant:   make(map[string]map[string]*Session),
		queueDepth: queueDepth,
		logger:     logger,
		obs:        obs,
	}
}

// Register admits a new session, enforcing the project connection cap.
// maxConnections of zero or less means uncapped.
func (r *Registry) Register(tenantID, projectID string, topics []string, maxConnections int) (*Session, error) {
	s := newSession(uuid.New().String(), tenantID, projectID, topics, r.queueDepth)
	pk := projectKey{tenantID, projectID}

	r.mu.Lock()
	if maxConnections > 0 && len(r.byProject[pk]) >= maxConnections {
		r.mu.Unlock()
		return nil, apierr.New(apierr.CodeLimitExceeded, "project connection limit reached").
			WithDetails(map[string]interface{}{"max_connections": maxConnections})
	}
	r.sessions[s.ID] = s
	if r.byProject[pk] == nil {
		r.byProject[pk] = make(map[string]*Session)
	}
	r.byProject[pk][s.ID] = s
	if r.byTenant[tenantID] == nil {
		r.byTenant[tenantID] = make(map[string]*Session)
	}
	r.byTenant[tenantID][s.ID] = s
	r.mu.Unlock()

	r.logger.WithFields(logging.Fields{
		"session_id": s.ID,
		"tenant_id":  tenantID,
		"project_id": projectID,
	}).Debug("Session registered")
	return s, nil
}

// Unregister removes a session and closes its outbound channel. Unknown ids
// are a no-op.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	s := r.removeLocked(sessionID)
	r.mu.Unlock()
	if s != nil {
		s.closeWithError("")
	}
}

// UpdateSubscriptions applies subscription changes to a live session.
func (r *Registry) UpdateSubscriptions(sessionID string, add, remove []string) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return apierr.New(apierr.CodeNotFound, "unknown session")
	}
	s.updateSubscriptions(add, remove)
	return nil
}

// MatchingSessions snapshots the sessions of one project whose subscriptions
// match the topic. Tenant and project come from the log subject, so sessions
// of other tenants are structurally unreachable.
func (r *Registry) MatchingSessions(tenantID, projectID, topic string) []*Session {
	pk := projectKey{tenantID, projectID}
	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.byProject[pk]))
	for _, s := range r.byProject[pk] {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	matched := candidates[:0]
	for _, s := range candidates {
		if s.Matches(topic) {
			matched = append(matched, s)
		}
	}
	return matched
}

// EvictTenant synchronously removes every session of a tenant. Terminal
// error frames are sent after the registry lock is released; when this
// returns, no session of the tenant remains registered.
func (r *Registry) EvictTenant(ctx context.Context, tenantID, reason string) []string {
	r.mu.Lock()
	var evicted []*Session
	for id := range r.byTenant[tenantID] {
		if s := r.removeLocked(id); s != nil {
			evicted = append(evicted, s)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, s := range evicted {
		s.closeWithError(reason)
		ids = append(ids, s.ID)
		r.obs.Observe(ctx, observer.Event{
			Kind:      observer.KindSessionEvicted,
			TenantID:  tenantID,
			ProjectID: s.ProjectID,
			SessionID: s.ID,
			Reason:    reason,
			At:        time.Now().UTC(),
		})
	}
	if len(ids) > 0 {
		r.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"sessions":  len(ids),
			"reason":    reason,
		}).Info("Evicted tenant sessions")
	}
	return ids
}

// Count returns the number of live sessions for a project.
func (r *Registry) Count(tenantID, projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byProject[projectKey{tenantID, projectID}])
}

// Size returns the total number of live sessions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) removeLocked(sessionID string) *Session {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.sessions, sessionID)
	pk := projectKey{s.TenantID, s.ProjectID}
	delete(r.byProject[pk], sessionID)
	if len(r.byProject[pk]) == 0 {
		delete(r.byProject, pk)
	}
	delete(r.byTenant[s.TenantID], sessionID)
	if len(r.byTenant[s.TenantID]) == 0 {
		delete(r.byTenant, s.TenantID)
	}
	return s
}
