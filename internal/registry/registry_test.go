package registry

import (
	"context"
	"testing"
	"time"

	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
)

func newTestRegistry(queueDepth int) (*Registry, *observer.Recorder) {
	rec := &observer.Recorder{}
	return New(logging.NewLogger(), rec, queueDepth), rec
}

func TestRegisterEnforcesConnectionCap(t *testing.T) {
	r, _ := newTestRegistry(0)

	for i := 0; i < 3; i++ {
		if _, err := r.Register("t1", "p1", nil, 3); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if _, err := r.Register("t1", "p1", nil, 3); apierr.CodeOf(err) != apierr.CodeLimitExceeded {
		t.Fatalf("over-cap register: %v", err)
	}

	// Another project under the same tenant has its own cap.
	if _, err := r.Register("t1", "p2", nil, 3); err != nil {
		t.Fatalf("sibling project register: %v", err)
	}
}

func TestCapFreesOnUnregister(t *testing.T) {
	r, _ := newTestRegistry(0)

	s, err := r.Register("t1", "p1", nil, 1)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register("t1", "p1", nil, 1); err == nil {
		t.Fatal("cap must hold while session is live")
	}
	r.Unregister(s.ID)
	if _, err := r.Register("t1", "p1", nil, 1); err != nil {
		t.Fatalf("register after unregister: %v", err)
	}
}

func TestMatchingSessionsTopicSemantics(t *testing.T) {
	r, _ := newTestRegistry(0)

	wildcard, _ := r.Register("t1", "p1", nil, 0)
	orders, _ := r.Register("t1", "p1", []string{"orders"}, 0)
	refunds, _ := r.Register("t1", "p1", []string{"refunds"}, 0)
	otherProject, _ := r.Register("t1", "p2", nil, 0)
	otherTenant, _ := r.Register("t2", "p1", nil, 0)

	got := r.MatchingSessions("t1", "p1", "orders.paid")
	ids := make(map[string]bool, len(got))
	for _, s := range got {
		ids[s.ID] = true
	}

	if !ids[wildcard.ID] {
		t.Fatal("empty subscription set must act as project-wide wildcard")
	}
	if !ids[orders.ID] {
		t.Fatal("orders subscription must match dot-nested orders.paid")
	}
	if ids[refunds.ID] {
		t.Fatal("refunds subscription must not match orders.paid")
	}
	if ids[otherProject.ID] || ids[otherTenant.ID] {
		t.Fatal("sessions outside the project must be unreachable")
	}

	// Subscriptions are plain prefixes, so "orders" also matches topics
	// that merely extend the string; a trailing dot pins the segment.
	found := false
	for _, s := range r.MatchingSessions("t1", "p1", "ordersarchive") {
		if s.ID == orders.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("orders must prefix-match ordersarchive")
	}
}

func TestMatchesPlainPrefix(t *testing.T) {
	r, _ := newTestRegistry(0)
	s, _ := r.Register("t1", "p1", []string{"user."}, 0)

	tests := []struct {
		topic string
		want  bool
	}{
		{"user.created", true},
		{"user.deleted.soft", true},
		{"user", false},
		{"users.created", false},
		{"account.user.created", false},
	}
	for _, tt := range tests {
		if got := s.Matches(tt.topic); got != tt.want {
			t.Fatalf("Matches(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestUpdateSubscriptions(t *testing.T) {
	r, _ := newTestRegistry(0)
	s, _ := r.Register("t1", "p1", []string{"orders"}, 0)

	if err := r.UpdateSubscriptions(s.ID, []string{"refunds"}, []string{"orders"}); err != nil {
		t.Fatalf("UpdateSubscriptions: %v", err)
	}
	if s.Matches("orders") {
		t.Fatal("removed subscription still matches")
	}
	if !s.Matches("refunds.issued") {
		t.Fatal("added subscription does not match")
	}

	if err := r.UpdateSubscriptions("nope", nil, nil); apierr.CodeOf(err) != apierr.CodeNotFound {
		t.Fatalf("unknown session: %v", err)
	}
}

func TestTrySendDropsOnFullQueue(t *testing.T) {
	r, _ := newTestRegistry(2)
	s, _ := r.Register("t1", "p1", nil, 0)

	env := &Envelope{ID: "e1", Topic: "orders"}
	if !s.TrySend(env) || !s.TrySend(env) {
		t.Fatal("sends within queue depth must succeed")
	}
	if s.TrySend(env) {
		t.Fatal("send beyond queue depth must drop")
	}

	// Draining one slot admits one more.
	<-s.Out()
	if !s.TrySend(env) {
		t.Fatal("send after drain must succeed")
	}
}

func TestEvictTenantSynchronousAndTerminal(t *testing.T) {
	r, rec := newTestRegistry(4)

	s1, _ := r.Register("t1", "p1", nil, 0)
	s2, _ := r.Register("t1", "p2", nil, 0)
	bystander, _ := r.Register("t2", "p1", nil, 0)

	evicted := r.EvictTenant(context.Background(), "t1", "tenant suspended")
	if len(evicted) != 2 {
		t.Fatalf("evicted %d sessions, want 2", len(evicted))
	}
	if r.Count("t1", "p1") != 0 || r.Count("t1", "p2") != 0 {
		t.Fatal("tenant sessions must be gone when EvictTenant returns")
	}
	if r.Count("t2", "p1") != 1 {
		t.Fatal("other tenants must be untouched")
	}

	for _, s := range []*Session{s1, s2} {
		select {
		case out, ok := <-s.Out():
			if !ok || out.Err != "tenant suspended" {
				t.Fatalf("expected terminal error frame, got %+v (open=%v)", out, ok)
			}
		case <-time.After(time.Second):
			t.Fatal("no terminal frame queued")
		}
		if _, ok := <-s.Out(); ok {
			t.Fatal("channel must close after the terminal frame")
		}
	}

	if s1.TrySend(&Envelope{ID: "late"}) {
		t.Fatal("sends to evicted sessions must fail")
	}
	_ = bystander

	if rec.CountKind(observer.KindSessionEvicted) != 2 {
		t.Fatalf("observer events = %d, want 2", rec.CountKind(observer.KindSessionEvicted))
	}
}

func TestEvictTenantIdempotent(t *testing.T) {
	r, _ := newTestRegistry(0)
	r.Register("t1", "p1", nil, 0)

	if n := len(r.EvictTenant(context.Background(), "t1", "x")); n != 1 {
		t.Fatalf("first eviction = %d", n)
	}
	if n := len(r.EvictTenant(context.Background(), "t1", "x")); n != 0 {
		t.Fatalf("second eviction = %d, want 0", n)
	}
}
