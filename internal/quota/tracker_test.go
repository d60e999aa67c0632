package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

type fakeStore struct {
	mu          sync.Mutex
	usage       map[string]int64
	statuses    map[string]models.TenantStatus
	audits      []string
	failUpdates int
	persisted   map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usage:     make(map[string]int64),
		statuses:  make(map[string]models.TenantStatus),
		persisted: make(map[string]int64),
	}
}

func (f *fakeStore) UpsertUsage(_ context.Context, tenantID, projectID string, metric models.Metric, quantity int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[tenantID+"/"+projectID+"/"+string(metric)] += quantity
	return nil
}

func (f *fakeStore) TenantUsageTotal(_ context.Context, tenantID string, metric models.Metric, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persisted[tenantID+"/"+string(metric)], nil
}

func (f *fakeStore) UpdateTenantStatus(_ context.Context, tenantID string, status models.TenantStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates > 0 {
		f.failUpdates--
		return errors.New("transient db failure")
	}
	f.statuses[tenantID] = status
	return nil
}

func (f *fakeStore) RecordAudit(_ context.Context, tenantID, action string, _ models.JSONB) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, tenantID+":"+action)
	return nil
}

func (f *fakeStore) status(tenantID string) models.TenantStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[tenantID]
}

type fakeEvictor struct {
	mu    sync.Mutex
	calls []string
	live  map[string][]string
}

func (f *fakeEvictor) EvictTenant(_ context.Context, tenantID, reason string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tenantID+":"+reason)
	ids := f.live[tenantID]
	delete(f.live, tenantID)
	return ids
}

func newTestTracker(store *fakeStore) (*Tracker, *fakeEvictor, *observer.Recorder) {
	rec := &observer.Recorder{}
	tr := New(Config{EnterpriseCeiling: 1000, TrialPeriod: 14 * 24 * time.Hour}, store, logging.NewLogger(), rec)
	ev := &fakeEvictor{live: map[string][]string{}}
	tr.SetEvictor(ev)
	return tr, ev, rec
}

func TestWindowStartIsCalendarMonthUTC(t *testing.T) {
	at := time.Date(2026, 8, 25, 23, 59, 59, 0, time.FixedZone("UTC+9", 9*3600))
	got := WindowStart(at)
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("WindowStart = %v, want %v", got, want)
	}
}

func TestAdmitEnforcesPlanCap(t *testing.T) {
	store := newFakeStore()
	tr, _, rec := newTestTracker(store)
	tenant := &models.Tenant{ID: "t1", Status: models.TenantActive, Plan: models.Plan{Kind: models.PlanFree, MonthlyEvents: 10}}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := tr.Admit(ctx, tenant, 1); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		tr.Track("t1", "p1", models.MetricEventsPublished, 1)
	}
	err := tr.Admit(ctx, tenant, 1)
	if apierr.CodeOf(err) != apierr.CodeQuotaExceeded {
		t.Fatalf("over-cap admit: %v", err)
	}
	if rec.CountKind(observer.KindQuotaRejected) != 1 {
		t.Fatal("quota rejection not observed")
	}
}

func TestAdmitUnlimitedPlanNeverRejects(t *testing.T) {
	tr, _, _ := newTestTracker(newFakeStore())
	tenant := &models.Tenant{ID: "t1", Plan: models.Plan{Kind: models.PlanEnterprise, Unlimited: true}}

	tr.Track("t1", "p1", models.MetricEventsPublished, 1<<40)
	if err := tr.Admit(context.Background(), tenant, 1); err != nil {
		t.Fatalf("unlimited admit: %v", err)
	}
}

func TestAdmitPrimesFromPersistedUsage(t *testing.T) {
	store := newFakeStore()
	store.persisted["t1/"+string(models.MetricEventsPublished)] = 9
	tr, _, _ := newTestTracker(store)
	tenant := &models.Tenant{ID: "t1", Plan: models.Plan{Kind: models.PlanFree, MonthlyEvents: 10}}
	ctx := context.Background()

	// One slot remains after folding in the persisted window total.
	if err := tr.Admit(ctx, tenant, 1); err != nil {
		t.Fatalf("admit within cap: %v", err)
	}
	if err := tr.Admit(ctx, tenant, 2); apierr.CodeOf(err) != apierr.CodeQuotaExceeded {
		t.Fatalf("admit past primed cap: %v", err)
	}
}

func TestFlushPersistsAdditiveDeltas(t *testing.T) {
	store := newFakeStore()
	tr, _, _ := newTestTracker(store)
	ctx := context.Background()

	tr.Track("t1", "p1", models.MetricEventsPublished, 3)
	tr.Track("t1", "p1", models.MetricEventsPublished, 2)
	tr.Flush(ctx)
	tr.Track("t1", "p1", models.MetricEventsPublished, 4)
	tr.Flush(ctx)

	if got := store.usage["t1/p1/events_published"]; got != 9 {
		t.Fatalf("persisted = %d, want 9", got)
	}
	// A flush with nothing pending writes nothing new.
	tr.Flush(ctx)
	if got := store.usage["t1/p1/events_published"]; got != 9 {
		t.Fatalf("idle flush changed counter to %d", got)
	}
}

func TestKillSwitchSuspendsAndEvicts(t *testing.T) {
	store := newFakeStore()
	tr, ev, rec := newTestTracker(store)
	ev.live["t1"] = []string{"s1", "s2"}
	ctx := context.Background()

	evicted, err := tr.ActivateKillSwitch(ctx, "t1", "payment_failed")
	if err != nil {
		t.Fatalf("ActivateKillSwitch: %v", err)
	}
	if len(evicted) != 2 {
		t.Fatalf("evicted = %v", evicted)
	}
	if store.status("t1") != models.TenantSuspended {
		t.Fatalf("status = %s", store.status("t1"))
	}
	if rec.CountKind(observer.KindKillSwitch) != 1 {
		t.Fatal("kill switch not observed")
	}
}

func TestKillSwitchRetriesStatusWrite(t *testing.T) {
	store := newFakeStore()
	store.failUpdates = 2
	tr, _, _ := newTestTracker(store)

	if _, err := tr.ActivateKillSwitch(context.Background(), "t1", "quota_exceeded"); err != nil {
		t.Fatalf("kill switch should retry through transient failures: %v", err)
	}
	if store.status("t1") != models.TenantSuspended {
		t.Fatal("tenant not suspended after retries")
	}
}

func TestKillSwitchIdempotentStillEvicts(t *testing.T) {
	store := newFakeStore()
	tr, ev, _ := newTestTracker(store)
	ctx := context.Background()

	if _, err := tr.ActivateKillSwitch(ctx, "t1", "payment_failed"); err != nil {
		t.Fatalf("first activation: %v", err)
	}
	// A session that reconnected between activations must still be severed.
	ev.live["t1"] = []string{"s3"}
	evicted, err := tr.ActivateKillSwitch(ctx, "t1", "payment_failed")
	if err != nil {
		t.Fatalf("second activation: %v", err)
	}
	if len(evicted) != 1 {
		t.Fatal("repeat activation must re-run eviction")
	}

	// The audit trail records the activation once per distinct reason.
	audits := 0
	for _, a := range store.audits {
		if a == "t1:kill_switch_activated" {
			audits++
		}
	}
	if audits != 1 {
		t.Fatalf("audit entries = %d, want 1", audits)
	}
}

func TestHandleTrialExpiry(t *testing.T) {
	store := newFakeStore()
	tr, _, rec := newTestTracker(store)
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return now })
	ctx := context.Background()

	fresh := &models.Tenant{ID: "fresh", Status: models.TenantTrial, CreatedAt: now.Add(-24 * time.Hour)}
	if err := tr.HandleTrialExpiry(ctx, fresh); err != nil {
		t.Fatalf("fresh trial: %v", err)
	}
	if store.status("fresh") != "" {
		t.Fatal("fresh trial must be untouched")
	}

	customer := "cus_123"
	paying := &models.Tenant{ID: "paying", Status: models.TenantTrial, CreatedAt: now.Add(-15 * 24 * time.Hour), BillingCustomerID: &customer}
	if err := tr.HandleTrialExpiry(ctx, paying); err != nil {
		t.Fatalf("paying trial: %v", err)
	}
	if store.status("paying") != models.TenantActive {
		t.Fatalf("paying trial status = %s, want active", store.status("paying"))
	}

	broke := &models.Tenant{ID: "broke", Status: models.TenantTrial, CreatedAt: now.Add(-15 * 24 * time.Hour)}
	if err := tr.HandleTrialExpiry(ctx, broke); err != nil {
		t.Fatalf("expired trial: %v", err)
	}
	if store.status("broke") != models.TenantSuspended {
		t.Fatalf("expired trial status = %s, want suspended", store.status("broke"))
	}
	if rec.CountKind(observer.KindTrialExpired) != 1 {
		t.Fatal("trial expiry not observed")
	}
}

func TestWindowRollResetsCounters(t *testing.T) {
	store := newFakeStore()
	tr, _, _ := newTestTracker(store)
	now := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return now })
	tenant := &models.Tenant{ID: "t1", Plan: models.Plan{Kind: models.PlanFree, MonthlyEvents: 5}}
	ctx := context.Background()

	tr.Track("t1", "p1", models.MetricEventsPublished, 5)
	if err := tr.Admit(ctx, tenant, 1); apierr.CodeOf(err) != apierr.CodeQuotaExceeded {
		t.Fatalf("august admit: %v", err)
	}

	now = time.Date(2026, 9, 1, 0, 0, 1, 0, time.UTC)
	if err := tr.Admit(ctx, tenant, 1); err != nil {
		t.Fatalf("september admit: %v", err)
	}
	// The august delta still reaches persistence after the roll.
	tr.Flush(ctx)
	if got := store.usage["t1/p1/events_published"]; got != 5 {
		t.Fatalf("carried delta = %d, want 5", got)
	}
}
