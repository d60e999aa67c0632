// Package quota tracks billable usage in calendar-month windows and enforces
// plan caps. Admission decisions read the in-memory counters; persistence is
// an async additive flush, so a crash can lose at most one flush interval of
// counts but can never admit for free by blocking.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

// Store is the persistence surface the tracker flushes to and enforces
// through.
type Store interface {
	UpsertUsage(ctx context.Context, tenantID, projectID string, metric models.Metric, quantity int64, windowStart time.Time) error
	TenantUsageTotal(ctx context.Context, tenantID string, metric models.Metric, windowStart time.Time) (int64, error)
	UpdateTenantStatus(ctx context.Context, tenantID string, status models.TenantStatus) error
	RecordAudit(ctx context.Context, tenantID, action string, details models.JSONB) error
}

// Evictor severs live sessions; satisfied by the connection registry.
type Evictor interface {
	EvictTenant(ctx context.Context, tenantID, reason string) []string
}

// Config tunes the tracker.
type Config struct {
	// FlushInterval is how often in-memory deltas are persisted.
	FlushInterval time.Duration
	// EnterpriseCeiling caps non-unlimited enterprise plans.
	EnterpriseCeiling int64
	// TrialPeriod is how long a trial tenant may exist without payment.
	TrialPeriod time.Duration
	// SuspendOnQuota activates the kill switch when a publish is rejected
	// for quota, instead of only rejecting.
	SuspendOnQuota bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval:     15 * time.Second,
		EnterpriseCeiling: 1_000_000_000,
		TrialPeriod:       14 * 24 * time.Hour,
	}
}

type counterKey struct {
	tenantID  string
	projectID string
	metric    models.Metric
}

// Tracker is the usage tracker and quota enforcer.
type Tracker struct {
	cfg     Config
	store   Store
	evictor Evictor
	logger  logging.Logger
	obs     observer.Observer
	now     func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	counters    map[counterKey]int64
	pending     map[counterKey]int64
	stale       []staleDelta
	primed      map[string]struct{}
	suspended   map[string]string
}

// staleDelta is an unflushed delta carried across a window roll.
type staleDelta struct {
	key      counterKey
	quantity int64
	window   time.Time
}

// New builds a tracker. evictor may be set later via SetEvictor to break the
// construction cycle with the registry.
func New(cfg Config, store Store, logger logging.Logger, obs observer.Observer) *Tracker {
	if obs == nil {
		obs = observer.Nop{}
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.TrialPeriod <= 0 {
		cfg.TrialPeriod = DefaultConfig().TrialPeriod
	}
	return &Tracker{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		obs:       obs,
		now:       time.Now,
		counters:  make(map[counterKey]int64),
		pending:   make(map[counterKey]int64),
		primed:    make(map[string]struct{}),
		suspended: make(map[string]string),
	}
}

// SetEvictor attaches the session evictor.
func (t *Tracker) SetEvictor(e Evictor) { t.evictor = e }

// SetClock overrides the time source. Tests only.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// WindowStart returns the UTC calendar-month window containing now.
func WindowStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Track records usage. It never blocks on persistence and never fails the
// caller; deltas land in the next flush.
func (t *Tracker) Track(tenantID, projectID string, metric models.Metric, quantity int64) {
	if quantity <= 0 {
		return
	}
	key := counterKey{tenantID, projectID, metric}
	t.mu.Lock()
	t.rollWindowLocked()
	t.counters[key] += quantity
	t.pending[key] += quantity
	t.mu.Unlock()
}

// Admit decides whether a tenant may publish quantity more events this
// window. The decision reads the in-memory counter plus the persisted total
// loaded once per tenant per window, so it is conservative across restarts.
func (t *Tracker) Admit(ctx context.Context, tenant *models.Tenant, quantity int64) error {
	cap, capped := tenant.Plan.EventCap(t.cfg.EnterpriseCeiling)
	if !capped {
		return nil
	}

	t.primeTenant(ctx, tenant.ID)

	t.mu.Lock()
	t.rollWindowLocked()
	var used int64
	for key, n := range t.counters {
		if key.tenantID == tenant.ID && key.metric == models.MetricEventsPublished {
			used += n
		}
	}
	t.mu.Unlock()

	if used+quantity > cap {
		t.obs.Observe(ctx, observer.Event{
			Kind:     observer.KindQuotaRejected,
			TenantID: tenant.ID,
			Quantity: quantity,
			At:       t.now().UTC(),
		})
		if t.cfg.SuspendOnQuota {
			if _, err := t.ActivateKillSwitch(ctx, tenant.ID, "quota_exceeded"); err != nil {
				t.logger.WithError(err).WithField("tenant_id", tenant.ID).Error("Kill switch activation failed")
			}
		}
		return apierr.New(apierr.CodeQuotaExceeded, "monthly event quota exceeded").
			WithDetails(map[string]interface{}{"used": used, "cap": cap})
	}
	return nil
}

// Usage returns the tenant's in-memory counters for the current window,
// keyed by project then metric.
func (t *Tracker) Usage(tenantID string) map[string]map[models.Metric]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollWindowLocked()
	out := make(map[string]map[models.Metric]int64)
	for key, n := range t.counters {
		if key.tenantID != tenantID {
			continue
		}
		if out[key.projectID] == nil {
			out[key.projectID] = make(map[models.Metric]int64)
		}
		out[key.projectID][key.metric] = n
	}
	return out
}

// Run flushes pending deltas until the context is cancelled, then performs a
// final flush.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			t.Flush(ctx)
		}
	}
}

// Flush persists and clears the pending deltas. Failed deltas are restored
// for the next attempt.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	window := t.windowStart
	batch := t.pending
	t.pending = make(map[counterKey]int64)
	carried := t.stale
	t.stale = nil
	t.mu.Unlock()

	for _, d := range carried {
		if err := t.store.UpsertUsage(ctx, d.key.tenantID, d.key.projectID, d.key.metric, d.quantity, d.window); err != nil {
			t.logger.WithError(err).Warn("Stale usage flush failed, delta retained")
			t.mu.Lock()
			t.stale = append(t.stale, d)
			t.mu.Unlock()
		}
	}

	for key, quantity := range batch {
		if err := t.store.UpsertUsage(ctx, key.tenantID, key.projectID, key.metric, quantity, window); err != nil {
			t.logger.WithError(err).WithFields(logging.Fields{
				"tenant_id": key.tenantID,
				"metric":    string(key.metric),
			}).Warn("Usage flush failed, delta retained")
			t.mu.Lock()
			t.pending[key] += quantity
			t.mu.Unlock()
		}
	}
}

// primeTenant folds the persisted window total into the in-memory counter
// once per tenant per window, so restarts do not reset quota accounting.
func (t *Tracker) primeTenant(ctx context.Context, tenantID string) {
	t.mu.Lock()
	t.rollWindowLocked()
	if _, done := t.primed[tenantID]; done {
		t.mu.Unlock()
		return
	}
	t.primed[tenantID] = struct{}{}
	window := t.windowStart
	var inMemory int64
	for key, n := range t.counters {
		if key.tenantID == tenantID && key.metric == models.MetricEventsPublished {
			inMemory += n
		}
	}
	var pendingTotal int64
	for key, n := range t.pending {
		if key.tenantID == tenantID && key.metric == models.MetricEventsPublished {
			pendingTotal += n
		}
	}
	t.mu.Unlock()

	persisted, err := t.store.TenantUsageTotal(ctx, tenantID, models.MetricEventsPublished, window)
	if err != nil {
		t.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Usage priming failed, admitting on in-memory counts")
		return
	}
	// Persisted rows already contain flushed deltas; only the gap between
	// persisted and unflushed in-memory counts needs folding in.
	gap := persisted - (inMemory - pendingTotal)
	if gap > 0 {
		key := counterKey{tenantID, "", models.MetricEventsPublished}
		t.mu.Lock()
		t.counters[key] += gap
		t.mu.Unlock()
	}
}

func (t *Tracker) rollWindowLocked() {
	window := WindowStart(t.now())
	if t.windowStart.Equal(window) {
		return
	}
	// New billing month: counters reset, primed set clears so persisted
	// totals for the new window are re-read on demand. Unflushed deltas of
	// the closing window are parked for the next flush.
	for key, quantity := range t.pending {
		if !t.windowStart.IsZero() {
			t.stale = append(t.stale, staleDelta{key: key, quantity: quantity, window: t.windowStart})
		}
	}
	t.windowStart = window
	t.counters = make(map[counterKey]int64)
	t.pending = make(map[counterKey]int64)
	t.primed = make(map[string]struct{})
}
