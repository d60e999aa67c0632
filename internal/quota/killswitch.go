package quota

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

// ActivateKillSwitch suspends a tenant and synchronously evicts every live
// session. The status write retries with backoff; when this returns without
// error the tenant is suspended, cannot re-authenticate, and holds no open
// session. Repeat activations are idempotent and still re-run eviction so
// the postcondition holds on every return.
func (t *Tracker) ActivateKillSwitch(ctx context.Context, tenantID, reason string) ([]string, error) {
	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(100*time.Millisecond, 5*time.Second).
		WithMaxRetries(8).
		WithJitterFactor(0.1).
		Build()

	err := failsafe.With(retry).WithContext(ctx).Run(func() error {
		return t.store.UpdateTenantStatus(ctx, tenantID, models.TenantSuspended)
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	prior, already := t.suspended[tenantID]
	t.suspended[tenantID] = reason
	t.mu.Unlock()

	if !already || prior != reason {
		if aerr := t.store.RecordAudit(ctx, tenantID, "kill_switch_activated", models.JSONB{"reason": reason}); aerr != nil {
			t.logger.WithError(aerr).WithField("tenant_id", tenantID).Warn("Kill switch audit write failed")
		}
	}

	var evicted []string
	if t.evictor != nil {
		evicted = t.evictor.EvictTenant(ctx, tenantID, reason)
	}

	t.obs.Observe(ctx, observer.Event{
		Kind:     observer.KindKillSwitch,
		TenantID: tenantID,
		Reason:   reason,
		Quantity: int64(len(evicted)),
		At:       t.now().UTC(),
	})
	t.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"reason":    reason,
		"evicted":   len(evicted),
	}).Warn("Kill switch activated")
	return evicted, nil
}

// EnforceHardLimit suspends a tenant that crossed its plan cap.
func (t *Tracker) EnforceHardLimit(ctx context.Context, tenantID string) error {
	_, err := t.ActivateKillSwitch(ctx, tenantID, "quota_exceeded")
	return err
}

// HandleTrialExpiry resolves one trial tenant past its trial window:
// tenants with a billing customer convert to active, the rest are killed.
func (t *Tracker) HandleTrialExpiry(ctx context.Context, tenant *models.Tenant) error {
	if !tenant.TrialExpired(t.now(), t.cfg.TrialPeriod) {
		return nil
	}
	if tenant.BillingCustomerID != nil {
		if err := t.store.UpdateTenantStatus(ctx, tenant.ID, models.TenantActive); err != nil {
			return err
		}
		t.logger.WithField("tenant_id", tenant.ID).Info("Trial converted to active plan")
		return nil
	}
	t.obs.Observe(ctx, observer.Event{
		Kind:     observer.KindTrialExpired,
		TenantID: tenant.ID,
		At:       t.now().UTC(),
	})
	_, err := t.ActivateKillSwitch(ctx, tenant.ID, "trial_expired")
	return err
}

// TrialPeriod exposes the configured trial window for sweeps.
func (t *Tracker) TrialPeriod() time.Duration { return t.cfg.TrialPeriod }
