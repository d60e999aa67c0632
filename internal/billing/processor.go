// Package billing ingests provider webhooks and drives tenant billing state.
// The platform never talks to the payment provider directly; webhooks are
// the only billing input.
package billing

import (
	"context"
	"encoding/json"

	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

// Provider event types the processor acts on. Anything else is
// acknowledged and ignored.
const (
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// ProviderEvent is the decoded webhook body.
type ProviderEvent struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	CustomerID string `json:"customer_id"`
}

// SignatureVerifier authenticates the webhook payload. The provider SDK
// implementation is injected in production; tests inject a stub.
type SignatureVerifier interface {
	Verify(payload []byte, signatureHeader string) error
}

// Store is the identity surface the processor writes.
type Store interface {
	TenantByBillingCustomer(ctx context.Context, customerID string) (*models.Tenant, error)
	UpdateTenantStatus(ctx context.Context, tenantID string, status models.TenantStatus) error
	RecordAudit(ctx context.Context, tenantID, action string, details models.JSONB) error
}

// KillSwitch severs a tenant; satisfied by the quota tracker.
type KillSwitch interface {
	ActivateKillSwitch(ctx context.Context, tenantID, reason string) ([]string, error)
}

// Processor handles verified webhook events exactly once.
type Processor struct {
	store      Store
	killswitch KillSwitch
	verifier   SignatureVerifier
	dedupe     Deduper
	logger     logging.Logger
	obs        observer.Observer
}

// New builds a processor.
func New(store Store, ks KillSwitch, verifier SignatureVerifier, dedupe Deduper, logger logging.Logger, obs observer.Observer) *Processor {
	if obs == nil {
		obs = observer.Nop{}
	}
	return &Processor{
		store:      store,
		killswitch: ks,
		verifier:   verifier,
		dedupe:     dedupe,
		logger:     logger,
		obs:        obs,
	}
}

// HandleWebhook verifies, dedupes and applies one raw webhook delivery.
func (p *Processor) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := p.verifier.Verify(payload, signatureHeader); err != nil {
		return apierr.Wrap(apierr.CodeInvalidToken, "webhook signature rejected", err)
	}

	var evt ProviderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return apierr.Wrap(apierr.CodeInvalidPayload, "webhook body undecodable", err)
	}
	if evt.ID == "" || evt.Type == "" {
		return apierr.New(apierr.CodeInvalidPayload, "webhook missing id or type")
	}

	seen, err := p.dedupe.Seen(ctx, evt.ID)
	if err != nil {
		// Dedupe outage: processing anyway risks a duplicate transition,
		// which the state machine tolerates; dropping risks losing a
		// payment signal, which it does not.
		p.logger.WithError(err).Warn("Webhook dedupe unavailable, processing without it")
	} else if seen {
		p.obs.Observe(ctx, observer.Event{Kind: observer.KindWebhookDuplicate, Reason: evt.ID})
		return nil
	}

	return p.apply(ctx, evt)
}

func (p *Processor) apply(ctx context.Context, evt ProviderEvent) error {
	tenant, err := p.store.TenantByBillingCustomer(ctx, evt.CustomerID)
	if err != nil {
		// Unknown customer: acknowledge so the provider stops retrying, but
		// leave a trace.
		p.logger.WithFields(logging.Fields{
			"customer_id": evt.CustomerID,
			"event_type":  evt.Type,
		}).Warn("Webhook for unknown billing customer")
		return nil
	}

	switch evt.Type {
	case EventPaymentSucceeded:
		return p.transition(ctx, tenant, models.TenantActive, evt)
	case EventPaymentFailed:
		return p.transition(ctx, tenant, models.TenantPastDue, evt)
	case EventSubscriptionDeleted:
		_, err := p.killswitch.ActivateKillSwitch(ctx, tenant.ID, "subscription_cancelled")
		return err
	default:
		p.logger.WithField("event_type", evt.Type).Debug("Ignoring unhandled webhook type")
		return nil
	}
}

func (p *Processor) transition(ctx context.Context, tenant *models.Tenant, to models.TenantStatus, evt ProviderEvent) error {
	if tenant.Status == to {
		return nil
	}
	if !models.ValidTransition(tenant.Status, to) {
		// Suspended tenants stay suspended until an operator intervenes,
		// even when a payment later lands.
		p.logger.WithFields(logging.Fields{
			"tenant_id": tenant.ID,
			"from":      string(tenant.Status),
			"to":        string(to),
		}).Warn("Webhook requested invalid tenant transition")
		return nil
	}
	if err := p.store.UpdateTenantStatus(ctx, tenant.ID, to); err != nil {
		return err
	}
	if err := p.store.RecordAudit(ctx, tenant.ID, "billing_transition", models.JSONB{
		"from":     string(tenant.Status),
		"to":       string(to),
		"event_id": evt.ID,
		"type":     evt.Type,
	}); err != nil {
		p.logger.WithError(err).Warn("Billing audit write failed")
	}
	return nil
}

// NoopVerifier accepts every payload. Development only; production wires the
// provider SDK verifier.
type NoopVerifier struct{}

// Verify implements SignatureVerifier.
func (NoopVerifier) Verify([]byte, string) error { return nil }
