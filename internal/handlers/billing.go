package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborgrid/beacon/internal/gate"
	"github.com/harborgrid/beacon/internal/quota"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/models"
)

type usageResponse struct {
	TenantID    string                      `json:"tenant_id"`
	WindowStart time.Time                   `json:"window_start"`
	Totals      map[string]int64            `json:"totals"`
	Projects    map[string]map[string]int64 `json:"projects"`
	// EstimatedCost is the metered cost for pro plans, as a decimal string.
	EstimatedCost string `json:"estimated_cost,omitempty"`
}

// GetUsage handles GET /billing/usage. Persisted counters are merged with
// the not-yet-flushed in-memory deltas so the response reflects the current
// window, not the last flush.
func (h *Handlers) GetUsage(c *gin.Context) {
	auth := h.auth(c)
	if !auth.Scopes.Has(models.ScopeBillingRead) && !auth.Scopes.Has(models.ScopeAdminRead) {
		h.respondError(c, apierr.New(apierr.CodeInsufficientScope, "scope BillingRead required"))
		return
	}

	window := quota.WindowStart(time.Now())
	resp := usageResponse{
		TenantID:    auth.TenantID,
		WindowStart: window,
		Totals:      make(map[string]int64),
		Projects:    make(map[string]map[string]int64),
	}

	records, err := h.store.UsageByProject(c.Request.Context(), auth.TenantID, window)
	if err != nil {
		h.respondError(c, err)
		return
	}
	for _, rec := range records {
		resp.add(rec.ProjectID, string(rec.Metric), rec.Quantity)
	}
	// In-memory counters include everything persisted this window (primed)
	// plus unflushed deltas; take the max of the two views per cell.
	for projectID, metrics := range h.quota.Usage(auth.TenantID) {
		for metric, quantity := range metrics {
			if projectID == "" {
				continue
			}
			if current := resp.Projects[projectID][string(metric)]; quantity > current {
				resp.Totals[string(metric)] += quantity - current
				if resp.Projects[projectID] == nil {
					resp.Projects[projectID] = make(map[string]int64)
				}
				resp.Projects[projectID][string(metric)] = quantity
			}
		}
	}

	if auth.Tenant.Plan.Kind == models.PlanPro {
		resp.EstimatedCost = auth.Tenant.Plan.MonthlyCost(resp.Totals[string(models.MetricEventsPublished)]).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *usageResponse) add(projectID, metric string, quantity int64) {
	if r.Projects[projectID] == nil {
		r.Projects[projectID] = make(map[string]int64)
	}
	r.Projects[projectID][metric] += quantity
	r.Totals[metric] += quantity
}

// StripeWebhook handles POST /billing/stripe-webhook. The payload signature
// is the authentication; no platform credential is involved.
func (h *Handlers) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		h.respondError(c, apierr.Wrap(apierr.CodeInvalidPayload, "webhook body unreadable", err))
		return
	}
	if err := h.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// requireSubscribe is shared by the streaming transports.
func (h *Handlers) requireSubscribe(auth *gate.AuthContext) error {
	return gate.RequireScope(auth, models.ScopeEventsSubscribe)
}
