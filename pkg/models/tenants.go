package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantTrial     TenantStatus = "trial"
	TenantPastDue   TenantStatus = "past_due"
	TenantSuspended TenantStatus = "suspended"
)

// CanUsePlatform reports whether the tenant may publish or hold open
// subscriptions. Only Active and Trial tenants qualify.
func (s TenantStatus) CanUsePlatform() bool {
	return s == TenantActive || s == TenantTrial
}

// ValidTransition reports whether a status change is allowed by the tenant
// state machine. Suspended is terminal within a billing cycle; reactivation
// is an explicit operator action, not a transition the platform performs.
func ValidTransition(from, to TenantStatus) bool {
	switch from {
	case TenantTrial:
		return to == TenantActive || to == TenantSuspended
	case TenantActive:
		return to == TenantPastDue || to == TenantSuspended
	case TenantPastDue:
		return to == TenantActive || to == TenantSuspended
	case TenantSuspended:
		return false
	}
	return false
}

// PlanKind discriminates the billing plan variants.
type PlanKind string

const (
	PlanFree       PlanKind = "free"
	PlanPro        PlanKind = "pro"
	PlanEnterprise PlanKind = "enterprise"
)

// Plan is the billing plan attached to a tenant.
type Plan struct {
	Kind          PlanKind        `json:"kind" db:"plan_kind"`
	MonthlyEvents int64           `json:"monthly_events,omitempty" db:"plan_monthly_events"`
	PricePerEvent decimal.Decimal `json:"price_per_event,omitempty" db:"plan_price_per_event"`
	Unlimited     bool            `json:"unlimited,omitempty" db:"plan_unlimited"`
}

// EventCap returns the effective monthly event cap. The second return is
// false when the plan is uncapped.
func (p Plan) EventCap(enterpriseCeiling int64) (int64, bool) {
	switch p.Kind {
	case PlanFree, PlanPro:
		return p.MonthlyEvents, true
	case PlanEnterprise:
		if p.Unlimited {
			return 0, false
		}
		return enterpriseCeiling, true
	}
	return 0, true
}

// MonthlyCost computes the metered cost for a Pro plan over a usage count.
func (p Plan) MonthlyCost(events int64) decimal.Decimal {
	if p.Kind != PlanPro {
		return decimal.Zero
	}
	return p.PricePerEvent.Mul(decimal.NewFromInt(events))
}

// Tenant is a customer organization, the top-level isolation boundary.
type Tenant struct {
	ID                string       `json:"id" db:"id"`
	Name              string       `json:"name" db:"name"`
	Plan              Plan         `json:"plan"`
	Status            TenantStatus `json:"status" db:"status"`
	BillingCustomerID *string      `json:"billing_customer_id,omitempty" db:"billing_customer_id"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

// TrialExpired reports whether a trial tenant is past its trial window.
func (t *Tenant) TrialExpired(now time.Time, trialPeriod time.Duration) bool {
	return t.Status == TenantTrial && now.After(t.CreatedAt.Add(trialPeriod))
}

// ParseTenantStatus validates a stored status string.
func ParseTenantStatus(s string) (TenantStatus, error) {
	switch TenantStatus(s) {
	case TenantActive, TenantTrial, TenantPastDue, TenantSuspended:
		return TenantStatus(s), nil
	}
	return "", fmt.Errorf("unknown tenant status %q", s)
}
