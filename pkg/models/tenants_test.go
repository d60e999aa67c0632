package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to TenantStatus
		want     bool
	}{
		{TenantTrial, TenantActive, true},
		{TenantTrial, TenantSuspended, true},
		{TenantTrial, TenantPastDue, false},
		{TenantActive, TenantPastDue, true},
		{TenantActive, TenantSuspended, true},
		{TenantActive, TenantTrial, false},
		{TenantPastDue, TenantActive, true},
		{TenantPastDue, TenantSuspended, true},
		{TenantSuspended, TenantActive, false},
		{TenantSuspended, TenantPastDue, false},
		{TenantSuspended, TenantTrial, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanUsePlatform(t *testing.T) {
	if !TenantActive.CanUsePlatform() || !TenantTrial.CanUsePlatform() {
		t.Fatal("active and trial tenants must be able to use the platform")
	}
	if TenantPastDue.CanUsePlatform() || TenantSuspended.CanUsePlatform() {
		t.Fatal("past_due and suspended tenants must be locked out")
	}
}

func TestEventCap(t *testing.T) {
	free := Plan{Kind: PlanFree, MonthlyEvents: 10000}
	if cap, capped := free.EventCap(5_000_000); !capped || cap != 10000 {
		t.Fatalf("free cap = %d, %v", cap, capped)
	}

	unlimited := Plan{Kind: PlanEnterprise, Unlimited: true}
	if _, capped := unlimited.EventCap(5_000_000); capped {
		t.Fatal("unlimited enterprise plan must be uncapped")
	}

	negotiated := Plan{Kind: PlanEnterprise}
	if cap, capped := negotiated.EventCap(5_000_000); !capped || cap != 5_000_000 {
		t.Fatalf("enterprise ceiling = %d, %v", cap, capped)
	}
}

func TestMonthlyCost(t *testing.T) {
	pro := Plan{Kind: PlanPro, PricePerEvent: decimal.RequireFromString("0.0001")}
	if got := pro.MonthlyCost(250000); !got.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("pro cost = %s, want 25", got)
	}
	free := Plan{Kind: PlanFree}
	if !free.MonthlyCost(250000).IsZero() {
		t.Fatal("free plan must cost zero")
	}
}

func TestTrialExpired(t *testing.T) {
	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	tenant := &Tenant{Status: TenantTrial, CreatedAt: created}
	period := 14 * 24 * time.Hour

	if tenant.TrialExpired(created.Add(13*24*time.Hour), period) {
		t.Fatal("trial expired too early")
	}
	if !tenant.TrialExpired(created.Add(15*24*time.Hour), period) {
		t.Fatal("trial should be expired after the period")
	}

	tenant.Status = TenantActive
	if tenant.TrialExpired(created.Add(15*24*time.Hour), period) {
		t.Fatal("non-trial tenants never trial-expire")
	}
}
