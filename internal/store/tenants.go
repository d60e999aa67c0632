package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/models"
)

// CreateTenant inserts a tenant and returns it with generated fields set.
func (s *Store) CreateTenant(ctx context.Context, name string, plan models.Plan, status models.TenantStatus) (*models.Tenant, error) {
	t := &models.Tenant{
		ID:     uuid.New().String(),
		Name:   name,
		Plan:   plan,
		Status: status,
	}
	err := s.queryRow(ctx, `
		INSERT INTO tenants (id, name, plan_kind, plan_monthly_events, plan_price_per_event, plan_unlimited, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at`,
		t.ID, t.Name, string(t.Plan.Kind), t.Plan.MonthlyEvents, t.Plan.PricePerEvent.String(), t.Plan.Unlimited, string(t.Status),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return t, nil
}

// TenantByID loads one tenant.
func (s *Store) TenantByID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return s.scanTenant(s.queryRow(ctx, `
		SELECT id, name, plan_kind, plan_monthly_events, plan_price_per_event, plan_unlimited, status, billing_customer_id, created_at, updated_at
		FROM tenants WHERE id = $1`, tenantID))
}

// TenantByBillingCustomer resolves a billing provider customer id to a tenant.
func (s *Store) TenantByBillingCustomer(ctx context.Context, customerID string) (*models.Tenant, error) {
	return s.scanTenant(s.queryRow(ctx, `
		SELECT id, name, plan_kind, plan_monthly_events, plan_price_per_event, plan_unlimited, status, billing_customer_id, created_at, updated_at
		FROM tenants WHERE billing_customer_id = $1`, customerID))
}

// UpdateTenantStatus sets a tenant's status. The caller is responsible for
// transition validity; suspension is idempotent by design.
func (s *Store) UpdateTenantStatus(ctx context.Context, tenantID string, status models.TenantStatus) error {
	res, err := s.exec(ctx, `UPDATE tenants SET status = $2, updated_at = NOW() WHERE id = $1`, tenantID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.CodeNotFound, "tenant not found")
	}
	return nil
}

// SetTenantBillingCustomer attaches the billing provider's customer id.
func (s *Store) SetTenantBillingCustomer(ctx context.Context, tenantID, customerID string) error {
	_, err := s.exec(ctx, `UPDATE tenants SET billing_customer_id = $2, updated_at = NOW() WHERE id = $1`, tenantID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set billing customer: %w", err)
	}
	return nil
}

// TrialTenantsCreatedBefore lists trial tenants older than the cutoff, for
// the trial expiry sweep.
func (s *Store) TrialTenantsCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Tenant, error) {
	rows, err := s.query(ctx, `
		SELECT id, name, plan_kind, plan_monthly_events, plan_price_per_event, plan_unlimited, status, billing_customer_id, created_at, updated_at
		FROM tenants WHERE status = 'trial' AND created_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list trial tenants: %w", err)
	}
	defer rows.Close()

	var out []*models.Tenant
	for rows.Next() {
		t, err := s.scanTenantRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanTenant(row *sql.Row) (*models.Tenant, error) {
	t, err := s.scanTenantRow(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.CodeNotFound, "tenant not found")
	}
	return t, err
}

func (s *Store) scanTenantRow(row rowScanner) (*models.Tenant, error) {
	var (
		t         models.Tenant
		planKind  string
		price     string
		status    string
		billingID sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &planKind, &t.Plan.MonthlyEvents, &price, &t.Plan.Unlimited, &status, &billingID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Plan.Kind = models.PlanKind(planKind)
	if t.Plan.PricePerEvent, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("corrupt price_per_event for tenant %s: %w", t.ID, err)
	}
	if t.Status, err = models.ParseTenantStatus(status); err != nil {
		return nil, fmt.Errorf("corrupt status for tenant %s: %w", t.ID, err)
	}
	if billingID.Valid {
		t.BillingCustomerID = &billingID.String
	}
	return &t, nil
}
