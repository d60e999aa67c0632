package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/harborgrid/beacon/internal/gate"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/models"
)

type createTenantRequest struct {
	Name  string `json:"name" binding:"required"`
	Trial bool   `json:"trial"`
	Plan  struct {
		Kind          string `json:"kind" binding:"required"`
		MonthlyEvents int64  `json:"monthly_events"`
		PricePerEvent string `json:"price_per_event"`
		Unlimited     bool   `json:"unlimited"`
	} `json:"plan"`
}

// CreateTenant handles POST /admin/tenants.
func (h *Handlers) CreateTenant(c *gin.Context) {
	auth := h.auth(c)
	if err := gate.RequireScope(auth, models.ScopeAdminWrite); err != nil {
		h.respondError(c, err)
		return
	}

	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apierr.Wrap(apierr.CodeInvalidPayload, "request body undecodable", err))
		return
	}

	plan := models.Plan{
		Kind:          models.PlanKind(req.Plan.Kind),
		MonthlyEvents: req.Plan.MonthlyEvents,
		Unlimited:     req.Plan.Unlimited,
	}
	switch plan.Kind {
	case models.PlanFree, models.PlanPro, models.PlanEnterprise:
	default:
		h.respondError(c, apierr.Newf(apierr.CodeInvalidPayload, "unknown plan kind %q", req.Plan.Kind))
		return
	}
	if req.Plan.PricePerEvent != "" {
		price, err := decimal.NewFromString(req.Plan.PricePerEvent)
		if err != nil {
			h.respondError(c, apierr.Wrap(apierr.CodeInvalidPayload, "price_per_event undecodable", err))
			return
		}
		plan.PricePerEvent = price
	}

	status := models.TenantActive
	if req.Trial {
		status = models.TenantTrial
	}

	tenant, err := h.store.CreateTenant(c.Request.Context(), req.Name, plan, status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

type createProjectRequest struct {
	Name   string `json:"name" binding:"required"`
	Limits struct {
		MaxConnections  int   `json:"max_connections"`
		MaxEventsPerSec int   `json:"max_events_per_sec"`
		MaxPayloadSize  int64 `json:"max_payload_size"`
	} `json:"limits"`
}

// CreateProject handles POST /admin/projects. Projects are created under
// the caller's tenant.
func (h *Handlers) CreateProject(c *gin.Context) {
	auth := h.auth(c)
	if err := gate.RequireScope(auth, models.ScopeAdminWrite); err != nil {
		h.respondError(c, err)
		return
	}

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apierr.Wrap(apierr.CodeInvalidPayload, "request body undecodable", err))
		return
	}

	project, err := h.store.CreateProject(c.Request.Context(), auth.TenantID, req.Name, models.ProjectLimits{
		MaxConnections:  req.Limits.MaxConnections,
		MaxEventsPerSec: req.Limits.MaxEventsPerSec,
		MaxPayloadSize:  req.Limits.MaxPayloadSize,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

type createAPIKeyRequest struct {
	ProjectID       string     `json:"project_id" binding:"required"`
	Scopes          []string   `json:"scopes" binding:"required"`
	RateLimitPerSec int        `json:"rate_limit_per_sec"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

type createAPIKeyResponse struct {
	Key *models.APIKey `json:"key"`
	// Secret is returned exactly once; only its lookup hash is stored.
	Secret string `json:"secret"`
}

// CreateAPIKey handles POST /admin/api-keys.
func (h *Handlers) CreateAPIKey(c *gin.Context) {
	auth := h.auth(c)
	if err := gate.RequireScope(auth, models.ScopeAdminWrite); err != nil {
		h.respondError(c, err)
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apierr.Wrap(apierr.CodeInvalidPayload, "request body undecodable", err))
		return
	}
	scopes, err := models.ParseScopes(req.Scopes)
	if err != nil {
		h.respondError(c, apierr.Wrap(apierr.CodeInvalidPayload, "unknown scope", err))
		return
	}
	if req.RateLimitPerSec <= 0 {
		req.RateLimitPerSec = 100
	}

	// The project must exist within the caller's tenant before a key can
	// bind to it.
	if _, err := h.store.ProjectByID(c.Request.Context(), auth.TenantID, req.ProjectID); err != nil {
		h.respondError(c, err)
		return
	}

	secret, err := gate.GenerateSecret()
	if err != nil {
		h.respondError(c, apierr.Fatal("key generation failed", err))
		return
	}
	lookup, err := gate.LookupHash(h.hashKey, secret)
	if err != nil {
		h.respondError(c, apierr.Fatal("lookup hash derivation failed", err))
		return
	}

	key := &models.APIKey{
		TenantID:        auth.TenantID,
		ProjectID:       req.ProjectID,
		LookupHash:      lookup,
		Scopes:          scopes,
		RateLimitPerSec: req.RateLimitPerSec,
		ExpiresAt:       req.ExpiresAt,
	}
	if err := h.store.CreateAPIKey(c.Request.Context(), key); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createAPIKeyResponse{Key: key, Secret: secret})
}

// RevokeAPIKey handles DELETE /admin/api-keys/:id. Revocation takes effect
// on the next authentication attempt.
func (h *Handlers) RevokeAPIKey(c *gin.Context) {
	auth := h.auth(c)
	if err := gate.RequireScope(auth, models.ScopeAdminWrite); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.store.RevokeAPIKey(c.Request.Context(), auth.TenantID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
