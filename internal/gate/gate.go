// Package gate authenticates every request entering the platform and
// enforces per-credential rate limits. It is the only component that sees
// raw credentials.
package gate

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

// PrincipalKind discriminates the credential classes.
type PrincipalKind string

const (
	PrincipalAPIKey PrincipalKind = "api_key"
	PrincipalUser   PrincipalKind = "user"
)

// DefaultUserRateLimit is the per-second allowance for JWT principals,
// which carry no per-credential limit of their own.
const DefaultUserRateLimit = 1000

// AuthContext is the proof of authentication attached to a request. Request
// handlers never see raw credentials, only this.
type AuthContext struct {
	TenantID  string
	ProjectID string
	Scopes    models.ScopeSet
	RateLimit int
	Principal PrincipalKind
	APIKeyID  string
	UserID    string

	// Tenant is the loaded tenant row backing the status check, carried so
	// downstream admission does not re-read it within the same request.
	Tenant *models.Tenant
}

// Store is the identity lookup surface the gate depends on.
type Store interface {
	APIKeyByLookupHash(ctx context.Context, lookupHash string) (*models.APIKey, error)
	TenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Gate authenticates raw credentials into AuthContexts.
type Gate struct {
	store     Store
	limiter   *Limiter
	jwtSecret []byte
	hashKey   []byte
	logger    logging.Logger
	obs       observer.Observer
	now       func() time.Time
}

// New builds a gate. jwtSecret signs user tokens (HS256); hashKey keys the
// API key lookup hash.
func New(store Store, limiter *Limiter, jwtSecret, hashKey []byte, logger logging.Logger, obs observer.Observer) *Gate {
	if obs == nil {
		obs = observer.Nop{}
	}
	return &Gate{
		store:     store,
		limiter:   limiter,
		jwtSecret: jwtSecret,
		hashKey:   hashKey,
		logger:    logger,
		obs:       obs,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// Authenticate validates a raw credential and applies the tenant status
// check plus the per-credential rate limit. The checks run in a fixed
// order: classify, validate, tenant status, rate limit.
func (g *Gate) Authenticate(ctx context.Context, raw string) (*AuthContext, error) {
	if raw == "" {
		return nil, apierr.New(apierr.CodeMissingAuth, "no credential presented")
	}

	var (
		auth     *AuthContext
		limitKey string
		err      error
	)
	if strings.HasPrefix(raw, KeyPrefix) {
		auth, limitKey, err = g.authenticateAPIKey(ctx, raw)
	} else {
		auth, limitKey, err = g.authenticateToken(ctx, raw)
	}
	if err != nil {
		return nil, err
	}

	if !auth.Tenant.Status.CanUsePlatform() {
		return nil, apierr.New(apierr.CodeTenantSuspended, "tenant is not active")
	}

	if !g.limiter.Allow(limitKey, auth.RateLimit) {
		g.obs.Observe(ctx, observer.Event{
			Kind:     observer.KindRateLimited,
			TenantID: auth.TenantID,
			At:       g.now().UTC(),
		})
		return nil, apierr.New(apierr.CodeRateLimited, "rate limit exceeded").
			WithDetails(map[string]interface{}{"limit_per_sec": auth.RateLimit})
	}
	return auth, nil
}

func (g *Gate) authenticateAPIKey(ctx context.Context, raw string) (*AuthContext, string, error) {
	lookup, err := LookupHash(g.hashKey, raw)
	if err != nil {
		return nil, "", apierr.Fatal("lookup hash derivation failed", err)
	}

	key, err := g.store.APIKeyByLookupHash(ctx, lookup)
	if err != nil {
		return nil, "", apierr.New(apierr.CodeInvalidAPIKey, "unknown api key")
	}
	if !key.IsActive {
		return nil, "", apierr.New(apierr.CodeInvalidAPIKey, "api key revoked")
	}
	if key.Expired(g.now()) {
		return nil, "", apierr.New(apierr.CodeExpiredAPIKey, "api key expired")
	}

	tenant, err := g.store.TenantByID(ctx, key.TenantID)
	if err != nil {
		return nil, "", apierr.Fatal("api key references missing tenant", err)
	}

	return &AuthContext{
		TenantID:  key.TenantID,
		ProjectID: key.ProjectID,
		Scopes:    key.Scopes,
		RateLimit: key.RateLimitPerSec,
		Principal: PrincipalAPIKey,
		APIKeyID:  key.ID,
		Tenant:    tenant,
	}, "key:" + key.ID, nil
}

// tokenClaims are the custom JWT claims on user tokens.
type tokenClaims struct {
	TenantID  string   `json:"tenant_id"`
	ProjectID string   `json:"project_id"`
	Scopes    []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (g *Gate) authenticateToken(ctx context.Context, raw string) (*AuthContext, string, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierr.Newf(apierr.CodeInvalidToken, "unexpected signing method %v", t.Header["alg"])
		}
		return g.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(g.now))
	if err != nil || !token.Valid {
		return nil, "", apierr.Wrap(apierr.CodeInvalidToken, "token validation failed", err)
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return nil, "", apierr.New(apierr.CodeInvalidToken, "token missing required claims")
	}

	scopes, err := models.ParseScopes(claims.Scopes)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.CodeInvalidToken, "token carries unknown scope", err)
	}

	tenant, err := g.store.TenantByID(ctx, claims.TenantID)
	if err != nil {
		return nil, "", apierr.New(apierr.CodeInvalidToken, "token references unknown tenant")
	}

	return &AuthContext{
		TenantID:  claims.TenantID,
		ProjectID: claims.ProjectID,
		Scopes:    scopes,
		RateLimit: DefaultUserRateLimit,
		Principal: PrincipalUser,
		UserID:    claims.Subject,
		Tenant:    tenant,
	}, "user:" + claims.Subject, nil
}

// IssueToken signs a user token. Exposed for the admin surface and tests.
func (g *Gate) IssueToken(userID, tenantID, projectID string, scopes models.ScopeSet, ttl time.Duration) (string, error) {
	now := g.now()
	claims := tokenClaims{
		TenantID:  tenantID,
		ProjectID: projectID,
		Scopes:    scopes.Strings(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.jwtSecret)
}

// RequireScope checks that the context carries a scope.
func RequireScope(auth *AuthContext, scope models.Scope) error {
	if !auth.Scopes.Has(scope) {
		return apierr.Newf(apierr.CodeInsufficientScope, "scope %s required", scope)
	}
	return nil
}
