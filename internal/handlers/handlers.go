// Package handlers is the external surface: REST ingress, admin and billing
// endpoints, plus the WebSocket and SSE subscriber transports. Handlers
// translate between the wire and the core; policy lives in the core
// packages.
package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/harborgrid/beacon/internal/billing"
	"github.com/harborgrid/beacon/internal/gate"
	"github.com/harborgrid/beacon/internal/ingress"
	"github.com/harborgrid/beacon/internal/observer"
	"github.com/harborgrid/beacon/internal/quota"
	"github.com/harborgrid/beacon/internal/registry"
	"github.com/harborgrid/beacon/internal/replay"
	"github.com/harborgrid/beacon/internal/store"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

const authContextKey = "auth_context"

// Handlers carries the wired core components.
type Handlers struct {
	gate      *gate.Gate
	publisher *ingress.Publisher
	replayer  *replay.Engine
	registry  *registry.Registry
	store     *store.Store
	quota     *quota.Tracker
	billing   *billing.Processor
	hashKey   []byte
	logger    logging.Logger
	obs       observer.Observer
}

// New builds the handler set.
func New(g *gate.Gate, pub *ingress.Publisher, rep *replay.Engine, reg *registry.Registry, st *store.Store, qt *quota.Tracker, bp *billing.Processor, hashKey []byte, logger logging.Logger, obs observer.Observer) *Handlers {
	if obs == nil {
		obs = observer.Nop{}
	}
	return &Handlers{
		gate:      g,
		publisher: pub,
		replayer:  rep,
		registry:  reg,
		store:     st,
		quota:     qt,
		billing:   bp,
		hashKey:   hashKey,
		logger:    logger,
		obs:       obs,
	}
}

// RegisterRoutes attaches all routes to the router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	authed := router.Group("/", h.AuthMiddleware())

	authed.POST("/events", h.PublishEvent)
	authed.GET("/events/replay", h.ReplayEvents)
	authed.GET("/ws", h.ServeWebSocket)
	authed.GET("/sse", h.ServeSSE)

	admin := authed.Group("/admin")
	admin.POST("/tenants", h.CreateTenant)
	admin.POST("/projects", h.CreateProject)
	admin.POST("/api-keys", h.CreateAPIKey)
	admin.DELETE("/api-keys/:id", h.RevokeAPIKey)

	authed.GET("/billing/usage", h.GetUsage)
	// Webhook intake authenticates by payload signature, not by credential.
	router.POST("/billing/stripe-webhook", h.StripeWebhook)
}

// AuthMiddleware authenticates every request through the gate and tracks
// the api_requests usage metric.
func (h *Handlers) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth, err := h.gate.Authenticate(c.Request.Context(), extractCredential(c))
		if err != nil {
			h.respondError(c, err)
			c.Abort()
			return
		}
		c.Set(authContextKey, auth)
		c.Set("tenant_id", auth.TenantID)
		h.quota.Track(auth.TenantID, auth.ProjectID, models.MetricAPIRequests, 1)
		c.Next()
	}
}

// extractCredential pulls the raw credential from the Authorization header
// or, for browser transports that cannot set headers, the access_token
// query parameter.
func extractCredential(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		return strings.TrimPrefix(header, "Bearer ")
	case strings.HasPrefix(header, "ApiKey "):
		return strings.TrimPrefix(header, "ApiKey ")
	case header != "":
		return header
	}
	return c.Query("access_token")
}

func (h *Handlers) auth(c *gin.Context) *gate.AuthContext {
	v, _ := c.Get(authContextKey)
	auth, _ := v.(*gate.AuthContext)
	return auth
}

// respondError renders any error as the standard envelope via the total
// code-to-status mapping.
func (h *Handlers) respondError(c *gin.Context, err error) {
	ae := apierr.AsError(err)
	if ae.Class == apierr.ClassFatal || ae.Code == apierr.CodeInternal {
		h.logger.WithError(err).WithFields(logging.Fields{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString("request_id"),
		}).Error("Request failed")
	}
	c.JSON(apierr.HTTPStatus(ae.Code), apierr.ToEnvelope(err, c.GetString("request_id")))
}
