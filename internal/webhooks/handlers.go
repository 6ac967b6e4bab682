package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/innkeep/innkeep/internal/idgen"
)

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store Store
}

// NewHandler creates a new webhook handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up site-scoped webhook routes. Mount behind ownership middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sites/:id/webhooks", h.CreateEndpoint)
	r.GET("/sites/:id/webhooks", h.ListEndpoints)
	r.DELETE("/sites/:id/webhooks/:webhookId", h.DeleteEndpoint)
}

// CreateEndpointRequest for registering a webhook endpoint
type CreateEndpointRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// CreateEndpoint handles POST /v1/sites/:id/webhooks
func (h *Handler) CreateEndpoint(c *gin.Context) {
	siteID := c.Param("id")

	var req CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	events := make([]EventType, len(req.Events))
	for i, e := range req.Events {
		et := EventType(e)
		if !IsKnownEvent(et) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_event",
				"message": "Unknown event type: " + e,
			})
			return
		}
		events[i] = et
	}

	secret := generateSecret()

	ep := &Endpoint{
		ID:        idgen.WithPrefix("wh_"),
		SiteID:    siteID,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), ep); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": gin.H{
			"id":        ep.ID,
			"url":       ep.URL,
			"events":    ep.Events,
			"active":    ep.Active,
			"createdAt": ep.CreatedAt,
		},
		"secret": secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(timestamp + '.' + payload, secret)",
			"headers":   []string{"X-Innkeep-Signature", "X-Innkeep-Timestamp", "X-Innkeep-Event"},
		},
	})
}

// ListEndpoints handles GET /v1/sites/:id/webhooks
func (h *Handler) ListEndpoints(c *gin.Context) {
	siteID := c.Param("id")

	eps, err := h.store.GetBySite(c.Request.Context(), siteID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}

	// Don't expose secrets
	webhooks := make([]gin.H, len(eps))
	for i, ep := range eps {
		webhooks[i] = gin.H{
			"id":          ep.ID,
			"url":         ep.URL,
			"events":      ep.Events,
			"active":      ep.Active,
			"createdAt":   ep.CreatedAt,
			"lastSuccess": ep.LastSuccess,
			"lastError":   ep.LastError,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": webhooks,
	})
}

// DeleteEndpoint handles DELETE /v1/sites/:id/webhooks/:webhookId
func (h *Handler) DeleteEndpoint(c *gin.Context) {
	siteID := c.Param("id")
	webhookID := c.Param("webhookId")

	ep, err := h.store.Get(c.Request.Context(), webhookID)
	if err != nil || ep.SiteID != siteID {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook not found",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), webhookID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}

func generateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
