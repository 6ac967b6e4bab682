package subscription

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for subscription management.
type Handler struct {
	service *Service
}

// NewHandler creates a new subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up operator subscription routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/sites/:id/subscription", h.GetBySite)
	r.POST("/sites/:id/subscription/cancel", h.Cancel)
	r.POST("/sites/:id/subscription/retry", h.Retry)
}

// RegisterRoutes sets up public subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans := make([]PlanConfig, 0, len(Plans))
	for _, p := range []PlanID{PlanStarter, PlanGrowth, PlanScale} {
		plans = append(plans, Plans[p])
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// GetBySite handles GET /v1/sites/:id/subscription
func (h *Handler) GetBySite(c *gin.Context) {
	sub, err := h.service.GetBySite(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Cancel handles POST /v1/sites/:id/subscription/cancel
func (h *Handler) Cancel(c *gin.Context) {
	sub, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Retry handles POST /v1/sites/:id/subscription/retry
func (h *Handler) Retry(c *gin.Context) {
	sub, err := h.service.ManualRetry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "subscription_not_found",
			"message": "No subscription for this site",
		})
	case errors.Is(err, ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "subscription_cancelled",
			"message": "Subscription is already cancelled",
		})
	case errors.Is(err, ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_retryable",
			"message": "Subscription is not awaiting payment",
		})
	case errors.Is(err, ErrRetriesExhausted):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "retries_exhausted",
			"message": "Retry attempts are exhausted; awaiting grace deadline",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process subscription request",
		})
	}
}
