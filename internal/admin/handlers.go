package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/innkeep/innkeep/internal/reconciliation"
	"github.com/innkeep/innkeep/internal/site"
	"github.com/innkeep/innkeep/internal/subscription"
)

// SiteAdmin abstracts site operations for operator handlers.
type SiteAdmin interface {
	List(ctx context.Context, limit int) ([]*site.Site, error)
	MarkActive(ctx context.Context, siteID string) error
	MarkSuspended(ctx context.Context, siteID string) error
}

// SubscriptionAdmin abstracts subscription operations for operator handlers.
type SubscriptionAdmin interface {
	GetBySite(ctx context.Context, siteID string) (*subscription.Subscription, error)
	Cancel(ctx context.Context, siteID string) (*subscription.Subscription, error)
	ManualRetry(ctx context.Context, siteID string) (*subscription.Subscription, error)
}

// ReconciliationRunner runs payment reconciliation on demand.
type ReconciliationRunner interface {
	RunAll(ctx context.Context) (*reconciliation.Report, error)
	LastReport() *reconciliation.Report
}

// Handler provides operator HTTP endpoints.
type Handler struct {
	sites      SiteAdmin
	subs       SubscriptionAdmin
	reconciler ReconciliationRunner
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{}
}

// WithSites sets the site service for standing and suspension operations.
func (h *Handler) WithSites(s SiteAdmin) *Handler {
	h.sites = s
	return h
}

// WithSubscriptions sets the subscription service for forced billing actions.
func (h *Handler) WithSubscriptions(s SubscriptionAdmin) *Handler {
	h.subs = s
	return h
}

// WithReconciler sets the reconciliation runner for on-demand runs.
func (h *Handler) WithReconciler(r ReconciliationRunner) *Handler {
	h.reconciler = r
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/sites", h.listSites)
	r.POST("/admin/sites/:id/suspend", h.suspendSite)
	r.POST("/admin/sites/:id/reinstate", h.reinstateSite)
	r.POST("/admin/subscriptions/:siteId/cancel", h.cancelSubscription)
	r.POST("/admin/subscriptions/:siteId/retry", h.retryCharge)
	r.POST("/admin/reconcile", h.triggerReconciliation)
	r.GET("/admin/reconcile/latest", h.latestReport)
}

// listSites returns all sites joined with their subscription standing.
func (h *Handler) listSites(c *gin.Context) {
	if h.sites == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "site service not configured"})
		return
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	sites, err := h.sites.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sites", "message": err.Error()})
		return
	}

	rows := make([]SiteStanding, 0, len(sites))
	for _, s := range sites {
		var sub *subscription.Subscription
		if h.subs != nil {
			if got, err := h.subs.GetBySite(c.Request.Context(), s.ID); err == nil {
				sub = got
			}
		}
		rows = append(rows, standingFor(s, sub))
	}

	c.JSON(http.StatusOK, gin.H{"sites": rows, "count": len(rows)})
}

// suspendSite takes a site out of service without touching its subscription.
func (h *Handler) suspendSite(c *gin.Context) {
	if h.sites == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "site service not configured"})
		return
	}

	siteID := c.Param("id")
	if err := h.sites.MarkSuspended(c.Request.Context(), siteID); err != nil {
		if errors.Is(err, site.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "site not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to suspend site", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"suspended": true, "siteId": siteID})
}

// reinstateSite returns a suspended site to service.
func (h *Handler) reinstateSite(c *gin.Context) {
	if h.sites == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "site service not configured"})
		return
	}

	siteID := c.Param("id")
	if err := h.sites.MarkActive(c.Request.Context(), siteID); err != nil {
		if errors.Is(err, site.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "site not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reinstate site", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reinstated": true, "siteId": siteID})
}

// cancelSubscription force-cancels a site's subscription, for operator
// intervention when dunning has run its course.
func (h *Handler) cancelSubscription(c *gin.Context) {
	if h.subs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscription service not configured"})
		return
	}

	siteID := c.Param("siteId")
	sub, err := h.subs.Cancel(c.Request.Context(), siteID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true, "subscription": sub})
}

// retryCharge kicks an immediate charge attempt for a past-due subscription.
func (h *Handler) retryCharge(c *gin.Context) {
	if h.subs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscription service not configured"})
		return
	}

	siteID := c.Param("siteId")
	sub, err := h.subs.ManualRetry(c.Request.Context(), siteID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "retry_rejected", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"retried": true, "subscription": sub})
}

// triggerReconciliation runs an on-demand payment reconciliation pass.
func (h *Handler) triggerReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation not configured"})
		return
	}

	report, err := h.reconciler.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// latestReport returns the most recent reconciliation report, if any run
// has completed since startup.
func (h *Handler) latestReport(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation not configured"})
		return
	}

	report := h.reconciler.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_report", "message": "no reconciliation run has completed yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}
