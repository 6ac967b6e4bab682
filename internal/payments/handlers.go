package payments

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody caps webhook payload size.
const maxWebhookBody = 1 << 20

// Handler provides the webhook endpoint and ledger reads.
type Handler struct {
	service   *Service
	processor *Processor
	sigHeader string
}

// NewHandler creates a payments handler. sigHeader names the provider's
// signature header (Stripe-Signature for the real provider).
func NewHandler(service *Service, processor *Processor, sigHeader string) *Handler {
	return &Handler{service: service, processor: processor, sigHeader: sigHeader}
}

// RegisterRoutes sets up the provider-facing webhook route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleWebhook)
}

// RegisterProtectedRoutes sets up operator ledger reads.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/reservations/:id/payments", h.ListForReservation)
	r.GET("/subscriptions/:id/payments", h.ListForSubscription)
}

// HandleWebhook handles POST /v1/webhooks/stripe. The raw body must
// reach signature verification untouched.
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Failed to read request body",
		})
		return
	}

	err = h.processor.HandleNotification(c.Request.Context(), payload, c.GetHeader(h.sigHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, ErrBadSignature):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
	case errors.Is(err, ErrUnresolvableRef):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unresolvable_reference",
			"message": "Payment references no known aggregate",
		})
	default:
		// Ask the provider to redeliver.
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "processing_failed",
			"message": "Webhook could not be processed",
		})
	}
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "payment_not_found",
				"message": "No such payment record",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load payment record",
		})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListForReservation handles GET /v1/reservations/:id/payments
func (h *Handler) ListForReservation(c *gin.Context) {
	h.listByTarget(c, TargetReservation, c.Param("id"))
}

// ListForSubscription handles GET /v1/subscriptions/:id/payments
func (h *Handler) ListForSubscription(c *gin.Context) {
	h.listByTarget(c, TargetSubscription, c.Param("id"))
}

func (h *Handler) listByTarget(c *gin.Context, kind TargetKind, targetID string) {
	recs, err := h.service.ListByTarget(c.Request.Context(), kind, targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list payment records",
		})
		return
	}
	if recs == nil {
		recs = []*PaymentRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": recs, "count": len(recs)})
}
