package booking

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/innkeep/innkeep/internal/validation"
)

// Handler provides HTTP endpoints for the booking core.
type Handler struct {
	service *Service
}

// NewHandler creates a new booking handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up guest-facing booking routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accommodation-types/:id/availability", h.CheckAvailability)
	r.POST("/reservations", h.CreateReservation)
	r.GET("/reservations/:id", h.GetReservation)
	r.POST("/reservations/:id/cancel", h.CancelReservation)
}

// RegisterSiteRoutes sets up operator routes (API-key-guarded by the caller).
func (h *Handler) RegisterSiteRoutes(r *gin.RouterGroup) {
	r.GET("/sites/:id/reservations", h.ListSiteReservations)
}

// CheckAvailability handles GET /v1/accommodation-types/:id/availability?start=&end=
func (h *Handler) CheckAvailability(c *gin.Context) {
	dr, err := ParseDateRange(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_date_range",
			"message": "start and end must be YYYY-MM-DD dates with start before end",
		})
		return
	}

	avail, err := h.service.CheckAvailability(c.Request.Context(), c.Param("id"), dr, c.Query("exclude"))
	if err != nil {
		if errors.Is(err, ErrTypeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Accommodation type not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute availability",
		})
		return
	}

	c.JSON(http.StatusOK, avail)
}

// createReservationRequest is the wire payload for POST /v1/reservations.
type createReservationRequest struct {
	AccommodationTypeID string `json:"accommodationTypeId" binding:"required"`
	Start               string `json:"start" binding:"required"`
	End                 string `json:"end" binding:"required"`
	Guests              int    `json:"guests" binding:"required"`
	GuestName           string `json:"guestName" binding:"required"`
	GuestEmail          string `json:"guestEmail" binding:"required"`
	GuestPhone          string `json:"guestPhone"`
}

// CreateReservation handles POST /v1/reservations
func (h *Handler) CreateReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("guest_name", req.GuestName),
		validation.MaxLength("guest_name", req.GuestName, 200),
		validation.Required("guest_email", req.GuestEmail),
		validation.ValidEmail("guest_email", req.GuestEmail),
		validation.ValidPhone("guest_phone", req.GuestPhone),
		validation.Positive("guests", req.Guests),
		validation.ValidDate("start", req.Start),
		validation.ValidDate("end", req.End),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	dr, err := ParseDateRange(req.Start, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_date_range",
			"message": "check-in must be before check-out",
		})
		return
	}

	r, err := h.service.Create(c.Request.Context(), CreateRequest{
		AccommodationTypeID: req.AccommodationTypeID,
		Range:               dr,
		Guests:              req.Guests,
		Guest: GuestInfo{
			FullName: validation.SanitizeString(req.GuestName, 200),
			Email:    validation.SanitizeString(req.GuestEmail, 254),
			Phone:    validation.SanitizeString(req.GuestPhone, 30),
		},
	})
	if err != nil {
		h.writeCreateError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"reservation": r,
		"checkoutUrl": r.CheckoutURL,
	})
}

// writeCreateError maps booking-path failures to the error taxonomy:
// rule violations and bad input are 4xx and never retried; a charge-start
// failure is a 502 the guest may retry by booking again.
func (h *Handler) writeCreateError(c *gin.Context, err error) {
	var violation *RuleViolation
	switch {
	case errors.As(err, &violation):
		status := http.StatusBadRequest
		code := "validation_failed"
		if violation.Rule == "units_free" {
			// Contention reads better as a conflict than a bad request.
			status = http.StatusConflict
			code = "no_units_available"
		}
		c.JSON(status, gin.H{
			"error":   code,
			"message": violation.Message,
			"rule":    violation.Rule,
		})
	case errors.Is(err, ErrNoUnits):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_units_available",
			"message": "No units available for these dates",
		})
	case errors.Is(err, ErrTypeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Accommodation type not found",
		})
	case errors.Is(err, ErrChargeStart):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "charge_failed",
			"message": "Payment could not be initiated, please try again",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create reservation",
		})
	}
}

// GetReservation handles GET /v1/reservations/:id
func (h *Handler) GetReservation(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Reservation not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load reservation",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservation": r})
}

// CancelReservation handles POST /v1/reservations/:id/cancel
func (h *Handler) CancelReservation(c *gin.Context) {
	r, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Reservation not found",
			})
		case errors.Is(err, ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_cancellable",
				"message": "Only confirmed reservations can be cancelled",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to cancel reservation",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservation": r})
}

// ListSiteReservations handles GET /v1/sites/:id/reservations
func (h *Handler) ListSiteReservations(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	reservations, next, err := h.service.ListBySitePage(c.Request.Context(), c.Param("id"), c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, ErrBadCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Malformed pagination cursor",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list reservations",
		})
		return
	}
	resp := gin.H{
		"reservations": reservations,
		"count":        len(reservations),
		"hasMore":      next != "",
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
