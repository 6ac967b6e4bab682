package site

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/innkeep/innkeep/internal/auth"
	"github.com/innkeep/innkeep/internal/validation"
)

// Handler provides HTTP endpoints for site management.
type Handler struct {
	service *Service
}

// NewHandler creates a new site handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public site routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sites", h.RegisterSite)
	r.GET("/sites/:id", h.GetSite)
	r.GET("/sites/:id/accommodation-types", h.ListTypes)
	r.GET("/accommodation-types/:id", h.GetType)
}

// RegisterProtectedRoutes sets up operator routes (API-key ownership
// enforced by middleware upstream).
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.PATCH("/sites/:id", h.UpdateSite)
	r.POST("/sites/:id/collector", h.ConnectCollector)
	r.POST("/sites/:id/accommodation-types", h.CreateType)
}

// RegisterCatalogueRoutes sets up type mutations keyed by type id. These
// sit outside the site-param ownership group; the handler checks the
// authenticated site against the type's owner itself.
func (h *Handler) RegisterCatalogueRoutes(r *gin.RouterGroup) {
	r.PATCH("/accommodation-types/:id", h.UpdateType)
}

type registerSiteRequest struct {
	Name          string `json:"name" binding:"required"`
	Slug          string `json:"slug" binding:"required"`
	OperatorEmail string `json:"operatorEmail" binding:"required"`
	Plan          string `json:"plan"`
}

// RegisterSite handles POST /v1/sites
func (h *Handler) RegisterSite(c *gin.Context) {
	var req registerSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 200),
		validation.ValidSlug("slug", req.Slug),
		validation.ValidEmail("operator_email", req.OperatorEmail),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	result, err := h.service.Register(c.Request.Context(), RegisterRequest{
		Name:          validation.SanitizeString(req.Name, 200),
		Slug:          req.Slug,
		OperatorEmail: req.OperatorEmail,
		Plan:          req.Plan,
	})
	if err != nil {
		if errors.Is(err, ErrSlugTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "slug_taken",
				"message": "A site with this slug already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register site",
		})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetSite handles GET /v1/sites/:id
func (h *Handler) GetSite(c *gin.Context) {
	st, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Site not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load site",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"site": st})
}

type updateSiteRequest struct {
	Name          string `json:"name"`
	OperatorEmail string `json:"operatorEmail"`
}

// UpdateSite handles PATCH /v1/sites/:id
func (h *Handler) UpdateSite(c *gin.Context) {
	var req updateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.MaxLength("name", req.Name, 200),
		validation.ValidEmail("operator_email", req.OperatorEmail),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	st, err := h.service.UpdateProfile(c.Request.Context(), c.Param("id"),
		validation.SanitizeString(req.Name, 200), req.OperatorEmail)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Site not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update site",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"site": st})
}

// ConnectCollector handles POST /v1/sites/:id/collector
func (h *Handler) ConnectCollector(c *gin.Context) {
	st, onboardingURL, err := h.service.ConnectCollector(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Site not found",
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "onboarding_failed",
			"message": "Failed to create collector account",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"site":          st,
		"onboardingUrl": onboardingURL,
	})
}

type typeRequest struct {
	Name          string `json:"name"`
	CapacityUnits int    `json:"capacityUnits"`
	MinGuests     int    `json:"minGuests"`
	MaxGuests     int    `json:"maxGuests"`
	NightlyRate   string `json:"nightlyRate"`
	Currency      string `json:"currency"`
	Active        *bool  `json:"active"`
}

// CreateType handles POST /v1/sites/:id/accommodation-types
func (h *Handler) CreateType(c *gin.Context) {
	var req typeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 200),
		validation.Positive("capacity_units", req.CapacityUnits),
		validation.Positive("min_guests", req.MinGuests),
		validation.Positive("max_guests", req.MaxGuests),
		validation.Required("nightly_rate", req.NightlyRate),
		validation.ValidAmount("nightly_rate", req.NightlyRate),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	at, err := h.service.CreateType(c.Request.Context(), c.Param("id"), TypeRequest{
		Name:          validation.SanitizeString(req.Name, 200),
		CapacityUnits: req.CapacityUnits,
		MinGuests:     req.MinGuests,
		MaxGuests:     req.MaxGuests,
		NightlyRate:   req.NightlyRate,
		Currency:      req.Currency,
	})
	if err != nil {
		h.writeTypeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"accommodationType": at})
}

// UpdateType handles PATCH /v1/accommodation-types/:id. The URL param
// is a type id, so ownership is checked against the loaded type rather
// than by the site-param middleware.
func (h *Handler) UpdateType(c *gin.Context) {
	var req typeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	existing, err := h.service.GetType(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTypeError(c, err)
		return
	}
	if owner := auth.GetAuthenticatedSite(c); owner != "" && owner != existing.SiteID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "This key does not operate this site.",
		})
		return
	}

	at, err := h.service.UpdateType(c.Request.Context(), c.Param("id"), TypeRequest{
		Name:          validation.SanitizeString(req.Name, 200),
		CapacityUnits: req.CapacityUnits,
		MinGuests:     req.MinGuests,
		MaxGuests:     req.MaxGuests,
		NightlyRate:   req.NightlyRate,
		Currency:      req.Currency,
		Active:        req.Active,
	})
	if err != nil {
		h.writeTypeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accommodationType": at})
}

func (h *Handler) writeTypeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTypeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Not found",
		})
	case errors.Is(err, ErrPlanLimit):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "plan_limit",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidBounds):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_bounds",
			"message": "Guest bounds must satisfy 1 <= min <= max",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}

// GetType handles GET /v1/accommodation-types/:id
func (h *Handler) GetType(c *gin.Context) {
	at, err := h.service.GetType(c.Request.Context(), c.Param("id"))
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
			"message": "Failed to load accommodation type",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accommodationType": at})
}

// ListTypes handles GET /v1/sites/:id/accommodation-types
func (h *Handler) ListTypes(c *gin.Context) {
	types, err := h.service.ListTypes(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list accommodation types",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accommodationTypes": types,
		"count":              len(types),
	})
}
