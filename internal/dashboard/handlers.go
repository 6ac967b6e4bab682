// Package dashboard provides JSON API endpoints for site operator analytics.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/innkeep/innkeep/internal/booking"
	"github.com/innkeep/innkeep/internal/payments"
	"github.com/innkeep/innkeep/internal/site"
	"github.com/innkeep/innkeep/internal/subscription"
)

// reservationScan bounds how many reservations a dashboard query walks.
const reservationScan = 1000

// SiteDirectory resolves sites and their accommodation types.
type SiteDirectory interface {
	Get(ctx context.Context, id string) (*site.Site, error)
	ListTypes(ctx context.Context, siteID string) ([]*site.AccommodationType, error)
}

// ReservationSource lists a site's reservations.
type ReservationSource interface {
	ListBySite(ctx context.Context, siteID string, limit int) ([]*booking.Reservation, error)
}

// RevenueSource summarizes settled reservation payments.
type RevenueSource interface {
	Revenue(ctx context.Context, reservationIDs []string, from, to time.Time) (*payments.RevenueSummary, error)
}

// SubscriptionSource reads a site's subscription standing.
type SubscriptionSource interface {
	GetBySite(ctx context.Context, siteID string) (*subscription.Subscription, error)
}

// Handler provides dashboard API endpoints.
type Handler struct {
	sites        SiteDirectory
	reservations ReservationSource
	revenue      RevenueSource
	subs         SubscriptionSource
}

// NewHandler creates a new dashboard handler.
func NewHandler(sites SiteDirectory, reservations ReservationSource, revenue RevenueSource, subs SubscriptionSource) *Handler {
	return &Handler{sites: sites, reservations: reservations, revenue: revenue, subs: subs}
}

// RegisterRoutes sets up dashboard routes under the given group.
// Routes require site ownership (enforced by caller middleware).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sites/:id/dashboard/overview", h.Overview)
	r.GET("/sites/:id/dashboard/occupancy", h.Occupancy)
	r.GET("/sites/:id/dashboard/revenue", h.Revenue)
	r.GET("/sites/:id/dashboard/schedule", h.Schedule)
}

// Overview returns the site profile, subscription standing, and booking counts.
func (h *Handler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	siteID := c.Param("id")

	s, err := h.sites.Get(ctx, siteID)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	reservations, err := h.reservations.ListBySite(ctx, siteID, reservationScan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	var pending, confirmed, upcoming int
	today := midnightUTC(time.Now())
	for _, r := range reservations {
		switch r.Status {
		case booking.StatusPending:
			pending++
		case booking.StatusConfirmed:
			confirmed++
			if !r.Range.Start.Before(today) {
				upcoming++
			}
		}
	}

	resp := gin.H{
		"site": gin.H{
			"id":     s.ID,
			"name":   s.Name,
			"slug":   s.Slug,
			"status": s.Status,
		},
		"reservations": gin.H{
			"pending":       pending,
			"confirmed":     confirmed,
			"upcomingStays": upcoming,
		},
	}

	if sub, err := h.subs.GetBySite(ctx, siteID); err == nil {
		standing := gin.H{
			"plan":      sub.Plan,
			"status":    sub.Status,
			"periodEnd": sub.PeriodEnd,
		}
		if sub.GraceDeadline != nil {
			standing["graceDeadline"] = sub.GraceDeadline
		}
		resp["subscription"] = standing
	}

	c.JSON(http.StatusOK, resp)
}

// TypeOccupancy is the occupancy of one accommodation type over a window.
type TypeOccupancy struct {
	TypeID       string  `json:"typeId"`
	Name         string  `json:"name"`
	BookedNights int     `json:"bookedNights"`
	UnitNights   int     `json:"unitNights"`
	Rate         float64 `json:"rate"`
}

// Occupancy returns booked nights against available unit-nights by type.
func (h *Handler) Occupancy(c *gin.Context) {
	ctx := c.Request.Context()
	siteID := c.Param("id")

	window, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_range", "message": err.Error()})
		return
	}

	types, err := h.sites.ListTypes(ctx, siteID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	reservations, err := h.reservations.ListBySite(ctx, siteID, reservationScan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	bookedByType := make(map[string]int)
	for _, r := range reservations {
		if r.Status != booking.StatusConfirmed {
			continue
		}
		bookedByType[r.AccommodationTypeID] += overlapNights(r.Range, window)
	}

	windowNights := window.Nights()
	result := make([]TypeOccupancy, 0, len(types))
	for _, t := range types {
		occ := TypeOccupancy{
			TypeID:       t.ID,
			Name:         t.Name,
			BookedNights: bookedByType[t.ID],
			UnitNights:   t.CapacityUnits * windowNights,
		}
		if occ.UnitNights > 0 {
			occ.Rate = float64(occ.BookedNights) / float64(occ.UnitNights)
		}
		result = append(result, occ)
	}

	c.JSON(http.StatusOK, gin.H{
		"window":    window,
		"occupancy": result,
	})
}

// Revenue returns the settled revenue split for a period.
func (h *Handler) Revenue(c *gin.Context) {
	ctx := c.Request.Context()
	siteID := c.Param("id")

	from, to := parseTimeRange(c)

	reservations, err := h.reservations.ListBySite(ctx, siteID, reservationScan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	ids := make([]string, 0, len(reservations))
	for _, r := range reservations {
		ids = append(ids, r.ID)
	}

	summary, err := h.revenue.Revenue(ctx, ids, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":       from,
		"to":         to,
		"gross":      summary.Gross,
		"commission": summary.Commission,
		"net":        summary.Net,
		"payments":   summary.Count,
	})
}

// Schedule returns upcoming arrivals and departures.
func (h *Handler) Schedule(c *gin.Context) {
	ctx := c.Request.Context()
	siteID := c.Param("id")

	days := 7
	if v := c.Query("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 31 {
			days = n
		}
	}

	today := midnightUTC(time.Now())
	horizon := today.AddDate(0, 0, days)

	reservations, err := h.reservations.ListBySite(ctx, siteID, reservationScan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	var arrivals, departures []*booking.Reservation
	for _, r := range reservations {
		if r.Status != booking.StatusConfirmed {
			continue
		}
		if !r.Range.Start.Before(today) && r.Range.Start.Before(horizon) {
			arrivals = append(arrivals, r)
		}
		if !r.Range.End.Before(today) && r.Range.End.Before(horizon) {
			departures = append(departures, r)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"days":       days,
		"arrivals":   arrivals,
		"departures": departures,
	})
}

// overlapNights counts the nights a reservation spends inside the window.
func overlapNights(stay, window booking.DateRange) int {
	start := stay.Start
	if window.Start.After(start) {
		start = window.Start
	}
	end := stay.End
	if window.End.Before(end) {
		end = window.End
	}
	if !start.Before(end) {
		return 0
	}
	return int(end.Sub(start).Hours() / 24)
}

// parseWindow reads from/to date params, defaulting to the next 30 days.
func parseWindow(c *gin.Context) (booking.DateRange, error) {
	now := time.Now()
	start := c.DefaultQuery("from", now.Format(booking.DateFormat))
	end := c.DefaultQuery("to", now.AddDate(0, 0, 30).Format(booking.DateFormat))
	return booking.ParseDateRange(start, end)
}

func parseTimeRange(c *gin.Context) (from, to time.Time) {
	to = time.Now()
	from = to.AddDate(0, 0, -30) // default: last 30 days

	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	return
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
