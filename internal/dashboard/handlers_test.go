package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/innkeep/innkeep/internal/booking"
	"github.com/innkeep/innkeep/internal/money"
	"github.com/innkeep/innkeep/internal/payments"
	"github.com/innkeep/innkeep/internal/site"
	"github.com/innkeep/innkeep/internal/subscription"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockSites struct {
	sites map[string]*site.Site
	types map[string][]*site.AccommodationType
}

func (m *mockSites) Get(_ context.Context, id string) (*site.Site, error) {
	if s, ok := m.sites[id]; ok {
		return s, nil
	}
	return nil, site.ErrNotFound
}

func (m *mockSites) ListTypes(_ context.Context, siteID string) ([]*site.AccommodationType, error) {
	return m.types[siteID], nil
}

type mockReservations struct {
	bySite map[string][]*booking.Reservation
}

func (m *mockReservations) ListBySite(_ context.Context, siteID string, _ int) ([]*booking.Reservation, error) {
	return m.bySite[siteID], nil
}

type mockRevenue struct {
	summary *payments.RevenueSummary
	gotIDs  []string
}

func (m *mockRevenue) Revenue(_ context.Context, reservationIDs []string, _, _ time.Time) (*payments.RevenueSummary, error) {
	m.gotIDs = reservationIDs
	return m.summary, nil
}

type mockSubs struct {
	sub *subscription.Subscription
}

func (m *mockSubs) GetBySite(_ context.Context, _ string) (*subscription.Subscription, error) {
	if m.sub == nil {
		return nil, subscription.ErrNotFound
	}
	return m.sub, nil
}

func day(s string) time.Time {
	t, _ := time.Parse(booking.DateFormat, s)
	return t
}

func stay(id, typeID string, status booking.Status, start, end string) *booking.Reservation {
	dr, _ := booking.NewDateRange(day(start), day(end))
	return &booking.Reservation{
		ID:                  id,
		SiteID:              "site_1",
		AccommodationTypeID: typeID,
		Range:               dr,
		Status:              status,
	}
}

func setupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func newTestHandler(reservations []*booking.Reservation) (*Handler, *mockRevenue) {
	sites := &mockSites{
		sites: map[string]*site.Site{
			"site_1": {ID: "site_1", Name: "Pine Lodge", Slug: "pine-lodge", Status: site.StatusActive},
		},
		types: map[string][]*site.AccommodationType{
			"site_1": {
				{ID: "type_cabin", SiteID: "site_1", Name: "Cabin", CapacityUnits: 2},
			},
		},
	}
	revenue := &mockRevenue{summary: &payments.RevenueSummary{
		Gross:      money.MustNew(40000, "EUR"),
		Commission: money.MustNew(2000, "EUR"),
		Net:        money.MustNew(38000, "EUR"),
		Count:      2,
	}}
	subs := &mockSubs{sub: &subscription.Subscription{
		ID:     "sub_1",
		SiteID: "site_1",
		Plan:   subscription.PlanStarter,
		Status: subscription.StatusActive,
	}}
	h := NewHandler(sites, &mockReservations{bySite: map[string][]*booking.Reservation{"site_1": reservations}}, revenue, subs)
	return h, revenue
}

func doGet(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &body)
	}
	return w, body
}

func TestOverview(t *testing.T) {
	future := time.Now().AddDate(0, 0, 10).Format(booking.DateFormat)
	futureEnd := time.Now().AddDate(0, 0, 12).Format(booking.DateFormat)

	h, _ := newTestHandler([]*booking.Reservation{
		stay("res_1", "type_cabin", booking.StatusConfirmed, future, futureEnd),
		stay("res_2", "type_cabin", booking.StatusPending, future, futureEnd),
		stay("res_3", "type_cabin", booking.StatusCancelled, future, futureEnd),
	})
	r := setupRouter(h)

	w, body := doGet(t, r, "/v1/sites/site_1/dashboard/overview")
	assert.Equal(t, http.StatusOK, w.Code)

	siteInfo := body["site"].(map[string]interface{})
	assert.Equal(t, "Pine Lodge", siteInfo["name"])

	counts := body["reservations"].(map[string]interface{})
	assert.Equal(t, float64(1), counts["confirmed"])
	assert.Equal(t, float64(1), counts["pending"])
	assert.Equal(t, float64(1), counts["upcomingStays"])

	standing := body["subscription"].(map[string]interface{})
	assert.Equal(t, "active", standing["status"])
	assert.Equal(t, "starter", standing["plan"])
}

func TestOverview_UnknownSite(t *testing.T) {
	h, _ := newTestHandler(nil)
	r := setupRouter(h)

	w, _ := doGet(t, r, "/v1/sites/site_nope/dashboard/overview")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOccupancy(t *testing.T) {
	h, _ := newTestHandler([]*booking.Reservation{
		stay("res_1", "type_cabin", booking.StatusConfirmed, "2026-06-01", "2026-06-05"),
		stay("res_2", "type_cabin", booking.StatusConfirmed, "2026-06-08", "2026-06-10"),
		stay("res_3", "type_cabin", booking.StatusPending, "2026-06-01", "2026-06-30"),
	})
	r := setupRouter(h)

	w, body := doGet(t, r, "/v1/sites/site_1/dashboard/occupancy?from=2026-06-01&to=2026-06-11")
	assert.Equal(t, http.StatusOK, w.Code)

	occ := body["occupancy"].([]interface{})
	assert.Len(t, occ, 1)

	// 4 + 2 confirmed nights over 2 units * 10 window nights. Pending stays
	// do not count toward occupancy.
	cabin := occ[0].(map[string]interface{})
	assert.Equal(t, float64(6), cabin["bookedNights"])
	assert.Equal(t, float64(20), cabin["unitNights"])
	assert.InDelta(t, 0.3, cabin["rate"].(float64), 0.001)
}

func TestOccupancy_ClipsToWindow(t *testing.T) {
	h, _ := newTestHandler([]*booking.Reservation{
		stay("res_1", "type_cabin", booking.StatusConfirmed, "2026-05-28", "2026-06-20"),
	})
	r := setupRouter(h)

	w, body := doGet(t, r, "/v1/sites/site_1/dashboard/occupancy?from=2026-06-01&to=2026-06-05")
	assert.Equal(t, http.StatusOK, w.Code)

	cabin := body["occupancy"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(4), cabin["bookedNights"])
}

func TestOccupancy_InvalidRange(t *testing.T) {
	h, _ := newTestHandler(nil)
	r := setupRouter(h)

	w, _ := doGet(t, r, "/v1/sites/site_1/dashboard/occupancy?from=2026-06-11&to=2026-06-01")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevenue(t *testing.T) {
	h, revenue := newTestHandler([]*booking.Reservation{
		stay("res_1", "type_cabin", booking.StatusConfirmed, "2026-06-01", "2026-06-05"),
		stay("res_2", "type_cabin", booking.StatusPending, "2026-06-08", "2026-06-10"),
	})
	r := setupRouter(h)

	w, body := doGet(t, r, "/v1/sites/site_1/dashboard/revenue")
	assert.Equal(t, http.StatusOK, w.Code)

	// Every reservation id feeds the summary query. Filtering by payment
	// status happens in the payments service.
	assert.ElementsMatch(t, []string{"res_1", "res_2"}, revenue.gotIDs)
	assert.Equal(t, float64(2), body["payments"])

	gross := body["gross"].(map[string]interface{})
	assert.Equal(t, "400.00", gross["amount"])
	assert.Equal(t, "EUR", gross["currency"])
}

func TestSchedule(t *testing.T) {
	in3 := time.Now().AddDate(0, 0, 3).Format(booking.DateFormat)
	in5 := time.Now().AddDate(0, 0, 5).Format(booking.DateFormat)
	in20 := time.Now().AddDate(0, 0, 20).Format(booking.DateFormat)
	in22 := time.Now().AddDate(0, 0, 22).Format(booking.DateFormat)

	h, _ := newTestHandler([]*booking.Reservation{
		stay("res_soon", "type_cabin", booking.StatusConfirmed, in3, in5),
		stay("res_later", "type_cabin", booking.StatusConfirmed, in20, in22),
	})
	r := setupRouter(h)

	w, body := doGet(t, r, "/v1/sites/site_1/dashboard/schedule?days=7")
	assert.Equal(t, http.StatusOK, w.Code)

	arrivals := body["arrivals"].([]interface{})
	assert.Len(t, arrivals, 1)
	departures := body["departures"].([]interface{})
	assert.Len(t, departures, 1)
}

func TestOverlapNights(t *testing.T) {
	window, _ := booking.ParseDateRange("2026-06-01", "2026-06-11")

	inside, _ := booking.ParseDateRange("2026-06-02", "2026-06-04")
	assert.Equal(t, 2, overlapNights(inside, window))

	spanning, _ := booking.ParseDateRange("2026-05-01", "2026-07-01")
	assert.Equal(t, 10, overlapNights(spanning, window))

	outside, _ := booking.ParseDateRange("2026-07-01", "2026-07-05")
	assert.Equal(t, 0, overlapNights(outside, window))
}
