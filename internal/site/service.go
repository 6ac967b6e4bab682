package site

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/innkeep/innkeep/internal/booking"
	"github.com/innkeep/innkeep/internal/idgen"
	"github.com/innkeep/innkeep/internal/money"
)

// parseRate parses a nightly rate; rates must be strictly positive.
func parseRate(rate, currency string) (money.Money, error) {
	m, err := money.Parse(rate, currency)
	if err != nil {
		return money.Money{}, fmt.Errorf("site: invalid nightly rate: %w", err)
	}
	if m.IsZero() {
		return money.Money{}, fmt.Errorf("site: nightly rate must be positive: %w", money.ErrInvalidAmount)
	}
	return m, nil
}

// Service implements site and catalogue business logic. It also serves
// the booking core as its TypeDirectory and SiteGate.
type Service struct {
	store     Store
	subs      SubscriptionChecker
	trials    SubscriptionStarter
	keys      KeyIssuer
	onboarder CollectorOnboarder
	logger    *slog.Logger
}

// NewService creates a new site service.
func NewService(store Store, subs SubscriptionChecker, logger *slog.Logger) *Service {
	return &Service{store: store, subs: subs, logger: logger}
}

// WithTrialStarter wires subscription trial creation into registration.
func (s *Service) WithTrialStarter(t SubscriptionStarter) *Service {
	s.trials = t
	return s
}

// WithKeyIssuer wires API key issuance into registration.
func (s *Service) WithKeyIssuer(k KeyIssuer) *Service {
	s.keys = k
	return s
}

// WithOnboarder wires connected-account creation for collector onboarding.
func (s *Service) WithOnboarder(o CollectorOnboarder) *Service {
	s.onboarder = o
	return s
}

// RegisterRequest contains the parameters for registering a site.
type RegisterRequest struct {
	Name          string
	Slug          string
	OperatorEmail string
	Plan          string
}

// RegisterResult is the site plus its one-time-visible first API key.
type RegisterResult struct {
	Site   *Site  `json:"site"`
	APIKey string `json:"apiKey,omitempty"`
}

// Register creates a site, starts its subscription trial, and issues the
// operator's first API key.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	now := time.Now()
	st := &Site{
		ID:            idgen.WithPrefix("site_"),
		Name:          req.Name,
		Slug:          req.Slug,
		OperatorEmail: req.OperatorEmail,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, st); err != nil {
		return nil, err
	}

	if s.trials != nil {
		if err := s.trials.StartTrial(ctx, st.ID, req.Plan); err != nil {
			return nil, fmt.Errorf("start trial subscription: %w", err)
		}
	}

	result := &RegisterResult{Site: st}
	if s.keys != nil {
		raw, err := s.keys.IssueKey(ctx, st.ID, "default")
		if err != nil {
			// The operator can issue a key later; registration stands.
			s.logger.Warn("failed to issue initial API key", "siteId", st.ID, "error", err)
		} else {
			result.APIKey = raw
		}
	}

	s.logger.Info("site registered", "siteId", st.ID, "slug", st.Slug)
	return result, nil
}

// Get returns a site by ID.
func (s *Service) Get(ctx context.Context, id string) (*Site, error) {
	return s.store.Get(ctx, id)
}

// GetBySlug returns a site by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Site, error) {
	return s.store.GetBySlug(ctx, slug)
}

// List returns sites oldest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Site, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.List(ctx, limit)
}

// UpdateProfile updates operator-editable site fields.
func (s *Service) UpdateProfile(ctx context.Context, id, name, operatorEmail string) (*Site, error) {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		st.Name = name
	}
	if operatorEmail != "" {
		st.OperatorEmail = operatorEmail
	}
	st.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// SetStatus mirrors a subscription outcome onto the site. Called by the
// subscription driver on suspension, recovery, and cancellation.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.Status == status {
		return nil
	}
	st.Status = status
	st.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, st); err != nil {
		return err
	}
	s.logger.Info("site status changed", "siteId", id, "status", status)
	return nil
}

// MarkActive restores a suspended site after billing recovery.
func (s *Service) MarkActive(ctx context.Context, siteID string) error {
	return s.SetStatus(ctx, siteID, StatusActive)
}

// MarkSuspended suspends a site whose billing grace window closed.
func (s *Service) MarkSuspended(ctx context.Context, siteID string) error {
	return s.SetStatus(ctx, siteID, StatusSuspended)
}

// MarkCancelled retires a site whose subscription was cancelled.
func (s *Service) MarkCancelled(ctx context.Context, siteID string) error {
	return s.SetStatus(ctx, siteID, StatusCancelled)
}

// BillingIDs returns a site's provider handles for charge creation.
func (s *Service) BillingIDs(ctx context.Context, siteID string) (string, string, error) {
	st, err := s.store.Get(ctx, siteID)
	if err != nil {
		return "", "", err
	}
	return st.CollectorID, st.CustomerID, nil
}

// SetCustomerID stores the provider customer handle used for
// subscription charges.
func (s *Service) SetCustomerID(ctx context.Context, id, customerID string) error {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	st.CustomerID = customerID
	st.UpdatedAt = time.Now()
	return s.store.Update(ctx, st)
}

// ConnectCollector creates a connected payment account for the site and
// stores its ID. Returns the provider-hosted onboarding URL.
func (s *Service) ConnectCollector(ctx context.Context, id string) (*Site, string, error) {
	if s.onboarder == nil {
		return nil, "", fmt.Errorf("site: collector onboarding not configured")
	}
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	collectorID, onboardingURL, err := s.onboarder.CreateCollectorAccount(ctx, st.OperatorEmail)
	if err != nil {
		return nil, "", fmt.Errorf("create collector account: %w", err)
	}

	st.CollectorID = collectorID
	st.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, st); err != nil {
		return nil, "", err
	}
	s.logger.Info("collector connected", "siteId", st.ID, "collectorId", collectorID)
	return st, onboardingURL, nil
}

// TypeRequest contains the parameters for creating or updating a type.
type TypeRequest struct {
	Name          string
	CapacityUnits int
	MinGuests     int
	MaxGuests     int
	NightlyRate   string // decimal, e.g. "149.50"
	Currency      string
	Active        *bool
}

// CreateType adds an accommodation type, enforcing the plan's catalogue
// limits (max types, max total units).
func (s *Service) CreateType(ctx context.Context, siteID string, req TypeRequest) (*AccommodationType, error) {
	if _, err := s.store.Get(ctx, siteID); err != nil {
		return nil, err
	}
	if req.MinGuests < 1 || req.MaxGuests < req.MinGuests {
		return nil, ErrInvalidBounds
	}

	rate, err := parseRate(req.NightlyRate, req.Currency)
	if err != nil {
		return nil, err
	}

	if err := s.enforceCatalogueLimits(ctx, siteID, req.CapacityUnits, 0); err != nil {
		return nil, err
	}

	now := time.Now()
	at := &AccommodationType{
		ID:            idgen.WithPrefix("acc_"),
		SiteID:        siteID,
		Name:          req.Name,
		CapacityUnits: req.CapacityUnits,
		MinGuests:     req.MinGuests,
		MaxGuests:     req.MaxGuests,
		NightlyRate:   rate,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateType(ctx, at); err != nil {
		return nil, err
	}
	s.logger.Info("accommodation type created",
		"siteId", siteID, "typeId", at.ID, "units", at.CapacityUnits)
	return at, nil
}

// UpdateType updates an accommodation type. Capacity growth re-checks the
// plan's unit ceiling; shrinking below currently-booked levels is allowed
// and simply stops new bookings (existing stays are never evicted).
func (s *Service) UpdateType(ctx context.Context, typeID string, req TypeRequest) (*AccommodationType, error) {
	at, err := s.store.GetType(ctx, typeID)
	if err != nil {
		return nil, err
	}

	if req.CapacityUnits > at.CapacityUnits {
		if err := s.enforceCatalogueLimits(ctx, at.SiteID, req.CapacityUnits-at.CapacityUnits, -1); err != nil {
			return nil, err
		}
	}

	if req.Name != "" {
		at.Name = req.Name
	}
	if req.CapacityUnits > 0 {
		at.CapacityUnits = req.CapacityUnits
	}
	if req.MinGuests > 0 && req.MaxGuests >= req.MinGuests {
		at.MinGuests = req.MinGuests
		at.MaxGuests = req.MaxGuests
	}
	if req.NightlyRate != "" {
		rate, err := parseRate(req.NightlyRate, req.Currency)
		if err != nil {
			return nil, err
		}
		at.NightlyRate = rate
	}
	if req.Active != nil {
		at.Active = *req.Active
	}
	at.UpdatedAt = time.Now()
	if err := s.store.UpdateType(ctx, at); err != nil {
		return nil, err
	}
	return at, nil
}

// GetType returns an accommodation type by ID.
func (s *Service) GetType(ctx context.Context, id string) (*AccommodationType, error) {
	return s.store.GetType(ctx, id)
}

// ListTypes returns a site's accommodation types.
func (s *Service) ListTypes(ctx context.Context, siteID string) ([]*AccommodationType, error) {
	return s.store.ListTypes(ctx, siteID)
}

// enforceCatalogueLimits checks that adding addUnits (and one more type
// when addTypes >= 0) stays within the plan's ceilings.
func (s *Service) enforceCatalogueLimits(ctx context.Context, siteID string, addUnits, addTypes int) error {
	if s.subs == nil {
		return nil
	}
	maxTypes, maxUnits, err := s.subs.CatalogueLimits(ctx, siteID)
	if err != nil {
		return fmt.Errorf("look up plan limits: %w", err)
	}

	if addTypes >= 0 && maxTypes > 0 {
		count, err := s.store.CountTypes(ctx, siteID)
		if err != nil {
			return err
		}
		if count+1 > maxTypes {
			return fmt.Errorf("%w: plan allows %d accommodation types", ErrPlanLimit, maxTypes)
		}
	}
	if maxUnits > 0 {
		sum, err := s.store.SumUnits(ctx, siteID)
		if err != nil {
			return err
		}
		if sum+addUnits > maxUnits {
			return fmt.Errorf("%w: plan allows %d total units", ErrPlanLimit, maxUnits)
		}
	}
	return nil
}

// LookupType implements booking.TypeDirectory.
func (s *Service) LookupType(ctx context.Context, typeID string) (*booking.TypeInfo, error) {
	at, err := s.store.GetType(ctx, typeID)
	if err != nil {
		if err == ErrTypeNotFound {
			return nil, booking.ErrTypeNotFound
		}
		return nil, err
	}
	return &booking.TypeInfo{
		ID:            at.ID,
		SiteID:        at.SiteID,
		Name:          at.Name,
		CapacityUnits: at.CapacityUnits,
		MinGuests:     at.MinGuests,
		MaxGuests:     at.MaxGuests,
		NightlyRate:   at.NightlyRate,
		Active:        at.Active,
	}, nil
}

// SiteAccepting implements booking.SiteGate: the site must be active and
// its subscription in a usable state (trial, active, or within grace).
func (s *Service) SiteAccepting(ctx context.Context, siteID string) (bool, string, error) {
	st, err := s.store.Get(ctx, siteID)
	if err != nil {
		return false, "", err
	}
	if st.Status != StatusActive {
		return false, "site is " + string(st.Status), nil
	}
	if s.subs != nil {
		usable, reason, err := s.subs.Usable(ctx, siteID)
		if err != nil {
			return false, "", err
		}
		if !usable {
			return false, reason, nil
		}
	}
	return true, "", nil
}

var (
	_ booking.TypeDirectory = (*Service)(nil)
	_ booking.SiteGate      = (*Service)(nil)
)
