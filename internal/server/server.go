// Package server wires the platform together: storage, services, HTTP
// routes, middleware, background timers, and graceful shutdown.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/innkeep/innkeep/internal/admin"
	"github.com/innkeep/innkeep/internal/auth"
	"github.com/innkeep/innkeep/internal/booking"
	"github.com/innkeep/innkeep/internal/config"
	"github.com/innkeep/innkeep/internal/dashboard"
	"github.com/innkeep/innkeep/internal/health"
	"github.com/innkeep/innkeep/internal/logging"
	"github.com/innkeep/innkeep/internal/metrics"
	"github.com/innkeep/innkeep/internal/payments"
	"github.com/innkeep/innkeep/internal/ratelimit"
	"github.com/innkeep/innkeep/internal/realtime"
	"github.com/innkeep/innkeep/internal/receipts"
	"github.com/innkeep/innkeep/internal/reconciliation"
	"github.com/innkeep/innkeep/internal/security"
	"github.com/innkeep/innkeep/internal/site"
	"github.com/innkeep/innkeep/internal/subscription"
	"github.com/innkeep/innkeep/internal/traces"
	"github.com/innkeep/innkeep/internal/validation"
	"github.com/innkeep/innkeep/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and all platform services.
type Server struct {
	cfg      *config.Config
	provider payments.Provider

	authMgr        *auth.Manager
	siteService    *site.Service
	bookingService *booking.Service
	bookingStore   booking.Store
	sweeper        *booking.Timer
	subService     *subscription.Service
	billingTimer   *subscription.Timer
	paymentService *payments.Service
	processor      *payments.Processor
	events         *payments.Dispatcher
	receiptService *receipts.Service
	webhookStore   webhooks.Store
	dispatcher     *webhooks.Dispatcher
	emitter        *webhooks.Emitter
	hub            *realtime.Hub
	reconciler     *reconciliation.Runner
	reconcileTimer *reconciliation.Timer
	checks         *health.Registry
	rateLimiter    *ratelimit.Limiter

	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc
	shutdownTraces func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider injects a payment provider (for testing).
func WithProvider(p payments.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// provider is resolved in New: injected > Stripe > fake.
func (s *Server) resolveProvider() payments.Provider {
	if s.provider != nil {
		return s.provider
	}
	if s.cfg.StripeSecretKey != "" {
		return payments.NewStripeProvider(
			s.cfg.StripeSecretKey,
			s.cfg.StripeWebhookSecret,
			s.cfg.BaseURL+"/v1/sites/onboarding/return",
		)
	}
	s.logger.Info("no STRIPE_SECRET_KEY set, using fake payment provider")
	return payments.NewFakeProvider(s.cfg.StripeWebhookSecret)
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		siteStore    site.Store
		bookingStore booking.Store
		subStore     subscription.Store
		payStore     payments.Store
		receiptStore receipts.Store
		webhookStore webhooks.Store
		authStore    auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		siteStore = site.NewPostgresStore(db)
		bookingStore = booking.NewPostgresStore(db)
		subStore = subscription.NewPostgresStore(db)
		payStore = payments.NewPostgresStore(db)
		receiptStore = receipts.NewPostgresStore(db)
		webhookStore = webhooks.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		siteStore = site.NewMemoryStore()
		bookingStore = booking.NewMemoryStore()
		subStore = subscription.NewMemoryStore()
		payStore = payments.NewMemoryStore()
		receiptStore = receipts.NewMemoryStore()
		webhookStore = webhooks.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	s.bookingStore = bookingStore
	s.webhookStore = webhookStore

	s.authMgr = auth.NewManager(authStore)

	provider := s.resolveProvider()

	// Service graph. The subscription checker is late-bound because the
	// site and subscription services reference each other.
	subGate := &subscriptionGate{}
	s.siteService = site.NewService(siteStore, subGate, s.logger)
	s.paymentService = payments.NewService(payStore, provider, s.siteService, s.logger).
		WithCommissionBPS(cfg.CommissionBPS)
	s.subService = subscription.NewService(subStore, s.paymentService, s.siteService, s.logger).
		WithBillingWindows(cfg.TrialDays, cfg.GraceDays, cfg.RetryBaseDelay, cfg.RetryMaxCount)
	subGate.svc = s.subService

	s.siteService.
		WithTrialStarter(s.subService).
		WithKeyIssuer(s.authMgr).
		WithOnboarder(s.paymentService)

	s.bookingService = booking.NewService(bookingStore, s.siteService, s.siteService, s.paymentService, s.logger).
		WithReservationTTL(cfg.ReservationTTL).
		WithMaxStayNights(cfg.MaxStayNights)

	// Payment outcome pipeline: webhook processor → dispatcher → state
	// machines, receipts, outbound webhooks, realtime.
	s.events = payments.NewDispatcher(s.logger)
	s.processor = payments.NewProcessor(payStore, provider, s.events, s.logger)

	s.receiptService = receipts.NewService(receiptStore, receipts.NewSigner(cfg.ReceiptSecret))
	if cfg.ReceiptSecret == "" {
		s.logger.Warn("RECEIPT_SECRET not set, receipt signing disabled")
	}

	s.dispatcher = webhooks.NewDispatcher(webhookStore)
	s.emitter = webhooks.NewEmitter(s.dispatcher, s.logger)
	s.hub = realtime.NewHub(s.logger)

	s.events.Subscribe(s.onPaymentOutcome)
	s.bookingService.WithNotifier(s)
	s.subService.WithNotifier(s)

	// Background drivers.
	s.sweeper = booking.NewTimer(s.bookingService, bookingStore, s.logger).
		WithInterval(cfg.SweepInterval)
	s.billingTimer = subscription.NewTimer(s.subService, s.logger).
		WithInterval(cfg.BillingInterval)
	s.reconciler = reconciliation.NewRunner(bookingStore, s.processor, payStore, s.logger)
	s.reconcileTimer = reconciliation.NewTimer(s.reconciler, s.logger)

	s.setupHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// subscriptionGate late-binds the subscription service into the site
// service's checker slot.
type subscriptionGate struct {
	svc *subscription.Service
}

func (g *subscriptionGate) Usable(ctx context.Context, siteID string) (bool, string, error) {
	return g.svc.Usable(ctx, siteID)
}

func (g *subscriptionGate) CatalogueLimits(ctx context.Context, siteID string) (int, int, error) {
	return g.svc.CatalogueLimits(ctx, siteID)
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Event wiring
// -----------------------------------------------------------------------------

// onPaymentOutcome consumes every persisted payment record: it drives
// the reservation or subscription state machine, issues a receipt for
// approved payments, and fans the outcome out to webhooks and websockets.
func (s *Server) onPaymentOutcome(ctx context.Context, ev *payments.PaymentEvent) error {
	rec := ev.Record

	var siteID string
	switch rec.TargetKind {
	case payments.TargetReservation:
		var err error
		if ev.Approved {
			err = s.bookingService.ApprovePayment(ctx, rec.TargetID, rec.ProviderPaymentID)
		} else {
			err = s.bookingService.RejectPayment(ctx, rec.TargetID, rec.ProviderPaymentID)
		}
		if err != nil {
			return fmt.Errorf("apply reservation outcome: %w", err)
		}
		if r, err := s.bookingService.Get(ctx, rec.TargetID); err == nil {
			siteID = r.SiteID
		}

	case payments.TargetSubscription:
		if err := s.subService.ApplyChargeOutcome(ctx, rec.TargetID, rec.ProviderPaymentID, ev.Approved); err != nil {
			return fmt.Errorf("apply subscription outcome: %w", err)
		}
		if sub, err := s.subService.Get(ctx, rec.TargetID); err == nil {
			siteID = sub.SiteID
		}
	}

	if siteID == "" {
		return nil
	}

	if ev.Approved {
		if err := s.receiptService.IssueReceipt(ctx, receipts.IssueRequest{
			SiteID:     siteID,
			TargetKind: receipts.TargetKind(rec.TargetKind),
			TargetID:   rec.TargetID,
			PaymentID:  rec.ProviderPaymentID,
			Amount:     rec.Amount,
		}); err != nil {
			s.logger.Error("failed to issue receipt",
				"paymentId", rec.ProviderPaymentID, "error", err)
		}
	}

	s.emitter.EmitPaymentRecorded(siteID, rec.ProviderPaymentID,
		string(rec.TargetKind), rec.TargetID, string(rec.Status))
	s.hub.BroadcastPayment(siteID, map[string]interface{}{
		"paymentId":  rec.ProviderPaymentID,
		"targetKind": rec.TargetKind,
		"targetId":   rec.TargetID,
		"status":     rec.Status,
		"amount":     rec.Amount,
	})

	return nil
}

// ReservationChanged implements booking.Notifier.
func (s *Server) ReservationChanged(r *booking.Reservation) {
	switch r.Status {
	case booking.StatusConfirmed:
		s.emitter.EmitReservationConfirmed(r.SiteID, r.ID, r.PaymentRef)
	case booking.StatusRejected:
		s.emitter.EmitReservationRejected(r.SiteID, r.ID, r.PaymentRef)
	case booking.StatusExpired:
		s.emitter.EmitReservationExpired(r.SiteID, r.ID)
	case booking.StatusCancelled:
		s.emitter.EmitReservationCancelled(r.SiteID, r.ID)
	}

	s.hub.BroadcastReservation(r.SiteID, map[string]interface{}{
		"reservationId": r.ID,
		"typeId":        r.AccommodationTypeID,
		"range":         r.Range.String(),
		"status":        r.Status,
	})
}

// SubscriptionChanged implements subscription.Notifier.
func (s *Server) SubscriptionChanged(sub *subscription.Subscription) {
	switch sub.Status {
	case subscription.StatusActive:
		s.emitter.EmitSubscriptionActivated(sub.SiteID, sub.ID, string(sub.Plan))
	case subscription.StatusPaymentFailed:
		if sub.GraceDeadline != nil {
			s.emitter.EmitSubscriptionPaymentFailed(sub.SiteID, sub.ID, *sub.GraceDeadline)
		}
	case subscription.StatusSuspended:
		s.emitter.EmitSubscriptionSuspended(sub.SiteID, sub.ID)
	case subscription.StatusCancelled:
		s.emitter.EmitSubscriptionCancelled(sub.SiteID, sub.ID)
	}

	s.hub.BroadcastSubscription(sub.SiteID, map[string]interface{}{
		"subscriptionId": sub.ID,
		"plan":           sub.Plan,
		"status":         sub.Status,
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) setupHealthChecks() {
	s.checks = health.NewRegistry()

	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	s.checks.Register("expiry_sweeper", func(_ context.Context) health.Status {
		return health.Status{Name: "expiry_sweeper", Healthy: s.sweeper.Running()}
	})
	s.checks.Register("billing_driver", func(_ context.Context) health.Status {
		return health.Status{Name: "billing_driver", Healthy: s.billingTimer.Running()}
	})
	s.checks.Register("reconciliation", func(_ context.Context) health.Status {
		return health.Status{Name: "reconciliation", Healthy: s.reconcileTimer.Running()}
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "degraded"}[healthy],
		"checks": statuses,
	})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Innkeep",
		"description": "Reservation and billing core for independent lodging operators",
		"version":     "0.1.0",
		"currency":    s.cfg.Currency,
	})
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	// WebSocket for operator dashboards
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	siteHandler := site.NewHandler(s.siteService)
	bookingHandler := booking.NewHandler(s.bookingService)
	subHandler := subscription.NewHandler(s.subService)
	paymentHandler := payments.NewHandler(s.paymentService, s.processor, "Stripe-Signature")
	receiptHandler := receipts.NewHandler(s.receiptService)
	webhookHandler := webhooks.NewHandler(s.webhookStore)
	dashboardHandler := dashboard.NewHandler(s.siteService, s.bookingService, s.paymentService, s.subService)
	authHandler := auth.NewHandler(s.authMgr)

	// PUBLIC ROUTES: registration, catalogue reads, the guest booking
	// flow, plan listing, receipt verification, and the provider webhook.
	siteHandler.RegisterRoutes(v1)
	bookingHandler.RegisterRoutes(v1)
	subHandler.RegisterRoutes(v1)
	receiptHandler.RegisterRoutes(v1)
	paymentHandler.RegisterRoutes(v1)
	v1.GET("/auth/info", authHandler.Info)

	// OPERATOR ROUTES bound to a site id: the key must own the site.
	owned := v1.Group("")
	owned.Use(auth.Middleware(s.authMgr), auth.RequireSiteOwnership(s.authMgr, "id"))
	{
		siteHandler.RegisterProtectedRoutes(owned)
		bookingHandler.RegisterSiteRoutes(owned)
		subHandler.RegisterProtectedRoutes(owned)
		receiptHandler.RegisterProtectedRoutes(owned)
		webhookHandler.RegisterRoutes(owned)
		dashboardHandler.RegisterRoutes(owned)
	}

	// OPERATOR ROUTES keyed by other ids: authenticated, ownership
	// checked in the handler or acceptable for any operator key.
	authed := v1.Group("")
	authed.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		siteHandler.RegisterCatalogueRoutes(authed)
		paymentHandler.RegisterProtectedRoutes(authed)
		authHandler.RegisterProtectedRoutes(authed)
	}

	// PLATFORM OPERATOR ROUTES: X-Admin-Token gated.
	adminHandler := admin.NewHandler().
		WithSites(s.siteService).
		WithSubscriptions(s.subService).
		WithReconciler(s.reconciler)
	adminGroup := v1.Group("")
	adminGroup.Use(auth.Middleware(s.authMgr), auth.RequireAdmin())
	adminHandler.RegisterRoutes(adminGroup)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.sweeper.Start(runCtx)
	go s.billingTimer.Start(runCtx)
	go s.reconcileTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.sweeper.Stop()
	s.billingTimer.Stop()
	s.reconcileTimer.Stop()
	s.logger.Info("background timers stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
