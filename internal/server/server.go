// Package server exposes the booking flow over HTTP: clients request calls,
// developers decide them, either side joins and ends, and the escrow follows.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/Trickybutshruti/Connect-Dev/internal/chain"
	"github.com/Trickybutshruti/Connect-Dev/internal/config"
	"github.com/Trickybutshruti/Connect-Dev/internal/health"
	"github.com/Trickybutshruti/Connect-Dev/internal/idgen"
	"github.com/Trickybutshruti/Connect-Dev/internal/logging"
	"github.com/Trickybutshruti/Connect-Dev/internal/metrics"
	"github.com/Trickybutshruti/Connect-Dev/internal/ratelimit"
	"github.com/Trickybutshruti/Connect-Dev/internal/realtime"
	"github.com/Trickybutshruti/Connect-Dev/internal/retry"
	"github.com/Trickybutshruti/Connect-Dev/internal/security"
	"github.com/Trickybutshruti/Connect-Dev/internal/session"
	"github.com/Trickybutshruti/Connect-Dev/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg          *config.Config
	store        session.Store
	coordinator  *session.Coordinator
	payments     Payments
	orchestrator *chain.Orchestrator // nil when payments are injected
	hub          *realtime.Hub
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB       // nil unless using Postgres
	redis        *redis.Client // nil unless using Redis
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	runCtx       context.Context // parent of all background observers
	cancelRunCtx context.CancelFunc

	// One observer per session; entries are never removed, observers exit
	// on terminal states by themselves.
	observed sync.Map

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPayments injects a payment driver, bypassing RPC setup. For testing.
func WithPayments(p Payments) Option {
	return func(s *Server) { s.payments = p }
}

// WithStore injects a session store, bypassing storage selection. For testing.
func WithStore(store session.Store) Option {
	return func(s *Server) { s.store = store }
}

// New creates a server instance: storage, orchestrator, coordinator, hub,
// health checks and routes.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
		logger: logging.New(cfg.LogLevel, "json"),
		runCtx: context.Background(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		if err := s.setupStore(); err != nil {
			return nil, err
		}
	}

	if s.payments == nil {
		orch, err := chain.New(chain.Config{
			RPCURL:          cfg.RPCURL,
			ChainID:         cfg.ChainID,
			ChainName:       cfg.ChainName,
			ContractAddress: cfg.EscrowContract,
			PrivateKey:      cfg.PrivateKey,
			NativeCurrency: chain.NativeCurrency{
				Name:     cfg.CurrencyName,
				Symbol:   cfg.CurrencySymbol,
				Decimals: chain.EtherDecimals,
			},
			BlockExplorerURL: cfg.BlockExplorerURL,
			ConfirmInterval:  cfg.ConfirmInterval,
			ConfirmAttempts:  cfg.ConfirmAttempts,
		}, chain.WithLogger(logging.Component(s.logger, "chain")))
		if err != nil {
			return nil, fmt.Errorf("server: orchestrator: %w", err)
		}
		s.orchestrator = orch
		s.payments = newEscrowDriver(orch)

		// Startup check: transient RPC errors retry with backoff, a chain
		// id mismatch is permanent.
		err = retry.Do(context.Background(), 5, time.Second, func() error {
			verr := orch.ValidateNetwork(context.Background())
			var mismatch *chain.NetworkMismatchError
			if errors.As(verr, &mismatch) {
				return retry.Permanent(verr)
			}
			return verr
		})
		if err != nil {
			return nil, fmt.Errorf("server: validate network: %w", err)
		}

		s.checks.Register("rpc", health.RPC(orch, cfg.ChainID))
		s.logger.Info("escrow orchestrator ready",
			"chain", cfg.ChainName,
			"contract", cfg.EscrowContract,
			"wallet", orch.Address().Hex(),
		)
	}

	// Each party deploys its own instance with its own wallet; the role
	// decides which side's transitions this coordinator owns, in particular
	// that only the developer side settles escrows.
	role := session.Role(cfg.Role)
	if role == "" {
		role = session.RoleDeveloper
	}
	s.coordinator = session.NewCoordinator(
		s.store,
		s.payments,
		role,
		session.WithCoordinatorLogger(logging.Component(s.logger, "session")),
	)

	s.hub = realtime.NewHub(logging.Component(s.logger, "realtime"))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStore picks the session store: Redis when REDIS_URL is set, Postgres
// when DATABASE_URL is set, in-memory otherwise.
func (s *Server) setupStore() error {
	switch {
	case s.cfg.RedisURL != "":
		opt, err := redis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("server: parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		err = retry.Constant(context.Background(), 5, time.Second, func() error {
			return client.Ping(context.Background()).Err()
		})
		if err != nil {
			return fmt.Errorf("server: connect redis: %w", err)
		}
		s.redis = client
		s.store = session.NewRedisStore(client)
		s.checks.Register("redis", health.Redis(redisPinger{client}))
		s.logger.Info("using Redis session store", "url", maskDSN(s.cfg.RedisURL))

	case s.cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("server: open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		err = retry.Constant(context.Background(), 5, time.Second, db.Ping)
		if err != nil {
			return fmt.Errorf("server: connect database: %w", err)
		}
		s.db = db
		s.store = session.NewPostgresStore(db)
		s.checks.Register("database", health.DB(db))
		metrics.StartDBStatsCollector(context.Background(), db, 15*time.Second)
		s.logger.Info("using PostgreSQL session store", "url", maskDSN(s.cfg.DatabaseURL))

	default:
		s.store = session.NewMemoryStore()
		s.logger.Info("using in-memory session store (data will not persist)")
	}
	return nil
}

// redisPinger adapts the go-redis client to the health checker's Pinger.
type redisPinger struct {
	c *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.c.Ping(ctx).Err()
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
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
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
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time session events
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)
	s.router.GET("/network", s.networkHandler)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/calls", s.requestCall)
		v1.GET("/calls", s.listCalls)
		v1.GET("/calls/:id", s.getCall)
		v1.POST("/calls/:id/accept", s.acceptCall)
		v1.POST("/calls/:id/reject", s.rejectCall)
		v1.POST("/calls/:id/pay", s.payCall)
		v1.POST("/calls/:id/join", s.joinCall)
		v1.POST("/calls/:id/end", s.endCall)
		v1.GET("/calls/:id/escrow", s.getEscrow)
		v1.GET("/contract/balance", s.contractBalance)
	}
}

// -----------------------------------------------------------------------------
// Observers
// -----------------------------------------------------------------------------

// observe attaches the coordinator and the event relay to a session. Safe to
// call repeatedly; only the first call per session starts goroutines.
func (s *Server) observe(ctx context.Context, id string) {
	if _, running := s.observed.LoadOrStore(id, true); running {
		return
	}

	go func() {
		if err := s.coordinator.Observe(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("session observer stopped", "session", id, "error", err)
		}
	}()
	go s.relayEvents(ctx, id)
}

// relayEvents forwards session transitions to WebSocket subscribers. It
// dedups on observed state so replayed snapshots don't re-broadcast.
func (s *Server) relayEvents(ctx context.Context, id string) {
	updates, stop, err := s.store.Watch(ctx, id)
	if err != nil {
		s.logger.Error("event relay watch failed", "session", id, "error", err)
		return
	}
	defer stop()

	var lastStatus session.Status
	var lastReleased bool

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Status != lastStatus {
				if ev := eventForStatus(snap.Status); ev != "" {
					s.hub.BroadcastSession(ev, snap)
				}
				lastStatus = snap.Status
			}
			if snap.PaymentReleased && !lastReleased {
				s.hub.BroadcastSession(realtime.EventPaymentReleased, snap)
				lastReleased = true
			}
			if snap.IsTerminal() && (!snap.RequiresPayment || snap.PaymentReleased) {
				return
			}
		}
	}
}

func eventForStatus(st session.Status) realtime.EventType {
	switch st {
	case session.StatusPending:
		return realtime.EventSessionRequested
	case session.StatusAccepted:
		return realtime.EventSessionAccepted
	case session.StatusRejected:
		return realtime.EventSessionRejected
	case session.StatusPaid:
		return realtime.EventSessionPaid
	case session.StatusActive:
		return realtime.EventSessionStarted
	case session.StatusCompleted:
		return realtime.EventSessionEnded
	}
	return ""
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancelRunCtx = cancel

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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.orchestrator != nil {
		if err := s.orchestrator.Close(); err != nil {
			s.logger.Error("orchestrator close error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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
