// Package server is the marketplace backend: listings, purchase confirmation,
// device registration and wallet sessions over a gin router.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/auth"
	cshttp "github.com/clearskynet/clearsky/go/http"
	"github.com/clearskynet/clearsky/go/extensions/catalog"
	"github.com/clearskynet/clearsky/go/mechanisms/evm/native/facilitator"
)

// Request deadlines
const (
	DefaultRequestTimeout = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// RetryAfterSeconds is advertised when a payment cannot be verified yet
const RetryAfterSeconds = "2"

// PaymentVerifier checks that a transaction paid for a listing
type PaymentVerifier interface {
	Verify(ctx context.Context, claim facilitator.PaymentClaim) (*facilitator.VerifiedPayment, error)
}

var _ PaymentVerifier = (*facilitator.NativePaymentVerifier)(nil)

// Server serves the marketplace API
type Server struct {
	catalog  *catalog.Catalog
	verifier PaymentVerifier
	sessions *auth.Sessions
	login    *auth.WalletLogin
	devices  *deviceRegistry
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request and handler logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWalletLogin enables the /auth wallet login routes
func WithWalletLogin(login *auth.WalletLogin) Option {
	return func(s *Server) { s.login = login }
}

// WithRequestTimeout bounds the work done for one request
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides time.Now for device timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server over the given catalog, payment verifier and sessions
func New(cat *catalog.Catalog, verifier PaymentVerifier, sessions *auth.Sessions, opts ...Option) *Server {
	s := &Server{
		catalog:  cat,
		verifier: verifier,
		sessions: sessions,
		devices:  newDeviceRegistry(),
		logger:   zap.NewNop(),
		timeout:  DefaultRequestTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")
	return s
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET(cshttp.HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": clearsky.Version})
	})

	authed := s.requireSession()
	for _, kind := range []clearsky.ItemKind{clearsky.KindReport, clearsky.KindDerivative} {
		group := r.Group(cshttp.CollectionPath(kind))
		group.GET("", s.listItems(kind))
		group.GET("/:id", s.getItem(kind))
		group.POST("", authed, s.createItem(kind))
		group.POST("/:id/purchase", authed, s.confirmPurchase(kind))
	}

	r.GET(cshttp.DevicesPath, authed, s.listDevices)
	r.POST(cshttp.DevicesPath, authed, s.registerDevice)
	r.GET(cshttp.LandingPath, authed, s.landing)
	r.GET(cshttp.OrdersPath, authed, s.orders)

	if s.login != nil {
		r.POST(cshttp.AuthChallengePath, s.challenge)
		r.POST(cshttp.AuthWalletPath, s.walletLogin)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("marketplace listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

func fail(c *gin.Context, status int, reason, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "reason": reason})
}
