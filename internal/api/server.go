// Package api exposes the CORA services over REST/JSON with echo.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/cora-hq/cora/internal/auth"
	"github.com/cora-hq/cora/internal/chat"
	"github.com/cora-hq/cora/internal/config"
	"github.com/cora-hq/cora/internal/metrics"
	"github.com/cora-hq/cora/internal/middleware"
	"github.com/cora-hq/cora/internal/service"
	"github.com/cora-hq/cora/internal/storage"
)

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the API serves.
type Deps struct {
	Store      storage.Store
	Cache      Pinger // optional
	JWTManager *auth.JWTManager
	Sessions   *auth.SessionManager

	Auth       *service.AuthService
	Expenses   *service.ExpenseService
	Onboarding *service.OnboardingService
	Referrals  *service.ReferralService
	Waitlist   *service.WaitlistService
	Flags      *service.FlagService
	Audit      *service.AuditService
	Chat       *chat.Service

	Metrics *metrics.Metrics
	// AuthLimiter guards registration, login and waitlist signups.
	AuthLimiter *middleware.RateLimiter
	// ChatLimiter guards the sales chat.
	ChatLimiter *middleware.RateLimiter

	Version string
}

// Server is the HTTP API.
type Server struct {
	echo    *echo.Echo
	http    *http.Server
	deps    Deps
	started time.Time
}

// NewServer builds the echo router with all middleware and routes.
func NewServer(cfg config.ServerConfig, d Deps) *Server {
	if d.AuthLimiter == nil {
		d.AuthLimiter = middleware.NewRateLimiter(0, 1)
	}
	if d.ChatLimiter == nil {
		d.ChatLimiter = middleware.NewRateLimiter(0, 1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, deps: d, started: time.Now()}
	e.HTTPErrorHandler = s.handleError

	// Metrics wraps the logger so it records the status the error handler wrote.
	e.Use(echomw.RequestID())
	e.Use(d.Metrics.Middleware())
	e.Use(middleware.RequestLogger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, HeaderAnonymousID},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.ClientIP())

	s.registerRoutes()

	s.http = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h2c.NewHandler(e, &http2.Server{}),
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
	}
	return s
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	d := s.deps
	requireAuth := middleware.RequireAuth(d.JWTManager, d.Sessions)
	optionalAuth := middleware.OptionalAuth(d.JWTManager, d.Sessions)

	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))

	api := s.echo.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.handleRegister, d.AuthLimiter.Middleware())
	authGroup.POST("/login", s.handleLogin, d.AuthLimiter.Middleware())
	authGroup.POST("/logout", s.handleLogout, requireAuth)
	authGroup.GET("/me", s.handleMe, requireAuth)

	expenses := api.Group("/expenses", requireAuth)
	expenses.GET("", s.handleListExpenses)
	expenses.POST("", s.handleCreateExpense)
	expenses.GET("/summary", s.handleSummary)
	expenses.POST("/receipt", s.handleReceipt)
	expenses.GET("/categories", s.handleCategories)
	expenses.GET("/:id", s.handleGetExpense)
	expenses.PUT("/:id", s.handleUpdateExpense)
	expenses.DELETE("/:id", s.handleDeleteExpense)

	onboarding := api.Group("/onboarding")
	onboarding.GET("/checklist", s.handleChecklist, requireAuth)
	onboarding.POST("/checklist/:step/complete", s.handleCompleteStep, requireAuth)
	onboarding.GET("/progress", s.handleProgress, requireAuth)
	onboarding.PUT("/profile", s.handleProfile, requireAuth)
	onboarding.POST("/feedback", s.handleFeedback, optionalAuth)

	referrals := api.Group("/referrals", requireAuth)
	referrals.GET("/me", s.handleReferralSummary)
	referrals.POST("/invite", s.handleInvite)
	referrals.GET("/invites", s.handleInvites)

	api.POST("/waitlist", s.handleJoinWaitlist, d.AuthLimiter.Middleware())
	api.GET("/waitlist/count", s.handleWaitlistCount)

	api.GET("/flags", s.handleFlags, optionalAuth)
	admin := api.Group("/admin", requireAuth, middleware.RequireAdmin(d.Store))
	admin.GET("/flags", s.handleAdminListFlags)
	admin.PUT("/flags/:name", s.handleAdminUpsertFlag)

	api.GET("/audit", s.handleAudit, requireAuth)

	api.POST("/cora-chat/", s.handleChat, optionalAuth, d.ChatLimiter.Middleware())
	api.POST("/cora-chat", s.handleChat, optionalAuth, d.ChatLimiter.Middleware())
}

// Handler returns the router. Used by tests with httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves HTTP/1.1 and cleartext HTTP/2 until Shutdown.
func (s *Server) Start() error {
	slog.Info("starting http server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down http server")
	return s.http.Shutdown(ctx)
}
