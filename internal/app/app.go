// Package app wires configuration into a running CORA server: storage,
// cache, events, mail, services, the HTTP API and scheduled jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cora-hq/cora/internal/api"
	"github.com/cora-hq/cora/internal/auth"
	"github.com/cora-hq/cora/internal/cache"
	"github.com/cora-hq/cora/internal/chat"
	"github.com/cora-hq/cora/internal/compression"
	"github.com/cora-hq/cora/internal/config"
	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/jobs"
	"github.com/cora-hq/cora/internal/mailer"
	"github.com/cora-hq/cora/internal/metrics"
	"github.com/cora-hq/cora/internal/middleware"
	"github.com/cora-hq/cora/internal/service"
	"github.com/cora-hq/cora/internal/storage/sqlstore"
)

// Version is reported by the verbose health check. Set with -ldflags.
var Version = "dev"

const (
	chatRatePerMinute = 30
	chatBurst         = 10
	limiterCleanup    = "@every 10m"
)

// Options override collaborators, mainly for tests.
type Options struct {
	// Publisher replaces the NATS/no-op publisher.
	Publisher events.Publisher
	// Mailer replaces the SendGrid/log mailer.
	Mailer mailer.Mailer
}

// App is a fully wired server.
type App struct {
	Config    *config.Config
	Store     *sqlstore.Store
	Cache     *cache.Cache
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Sessions  *auth.SessionManager
	Server    *api.Server
	Scheduler *jobs.Scheduler

	codec *compression.Codec
}

// OpenStore opens the configured database. SQLite is always migrated;
// Postgres only when database.auto_migrate is set.
func OpenStore(cfg *config.Config) (*sqlstore.Store, error) {
	store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN.Value())
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate || cfg.Database.Driver == sqlstore.DriverSQLite {
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	slog.Info("Storage initialized", "driver", cfg.Database.Driver)

	a.Cache, err = cache.New(ctx, cfg.Redis.URL.Value())
	if err != nil {
		return nil, err
	}

	a.Publisher = opts.Publisher
	if a.Publisher == nil {
		a.Publisher, err = newPublisher(cfg.NATS)
		if err != nil {
			return nil, err
		}
	}

	m := opts.Mailer
	if m == nil {
		m = newMailer(cfg.Mail)
	}

	var sessionCache auth.SessionCache
	if a.Cache.Enabled() {
		sessionCache = a.Cache
	}
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret.Value(), cfg.Auth.TokenTTL.Duration())
	a.Sessions = auth.NewSessionManager(a.Store, sessionCache)

	audit := service.NewAuditService(a.Store)
	onboarding := service.NewOnboardingService(a.Store, audit, a.Publisher)
	referrals := service.NewReferralService(a.Store, m, onboarding, audit, a.Publisher, a.Metrics, cfg.Mail.AppBaseURL)
	authService := service.NewAuthService(service.AuthDeps{
		Authenticator: auth.NewPasswordAuthenticator(a.Store, cfg.Auth.BcryptCost),
		JWTManager:    jwtManager,
		Sessions:      a.Sessions,
		Users:         a.Store,
		Referrals:     referrals,
		Onboarding:    onboarding,
		Audit:         audit,
		Publisher:     a.Publisher,
		Metrics:       a.Metrics,
	})

	a.codec, err = compression.New([]byte(cfg.Chat.StateKey.Value()))
	if err != nil {
		return nil, err
	}
	responder, err := newResponder(cfg.Chat)
	if err != nil {
		return nil, err
	}
	chatService := chat.NewService(responder, a.codec, chat.Limits{
		TokenBudget:           cfg.Chat.TokenBudget,
		AnonymousMessageLimit: cfg.Chat.AnonymousMessageLimit,
		SignupPromptAfter:     cfg.Chat.SignupPromptAfter,
		MaxMessageLength:      cfg.Chat.MaxMessageLength,
	})
	slog.Info("Chat initialized", "responder", chatService.Responder())

	authLimiter := middleware.NewRateLimiter(cfg.Auth.AuthRatePerMinute, cfg.Auth.AuthBurst)
	chatLimiter := middleware.NewRateLimiter(chatRatePerMinute, chatBurst)

	deps := api.Deps{
		Store:       a.Store,
		JWTManager:  jwtManager,
		Sessions:    a.Sessions,
		Auth:        authService,
		Expenses:    service.NewExpenseService(a.Store, onboarding, audit, a.Publisher, a.Metrics),
		Onboarding:  onboarding,
		Referrals:   referrals,
		Waitlist:    service.NewWaitlistService(a.Store, a.Publisher),
		Flags:       service.NewFlagService(a.Store, audit, a.Publisher),
		Audit:       audit,
		Chat:        chatService,
		Metrics:     a.Metrics,
		AuthLimiter: authLimiter,
		ChatLimiter: chatLimiter,
		Version:     Version,
	}
	if a.Cache.Enabled() {
		deps.Cache = a.Cache
	}
	a.Server = api.NewServer(cfg.Server, deps)

	a.Scheduler = jobs.NewScheduler(a.Metrics)
	schedule := []struct {
		name, spec string
		task       jobs.Task
	}{
		{"session_purge", cfg.Jobs.SessionPurgeSpec, jobs.PurgeSessions(a.Sessions)},
		{"audit_prune", cfg.Jobs.AuditPruneSpec, jobs.PruneAudit(a.Store, cfg.Jobs.AuditRetention.Duration())},
		{"auth_limiter_cleanup", limiterCleanup, jobs.CleanupLimiters(authLimiter)},
		{"chat_limiter_cleanup", limiterCleanup, jobs.CleanupLimiters(chatLimiter)},
	}
	for _, job := range schedule {
		if err := a.Scheduler.Add(job.name, job.spec, job.task); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func newPublisher(cfg config.NATSConfig) (events.Publisher, error) {
	if cfg.URL == "" {
		slog.Info("NATS not configured, events are not published")
		return events.Noop{}, nil
	}
	p, err := events.NewNATSPublisher(cfg.URL, cfg.SubjectPrefix)
	if err != nil {
		return nil, err
	}
	slog.Info("Publishing events to NATS", "prefix", cfg.SubjectPrefix)
	return p, nil
}

func newMailer(cfg config.MailConfig) mailer.Mailer {
	if !cfg.SendGridAPIKey.IsSet() {
		slog.Info("SendGrid not configured, emails are logged")
		return mailer.Log{}
	}
	return mailer.NewSendGrid(cfg.SendGridAPIKey.Value(), "", mailer.From{Name: cfg.FromName, Email: cfg.FromEmail})
}

func newResponder(cfg config.ChatConfig) (chat.Responder, error) {
	if !cfg.AnthropicAPIKey.IsSet() {
		return chat.Rules{}, nil
	}
	return chat.NewAnthropic(cfg.AnthropicAPIKey.Value(), cfg.AnthropicModel, cfg.AnthropicBaseURL)
}

// Run serves HTTP and runs scheduled jobs until ctx is cancelled, then shuts
// down within server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	a.Scheduler.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout.Duration())
	defer cancel()

	shutdownErr := a.Server.Shutdown(shutdownCtx)
	a.Scheduler.Stop(shutdownCtx)
	return errors.Join(serveErr, shutdownErr)
}

// Close releases every resource. It is safe on a partially built App.
func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.codec != nil {
		a.codec.Close()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			slog.Warn("failed to close cache", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}
}
