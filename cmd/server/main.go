package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"authgate/internal/auth/handler"
	authmetrics "authgate/internal/auth/metrics"
	"authgate/internal/auth/oauth"
	"authgate/internal/auth/service"
	"authgate/internal/auth/store/revocation"
	"authgate/internal/auth/store/social"
	"authgate/internal/auth/store/user"
	"authgate/internal/auth/token"
	"authgate/internal/health"
	"authgate/internal/mail"
	"authgate/internal/platform/config"
	"authgate/internal/platform/database"
	"authgate/internal/platform/httpserver"
	"authgate/internal/platform/logger"
	platformmetrics "authgate/internal/platform/metrics"
	platformredis "authgate/internal/platform/redis"
	"authgate/pkg/platform/audit"
	auditpublisher "authgate/pkg/platform/audit/publisher"
	auditmemory "authgate/pkg/platform/audit/store/memory"
	auditpostgres "authgate/pkg/platform/audit/store/postgres"
	"authgate/pkg/platform/circuit"
	"authgate/pkg/platform/middleware/metadata"
	"authgate/pkg/platform/middleware/request"
	"authgate/pkg/platform/middleware/requesttime"
)

func main() {
	if err := run(); err != nil {
		slog.Error("authgate exited", "error", err)
		os.Exit(1)
	}
}

// run wires the process and blocks until SIGINT/SIGTERM or a fatal error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := platformmetrics.NewRegistry()
	authMetrics := authmetrics.New(reg)

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.close()

	tokens, err := token.New(token.Config{
		Secret:               cfg.Auth.Secret,
		Issuer:               cfg.Auth.Issuer,
		AccessTTL:            cfg.Auth.AccessTTL,
		RefreshTTL:           cfg.Auth.RefreshTTL,
		EmailVerificationTTL: cfg.Auth.EmailVerificationTTL,
	})
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	mailer := mail.NewAsyncDispatcher(infra.mailer, cfg.Mail.QueueSize,
		mail.WithLogger(log),
		mail.WithResultCounter(authMetrics),
	)
	auditor := auditpublisher.New(infra.audit,
		auditpublisher.WithBufferSize(cfg.Audit.BufferSize),
		auditpublisher.WithLogger(log),
		auditpublisher.WithDropCounter(authMetrics),
	)

	opts := []service.Option{
		service.WithDenylist(infra.denylist),
		service.WithMailer(mailer),
		service.WithTxRunner(infra.tx),
		service.WithAppURL(cfg.Server.AppURL),
		service.WithLogger(log),
		service.WithAuditPublisher(auditor),
		service.WithMetrics(authMetrics),
	}
	if cfg.Google.Enabled() {
		google, err := oauth.NewGoogle(oauth.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			AuthURL:      cfg.Google.AuthURL,
			TokenURL:     cfg.Google.TokenURL,
			JWKSURL:      cfg.Google.JWKSURL,
			Issuers:      cfg.Google.Issuers,
			Timeout:      cfg.Google.Timeout,
			JWKSCacheTTL: cfg.Google.JWKSCacheTTL,
		}, oauth.WithMetrics(authMetrics))
		if err != nil {
			return fmt.Errorf("google provider: %w", err)
		}
		breaker := circuit.New(oauth.ProviderGoogle,
			circuit.WithFailureThreshold(cfg.Google.BreakerThreshold),
			circuit.WithCooldown(cfg.Google.BreakerCooldown),
		)
		opts = append(opts, service.WithProvider(oauth.NewGuarded(google, breaker, log)))
	} else {
		log.Info("google sign-in disabled")
	}
	authService := service.New(infra.users, infra.links, tokens, opts...)

	router := chi.NewRouter()
	router.Use(chimw.Recoverer)
	router.Use(request.RequestID)
	router.Use(requesttime.Middleware)
	router.Use(metadata.ClientMetadata)
	router.Use(request.Logger(log))
	router.Use(platformmetrics.NewHTTP(reg).Middleware)

	health.New(log, infra.checks...).Register(router)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, platformmetrics.Handler(reg))
	}
	authHandler := handler.New(authService, tokens, log, handler.Config{
		RefreshCookieName: cfg.Auth.RefreshCookieName,
		CookieSecure:      cfg.Server.CookieSecure,
		RefreshTTL:        cfg.Auth.RefreshTTL,
	})
	router.Route("/api/v1", authHandler.Register)

	srv := httpserver.New(cfg.Server.Addr, router, httpserver.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	})

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return httpserver.Run(ctx, srv, ln, cfg.Server.ShutdownTimeout, log, mailer.Run, auditor.Run)
}

// infra holds the backends chosen by configuration.
type infra struct {
	users    service.UserStore
	links    service.LinkStore
	denylist service.Denylist
	tx       service.TxRunner
	audit    audit.Store
	mailer   mail.Dispatcher
	checks   []health.Check
	closers  []func()
}

func (i *infra) close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

// openInfra selects Postgres, Redis and Kafka when configured and the
// in-memory or logging fallbacks otherwise.
func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}

	if cfg.Database.URL != "" {
		db, err := database.Open(ctx, database.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func() { _ = db.Close() })
		if cfg.Database.RunMigrations {
			if err := database.RunMigrations(db); err != nil {
				in.close()
				return nil, err
			}
		}
		in.users = user.NewPostgres(db)
		in.links = social.NewPostgres(db)
		in.audit = auditpostgres.New(db)
		in.tx = database.NewPostgresTx(db)
		in.checks = append(in.checks, health.Check{Name: "database", Ping: pingDB(db)})
	} else {
		log.Warn("no database configured, using in-memory stores")
		in.users = user.NewInMemory()
		in.links = social.NewInMemory()
		in.audit = auditmemory.NewInMemoryStore()
	}

	if cfg.Redis.URL != "" {
		rc, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			in.close()
			return nil, err
		}
		in.closers = append(in.closers, func() { _ = rc.Close() })
		in.denylist = revocation.NewRedis(rc.Client)
		in.checks = append(in.checks, health.Check{Name: "redis", Ping: rc.Health})
	} else {
		log.Warn("no redis configured, refresh denylist is process-local")
		in.denylist = revocation.NewInMemory()
	}

	if len(cfg.Mail.Brokers) > 0 {
		kd, err := mail.NewKafkaDispatcher(cfg.Mail.Brokers, cfg.Mail.Topic)
		if err != nil {
			in.close()
			return nil, err
		}
		in.closers = append(in.closers, kd.Close)
		if err := kd.EnsureTopic(ctx, cfg.Mail.TopicPartitions, cfg.Mail.TopicReplication); err != nil {
			in.close()
			return nil, err
		}
		in.mailer = kd
		in.checks = append(in.checks, health.Check{Name: "kafka", Ping: kd.Ping})
	} else {
		in.mailer = mail.NewLogDispatcher(log)
	}
	return in, nil
}

func pingDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}
