package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/config"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/database"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/events"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/routing"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/time/rate"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	if enabled, err := logger.InitSentry(cfg.Sentry.DSN, cfg.App.Env); err != nil {
		log.Error("sentry init failed", "err", err)
	} else if enabled {
		log = logger.WithSentry(log)
	}
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(rootCtx, db); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Stores
	campaignRepo := dialer.NewPostgresRepo(db)
	contactStore := contacts.NewPostgresStore(db)
	callRepo := calls.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	providers := buildProviders(cfg)

	callMgr := calls.NewManager(calls.Options{
		Repo:      callRepo,
		Providers: providers,
		Audit:     auditSvc,
	})

	dnc := compliance.NewRedisRegistry(rdb, "")
	consent := compliance.NewRedisConsent(rdb, "")

	var slots dialer.SlotLimiter
	if cfg.Dialer.RedisSlots {
		slots = dialer.NewRedisSlots(rdb, cfg.Dialer.SlotTTL)
	}

	engine := dialer.NewEngine(dialer.Options{
		Campaigns:        campaignRepo,
		Contacts:         contactStore,
		Calls:            callMgr,
		Providers:        providers,
		DNC:              dnc,
		Consent:          consent,
		Slots:            slots,
		Audit:            auditSvc,
		TickInterval:     cfg.Dialer.TickInterval,
		PlacementTimeout: cfg.Dialer.PlacementTimeout,
		StaleCallAfter:   cfg.Dialer.StaleCallAfter,
	})
	callMgr.Subscribe(engine)

	var publisher *events.Publisher
	if cfg.AMQP.URL != "" {
		publisher, err = events.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Error("amqp init failed", "err", err)
			os.Exit(1)
		}
		callMgr.Subscribe(publisher)
	}

	if n, err := engine.Resume(logger.With(rootCtx, log)); err != nil {
		log.Error("resume campaigns failed", "err", err)
	} else if n > 0 {
		log.Info("campaigns resumed", "count", n)
	}

	overrides := routing.NewRedisOverrideStore(rdb, "")
	re := routing.NewRoutingEngine(nil)
	re.Overrides = routing.NewAdminOverrideEngine(overrides, routing.AuditAdapter{Audit: auditSvc})
	re.Fallback = cfg.Twilio.InboundConnectTo
	router := routing.NewRouter(re, campaignRepo, callMgr)

	handlers := httpapi.Handlers{
		Auth:      authManager,
		Campaigns: engine,
		Calls:     callMgr,
		Reports:   reporting.NewService(callRepo, contactStore, campaignRepo),
		DNC:       dnc,
		Consent:   consent,
		Overrides: overrides,
		Audit:     auditSvc,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Auth:     authManager,
		Handlers: handlers,
		Webhooks: telephony.WebhookHandler{
			Events:  callMgr,
			Inbound: router,
			Answers: router,
		},
		TwilioAuthToken:     cfg.Twilio.AuthToken,
		TwilioPublicBaseURL: cfg.Twilio.PublicBaseURL,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Campaigns stay active in storage so the next process resumes them.
	engine.Close(shutdownCtx)
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error("amqp close failed", "err", err)
		}
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// buildProviders registers every configured carrier. Config validation
// guarantees the default one is present.
func buildProviders(cfg config.Config) *telephony.Registry {
	var list []telephony.Provider
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		list = append(list, telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID:        cfg.Twilio.AccountSID,
			AuthToken:         cfg.Twilio.AuthToken,
			BaseURL:           cfg.Twilio.BaseURL,
			VoiceURL:          cfg.Twilio.VoiceURL,
			StatusCallbackURL: cfg.Twilio.StatusCallbackURL,
		}))
	}
	if cfg.Telnyx.APIKey != "" && cfg.Telnyx.ConnectionID != "" {
		list = append(list, telephony.NewTelnyxProvider(telephony.TelnyxConfig{
			APIKey:       cfg.Telnyx.APIKey,
			ConnectionID: cfg.Telnyx.ConnectionID,
			BaseURL:      cfg.Telnyx.BaseURL,
			WebhookURL:   cfg.Telnyx.WebhookURL,
		}))
	}
	if cfg.Dialer.CallsPerSecond > 0 {
		for i, p := range list {
			list[i] = telephony.RateLimited(p, rate.NewLimiter(rate.Limit(cfg.Dialer.CallsPerSecond), cfg.Dialer.Burst))
		}
	}
	return telephony.NewRegistry(cfg.Dialer.DefaultProvider, list...)
}
