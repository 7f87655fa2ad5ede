package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-platform/internal/alert"
	"call-platform/internal/audit"
	"call-platform/internal/auth"
	"call-platform/internal/calls"
	"call-platform/internal/config"
	"call-platform/internal/conversation"
	"call-platform/internal/history"
	"call-platform/internal/httpapi"
	"call-platform/internal/media"
	"call-platform/internal/metrics"
	"call-platform/internal/presence"
	"call-platform/internal/reporting"
	"call-platform/internal/schema"
	"call-platform/internal/session"
	"call-platform/internal/signaling"
	"call-platform/pkg/logger"
	"call-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const sweeperLeaseKey = "calls:sweeper:lease"

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
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(rootCtx context.Context, cfg config.Config, log *slog.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := schema.Apply(rootCtx, db, log); err != nil {
		return err
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return err
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engines, err := media.NewPionFactory(media.PionConfig{ICEServers: cfg.Media.STUNURLs, Log: log})
	if err != nil {
		return err
	}

	store := calls.NewPostgresStore(db, cfg.PostgresDSN(), log)
	presenceStore := presence.NewRedisStore(rdb, cfg.Presence.TTL)
	historyRepo := history.NewPostgresRepo(db)
	recorder := history.NewRecorder(historyRepo)
	notifier := conversation.NewNotifier(conversation.NewPostgresStore(db), log, m)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	manager, err := session.NewManager(session.Config{
		RingTimeout:  cfg.Call.RingTimeout,
		ConnectGrace: cfg.Call.ConnectGrace,
		Retry:        session.RetryConfig{MaxAttempts: cfg.Call.WriteRetries},
	}, session.Deps{
		Store:     store,
		Transport: signaling.NewRedisTransport(rdb, cfg.Call.SignalTTL, log),
		Media:     engines,
		Probe:     presence.NewProbe(presenceStore, cfg.Call.ProbeTimeout, log, m),
		History:   recorder,
		Notifier:  notifier,
		Audit:     auditSvc,
		Log:       log,
		Metrics:   m,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	sweeper, err := session.NewSweeper(session.SweeperConfig{
		Interval:    cfg.Call.SweepInterval,
		RingTimeout: cfg.Call.RingTimeout,
	}, session.SweeperDeps{
		Store:    store,
		History:  recorder,
		Notifier: notifier,
		Audit:    auditSvc,
		Lease:    session.NewRedisLease(rdb, sweeperLeaseKey, 2*cfg.Call.SweepInterval),
		Log:      log,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	watcher, err := alert.NewWatcher(store, manager, log, m)
	if err != nil {
		return err
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))

	registerRoutes(r, routeDeps{
		authMW: auth.RequireAccessToken(authManager),
		handlers: httpapi.Handlers{
			Auth:       authManager,
			Calls:      manager,
			History:    recorder,
			Reports:    reporting.NewService(historyRepo),
			Timeline:   auditSvc,
			AllowLogin: !cfg.IsProduction(),
		},
		events: &httpapi.Events{
			Store:            store,
			Watcher:          watcher,
			Sessions:         manager,
			Presence:         presenceStore,
			PresenceInterval: cfg.Presence.TTL / 3,
			Metrics:          m,
		},
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		gatherer: reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return store.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
