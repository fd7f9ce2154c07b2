package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicegate/internal/audit"
	"voicegate/internal/auth"
	"voicegate/internal/calls"
	"voicegate/internal/config"
	"voicegate/internal/messaging"
	"voicegate/internal/migrations"
	"voicegate/internal/pricing"
	"voicegate/internal/reconciler"
	"voicegate/internal/reporting"
	"voicegate/internal/routing"
	"voicegate/internal/telemetry"
	"voicegate/internal/tenants"
	"voicegate/internal/usage"
	"voicegate/pkg/logger"
	"voicegate/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	zap.ReplaceGlobals(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tracing, err := telemetry.Setup(rootCtx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("telemetry init failed", zap.Error(err))
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Fatal("auth init failed", zap.Error(err))
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Fatal("postgres init failed", zap.Error(err))
	}
	defer db.Close()

	if cfg.App.AutoMigrate {
		m, err := migrations.New(db, log)
		if err != nil {
			log.Fatal("migrator init failed", zap.Error(err))
		}
		if err := m.Up(); err != nil {
			log.Fatal("auto-migrate failed", zap.Error(err))
		}
		_ = m.Close()
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		log.Fatal("redis init failed", zap.Error(err))
	}
	defer rdb.Close()

	// Tenant directory, optionally fronted by the Redis snapshot cache.
	var (
		directory   tenants.Directory = tenants.NewPostgresDirectory(db)
		invalidator tenants.Invalidator
	)
	if cfg.Tenants.CacheTTL > 0 {
		cached := tenants.NewCachedDirectory(directory, rdb, cfg.Tenants.CacheTTL)
		directory, invalidator = cached, cached
	}

	sessions := calls.NewPostgresStore(db, usage.NewPostgresLedger(db))
	pricer, err := pricing.NewService(pricing.Rate{Amount: cfg.Billing.FlatCallRate, Currency: cfg.Billing.Currency})
	if err != nil {
		log.Fatal("pricing init failed", zap.Error(err))
	}

	engine := routing.NewEngine(directory, sessions, cfg.Voice.MediaStreamURL, cfg.Voice.DefaultGreeting)

	deps := routeDeps{
		Config:     cfg,
		Auth:       authManager,
		DB:         db,
		Redis:      rdb,
		Tracing:    tracing,
		Engine:     engine,
		Reconciler: reconciler.New(sessions, pricer, engine, invalidator),
		Messages:   messaging.NewRecorder(directory, messaging.NewPostgresStore(db)),
		Audit:      audit.NewService(audit.NewPostgresRepo(db)),
		Calls:      sessions,
		Reports:    reporting.NewService(reporting.NewPostgresRepo(db)),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracing.Middleware())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}

	_ = logger.ShutdownFlush(log, 2*time.Second)
}
