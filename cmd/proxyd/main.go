package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/amerfu/proxyd/internal/auth"
	"github.com/amerfu/proxyd/internal/budget"
	"github.com/amerfu/proxyd/internal/config"
	"github.com/amerfu/proxyd/internal/database"
	"github.com/amerfu/proxyd/internal/honeypot"
	"github.com/amerfu/proxyd/internal/journal"
	"github.com/amerfu/proxyd/internal/logger"
	"github.com/amerfu/proxyd/internal/pipeline"
	"github.com/amerfu/proxyd/internal/pricing"
	"github.com/amerfu/proxyd/internal/router"
	"github.com/amerfu/proxyd/internal/router/smart"
	"github.com/amerfu/proxyd/internal/security"
	"github.com/amerfu/proxyd/internal/security/detectors"
	"github.com/amerfu/proxyd/internal/security/rules"
	"github.com/amerfu/proxyd/internal/services/providers"
	"github.com/amerfu/proxyd/internal/stream"
	"github.com/amerfu/proxyd/internal/threatintel"
)

// main wires C1-C11 into a Pipeline and serves it, following the
// teacher's boot sequence in cmd/server/main.go: load config, init
// logger, connect the database, then construct every component once
// before the servers start accepting traffic.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dbConfig := &database.Config{
		DSN:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	if err := database.Initialize(dbConfig); err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close()
	db := database.GetDB()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		addr := strings.TrimPrefix(cfg.Redis.URL, "redis://")
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis not available, auth key cache disabled", zap.Error(err))
			redisClient = nil
		}
	}

	p, secEngine := buildPipeline(cfg, db, redisClient, log)
	hp := honeypot.New(secEngine, log)

	proxyRouter := router.NewProxyRouter(cfg, log, p, hp)
	metricsRouter := router.NewMetricsRouter(cfg, log)

	servers := []*http.Server{
		{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      proxyRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		{
			Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:      metricsRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	for i, srv := range servers {
		go func(s *http.Server, idx int) {
			log.Info("server starting", zap.String("address", s.Addr), zap.Int("index", idx))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("server failed to start", zap.Error(err))
			}
		}(srv, i)
	}

	log.Info("proxyd started", zap.Int("api_port", cfg.Server.Port), zap.Int("metrics_port", cfg.Server.MetricsPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
	}
	log.Info("shutdown complete")
}

// buildPipeline constructs C1-C9 and C11 and wires them into a
// Pipeline (C10), the Request Pipeline spec.md's §9 redesign note
// requires be built once at boot rather than per request.
func buildPipeline(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, log *zap.Logger) (*pipeline.Pipeline, *security.Engine) {
	pricingRepo := pricing.NewGormRepository(db, log)
	registry := pricing.NewRegistry(pricingRepo, cfg.Pricing, log)
	if err := registry.Refresh(context.Background()); err != nil {
		log.Warn("pricing: initial refresh failed, serving built-in table only", zap.Error(err))
	}

	var authRepo auth.Repository = auth.NewGormRepository(db, log)
	if redisClient != nil {
		authRepo = auth.NewCachedRepository(authRepo, redisClient, 5*time.Minute, log)
	}
	authenticator := auth.New(authRepo, []byte(cfg.JWT.SecretKey), log)

	ruleRepo := smart.NewGormRepository(db, log)
	smartRouter := smart.New(ruleRepo, registry, log)

	budgetRepo := budget.NewGormRepository(db, log)
	budgetEng := budget.New(budgetRepo, cfg.Budget, log)

	secEngine := security.New(cfg.Security, log)
	customRules := detectors.RegisterDefaults(secEngine, threatintel.NewCustomFeed("built-in", nil))
	rulesRepo := rules.NewGormRepository(db, log)
	if err := rulesRepo.LoadInto(context.Background(), customRules); err != nil {
		log.Warn("security: failed to load custom rules, running with none", zap.Error(err))
	}

	forwarder := providers.New(providers.DefaultProviderTable)

	interceptor := stream.New(secEngine, 20, 8192, log)

	journalRepo := journal.NewGormRepository(db, log)
	journalWriter := journal.New(journalRepo, cfg.Journal.QueueSize, log)

	return pipeline.New(authenticator, smartRouter, budgetEng, secEngine, registry, forwarder, interceptor, journalWriter, cfg.Budget, log), secEngine
}
