package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/analysis"
	"github.com/interflow/orchestrator/internal/auth"
	"github.com/interflow/orchestrator/internal/circuitbreaker"
	"github.com/interflow/orchestrator/internal/config"
	"github.com/interflow/orchestrator/internal/db"
	"github.com/interflow/orchestrator/internal/decision"
	"github.com/interflow/orchestrator/internal/health"
	"github.com/interflow/orchestrator/internal/httpapi"
	"github.com/interflow/orchestrator/internal/ratecontrol"
	"github.com/interflow/orchestrator/internal/research"
	"github.com/interflow/orchestrator/internal/router"
	"github.com/interflow/orchestrator/internal/state"
	"github.com/interflow/orchestrator/internal/streaming"
	"github.com/interflow/orchestrator/internal/tracing"
	"github.com/interflow/orchestrator/internal/workflow"
)

func main() {
	cfgPath := config.PathFromEnv()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without it", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	hm := health.NewManager(30*time.Second, logger)

	// Stage transitions fan out to the websocket hub and, when enabled, Redis.
	hub := streaming.NewHub(cfg.Streaming.History, cfg.Streaming.MaxWorkflows)
	tracker := state.NewTracker(logger, hub)

	var mirror *state.RedisMirror
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rw := circuitbreaker.NewRedisWrapper(rdb, circuitbreaker.SettingsFor(circuitbreaker.DependencyRedis), logger)
		defer rw.Close()
		mirror = state.NewRedisMirror(rw, cfg.Redis.TTL, logger)
		defer mirror.Close()
		tracker.AddListener(mirror)
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(rw, logger))
		logger.Info("Redis state mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var recorder *db.Recorder
	if cfg.Postgres.Enabled {
		client, err := db.Open(ctx, db.Config{DSN: cfg.Postgres.DSN(), MaxConnections: cfg.Postgres.MaxOpenConns}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database client", zap.Error(err))
		}
		defer client.Close()
		if err := client.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to apply database schema", zap.Error(err))
		}
		recorder = db.NewRecorder(client, logger)
		_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(client, client.Breaker()))
	}

	maker, err := decision.NewMaker(cfg.Decision.HumanThreshold, logger)
	if err != nil {
		logger.Fatal("Invalid decision threshold", zap.Error(err))
	}

	limit := ratecontrol.LimitForProvider(cfg.Research.Provider, nil)
	limit = ratecontrol.CombineLimits(limit, ratecontrol.RateLimit{RPM: cfg.Research.RequestsPerMinute, Burst: cfg.Research.Burst})
	retrievalClient := research.NewClient(research.ClientConfig{
		Endpoint: cfg.Research.Endpoint,
		APIKey:   cfg.Research.APIKey,
		Timeout:  cfg.Research.Timeout,
	}, ratecontrol.NewLimiter(limit), logger)
	_ = hm.RegisterChecker(health.NewBreakerChecker("retrieval", retrievalClient.Breaker()))
	if !retrievalClient.Configured() {
		logger.Warn("Retrieval API key not configured; research agent will report unhealthy")
	}

	var searcher research.Searcher = retrievalClient
	if cfg.Research.CacheTTL > 0 {
		cached, err := research.NewCachedSearcher(retrievalClient, cfg.Research.CacheMaxBytes, cfg.Research.CacheTTL, logger)
		if err != nil {
			logger.Fatal("Failed to create research cache", zap.Error(err))
		}
		defer cached.Close()
		searcher = cached
	}

	registry := agents.NewRegistry(logger)
	registry.Register(agents.Research, research.NewAgent(searcher, logger, research.WithPolicy(research.Policy{
		MaxAttempts: cfg.Research.MaxAttempts,
		BaseDelay:   cfg.Research.BaseDelay,
	})))
	registry.Register(agents.Analysis, analysis.NewAgent(logger))
	registry.Register(agents.Decision, maker)
	_ = hm.RegisterChecker(health.NewAgentRegistryChecker(registry))

	rt := router.New(registry, logger)
	opts := []workflow.Option{workflow.WithNotifier(hub)}
	if recorder != nil {
		opts = append(opts, workflow.WithRecorder(recorder))
	}
	engine := workflow.NewEngine(rt, maker, tracker, logger, opts...)

	cfgMgr := startConfigReload(ctx, cfgPath, maker, logger)
	if cfgMgr != nil {
		defer cfgMgr.Stop()
	}

	if err := hm.Start(ctx); err != nil {
		logger.Warn("Failed to start health manager", zap.Error(err))
	}
	defer hm.Stop()
	go serveAdmin(ctx, cfg.Server, hm, logger)

	deps := httpapi.Deps{
		Engine:      engine,
		Dispatcher:  rt,
		Agents:      registry,
		States:      tracker,
		Hub:         hub,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	}
	if mirror != nil {
		deps.Mirror = mirror
	}
	if recorder != nil {
		deps.Archive = recorder
	}
	if cfg.Auth.Enabled {
		jwtm := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Hour)
		deps.Auth = auth.NewMiddleware(jwtm, false, logger)
	}

	api := httpapi.NewServer(deps)
	addr := ":" + strconv.Itoa(cfg.Server.APIPort)
	if err := api.ListenAndServe(ctx, addr, cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("API server failed", zap.Error(err))
	}
	logger.Info("Shutting down orchestrator service")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// startConfigReload watches the config directory and applies decision.human_threshold
// changes made after startup.
func startConfigReload(ctx context.Context, cfgPath string, maker *decision.Maker, logger *zap.Logger) *config.Manager {
	dir := filepath.Dir(cfgPath)
	if _, err := os.Stat(dir); err != nil {
		logger.Info("Config directory not found, hot reload disabled", zap.String("dir", dir))
		return nil
	}
	mgr, err := config.NewManager(dir, logger)
	if err != nil {
		logger.Warn("Config hot reload unavailable", zap.Error(err))
		return nil
	}
	file := filepath.Base(cfgPath)
	mgr.RegisterValidator(file, config.ValidateDocument)
	mgr.RegisterHandler(file, config.ThresholdReloader(cfgPath, maker, logger))
	if err := mgr.Start(ctx); err != nil {
		logger.Warn("Failed to start config watcher", zap.Error(err))
		return nil
	}
	return mgr
}

func serveAdmin(ctx context.Context, cfg config.ServerConfig, hm *health.Manager, logger *zap.Logger) {
	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.AdminPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("Admin HTTP server listening", zap.Int("port", cfg.AdminPort))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Admin HTTP server failed", zap.Error(err))
	}
}
