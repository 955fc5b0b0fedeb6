// Package main is the entry point for the crewgate API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/crewgate/crewgate/internal/accred"
	"github.com/crewgate/crewgate/internal/api"
	"github.com/crewgate/crewgate/internal/audit"
	"github.com/crewgate/crewgate/internal/auth"
	"github.com/crewgate/crewgate/internal/config"
	"github.com/crewgate/crewgate/internal/db"
	"github.com/crewgate/crewgate/internal/event"
	"github.com/crewgate/crewgate/internal/health"
	"github.com/crewgate/crewgate/internal/jobs"
	"github.com/crewgate/crewgate/internal/middleware"
	"github.com/crewgate/crewgate/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("Crewgate API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	ctx := context.Background()

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "crewgate-api",
		Enabled:      cfg.OTLPEndpoint != "",
		Environment:  cfg.Env,
		ExporterType: "otlp-grpc",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	// Metrics: one registry, everything registered explicitly.
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	accredMetrics := accred.NewMetrics()
	if err := accredMetrics.Register(registry); err != nil {
		logger.Error("failed to register lifecycle metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Repositories and domain services.
	history := audit.NewPostgresHistoryRepository(database, logger)
	scans := audit.NewPostgresScanRepository(database, logger)
	creds := accred.NewPostgresRepository(database, logger)
	events := event.NewPostgresRepository(database, logger)

	svc := accred.NewService(creds, events, accredMetrics, logger)
	verifier := accred.NewVerifier(creds, events, scans, accredMetrics, logger)

	if cfg.ScanRetentionDays > 0 {
		retention := audit.NewRetentionJob(audit.RetentionJobConfig{
			Scans:   scans,
			Logger:  logger,
			MaxAge:  time.Duration(cfg.ScanRetentionDays) * 24 * time.Hour,
			Metrics: jobMetrics,
		})
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				if _, err := retention.Run(ctx); err != nil {
					logger.Error("scan retention job failed", "error", err)
				}
			}
		}()
	}

	var jwtService *auth.JWTService
	if cfg.JWTSecretPrevious != "" {
		jwtService = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTSecretPrevious)
	} else {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	// Rate limit store: Redis when configured so limits hold across
	// replicas, in-memory otherwise.
	var (
		limitStore   middleware.RateLimitStore
		redisChecker api.HealthChecker
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}()
		limitStore = middleware.NewRedisRateLimitStore(redisClient, httpMetrics)
		redisChecker = health.NewRedisChecker(redisClient)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
		limitStore = memStore
	}

	verifyLimit := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.VerifyRequestsPerMinute,
		WindowDuration:    config.VerifyWindow,
	}
	verifyLimiter := middleware.RateLimiter(limitStore, verifyLimit, middleware.IPKeyFunc(), httpMetrics)

	accredHandlers := api.NewAccreditationHandlers(svc, history)
	verifyHandlers := api.NewVerifyHandlers(verifier)
	eventHandlers := api.NewEventHandlers(events, scans)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(database),
		RedisChecker: redisChecker,
	})

	requireAuth := auth.Middleware(jwtService)

	mux := http.NewServeMux()
	mux.Handle("/accreditations", requireAuth(http.HandlerFunc(accredHandlers.Collection)))
	mux.Handle("/accreditations/", requireAuth(http.HandlerFunc(accredHandlers.Item)))
	mux.Handle("/events", requireAuth(http.HandlerFunc(eventHandlers.Collection)))
	mux.Handle("/events/", requireAuth(http.HandlerFunc(eventHandlers.Item)))
	// Scanners hit this unauthenticated; the token in the path is the
	// credential. Rate limited per source IP.
	mux.Handle("/verify/", verifyLimiter(http.HandlerFunc(verifyHandlers.Verify)))
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	var handler http.Handler = mux
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	if len(cfg.AllowedOrigins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}
	handler = middleware.Logging(logger)(handler)
	if tracerProvider.IsEnabled() {
		handler = middleware.Tracing("crewgate-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer provider", "error", err)
	}

	logger.Info("server stopped")
}
