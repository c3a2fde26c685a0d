// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/courseledger/internal/api"
	"github.com/onnwee/courseledger/internal/audit"
	"github.com/onnwee/courseledger/internal/auth"
	"github.com/onnwee/courseledger/internal/billing"
	"github.com/onnwee/courseledger/internal/config"
	"github.com/onnwee/courseledger/internal/db"
	"github.com/onnwee/courseledger/internal/enrollment"
	"github.com/onnwee/courseledger/internal/health"
	"github.com/onnwee/courseledger/internal/ledger"
	"github.com/onnwee/courseledger/internal/middleware"
	"github.com/onnwee/courseledger/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Course Ledger API Server")
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
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	// Initialize logger
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx := context.Background()

	// Distributed tracing: enabled when an OTLP endpoint is configured.
	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "courseledger-api",
		Enabled:      otlpEndpoint != "",
		Environment:  cfg.Env,
		ExporterType: "otlp-http",
		OTLPEndpoint: otlpEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Storage: Postgres when configured, in-memory otherwise.
	var (
		enrollmentStore enrollment.Store
		eventLedger     ledger.Ledger
		auditRepo       audit.Repository
		dbChecker       api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := conn.Close(); err != nil {
				logger.Warn("failed to close database", "error", err)
			}
		}()
		enrollmentStore = enrollment.NewPostgresStore(conn, logger)
		eventLedger = ledger.NewPostgresLedger(conn, logger)
		auditRepo = audit.NewPostgresRepository(conn)
		dbChecker = health.NewDBChecker(conn)
		logger.Info("using postgres stores")
	} else {
		enrollmentStore = enrollment.NewInMemoryStore()
		eventLedger = ledger.NewInMemoryLedger()
		auditRepo = audit.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, using in-memory stores; state is lost on restart")
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	mwMetrics := middleware.NewMetrics()
	if err := mwMetrics.Register(registry); err != nil {
		logger.Error("failed to register middleware metrics", "error", err)
		os.Exit(1)
	}
	billingMetrics := billing.NewMetrics()
	if err := billingMetrics.Register(registry); err != nil {
		logger.Error("failed to register billing metrics", "error", err)
		os.Exit(1)
	}

	// Redis backs the distributed rate limiter when configured.
	var rateLimitStore middleware.RateLimitStore
	var redisChecker api.HealthChecker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}()
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient, mwMetrics, logger)
		redisChecker = health.NewRedisChecker(redisClient)
		logger.Info("using redis rate limit store")
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
	}

	// Billing event pipeline
	processor := billing.NewProcessor(enrollmentStore, auditRepo, logger, billingMetrics)
	dispatcher := billing.NewDispatcher(eventLedger, processor, logger, billingMetrics)
	retryService := billing.NewRetryService(eventLedger, dispatcher, logger, billingMetrics, billing.RetryConfig{
		Interval:    cfg.RetryInterval,
		MaxAttempts: cfg.RetryMaxAttempts,
		BatchSize:   cfg.RetryBatchSize,
	})
	retryService.Start(ctx)

	// Admin auth
	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	enrollmentService := enrollment.NewService(enrollmentStore, auditRepo, logger)

	// Handlers
	webhookHandlers := api.NewWebhookHandlers(cfg.StripeWebhookSecret, dispatcher)
	approvalHandlers := api.NewApprovalHandlers(enrollmentService)

	var stripeChecker api.HealthChecker
	if cfg.StripeAPIKey != "" {
		stripeChecker = health.NewStripeChecker(cfg.StripeAPIKey)
	}
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:     dbChecker,
		RedisChecker:  redisChecker,
		StripeChecker: stripeChecker,
	})

	// Routes
	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal/stripe", webhookHandlers.HandleStripeWebhook)

	adminLimiter := middleware.RateLimiter(rateLimitStore, middleware.DefaultAdminLimit(), middleware.UserKeyFunc())
	requireAdmin := middleware.RequireAdmin(jwtService)
	adminChain := func(h http.HandlerFunc) http.Handler {
		return requireAdmin(adminLimiter(h))
	}
	mux.Handle("POST /admin/enrollments/{userId}/{courseId}/approve", adminChain(approvalHandlers.Approve))
	mux.Handle("POST /admin/enrollments/{userId}/{courseId}/reject", adminChain(approvalHandlers.Reject))
	mux.Handle("GET /admin/enrollments/{userId}/{courseId}", adminChain(approvalHandlers.GetEnrollment))

	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"courseledger-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS
	var handler http.Handler = mux
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})(handler)
	handler = middleware.HTTPMetrics(mwMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing("courseledger-api")(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	retryService.Stop()

	if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown tracing provider", "error", err)
	}

	logger.Info("server stopped")
}
