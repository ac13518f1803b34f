// Package main is the entry point for the webhook gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shoptalk-ai/webhook-gateway/internal/arbiter"
	"github.com/shoptalk-ai/webhook-gateway/internal/config"
	"github.com/shoptalk-ai/webhook-gateway/internal/handler"
	"github.com/shoptalk-ai/webhook-gateway/internal/llm"
	"github.com/shoptalk-ai/webhook-gateway/internal/lock"
	"github.com/shoptalk-ai/webhook-gateway/internal/middleware"
	natsclient "github.com/shoptalk-ai/webhook-gateway/internal/nats"
	"github.com/shoptalk-ai/webhook-gateway/internal/orchestrator"
	"github.com/shoptalk-ai/webhook-gateway/internal/service"
	"github.com/shoptalk-ai/webhook-gateway/internal/store"
	"github.com/shoptalk-ai/webhook-gateway/internal/webhook"
	"github.com/shoptalk-ai/webhook-gateway/pkg/logger"
	"github.com/shoptalk-ai/webhook-gateway/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	// A missing webhook secret is fatal at startup, never a per-request error.
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	log.Info("starting webhook gateway")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "webhook-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	nc, err := natsclient.Connect(natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer nc.Close()

	// Ensure JetStream buckets and streams exist
	resources, err := natsclient.EnsureResources(ctx, nc)
	if err != nil {
		log.Error("failed to ensure JetStream resources", zap.Error(err))
		os.Exit(1)
	}

	// Initialize persistence
	conversations := store.NewConversationStore(resources)
	ledger := store.NewLedger(resources)
	messageLog := store.NewMessageLog(nc.JetStream())

	// Initialize the bot orchestrator
	bot, err := buildOrchestrator(cfg, nc, messageLog, log)
	if err != nil {
		log.Error("failed to create orchestrator", zap.Error(err))
		os.Exit(1)
	}

	// Initialize arbitration
	machine := arbiter.New(cfg.CooperativeWindow, cfg.ProtectedSteps)
	locks := lock.NewManager()
	classifier := webhook.NewClassifier(cfg.PageIDs)

	// Initialize services
	ingestSvc := service.NewIngestService(
		conversations, messageLog, ledger, classifier, machine, locks, bot,
		service.IngestConfig{
			LockTTL:             cfg.LockTTL,
			LockWait:            cfg.LockWait,
			HumanRecheckGrace:   cfg.HumanRecheckGrace,
			OrchestratorTimeout: cfg.OrchestratorTimeout,
		},
		log,
	)
	controlSvc := service.NewControlService(
		conversations, messageLog, messageLog, machine, locks,
		cfg.LockTTL, cfg.LockWait, log,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(nc)
	webhookHandler := handler.NewWebhookHandler(ingestSvc, cfg.AppSecret, cfg.VerifyToken, log)
	controlHandler := handler.NewControlHandler(controlSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Platform webhook endpoints; the HMAC signature is the authentication.
	r.Get("/webhook", webhookHandler.Verify)
	r.Post("/webhook", webhookHandler.Deliver)

	// Control API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"https://*", "http://*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
			ExposedHeaders:   []string{"X-Correlation-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/control", controlHandler.GetState)
			r.Put("/control", controlHandler.SetMode)
			r.Put("/pause", controlHandler.SetPause)
			r.Delete("/pause", controlHandler.ClearPause)

			r.Get("/messages", controlHandler.ListMessages)
			r.Post("/messages", controlHandler.SendMessage)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func buildOrchestrator(cfg *config.Config, nc *natsclient.Client, messageLog *store.MessageLog, log *logger.Logger) (orchestrator.Orchestrator, error) {
	switch cfg.Orchestrator {
	case "llm":
		var client llm.Client
		var err error
		if cfg.AnthropicAPIKey != "" {
			client, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		} else {
			client, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		}
		if err != nil {
			return nil, err
		}
		log.Info("using LLM orchestrator", zap.String("provider", client.Name()))
		return orchestrator.NewLLMOrchestrator(client, messageLog), nil
	default:
		return orchestrator.NewNATSOrchestrator(nc.Conn()), nil
	}
}
