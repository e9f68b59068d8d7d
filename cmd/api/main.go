// Package main is the entry point for the triage API server.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/afyalink/triage-router/internal/config"
	"github.com/afyalink/triage-router/internal/handler"
	"github.com/afyalink/triage-router/internal/llm"
	"github.com/afyalink/triage-router/internal/middleware"
	natsclient "github.com/afyalink/triage-router/internal/nats"
	"github.com/afyalink/triage-router/internal/places"
	"github.com/afyalink/triage-router/internal/service"
	"github.com/afyalink/triage-router/internal/store"
	"github.com/afyalink/triage-router/pkg/logger"
	"github.com/afyalink/triage-router/pkg/tracing"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting triage API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "triage-router", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	var (
		assessments store.AssessmentStore
		turns       store.TurnStore
		facilities  store.FacilityStore
		alerts      service.AlertPublishers
		checks      []handler.Check
	)

	// Postgres when configured, otherwise everything stays in memory.
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("failed to migrate database", zap.Error(err))
		}
		assessments, turns, facilities = pg, pg, pg
		alerts = append(alerts, pg)
		checks = append(checks, handler.Check{Name: "database", Ping: pg.DB.PingContext})
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemory()
		assessments, turns, facilities = mem, mem, mem
	}

	// The JetStream log replaces the database as the turn store.
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		stream := natsclient.NewTurnStream(natsClient)
		if err := stream.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		turns = stream
		alerts = append(alerts, stream)
		checks = append(checks, handler.Check{Name: "nats", Ping: natsClient.Ping})
	}

	var provider places.Provider
	if cfg.GoogleMapsAPIKey != "" {
		provider = places.NewGoogleClient(cfg.GoogleMapsAPIKey, cfg.PlacesTimeout)
		if cfg.RedisAddr != "" {
			rdb, err := places.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				log.Warn("places cache disabled", zap.Error(err))
			} else {
				defer rdb.Close()
				provider = places.NewCachedProvider(provider, rdb, cfg.PlacesCacheTTL, log)
				checks = append(checks, handler.Check{Name: "redis", Ping: func(ctx context.Context) error {
					return rdb.Ping(ctx).Err()
				}})
			}
		}
	}

	var policy llm.Client
	if apiKey := llmKey(cfg); apiKey != "" {
		client, err := llm.NewClient(llm.Provider(cfg.LLMProvider), apiKey, cfg.LLMModel)
		if err != nil {
			log.Warn("failed to create policy client, triage chat disabled", zap.Error(err))
		} else {
			policy = client
		}
	} else {
		log.Warn("no LLM API key configured, triage chat disabled and quick form uses rules")
	}

	facilitySvc := service.NewFacilityService(facilities, provider, log)
	facilitySvc.SetSearchRadius(cfg.PlacesRadiusKm)

	triageSvc := service.NewTriageService(assessments, turns, policy, facilitySvc, log)
	triageSvc.SetTimeouts(cfg.LLMTimeout, cfg.PlacesTimeout)
	if len(alerts) > 0 {
		triageSvc.SetAlertPublisher(alerts)
	}

	quickFormSvc := service.NewQuickFormService(assessments, policy, log)
	quickFormSvc.SetTimeout(cfg.LLMTimeout)

	assessmentSvc := service.NewAssessmentService(assessments, turns)

	healthHandler := handler.NewHealthHandler(checks...)
	triageHandler := handler.NewTriageHandler(triageSvc, quickFormSvc, log)
	assessmentHandler := handler.NewAssessmentHandler(assessmentSvc, log)
	facilityHandler := handler.NewFacilityHandler(facilitySvc, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/assessment/chat", triageHandler.Chat)
		r.Post("/triage", triageHandler.QuickForm)

		r.Route("/assessments", func(r chi.Router) {
			r.Get("/", assessmentHandler.List)
			r.Get("/{assessmentID}", assessmentHandler.Get)
			r.Get("/{assessmentID}/turns", assessmentHandler.Turns)
		})

		r.Get("/clinics/nearby", facilityHandler.NearbyClinics)
		r.Post("/clinics/match", facilityHandler.Match)
		r.Get("/hospitals/nearby", facilityHandler.NearbyHospitals)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// llmKey returns the API key for the configured provider.
func llmKey(cfg *config.Config) string {
	if llm.Provider(cfg.LLMProvider) == llm.ProviderAnthropic {
		return cfg.AnthropicAPIKey
	}
	return cfg.OpenAIAPIKey
}
