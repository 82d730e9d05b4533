// cmd/assistant-server/main.go
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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hostel-assistant/internal/api"
	"hostel-assistant/internal/assistant/executor"
	"hostel-assistant/internal/assistant/gateway"
	"hostel-assistant/internal/assistant/orchestrator"
	"hostel-assistant/internal/assistant/student"
	"hostel-assistant/internal/assistant/summarizer"
	"hostel-assistant/internal/assistant/visitor"
	"hostel-assistant/internal/audit"
	"hostel-assistant/internal/common/auth"
	"hostel-assistant/internal/common/aws"
	"hostel-assistant/internal/common/config"
	"hostel-assistant/internal/common/database"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/common/observability"
	"hostel-assistant/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting assistant server...", zap.String("environment", cfg.App.Environment))

	ctx := context.Background()

	obs, err := observability.New(ctx, observability.Options{
		ServiceName:  cfg.Observability.ServiceName,
		Version:      cfg.App.Version,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		SampleRatio:  cfg.Observability.SampleRatio,
	})
	if err != nil {
		zapLog.Warn("observability partially initialised", zap.Error(err))
	}
	defer obs.Shutdown(context.Background())

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	docs := store.NewPostgresStore(pg.DB, cfg.Assistant.AggregateScan, log)
	if err := docs.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("document schema setup failed", zap.Error(err))
	}

	// --- Init Redis with retry ---
	redis := database.NewRedis(cfg.Database.Redis)
	err = retryWithBackoff(func() error {
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	checks := []api.HealthChecker{pg, redis}

	// --- Audit sinks ---
	var recorders audit.Multi
	if cfg.Audit.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
		recorders = append(recorders, audit.NewESRecorder(esClient.Client, cfg.Audit.Index, log))
		checks = append(checks, esClient)
	}
	if sns := cfg.Integrations.AWS.SNS; sns.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		recorders = append(recorders, audit.NewSNSRecorder(snsClient, sns.TopicARN, log))
	}

	// --- Assistants ---
	gw, err := gateway.New(ctx, gateway.ConfigFrom(cfg.LLM), log)
	if err != nil {
		zapLog.Fatal("language model gateway init failed", zap.Error(err))
	}

	relations, err := store.ParseRelations(cfg.Assistant.Enrichment)
	if err != nil {
		zapLog.Fatal("invalid enrichment table", zap.Error(err))
	}

	contexts := student.NewContextLoader(docs, redis.Client, config.GetDuration(cfg.Assistant.StudentCacheTTL), log)
	recorders = append(recorders, student.NewStaleContextRecorder(contexts))

	admin := orchestrator.New(
		gw,
		executor.New(docs, store.NewEnricher(docs, relations), cfg.Assistant.FindLimit, log),
		summarizer.New(gw, cfg.Assistant.SafetyMarkers, log),
		recorders,
		orchestrator.ConfigFrom(cfg.Assistant),
		log,
		orchestrator.WithObservability(obs),
	)
	studentAssistant := student.New(gw, contexts, log)
	visitorAssistant := visitor.New(gw, cfg.Assistant.HostelName, log)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.RouterConfig{
		ServiceName:    cfg.Observability.ServiceName,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Admin:          admin,
		Student:        studentAssistant,
		Visitor:        visitorAssistant,
		Verifier:       auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Checks:         checks,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error during HTTP shutdown", zap.Error(err))
	}

	zapLog.Info("Assistant server stopped gracefully")
}
