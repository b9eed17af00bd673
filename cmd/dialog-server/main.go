// cmd/dialog-server/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crm-dialogs/internal/api"
	"crm-dialogs/internal/common/auth"
	"crm-dialogs/internal/common/camunda"
	"crm-dialogs/internal/common/config"
	"crm-dialogs/internal/common/crm"
	"crm-dialogs/internal/common/database"
	"crm-dialogs/internal/common/dynamics"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/common/observability"
	"crm-dialogs/internal/dialog"
	chooserecord "crm-dialogs/internal/dialogs/choose-record"
	searchcontact "crm-dialogs/internal/dialogs/search-contact"
	dialogturn "crm-dialogs/internal/workers/dialog/dialog-turn"
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
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.FromConfig(cfg.Logging)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting dialog server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("crmBackend", cfg.CRM.Backend),
	)

	obs := observability.New(cfg.Observability, log)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Redis (conversation state) ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(ctx, cfg.Database.Redis)
		return err
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	checks := map[string]api.HealthCheck{"redis": rdb.Ping}

	// --- CRM backend ---
	var backend crm.Client
	switch cfg.CRM.Backend {
	case config.CRMBackendPostgres:
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(ctx, cfg.Database.Postgres)
			return err
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		checks["postgres"] = pg.Ping
		backend = database.NewCRMStore(pg.DB, log)
	default:
		backend = dynamics.NewClient(cfg.CRM.Dynamics, auth.NewDynamicsCredentials(cfg.CRM.Dynamics), log)
	}
	crmClient := crm.NewInstrumented(backend, cfg.CRM.Backend, obs.Tracer(), log)
	zapLog.Info("CRM backend initialized", zap.String("backend", cfg.CRM.Backend))

	// --- Dialogs ---
	factory := chooserecord.NewFactory(chooserecord.Config{MaxAttempts: cfg.Dialogs.ChoiceMaxAttempts}, log)
	registry := dialog.NewRegistry()
	registry.MustRegister(searchcontact.Definition(crmClient, factory, searchcontact.Config{
		FormsPerRecord: cfg.Dialogs.FormsPerRecord,
	}, log))
	registry.MustRegister(factory.Definition())

	store := dialog.NewRedisStore(rdb.Client, time.Duration(cfg.Dialogs.StateTTL)*time.Second)
	runtime := dialog.NewRuntime(registry, store, log)

	// --- Zeebe worker ---
	var (
		zeebe     *camunda.Client
		jobWorker worker.JobWorker
	)
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.Connect(ctx, camunda.ConfigFromApp(cfg.Camunda), log)
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		checks["zeebe"] = zeebe.HealthCheck

		turnCfg := dialogturn.ConfigFromApp(cfg)
		if err := turnCfg.Validate(); err != nil {
			zapLog.Fatal("invalid dialog turn worker configuration", zap.Error(err))
		}
		handler := dialogturn.NewHandler(turnCfg, runtime, obs, log)
		jobWorker = camunda.StartWorker(zeebe.GetClient(), dialogturn.TaskType, config.WorkerConfig{
			Enabled:       turnCfg.Enabled,
			MaxJobsActive: turnCfg.MaxJobsActive,
			Timeout:       int(turnCfg.Timeout.Milliseconds()),
		}, handler, log)
	}

	// --- Conversation API ---
	apiServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           api.NewRouter(api.NewHandler(runtime, searchcontact.Kind, obs, log, checks)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("Conversation API listening", zap.String("address", cfg.HTTP.Address))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("Conversation API failed", zap.Error(err))
		}
	}()

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		status, state := http.StatusOK, "ready"
		if err := rdb.Ping(r.Context()); err != nil {
			status, state = http.StatusServiceUnavailable, "not ready"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{
			"status": state,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.HTTP.MetricsAddress, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.HTTP.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if jobWorker != nil {
		jobWorker.Close()
		jobWorker.AwaitClose()
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping conversation API", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping metrics server", zap.Error(err))
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}

	zapLog.Info("Dialog server stopped gracefully")
}
