package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"case-portal/internal/api"
	"case-portal/internal/catalog"
	"case-portal/internal/chat"
	"case-portal/internal/clients"
	portalaws "case-portal/internal/common/aws"
	"case-portal/internal/common/camunda"
	"case-portal/internal/common/config"
	"case-portal/internal/common/database"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/observability"
	"case-portal/internal/common/validation"
	"case-portal/internal/lifecycle"
	"case-portal/internal/programs"
	"case-portal/internal/scheduling"
	"case-portal/internal/session"
	"case-portal/internal/speech"
	"case-portal/internal/store"
	applyagentdecision "case-portal/internal/workers/application/apply-agent-decision"
	sendstatusnotification "case-portal/internal/workers/communication/send-status-notification"
	"case-portal/pkg/registry"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			if i > 0 {
				log.Info("operation succeeded after retry", zap.String("operation", operationName), zap.Int("attempt", i+1))
			}
			return nil
		}

		log.Warn("operation failed, retrying",
			zap.String("operation", operationName),
			zap.Int("attempt", i+1),
			zap.Int("maxRetries", maxRetries),
			zap.Duration("retryIn", delay),
			zap.Error(err),
		)

		time.Sleep(delay)
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// backends are the storage pieces chosen by store.driver.
type backends struct {
	store   store.Store
	blobs   store.BlobStore
	closers []func() error
}

func (b *backends) Close(log *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("failed to close backend", zap.Error(err))
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "console", "stdout").Fatal("failed to load config", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	if cfg.EnvFile != "" {
		zapLog.Info("loaded environment file", zap.String("path", cfg.EnvFile))
	}
	zapLog.Info("starting portal server",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("storeDriver", cfg.Store.Driver),
	)

	obs := observability.New("portal-server", zapLog)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := openBackends(ctx, cfg, zapLog, log)
	defer b.Close(zapLog)

	programCatalog := openProgramCatalog(ctx, cfg, b.store, zapLog)

	registryComponent := clients.NewRegistry(b.store, b.blobs, log).WithPhotoPrefix(cfg.Portal.PhotoPrefix)

	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      10 * time.Second,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe connection")
		if err != nil {
			zapLog.Fatal("zeebe failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		zapLog.Info("Zeebe connected successfully", zap.String("gateway", cfg.Camunda.BrokerAddress))
	}

	engineOpts := lifecycle.Options{
		ReceiptConfirmDelay: config.GetDuration(cfg.Portal.ReceiptConfirmDelay),
		ReceiptRedirectPath: cfg.Portal.ReceiptRedirectPath,
		DocumentPrefix:      cfg.Portal.DocumentPrefix,
	}
	if zeebe != nil {
		engineOpts.Publisher = zeebe
	}
	engine := lifecycle.NewEngine(b.store, b.blobs, programCatalog, registryComponent, log, engineOpts)

	deps := api.Deps{
		Engine:    engine,
		Scheduler: scheduling.NewCoordinator(b.store, registryComponent, log, scheduling.Options{}),
		Chat:      chat.NewChannel(b.store, log),
		Tickets:   chat.NewTickets(b.store, log),
		Clients:   registryComponent,
		Services:  catalog.NewView(b.store),
		Sessions:  session.NewManager(log),
	}
	if cfg.APIs.Speech.BaseURL != "" {
		deps.Speech = speech.NewClient(cfg.APIs.Speech.BaseURL, config.GetDuration(cfg.APIs.Speech.Timeout), log)
	} else {
		zapLog.Warn("speech service not configured, voice screening disabled")
	}
	defer deps.Sessions.CloseAll()

	var workers []*camunda.CamundaWorker
	if zeebe != nil {
		workers = startWorkers(ctx, cfg, zeebe, engine, registryComponent, obs, zapLog, log)
	}

	router := chi.NewRouter()
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if zeebe != nil {
			if err := zeebe.HealthCheck(r.Context()); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "zeebe unavailable")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/", api.NewServer(deps, cfg.Server.AllowedOrigins, obs, log).Routes())

	// No WriteTimeout: websocket feeds set their own write deadlines.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: config.GetDuration(cfg.Server.ReadTimeout),
	}
	go func() {
		zapLog.Info("portal server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("shutdown signal received, stopping server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	deps.Sessions.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	cancel()
	zapLog.Info("portal server stopped")
}

func openBackends(ctx context.Context, cfg *config.Config, zapLog *zap.Logger, log logger.Logger) *backends {
	if cfg.Store.Driver == config.StoreDriverMemory {
		zapLog.Warn("using in-memory store, data is lost on restart")
		return &backends{
			store: store.NewMemoryStore(),
			blobs: store.NewMemoryBlobStore(fmt.Sprintf("http://localhost:%d/blobs", cfg.Server.Port)),
		}
	}

	b := &backends{}

	var pg *database.PostgresClient
	err := retryWithBackoff(func() error {
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
	b.closers = append(b.closers, pg.Close)
	zapLog.Info("PostgreSQL connected successfully")

	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	b.closers = append(b.closers, redis.Close)
	zapLog.Info("Redis connected successfully")

	pgStore := store.NewPostgresStore(pg.DB, store.NewRedisFeed(redis.Client), log)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("failed to prepare documents schema", zap.Error(err))
	}
	b.store = pgStore

	s3, err := portalaws.NewS3BlobStore(ctx, cfg.Storage.S3,
		portalaws.WithS3Logger(zapLog),
		portalaws.WithPresignExpiration(config.GetDuration(cfg.Storage.S3.PresignExpiration)),
	)
	if err != nil {
		zapLog.Fatal("failed to create S3 blob store", zap.Error(err))
	}
	b.blobs = s3
	zapLog.Info("S3 blob store ready", zap.String("bucket", cfg.Storage.S3.Bucket))

	return b
}

func openProgramCatalog(ctx context.Context, cfg *config.Config, s store.Store, zapLog *zap.Logger) programs.Catalog {
	if cfg.Store.ProgramSource != config.ProgramSourceElasticsearch {
		return programs.NewStoreCatalog(s)
	}

	var es *database.ElasticsearchClient
	err := retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully", zap.String("index", cfg.Store.ProgramIndex))
	return programs.NewSearchCatalog(es.Client, cfg.Store.ProgramIndex)
}

func startWorkers(
	ctx context.Context,
	cfg *config.Config,
	zeebe *camunda.Client,
	engine *lifecycle.Engine,
	directory *clients.Registry,
	obs *observability.Observability,
	zapLog *zap.Logger,
	log logger.Logger,
) []*camunda.CamundaWorker {
	activities, err := registry.Default()
	if err != nil {
		zapLog.Fatal("failed to load activity registry", zap.Error(err))
	}
	schemaFor := func(taskType string) *validation.Schema {
		activity, err := activities.Find(taskType)
		if err != nil {
			zapLog.Fatal("activity not registered", zap.String("taskType", taskType), zap.Error(err))
		}
		schema, err := validation.Compile(activity.InputSchema)
		if err != nil {
			zapLog.Fatal("invalid activity schema", zap.String("taskType", taskType), zap.Error(err))
		}
		return schema
	}

	var started []*camunda.CamundaWorker
	start := func(taskType string, handler camunda.JobHandler) {
		if !config.IsWorkerEnabled(cfg, taskType) {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			return
		}
		wcfg := config.GetWorkerConfig(cfg, taskType)
		started = append(started, camunda.NewWorker(zeebe.GetClient(), taskType, handler, camunda.WorkerOptions{
			MaxJobsActive: wcfg.MaxJobsActive,
		}, log))
	}

	start(applyagentdecision.TaskType, applyagentdecision.NewHandler(
		applyagentdecision.LoadConfig(cfg),
		engine,
		schemaFor(applyagentdecision.TaskType),
		log,
	).WithObservability(obs))

	notifyCfg := sendstatusnotification.LoadConfig(cfg)
	var email sendstatusnotification.EmailSender
	if notifyCfg.EmailEnabled {
		ses, err := portalaws.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
		if err != nil {
			zapLog.Fatal("failed to create SES client", zap.Error(err))
		}
		email = ses
	}
	var sms sendstatusnotification.SMSSender
	if notifyCfg.SMSEnabled {
		sns, err := portalaws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("failed to create SNS client", zap.Error(err))
		}
		sms = sns
	}
	start(sendstatusnotification.TaskType, sendstatusnotification.NewHandler(
		notifyCfg,
		engine,
		directory,
		email,
		sms,
		schemaFor(sendstatusnotification.TaskType),
		log,
	).WithObservability(obs))

	zapLog.Info("workers started", zap.Int("count", len(started)))
	return started
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
