package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rentledger/internal/api"
	"rentledger/internal/config"
	"rentledger/internal/database"
	"rentledger/internal/escrow"
	"rentledger/internal/events"
	"rentledger/internal/export"
	"rentledger/internal/google"
	"rentledger/internal/logging"
	"rentledger/internal/metrics"
	"rentledger/internal/models"
	"rentledger/internal/notify"
	"rentledger/internal/repository"
	"rentledger/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

const viewCacheTTL = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, items, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return err
	}
	defer db.Close()
	db.SetItems(items)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	redisClient, viewCache := initViewCache(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	eventBus := events.NewEventBus()
	subscribeMetrics(eventBus, &logger)

	sender := initTelegram(cfg, &logger)
	dispatcher := notify.NewDispatcher(db, sender, cfg.Telegram.ManagerChatIDs, &logger)
	dispatcher.Register(eventBus)

	ledgerWorker := initLedgerWorker(ctx, cfg, db, redisClient, &logger)

	var syncQ escrow.SyncEnqueuer
	if ledgerWorker != nil {
		syncQ = ledgerWorker
	}
	engine := escrow.NewEngine(db, eventBus, viewCache, syncQ, cfg.Escrow, &logger)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	exporter := export.NewExporter(db, cfg.Exports.Path, &logger)

	if !cfg.API.Enabled || !cfg.API.HTTP.Enabled {
		logger.Warn().Msg("HTTP API disabled, running workers only")
		<-ctx.Done()
		return nil
	}

	httpServer := api.NewHTTPServer(cfg.API, engine, db, viewCache, exporter, &logger)
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("escrow coordinator started")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfigAndLogger() (*config.Config, []models.RentalItem, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	itemsPath := os.Getenv("ITEMS_PATH")
	if itemsPath == "" {
		itemsPath = "configs/items.yaml"
	}
	itemsData, err := os.ReadFile(itemsPath)
	if err != nil {
		logger.Error().Err(err).Msgf("failed to read %s", itemsPath)
		return nil, nil, zerolog.Logger{}, closer, err
	}

	var itemsConfig struct {
		Items []models.RentalItem `yaml:"items"`
	}
	if err := yaml.Unmarshal(itemsData, &itemsConfig); err != nil {
		logger.Error().Err(err).Msg("failed to parse items.yaml")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	if err := config.ValidateItems(itemsConfig.Items); err != nil {
		logger.Error().Err(err).Msg("items validation failed")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, itemsConfig.Items, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create database directory")
		return err
	}
	if cfg.Exports.Path != "" {
		if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
			logger.Error().Err(err).Msg("failed to create export directory")
			return err
		}
	}
	return nil
}

func initViewCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, *repository.FailoverViewRepository) {
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, redisClient); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, starting on the memory fallback")
		}
	}

	primary := repository.NewRedisViewRepository(redisClient, viewCacheTTL)
	fallback := repository.NewMemoryViewRepository(viewCacheTTL)
	return redisClient, repository.NewFailoverViewRepository(primary, fallback, logger)
}

func initTelegram(cfg *config.Config, logger *zerolog.Logger) notify.TelegramSender {
	if cfg.Telegram.BotToken == "" {
		logger.Info().Msg("telegram disabled, manager alerts off")
		return nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create telegram bot, manager alerts off")
		return nil
	}
	botAPI.Debug = cfg.Telegram.Debug
	return botAPI
}

func initLedgerWorker(ctx context.Context, cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) *worker.LedgerWorker {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.LedgerSpreadSheetID == "" {
		logger.Info().Msg("google sheets not configured, ledger mirror disabled")
		return nil
	}

	sheetsSvc, err := google.NewSheetsService(cfg.Google.GoogleCredentialsFile, cfg.Google.LedgerSpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize Google Sheets service, ledger mirror disabled")
		return nil
	}
	if err := sheetsSvc.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("Google Sheets connection test failed, ledger mirror disabled")
		return nil
	}

	w := worker.NewLedgerWorker(db, sheetsSvc, redisClient, worker.DefaultRetryPolicy, logger)
	go w.Start(ctx)
	logger.Info().Msg("ledger mirror worker started")
	return w
}

// subscribeMetrics counts committed transitions and settled payments off the
// event bus so the engine stays metrics-free.
func subscribeMetrics(bus *events.EventBus, logger *zerolog.Logger) {
	handler := func(ev *events.Event) error {
		var payload events.EscrowEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("metrics: decode payload")
			return nil
		}

		if payload.Status != "" {
			metrics.IncTransition(payload.Status)
		}
		if payload.PaymentStatus == models.PaymentReleased || payload.PaymentStatus == models.PaymentForfeited {
			switch ev.Type {
			case events.EventBookingCompleted, events.EventOwnerRejected, events.EventBookingCancelled, events.EventStatusOverridden:
				metrics.IncPaymentSettled(payload.PaymentStatus)
			}
		}
		return nil
	}

	for _, eventType := range []string{
		events.EventBookingCreated,
		events.EventPaymentHeld,
		events.EventOwnerAccepted,
		events.EventOwnerRejected,
		events.EventDeliveryConfirmed,
		events.EventBookingCompleted,
		events.EventBookingCancelled,
		events.EventStatusOverridden,
	} {
		bus.Subscribe(eventType, handler)
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
