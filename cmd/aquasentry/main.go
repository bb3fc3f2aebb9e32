package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aquasentry/aquasentry/internal/alerts"
	"github.com/aquasentry/aquasentry/internal/api"
	"github.com/aquasentry/aquasentry/internal/cache"
	"github.com/aquasentry/aquasentry/internal/config"
	"github.com/aquasentry/aquasentry/internal/ensemble"
	"github.com/aquasentry/aquasentry/internal/features"
	"github.com/aquasentry/aquasentry/internal/gateway"
	"github.com/aquasentry/aquasentry/internal/ingest"
	"github.com/aquasentry/aquasentry/internal/logger"
	"github.com/aquasentry/aquasentry/internal/models"
	"github.com/aquasentry/aquasentry/internal/pipeline"
	"github.com/aquasentry/aquasentry/internal/risk"
	"github.com/aquasentry/aquasentry/internal/sinks"
	"github.com/aquasentry/aquasentry/internal/state"
	"github.com/aquasentry/aquasentry/internal/storage"
	"github.com/aquasentry/aquasentry/internal/telegram"
	"github.com/aquasentry/aquasentry/internal/validate"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxResults, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	scorers, weights, err := ensemble.LoadDir(cfg.Ensemble.ModelsDir)
	if err != nil {
		logger.Fatal("Failed to load model artifacts: %v", err)
	}
	logger.Info("Loaded %d model artifacts from %s", len(scorers), cfg.Ensemble.ModelsDir)

	table, err := buildRiskTable(cfg.Zones)
	if err != nil {
		logger.Fatal("Invalid zone threshold table: %v", err)
	}

	validator := validate.New(validate.Config{
		MaxPressureBar: cfg.Validator.MaxPressureBar,
		MaxFutureSkew:  cfg.Validator.MaxFutureSkew,
	})
	stateStore := state.New(state.Config{WindowSize: cfg.Engine.WindowSize})
	extractor := features.New(features.Config{
		NightStartHour: cfg.Features.NightStartHour,
		NightEndHour:   cfg.Features.NightEndHour,
	})
	predictor := ensemble.NewPredictor(scorers, weights)
	classifier := risk.New(table, cfg.Engine.DeescalationConfirmations)
	machine := alerts.NewMachine(alerts.Config{
		CriticalResponseBudget: cfg.Zones.CriticalResponseBudget,
		StandardResponseBudget: cfg.Zones.StandardResponseBudget,
		CloseConfirmations:     cfg.Engine.DeescalationConfirmations,
	})

	resultSinks := []sinks.ResultSink{store}
	alertSinks := []sinks.AlertSink{store}

	if cfg.Cache.Enabled {
		redisCache, err := cache.New(cache.Config{
			Addr:        cfg.Cache.Addr,
			Password:    cfg.Cache.Password,
			DB:          cfg.Cache.DB,
			TTL:         cfg.Cache.TTL,
			RecentLimit: cfg.Cache.RecentLimit,
		})
		if err != nil {
			logger.Fatal("Failed to connect to Redis: %v", err)
		}
		defer func() {
			if err := redisCache.Close(); err != nil {
				logger.Error("Failed to close Redis client: %v", err)
			}
		}()
		resultSinks = append(resultSinks, redisCache)
		logger.Info("Redis cache connected at %s", cfg.Cache.Addr)
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		alertSinks = append(alertSinks, telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	dispatcher := sinks.NewDispatcher(sinks.DefaultConfig(), resultSinks, alertSinks)

	engine, err := pipeline.New(pipeline.Config{
		Partitions:         cfg.Engine.Partitions,
		QueueDepth:         cfg.Engine.QueueDepth,
		PredictorTimeout:   cfg.Engine.PredictorTimeout,
		ReadingBudget:      cfg.Engine.ReadingBudget,
		SweepInterval:      cfg.Engine.SweepInterval,
		CheckpointInterval: cfg.Engine.CheckpointInterval,
		OfflineAfter:       cfg.Engine.OfflineAfter,
	}, pipeline.Deps{
		Validator:    validator,
		Store:        stateStore,
		Extractor:    extractor,
		Predictor:    predictor,
		Classifier:   classifier,
		Machine:      machine,
		Dispatcher:   dispatcher,
		Checkpointer: store,
	})
	if err != nil {
		logger.Fatal("Failed to build pipeline: %v", err)
	}

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	states, err := store.LoadSensorStates(restoreCtx)
	if err != nil {
		cancelRestore()
		logger.Fatal("Failed to load sensor states: %v", err)
	}
	stateStore.Restore(states)
	records, err := store.LoadActiveAlerts(restoreCtx)
	if err != nil {
		cancelRestore()
		logger.Fatal("Failed to load active alerts: %v", err)
	}
	machine.Restore(records, time.Now())
	cancelRestore()
	logger.Info("Restored %d sensor states and %d active alerts", len(states), len(records))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if cfg.Telegram.Enabled && telegramClient != nil {
		telegramClient.ListenForCommands(ctx, engine)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})

	apiServer := api.NewServer(api.Config{
		ListenAddr:      cfg.API.ListenAddr,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	}, engine, store)
	g.Go(func() error {
		return apiServer.Run(gctx)
	})

	if cfg.Ingest.Enabled {
		consumer, err := ingest.NewConsumer(ingest.Config{
			Brokers: cfg.Ingest.Brokers,
			Topic:   cfg.Ingest.Topic,
			GroupID: cfg.Ingest.GroupID,
		}, engine)
		if err != nil {
			logger.Fatal("Failed to build Kafka consumer: %v", err)
		}
		g.Go(func() error {
			defer consumer.Close() //nolint:errcheck
			return consumer.Run(gctx)
		})
		logger.Info("Kafka ingest enabled (topic: %s, group: %s)", cfg.Ingest.Topic, cfg.Ingest.GroupID)
	}

	if cfg.Gateway.Enabled {
		var notifier gateway.Notifier
		if telegramClient != nil {
			notifier = telegramClient
		}
		poller, err := gateway.New(gateway.Config{
			BaseURL:      cfg.Gateway.BaseURL,
			PollInterval: cfg.Gateway.PollInterval,
			Timeout:      cfg.Gateway.Timeout,
			Limit:        cfg.Gateway.Limit,
		}, engine, notifier)
		if err != nil {
			logger.Fatal("Failed to build gateway poller: %v", err)
		}
		g.Go(func() error {
			return poller.Run(gctx)
		})
		logger.Info("Gateway polling enabled (%s every %v)", cfg.Gateway.BaseURL, cfg.Gateway.PollInterval)
	}

	logger.Info("Starting assessment service (partitions: %d, window_size: %d, models: %d)",
		cfg.Engine.Partitions, cfg.Engine.WindowSize, len(scorers))

	if err := g.Wait(); err != nil {
		logger.Error("Service failed: %v", err)
		return
	}
	logger.Info("Service stopped")
}

// buildRiskTable applies configured zone bands on top of the built-in
// thresholds. Zones without configured bands keep the defaults.
func buildRiskTable(zones config.ZonesConfig) (risk.Table, error) {
	table := risk.DefaultTable()
	if len(zones.CriticalBands) > 0 {
		bands, err := toBands(zones.CriticalBands)
		if err != nil {
			return nil, err
		}
		table[models.ZoneCritical] = bands
	}
	if len(zones.StandardBands) > 0 {
		bands, err := toBands(zones.StandardBands)
		if err != nil {
			return nil, err
		}
		table[models.ZoneStandard] = bands
	}
	return table, nil
}

func toBands(in []config.ZoneBand) ([]risk.Band, error) {
	out := make([]risk.Band, 0, len(in))
	for _, b := range in {
		level, err := models.ParseRiskLevel(b.Level)
		if err != nil {
			return nil, err
		}
		burst := b.Burst
		if burst <= 0 {
			burst = risk.Disabled
		}
		leak := b.Leak
		if leak <= 0 {
			leak = risk.Disabled
		}
		out = append(out, risk.Band{Level: level, Burst: burst, Leak: leak})
	}
	return out, nil
}
