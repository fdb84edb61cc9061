package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/api"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/cache"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/database"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/dispatch"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/messaging"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/monitor"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/signal"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/source"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/store"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/logger"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// statusCacheInterval paces monitor status writes to Redis.
const statusCacheInterval = time.Minute

// App represents the main application
type App struct {
	cfg     *config.Config
	logger  *logrus.Logger
	logRing *logger.RingHook
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Core components
	adapters   map[string]source.Adapter
	health     *source.HealthManager
	store      *store.Store
	composer   *signal.Composer
	dispatcher *dispatch.WebhookDispatcher
	scheduler  *monitor.Scheduler
	stream     *source.BinanceStream
	apiServer  *api.Server

	// Optional integrations
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient
	influxDB   *database.InfluxClient
}

// New creates a new application instance
func New(cfg *config.Config, log *logrus.Logger, logRing *logger.RingHook) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:     cfg,
		logger:  log,
		logRing: logRing,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Initialize initializes all application components
func (a *App) Initialize() error {
	a.initializeSources()

	if err := a.initializeIntegrations(); err != nil {
		return err
	}

	a.store = store.New(a.cfg.Monitor.CandleBufferSize)
	a.composer = signal.NewComposer(&a.cfg.Monitor, a.logger)
	a.dispatcher = dispatch.NewWebhookDispatcher(&a.cfg.Webhook, a.logger)

	a.scheduler = monitor.NewScheduler(a.cfg, a.adapters, a.health, a.store, a.composer, a.dispatcher, a.logger)
	if a.redisCache != nil {
		a.scheduler.SetCache(a.redisCache)
	}
	if a.natsClient != nil {
		a.scheduler.SetMessaging(a.natsClient)
	}
	if a.influxDB != nil {
		a.scheduler.SetPersistence(a.influxDB)
	}

	if a.cfg.Features.StreamEnabled {
		a.stream = source.NewBinanceStream(&a.cfg.Sources, a.cfg.Monitor.Symbols,
			a.cfg.Monitor.Timeframe, a.store.Append, a.logger)
	}

	a.apiServer = api.NewServer(a.cfg, a.logger, a.scheduler, a.store, a.logRing)
	if a.redisCache != nil {
		a.apiServer.SetCache(a.redisCache)
	}
	if a.natsClient != nil {
		a.apiServer.SetMessaging(a.natsClient)
	}
	if a.influxDB != nil {
		a.apiServer.SetPersistence(a.influxDB)
	}

	return nil
}

// initializeSources builds the adapter pool and health manager.
func (a *App) initializeSources() {
	a.adapters = make(map[string]source.Adapter, len(a.cfg.Sources.Priority))
	for _, name := range a.cfg.Sources.Priority {
		switch name {
		case "binance":
			a.adapters[name] = source.NewBinanceClient(&a.cfg.Sources, a.logger)
		case "coingecko":
			a.adapters[name] = source.NewCoinGeckoClient(&a.cfg.Sources, a.logger)
		case "alphavantage":
			a.adapters[name] = source.NewAlphaVantageClient(&a.cfg.Sources, a.logger)
		}
	}

	a.health = source.NewHealthManager(&a.cfg.Sources, a.logger)
	a.health.OnTransition(func(event models.HealthEvent) {
		if a.natsClient != nil {
			if err := a.natsClient.PublishHealth(event); err != nil {
				a.logger.WithError(err).Warn("Failed to publish health event")
			}
		}
	})
}

// initializeIntegrations connects the feature-flagged backends.
func (a *App) initializeIntegrations() error {
	if a.cfg.Features.CacheEnabled {
		redisCache, err := cache.NewRedisClient(&a.cfg.Redis, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		a.redisCache = redisCache
	}

	if a.cfg.Features.MessagingEnabled {
		natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		a.natsClient = natsClient
	}

	if a.cfg.Features.PersistenceEnabled {
		a.influxDB = database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)
	}

	return nil
}

// Start starts the application
func (a *App) Start() error {
	if err := a.scheduler.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.stream != nil {
		if err := a.stream.Start(a.ctx); err != nil {
			// The poll loop still covers all symbols without the stream.
			a.logger.WithError(err).Warn("Failed to start kline stream")
			a.stream = nil
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil && err != http.ErrServerClosed {
			a.logger.WithError(err).Error("API server error")
		}
	}()

	if a.redisCache != nil {
		a.wg.Add(1)
		go a.cacheStatusLoop()
	}

	return nil
}

// cacheStatusLoop periodically snapshots the monitor status into Redis.
func (a *App) cacheStatusLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(statusCacheInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			status := a.scheduler.Status()
			if err := a.redisCache.SetMonitorStatus(a.ctx, &status); err != nil {
				a.logger.WithError(err).Warn("Failed to cache monitor status")
			}
		}
	}
}

// Stop gracefully stops the application
func (a *App) Stop() error {
	a.logger.Info("Stopping application")

	if a.stream != nil {
		a.stream.Stop()
	}
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.apiServer.Stop(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("Failed to stop API server")
	}

	a.cancel()
	a.wg.Wait()

	if a.natsClient != nil {
		if err := a.natsClient.Drain(); err != nil {
			a.logger.WithError(err).Warn("Failed to drain NATS connection")
		}
		a.natsClient.Close()
	}
	if a.redisCache != nil {
		a.redisCache.Close()
	}
	if a.influxDB != nil {
		a.influxDB.Close()
	}

	return nil
}
