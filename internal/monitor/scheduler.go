package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/cache"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/database"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/divergence"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/indicator"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/messaging"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/pattern"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/signal"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/source"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/store"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// volumeRefreshInterval paces the 24h volume lookups, which are much
// cheaper to keep slightly stale than to refetch every cycle.
const volumeRefreshInterval = 15 * time.Minute

// Dispatcher delivers accepted signals.
type Dispatcher interface {
	Dispatch(ctx context.Context, sig *models.Signal) error
}

// Scheduler runs the polling loop: fetch candles from the active source,
// analyze each symbol and hand detections to the composer.
type Scheduler struct {
	cfg        *config.Config
	logger     *logrus.Entry
	adapters   map[string]source.Adapter
	health     *source.HealthManager
	store      *store.Store
	composer   *signal.Composer
	dispatcher Dispatcher

	// Optional integrations, enabled by feature flags.
	cache  *cache.RedisClient
	nats   *messaging.NATSClient
	influx *database.InfluxClient

	patternParams    pattern.Params
	divergenceParams divergence.Params
	indicatorParams  indicator.Params

	volMu   sync.RWMutex
	volumes map[string]float64

	cyclesRun int64
	startedAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates the monitoring scheduler.
func NewScheduler(
	cfg *config.Config,
	adapters map[string]source.Adapter,
	health *source.HealthManager,
	st *store.Store,
	composer *signal.Composer,
	dispatcher Dispatcher,
	logger *logrus.Logger,
) *Scheduler {
	patternParams := pattern.DefaultParams()
	patternParams.MinConfidence = cfg.Monitor.MinConfidence

	return &Scheduler{
		cfg:              cfg,
		logger:           logger.WithField("component", "scheduler"),
		adapters:         adapters,
		health:           health,
		store:            st,
		composer:         composer,
		dispatcher:       dispatcher,
		patternParams:    patternParams,
		divergenceParams: divergence.DefaultParams(),
		indicatorParams:  indicator.DefaultParams(),
		volumes:          make(map[string]float64),
		stopCh:           make(chan struct{}),
	}
}

// SetCache enables the Redis cache integration.
func (s *Scheduler) SetCache(c *cache.RedisClient) { s.cache = c }

// SetMessaging enables the NATS integration.
func (s *Scheduler) SetMessaging(n *messaging.NATSClient) { s.nats = n }

// SetPersistence enables the InfluxDB integration.
func (s *Scheduler) SetPersistence(i *database.InfluxClient) { s.influx = i }

// Start preloads history and launches the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	s.refreshVolumes(ctx)
	s.runCycle(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.WithFields(logrus.Fields{
		"symbols":  len(s.cfg.Monitor.Symbols),
		"interval": s.cfg.Monitor.PollInterval,
	}).Info("Monitoring started")

	return nil
}

// Stop terminates the polling loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	healthTicker := time.NewTicker(s.cfg.Sources.HealthCheckInterval)
	defer healthTicker.Stop()
	volumeTicker := time.NewTicker(volumeRefreshInterval)
	defer volumeTicker.Stop()

	for {
		wait := s.backoff()

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-healthTicker.C:
			s.health.CheckInactive(ctx, s.adapters)
		case <-volumeTicker.C:
			s.refreshVolumes(ctx)
		case <-time.After(wait):
			s.runCycle(ctx)
		}
	}
}

// backoff selects the delay before the next cycle based on the state of
// the source pool.
func (s *Scheduler) backoff() time.Duration {
	if s.health.Degraded() {
		return s.cfg.Monitor.DegradedBackoff
	}
	return s.cfg.Monitor.PollInterval
}

// runCycle fetches candles for every symbol from the active source and
// analyzes each updated series.
func (s *Scheduler) runCycle(ctx context.Context) {
	active := s.health.Active()
	adapter, ok := s.adapters[active]
	if !ok {
		s.logger.WithField("source", active).Error("No adapter for active source")
		return
	}

	atomic.AddInt64(&s.cyclesRun, 1)

	var rateLimited atomic.Bool
	sem := make(chan struct{}, s.cfg.Monitor.FetchConcurrency)
	var wg sync.WaitGroup

	for _, symbol := range s.cfg.Monitor.Symbols {
		wg.Add(1)
		sem <- struct{}{}

		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			candles, err := adapter.FetchCandles(ctx, symbol, s.cfg.Monitor.Timeframe, s.cfg.Monitor.CandleBufferSize)
			s.health.Report(active, err)
			if err != nil {
				kind := source.KindOf(err)
				if kind == source.KindRateLimited || kind == source.KindGeoRestricted {
					rateLimited.Store(true)
				}
				s.logger.WithError(err).WithFields(logrus.Fields{
					"source": active,
					"symbol": symbol,
					"kind":   kind,
				}).Warn("Fetch failed")
				return
			}

			s.store.AppendBatch(candles)

			if s.influx != nil {
				if err := s.influx.WriteCandleBatch(ctx, active, candles); err != nil {
					s.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to persist candles")
				}
			}

			s.analyze(ctx, symbol)
		}(symbol)
	}
	wg.Wait()

	if rateLimited.Load() {
		s.pause(ctx, s.cfg.Monitor.RateLimitBackoff)
	}
}

// pause sleeps between cycles after a rate-limit or geo-restriction
// response, without blocking shutdown.
func (s *Scheduler) pause(ctx context.Context, d time.Duration) {
	s.logger.WithField("backoff", d).Warn("Backing off after rate limit")
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-s.stopCh:
	}
}

// analyze runs detection over the latest window for a symbol and passes
// the findings to the composer.
func (s *Scheduler) analyze(ctx context.Context, symbol string) {
	window, err := s.store.Window(symbol, s.cfg.Monitor.MinAnalysisWindow)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"bars":   s.store.Len(symbol),
		}).Debug("Waiting for enough history")
		return
	}

	atr := indicator.ATR(window, s.indicatorParams.ATRPeriod)
	patterns := pattern.Detect(window, atr, s.patternParams)
	divergences := divergence.Detect(window, s.divergenceParams)
	if len(patterns) == 0 && len(divergences) == 0 {
		return
	}

	s.volMu.RLock()
	quoteVol := s.volumes[symbol]
	s.volMu.RUnlock()

	sig := s.composer.Compose(signal.Evaluation{
		Symbol:      symbol,
		Timeframe:   s.cfg.Monitor.Timeframe,
		Price:       window[len(window)-1].Close,
		QuoteVol24h: quoteVol,
		Patterns:    patterns,
		Divergences: divergences,
	})
	if sig == nil {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"symbol":     sig.Symbol,
		"pattern":    sig.Pattern,
		"confidence": sig.Confidence,
		"price":      sig.Price,
	}).Info("Signal emitted")

	if err := s.dispatcher.Dispatch(ctx, sig); err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Error("Signal delivery failed")
	}

	s.publish(ctx, sig)
}

// publish fans an emitted signal out to the optional integrations.
func (s *Scheduler) publish(ctx context.Context, sig *models.Signal) {
	if s.cache != nil {
		if err := s.cache.SetLatestSignal(ctx, sig); err != nil {
			s.logger.WithError(err).Warn("Failed to cache signal")
		}
		if _, err := s.cache.IncrSignalCount(ctx, sig.Symbol); err != nil {
			s.logger.WithError(err).Warn("Failed to increment signal count")
		}
	}
	if s.nats != nil {
		if err := s.nats.PublishSignal(sig); err != nil {
			s.logger.WithError(err).Warn("Failed to publish signal")
		}
	}
	if s.influx != nil {
		if err := s.influx.WriteSignal(ctx, sig); err != nil {
			s.logger.WithError(err).Warn("Failed to persist signal")
		}
	}
}

// refreshVolumes updates the cached 24h quote volumes from the active
// source.
func (s *Scheduler) refreshVolumes(ctx context.Context) {
	active := s.health.Active()
	adapter, ok := s.adapters[active]
	if !ok {
		return
	}

	for _, symbol := range s.cfg.Monitor.Symbols {
		volume, err := adapter.QuoteVolume24h(ctx, symbol)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", symbol).Debug("Volume refresh failed")
			continue
		}

		s.volMu.Lock()
		s.volumes[symbol] = volume
		s.volMu.Unlock()
	}
}

// Status returns the snapshot served by the status API.
func (s *Scheduler) Status() models.MonitorStatus {
	return models.MonitorStatus{
		ActiveSource:   s.health.Active(),
		Degraded:       s.health.Degraded(),
		Sources:        s.health.Snapshot(),
		SymbolsTracked: len(s.cfg.Monitor.Symbols),
		CyclesRun:      atomic.LoadInt64(&s.cyclesRun),
		SignalsEmitted: s.composer.Accepted(),
		StartedAt:      s.startedAt,
	}
}
