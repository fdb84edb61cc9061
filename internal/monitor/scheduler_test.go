package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/dispatch"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/signal"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/source"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/store"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// fakeAdapter serves a fixed candle series.
type fakeAdapter struct {
	candles []models.Candle
	volume  float64
}

func (f *fakeAdapter) Name() string { return "binance" }

func (f *fakeAdapter) FetchCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return f.candles, nil
}

func (f *fakeAdapter) QuoteVolume24h(context.Context, string) (float64, error) {
	return f.volume, nil
}

func (f *fakeAdapter) Ping(context.Context) error { return nil }

type segment struct {
	end   int
	close float64
}

// bottomSeries builds 200 hourly candles whose last 100 bars contain a
// double bottom with a volume-confirmed neckline breakout and an RSI
// divergence between the two troughs.
func bottomSeries() []models.Candle {
	const length = 200
	segments := []segment{
		{130, 90},   // decline into the first trough
		{145, 100},  // bounce to the neckline
		{160, 89.7}, // second, marginally lower trough
		{199, 104},  // breakout rally
	}

	closes := make([]float64, length)
	closes[0] = 110
	prevIdx, prevClose := 0, 110.0
	for _, seg := range segments {
		for i := prevIdx + 1; i <= seg.end; i++ {
			frac := float64(i-prevIdx) / float64(seg.end-prevIdx)
			closes[i] = prevClose + (seg.close-prevClose)*frac
		}
		prevIdx, prevClose = seg.end, seg.close
	}

	neckline := 100.3 // bounce high: close 100 plus the bar spread
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	volumeSpiked := false
	candles := make([]models.Candle, length)
	for i := range candles {
		volume := 1_000_000.0
		if !volumeSpiked && closes[i] > neckline && i > 160 {
			volume = 3_000_000
			volumeSpiked = true
		}

		open := closes[i]
		if i > 0 {
			open = closes[i-1]
		}
		candles[i] = models.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      closes[i] + 0.3,
			Low:       closes[i] - 0.3,
			Close:     closes[i],
			Volume:    volume,
			Closed:    true,
		}
	}
	return candles
}

func testConfig(webhookURL string) *config.Config {
	return &config.Config{
		Sources: config.SourcesConfig{
			Priority:             []string{"binance"},
			MaxFailures:          3,
			HealthCheckInterval:  5 * time.Minute,
			FailureResetInterval: 30 * time.Minute,
		},
		Monitor: config.MonitorConfig{
			Symbols:           []string{"BTCUSDT"},
			Timeframe:         "1h",
			PollInterval:      time.Minute,
			CandleBufferSize:  144,
			MinAnalysisWindow: 100,
			FetchConcurrency:  2,
			MinVolume24h:      20_000_000,
			MinSignalInterval: 5 * time.Minute,
			MinConfidence:     0.5,
			RateLimitBackoff:  time.Millisecond,
			DegradedBackoff:   time.Millisecond,
		},
		Webhook: config.WebhookConfig{
			URL:           webhookURL,
			Timeout:       5 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    10 * time.Millisecond,
		},
	}
}

func TestSchedulerEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var payloads []models.SignalPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p models.SignalPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := testConfig(server.URL)
	adapter := &fakeAdapter{candles: bottomSeries(), volume: 900_000_000}
	adapters := map[string]source.Adapter{"binance": adapter}

	health := source.NewHealthManager(&cfg.Sources, logger)
	st := store.New(cfg.Monitor.CandleBufferSize)
	composer := signal.NewComposer(&cfg.Monitor, logger)
	dispatcher := dispatch.NewWebhookDispatcher(&cfg.Webhook, logger)

	s := NewScheduler(cfg, adapters, health, st, composer, dispatcher, logger)

	ctx := context.Background()
	s.refreshVolumes(ctx)
	s.runCycle(ctx)

	mu.Lock()
	require.Len(t, payloads, 1, "one signal dispatched after the first cycle")
	got := payloads[0]
	mu.Unlock()

	require.NotNil(t, got.Pattern)
	assert.Equal(t, "double_bottom", *got.Pattern)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, "1h", got.Timeframe)
	assert.Contains(t, got.Divergence, "RSI")
	assert.GreaterOrEqual(t, got.Confidence, 0.6)
	assert.InDelta(t, 104, got.Price, 0.01)

	// The same series must not produce a second delivery.
	s.runCycle(ctx)

	mu.Lock()
	assert.Len(t, payloads, 1, "duplicate setup is suppressed")
	mu.Unlock()

	status := s.Status()
	assert.Equal(t, "binance", status.ActiveSource)
	assert.False(t, status.Degraded)
	assert.Equal(t, int64(2), status.CyclesRun)
	assert.Equal(t, int64(1), status.SignalsEmitted)
	assert.Equal(t, 1, status.SymbolsTracked)
}

func TestSchedulerSkipsIlliquidSymbols(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := testConfig(server.URL)
	adapter := &fakeAdapter{candles: bottomSeries(), volume: 5_000_000}
	adapters := map[string]source.Adapter{"binance": adapter}

	health := source.NewHealthManager(&cfg.Sources, logger)
	st := store.New(cfg.Monitor.CandleBufferSize)
	composer := signal.NewComposer(&cfg.Monitor, logger)
	dispatcher := dispatch.NewWebhookDispatcher(&cfg.Webhook, logger)

	s := NewScheduler(cfg, adapters, health, st, composer, dispatcher, logger)

	ctx := context.Background()
	s.refreshVolumes(ctx)
	s.runCycle(ctx)

	assert.Zero(t, calls, "thin markets do not emit signals")
}

// failingAdapter always errors, to drive the failover path.
type failingAdapter struct {
	fakeAdapter
	name string
}

func (f *failingAdapter) Name() string { return f.name }

func (f *failingAdapter) FetchCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return nil, &source.FetchError{Source: f.name, Kind: source.KindTransient, Err: context.DeadlineExceeded}
}

func TestSchedulerFailsOverAfterRepeatedErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := testConfig(server.URL)
	cfg.Sources.Priority = []string{"binance", "coingecko"}

	adapters := map[string]source.Adapter{
		"binance":   &failingAdapter{name: "binance"},
		"coingecko": &fakeAdapter{candles: bottomSeries(), volume: 900_000_000},
	}

	health := source.NewHealthManager(&cfg.Sources, logger)
	st := store.New(cfg.Monitor.CandleBufferSize)
	composer := signal.NewComposer(&cfg.Monitor, logger)
	dispatcher := dispatch.NewWebhookDispatcher(&cfg.Webhook, logger)

	s := NewScheduler(cfg, adapters, health, st, composer, dispatcher, logger)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.runCycle(ctx)
	}

	status := s.Status()
	assert.Equal(t, "coingecko", status.ActiveSource)

	s.runCycle(ctx)
	assert.Positive(t, st.Len("BTCUSDT"), "candles flow from the fallback source")
}
