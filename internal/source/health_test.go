package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

var errFetch = errors.New("fetch failed")

func newTestManager(t *testing.T) (*HealthManager, *time.Time) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.SourcesConfig{
		Priority:             []string{"binance", "coingecko", "alphavantage"},
		MaxFailures:          3,
		FailureResetInterval: 30 * time.Minute,
	}

	m := NewHealthManager(cfg, logger)

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	return m, &clock
}

func TestHealthManagerFailover(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Equal(t, "binance", m.Active())

	m.Report("binance", errFetch)
	m.Report("binance", errFetch)
	assert.Equal(t, "binance", m.Active(), "below threshold keeps source active")

	m.Report("binance", errFetch)
	assert.Equal(t, "coingecko", m.Active())
	assert.False(t, m.Degraded())
}

func TestHealthManagerSuccessResetsFailures(t *testing.T) {
	m, _ := newTestManager(t)

	m.Report("binance", errFetch)
	m.Report("binance", errFetch)
	m.Report("binance", nil)
	m.Report("binance", errFetch)

	assert.Equal(t, "binance", m.Active())
}

func TestHealthManagerTimeBasedReset(t *testing.T) {
	m, clock := newTestManager(t)

	for i := 0; i < 3; i++ {
		m.Report("binance", errFetch)
	}
	require.Equal(t, "coingecko", m.Active())

	*clock = clock.Add(29 * time.Minute)
	assert.Equal(t, "coingecko", m.Active(), "cooldown not elapsed yet")

	*clock = clock.Add(time.Minute)
	assert.Equal(t, "binance", m.Active(), "priority restored after cooldown")
}

func TestHealthManagerDegradedKeepsLastActive(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		m.Report("binance", errFetch)
	}
	require.Equal(t, "coingecko", m.Active())

	for i := 0; i < 3; i++ {
		m.Report("coingecko", errFetch)
		m.Report("alphavantage", errFetch)
	}

	assert.Equal(t, "coingecko", m.Active(), "degraded pool keeps last active source")
	assert.True(t, m.Degraded())

	m.Report("alphavantage", nil)
	assert.Equal(t, "alphavantage", m.Active())
	assert.False(t, m.Degraded())
}

func TestHealthManagerTransitionEvents(t *testing.T) {
	m, _ := newTestManager(t)

	var events []models.HealthEvent
	m.OnTransition(func(e models.HealthEvent) {
		events = append(events, e)
	})

	m.Active()
	assert.Empty(t, events, "no event while the default source stays active")

	for i := 0; i < 3; i++ {
		m.Report("binance", errFetch)
	}
	m.Active()
	m.Active()

	require.Len(t, events, 1, "repeated Active calls emit a single transition")
	assert.Equal(t, "coingecko", events[0].ActiveSource)
	assert.False(t, events[0].Degraded)
}

func TestHealthManagerSnapshot(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		m.Report("binance", errFetch)
	}
	m.Active()

	statuses := m.Snapshot()
	require.Len(t, statuses, 3)

	assert.Equal(t, "binance", statuses[0].Name)
	assert.Equal(t, 0, statuses[0].Priority)
	assert.Equal(t, 3, statuses[0].ConsecutiveFailures)
	assert.False(t, statuses[0].Healthy)
	assert.False(t, statuses[0].Active)

	assert.Equal(t, "coingecko", statuses[1].Name)
	assert.True(t, statuses[1].Healthy)
	assert.True(t, statuses[1].Active)
}

type stubAdapter struct {
	name    string
	pingErr error
	pings   int
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) FetchCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return nil, nil
}

func (s *stubAdapter) QuoteVolume24h(context.Context, string) (float64, error) {
	return 0, nil
}

func (s *stubAdapter) Ping(context.Context) error {
	s.pings++
	return s.pingErr
}

func TestHealthManagerCheckInactive(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		m.Report("binance", errFetch)
		m.Report("alphavantage", errFetch)
	}
	require.Equal(t, "coingecko", m.Active())

	binance := &stubAdapter{name: "binance"}
	coingecko := &stubAdapter{name: "coingecko"}
	alphavantage := &stubAdapter{name: "alphavantage", pingErr: errFetch}

	m.CheckInactive(context.Background(), map[string]Adapter{
		"binance":      binance,
		"coingecko":    coingecko,
		"alphavantage": alphavantage,
	})

	assert.Equal(t, 1, binance.pings)
	assert.Equal(t, 0, coingecko.pings, "active source is not pinged")
	assert.Equal(t, 1, alphavantage.pings)

	assert.Equal(t, "binance", m.Active(), "recovered source regains priority")

	statuses := m.Snapshot()
	assert.False(t, statuses[2].Healthy, "failed ping leaves source unhealthy")
}

func TestFetchErrorClassification(t *testing.T) {
	err := newFetchError("binance", KindRateLimited, errors.New("429"))
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, KindTransient, KindOf(errors.New("plain")))

	assert.Equal(t, KindRateLimited, classifyStatus(429))
	assert.Equal(t, KindGeoRestricted, classifyStatus(451))
	assert.Equal(t, KindGeoRestricted, classifyStatus(403))
	assert.Equal(t, KindTransient, classifyStatus(503))
	assert.Equal(t, KindPermanent, classifyStatus(404))
}

func TestBaseAsset(t *testing.T) {
	assert.Equal(t, "BTC", baseAsset("BTCUSDT"))
	assert.Equal(t, "ETH", baseAsset("ETHUSD"))
	assert.Equal(t, "USDT", baseAsset("USDT"))
}
