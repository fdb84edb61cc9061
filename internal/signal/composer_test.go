package signal

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/divergence"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/pattern"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
)

func newTestComposer(t *testing.T) (*Composer, *time.Time) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.MonitorConfig{
		MinVolume24h:      20_000_000,
		MinConfidence:     0.5,
		MinSignalInterval: 5 * time.Minute,
	}

	c := NewComposer(cfg, logger)

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	return c, &clock
}

func liquidEval() Evaluation {
	return Evaluation{
		Symbol:      "BTCUSDT",
		Timeframe:   "1h",
		Price:       64250,
		QuoteVol24h: 900_000_000,
	}
}

func TestComposePatternWithDivergences(t *testing.T) {
	c, _ := newTestComposer(t)

	eval := liquidEval()
	eval.Patterns = []pattern.Match{
		{Kind: pattern.DoubleBottom, Direction: pattern.Bullish, Confidence: 0.62},
		{Kind: pattern.AscendingTriangle, Direction: pattern.Bullish, Confidence: 0.55},
	}
	eval.Divergences = []divergence.Match{
		{Symbol: "BTCUSDT", Indicator: "RSI", Direction: divergence.Bullish},
	}

	sig := c.Compose(eval)
	require.NotNil(t, sig)

	assert.Equal(t, "double_bottom", sig.Pattern)
	assert.InDelta(t, 0.70, sig.Confidence, 1e-9)
	assert.Equal(t, []string{"RSI"}, sig.Divergences)
	assert.Equal(t, int64(1), c.Accepted())
}

func TestComposeDivergenceOnly(t *testing.T) {
	c, _ := newTestComposer(t)

	eval := liquidEval()
	eval.Divergences = []divergence.Match{
		{Symbol: "BTCUSDT", Indicator: "RSI", Direction: divergence.Bullish},
	}

	sig := c.Compose(eval)
	require.NotNil(t, sig)

	assert.Empty(t, sig.Pattern)
	assert.InDelta(t, 0.55, sig.Confidence, 1e-9)

	payload := sig.Payload()
	assert.Nil(t, payload.Pattern, "divergence-only payload carries a null pattern")
}

func TestComposeConfidenceCap(t *testing.T) {
	c, _ := newTestComposer(t)

	eval := liquidEval()
	eval.Patterns = []pattern.Match{
		{Kind: pattern.DoubleBottom, Direction: pattern.Bullish, Confidence: 0.95},
	}
	eval.Divergences = []divergence.Match{
		{Indicator: "RSI", Direction: divergence.Bullish},
		{Indicator: "MACD", Direction: divergence.Bullish},
	}

	sig := c.Compose(eval)
	require.NotNil(t, sig)
	assert.Equal(t, 1.0, sig.Confidence)
}

func TestComposeLiquidityGate(t *testing.T) {
	c, _ := newTestComposer(t)

	eval := liquidEval()
	eval.QuoteVol24h = 5_000_000
	eval.Patterns = []pattern.Match{
		{Kind: pattern.DoubleBottom, Direction: pattern.Bullish, Confidence: 0.9},
	}

	assert.Nil(t, c.Compose(eval))
	assert.Equal(t, int64(0), c.Accepted())
}

func TestComposeConfidenceFloor(t *testing.T) {
	c, _ := newTestComposer(t)

	eval := liquidEval()
	eval.Patterns = []pattern.Match{
		{Kind: pattern.RisingWedge, Direction: pattern.Bearish, Confidence: 0.45},
	}

	assert.Nil(t, c.Compose(eval))
}

func TestComposeMinInterval(t *testing.T) {
	c, clock := newTestComposer(t)

	eval := liquidEval()
	eval.Patterns = []pattern.Match{
		{Kind: pattern.DoubleBottom, Direction: pattern.Bullish, Confidence: 0.7},
	}
	require.NotNil(t, c.Compose(eval))

	other := eval
	other.Price = 70000 // different level, still inside the quiet window
	assert.Nil(t, c.Compose(other))

	*clock = clock.Add(6 * time.Minute)
	assert.NotNil(t, c.Compose(other))

	ethEval := eval
	ethEval.Symbol = "ETHUSDT"
	assert.NotNil(t, c.Compose(ethEval), "interval is tracked per symbol")
}

func TestComposeDeduplication(t *testing.T) {
	c, clock := newTestComposer(t)

	eval := liquidEval()
	eval.Price = 64250
	eval.Patterns = []pattern.Match{
		{Kind: pattern.DoubleBottom, Direction: pattern.Bullish, Confidence: 0.7},
	}
	require.NotNil(t, c.Compose(eval))

	*clock = clock.Add(3 * time.Minute)

	// 64250 and 64310 both round to 64300 at three significant digits.
	repeat := eval
	repeat.Price = 64310
	assert.Nil(t, c.Compose(repeat), "same setup at the same level is suppressed inside the quiet window")

	*clock = clock.Add(7 * time.Minute)

	moved := eval
	moved.Price = 65900
	assert.NotNil(t, c.Compose(moved), "a new price level emits again")
}

func TestComposeRepeatsAfterInterval(t *testing.T) {
	c, clock := newTestComposer(t)

	eval := liquidEval()
	eval.Patterns = []pattern.Match{
		{Kind: pattern.DoubleBottom, Direction: pattern.Bullish, Confidence: 0.7},
	}
	require.NotNil(t, c.Compose(eval))

	*clock = clock.Add(6 * time.Minute)

	sig := c.Compose(eval)
	require.NotNil(t, sig, "an identical detection emits again once the quiet window has passed")
	assert.Equal(t, int64(2), c.Accepted())
}

func TestComposeDedupeEntriesExpire(t *testing.T) {
	c, clock := newTestComposer(t)

	eval := liquidEval()
	eval.Patterns = []pattern.Match{
		{Kind: pattern.DoubleBottom, Direction: pattern.Bullish, Confidence: 0.7},
	}
	require.NotNil(t, c.Compose(eval))

	*clock = clock.Add(6 * time.Minute)

	other := eval
	other.Symbol = "ETHUSDT"
	require.NotNil(t, c.Compose(other))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.seen, 1, "expired dedupe entries are pruned")
}

func TestDedupeKey(t *testing.T) {
	key := dedupeKey("BTCUSDT", "double_bottom", nil, 64250)
	assert.Equal(t, "BTCUSDT|double_bottom|64300", key)

	key = dedupeKey("ETHUSDT", "", []string{"MACD", "RSI"}, 0.123456)
	assert.Equal(t, "ETHUSDT|MACD+RSI|0.123", key)
}
