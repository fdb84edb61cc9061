package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/indicator"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// segment describes a linear price path between two bar indices.
type segment struct {
	endIndex int
	endClose float64
}

// buildSeries generates candles whose closes follow piecewise-linear
// segments, with a fixed 0.3 high/low spread around each close.
func buildSeries(startClose float64, segments []segment, length int) []models.Candle {
	closes := make([]float64, length)
	closes[0] = startClose
	prevIdx, prevClose := 0, startClose
	for _, seg := range segments {
		slope := (seg.endClose - prevClose) / float64(seg.endIndex-prevIdx)
		for i := prevIdx + 1; i <= seg.endIndex && i < length; i++ {
			closes[i] = prevClose + slope*float64(i-prevIdx)
		}
		prevIdx, prevClose = seg.endIndex, seg.endClose
	}
	for i := prevIdx + 1; i < length; i++ {
		closes[i] = prevClose
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, length)
	for i := range candles {
		open := closes[i]
		if i > 0 {
			open = closes[i-1]
		}
		candles[i] = models.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      closes[i] + 0.3,
			Low:       closes[i] - 0.3,
			Close:     closes[i],
			Volume:    1000,
			Closed:    true,
		}
	}
	return candles
}

func detect(t *testing.T, candles []models.Candle) []Match {
	t.Helper()
	atr := indicator.ATR(candles, 14)
	return Detect(candles, atr, DefaultParams())
}

func findKind(matches []Match, kind Kind) (Match, bool) {
	for _, m := range matches {
		if m.Kind == kind {
			return m, true
		}
	}
	return Match{}, false
}

// doubleBottomSeries: decline to a trough at 30, pullback peak at 45,
// near-equal trough at 60, then a rally through the neckline with a
// volume spike on the breakout bar.
func doubleBottomSeries() []models.Candle {
	candles := buildSeries(110, []segment{
		{30, 90},
		{45, 100},
		{60, 89.7},
		{119, 104},
	}, 120)
	// Neckline high is 100.3; the close first exceeds it near bar 104.
	for i := 61; i < len(candles); i++ {
		if candles[i].Close > 100.3 {
			candles[i].Volume = 5000
			break
		}
	}
	return candles
}

func TestDetectDoubleBottom(t *testing.T) {
	matches := detect(t, doubleBottomSeries())

	m, ok := findKind(matches, DoubleBottom)
	require.True(t, ok, "expected a double bottom, got %v", matches)
	assert.Equal(t, Bullish, m.Direction)
	assert.GreaterOrEqual(t, m.Confidence, 0.5)
	assert.InDelta(t, 100.3, m.Neckline, 1e-9)
	require.Len(t, m.KeyPoints, 3)
	assert.Equal(t, 30, m.KeyPoints[0].Index)
	assert.Equal(t, 45, m.KeyPoints[1].Index)
	assert.Equal(t, 60, m.KeyPoints[2].Index)
}

func TestDetectDoubleTop(t *testing.T) {
	// Mirror image of the double bottom.
	candles := buildSeries(90, []segment{
		{30, 110},
		{45, 100},
		{60, 110.3},
		{119, 96},
	}, 120)

	matches := detect(t, candles)
	m, ok := findKind(matches, DoubleTop)
	require.True(t, ok, "expected a double top, got %v", matches)
	assert.Equal(t, Bearish, m.Direction)
	assert.GreaterOrEqual(t, m.Confidence, 0.5)
}

func TestDoubleBottomWithoutBreakoutIsNotReported(t *testing.T) {
	// Same twin troughs, but the recovery stalls below the neckline.
	candles := buildSeries(110, []segment{
		{30, 90},
		{45, 100},
		{60, 89.7},
		{119, 99},
	}, 120)

	matches := detect(t, candles)
	_, ok := findKind(matches, DoubleBottom)
	assert.False(t, ok, "unconfirmed pattern must not be reported: %v", matches)
}

func TestDetectHeadShouldersTop(t *testing.T) {
	candles := buildSeries(100, []segment{
		{30, 105},
		{40, 100},
		{50, 110},
		{60, 100},
		{70, 105.2},
		{119, 95},
	}, 120)

	matches := detect(t, candles)
	m, ok := findKind(matches, HeadShouldersTop)
	require.True(t, ok, "expected head and shoulders, got %v", matches)
	assert.Equal(t, Bearish, m.Direction)
	assert.GreaterOrEqual(t, m.Confidence, 0.5)
	require.Len(t, m.KeyPoints, 3)
	assert.Equal(t, 50, m.KeyPoints[1].Index, "head anchor")
}

func TestDetectInverseHeadShoulders(t *testing.T) {
	candles := buildSeries(100, []segment{
		{30, 95},
		{40, 100},
		{50, 90},
		{60, 100},
		{70, 94.8},
		{119, 105},
	}, 120)

	matches := detect(t, candles)
	m, ok := findKind(matches, HeadShouldersBottom)
	require.True(t, ok, "expected inverse head and shoulders, got %v", matches)
	assert.Equal(t, Bullish, m.Direction)
}

func TestDetectSymmetricTriangle(t *testing.T) {
	// Converging zigzag: lower highs and higher lows, resolved upward.
	candles := buildSeries(100, []segment{
		{10, 106},
		{18, 95},
		{26, 104.6},
		{34, 96.4},
		{42, 103.2},
		{50, 97.8},
		{58, 101.8},
		{62, 98.85},
		{79, 103.5},
	}, 80)

	matches := detect(t, candles)
	m, ok := findKind(matches, SymmetricTriangle)
	require.True(t, ok, "expected symmetric triangle, got %v", matches)
	assert.Equal(t, Bullish, m.Direction)
	assert.GreaterOrEqual(t, m.Confidence, 0.5)
}

func TestNoPatternsOnTrendingSeries(t *testing.T) {
	candles := buildSeries(100, []segment{{119, 160}}, 120)
	matches := detect(t, candles)
	assert.Empty(t, matches)
}

func TestExtremaStrictOrderWindow(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 5, 4, 3, 2, 1, 2, 3, 4, 5}

	peaks := Peaks(values, 3)
	require.Len(t, peaks, 1)
	assert.Equal(t, 5, peaks[0])

	troughs := Troughs(values, 3)
	require.Len(t, troughs, 1)
	assert.Equal(t, 10, troughs[0])

	// Not enough margin at the edges.
	assert.Empty(t, Peaks(values, 8))
}
