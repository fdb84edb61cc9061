package divergence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// rampSeries builds candles whose closes move linearly between the given
// (index, close) anchors, with a 0.3 high/low spread.
func rampSeries(anchors [][2]float64, length int) []models.Candle {
	closes := make([]float64, length)
	prevIdx, prevClose := 0.0, anchors[0][1]
	closes[0] = prevClose
	for _, a := range anchors[1:] {
		slope := (a[1] - prevClose) / (a[0] - prevIdx)
		for i := int(prevIdx) + 1; i <= int(a[0]) && i < length; i++ {
			closes[i] = prevClose + slope*(float64(i)-prevIdx)
		}
		prevIdx, prevClose = a[0], a[1]
	}
	for i := int(prevIdx) + 1; i < length; i++ {
		closes[i] = prevClose
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, length)
	for i := range candles {
		candles[i] = models.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			Open:      closes[i],
			High:      closes[i] + 0.3,
			Low:       closes[i] - 0.3,
			Close:     closes[i],
			Volume:    1000,
			Closed:    true,
		}
	}
	return candles
}

func TestBullishRSIDivergence(t *testing.T) {
	// Price: lower low at bar 60 vs bar 30; the second decline follows a
	// strong rally, so RSI bottoms much higher the second time.
	candles := rampSeries([][2]float64{
		{0, 110}, {30, 90}, {45, 100}, {60, 89.5}, {99, 102},
	}, 100)

	matches := Detect(candles, DefaultParams())
	require.NotEmpty(t, matches)

	var rsiFound bool
	for _, m := range matches {
		assert.Equal(t, Bullish, m.Direction)
		assert.Equal(t, 30, m.FirstIndex)
		assert.Equal(t, 60, m.LastIndex)
		if m.Indicator == "RSI" {
			rsiFound = true
			assert.Equal(t, "RSI bullish", m.Name())
		}
	}
	assert.True(t, rsiFound, "expected an RSI bullish divergence: %v", matches)
}

func TestBearishRSIDivergence(t *testing.T) {
	candles := rampSeries([][2]float64{
		{0, 90}, {30, 110}, {45, 100}, {60, 110.5}, {99, 98},
	}, 100)

	matches := Detect(candles, DefaultParams())
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, Bearish, m.Direction)
	}
}

func TestNoDivergenceWithoutTwoExtrema(t *testing.T) {
	candles := rampSeries([][2]float64{{0, 100}, {99, 150}}, 100)
	assert.Empty(t, Detect(candles, DefaultParams()))
}

func TestEqualVolumesSuppressVolumeDivergence(t *testing.T) {
	candles := rampSeries([][2]float64{
		{0, 110}, {30, 90}, {45, 100}, {60, 89.5}, {99, 102},
	}, 100)

	for _, m := range Detect(candles, DefaultParams()) {
		assert.NotEqual(t, "VOLUME", m.Indicator)
	}
}
