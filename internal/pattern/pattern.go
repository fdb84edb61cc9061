package pattern

import (
	"math"
	"time"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/indicator"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// Kind identifies a chart pattern.
type Kind string

const (
	DoubleTop           Kind = "double_top"
	DoubleBottom        Kind = "double_bottom"
	HeadShouldersTop    Kind = "head_shoulders_top"
	HeadShouldersBottom Kind = "head_shoulders_bottom"
	RisingWedge         Kind = "rising_wedge"
	FallingWedge        Kind = "falling_wedge"
	AscendingTriangle   Kind = "ascending_triangle"
	DescendingTriangle  Kind = "descending_triangle"
	SymmetricTriangle   Kind = "symmetric_triangle"
)

// Direction is the expected move after a confirmed pattern.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// PricePoint is a swing extremum that anchors a pattern.
type PricePoint struct {
	Index int       `json:"index"`
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// Match is a confirmed pattern with its confidence score.
type Match struct {
	Symbol        string       `json:"symbol"`
	Timeframe     string       `json:"timeframe"`
	Kind          Kind         `json:"kind"`
	Direction     Direction    `json:"direction"`
	Confidence    float64      `json:"confidence"`
	Neckline      float64      `json:"neckline"`
	BreakoutIndex int          `json:"breakout_index"`
	FormedAt      time.Time    `json:"formed_at"`
	KeyPoints     []PricePoint `json:"key_points"`
}

// Params controls detection geometry. Price thresholds are multiples of
// atrVol, the window's mean ATR-to-close ratio, so they scale with each
// symbol's volatility.
type Params struct {
	SwingOrder        int     // extremum window for double patterns
	ShoulderOrder     int     // extremum window for head-and-shoulders
	WedgeOrder        int     // extremum window for trendline patterns
	MaxSpan           int     // max bars between first and last anchor
	PriceTolerance    float64 // max relative gap between twin extrema
	MinDepth          float64 // min pullback depth for double patterns
	MinHeadProminence float64 // min head-over-shoulder margin
	ShoulderSymmetry  float64 // max relative shoulder mismatch
	MinConfidence     float64 // matches below this are dropped
	VolumePeriod      int     // z-score window for volume confirmation
}

// DefaultParams returns the standard detection parameters.
func DefaultParams() Params {
	return Params{
		SwingOrder:        10,
		ShoulderOrder:     7,
		WedgeOrder:        5,
		MaxSpan:           100,
		PriceTolerance:    1.0,
		MinDepth:          2.0,
		MinHeadProminence: 1.5,
		ShoulderSymmetry:  1.0,
		MinConfidence:     0.5,
		VolumePeriod:      20,
	}
}

// Confidence weights shared by the reversal patterns.
const (
	weightSymmetry = 0.35
	weightTiming   = 0.20
	weightBreakout = 0.30
	weightVolume   = 0.15
)

// Detect runs all detectors over a chronological window of closed candles
// and returns confirmed matches at or above MinConfidence.
func Detect(candles []models.Candle, atr []float64, p Params) []Match {
	if len(candles) < 2*p.SwingOrder+1 {
		return nil
	}

	atrVol := meanATRRatio(candles, atr)
	if atrVol <= 0 {
		return nil
	}

	highs := indicator.Highs(candles)
	lows := indicator.Lows(candles)
	closes := indicator.Closes(candles)
	volZ := indicator.VolumeZScore(indicator.Volumes(candles), p.VolumePeriod)

	var matches []Match
	matches = append(matches, detectDoubles(candles, highs, lows, closes, volZ, atrVol, p)...)
	matches = append(matches, detectHeadShoulders(candles, highs, lows, closes, volZ, atrVol, p)...)
	if m, ok := detectTrendlinePattern(candles, highs, lows, closes, volZ, atrVol, p); ok {
		matches = append(matches, m)
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Confidence >= p.MinConfidence {
			kept = append(kept, m)
		}
	}
	return kept
}

// meanATRRatio is the average ATR-to-close ratio over the valid ATR region.
func meanATRRatio(candles []models.Candle, atr []float64) float64 {
	var sum float64
	var n int
	for i := range candles {
		if i < len(atr) && !math.IsNaN(atr[i]) && candles[i].Close > 0 {
			sum += atr[i] / candles[i].Close
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// timeSymmetry scores how evenly the middle anchor splits the outer anchors.
func timeSymmetry(first, mid, last int) float64 {
	d1 := float64(mid - first)
	d2 := float64(last - mid)
	if d1+d2 <= 0 {
		return 0
	}
	return clamp01(1 - math.Abs(d1-d2)/(d1+d2))
}

// volumeScore maps the breakout bar's volume z-score to [0,1].
func volumeScore(volZ []float64, idx int) float64 {
	if idx < 0 || idx >= len(volZ) || math.IsNaN(volZ[idx]) {
		return 0
	}
	return clamp01(volZ[idx] / 2)
}

func pricePoint(candles []models.Candle, idx int, price float64) PricePoint {
	return PricePoint{Index: idx, Time: candles[idx].OpenTime, Price: price}
}
