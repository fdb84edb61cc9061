package divergence

import (
	"fmt"
	"math"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/indicator"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/pattern"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// Direction of a divergence.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Match is a detected price/indicator divergence.
type Match struct {
	Symbol     string    `json:"symbol"`
	Indicator  string    `json:"indicator"` // RSI, MACD or VOLUME
	Direction  Direction `json:"direction"`
	FirstIndex int       `json:"first_index"`
	LastIndex  int       `json:"last_index"`
}

// Name returns a human-readable label, e.g. "RSI bullish".
func (m Match) Name() string {
	return fmt.Sprintf("%s %s", m.Indicator, m.Direction)
}

// Params controls divergence detection.
type Params struct {
	SwingOrder int // extremum window for price swing points

	RSIPeriod   int
	RSIMinDelta float64 // min indicator-point difference

	MACDFast           int
	MACDSlow           int
	MACDSignal         int
	MACDMinChange      float64 // min relative MACD change
	MACDMinPriceChange float64 // min relative price move between extrema

	VolumeMinChange float64 // min relative volume change
}

// DefaultParams returns the standard detection parameters.
func DefaultParams() Params {
	return Params{
		SwingOrder:         10,
		RSIPeriod:          14,
		RSIMinDelta:        2.5,
		MACDFast:           12,
		MACDSlow:           26,
		MACDSignal:         9,
		MACDMinChange:      0.05,
		MACDMinPriceChange: 0.002,
		VolumeMinChange:    0.10,
	}
}

// Detect compares the two most recent same-side price extrema against the
// indicator values at those bars. Bullish: price makes a lower low while
// the indicator makes a higher low. Bearish: price makes a higher high
// while the indicator makes a lower high.
func Detect(candles []models.Candle, p Params) []Match {
	if len(candles) < 2*p.SwingOrder+1 {
		return nil
	}

	symbol := candles[0].Symbol
	highs := indicator.Highs(candles)
	lows := indicator.Lows(candles)
	closes := indicator.Closes(candles)
	volumes := indicator.Volumes(candles)

	rsi := indicator.RSI(closes, p.RSIPeriod)
	macd, _, _ := indicator.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)

	peaks := pattern.Peaks(highs, p.SwingOrder)
	troughs := pattern.Troughs(lows, p.SwingOrder)

	var matches []Match

	if t1, t2, ok := lastPair(troughs); ok && lows[t2] < lows[t1] {
		// Price lower low: look for higher indicator lows.
		if valid(rsi, t1, t2) && rsi[t2]-rsi[t1] >= p.RSIMinDelta {
			matches = append(matches, Match{symbol, "RSI", Bullish, t1, t2})
		}
		if valid(macd, t1, t2) && macd[t2] > macd[t1] &&
			relChange(macd[t1], macd[t2]) >= p.MACDMinChange &&
			relChange(lows[t1], lows[t2]) >= p.MACDMinPriceChange {
			matches = append(matches, Match{symbol, "MACD", Bullish, t1, t2})
		}
		if volumes[t2] > volumes[t1] && relChange(volumes[t1], volumes[t2]) >= p.VolumeMinChange {
			matches = append(matches, Match{symbol, "VOLUME", Bullish, t1, t2})
		}
	}

	if p1, p2, ok := lastPair(peaks); ok && highs[p2] > highs[p1] {
		// Price higher high: look for lower indicator highs.
		if valid(rsi, p1, p2) && rsi[p1]-rsi[p2] >= p.RSIMinDelta {
			matches = append(matches, Match{symbol, "RSI", Bearish, p1, p2})
		}
		if valid(macd, p1, p2) && macd[p2] < macd[p1] &&
			relChange(macd[p1], macd[p2]) >= p.MACDMinChange &&
			relChange(highs[p1], highs[p2]) >= p.MACDMinPriceChange {
			matches = append(matches, Match{symbol, "MACD", Bearish, p1, p2})
		}
		if volumes[p2] < volumes[p1] && relChange(volumes[p1], volumes[p2]) >= p.VolumeMinChange {
			matches = append(matches, Match{symbol, "VOLUME", Bearish, p1, p2})
		}
	}

	return matches
}

func lastPair(indices []int) (int, int, bool) {
	if len(indices) < 2 {
		return 0, 0, false
	}
	return indices[len(indices)-2], indices[len(indices)-1], true
}

func valid(series []float64, i, j int) bool {
	return i < len(series) && j < len(series) &&
		!math.IsNaN(series[i]) && !math.IsNaN(series[j])
}

func relChange(from, to float64) float64 {
	if from == 0 {
		return math.Inf(1)
	}
	return math.Abs(to-from) / math.Abs(from)
}
