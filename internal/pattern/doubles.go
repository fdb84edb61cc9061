package pattern

import (
	"math"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// detectDoubles finds confirmed double tops and double bottoms.
func detectDoubles(candles []models.Candle, highs, lows, closes, volZ []float64, atrVol float64, p Params) []Match {
	var matches []Match

	peaks := Peaks(highs, p.SwingOrder)
	troughs := Troughs(lows, p.SwingOrder)

	// Double tops: twin peaks with a trough neckline broken downward.
	for i := 0; i+1 < len(peaks); i++ {
		i1, i2 := peaks[i], peaks[i+1]
		if m, ok := doubleMatch(candles, closes, volZ, atrVol, p, doubleSetup{
			first:  i1,
			second: i2,
			price1: highs[i1],
			price2: highs[i2],
			top:    true,
			lows:   lows,
			highs:  highs,
		}); ok {
			matches = append(matches, m)
		}
	}

	// Double bottoms: twin troughs with a peak neckline broken upward.
	for i := 0; i+1 < len(troughs); i++ {
		i1, i2 := troughs[i], troughs[i+1]
		if m, ok := doubleMatch(candles, closes, volZ, atrVol, p, doubleSetup{
			first:  i1,
			second: i2,
			price1: lows[i1],
			price2: lows[i2],
			top:    false,
			lows:   lows,
			highs:  highs,
		}); ok {
			matches = append(matches, m)
		}
	}

	return matches
}

type doubleSetup struct {
	first, second  int
	price1, price2 float64
	top            bool
	lows, highs    []float64
}

func doubleMatch(candles []models.Candle, closes, volZ []float64, atrVol float64, p Params, s doubleSetup) (Match, bool) {
	if s.second-s.first > p.MaxSpan {
		return Match{}, false
	}

	avg := (s.price1 + s.price2) / 2
	if avg <= 0 {
		return Match{}, false
	}
	diff := math.Abs(s.price1-s.price2) / avg
	tol := p.PriceTolerance * atrVol
	if diff > tol {
		return Match{}, false
	}

	// Neckline: the deepest opposite extremum between the twins.
	neckIdx := -1
	var neck float64
	for j := s.first + 1; j < s.second; j++ {
		if s.top {
			if neckIdx == -1 || s.lows[j] < neck {
				neckIdx, neck = j, s.lows[j]
			}
		} else {
			if neckIdx == -1 || s.highs[j] > neck {
				neckIdx, neck = j, s.highs[j]
			}
		}
	}
	if neckIdx == -1 || neck <= 0 {
		return Match{}, false
	}

	depth := math.Abs(avg-neck) / avg
	if depth < p.MinDepth*atrVol {
		return Match{}, false
	}

	// Confirmation: a close beyond the neckline after the second extremum.
	breakout := -1
	for j := s.second + 1; j < len(closes); j++ {
		if (s.top && closes[j] < neck) || (!s.top && closes[j] > neck) {
			breakout = j
			break
		}
	}
	if breakout == -1 {
		return Match{}, false
	}

	last := len(closes) - 1
	var breach float64
	if s.top {
		breach = (neck - closes[last]) / neck
	} else {
		breach = (closes[last] - neck) / neck
	}

	confidence := weightSymmetry*clamp01(1-diff/tol) +
		weightTiming*timeSymmetry(s.first, neckIdx, s.second) +
		weightBreakout*clamp01(breach/atrVol) +
		weightVolume*volumeScore(volZ, breakout)

	kind, direction := DoubleBottom, Bullish
	if s.top {
		kind, direction = DoubleTop, Bearish
	}

	return Match{
		Symbol:        candles[0].Symbol,
		Timeframe:     candles[0].Timeframe,
		Kind:          kind,
		Direction:     direction,
		Confidence:    clamp01(confidence),
		Neckline:      neck,
		BreakoutIndex: breakout,
		FormedAt:      candles[breakout].OpenTime,
		KeyPoints: []PricePoint{
			pricePoint(candles, s.first, s.price1),
			pricePoint(candles, neckIdx, neck),
			pricePoint(candles, s.second, s.price2),
		},
	}, true
}
