package pattern

import (
	"math"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// detectHeadShoulders finds confirmed head-and-shoulders tops and their
// inverse (bottom) form.
func detectHeadShoulders(candles []models.Candle, highs, lows, closes, volZ []float64, atrVol float64, p Params) []Match {
	var matches []Match

	peaks := Peaks(highs, p.ShoulderOrder)
	for i := 0; i+2 < len(peaks); i++ {
		if m, ok := hsMatch(candles, closes, volZ, atrVol, p, hsSetup{
			left: peaks[i], head: peaks[i+1], right: peaks[i+2],
			prices: highs, opposite: lows, top: true,
		}); ok {
			matches = append(matches, m)
		}
	}

	troughs := Troughs(lows, p.ShoulderOrder)
	for i := 0; i+2 < len(troughs); i++ {
		if m, ok := hsMatch(candles, closes, volZ, atrVol, p, hsSetup{
			left: troughs[i], head: troughs[i+1], right: troughs[i+2],
			prices: lows, opposite: highs, top: false,
		}); ok {
			matches = append(matches, m)
		}
	}

	return matches
}

type hsSetup struct {
	left, head, right int
	prices, opposite  []float64
	top               bool
}

func hsMatch(candles []models.Candle, closes, volZ []float64, atrVol float64, p Params, s hsSetup) (Match, bool) {
	if s.right-s.left > p.MaxSpan {
		return Match{}, false
	}

	left := s.prices[s.left]
	head := s.prices[s.head]
	right := s.prices[s.right]
	if head <= 0 {
		return Match{}, false
	}

	// The head must strictly dominate both shoulders.
	if s.top && (head <= left || head <= right) {
		return Match{}, false
	}
	if !s.top && (head >= left || head >= right) {
		return Match{}, false
	}

	var prominence float64
	if s.top {
		prominence = (head - math.Max(left, right)) / head
	} else {
		prominence = (math.Min(left, right) - head) / head
	}
	if prominence < p.MinHeadProminence*atrVol {
		return Match{}, false
	}

	shoulderAvg := (left + right) / 2
	if shoulderAvg <= 0 {
		return Match{}, false
	}
	shoulderDiff := math.Abs(left-right) / shoulderAvg
	symTol := p.ShoulderSymmetry * atrVol
	if shoulderDiff > symTol {
		return Match{}, false
	}

	// Neckline: the deepest opposite extremum between the shoulders.
	neck := s.opposite[s.left+1]
	for j := s.left + 1; j < s.right; j++ {
		if s.top {
			if s.opposite[j] < neck {
				neck = s.opposite[j]
			}
		} else {
			if s.opposite[j] > neck {
				neck = s.opposite[j]
			}
		}
	}
	if neck <= 0 {
		return Match{}, false
	}

	breakout := -1
	for j := s.right + 1; j < len(closes); j++ {
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

	confidence := weightSymmetry*clamp01(1-shoulderDiff/symTol) +
		weightTiming*timeSymmetry(s.left, s.head, s.right) +
		weightBreakout*clamp01(breach/atrVol) +
		weightVolume*volumeScore(volZ, breakout)

	kind, direction := HeadShouldersBottom, Bullish
	if s.top {
		kind, direction = HeadShouldersTop, Bearish
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
			pricePoint(candles, s.left, left),
			pricePoint(candles, s.head, head),
			pricePoint(candles, s.right, right),
		},
	}, true
}
