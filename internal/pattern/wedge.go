package pattern

import (
	"math"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// Trendline patterns use up to this many recent extrema per boundary.
const maxTrendlinePoints = 4

// A boundary whose total travel over the formation span stays below this
// fraction of atrVol counts as flat.
const flatBoundaryFraction = 0.5

// Boundary gap must shrink to below this fraction of its starting width.
const maxConvergenceRatio = 0.9

// detectTrendlinePattern fits upper and lower trendlines through recent
// swing extrema and classifies wedges and triangles. At most one match is
// reported per window, and only when the last close breaks a boundary.
func detectTrendlinePattern(candles []models.Candle, highs, lows, closes, volZ []float64, atrVol float64, p Params) (Match, bool) {
	peaks := tail(Peaks(highs, p.WedgeOrder), maxTrendlinePoints)
	troughs := tail(Troughs(lows, p.WedgeOrder), maxTrendlinePoints)
	if len(peaks) < 2 || len(troughs) < 2 {
		return Match{}, false
	}

	first := min(peaks[0], troughs[0])
	lastAnchor := max(peaks[len(peaks)-1], troughs[len(troughs)-1])
	span := lastAnchor - first
	if span > p.MaxSpan || span < 2*p.WedgeOrder {
		return Match{}, false
	}

	upperSlope, upperIntercept, upperResid := fitLine(peaks, highs)
	lowerSlope, lowerIntercept, lowerResid := fitLine(troughs, lows)

	mean := meanOf(closes)
	if mean <= 0 {
		return Match{}, false
	}

	// Per-bar slopes relative to price level.
	su := upperSlope / mean
	sl := lowerSlope / mean
	eps := flatBoundaryFraction * atrVol / float64(span)

	kind, ok := classifyTrendlines(su, sl, eps)
	if !ok {
		return Match{}, false
	}

	last := len(closes) - 1
	gapStart := (upperIntercept + upperSlope*float64(first)) - (lowerIntercept + lowerSlope*float64(first))
	gapEnd := (upperIntercept + upperSlope*float64(last)) - (lowerIntercept + lowerSlope*float64(last))
	if gapStart <= 0 || gapEnd >= gapStart*maxConvergenceRatio {
		return Match{}, false
	}

	upperAtLast := upperIntercept + upperSlope*float64(last)
	lowerAtLast := lowerIntercept + lowerSlope*float64(last)

	direction, boundary, broke := trendlineBreakout(kind, closes[last], upperAtLast, lowerAtLast)
	if !broke || boundary <= 0 {
		return Match{}, false
	}

	breach := math.Abs(closes[last]-boundary) / boundary
	fitQuality := clamp01(1 - (upperResid+lowerResid)/2/(atrVol*mean))

	confidence := 0.35*clamp01(1-gapEnd/gapStart) +
		0.35*clamp01(breach/atrVol) +
		0.15*fitQuality +
		0.15*volumeScore(volZ, last)

	keyPoints := make([]PricePoint, 0, len(peaks)+len(troughs))
	for _, idx := range peaks {
		keyPoints = append(keyPoints, pricePoint(candles, idx, highs[idx]))
	}
	for _, idx := range troughs {
		keyPoints = append(keyPoints, pricePoint(candles, idx, lows[idx]))
	}

	return Match{
		Symbol:        candles[0].Symbol,
		Timeframe:     candles[0].Timeframe,
		Kind:          kind,
		Direction:     direction,
		Confidence:    clamp01(confidence),
		Neckline:      boundary,
		BreakoutIndex: last,
		FormedAt:      candles[last].OpenTime,
		KeyPoints:     keyPoints,
	}, true
}

// classifyTrendlines maps normalized boundary slopes to a pattern kind.
func classifyTrendlines(su, sl, eps float64) (Kind, bool) {
	switch {
	case su > eps && sl > eps && sl > su:
		return RisingWedge, true
	case su < -eps && sl < -eps && su < sl:
		return FallingWedge, true
	case math.Abs(su) <= eps && sl > eps:
		return AscendingTriangle, true
	case su < -eps && math.Abs(sl) <= eps:
		return DescendingTriangle, true
	case su < -eps && sl > eps:
		return SymmetricTriangle, true
	default:
		return "", false
	}
}

// trendlineBreakout decides whether the last close escaped the formation
// and in which direction.
func trendlineBreakout(kind Kind, lastClose, upper, lower float64) (Direction, float64, bool) {
	switch kind {
	case RisingWedge, DescendingTriangle:
		return Bearish, lower, lastClose < lower
	case FallingWedge, AscendingTriangle:
		return Bullish, upper, lastClose > upper
	case SymmetricTriangle:
		if lastClose > upper {
			return Bullish, upper, true
		}
		if lastClose < lower {
			return Bearish, lower, true
		}
		return "", 0, false
	default:
		return "", 0, false
	}
}

// fitLine least-squares fits price = intercept + slope*index over the
// given extremum indices and returns the mean absolute residual.
func fitLine(indices []int, values []float64) (slope, intercept, meanResidual float64) {
	n := float64(len(indices))
	var sumX, sumY, sumXY, sumXX float64
	for _, idx := range indices {
		x, y := float64(idx), values[idx]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	var residuals float64
	for _, idx := range indices {
		residuals += math.Abs(values[idx] - (intercept + slope*float64(idx)))
	}
	return slope, intercept, residuals / n
}

func tail(indices []int, n int) []int {
	if len(indices) <= n {
		return indices
	}
	return indices[len(indices)-n:]
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
