package indicator

import (
	"errors"
	"math"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// ErrNotEnoughData is returned when a series is shorter than the warm-up
// period of the requested indicator.
var ErrNotEnoughData = errors.New("not enough data for indicator")

// Params holds indicator periods. Zero values fall back to defaults.
type Params struct {
	RSIPeriod    int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	BBPeriod     int
	BBWidth      float64
	EMAFast      int
	EMASlow      int
	ATRPeriod    int
	VolumePeriod int
}

// DefaultParams returns the standard parameter set.
func DefaultParams() Params {
	return Params{
		RSIPeriod:    14,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		BBPeriod:     20,
		BBWidth:      2.0,
		EMAFast:      21,
		EMASlow:      55,
		ATRPeriod:    14,
		VolumePeriod: 20,
	}
}

// SMA computes a simple moving average. Entries before the warm-up period
// are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes an exponential moving average seeded with the SMA of the
// first period values. A NaN prefix in the input (e.g. a MACD line) is
// skipped.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}

	start := firstValid(values)
	if start < 0 || len(values)-start < period {
		return out
	}

	var sum float64
	for i := start; i < start+period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[start+period-1] = prev

	k := 2.0 / float64(period+1)
	for i := start + period; i < len(values); i++ {
		prev = (values[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// RSI computes the relative strength index with Wilder smoothing.
// All-gain series read 100, all-loss series 0, flat series 50.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50
	case avgLoss == 0:
		return 100
	case avgGain == 0:
		return 0
	default:
		rs := avgGain / avgLoss
		return 100 - 100/(1+rs)
	}
}

// MACD computes the MACD line, signal line and histogram.
func MACD(values []float64, fast, slow, signal int) (line, sig, hist []float64) {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)

	line = nanSlice(len(values))
	for i := range values {
		if !math.IsNaN(emaFast[i]) && !math.IsNaN(emaSlow[i]) {
			line[i] = emaFast[i] - emaSlow[i]
		}
	}

	sig = EMA(line, signal)

	hist = nanSlice(len(values))
	for i := range values {
		if !math.IsNaN(line[i]) && !math.IsNaN(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return line, sig, hist
}

// Bollinger computes Bollinger bands (middle SMA with width standard
// deviations on each side).
func Bollinger(values []float64, period int, width float64) (upper, middle, lower []float64) {
	middle = SMA(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))

	for i := period - 1; i < len(values); i++ {
		mean := middle[i]
		if math.IsNaN(mean) {
			continue
		}
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = mean + width*sd
		lower[i] = mean - width*sd
	}
	return upper, middle, lower
}

// ATR computes the average true range with Wilder smoothing.
func ATR(candles []models.Candle, period int) []float64 {
	out := nanSlice(len(candles))
	if period <= 0 || len(candles) <= period {
		return out
	}

	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		highLow := candles[i].High - candles[i].Low
		highClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
		tr[i] = math.Max(highLow, math.Max(highClose, lowClose))
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev

	for i := period; i < len(candles); i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}
	return out
}

// VolumeZScore computes the rolling z-score of volume over period bars.
// A zero-variance window yields 0.
func VolumeZScore(volumes []float64, period int) []float64 {
	out := nanSlice(len(volumes))
	if period <= 1 || len(volumes) < period {
		return out
	}

	for i := period - 1; i < len(volumes); i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += volumes[j]
		}
		mean := sum / float64(period)

		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := volumes[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		if sd == 0 {
			out[i] = 0
			continue
		}
		out[i] = (volumes[i] - mean) / sd
	}
	return out
}

// Closes extracts close prices from candles.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts high prices from candles.
func Highs(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts low prices from candles.
func Lows(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts volumes from candles.
func Volumes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Snapshot computes the indicator values at the last candle of the window.
func Snapshot(candles []models.Candle, p Params) (*models.IndicatorSnapshot, error) {
	if len(candles) <= p.EMASlow || len(candles) <= p.MACDSlow+p.MACDSignal {
		return nil, ErrNotEnoughData
	}

	closes := Closes(candles)
	volumes := Volumes(candles)
	last := len(candles) - 1

	rsi := RSI(closes, p.RSIPeriod)
	macd, macdSig, macdHist := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	bbUpper, bbMiddle, bbLower := Bollinger(closes, p.BBPeriod, p.BBWidth)
	emaFast := EMA(closes, p.EMAFast)
	emaSlow := EMA(closes, p.EMASlow)
	atr := ATR(candles, p.ATRPeriod)
	volZ := VolumeZScore(volumes, p.VolumePeriod)

	return &models.IndicatorSnapshot{
		Symbol:        candles[last].Symbol,
		Timestamp:     candles[last].OpenTime,
		RSI:           rsi[last],
		MACD:          macd[last],
		MACDSignal:    macdSig[last],
		MACDHistogram: macdHist[last],
		EMAFast:       emaFast[last],
		EMASlow:       emaSlow[last],
		BBUpper:       bbUpper[last],
		BBMiddle:      bbMiddle[last],
		BBLower:       bbLower[last],
		ATR:           atr[last],
		VolumeZScore:  volZ[last],
	}, nil
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func firstValid(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}
