package models

import (
	"time"
)

// Candle represents a single OHLCV candle. Volume is quote-denominated
// (USD for the supported pairs) regardless of which source produced it.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Closed    bool      `json:"closed"`
}

// IndicatorSnapshot holds the most recent indicator values for a symbol,
// computed at the last closed candle.
type IndicatorSnapshot struct {
	Symbol        string    `json:"symbol"`
	Timestamp     time.Time `json:"timestamp"`
	RSI           float64   `json:"rsi"`
	MACD          float64   `json:"macd"`
	MACDSignal    float64   `json:"macd_signal"`
	MACDHistogram float64   `json:"macd_histogram"`
	EMAFast       float64   `json:"ema_fast"`
	EMASlow       float64   `json:"ema_slow"`
	BBUpper       float64   `json:"bb_upper"`
	BBMiddle      float64   `json:"bb_middle"`
	BBLower       float64   `json:"bb_lower"`
	ATR           float64   `json:"atr"`
	VolumeZScore  float64   `json:"volume_zscore"`
}
