package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

const binanceName = "binance"

// BinanceClient fetches candles from the Binance spot REST API.
type BinanceClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *logrus.Entry

	rateLimit time.Duration
	callMu    sync.Mutex
	lastCall  time.Time
}

// NewBinanceClient creates a Binance REST adapter.
func NewBinanceClient(cfg *config.SourcesConfig, logger *logrus.Logger) *BinanceClient {
	return &BinanceClient{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   cfg.BinanceAPIURL,
		apiKey:    cfg.BinanceAPIKey,
		logger:    logger.WithField("component", "binance"),
		rateLimit: 100 * time.Millisecond, // 10 requests per second max
	}
}

// Name implements Adapter.
func (b *BinanceClient) Name() string { return binanceName }

// FetchCandles implements Adapter.
func (b *BinanceClient) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	b.enforceRateLimit()

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", timeframe)
	if limit > 0 && limit <= 1000 {
		params.Add("limit", strconv.Itoa(limit))
	} else if limit > 1000 {
		params.Add("limit", "1000")
	}

	fullURL := fmt.Sprintf("%s/api/v3/klines?%s", b.baseURL, params.Encode())

	var rawKlines [][]interface{}
	if err := b.getJSON(ctx, fullURL, &rawKlines); err != nil {
		return nil, err
	}

	now := time.Now()
	candles := make([]models.Candle, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 8 {
			continue
		}

		openTime, okOpenTime := raw[0].(float64)
		closeTime, okCloseTime := raw[6].(float64)
		openStr, okOpen := raw[1].(string)
		highStr, okHigh := raw[2].(string)
		lowStr, okLow := raw[3].(string)
		closeStr, okClose := raw[4].(string)
		volumeStr, okVolume := raw[7].(string)
		if !okOpenTime || !okCloseTime || !okOpen || !okHigh || !okLow || !okClose || !okVolume {
			continue
		}

		open, err1 := strconv.ParseFloat(openStr, 64)
		high, err2 := strconv.ParseFloat(highStr, 64)
		low, err3 := strconv.ParseFloat(lowStr, 64)
		closePrice, err4 := strconv.ParseFloat(closeStr, 64)
		quoteVolume, err5 := strconv.ParseFloat(volumeStr, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}

		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  time.UnixMilli(int64(openTime)).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    quoteVolume,
			Closed:    time.UnixMilli(int64(closeTime)).Before(now),
		})
	}

	b.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"count":  len(candles),
	}).Debug("Fetched klines")

	return candles, nil
}

// QuoteVolume24h implements Adapter.
func (b *BinanceClient) QuoteVolume24h(ctx context.Context, symbol string) (float64, error) {
	b.enforceRateLimit()

	fullURL := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", b.baseURL, symbol)

	var ticker struct {
		Symbol      string `json:"symbol"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := b.getJSON(ctx, fullURL, &ticker); err != nil {
		return 0, err
	}

	volume, err := strconv.ParseFloat(ticker.QuoteVolume, 64)
	if err != nil {
		return 0, newFetchError(binanceName, KindPermanent,
			fmt.Errorf("failed to parse quote volume: %w", err))
	}
	return volume, nil
}

// Ping implements Adapter.
func (b *BinanceClient) Ping(ctx context.Context) error {
	var empty struct{}
	return b.getJSON(ctx, b.baseURL+"/api/v3/ping", &empty)
}

// getJSON executes a GET request and decodes the JSON response, mapping
// failures to classified fetch errors.
func (b *BinanceClient) getJSON(ctx context.Context, fullURL string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return newFetchError(binanceName, KindPermanent, err)
	}
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return newFetchError(binanceName, KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return newFetchError(binanceName, classifyStatus(resp.StatusCode),
			fmt.Errorf("API error: status=%d, body=%s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return newFetchError(binanceName, KindTransient,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// enforceRateLimit ensures we don't exceed API rate limits.
func (b *BinanceClient) enforceRateLimit() {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	elapsed := time.Since(b.lastCall)
	if elapsed < b.rateLimit {
		time.Sleep(b.rateLimit - elapsed)
	}
	b.lastCall = time.Now()
}
