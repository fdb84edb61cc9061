package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

const alphaVantageName = "alphavantage"

// AlphaVantageClient fetches candles from the Alpha Vantage
// CRYPTO_INTRADAY endpoint. Requires an API key.
type AlphaVantageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logrus.Entry
}

// NewAlphaVantageClient creates an Alpha Vantage adapter.
func NewAlphaVantageClient(cfg *config.SourcesConfig, logger *logrus.Logger) *AlphaVantageClient {
	return &AlphaVantageClient{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: "https://www.alphavantage.co/query",
		apiKey:  cfg.AlphaVantageAPIKey,
		logger:  logger.WithField("component", "alphavantage"),
	}
}

// Name implements Adapter.
func (a *AlphaVantageClient) Name() string { return alphaVantageName }

// FetchCandles implements Adapter.
func (a *AlphaVantageClient) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if a.apiKey == "" {
		return nil, newFetchError(alphaVantageName, KindPermanent,
			fmt.Errorf("API key not configured"))
	}

	interval, err := a.interval(timeframe)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("function", "CRYPTO_INTRADAY")
	params.Add("symbol", baseAsset(symbol))
	params.Add("market", "USD")
	params.Add("interval", interval)
	params.Add("outputsize", "full")
	params.Add("apikey", a.apiKey)

	body, err := a.get(ctx, fmt.Sprintf("%s?%s", a.baseURL, params.Encode()))
	if err != nil {
		return nil, err
	}

	var envelope struct {
		ErrorMessage string                       `json:"Error Message"`
		Note         string                       `json:"Note"`
		Information  string                       `json:"Information"`
		Series       map[string]map[string]string `json:"Time Series Crypto (60min)"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, newFetchError(alphaVantageName, KindTransient,
			fmt.Errorf("failed to decode response: %w", err))
	}

	if envelope.ErrorMessage != "" {
		return nil, newFetchError(alphaVantageName, KindPermanent,
			fmt.Errorf("API error: %s", envelope.ErrorMessage))
	}
	// Throttle responses come back as a Note or Information field.
	if envelope.Note != "" || envelope.Information != "" {
		return nil, newFetchError(alphaVantageName, KindRateLimited,
			fmt.Errorf("API throttled: %s%s", envelope.Note, envelope.Information))
	}
	if len(envelope.Series) == 0 {
		return nil, newFetchError(alphaVantageName, KindTransient,
			fmt.Errorf("empty time series for %s", symbol))
	}

	timestamps := make([]string, 0, len(envelope.Series))
	for ts := range envelope.Series {
		timestamps = append(timestamps, ts)
	}
	sort.Strings(timestamps)
	if len(timestamps) > limit {
		timestamps = timestamps[len(timestamps)-limit:]
	}

	now := time.Now()
	candles := make([]models.Candle, 0, len(timestamps))
	for _, ts := range timestamps {
		bar := envelope.Series[ts]
		openTime, err := time.ParseInLocation("2006-01-02 15:04:05", ts, time.UTC)
		if err != nil {
			continue
		}

		open, err1 := strconv.ParseFloat(bar["1. open"], 64)
		high, err2 := strconv.ParseFloat(bar["2. high"], 64)
		low, err3 := strconv.ParseFloat(bar["3. low"], 64)
		closePrice, err4 := strconv.ParseFloat(bar["4. close"], 64)
		volume, err5 := strconv.ParseFloat(bar["5. volume"], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}

		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume * closePrice, // base units -> quote volume
			Closed:    openTime.Add(time.Hour).Before(now),
		})
	}

	a.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"count":  len(candles),
	}).Debug("Fetched intraday series")

	return candles, nil
}

// QuoteVolume24h implements Adapter.
func (a *AlphaVantageClient) QuoteVolume24h(ctx context.Context, symbol string) (float64, error) {
	candles, err := a.FetchCandles(ctx, symbol, "1h", 25)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, c := range candles {
		if c.Closed {
			total += c.Volume
		}
	}
	return total, nil
}

// Ping implements Adapter.
func (a *AlphaVantageClient) Ping(ctx context.Context) error {
	if a.apiKey == "" {
		return newFetchError(alphaVantageName, KindPermanent,
			fmt.Errorf("API key not configured"))
	}

	params := url.Values{}
	params.Add("function", "CURRENCY_EXCHANGE_RATE")
	params.Add("from_currency", "BTC")
	params.Add("to_currency", "USD")
	params.Add("apikey", a.apiKey)

	_, err := a.get(ctx, fmt.Sprintf("%s?%s", a.baseURL, params.Encode()))
	return err
}

func (a *AlphaVantageClient) interval(timeframe string) (string, error) {
	switch timeframe {
	case "1h":
		return "60min", nil
	case "30m":
		return "30min", nil
	case "15m":
		return "15min", nil
	case "5m":
		return "5min", nil
	case "1m":
		return "1min", nil
	default:
		return "", newFetchError(alphaVantageName, KindPermanent,
			fmt.Errorf("unsupported timeframe: %s", timeframe))
	}
}

func (a *AlphaVantageClient) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, newFetchError(alphaVantageName, KindPermanent, err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, newFetchError(alphaVantageName, KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newFetchError(alphaVantageName, classifyStatus(resp.StatusCode),
			fmt.Errorf("API error: status=%d, body=%s", resp.StatusCode, string(body)))
	}

	return io.ReadAll(resp.Body)
}
