package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

const coingeckoName = "coingecko"

// CoinGeckoClient fetches candles from the CoinGecko API. Hourly price
// points are synthesized into candles: CoinGecko's free tier has no true
// OHLC endpoint at hourly resolution, so high/low are taken from the
// open/close envelope.
type CoinGeckoClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logrus.Entry

	rateLimiter chan struct{}

	symbolMap map[string]string // base asset -> CoinGecko coin id
}

// NewCoinGeckoClient creates a CoinGecko adapter.
func NewCoinGeckoClient(cfg *config.SourcesConfig, logger *logrus.Logger) *CoinGeckoClient {
	client := &CoinGeckoClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:     "https://api.coingecko.com/api/v3",
		apiKey:      cfg.CoinGeckoAPIKey,
		logger:      logger.WithField("component", "coingecko"),
		rateLimiter: make(chan struct{}, 1),
		symbolMap:   coinGeckoIDs(),
	}

	go client.rateLimitWorker()

	return client
}

// rateLimitWorker paces requests to the free-tier limit (30 calls/min).
func (c *CoinGeckoClient) rateLimitWorker() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		select {
		case c.rateLimiter <- struct{}{}:
		default:
		}
	}
}

// Name implements Adapter.
func (c *CoinGeckoClient) Name() string { return coingeckoName }

// FetchCandles implements Adapter.
func (c *CoinGeckoClient) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if timeframe != "1h" {
		return nil, newFetchError(coingeckoName, KindPermanent,
			fmt.Errorf("unsupported timeframe: %s", timeframe))
	}

	coinID, err := c.coinID(symbol)
	if err != nil {
		return nil, err
	}

	days := (limit + 23) / 24
	if days < 1 {
		days = 1
	}
	fullURL := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d&interval=hourly",
		c.baseURL, coinID, days)

	var chart struct {
		Prices       [][2]float64 `json:"prices"`
		TotalVolumes [][2]float64 `json:"total_volumes"`
	}
	if err := c.getJSON(ctx, fullURL, &chart); err != nil {
		return nil, err
	}
	if len(chart.Prices) == 0 {
		return nil, newFetchError(coingeckoName, KindTransient,
			fmt.Errorf("empty price series for %s", coinID))
	}

	now := time.Now()
	candles := make([]models.Candle, 0, len(chart.Prices))
	for i, point := range chart.Prices {
		openTime := time.UnixMilli(int64(point[0])).UTC().Truncate(time.Hour)
		closePrice := point[1]
		open := closePrice
		if i > 0 {
			open = chart.Prices[i-1][1]
		}

		high, low := open, closePrice
		if closePrice > open {
			high, low = closePrice, open
		}

		// total_volumes is the rolling 24h USD volume; scaled down it is
		// the closest hourly approximation the API offers.
		var volume float64
		if i < len(chart.TotalVolumes) {
			volume = chart.TotalVolumes[i][1] / 24
		}

		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			Closed:    openTime.Add(time.Hour).Before(now),
		})
	}

	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	c.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"count":  len(candles),
	}).Debug("Synthesized candles from market chart")

	return candles, nil
}

// QuoteVolume24h implements Adapter.
func (c *CoinGeckoClient) QuoteVolume24h(ctx context.Context, symbol string) (float64, error) {
	coinID, err := c.coinID(symbol)
	if err != nil {
		return 0, err
	}

	fullURL := fmt.Sprintf("%s/coins/%s?localization=false&tickers=false&market_data=true&community_data=false&developer_data=false",
		c.baseURL, coinID)

	var data struct {
		MarketData struct {
			TotalVolume map[string]float64 `json:"total_volume"`
		} `json:"market_data"`
	}
	if err := c.getJSON(ctx, fullURL, &data); err != nil {
		return 0, err
	}

	return data.MarketData.TotalVolume["usd"], nil
}

// Ping implements Adapter.
func (c *CoinGeckoClient) Ping(ctx context.Context) error {
	var pong struct {
		GeckoSays string `json:"gecko_says"`
	}
	return c.getJSON(ctx, c.baseURL+"/ping", &pong)
}

func (c *CoinGeckoClient) coinID(symbol string) (string, error) {
	base := strings.ToLower(baseAsset(symbol))
	if id, ok := c.symbolMap[base]; ok {
		return id, nil
	}
	return "", newFetchError(coingeckoName, KindPermanent,
		fmt.Errorf("unsupported symbol: %s", symbol))
}

func (c *CoinGeckoClient) getJSON(ctx context.Context, fullURL string, dest interface{}) error {
	select {
	case <-c.rateLimiter:
	case <-ctx.Done():
		return newFetchError(coingeckoName, KindTransient, ctx.Err())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return newFetchError(coingeckoName, KindPermanent, err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newFetchError(coingeckoName, KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return newFetchError(coingeckoName, classifyStatus(resp.StatusCode),
			fmt.Errorf("API error: status=%d, body=%s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return newFetchError(coingeckoName, KindTransient,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// coinGeckoIDs maps base assets to CoinGecko coin ids.
func coinGeckoIDs() map[string]string {
	return map[string]string{
		"btc":   "bitcoin",
		"eth":   "ethereum",
		"bnb":   "binancecoin",
		"xrp":   "ripple",
		"ada":   "cardano",
		"doge":  "dogecoin",
		"sol":   "solana",
		"dot":   "polkadot",
		"matic": "matic-network",
		"ltc":   "litecoin",
		"avax":  "avalanche-2",
		"link":  "chainlink",
		"atom":  "cosmos",
		"uni":   "uniswap",
		"trx":   "tron",
	}
}
