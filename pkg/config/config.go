package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `env:", prefix=SERVER_"`
	Logging  LoggingConfig  `env:", prefix=LOG_"`
	Monitor  MonitorConfig  `env:", prefix=MONITOR_"`
	Webhook  WebhookConfig  `env:", prefix=WEBHOOK_"`
	Redis    RedisConfig    `env:", prefix=REDIS_"`
	NATS     NATSConfig     `env:", prefix=NATS_"`
	InfluxDB InfluxConfig   `env:", prefix=INFLUXDB_"`
	Features FeaturesConfig `env:", prefix=FEATURES_"`

	// Source settings keep their historical un-prefixed names.
	Sources SourcesConfig
}

// ServerConfig holds status API server configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// SourcesConfig holds market-data source configuration
type SourcesConfig struct {
	Priority             []string      `env:"DATA_SOURCE_PRIORITY, default=binance,coingecko,alphavantage"`
	MaxFailures          int           `env:"MAX_FAILURES_PER_SOURCE, default=3"`
	HealthCheckInterval  time.Duration `env:"HEALTH_CHECK_INTERVAL, default=5m"`
	FailureResetInterval time.Duration `env:"FAILURE_RESET_INTERVAL, default=30m"`

	BinanceAPIKey      string `env:"BINANCE_API_KEY"`
	BinanceSecretKey   string `env:"BINANCE_SECRET_KEY"`
	BinanceAPIURL      string `env:"BINANCE_API_URL, default=https://api.binance.com"`
	BinanceStreamURL   string `env:"BINANCE_STREAM_URL, default=wss://stream.binance.com:9443/stream"`
	CoinGeckoAPIKey    string `env:"COINGECKO_API_KEY"`
	AlphaVantageAPIKey string `env:"ALPHA_VANTAGE_API_KEY"`
}

// MonitorConfig holds monitoring loop configuration
type MonitorConfig struct {
	Symbols           []string      `env:"SYMBOLS, default=BTCUSDT,ETHUSDT,BNBUSDT,SOLUSDT,XRPUSDT"`
	Timeframe         string        `env:"TIMEFRAME, default=1h"`
	PollInterval      time.Duration `env:"POLL_INTERVAL, default=1m"`
	CandleBufferSize  int           `env:"CANDLE_BUFFER_SIZE, default=144"`
	MinAnalysisWindow int           `env:"MIN_ANALYSIS_WINDOW, default=100"`
	FetchConcurrency  int           `env:"FETCH_CONCURRENCY, default=4"`
	MinVolume24h      float64       `env:"MIN_VOLUME_24H, default=20000000"`
	MinSignalInterval time.Duration `env:"MIN_SIGNAL_INTERVAL, default=5m"`
	MinConfidence     float64       `env:"MIN_CONFIDENCE, default=0.5"`
	RateLimitBackoff  time.Duration `env:"RATE_LIMIT_BACKOFF, default=5m"`
	DegradedBackoff   time.Duration `env:"DEGRADED_BACKOFF, default=2m"`
}

// WebhookConfig holds signal delivery configuration
type WebhookConfig struct {
	URL           string        `env:"URL"`
	Timeout       time.Duration `env:"TIMEOUT, default=10s"`
	RetryAttempts int           `env:"RETRY_ATTEMPTS, default=3"`
	RetryDelay    time.Duration `env:"RETRY_DELAY, default=2s"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=5"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	DrainTimeout  time.Duration `env:"DRAIN_TIMEOUT, default=30s"`
}

// InfluxConfig holds InfluxDB configuration
type InfluxConfig struct {
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN"`
	Org     string        `env:"ORG, default=monitoring"`
	Bucket  string        `env:"BUCKET, default=candles"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// FeaturesConfig holds feature flags for optional integrations
type FeaturesConfig struct {
	StreamEnabled      bool `env:"STREAM_ENABLED, default=false"`
	CacheEnabled       bool `env:"CACHE_ENABLED, default=false"`
	MessagingEnabled   bool `env:"MESSAGING_ENABLED, default=false"`
	PersistenceEnabled bool `env:"PERSISTENCE_ENABLED, default=false"`
}

// knownSources are the source names accepted in DATA_SOURCE_PRIORITY.
var knownSources = map[string]bool{
	"binance":      true,
	"coingecko":    true,
	"alphavantage": true,
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	// Source settings use historical un-prefixed env names
	var srcCfg SourcesConfig
	if err := envconfig.Process(ctx, &srcCfg); err != nil {
		return nil, fmt.Errorf("failed to process source config: %w", err)
	}
	cfg.Sources = srcCfg

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Webhook.URL == "" {
		return fmt.Errorf("WEBHOOK_URL is required")
	}
	if u, err := url.Parse(c.Webhook.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", c.Webhook.URL)
	}

	if len(c.Sources.Priority) == 0 {
		return fmt.Errorf("at least one data source is required")
	}
	for _, name := range c.Sources.Priority {
		if !knownSources[name] {
			return fmt.Errorf("unknown data source: %s", name)
		}
	}
	if c.Sources.MaxFailures < 1 {
		return fmt.Errorf("MAX_FAILURES_PER_SOURCE must be at least 1")
	}

	if len(c.Monitor.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Monitor.CandleBufferSize < c.Monitor.MinAnalysisWindow {
		return fmt.Errorf("candle buffer size %d is smaller than the analysis window %d",
			c.Monitor.CandleBufferSize, c.Monitor.MinAnalysisWindow)
	}
	if c.Monitor.FetchConcurrency < 1 {
		return fmt.Errorf("fetch concurrency must be at least 1")
	}
	if c.Monitor.MinConfidence < 0 || c.Monitor.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be within [0,1]: %f", c.Monitor.MinConfidence)
	}

	return nil
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
