package database

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// InfluxClient handles InfluxDB time-series operations
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	logger   *logrus.Entry
	cfg      *config.InfluxConfig
	org      string
	bucket   string
}

// NewInfluxClient creates a new InfluxDB client
func NewInfluxClient(cfg *config.InfluxConfig, logger *logrus.Logger) *InfluxClient {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds())).
			SetLogLevel(0),
	)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		logger:   logger.WithField("component", "influxdb"),
		cfg:      cfg,
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}
}

// Close closes the InfluxDB client
func (ic *InfluxClient) Close() {
	ic.client.Close()
}

// Health checks InfluxDB health
func (ic *InfluxClient) Health(ctx context.Context) error {
	health, err := ic.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}

	return nil
}

// Candle operations

// WriteCandleBatch writes closed candles fetched in one cycle.
func (ic *InfluxClient) WriteCandleBatch(ctx context.Context, source string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(candles))
	for _, c := range candles {
		if !c.Closed {
			continue
		}

		point := influxdb2.NewPoint(
			fmt.Sprintf("ohlcv_%s", c.Timeframe),
			map[string]string{
				"source": source,
				"symbol": c.Symbol,
			},
			map[string]interface{}{
				"open":   c.Open,
				"high":   c.High,
				"low":    c.Low,
				"close":  c.Close,
				"volume": c.Volume,
			},
			c.OpenTime,
		)
		points = append(points, point)
	}
	if len(points) == 0 {
		return nil
	}

	if err := ic.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write candle batch (%d points): %w", len(points), err)
	}

	return nil
}

// Signal operations

// WriteSignal records an emitted signal.
func (ic *InfluxClient) WriteSignal(ctx context.Context, sig *models.Signal) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":  sig.Symbol,
			"pattern": sig.Pattern,
		},
		map[string]interface{}{
			"confidence":  sig.Confidence,
			"price":       sig.Price,
			"divergences": len(sig.Divergences),
		},
		sig.Timestamp,
	)

	if err := ic.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write signal: %w", err)
	}

	return nil
}
