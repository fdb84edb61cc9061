package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// CandleHandler receives closed candles from a stream.
type CandleHandler func(models.Candle)

// BinanceStream consumes the combined Binance kline stream and forwards
// closed candles to a handler. It reconnects with capped exponential
// backoff.
type BinanceStream struct {
	streamURL string
	symbols   []string
	timeframe string
	handler   CandleHandler
	logger    *logrus.Entry

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	stopped   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBinanceStream creates a kline stream client.
func NewBinanceStream(cfg *config.SourcesConfig, symbols []string, timeframe string, handler CandleHandler, logger *logrus.Logger) *BinanceStream {
	return &BinanceStream{
		streamURL: cfg.BinanceStreamURL,
		symbols:   symbols,
		timeframe: timeframe,
		handler:   handler,
		logger:    logger.WithField("component", "binance-stream"),
		stopCh:    make(chan struct{}),
	}
}

// Start connects and runs the read loop until the context is canceled.
func (s *BinanceStream) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.readLoop(ctx)

	return nil
}

// Stop closes the connection and waits for the read loop to exit. The
// stop channel keeps the loop from treating the close as a transient
// failure and reconnecting.
func (s *BinanceStream) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.connected = false
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *BinanceStream) connect(ctx context.Context) error {
	streams := make([]string, len(s.symbols))
	for i, symbol := range s.symbols {
		streams[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), s.timeframe)
	}
	fullURL := fmt.Sprintf("%s?streams=%s", s.streamURL, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.logger.WithField("streams", len(streams)).Info("Kline stream connected")
	return nil
}

func (s *BinanceStream) readLoop(ctx context.Context) {
	defer s.wg.Done()

	backoff := time.Second
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.WithError(err).Warn("Stream read failed, reconnecting")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			if err := s.connect(ctx); err != nil {
				s.logger.WithError(err).Warn("Stream reconnect failed")
			}
			continue
		}
		backoff = time.Second

		s.handleMessage(message)
	}
}

// combinedKlineEvent is the wrapper used by the combined stream endpoint.
type combinedKlineEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime    int64  `json:"t"`
			CloseTime   int64  `json:"T"`
			Interval    string `json:"i"`
			Open        string `json:"o"`
			Close       string `json:"c"`
			High        string `json:"h"`
			Low         string `json:"l"`
			QuoteVolume string `json:"q"`
			IsClosed    bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func (s *BinanceStream) handleMessage(message []byte) {
	var event combinedKlineEvent
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.WithError(err).Debug("Failed to parse stream message")
		return
	}

	k := event.Data.Kline
	if !k.IsClosed {
		return
	}

	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	closePrice, err4 := strconv.ParseFloat(k.Close, 64)
	quoteVolume, err5 := strconv.ParseFloat(k.QuoteVolume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return
	}

	s.handler(models.Candle{
		Symbol:    event.Data.Symbol,
		Timeframe: k.Interval,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    quoteVolume,
		Closed:    true,
	})
}
