package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// newStreamServer upgrades incoming connections and hands them to serve.
func newStreamServer(t *testing.T, serve func(*websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestStream(t *testing.T, server *httptest.Server, handler CandleHandler) *BinanceStream {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	cfg := &config.SourcesConfig{
		BinanceStreamURL: "ws" + strings.TrimPrefix(server.URL, "http") + "/stream",
	}

	return NewBinanceStream(cfg, []string{"BTCUSDT"}, "1h", handler, log)
}

func TestStreamStopReturnsPromptly(t *testing.T) {
	server := newStreamServer(t, func(conn *websocket.Conn) {
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	stream := newTestStream(t, server, func(models.Candle) {})
	require.NoError(t, stream.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		stream.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; read loop kept reconnecting")
	}
}

func TestStreamDeliversClosedCandles(t *testing.T) {
	closedKline := `{"stream":"btcusdt@kline_1h","data":{"s":"BTCUSDT","k":{` +
		`"t":1717243200000,"T":1717246799999,"i":"1h",` +
		`"o":"100.0","c":"101.5","h":"102.0","l":"99.5","q":"250000.0","x":true}}}`
	openKline := `{"stream":"btcusdt@kline_1h","data":{"s":"BTCUSDT","k":{` +
		`"t":1717246800000,"T":1717250399999,"i":"1h",` +
		`"o":"101.5","c":"101.8","h":"102.2","l":"101.1","q":"80000.0","x":false}}}`

	server := newStreamServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(closedKline))
		conn.WriteMessage(websocket.TextMessage, []byte(openKline))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	candles := make(chan models.Candle, 2)
	stream := newTestStream(t, server, func(c models.Candle) { candles <- c })
	require.NoError(t, stream.Start(context.Background()))
	defer stream.Stop()

	select {
	case c := <-candles:
		assert.Equal(t, "BTCUSDT", c.Symbol)
		assert.Equal(t, "1h", c.Timeframe)
		assert.Equal(t, time.UnixMilli(1717243200000).UTC(), c.OpenTime)
		assert.Equal(t, 101.5, c.Close)
		assert.Equal(t, 250000.0, c.Volume)
		assert.True(t, c.Closed)
	case <-time.After(2 * time.Second):
		t.Fatal("no candle delivered")
	}

	select {
	case c := <-candles:
		t.Fatalf("unclosed kline must not be forwarded: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}
