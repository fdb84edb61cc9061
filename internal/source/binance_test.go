package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
)

func newTestBinanceClient(t *testing.T, server *httptest.Server) *BinanceClient {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewBinanceClient(&config.SourcesConfig{BinanceAPIURL: server.URL}, log)
}

func TestBinanceFetchCandlesSkipsMalformedRows(t *testing.T) {
	// One well-formed row surrounded by rows with wrong field types and a
	// truncated row. Only the well-formed one may survive.
	body := `[
		[1717243200000,"100.0","102.0","99.5","101.5","12.3",1717246799999,"250000.0"],
		[1717246800000,101.5,102.2,101.1,101.8,10,1717250399999,80000.0],
		["bad","100.0","101.0","99.0","100.0","1",1717253999999,"1000.0"],
		[1717243200000,"not-a-number","102.0","99.5","101.5","12.3",1717246799999,"250000.0"],
		[1,2,3]
	]`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := newTestBinanceClient(t, server)

	candles, err := client.FetchCandles(context.Background(), "BTCUSDT", "1h", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)

	c := candles[0]
	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, time.UnixMilli(1717243200000).UTC(), c.OpenTime)
	assert.Equal(t, 101.5, c.Close)
	assert.Equal(t, 250000.0, c.Volume)
	assert.True(t, c.Closed)
}
