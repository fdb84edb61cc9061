package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// Adapter is a market-data source capable of serving OHLCV candles.
type Adapter interface {
	// Name returns the source identifier used in DATA_SOURCE_PRIORITY.
	Name() string

	// FetchCandles returns up to limit of the most recent candles for a
	// symbol in chronological order. The in-progress bar, when included,
	// is never marked closed.
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)

	// QuoteVolume24h returns the 24h quote-denominated volume for a symbol.
	QuoteVolume24h(ctx context.Context, symbol string) (float64, error)

	// Ping checks source reachability.
	Ping(ctx context.Context) error
}

// ErrorKind classifies fetch failures for backoff decisions.
type ErrorKind string

const (
	KindTransient     ErrorKind = "transient"
	KindPermanent     ErrorKind = "permanent"
	KindRateLimited   ErrorKind = "rate_limited"
	KindGeoRestricted ErrorKind = "geo_restricted"
)

// FetchError wraps a source failure with its classification.
type FetchError struct {
	Source string
	Kind   ErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func newFetchError(source string, kind ErrorKind, err error) *FetchError {
	return &FetchError{Source: source, Kind: kind, Err: err}
}

// classifyStatus maps an HTTP status code to an error kind.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusForbidden, code == http.StatusUnavailableForLegalReasons:
		return KindGeoRestricted
	case code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors (network failures, timeouts) are treated as transient.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// baseAsset strips the common quote suffixes from a trading pair,
// e.g. BTCUSDT -> BTC.
func baseAsset(symbol string) string {
	for _, suffix := range []string{"USDT", "BUSD", "USDC", "USD"} {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return strings.TrimSuffix(symbol, suffix)
		}
	}
	return symbol
}
