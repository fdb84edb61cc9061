package signal

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/divergence"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/pattern"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

const (
	// divergenceBonus is added to a pattern's confidence for each
	// corroborating divergence.
	divergenceBonus = 0.08

	// divergence-only signals start from a lower base and grow with the
	// number of confirming indicators.
	divergenceOnlyBase = 0.40
	divergenceOnlyStep = 0.15
)

// Evaluation carries everything the composer needs for one symbol cycle.
type Evaluation struct {
	Symbol      string
	Timeframe   string
	Price       float64
	QuoteVol24h float64
	Patterns    []pattern.Match
	Divergences []divergence.Match
}

// Composer turns raw detections into deduplicated, rate-limited signals.
type Composer struct {
	minVolume24h  float64
	minConfidence float64
	minInterval   time.Duration
	logger        *logrus.Entry

	mu         sync.Mutex
	lastEmit   map[string]time.Time
	seen       map[string]time.Time
	accepted   int64
	suppressed int64

	now func() time.Time
}

// NewComposer creates a signal composer.
func NewComposer(cfg *config.MonitorConfig, logger *logrus.Logger) *Composer {
	return &Composer{
		minVolume24h:  cfg.MinVolume24h,
		minConfidence: cfg.MinConfidence,
		minInterval:   cfg.MinSignalInterval,
		logger:        logger.WithField("component", "composer"),
		lastEmit:      make(map[string]time.Time),
		seen:          make(map[string]time.Time),
		now:           time.Now,
	}
}

// Compose evaluates one symbol's detections and returns a signal, or nil
// when nothing passes the gates.
func (c *Composer) Compose(eval Evaluation) *models.Signal {
	if eval.QuoteVol24h < c.minVolume24h {
		c.logger.WithFields(logrus.Fields{
			"symbol":     eval.Symbol,
			"volume_24h": eval.QuoteVol24h,
		}).Debug("Below liquidity threshold")
		return nil
	}
	if len(eval.Patterns) == 0 && len(eval.Divergences) == 0 {
		return nil
	}

	names := divergenceNames(eval.Divergences)

	var patternKind string
	var confidence float64
	if len(eval.Patterns) > 0 {
		best := eval.Patterns[0]
		for _, m := range eval.Patterns[1:] {
			if m.Confidence > best.Confidence {
				best = m
			}
		}
		patternKind = string(best.Kind)
		confidence = best.Confidence + divergenceBonus*float64(len(names))
	} else {
		confidence = divergenceOnlyBase + divergenceOnlyStep*float64(len(names))
	}
	if confidence > 1 {
		confidence = 1
	}

	if confidence < c.minConfidence {
		return nil
	}

	now := c.now()
	key := dedupeKey(eval.Symbol, patternKind, names, eval.Price)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneSeenLocked(now)

	if last, ok := c.lastEmit[eval.Symbol]; ok && now.Sub(last) < c.minInterval {
		c.suppressed++
		return nil
	}
	if acceptedAt, ok := c.seen[key]; ok && now.Sub(acceptedAt) < c.minInterval {
		c.suppressed++
		c.logger.WithFields(logrus.Fields{
			"symbol": eval.Symbol,
			"key":    key,
		}).Debug("Duplicate signal suppressed")
		return nil
	}

	c.seen[key] = now
	c.lastEmit[eval.Symbol] = now
	c.accepted++

	return &models.Signal{
		Symbol:      eval.Symbol,
		Pattern:     patternKind,
		Timeframe:   eval.Timeframe,
		Confidence:  confidence,
		Price:       eval.Price,
		Timestamp:   now,
		Divergences: names,
		DedupeKey:   key,
	}
}

// Accepted returns the number of signals emitted since startup.
func (c *Composer) Accepted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// pruneSeenLocked drops dedupe entries whose quiet window has passed, so
// the map stays bounded by the signals accepted within one interval.
func (c *Composer) pruneSeenLocked(now time.Time) {
	for key, acceptedAt := range c.seen {
		if now.Sub(acceptedAt) >= c.minInterval {
			delete(c.seen, key)
		}
	}
}

// divergenceNames collects the distinct indicator names for the signal
// payload, e.g. ["MACD", "RSI"].
func divergenceNames(matches []divergence.Match) []string {
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m.Indicator] {
			continue
		}
		seen[m.Indicator] = true
		names = append(names, m.Indicator)
	}
	sort.Strings(names)
	return names
}

// dedupeKey identifies a signal by symbol, cause and approximate price
// level, so the same setup is not re-emitted while price hovers around
// the breakout inside the quiet window.
func dedupeKey(symbol, patternKind string, divergences []string, price float64) string {
	cause := patternKind
	if cause == "" {
		cause = strings.Join(divergences, "+")
	}
	return fmt.Sprintf("%s|%s|%s", symbol, cause, roundSignificant(price, 3))
}

// roundSignificant renders a price at the given number of significant
// digits, collapsing nearby levels to the same key.
func roundSignificant(v float64, digits int) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	magnitude := math.Floor(math.Log10(math.Abs(v)))
	scale := math.Pow(10, float64(digits-1)-magnitude)
	rounded := math.Round(v*scale) / scale
	return formatPrice(rounded)
}

func formatPrice(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}
