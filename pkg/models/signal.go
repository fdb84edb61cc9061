package models

import (
	"time"
)

// Signal is an accepted trading signal produced by the composer.
// Pattern is empty for divergence-only signals.
type Signal struct {
	Symbol      string    `json:"symbol"`
	Pattern     string    `json:"pattern,omitempty"`
	Timeframe   string    `json:"timeframe"`
	Confidence  float64   `json:"confidence"`
	Price       float64   `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
	Divergences []string  `json:"divergences"`
	DedupeKey   string    `json:"dedupe_key"`
}

// SignalPayload is the webhook wire form of a Signal. The pattern field is
// JSON null when the signal is divergence-only, and the timestamp is ISO-8601.
type SignalPayload struct {
	Symbol     string   `json:"symbol"`
	Pattern    *string  `json:"pattern"`
	Timeframe  string   `json:"timeframe"`
	Confidence float64  `json:"confidence"`
	Price      float64  `json:"price"`
	Timestamp  string   `json:"timestamp"`
	Divergence []string `json:"divergence"`
}

// Payload converts a Signal to its webhook wire form.
func (s *Signal) Payload() *SignalPayload {
	p := &SignalPayload{
		Symbol:     s.Symbol,
		Timeframe:  s.Timeframe,
		Confidence: s.Confidence,
		Price:      s.Price,
		Timestamp:  s.Timestamp.UTC().Format(time.RFC3339),
		Divergence: s.Divergences,
	}
	if p.Divergence == nil {
		p.Divergence = []string{}
	}
	if s.Pattern != "" {
		pattern := s.Pattern
		p.Pattern = &pattern
	}
	return p
}
