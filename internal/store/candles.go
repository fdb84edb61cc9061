package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// ErrInsufficientData is returned when a symbol does not yet have enough
// closed candles for the requested window.
var ErrInsufficientData = errors.New("insufficient candle history")

// Store holds bounded per-symbol candle history.
type Store struct {
	capacity int

	mu      sync.RWMutex
	buffers map[string]*ringBuffer
}

// ringBuffer is a fixed-capacity circular buffer of candles in open-time order.
type ringBuffer struct {
	mu   sync.Mutex
	data []models.Candle
	head int // index of the next write slot
	size int
}

// New creates a store keeping up to capacity candles per symbol.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = 144
	}
	return &Store{
		capacity: capacity,
		buffers:  make(map[string]*ringBuffer),
	}
}

// Append inserts a candle, keeping per-symbol history in open-time order.
// A candle with an already-present open time replaces the stored entry
// (the most recent fetch wins); candles older than the newest stored
// candle are dropped.
func (s *Store) Append(c models.Candle) {
	rb := s.buffer(c.Symbol)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size > 0 {
		lastIdx := (rb.head - 1 + len(rb.data)) % len(rb.data)
		last := rb.data[lastIdx]

		if c.OpenTime.Equal(last.OpenTime) {
			rb.data[lastIdx] = c
			return
		}
		if c.OpenTime.Before(last.OpenTime) {
			// Out-of-order data from a source switch; the newest bar wins.
			return
		}
	}

	rb.data[rb.head] = c
	rb.head = (rb.head + 1) % len(rb.data)
	if rb.size < len(rb.data) {
		rb.size++
	}
}

// AppendBatch inserts candles in chronological order.
func (s *Store) AppendBatch(candles []models.Candle) {
	if len(candles) == 0 {
		return
	}
	ordered := make([]models.Candle, len(candles))
	copy(ordered, candles)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].OpenTime.Before(ordered[j].OpenTime)
	})
	for _, c := range ordered {
		s.Append(c)
	}
}

// Window returns the most recent n closed candles for a symbol in
// chronological order, or ErrInsufficientData.
func (s *Store) Window(symbol string, n int) ([]models.Candle, error) {
	rb := s.buffer(symbol)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	closed := rb.closedLocked()
	if len(closed) < n {
		return nil, ErrInsufficientData
	}
	return closed[len(closed)-n:], nil
}

// Last returns the most recent candle (closed or forming) for a symbol.
func (s *Store) Last(symbol string) (models.Candle, bool) {
	rb := s.buffer(symbol)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return models.Candle{}, false
	}
	lastIdx := (rb.head - 1 + len(rb.data)) % len(rb.data)
	return rb.data[lastIdx], true
}

// Len returns the number of closed candles stored for a symbol.
func (s *Store) Len(symbol string) int {
	rb := s.buffer(symbol)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	return len(rb.closedLocked())
}

// Symbols returns all symbols with stored candles.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.buffers))
	for symbol := range s.buffers {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (s *Store) buffer(symbol string) *ringBuffer {
	s.mu.RLock()
	rb, ok := s.buffers[symbol]
	s.mu.RUnlock()
	if ok {
		return rb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rb, ok = s.buffers[symbol]; ok {
		return rb
	}
	rb = &ringBuffer{data: make([]models.Candle, s.capacity)}
	s.buffers[symbol] = rb
	return rb
}

// closedLocked returns the closed candles oldest-first. Callers hold rb.mu.
func (rb *ringBuffer) closedLocked() []models.Candle {
	result := make([]models.Candle, 0, rb.size)
	start := (rb.head - rb.size + len(rb.data)) % len(rb.data)
	for i := 0; i < rb.size; i++ {
		c := rb.data[(start+i)%len(rb.data)]
		if c.Closed {
			result = append(result, c)
		}
	}
	return result
}
