package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// RingHook keeps the most recent formatted log lines in memory so the
// status API can serve them without touching the log output.
type RingHook struct {
	mu      sync.Mutex
	entries []string
	next    int
	full    bool
}

// NewRingHook creates a hook retaining the last capacity lines.
func NewRingHook(capacity int) *RingHook {
	if capacity <= 0 {
		capacity = 100
	}
	return &RingHook{
		entries: make([]string, capacity),
	}
}

// Levels implements logrus.Hook.
func (h *RingHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *RingHook) Fire(entry *logrus.Entry) error {
	var fields string
	if len(entry.Data) > 0 {
		parts := make([]string, 0, len(entry.Data))
		for k, v := range entry.Data {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		fields = " " + strings.Join(parts, " ")
	}

	line := fmt.Sprintf("%s %s %s%s",
		entry.Time.Format("2006-01-02 15:04:05"),
		strings.ToUpper(entry.Level.String()),
		entry.Message,
		fields,
	)

	h.mu.Lock()
	h.entries[h.next] = line
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()

	return nil
}

// Recent returns up to n of the most recent log lines, oldest first.
func (h *RingHook) Recent(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.entries)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	result := make([]string, 0, n)
	start := (h.next - n + len(h.entries)) % len(h.entries)
	for i := 0; i < n; i++ {
		result = append(result, h.entries[(start+i)%len(h.entries)])
	}
	return result
}
