package models

import (
	"time"
)

// SourceStatus describes the health of a single market-data source.
type SourceStatus struct {
	Name                string    `json:"name"`
	Priority            int       `json:"priority"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	Healthy             bool      `json:"healthy"`
	Active              bool      `json:"active"`
}

// MonitorStatus is the snapshot served by the status API.
type MonitorStatus struct {
	ActiveSource   string         `json:"active_source"`
	Degraded       bool           `json:"degraded"`
	Sources        []SourceStatus `json:"sources"`
	SymbolsTracked int            `json:"symbols_tracked"`
	CyclesRun      int64          `json:"cycles_run"`
	SignalsEmitted int64          `json:"signals_emitted"`
	StartedAt      time.Time      `json:"started_at"`
	RecentLogs     []string       `json:"recent_logs,omitempty"`
}

// HealthEvent is published when the active source changes or the pool
// enters/leaves degraded mode.
type HealthEvent struct {
	ActiveSource string    `json:"active_source"`
	Degraded     bool      `json:"degraded"`
	Timestamp    time.Time `json:"timestamp"`
}
