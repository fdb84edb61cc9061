package source

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// TransitionFunc is invoked when the active source changes or the pool
// enters/leaves degraded mode.
type TransitionFunc func(models.HealthEvent)

type sourceState struct {
	failures    int
	lastFailure time.Time
}

// HealthManager tracks consecutive failures per source and selects the
// active source by priority order. A source is considered unhealthy
// after maxFailures consecutive failures and is restored either by a
// successful call or after the reset interval elapses.
type HealthManager struct {
	order         []string
	maxFailures   int
	resetInterval time.Duration
	logger        *logrus.Entry

	mu         sync.Mutex
	states     map[string]*sourceState
	lastActive string
	degraded   bool

	now          func() time.Time
	onTransition TransitionFunc
}

// NewHealthManager creates a health manager for the configured priority
// order.
func NewHealthManager(cfg *config.SourcesConfig, logger *logrus.Logger) *HealthManager {
	states := make(map[string]*sourceState, len(cfg.Priority))
	for _, name := range cfg.Priority {
		states[name] = &sourceState{}
	}

	m := &HealthManager{
		order:         cfg.Priority,
		maxFailures:   cfg.MaxFailures,
		resetInterval: cfg.FailureResetInterval,
		logger:        logger.WithField("component", "source-health"),
		states:        states,
		now:           time.Now,
	}
	if len(cfg.Priority) > 0 {
		m.lastActive = cfg.Priority[0]
	}
	return m
}

// OnTransition registers a callback for active-source and degraded-mode
// changes. Must be called before the manager is shared across goroutines.
func (m *HealthManager) OnTransition(fn TransitionFunc) {
	m.onTransition = fn
}

// Report records the outcome of a source call. A success immediately
// clears the failure count.
func (m *HealthManager) Report(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[name]
	if !ok {
		return
	}

	if err == nil {
		state.failures = 0
		state.lastFailure = time.Time{}
		return
	}

	state.failures++
	state.lastFailure = m.now()

	if state.failures == m.maxFailures {
		m.logger.WithFields(logrus.Fields{
			"source":   name,
			"failures": state.failures,
		}).Warn("Source marked unhealthy")
	}
}

// Active returns the highest-priority healthy source. When no source is
// healthy the pool is degraded and the last active source is kept so
// polling can continue at a reduced rate.
func (m *HealthManager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := ""
	for _, name := range m.order {
		if m.healthyLocked(name) {
			active = name
			break
		}
	}

	degraded := active == ""
	if degraded {
		active = m.lastActive
	}

	if active != m.lastActive || degraded != m.degraded {
		m.logger.WithFields(logrus.Fields{
			"source":   active,
			"degraded": degraded,
		}).Info("Active source changed")

		m.lastActive = active
		m.degraded = degraded

		if m.onTransition != nil {
			m.onTransition(models.HealthEvent{
				ActiveSource: active,
				Degraded:     degraded,
				Timestamp:    m.now(),
			})
		}
	}

	return active
}

// Degraded reports whether every source is currently unhealthy.
func (m *HealthManager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// healthyLocked applies the time-based reset before evaluating the
// failure threshold. Callers must hold m.mu.
func (m *HealthManager) healthyLocked(name string) bool {
	state, ok := m.states[name]
	if !ok {
		return false
	}

	if state.failures >= m.maxFailures &&
		!state.lastFailure.IsZero() &&
		m.now().Sub(state.lastFailure) >= m.resetInterval {
		m.logger.WithField("source", name).Info("Failure count reset after cooldown")
		state.failures = 0
		state.lastFailure = time.Time{}
	}

	return state.failures < m.maxFailures
}

// Snapshot returns per-source status in priority order.
func (m *HealthManager) Snapshot() []models.SourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]models.SourceStatus, 0, len(m.order))
	for i, name := range m.order {
		state := m.states[name]
		statuses = append(statuses, models.SourceStatus{
			Name:                name,
			Priority:            i,
			ConsecutiveFailures: state.failures,
			LastFailure:         state.lastFailure,
			Healthy:             state.failures < m.maxFailures,
			Active:              name == m.lastActive && !m.degraded,
		})
	}
	return statuses
}

// CheckInactive pings unhealthy sources that are not currently active
// and restores any that respond. Called on the health-check interval.
func (m *HealthManager) CheckInactive(ctx context.Context, adapters map[string]Adapter) {
	m.mu.Lock()
	active := m.lastActive
	candidates := make([]string, 0, len(m.order))
	for _, name := range m.order {
		state := m.states[name]
		if name != active && state.failures >= m.maxFailures {
			candidates = append(candidates, name)
		}
	}
	m.mu.Unlock()

	for _, name := range candidates {
		adapter, ok := adapters[name]
		if !ok {
			continue
		}
		if err := adapter.Ping(ctx); err != nil {
			m.logger.WithError(err).WithField("source", name).Debug("Health check failed")
			continue
		}

		m.logger.WithField("source", name).Info("Source recovered")
		m.Report(name, nil)
	}
}
