package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// NATSClient handles NATS messaging operations
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	cfg    *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.RWMutex
}

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	nc := &NATSClient{
		conn:   conn,
		js:     js,
		logger: logger.WithField("component", "nats"),
		cfg:    cfg,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := nc.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return nc, nil
}

// Close closes the NATS connection
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

// initializeStreams creates JetStream streams
func (nc *NATSClient) initializeStreams() error {
	// Signal stream keeps emitted signals for downstream consumers
	_, err := nc.js.AddStream(&nats.StreamConfig{
		Name:     "SIGNALS",
		Subjects: []string{"signals.>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create SIGNALS stream: %w", err)
	}

	// System stream for health and source failover events
	_, err = nc.js.AddStream(&nats.StreamConfig{
		Name:     "SYSTEM",
		Subjects: []string{"system.>"},
		Storage:  nats.MemoryStorage,
		MaxAge:   1 * time.Hour,
		MaxMsgs:  10000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create SYSTEM stream: %w", err)
	}

	return nil
}

// Signal operations

// PublishSignal publishes an emitted signal
func (nc *NATSClient) PublishSignal(sig *models.Signal) error {
	subject := fmt.Sprintf("signals.%s", sig.Symbol)

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	future, err := nc.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}

	select {
	case <-future.Ok():
		return nil
	case err := <-future.Err():
		return fmt.Errorf("failed to publish signal: %w", err)
	case <-time.After(2 * time.Second):
		return fmt.Errorf("publish timeout for subject %s", subject)
	}
}

// SubscribeSignals subscribes to emitted signals
func (nc *NATSClient) SubscribeSignals(handler func(*models.Signal)) error {
	subject := "signals.>"

	sub, err := nc.conn.Subscribe(subject, func(msg *nats.Msg) {
		var sig models.Signal
		if err := json.Unmarshal(msg.Data, &sig); err != nil {
			nc.logger.WithError(err).Error("Failed to unmarshal signal")
			return
		}
		handler(&sig)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to signals: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	return nil
}

// System operations

// PublishHealth publishes a source failover event
func (nc *NATSClient) PublishHealth(event models.HealthEvent) error {
	subject := "system.health"

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal health event: %w", err)
	}
	if _, err := nc.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish health event: %w", err)
	}
	return nil
}

// Unsubscribe unsubscribes from a subject
func (nc *NATSClient) Unsubscribe(subject string) error {
	nc.subsMu.Lock()
	defer nc.subsMu.Unlock()

	if sub, exists := nc.subs[subject]; exists {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
		delete(nc.subs, subject)
	}

	return nil
}

// Drain drains the connection (graceful shutdown)
func (nc *NATSClient) Drain() error {
	return nc.conn.Drain()
}
