package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

// ErrorKind classifies delivery failures.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// DeliveryError wraps a webhook delivery failure with its classification
// and the last HTTP status observed, when any.
type DeliveryError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("webhook delivery failed (%s, status=%d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("webhook delivery failed (%s): %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// WebhookDispatcher delivers signals to the configured webhook endpoint,
// retrying transient failures with a doubling delay.
type WebhookDispatcher struct {
	url      string
	client   *http.Client
	attempts int
	delay    time.Duration
	logger   *logrus.Entry

	sleep func(context.Context, time.Duration) error
}

// NewWebhookDispatcher creates a dispatcher for the configured endpoint.
func NewWebhookDispatcher(cfg *config.WebhookConfig, logger *logrus.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		url: cfg.URL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		attempts: cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
		logger:   logger.WithField("component", "webhook"),
		sleep:    sleepCtx,
	}
}

// Dispatch posts a signal payload. Network errors, 5xx and 429 responses
// are retried up to the configured attempt count; other 4xx responses
// fail immediately.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, sig *models.Signal) error {
	body, err := json.Marshal(sig.Payload())
	if err != nil {
		return &DeliveryError{Kind: KindPermanent, Err: err}
	}

	delay := d.delay
	var lastErr *DeliveryError
	for attempt := 1; attempt <= d.attempts; attempt++ {
		lastErr = d.post(ctx, body)
		if lastErr == nil {
			d.logger.WithFields(logrus.Fields{
				"symbol":  sig.Symbol,
				"attempt": attempt,
			}).Info("Signal delivered")
			return nil
		}
		if lastErr.Kind == KindPermanent {
			return lastErr
		}

		d.logger.WithError(lastErr).WithFields(logrus.Fields{
			"symbol":  sig.Symbol,
			"attempt": attempt,
		}).Warn("Delivery attempt failed")

		if attempt < d.attempts {
			if err := d.sleep(ctx, delay); err != nil {
				return &DeliveryError{Kind: KindTransient, Err: err}
			}
			delay *= 2
		}
	}

	return lastErr
}

func (d *WebhookDispatcher) post(ctx context.Context, body []byte) *DeliveryError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Kind: KindPermanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	kind := KindPermanent
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		kind = KindTransient
	}
	return &DeliveryError{
		Kind:   kind,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, string(respBody)),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
