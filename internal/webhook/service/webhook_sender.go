package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/allisson/hookrelay/internal/resilience"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// Delivery headers.
const (
	EventHeader    = "X-Hookrelay-Event"
	DeliveryHeader = "X-Hookrelay-Delivery"
)

// ErrRateLimited is returned when the per-target rate limiter cannot admit a request before ctx ends.
// The request is never sent, so it does not count against the target's circuit breaker.
var ErrRateLimited = errors.New("rate limit wait failed")

// SenderConfig configures outbound webhook requests.
type SenderConfig struct {
	UserAgent string
	// RateLimitPerSec limits requests per second to one target host. Zero disables the limit.
	RateLimitPerSec float64
	RateLimitBurst  int
}

// WebhookSender performs a single HTTP delivery attempt.
type WebhookSender struct {
	client   *http.Client
	config   SenderConfig
	logger   *slog.Logger
	limiters sync.Map // host -> *rate.Limiter
}

// NewWebhookSender creates a WebhookSender. A nil client uses http.DefaultClient.
func NewWebhookSender(client *http.Client, config SenderConfig, logger *slog.Logger) *WebhookSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSender{
		client: client,
		config: config,
		logger: logger,
	}
}

// Send POSTs the record payload to the subscription's target URL. Any 2xx response is a success;
// other statuses come back as *resilience.StatusError.
func (s *WebhookSender) Send(ctx context.Context, sub *domain.Subscription, rec *domain.NotificationRecord) error {
	if err := s.wait(ctx, resilience.TargetFromURL(sub.TargetURL)); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(rec.Payload))
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(rec.EventName))
	req.Header.Set(DeliveryHeader, rec.ID.String())
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}
	if sub.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(sub.Secret, rec.Payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	return resilience.CheckResponse(resp)
}

func (s *WebhookSender) wait(ctx context.Context, host string) error {
	if s.config.RateLimitPerSec <= 0 {
		return nil
	}
	limiter, ok := s.limiters.Load(host)
	if !ok {
		burst := s.config.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter, _ = s.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(s.config.RateLimitPerSec), burst))
	}
	if err := limiter.(*rate.Limiter).Wait(ctx); err != nil {
		return resilience.NotSent(fmt.Errorf("%w: %w", ErrRateLimited, err))
	}
	return nil
}
