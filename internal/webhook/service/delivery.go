package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allisson/hookrelay/internal/resilience"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, sub *domain.Subscription, rec *domain.NotificationRecord) error
}

// Deliverer sends notifications through the resilience proxy, keyed by target host.
type Deliverer struct {
	proxy  *resilience.Proxy
	sender Sender
	logger *slog.Logger
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(proxy *resilience.Proxy, sender Sender, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		proxy:  proxy,
		sender: sender,
		logger: logger,
	}
}

// Deliver tries to deliver rec to sub using at most budget attempts and returns how many attempts
// were made, short-circuited ones included. A failure is always returned as an error: the fallback
// reports it instead of pretending the delivery succeeded.
func (d *Deliverer) Deliver(
	ctx context.Context,
	sub *domain.Subscription,
	rec *domain.NotificationRecord,
	budget int,
) (int, error) {
	target := resilience.TargetFromURL(sub.TargetURL)
	attempts := 0

	_, err := resilience.Call(ctx, d.proxy, target,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, d.sender.Send(ctx, sub, rec)
		},
		func(ctx context.Context, err error) (struct{}, error) {
			return struct{}{}, fmt.Errorf("deliver notification %s to %s: %w", rec.ID, target, err)
		},
		resilience.WithMaxAttempts(budget),
		resilience.WithAttemptHook(func(attempt int, err error) {
			attempts = attempt
			if err != nil && d.logger != nil {
				d.logger.Warn("webhook delivery attempt failed",
					slog.String("notification_id", rec.ID.String()),
					slog.Int64("subscription_id", sub.ID),
					slog.String("target", target),
					slog.Int("attempt", attempt),
					slog.Any("error", err),
				)
			}
		}),
	)

	return attempts, err
}
