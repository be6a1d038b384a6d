package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/kafkapubsub"
	_ "gocloud.dev/pubsub/mempubsub"

	apperrors "github.com/allisson/hookrelay/internal/errors"
)

const consumerShutdownTimeout = 10 * time.Second

type consumerUseCase struct {
	subscription *pubsub.Subscription
	ingest       IngestUseCase
	logger       *slog.Logger
}

// OpenSubscription opens a gocloud.dev/pubsub subscription URL such as "mem://cdc" or
// "kafka://group?topic=cdc".
func OpenSubscription(ctx context.Context, url string) (*pubsub.Subscription, error) {
	sub, err := pubsub.OpenSubscription(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open change event subscription: %w", err)
	}
	return sub, nil
}

// NewConsumerUseCase creates a ConsumerUseCase reading from subscription. The consumer owns the
// subscription and shuts it down when Start returns.
func NewConsumerUseCase(subscription *pubsub.Subscription, ingest IngestUseCase, logger *slog.Logger) ConsumerUseCase {
	return &consumerUseCase{
		subscription: subscription,
		ingest:       ingest,
		logger:       logger,
	}
}

// Start receives envelopes until ctx is canceled. Envelopes that decode to nothing or fail to decode
// are acked. Storage failures are nacked so the broker redelivers them.
func (uc *consumerUseCase) Start(ctx context.Context) error {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), consumerShutdownTimeout)
		defer cancel()
		if err := uc.subscription.Shutdown(shutdownCtx); err != nil && uc.logger != nil {
			uc.logger.Error("failed to shut down change event subscription", slog.Any("error", err))
		}
	}()

	if uc.logger != nil {
		uc.logger.Info("starting change event consumer")
	}

	for {
		msg, err := uc.subscription.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				if uc.logger != nil {
					uc.logger.Info("stopping change event consumer")
				}
				return ctx.Err()
			}
			return fmt.Errorf("failed to receive change event: %w", err)
		}
		if err := uc.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle settles one message. A storage failure on a broker without nacks stops the consumer
// instead of acking, so the uncommitted message is read again after restart.
func (uc *consumerUseCase) handle(ctx context.Context, msg *pubsub.Message) error {
	_, err := uc.ingest.Ingest(ctx, msg.Body)
	if err == nil || errors.Is(err, apperrors.ErrInvalidInput) {
		msg.Ack()
		return nil
	}

	if uc.logger != nil {
		uc.logger.Error("failed to ingest change event",
			slog.String("message_id", msg.LoggableID),
			slog.Any("error", err),
		)
	}
	if msg.Nackable() {
		msg.Nack()
		return nil
	}
	return fmt.Errorf("failed to ingest change event: %w", err)
}
