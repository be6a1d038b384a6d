package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/hookrelay/internal/database"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

type notificationUseCase struct {
	txManager database.TxManager
	repo      NotificationRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewNotificationUseCase creates a NotificationUseCase.
func NewNotificationUseCase(
	txManager database.TxManager,
	repo NotificationRepository,
	logger *slog.Logger,
) NotificationUseCase {
	return &notificationUseCase{
		txManager: txManager,
		repo:      repo,
		logger:    logger,
		now:       time.Now,
	}
}

func (uc *notificationUseCase) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	return uc.repo.Get(ctx, id)
}

func (uc *notificationUseCase) List(
	ctx context.Context,
	filter domain.NotificationFilter,
	offset, limit int,
) ([]*domain.NotificationRecord, error) {
	return uc.repo.List(ctx, filter, offset, limit)
}

func (uc *notificationUseCase) Stats(ctx context.Context) (map[domain.NotificationStatus]int64, error) {
	return uc.repo.CountByStatus(ctx)
}

func (uc *notificationUseCase) Redeliver(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	var redelivery *domain.NotificationRecord

	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		original, err := uc.repo.Get(ctx, id)
		if err != nil {
			return err
		}

		redelivery, err = original.Redelivery(uc.now().UTC())
		if err != nil {
			return err
		}
		return uc.repo.Create(ctx, redelivery)
	})
	if err != nil {
		return nil, err
	}

	if uc.logger != nil {
		uc.logger.Info("notification scheduled for redelivery",
			slog.String("notification_id", id.String()),
			slog.String("redelivery_id", redelivery.ID.String()),
			slog.Int64("subscription_id", redelivery.SubscriptionID),
		)
	}
	return redelivery, nil
}

func (uc *notificationUseCase) DeleteForSubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	deleted, err := uc.repo.DeleteBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	if uc.logger != nil {
		uc.logger.Info("notifications deleted for subscription",
			slog.Int64("subscription_id", subscriptionID),
			slog.Int64("deleted", deleted),
		)
	}
	return deleted, nil
}
