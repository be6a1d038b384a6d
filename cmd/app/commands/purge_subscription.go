package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/allisson/hookrelay/internal/webhook/http/dto"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// RunPurgeSubscription removes every notification of a subscription that was deleted upstream.
func RunPurgeSubscription(
	ctx context.Context,
	notificationUseCase webhookUseCase.NotificationUseCase,
	logger *slog.Logger,
	writer io.Writer,
	subscriptionID int64,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if subscriptionID < 1 {
		return fmt.Errorf("subscription id must be a positive number, got: %d", subscriptionID)
	}

	deleted, err := notificationUseCase.DeleteForSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to purge subscription notifications: %w", err)
	}

	if format == "json" {
		return writeJSON(writer, dto.DeleteNotificationsResponse{Deleted: deleted})
	}

	_, _ = fmt.Fprintf(writer, "Deleted %d notification(s) of subscription %d\n", deleted, subscriptionID)

	logger.Info("subscription notifications purged",
		slog.Int64("subscription_id", subscriptionID),
		slog.Int64("deleted", deleted),
	)
	return nil
}
