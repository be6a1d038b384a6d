package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/allisson/hookrelay/internal/webhook/http/dto"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// RunRedeliver queues a fresh PENDING copy of a DELIVERED or DEAD notification.
func RunRedeliver(
	ctx context.Context,
	notificationUseCase webhookUseCase.NotificationUseCase,
	logger *slog.Logger,
	writer io.Writer,
	notificationID string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	id, err := uuid.Parse(notificationID)
	if err != nil {
		return fmt.Errorf("invalid notification id: %w", err)
	}

	record, err := notificationUseCase.Redeliver(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to redeliver notification: %w", err)
	}

	response := dto.MapNotificationToResponse(record)
	if format == "json" {
		return writeJSON(writer, response)
	}

	_, _ = fmt.Fprintf(writer, "Notification %s queued as %s (%s)\n", id, response.ID, response.Status)

	logger.Info("notification redelivered",
		slog.String("original_id", id.String()),
		slog.String("notification_id", response.ID),
	)
	return nil
}
