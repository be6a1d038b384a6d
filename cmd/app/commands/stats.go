package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/allisson/hookrelay/internal/webhook/domain"
	"github.com/allisson/hookrelay/internal/webhook/http/dto"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// RunStats prints how many notifications are in each status.
func RunStats(
	ctx context.Context,
	notificationUseCase webhookUseCase.NotificationUseCase,
	writer io.Writer,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	counts, err := notificationUseCase.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to count notifications: %w", err)
	}

	if format == "json" {
		return writeJSON(writer, dto.MapStatsToResponse(counts))
	}

	_, _ = fmt.Fprintf(writer, "Notifications by status\n")
	_, _ = fmt.Fprintf(writer, "=======================\n")
	var total int64
	for _, status := range domain.NotificationStatuses {
		_, _ = fmt.Fprintf(writer, "%-12s %d\n", status, counts[status])
		total += counts[status]
	}
	_, _ = fmt.Fprintf(writer, "%-12s %d\n", "total", total)
	return nil
}
