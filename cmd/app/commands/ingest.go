package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/allisson/hookrelay/internal/webhook/http/dto"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// RunIngest reads one change envelope from reader and creates its notifications.
//
// Requirements: Database must be migrated and accessible.
func RunIngest(
	ctx context.Context,
	ingestUseCase webhookUseCase.IngestUseCase,
	logger *slog.Logger,
	reader io.Reader,
	writer io.Writer,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}

	result, err := ingestUseCase.Ingest(ctx, raw)
	if err != nil {
		return fmt.Errorf("failed to ingest envelope: %w", err)
	}

	response := dto.MapIngestResultToResponse(result)
	if format == "json" {
		return writeJSON(writer, response)
	}

	_, _ = fmt.Fprintf(writer, "Status: %s\n", response.Status)
	if response.EventName != "" {
		_, _ = fmt.Fprintf(writer, "Event: %s\n", response.EventName)
	}
	_, _ = fmt.Fprintf(writer, "Created: %d\n", len(response.NotificationIDs))
	for _, id := range response.NotificationIDs {
		_, _ = fmt.Fprintf(writer, "  - %s\n", id)
	}
	_, _ = fmt.Fprintf(writer, "Duplicates: %d\n", response.Duplicates)

	logger.Info("envelope ingested",
		slog.String("status", response.Status),
		slog.Int("created", len(response.NotificationIDs)),
	)
	return nil
}
