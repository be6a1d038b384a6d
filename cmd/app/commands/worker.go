package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// RunWorker runs the dispatcher, and the consumer when one is given, until ctx is canceled
// or SIGINT/SIGTERM is received. Use it to scale delivery apart from the HTTP API.
func RunWorker(
	ctx context.Context,
	dispatcher webhookUseCase.DispatcherUseCase,
	consumer webhookUseCase.ConsumerUseCase,
	logger *slog.Logger,
) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting worker", slog.Bool("consumer", consumer != nil))

	errCh := make(chan error, 2)
	go func() {
		errCh <- ignoreCanceled(dispatcher.Start(ctx), "dispatcher")
	}()
	running := 1

	if consumer != nil {
		go func() {
			errCh <- ignoreCanceled(consumer.Start(ctx), "consumer")
		}()
		running++
	}

	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	if firstErr != nil {
		return fmt.Errorf("worker stopped: %w", firstErr)
	}
	logger.Info("worker stopped")
	return nil
}

// RunSweep runs a single recovery pass over stale and failed notifications.
func RunSweep(ctx context.Context, dispatcher webhookUseCase.DispatcherUseCase, logger *slog.Logger) error {
	stats, err := dispatcher.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep notifications: %w", err)
	}
	logger.Info("sweep completed",
		slog.Int64("reclaimed", stats.Reclaimed),
		slog.Int64("requeued", stats.Requeued),
		slog.Int64("dead", stats.Dead),
	)
	return nil
}
