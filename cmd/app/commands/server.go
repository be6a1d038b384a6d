package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/allisson/hookrelay/internal/app"
	"github.com/allisson/hookrelay/internal/config"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// RunServer starts the HTTP API, the dispatcher and, when enabled, the change-event consumer.
// Blocks until receiving SIGINT/SIGTERM or until one component fails. On shutdown the
// servers are stopped within DBConnMaxLifetime.
func RunServer(ctx context.Context, version string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	gin.SetMode(cfg.GetGinMode())

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting server", slog.String("version", version))

	defer closeContainer(container, logger)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server, err := container.HTTPServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	dispatcher, err := container.DispatcherUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	var consumer webhookUseCase.ConsumerUseCase
	if cfg.CDCConsumerEnabled {
		consumer, err = container.ConsumerUseCase(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize consumer: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Start(gctx); err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return ignoreCanceled(dispatcher.Start(gctx), "dispatcher")
	})

	if consumer != nil {
		g.Go(func() error {
			return ignoreCanceled(consumer.Start(gctx), "consumer")
		})
	}

	// Servers only stop on Shutdown, so wait for a signal or the first failure.
	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
	} else {
		logger.Error("component failed, initiating shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
	defer shutdownCancel()

	var shutdownErrors []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("api server shutdown: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if err := g.Wait(); err != nil {
		shutdownErrors = append([]error{err}, shutdownErrors...)
	}

	return errors.Join(shutdownErrors...)
}

// ignoreCanceled treats cancellation as a clean stop of a background loop.
func ignoreCanceled(err error, component string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s error: %w", component, err)
}
