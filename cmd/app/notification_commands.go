package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/hookrelay/cmd/app/commands"
	"github.com/allisson/hookrelay/internal/app"
	"github.com/allisson/hookrelay/internal/config"
)

func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func getNotificationCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "ingest",
			Usage: "Ingest one change envelope from a file or stdin",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "file",
					Value: "",
					Usage: "Path to the envelope JSON (reads stdin when empty)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				ingestUseCase, err := container.IngestUseCase()
				if err != nil {
					return err
				}

				var reader io.Reader = commands.DefaultIO().Reader
				if path := cmd.String("file"); path != "" {
					f, err := os.Open(path)
					if err != nil {
						return fmt.Errorf("failed to open envelope file: %w", err)
					}
					defer func() { _ = f.Close() }()
					reader = f
				}

				return commands.RunIngest(
					ctx,
					ingestUseCase,
					container.Logger(),
					reader,
					commands.DefaultIO().Writer,
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "redeliver",
			Usage: "Queue a new delivery of a delivered or dead notification",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "id",
					Aliases:  []string{"i"},
					Required: true,
					Usage:    "Notification ID (UUID)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				notificationUseCase, err := container.NotificationUseCase()
				if err != nil {
					return err
				}

				return commands.RunRedeliver(
					ctx,
					notificationUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("id"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "purge-subscription",
			Usage: "Delete every notification of a subscription removed upstream",
			Flags: []cli.Flag{
				&cli.Int64Flag{
					Name:     "subscription-id",
					Aliases:  []string{"s"},
					Required: true,
					Usage:    "Subscription ID",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				notificationUseCase, err := container.NotificationUseCase()
				if err != nil {
					return err
				}

				return commands.RunPurgeSubscription(
					ctx,
					notificationUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.Int64("subscription-id"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "stats",
			Usage: "Count notifications by status",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				notificationUseCase, err := container.NotificationUseCase()
				if err != nil {
					return err
				}

				return commands.RunStats(ctx, notificationUseCase, commands.DefaultIO().Writer, cmd.String("format"))
			},
		},
	}
}
