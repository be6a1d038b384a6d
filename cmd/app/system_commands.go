package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/hookrelay/cmd/app/commands"
	"github.com/allisson/hookrelay/internal/app"
	"github.com/allisson/hookrelay/internal/config"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Start the HTTP API, the dispatcher and the optional change-event consumer",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunServer(ctx, version)
			},
		},
		{
			Name:  "worker",
			Usage: "Run the dispatcher without the HTTP API",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "consume",
					Value: false,
					Usage: "Also consume change events from CDC_SUBSCRIPTION_URL",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				if err := cfg.Validate(); err != nil {
					return err
				}
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(context.Background()) }()

				dispatcher, err := container.DispatcherUseCase()
				if err != nil {
					return err
				}

				var consumer webhookUseCase.ConsumerUseCase
				if cmd.Bool("consume") || cfg.CDCConsumerEnabled {
					consumer, err = container.ConsumerUseCase(ctx)
					if err != nil {
						return err
					}
				}

				return commands.RunWorker(ctx, dispatcher, consumer, container.Logger())
			},
		},
		{
			Name:  "sweep",
			Usage: "Reclaim stale deliveries and requeue or retire failed notifications once",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				dispatcher, err := container.DispatcherUseCase()
				if err != nil {
					return err
				}

				return commands.RunSweep(ctx, dispatcher, container.Logger())
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "down",
					Value: false,
					Usage: "Revert every migration instead of applying them",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunMigrations(
					container.Logger(),
					cfg.DBDriver,
					cfg.DBConnectionString,
					cmd.Bool("down"),
				)
			},
		},
	}
}
