package commands

import (
	"fmt"
	"log/slog"

	"github.com/allisson/hookrelay/internal/database"
	"github.com/allisson/hookrelay/migrations"
)

// RunMigrations applies, or with down reverts, the embedded migrations of the configured driver.
func RunMigrations(logger *slog.Logger, driver, connectionString string, down bool) error {
	logger.Info("running database migrations",
		slog.String("driver", driver),
		slog.Bool("down", down),
	)

	db, err := database.Connect(database.Config{
		Driver:           driver,
		ConnectionString: connectionString,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	if down {
		err = migrations.Down(db, driver)
	} else {
		err = migrations.Up(db, driver)
	}
	if err != nil {
		return err
	}

	logger.Info("migrations completed successfully")
	return nil
}
