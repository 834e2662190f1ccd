package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // PGX driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func installMigrateCmd(app *App) {
	var steps int

	migrateCmd := &cobra.Command{
		Use:   "migrate [path-to-migration-scripts]",
		Short: "Create or update the database tables",
		Long: `Apply the SQL migrations of the saved objects and anomaly records tables.

By default every pending migration is applied. --steps applies only the given number
of migrations, and a negative value rolls back that many.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// A bad directory is reported with the command usage.
			info, err := os.Stat(args[0])
			if err != nil {
				app.cmd.SilenceUsage = false
				return fmt.Errorf("invalid migrations directory: %v", err)
			}
			if !info.IsDir() {
				app.cmd.SilenceUsage = false
				return fmt.Errorf("migrations path %q is a file, expected a directory", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = true
			app.config.MigrationsDir = args[0]
			return app.migrate(steps)
		},
	}
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply, negative to roll back (0 applies all pending migrations)")

	app.cmd.AddCommand(migrateCmd)
}

// migrate applies the migrations of the configured directory and logs the resulting schema version.
func (a App) migrate(steps int) (err error) {
	slog.Info("Migrating database", "dir", a.config.MigrationsDir, "steps", steps)

	m, err := migrate.New("file://"+a.config.MigrationsDir, a.config.DBconfig.URI("pgx5"))
	if err != nil {
		return fmt.Errorf("could not prepare migrations: %v", err)
	}
	defer func() {
		sErr, dbErr := m.Close()
		if sErr != nil || dbErr != nil {
			err = errors.Join(err, fmt.Errorf("could not close migrations: %w", errors.Join(sErr, dbErr)))
		}
	}()

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("Database schema is already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %v", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		slog.Info("Every migration was rolled back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read schema version: %v", err)
	}
	slog.Info("Database migrated", "version", version, "dirty", dirty)
	return nil
}
