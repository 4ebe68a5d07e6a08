package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"WagerLedger/internal/config"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/persistence"
	"WagerLedger/internal/persistence/migrations"

	"github.com/spf13/cobra"
)

// MigrateOptions holds flags for the migrate commands. Empty values fall
// back to the WAGER_* environment wagerd reads.
type MigrateOptions struct {
	*RootOptions
	Driver string
	DSN    string
}

func newMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the settlement schema directly on the database",
	}
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "sqlite or postgres (default $WAGER_DB_DRIVER)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "data source name (default from $WAGER_DB_DSN or $WAGER_SQLITE_PATH)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withMigrator(cmd, func(ctx context.Context, m *persistence.Migrator, w io.Writer) error {
					if err := m.Up(ctx); err != nil {
						return err
					}
					fmt.Fprintln(w, "all migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withMigrator(cmd, func(ctx context.Context, m *persistence.Migrator, w io.Writer) error {
					if err := m.Down(ctx); err != nil {
						return err
					}
					fmt.Fprintln(w, "last migration rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migration versions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withMigrator(cmd, func(ctx context.Context, m *persistence.Migrator, w io.Writer) error {
					applied, err := m.Applied(ctx)
					if err != nil {
						return err
					}
					out := &OutputFormatter{Format: opts.Format, Writer: w}
					return out.Success(applied, func(w io.Writer) {
						if len(applied) == 0 {
							fmt.Fprintln(w, "no migrations applied")
						}
						for _, v := range applied {
							fmt.Fprintln(w, v)
						}
					})
				})
			},
		},
	)
	return cmd
}

func (o *MigrateOptions) source() (driver, dsn string, err error) {
	cfg, err := config.Load()
	if err != nil {
		return "", "", err
	}
	if o.Driver != "" {
		cfg.DBDriver = o.Driver
	}
	if o.DSN != "" {
		cfg.DBDSN = o.DSN
	}
	if err := cfg.Validate(); err != nil {
		return "", "", err
	}
	return cfg.DBDriver, cfg.DataSource(), nil
}

func (o *MigrateOptions) withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *persistence.Migrator, w io.Writer) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	defer cancel()

	driver, dsn, err := o.source()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid database settings", err)
	}
	db, dialect, err := persistence.Open(ctx, driver, dsn)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	logger := observability.NewLogger("migrate").Output(os.Stderr)
	m := persistence.NewMigrator(db, dialect, migrations.FS, logger)
	if err := fn(ctx, m, cmd.OutOrStdout()); err != nil {
		return WrapExitError(ExitFailure, "migration failed", err)
	}
	return nil
}
