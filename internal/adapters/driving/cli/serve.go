package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(use, short string, load Loader, run func(ctx context.Context, app *App) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				if app.Migrate != nil {
					if err := app.Migrate(ctx); err != nil {
						return fmt.Errorf("migrate: %w", err)
					}
				}
				return run(ctx, app)
			})
		},
	}
}

func serveAPI(ctx context.Context, app *App) error {
	if app.ServeAPI == nil {
		return errors.New("api not configured")
	}
	return app.ServeAPI(ctx)
}

func serveWorker(ctx context.Context, app *App) error {
	if app.RunWorker == nil {
		return errors.New("worker not configured")
	}
	return app.RunWorker(ctx)
}

// serveAll runs both until either fails or ctx ends.
func serveAll(ctx context.Context, app *App) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveWorker(ctx, app) })
	g.Go(func() error { return serveAPI(ctx, app) })
	return g.Wait()
}

func newMigrateCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				if app.Migrate == nil {
					return errors.New("database not configured")
				}
				if err := app.Migrate(ctx); err != nil {
					return err
				}
				cmd.Println("Schema is up to date.")
				return nil
			})
		},
	}
}
