// Package cli is the command line surface of sercha-ingest. Commands run
// against an App that the binary builds on demand, so commands that fail
// argument validation never touch the database.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
)

// MaintenanceRunner runs one queue maintenance sweep
type MaintenanceRunner interface {
	RunOnce(ctx context.Context) services.MaintenanceReport
}

// App is the wired application the commands operate on
type App struct {
	Admission   driving.AdmissionService
	Documents   driving.DocumentService
	Search      driving.SearchService
	Tasks       driving.TaskService
	Maintenance MaintenanceRunner

	// Supports reports whether a MIME type can be normalised. Nil accepts
	// everything.
	Supports func(mimeType string) bool

	// Migrate applies the database schema
	Migrate func(ctx context.Context) error

	// ServeAPI and RunWorker block until ctx is cancelled
	ServeAPI  func(ctx context.Context) error
	RunWorker func(ctx context.Context) error

	// Close releases every connection held by the app
	Close func()
}

// Loader builds the App. It is called at most once per command.
type Loader func(ctx context.Context) (*App, error)

// NewRootCommand assembles the command tree.
func NewRootCommand(version string, load Loader) *cobra.Command {
	root := &cobra.Command{
		Use:   "sercha-ingest",
		Short: "Ingest technical manuals and search them",
		Long: `sercha-ingest admits manuals, bulletins and error code databases,
runs them through extraction, chunking, signal extraction, embedding and
indexing, and serves hybrid search over the result.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand("api", "Run the HTTP API", load, serveAPI),
		newServeCommand("worker", "Run the pipeline worker", load, serveWorker),
		newServeCommand("all", "Run the HTTP API and the worker", load, serveAll),
		newMigrateCommand(load),
		newIngestCommand(load),
		newSearchCommand(load),
		newLookupCommand(load),
		newDocumentsCommand(load),
		newTasksCommand(load),
		newMaintenanceCommand(load),
	)
	return root
}

// withApp loads the App for the duration of fn.
func withApp(cmd *cobra.Command, load Loader, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := load(ctx)
	if err != nil {
		return err
	}
	if app == nil {
		return errors.New("application not configured")
	}
	if app.Close != nil {
		defer app.Close()
	}
	return fn(ctx, app)
}
