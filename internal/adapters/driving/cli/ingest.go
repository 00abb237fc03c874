package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

type ingestOptions struct {
	documentType string
	manufacturer string
	products     []string
	language     string
	priority     int
	concurrency  int
	process      bool
	timeout      time.Duration
	pollInterval time.Duration
}

// ingestOutcome is the result of admitting one file
type ingestOutcome struct {
	Path       string
	DocumentID string
	IsNew      bool
	Skipped    string
	Err        error
}

func newIngestCommand(load Loader) *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Admit files or directories",
		Long: `Admits every file under the given paths. Identical files resolve to
the document already stored. With --process an in-process worker runs until
every admitted document has finished.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				return runIngest(ctx, cmd, app, args, opts)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.documentType, "type", "t", "", "document type hint")
	f.StringVarP(&opts.manufacturer, "manufacturer", "m", "", "manufacturer")
	f.StringSliceVarP(&opts.products, "product", "p", nil, "product name (repeatable)")
	f.StringVar(&opts.language, "language", "", "ISO language code")
	f.IntVar(&opts.priority, "priority", 0, "task priority, 1 is served first")
	f.IntVarP(&opts.concurrency, "concurrency", "c", 4, "files admitted in parallel")
	f.BoolVar(&opts.process, "process", false, "process the documents before exiting")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "how long --process waits")
	f.DurationVar(&opts.pollInterval, "poll", time.Second, "status poll interval for --process")
	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, app *App, paths []string, opts *ingestOptions) error {
	if app.Admission == nil {
		return errors.New("admission service not configured")
	}
	files, err := collectFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no files found")
	}

	outcomes := admitFiles(ctx, app, files, opts)

	var ids []string
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
			cmd.Printf("  error    %s: %v\n", o.Path, o.Err)
		case o.Skipped != "":
			cmd.Printf("  skipped  %s (%s)\n", o.Path, o.Skipped)
		case o.IsNew:
			ids = append(ids, o.DocumentID)
			cmd.Printf("  new      %s -> %s\n", o.Path, o.DocumentID)
		default:
			cmd.Printf("  exists   %s -> %s\n", o.Path, o.DocumentID)
		}
	}
	cmd.Printf("Admitted %d new document(s), %d error(s).\n", len(ids), failed)

	if opts.process && len(ids) > 0 {
		if err := processDocuments(ctx, cmd, app, ids, opts); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) failed", failed)
	}
	return nil
}

// collectFiles expands directories into their regular files, sorted.
func collectFiles(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range paths {
		err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			if !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// admitFiles admits files with bounded parallelism. Outcomes keep the
// order of files.
func admitFiles(ctx context.Context, app *App, files []string, opts *ingestOptions) []ingestOutcome {
	outcomes := make([]ingestOutcome, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.concurrency, 1))

	for i, path := range files {
		g.Go(func() error {
			outcomes[i] = admitFile(ctx, app, path, opts)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func admitFile(ctx context.Context, app *App, path string, opts *ingestOptions) ingestOutcome {
	out := ingestOutcome{Path: path}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		out.Err = err
		return out
	}
	if app.Supports != nil && !app.Supports(mtype.String()) {
		out.Skipped = "unsupported type " + mtype.String()
		return out
	}

	data, err := os.ReadFile(path)
	if err != nil {
		out.Err = err
		return out
	}
	result, err := app.Admission.Admit(ctx, data, driving.AdmissionHint{
		Filename:     filepath.Base(path),
		MimeType:     mtype.String(),
		DocumentType: opts.documentType,
		Manufacturer: opts.manufacturer,
		Products:     opts.products,
		Language:     opts.language,
		Priority:     opts.priority,
	})
	if err != nil {
		out.Err = err
		return out
	}
	out.DocumentID = result.DocumentID
	out.IsNew = result.IsNew
	return out
}

// processDocuments runs a worker until every document is terminal.
func processDocuments(ctx context.Context, cmd *cobra.Command, app *App, ids []string, opts *ingestOptions) error {
	if app.RunWorker == nil || app.Documents == nil {
		return errors.New("worker not configured")
	}
	if app.Migrate != nil {
		if err := app.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerErr := make(chan error, 1)
	go func() { workerErr <- app.RunWorker(workerCtx) }()
	defer func() {
		stopWorker()
		<-workerErr
	}()

	deadline := time.NewTimer(opts.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.pollInterval)
	defer ticker.Stop()

	pending := append([]string(nil), ids...)
	for {
		var still []string
		for _, id := range pending {
			doc, err := app.Documents.Get(ctx, id)
			if err != nil {
				return err
			}
			if doc.Status.IsTerminal() {
				cmd.Printf("  %-9s %s (%s)\n", doc.Status, id, doc.Filename)
				if doc.Status == domain.DocumentStatusFailed && doc.Error != "" {
					cmd.Printf("            %s\n", doc.Error)
				}
				continue
			}
			still = append(still, id)
		}
		pending = still
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-workerErr:
			workerErr <- err
			if err == nil {
				err = errors.New("exited early")
			}
			return fmt.Errorf("worker stopped: %w", err)
		case <-deadline.C:
			return fmt.Errorf("%d document(s) still processing after %s", len(pending), opts.timeout)
		case <-ticker.C:
		}
	}
}
