package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

func newDocumentsCommand(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Inspect and manage admitted documents",
	}
	cmd.AddCommand(
		newDocumentsListCommand(load),
		newDocumentsStatusCommand(load),
		newDocumentsCancelCommand(load),
		newDocumentsReprocessCommand(load),
		newDocumentsSupersedeCommand(load),
	)
	return cmd
}

func newDocumentsListCommand(load Loader) *cobra.Command {
	var (
		filter  driven.DocumentFilter
		status  string
		docType string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				filter.Status = domain.DocumentStatus(status)
			}
			if docType != "" {
				t, err := domain.ParseDocumentType(docType)
				if err != nil {
					return err
				}
				filter.Type = t
			}
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				docs, err := app.Documents.List(ctx, filter)
				if err != nil {
					return fmt.Errorf("failed to list documents: %w", err)
				}
				if asJSON {
					return printJSON(cmd, docs)
				}
				if len(docs) == 0 {
					cmd.Println("No documents found.")
					return nil
				}
				tw := newTable(cmd, "ID", "FILENAME", "TYPE", "MANUFACTURER", "STATUS", "PROGRESS", "PAGES")
				for _, d := range docs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%%\t%d\n",
						d.ID, d.Filename, d.Type, d.Manufacturer, d.Status, d.Progress, d.PageCount)
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "filter by status (pending, processing, completed, failed)")
	f.StringVarP(&docType, "type", "t", "", "filter by document type")
	f.StringVarP(&filter.Manufacturer, "manufacturer", "m", "", "filter by manufacturer")
	f.IntVarP(&filter.Limit, "limit", "n", 50, "maximum number of documents")
	f.IntVar(&filter.Offset, "offset", 0, "number of documents to skip")
	f.BoolVar(&asJSON, "json", false, "output documents as JSON")
	return cmd
}

func newDocumentsStatusCommand(load Loader) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show processing progress of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				report, err := app.Documents.Status(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get status: %w", err)
				}
				if asJSON {
					return printJSON(cmd, report)
				}
				outputStatusReport(cmd, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the report as JSON")
	return cmd
}

func outputStatusReport(cmd *cobra.Command, report *domain.DocumentStatusReport) {
	d := report.Document
	cmd.Printf("Document:  %s (%s)\n", d.ID, d.Filename)
	cmd.Printf("Status:    %s, %d%% (pass %d)\n", d.Status, d.Progress, d.Pass)
	if d.Error != "" {
		cmd.Printf("Error:     %s\n", d.Error)
	}
	if d.SupersededBy != "" {
		cmd.Printf("Superseded by: %s\n", d.SupersededBy)
	}
	cmd.Printf("Chunks:    %d (%d embedded, %d failed)\n\n", report.ChunkCount, report.EmbeddedChunks, report.FailedChunks)

	tw := newTable(cmd, "STAGE", "PENDING", "PROCESSING", "RETRY", "COMPLETED", "FAILED")
	for _, stage := range domain.PipelineStages {
		c := report.Tasks[stage]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", stage, c.Pending, c.Processing, c.Retry, c.Completed, c.Failed)
	}
	_ = tw.Flush()
}

func newDocumentsCancelCommand(load Loader) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel processing of a document",
		Long:  "Marks the document failed and dead-letters its outstanding tasks.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				n, err := app.Documents.Cancel(ctx, args[0], reason)
				if err != nil {
					return fmt.Errorf("failed to cancel document: %w", err)
				}
				cmd.Printf("Cancelled %s (%d tasks).\n", args[0], n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "reason recorded on the document")
	return cmd
}

func newDocumentsReprocessCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess ID",
		Short: "Run a document through the pipeline again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				doc, err := app.Documents.Reprocess(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to reprocess document: %w", err)
				}
				cmd.Printf("Reprocessing %s (pass %d).\n", doc.ID, doc.Pass)
				return nil
			})
		},
	}
}

func newDocumentsSupersedeCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "supersede NEW_ID OLD_ID",
		Short: "Mark a document as replaced by a newer revision",
		Long:  "Superseded documents stay stored but are excluded from search.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				if err := app.Documents.Supersede(ctx, args[0], args[1]); err != nil {
					return fmt.Errorf("failed to supersede document: %w", err)
				}
				cmd.Printf("%s now supersedes %s.\n", args[0], args[1])
				return nil
			})
		},
	}
}
