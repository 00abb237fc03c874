package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

type searchOptions struct {
	limit         int
	manufacturers []string
	products      []string
	types         []string
	json          bool
}

func newSearchCommand(load Loader) *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search processed documents",
		Long: `Performs hybrid search over completed documents. Queries that contain an
error code match code entries exactly or fuzzily; the rest is ranked by full
text and, when an embedding provider is configured, vector similarity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				return runSearch(ctx, cmd, app, args[0], opts)
			})
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.limit, "limit", "n", 10, "maximum number of results")
	f.StringSliceVarP(&opts.manufacturers, "manufacturer", "m", nil, "restrict to manufacturer (repeatable)")
	f.StringSliceVarP(&opts.products, "product", "p", nil, "restrict to product (repeatable)")
	f.StringSliceVarP(&opts.types, "type", "t", nil, "restrict to document type (repeatable)")
	f.BoolVar(&opts.json, "json", false, "output results as JSON")
	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, app *App, query string, opts *searchOptions) error {
	if app.Search == nil {
		return errors.New("search service not configured")
	}

	searchOpts := domain.DefaultSearchOptions()
	searchOpts.MaxResults = opts.limit
	searchOpts.Filters.Manufacturers = opts.manufacturers
	searchOpts.Filters.Products = opts.products
	for _, t := range opts.types {
		docType, err := domain.ParseDocumentType(t)
		if err != nil {
			return err
		}
		searchOpts.Filters.DocumentTypes = append(searchOpts.Filters.DocumentTypes, docType)
	}

	resp, err := app.Search.Search(ctx, query, searchOpts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if opts.json {
		return printJSON(cmd, resp)
	}
	return outputSearchTable(cmd, resp)
}

func outputSearchTable(cmd *cobra.Command, resp *domain.SearchResponse) error {
	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Printf("Results for %q (normalized %q, vector=%t):\n\n", resp.Query, resp.NormalizedQuery, resp.VectorUsed)
	for i, r := range resp.Results {
		title := ""
		if r.Document != nil {
			title = r.Document.Filename
			if title == "" {
				title = r.Document.ID
			}
		}

		switch r.Kind {
		case domain.ResultKindErrorCode:
			cmd.Printf("  [%d] %s %s (%.2f)\n", i+1, r.Entry.Manufacturer, r.Entry.Code, r.Score)
			cmd.Printf("      %s\n", snippet(r.Entry.Description, 160))
			if r.Entry.Remediation != "" {
				cmd.Printf("      Fix: %s\n", snippet(r.Entry.Remediation, 160))
			}
		default:
			pages := ""
			if r.Chunk.StartPage > 0 {
				pages = fmt.Sprintf(" p.%d", r.Chunk.StartPage)
				if r.Chunk.EndPage > r.Chunk.StartPage {
					pages = fmt.Sprintf(" pp.%d-%d", r.Chunk.StartPage, r.Chunk.EndPage)
				}
			}
			cmd.Printf("  [%d] %s%s (%.2f)\n", i+1, title, pages, r.Score)
			cmd.Printf("      %s\n", snippet(r.Chunk.Text, 160))
		}
		if r.MatchedCode != "" {
			cmd.Printf("      Matched: %s\n", r.MatchedCode)
		}
		cmd.Println()
	}
	return nil
}

func newLookupCommand(load Loader) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lookup MANUFACTURER CODE",
		Short: "Look up an error code",
		Long: `Returns the error code entries recorded for a manufacturer. The code is
normalized first, so "E-07", "e07" and "E 07" find the same entry.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				if app.Search == nil {
					return errors.New("search service not configured")
				}
				entries, err := app.Search.LookupCode(ctx, args[0], args[1])
				if err != nil {
					return fmt.Errorf("lookup failed: %w", err)
				}
				if asJSON {
					return printJSON(cmd, entries)
				}
				return outputEntries(cmd, entries)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output entries as JSON")
	return cmd
}

func outputEntries(cmd *cobra.Command, entries []*domain.ErrorCodeEntry) error {
	if len(entries) == 0 {
		cmd.Println("No entries found.")
		return nil
	}
	for _, e := range entries {
		cmd.Printf("%s %s (severity %d)\n", e.Manufacturer, e.Code, e.Severity)
		cmd.Printf("  %s\n", e.Description)
		if e.Remediation != "" {
			cmd.Printf("  Fix: %s\n", e.Remediation)
		}
		if len(e.AlternativeForms) > 0 {
			cmd.Printf("  Also written: %s\n", strings.Join(e.AlternativeForms, ", "))
		}
		cmd.Printf("  Source: %s\n", e.SourceDocumentID)
	}
	return nil
}
