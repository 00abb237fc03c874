package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

func newTasksCommand(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the task queue",
	}
	cmd.AddCommand(
		newTasksListCommand(load),
		newTasksGetCommand(load),
		newTasksStatsCommand(load),
	)
	return cmd
}

func newTasksListCommand(load Loader) *cobra.Command {
	var (
		filter   driven.TaskFilter
		status   string
		taskType string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Long:  "Lists queue tasks. Use --status failed to see the dead letters.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = domain.TaskStatus(status)
			if taskType != "" {
				filter.Type = domain.TaskType(taskType)
				if !filter.Type.IsValid() {
					return fmt.Errorf("%w: unknown task type %q", domain.ErrInvalidInput, taskType)
				}
			}
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				tasks, err := app.Tasks.List(ctx, filter)
				if err != nil {
					return fmt.Errorf("failed to list tasks: %w", err)
				}
				if asJSON {
					return printJSON(cmd, tasks)
				}
				if len(tasks) == 0 {
					cmd.Println("No tasks found.")
					return nil
				}
				tw := newTable(cmd, "ID", "TYPE", "DOCUMENT", "TARGET", "STATUS", "ATTEMPTS", "ERROR")
				for _, t := range tasks {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
						t.ID, t.Type, t.DocumentID, t.TargetID, t.Status, t.Attempts, t.MaxAttempts, snippet(t.Error, 60))
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "filter by status (pending, processing, retry, completed, failed)")
	f.StringVarP(&taskType, "type", "t", "", "filter by stage")
	f.StringVarP(&filter.DocumentID, "document", "d", "", "filter by document id")
	f.IntVarP(&filter.Limit, "limit", "n", 50, "maximum number of tasks")
	f.IntVar(&filter.Offset, "offset", 0, "number of tasks to skip")
	f.BoolVar(&asJSON, "json", false, "output tasks as JSON")
	return cmd
}

func newTasksGetCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				task, err := app.Tasks.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get task: %w", err)
				}
				return printJSON(cmd, task)
			})
		},
	}
}

func newTasksStatsCommand(load Loader) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				stats, err := app.Tasks.Stats(ctx)
				if err != nil {
					return fmt.Errorf("failed to get stats: %w", err)
				}
				if asJSON {
					return printJSON(cmd, stats)
				}
				cmd.Printf("Pending:     %d\n", stats.PendingCount)
				cmd.Printf("Processing:  %d\n", stats.ProcessingCount)
				cmd.Printf("Retry:       %d\n", stats.RetryCount)
				cmd.Printf("Completed:   %d\n", stats.CompletedCount)
				cmd.Printf("Failed:      %d\n", stats.FailedCount)
				if stats.OldestPendingAge > 0 {
					cmd.Printf("Oldest pending: %s\n", time.Duration(stats.OldestPendingAge)*time.Second)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output statistics as JSON")
	return cmd
}

func newMaintenanceCommand(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Queue maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one maintenance sweep",
		Long: `Promotes due retries, reclaims expired leases, dead-letters exhausted
tasks, advances documents whose stage has settled and purges old completed
tasks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, app *App) error {
				if app.Maintenance == nil {
					return fmt.Errorf("maintenance not configured")
				}
				report := app.Maintenance.RunOnce(ctx)
				cmd.Printf("Promoted:      %d\n", report.Promoted)
				cmd.Printf("Reclaimed:     %d\n", report.Reclaimed)
				cmd.Printf("Dead-lettered: %d\n", report.DeadLettered)
				cmd.Printf("Advanced:      %d\n", report.Advanced)
				cmd.Printf("Purged:        %d\n", report.Purged)
				return nil
			})
		},
	})
	return cmd
}
