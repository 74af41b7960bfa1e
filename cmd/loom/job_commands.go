package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/client"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and manage ledger jobs",
	}
	cmd.AddCommand(newJobListCommand(ctx))
	cmd.AddCommand(newJobCancelCommand(ctx))
	cmd.AddCommand(newJobRetryCommand(ctx))
	cmd.AddCommand(newJobClearCommand(ctx))
	return cmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				jobs, err := c.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.JobListResponse{Jobs: jobs})
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no jobs found")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(jobs))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (pending, processing, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit jobs as JSON")
	return cmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.CancelJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %d cancelled\n", job.ID)
				return nil
			})
		},
	}
	return cmd
}

func newJobRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Reset failed jobs back to pending; no arguments resets all",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withClient(func(c *client.Client) error {
				affected, err := c.RetryJobs(cmd.Context(), ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) reset to pending\n", affected)
				return nil
			})
		},
	}
	return cmd
}

func newJobClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove terminal jobs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted && clearFailed {
				return fmt.Errorf("specify only one of --completed or --failed")
			}
			var statuses []string
			switch {
			case clearCompleted:
				statuses = []string{"completed"}
			case clearFailed:
				statuses = []string{"failed"}
			}
			return ctx.withClient(func(c *client.Client) error {
				removed, err := c.ClearJobs(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) removed\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed jobs")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed jobs")
	return cmd
}

func renderJobsTable(jobs []api.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range api.SortJobsNewestFirst(jobs) {
		progress := fmt.Sprintf("%.0f%%", job.Progress.Percent)
		retries := fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			strconv.FormatInt(job.AccountID, 10),
			api.DisplayLabel(job.Type),
			api.DisplayLabel(job.Status),
			progress,
			retries,
			job.ErrorMessage,
		})
	}
	return renderTable(
		[]string{"ID", "Account", "Type", "Status", "Progress", "Retries", "Error"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
