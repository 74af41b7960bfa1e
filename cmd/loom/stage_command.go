package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/client"
	"loom/internal/store"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Request lifecycle stages for accounts",
	}
	cmd.AddCommand(newStageRequestCommand(ctx))
	return cmd
}

func newStageRequestCommand(ctx *commandContext) *cobra.Command {
	var prompt string
	var count int

	cmd := &cobra.Command{
		Use:   "request <account-id> <stage>",
		Short: "Queue a stage for an account",
		Long: "Queue a stage for an account. Valid stages: " +
			jobTypeList() + ". The prompt flag only applies to generate-content.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			jobType, ok := store.ParseJobType(args[1])
			if !ok {
				return fmt.Errorf("unknown stage %q; valid stages: %s", args[1], jobTypeList())
			}

			var payload json.RawMessage
			if strings.TrimSpace(prompt) != "" {
				if jobType != store.JobGenerateContent {
					return fmt.Errorf("--prompt only applies to %s", store.JobGenerateContent)
				}
				encoded, err := json.Marshal(map[string]any{
					"prompt": prompt,
					"count":  count,
				})
				if err != nil {
					return fmt.Errorf("encode payload: %w", err)
				}
				payload = encoded
			}

			return ctx.withClient(func(c *client.Client) error {
				job, err := c.RequestStage(cmd.Context(), id, string(jobType), payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %d queued (%s, account %d)\n",
					job.ID, job.Type, job.AccountID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Generation prompt (generate-content only)")
	cmd.Flags().IntVar(&count, "count", 0, "Items to generate; 0 uses the configured default")
	return cmd
}

func jobTypeList() string {
	types := store.AllJobTypes()
	names := make([]string, 0, len(types))
	for _, jobType := range types {
		names = append(names, string(jobType))
	}
	return strings.Join(names, ", ")
}
