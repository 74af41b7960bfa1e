package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/client"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the pipeline event feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				// First page is a plain fetch so a quiet daemon still
				// returns immediately when not following.
				page, err := c.Events(cmd.Context(), 0, limit, false)
				if err != nil {
					return err
				}
				printEvents(cmd, page.Events, jsonOut)
				if !follow {
					return nil
				}

				cursor := page.Next
				for {
					page, err = c.Events(cmd.Context(), cursor, limit, true)
					if err != nil {
						return err
					}
					printEvents(cmd, page.Events, jsonOut)
					cursor = page.Next
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep the feed open and stream new events")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events per fetch")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit events as JSON")
	return cmd
}

func printEvents(cmd *cobra.Command, eventList []api.Event, jsonOut bool) {
	out := cmd.OutOrStdout()
	for _, evt := range eventList {
		if jsonOut {
			_ = writeJSON(cmd, evt)
			continue
		}
		line := fmt.Sprintf("%s  %-16s", evt.Timestamp, evt.Type)
		if evt.AccountID != 0 {
			line += fmt.Sprintf("  account=%d", evt.AccountID)
		}
		if evt.JobID != 0 {
			line += fmt.Sprintf("  job=%d", evt.JobID)
		}
		if evt.Progress > 0 {
			line += fmt.Sprintf("  %.0f%%", evt.Progress)
		}
		if evt.Message != "" {
			line += "  " + evt.Message
		}
		fmt.Fprintln(out, line)
	}
}
