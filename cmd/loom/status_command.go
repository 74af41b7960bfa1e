package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/client"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				status, err := c.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				renderStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit status as JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, status *api.DaemonStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	daemonKind := statusError
	daemonMsg := "not running"
	if status.Running {
		daemonKind = statusOK
		daemonMsg = fmt.Sprintf("pid %d", status.PID)
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", daemonKind, daemonMsg, colorize))

	pipelineKind := statusWarn
	pipelineMsg := "stopped"
	if status.Pipeline.Running {
		pipelineKind = statusOK
		pipelineMsg = "running"
	}
	if status.Pipeline.LastError != "" {
		pipelineKind = statusWarn
		pipelineMsg += "; last error: " + status.Pipeline.LastError
	}
	fmt.Fprintln(out, renderStatusLine("Pipeline", pipelineKind, pipelineMsg, colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))

	accountsKind := statusOK
	accountsMsg := strconv.Itoa(status.TotalAccounts)
	if status.BlockedAccounts > 0 || status.ErrorAccounts > 0 {
		accountsKind = statusWarn
		accountsMsg = fmt.Sprintf("%d (%d blocked, %d error)",
			status.TotalAccounts, status.BlockedAccounts, status.ErrorAccounts)
	}
	fmt.Fprintln(out, renderStatusLine("Accounts", accountsKind, accountsMsg, colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Jobs", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderJobStats(status.Pipeline.JobStats))

	if len(status.Dependencies) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Dependencies", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, line := range dependencyLines(status.Dependencies, colorize) {
			fmt.Fprintln(out, line)
		}
	}
}

func dependencyLines(dependencies []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(dependencies))
	for _, dep := range dependencies {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func renderJobStats(stats map[string]int) string {
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{api.DisplayLabel(key), strconv.Itoa(stats[key])})
	}
	if len(rows) == 0 {
		return statusIndent + "no jobs recorded"
	}
	return renderTable(
		[]string{"Status", "Count"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
