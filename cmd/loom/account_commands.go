package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/client"
)

func newAccountCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage pipeline accounts",
	}
	cmd.AddCommand(newAccountAddCommand(ctx))
	cmd.AddCommand(newAccountListCommand(ctx))
	cmd.AddCommand(newAccountShowCommand(ctx))
	return cmd
}

func newAccountAddCommand(ctx *commandContext) *cobra.Command {
	var displayName string
	var credentialRef string

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Register a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				account, err := c.CreateAccount(cmd.Context(), api.CreateAccountRequest{
					Email:         args[0],
					DisplayName:   displayName,
					CredentialRef: credentialRef,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %d registered (%s)\n", account.ID, account.Email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&displayName, "name", "", "Display name for listings")
	cmd.Flags().StringVar(&credentialRef, "credential-ref", "", "Reference to externally stored credentials")
	return cmd
}

func newAccountListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts and their lifecycle position",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				accounts, err := c.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.AccountListResponse{Accounts: accounts})
				}
				if len(accounts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no accounts registered")
					return nil
				}
				rows := make([][]string, 0, len(accounts))
				for _, account := range api.SortAccountsByEmail(accounts) {
					rows = append(rows, []string{
						strconv.FormatInt(account.ID, 10),
						account.Email,
						api.DisplayLabel(account.Stage),
						api.DisplayLabel(account.Status),
						yesNo(account.HasSession),
						account.LastError,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Email", "Stage", "Status", "Session", "Last Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit accounts as JSON")
	return cmd
}

func newAccountShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show one account with its recent jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			return ctx.withClient(func(c *client.Client) error {
				account, err := c.Account(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.AccountResponse{Account: *account})
				}
				renderAccount(cmd, account)

				jobs, err := c.ListJobs(cmd.Context())
				if err != nil {
					return err
				}
				var owned []api.Job
				for _, job := range jobs {
					if job.AccountID == account.ID {
						owned = append(owned, job)
					}
				}
				if len(owned) > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
					fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(owned))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the account as JSON")
	return cmd
}

func renderAccount(cmd *cobra.Command, account *api.Account) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	title := firstNonEmpty(account.DisplayName, account.Email)
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, line)
	}

	statusText := api.DisplayLabel(account.Status)
	kind := statusOK
	switch account.Status {
	case "blocked":
		kind = statusError
	case "error":
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Stage", statusInfo, api.DisplayLabel(account.Stage), colorize))
	fmt.Fprintln(out, renderStatusLine("Status", kind, statusText, colorize))
	fmt.Fprintln(out, renderStatusLine("Session", statusInfo, yesNo(account.HasSession), colorize))
	if account.RemoteProject != "" {
		fmt.Fprintln(out, renderStatusLine("Project", statusInfo, account.RemoteProject, colorize))
	}
	if account.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last Error", statusError, account.LastError, colorize))
	}
	for jobType, at := range account.Requests {
		fmt.Fprintln(out, renderStatusLine("Requested", statusInfo,
			fmt.Sprintf("%s at %s", api.DisplayLabel(jobType), at), colorize))
	}
}
