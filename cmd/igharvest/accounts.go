package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"igharvest/internal/accounts"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Show the account rotation/health ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := accounts.NewLedger(appConfig.Accounts, appConfig.State.File, appConfig.Browser.SessionRoot)
		if err != nil {
			return err
		}

		status := ledger.Status()
		fmt.Printf("accounts: %d total, %d active, %d inactive\n\n", status.Total, status.Active, status.Inactive)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tACTIVE\tUSES\tFAILS\tLAST REASON")
		for _, acc := range status.Accounts {
			fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%s\n",
				acc.Username, acc.IsActive, acc.UsageCount, acc.ConsecutiveFailures, acc.FailureReason)
		}
		return w.Flush()
	},
}
