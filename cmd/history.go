package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newHistoryCmd creates the 'history' subcommand listing recent alerts.
func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List alerts sent recently",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			overrides := opts.overrides(cmd)
			overrides["monitor.dry_run"] = true
			a, err := loadApp(opts, overrides, appNeeds{})
			if err != nil {
				return err
			}
			defer a.Close()

			records := a.history.Recent(time.Duration(hours * float64(time.Hour)))
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No alerts in the last %g hours.\n", hours)
				return nil
			}
			renderHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 24, "look-back window in hours")
	return cmd
}
