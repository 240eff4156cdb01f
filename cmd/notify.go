package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newTestNotifyCmd creates the 'test-notify' subcommand, which sends a test
// message through every configured channel.
func newTestNotifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test message through each notification channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts, opts.overrides(cmd), appNeeds{notifiers: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if len(a.dispatcher.Channels()) == 0 {
				return errors.New("no notification channel configured")
			}
			results := a.dispatcher.SendTest(cmd.Context())
			renderTestResults(cmd.OutOrStdout(), results)

			var failed []string
			for _, r := range results {
				if len(r.Delivered) < r.Targets {
					failed = append(failed, r.Channel)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("test message not delivered everywhere: %v", failed)
			}
			return nil
		},
	}
}
