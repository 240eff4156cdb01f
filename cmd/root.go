// Package cmd defines and implements the CLI commands for the ddbot executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	debugDump  bool
	logLevel   string
}

// overrides maps set flags onto config keys so they win over env and file.
func (o *globalOptions) overrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	if o.debugDump {
		out["browser.debug_dump"] = true
	}
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		out["log.level"] = o.logLevel
	}
	return out
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "ddbot",
		Short: "Watches DownDetector and alerts when a service crosses its report threshold.",
		Long: `ddbot polls DownDetector status pages for a list of services, falls back to
an automated browser when the site serves a challenge, and sends one alert per
cooldown window over WhatsApp, Telegram or webhooks when reports spike.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolVar(&opts.debugDump, "debug-dump", false,
		"save page HTML, screenshot, text and properties JSON from the browser tier")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newRunCmd(opts),
		newOnceCmd(opts),
		newHistoryCmd(opts),
		newTestNotifyCmd(opts),
	)
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddbot: %v\n", err)
		os.Exit(1)
	}
}
