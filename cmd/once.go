package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type onceOptions struct {
	service string
	dryRun  bool
}

// newOnceCmd creates the 'once' subcommand: a single cycle, ignoring active
// hours, with a results table on stdout.
func newOnceCmd(opts *globalOptions) *cobra.Command {
	o := &onceOptions{}
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single check and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, o)
		},
	}
	cmd.Flags().StringVar(&o.service, "service", "", "check only this service slug (e.g. mtn)")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "scrape only, never send alerts")
	return cmd
}

func runOnce(cmd *cobra.Command, opts *globalOptions, o *onceOptions) error {
	var services []string
	if o.service != "" {
		slug := strings.ToLower(strings.TrimSpace(o.service))
		if !validSlug(slug) {
			return fmt.Errorf("service %q must match [a-z0-9-]+", o.service)
		}
		services = []string{slug}
	}

	overrides := opts.overrides(cmd)
	if o.dryRun {
		overrides["monitor.dry_run"] = true
	}
	a, err := loadApp(opts, overrides, appNeeds{scraping: true, notifiers: !o.dryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.scheduler(services)
	if err != nil {
		return err
	}
	a.logger.Info("running single check")
	report := sched.PollOnce(cmd.Context(), services)
	renderCycle(cmd.OutOrStdout(), report)

	if !report.AnySuccess {
		return errors.New("no service was scraped successfully")
	}
	return nil
}
