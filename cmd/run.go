package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/api"
)

// newRunCmd creates the 'run' subcommand, the long-running poll loop.
func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the configured services until interrupted",
		Long: `Runs the poll loop: every interval each service is scraped in turn with a
random pause between them, alerts are sent when the report count reaches the
threshold and the service is out of cooldown, and the wait grows while every
scrape keeps failing. Polls outside the active hours are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, opts)
		},
	}
}

func runMonitor(cmd *cobra.Command, opts *globalOptions) error {
	a, err := loadApp(opts, opts.overrides(cmd), appNeeds{scraping: true, notifiers: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.scheduler(nil)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	var srv *http.Server
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           api.NewServer(sched, a.history, a.logger.Named("api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("ops server started", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server error", zap.Error(err))
				stop()
			}
		}()
	}

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("run monitor: %w", err)
	}
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown error", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}
