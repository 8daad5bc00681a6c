// Package cmd defines and implements the CLI commands for the catalog-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/runner"
)

// ErrRunFailed is returned by the crawl command when the run aborted.
var ErrRunFailed = errors.New("crawl run failed")

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl in the foreground",
		Long: `Runs one crawl and blocks until it finishes. SIGINT or SIGTERM cancels the
run without writing output; SIGUSR1 toggles between paused and running.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopCh)
	toggleCh := make(chan os.Signal, 1)
	signal.Notify(toggleCh, syscall.SIGUSR1)
	defer signal.Stop(toggleCh)

	st, err := driveRun(cmd.Context(), appInstance.Run(), stopCh, toggleCh, logger)
	if err != nil {
		return err
	}
	switch st.Outcome {
	case runner.OutcomeFailed:
		if st.ErrorReport != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "error report: %s\n", st.ErrorReport)
		}
		return fmt.Errorf("%w: %s", ErrRunFailed, st.Error)
	case runner.OutcomeCancelled:
		fmt.Fprintln(cmd.OutOrStdout(), "crawl cancelled, no output written")
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s (elapsed %s)\n",
			st.Counters.Records, st.Output.Table, st.Elapsed)
	}
	return nil
}

// driveRun starts a run and relays signals to it until it finishes.
func driveRun(
	ctx context.Context,
	ctrl Controller,
	stopCh, toggleCh <-chan os.Signal,
	logger *zap.Logger,
) (runner.Status, error) {
	if _, err := ctrl.Start(); err != nil {
		return runner.Status{}, fmt.Errorf("start run: %w", err)
	}

	type waitResult struct {
		st  runner.Status
		err error
	}
	done := make(chan waitResult, 1)
	go func() {
		st, err := ctrl.Wait(context.Background())
		done <- waitResult{st, err}
	}()

	cancelled := false
	cancel := func(reason string) {
		if cancelled {
			return
		}
		cancelled = true
		logger.Warn("cancelling crawl", zap.String("reason", reason))
		go func() {
			if _, err := ctrl.Cancel(context.Background()); err != nil && !errors.Is(err, runner.ErrNoActiveRun) {
				logger.Warn("cancel failed", zap.Error(err))
			}
		}()
	}

	ctxDone := ctx.Done()
	for {
		select {
		case res := <-done:
			return res.st, res.err
		case sig := <-stopCh:
			cancel(sig.String())
		case <-ctxDone:
			ctxDone = nil
			cancel(ctx.Err().Error())
		case <-toggleCh:
			st, err := ctrl.TogglePause()
			if err != nil {
				logger.Warn("toggle pause ignored", zap.Error(err))
				continue
			}
			logger.Info("run state toggled", zap.String("state", st.State))
		}
	}
}
