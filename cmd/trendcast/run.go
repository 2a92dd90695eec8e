package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"trendcast/internal/config"
	"trendcast/internal/domain"
	"trendcast/internal/logging"
	"trendcast/internal/observability"
)

var (
	runMode   string
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one broadcast now and exit",
	Long: `Fetch trending tokens, render and upload the image, resolve the audience and
send the message once. Exits nonzero on configuration or resolution errors;
individual send failures are reported but do not change the exit code.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "override RUN_MODE (all, active, test)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "resolve and report without sending")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadRun()
	if err != nil {
		return err
	}
	log := logging.Init("trendcast", cfg.LogFormat, cfg.Debug)
	observability.Register(prometheus.DefaultRegisterer)

	var mode domain.Mode
	if runMode != "" {
		if mode, err = domain.ParseMode(runMode); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		return err
	}
	defer a.Close()

	rep, err := a.orch.With(mode, runDryRun).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), rep.Summary())
	if rep.Canceled {
		return context.Canceled
	}
	return nil
}
