package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trendcast/internal/awsutil"
	"trendcast/internal/config"
	"trendcast/internal/domain"
	"trendcast/internal/logging"
	sqsqueue "trendcast/internal/queue/sqs"
	"trendcast/internal/util"
)

var (
	triggerMode   string
	triggerDryRun bool
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask a running daemon for an out-of-schedule run via the trigger queue",
	RunE:  runTrigger,
}

func init() {
	triggerCmd.Flags().StringVar(&triggerMode, "mode", "", "run mode for this request (default: the daemon's RUN_MODE)")
	triggerCmd.Flags().BoolVar(&triggerDryRun, "dry-run", false, "request a dry run")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadTrigger()
	if err != nil {
		return err
	}
	log := logging.Init("trendcast", cfg.LogFormat, cfg.Debug)

	mode := triggerMode
	if mode == "" {
		mode = cfg.RunMode
	}
	if mode != "" {
		m, err := domain.ParseMode(mode)
		if err != nil {
			return err
		}
		mode = string(m)
	}

	client, err := awsutil.NewSQSClient(cmd.Context(), cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		return fmt.Errorf("sqs client: %w", err)
	}
	p := &sqsqueue.Producer{SQS: client, QueueURL: cfg.TriggerQueueURL}

	requestedBy, _ := os.Hostname()
	req := sqsqueue.RunRequest{
		RequestID:   util.NewRequestID(),
		Mode:        mode,
		DryRun:      triggerDryRun,
		RequestedBy: requestedBy,
		RequestedAt: util.NowUTC(),
	}
	if err := p.EnqueueRun(cmd.Context(), req); err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	log.Info("run requested", "request_id", req.RequestID, "mode", req.Mode, "dry_run", req.DryRun)
	fmt.Fprintln(cmd.OutOrStdout(), req.RequestID)
	return nil
}
