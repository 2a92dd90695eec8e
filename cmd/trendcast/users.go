package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"trendcast/internal/audience"
	"trendcast/internal/config"
	"trendcast/internal/domain"
	"trendcast/internal/logging"
)

var (
	usersActive bool
	usersDays   int
	usersLimit  int
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the audience a run would target, without sending",
	RunE:  runUsers,
}

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "List the platform's segments",
	RunE:  runSegments,
}

func init() {
	usersCmd.Flags().BoolVar(&usersActive, "active", false, "resolve the active audience instead of all contacts")
	usersCmd.Flags().IntVar(&usersDays, "days", 0, "activity window in days (default ACTIVITY_DAYS)")
	usersCmd.Flags().IntVar(&usersLimit, "limit", 20, "recipients to print (0 prints all)")
}

func runUsers(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPlatform()
	if err != nil {
		return err
	}
	log := logging.Init("trendcast", cfg.LogFormat, cfg.Debug)
	client, err := newPlatformClient(cfg.Platform, cfg.Debug, log)
	if err != nil {
		return err
	}
	policy, err := audience.ParsePolicy(cfg.AudiencePolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &audience.Resolver{Platform: client, Policy: policy, Logger: log}
	var res audience.Result
	if usersActive {
		days := usersDays
		if days <= 0 {
			days = cfg.ActivityDays
		}
		res, err = r.ResolveActive(ctx, days)
	} else {
		res, err = r.ResolveAll(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d recipients (strategy %s)\n", len(res.Recipients), res.Strategy)
	printRecipients(out, res.Recipients, usersLimit)
	return nil
}

func printRecipients(out io.Writer, recipients []domain.Recipient, limit int) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tEMAIL\tLAST ACTIVE")
	for i, r := range recipients {
		if limit > 0 && i == limit {
			fmt.Fprintf(tw, "... %d more\t\t\t\n", len(recipients)-limit)
			break
		}
		last := "-"
		if r.LastActiveAt != nil {
			last = r.LastActiveAt.UTC().Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Email, last)
	}
	_ = tw.Flush()
}

func runSegments(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPlatform()
	if err != nil {
		return err
	}
	log := logging.Init("trendcast", cfg.LogFormat, cfg.Debug)
	client, err := newPlatformClient(cfg.Platform, cfg.Debug, log)
	if err != nil {
		return err
	}
	segments, err := client.ListSegments(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, s := range segments {
		fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.Name)
	}
	return tw.Flush()
}
