package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"flipr_ingest/dedup"
	"flipr_ingest/models"
	"github.com/spf13/cobra"
)

// Operator commands queue a row in the SQLite commands table. A running crawler
// picks them up within a couple of seconds.

func pauseCmd() *cobra.Command {
	return enqueueCmd("pause", "Pause the running crawler", models.CmdPause, cobra.NoArgs, nil)
}

func resumeCmd() *cobra.Command {
	return enqueueCmd("resume", "Resume a paused crawler", models.CmdResume, cobra.NoArgs, nil)
}

func backfillCmd() *cobra.Command {
	return enqueueCmd("backfill", "Run a walk score backfill batch now", models.CmdRunBackfill, cobra.NoArgs, nil)
}

func resetCmd() *cobra.Command {
	var all bool
	cmd := enqueueCmd("reset <city>", "Reset every provider cursor for a city", models.CmdResetCity, cobra.ArbitraryArgs,
		func(args []string) *models.CommandParams {
			return &models.CommandParams{City: strings.Join(args, " ")}
		})
	queue := cmd.RunE
	cmd.Long = `Queue a reset_city command for a running crawler.
With --all, wipe local state instead: the SQLite tables, saved progress and the shared
dedup fingerprints. Stop the crawler first; Postgres rows are left alone.`
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if all {
			if len(args) > 0 {
				return fmt.Errorf("--all takes no city")
			}
			return withApp(cmd.Context(), func(a *app) error {
				return resetAll(cmd.Context(), cmd.OutOrStdout(), a)
			})
		}
		if len(args) == 0 {
			return fmt.Errorf("reset needs a city, or --all")
		}
		return queue(cmd, args)
	}
	cmd.Flags().BoolVar(&all, "all", false, "wipe all local data and dedup fingerprints")
	return cmd
}

func resetAll(ctx context.Context, out io.Writer, a *app) error {
	if err := a.sqlite.ResetAllData(ctx); err != nil {
		return fmt.Errorf("reset sqlite: %w", err)
	}
	if err := a.progressStore().Save(ctx, models.Progress{}); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	fmt.Fprintln(out, "Cleared local database and crawl progress")

	tracker, err := a.tracker(ctx)
	if err != nil {
		return err
	}
	if r, ok := tracker.(*dedup.Redis); ok {
		n, err := r.Clear(ctx)
		if err != nil {
			return fmt.Errorf("clear fingerprints: %w", err)
		}
		fmt.Fprintf(out, "Cleared %d dedup fingerprints\n", n)
	}
	return nil
}

func enqueueCmd(use, short string, command models.CommandType, args cobra.PositionalArgs, params func([]string) *models.CommandParams) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *models.CommandParams
			if params != nil {
				p = params(args)
			}
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.sqlite.EnqueueCommand(cmd.Context(), command, p); err != nil {
					return fmt.Errorf("enqueue %s: %w", command, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", command)
				return nil
			})
		},
	}
}
