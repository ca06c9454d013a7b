package cmd

import (
	"context"
	"fmt"

	"flipr_ingest/scheduler"
	"flipr_ingest/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func crawlCmd() *cobra.Command {
	var (
		once   bool
		now    bool
		cities []string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the crawl daemon",
		Long: `Crawl every configured city through all providers, saving progress after every page.
With CRAWL_CRON set, one pass runs per cron tick; otherwise the crawl loops until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cities) > 0 {
				cfg.Crawler.Cities = cities
			}
			if now {
				cfg.Scheduler.RunOnStart = true
			}
			return withApp(cmd.Context(), func(a *app) error {
				if once {
					return crawlOnce(cmd.Context(), a)
				}
				return runCrawler(cmd.Context(), a, nil)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "visit every city once and exit")
	cmd.Flags().BoolVar(&now, "now", false, "with CRAWL_CRON, start a pass immediately instead of waiting for the first tick")
	cmd.Flags().StringSliceVar(&cities, "city", nil, "crawl only these cities (repeatable)")
	return cmd
}

func crawlOnce(ctx context.Context, a *app) error {
	d, err := a.driver(ctx, nil)
	if err != nil {
		return err
	}
	a.logger.Info("Running one crawl pass", zap.Int("cities", len(a.cfg.Crawler.Cities)))
	if err := d.RunPass(ctx); err != nil {
		return ignoreCanceled(err)
	}
	a.logger.Info("Crawl pass complete")
	return nil
}

// runCrawler runs the scheduler and, when configured, the walk score backfill
// worker until ctx is cancelled.
func runCrawler(ctx context.Context, a *app, pub services.Publisher) error {
	d, err := a.driver(ctx, pub)
	if err != nil {
		return err
	}

	sched := scheduler.New(a.cfg.Scheduler.Cron, d, a.sqlite, a.logger)
	sched.SetRunOnStart(a.cfg.Scheduler.RunOnStart)
	g, gctx := errgroup.WithContext(ctx)

	if w := a.backfillWorker(); w != nil {
		sched.SetBackfill(w)
		g.Go(func() error {
			w.Run(gctx, a.cfg.Scheduler.BackfillInterval)
			return nil
		})
		a.logger.Info("Walk score backfill worker started", zap.Duration("interval", a.cfg.Scheduler.BackfillInterval))
	}

	g.Go(func() error {
		if err := ignoreCanceled(sched.Run(gctx)); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	a.logger.Info("Crawler running, press Ctrl+C to stop")
	err = g.Wait()
	a.logger.Info("Crawler stopped")
	return err
}
