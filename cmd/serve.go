package cmd

import (
	"context"

	"flipr_ingest/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored properties over HTTP and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			return withApp(cmd.Context(), func(a *app) error {
				hub := api.NewHub(a.metrics, a.logger)
				g, gctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error {
					hub.Run(gctx)
					return nil
				})
				g.Go(func() error {
					return newServer(a, hub).Run(gctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the crawler and the API in one process",
		Long:  "Run the crawler and the API together. Properties sunk by the crawler are pushed to websocket clients directly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				return runAll(cmd.Context(), a)
			})
		},
	}
}

func runAll(ctx context.Context, a *app) error {
	hub := api.NewHub(a.metrics, a.logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return newServer(a, hub).Run(gctx)
	})
	g.Go(func() error {
		return runCrawler(gctx, a, hub)
	})
	return g.Wait()
}

func newServer(a *app, hub *api.Hub) *api.Server {
	return api.NewServer(api.Options{
		Addr:     a.cfg.HTTP.Addr,
		Version:  Version,
		Database: a.databaseName(),
	}, a.store(), hub, a.metrics, a.logger)
}
