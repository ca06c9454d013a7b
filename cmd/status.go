package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"flipr_ingest/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show crawl progress, deal counts and recent source runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				progress, err := a.progressStore().Load(ctx)
				if err != nil {
					return fmt.Errorf("load progress: %w", err)
				}
				counts, err := a.store().RatingCounts(ctx)
				if err != nil {
					return fmt.Errorf("rating counts: %w", err)
				}
				recent, err := a.sqlite.RecentRuns(ctx, runs)
				if err != nil {
					return fmt.Errorf("recent runs: %w", err)
				}

				out := cmd.OutOrStdout()
				renderProgress(out, progress)
				renderCounts(out, counts)
				renderRuns(out, recent)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 10, "number of recent source runs to show")
	return cmd
}

func newTable(out io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func renderProgress(out io.Writer, progress models.Progress) {
	t := newTable(out, "Crawl progress")
	t.AppendHeader(table.Row{"City", "Attom page", "Rentcast offset", "Redfin page", "Datafiniti page", "Last API"})

	cities := make([]string, 0, len(progress))
	for city := range progress {
		cities = append(cities, city)
	}
	sort.Strings(cities)

	for _, city := range cities {
		cp := progress[city]
		if cp == nil {
			continue
		}
		t.AppendRow(table.Row{city, cp.AttomPage, cp.RentcastOffset, cp.RedfinPage, cp.DatafinitiPage, cp.LastAPI})
	}
	if len(cities) == 0 {
		t.AppendRow(table.Row{"(no progress saved)", "", "", "", "", ""})
	}
	t.Render()
}

func renderCounts(out io.Writer, c *models.RatingCounts) {
	t := newTable(out, "Deals")
	t.AppendHeader(table.Row{"Band", "Count"})
	t.AppendRows([]table.Row{
		{"Hot (> 0.8)", c.HotDeals},
		{"Good (0.6 - 0.8)", c.GoodDeals},
		{"Average (0.4 - 0.6)", c.AverageDeals},
		{"Weak (<= 0.4)", c.WeakDeals},
	})
	t.AppendFooter(table.Row{"Total", c.Total})
	t.Render()
}

func renderRuns(out io.Writer, runs []models.SourceRun) {
	t := newTable(out, "Recent source runs")
	t.AppendHeader(table.Row{"Started", "City", "Source", "Status", "Cursor", "Pages", "Found", "Sunk", "Dupes", "No coords", "Errors"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.StartedAt.Local().Format(time.DateTime),
			r.City,
			r.Source,
			r.Status,
			fmt.Sprintf("%d -> %d", r.StartCursor, r.EndCursor),
			r.Pages,
			r.RecordsFound,
			r.RecordsSunk,
			r.Duplicates,
			r.NoCoordinates,
			r.ErrorsCount,
		})
	}
	t.Render()
}
