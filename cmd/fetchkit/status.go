package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fetchkit/fetchkit/internal/app"
)

// loadAppForStatus brings up just enough of the application to read
// cache and metrics state, without starting the resource manager.
func loadAppForStatus() (*app.App, error) {
	a, err := app.New()
	if err != nil {
		return nil, err
	}
	if err := a.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return a, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local cache and counter statistics",
	Long: `Status reports how many resources are currently cached, how many
are permanently retained, and the request/download counters of the
current process. The counters are kept in memory only and are not
persisted, so each status run starts them at zero.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadAppForStatus()
	if err != nil {
		return err
	}
	defer a.Stop()

	ctx := context.Background()
	stats, err := a.GetCache().Stats(ctx)
	if err != nil {
		return fmt.Errorf("read cache stats: %w", err)
	}
	snap := a.GetMetrics().Snapshot()

	color.Cyan("Cache")
	cacheTable := table.NewWriter()
	cacheTable.SetOutputMirror(os.Stdout)
	cacheTable.AppendHeader(table.Row{"Storage class", "Count"})
	cacheTable.AppendRow(table.Row{"cached", stats.CachedCount})
	cacheTable.AppendRow(table.Row{"permanent", stats.PermanentCount})
	cacheTable.Render()

	fmt.Println()
	color.Cyan("Counters (this process)")
	countersTable := table.NewWriter()
	countersTable.SetOutputMirror(os.Stdout)
	countersTable.AppendHeader(table.Row{"Metric", "Value"})
	countersTable.AppendRow(table.Row{"requested", snap.Requested})
	countersTable.AppendRow(table.Row{"cache hits", snap.CacheHits})
	countersTable.AppendRow(table.Row{"cache misses", snap.CacheMisses})
	countersTable.AppendRow(table.Row{"downloads began", snap.DownloadBegan})
	countersTable.AppendRow(table.Row{"downloads finished", snap.DownloadFinished})
	countersTable.AppendRow(table.Row{"downloads failed", snap.DownloadFailed})
	countersTable.AppendRow(table.Row{"downloads cancelled", snap.DownloadCancelled})
	countersTable.AppendRow(table.Row{"retries", snap.Retries})
	countersTable.AppendRow(table.Row{"priority raised", snap.PriorityRaised})
	countersTable.AppendRow(table.Row{"priority lowered", snap.PriorityLowered})
	countersTable.Render()

	return nil
}
