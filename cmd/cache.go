package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/quote-sourcing/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the quote cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live cache entry and hit counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		qc, closeCache, err := initCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer closeCache()

		stats, err := qc.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		formatCacheStats(os.Stdout, stats, time.Now())
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached quote",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		qc, closeCache, err := initCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer closeCache()

		n, err := qc.Clear(ctx)
		if err != nil {
			return eris.Wrap(err, "cache clear")
		}
		fmt.Fprintf(os.Stdout, "Removed %d cached quotes.\n", n)
		return nil
	},
}

func formatCacheStats(w io.Writer, s model.CacheStats, now time.Time) {
	fmt.Fprintf(w, "Entries: %d\n", s.TotalEntries)
	fmt.Fprintf(w, "Hits:    %d\n", s.TotalHits)
	if s.OldestEntry != nil {
		fmt.Fprintf(w, "Oldest:  %s (%s ago)\n", s.OldestEntry.Format(time.RFC3339), now.Sub(*s.OldestEntry).Round(time.Second))
	}
	if s.NewestEntry != nil {
		fmt.Fprintf(w, "Newest:  %s (%s ago)\n", s.NewestEntry.Format(time.RFC3339), now.Sub(*s.NewestEntry).Round(time.Second))
	}
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
