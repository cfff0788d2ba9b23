package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"tsumugi/internal/api"
	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheInvalidateCommand(ctx))
	cacheCmd.AddCommand(newCacheSweepCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				stats := svc.CacheStats()
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				if !stats.Enabled {
					fmt.Fprintln(out, "Response cache is disabled")
					return nil
				}
				fmt.Fprintf(out, "Entries: %d (%d expired)\n", stats.TotalEntries, stats.ExpiredCount)
				fmt.Fprintf(out, "Size:    %s\n", humanBytes(stats.ApproximateBytes))
				if len(stats.PerCategory) == 0 {
					return nil
				}
				categories := make([]string, 0, len(stats.PerCategory))
				for category := range stats.PerCategory {
					categories = append(categories, category)
				}
				sort.Strings(categories)
				rows := make([][]string, 0, len(categories))
				for _, category := range categories {
					rows = append(rows, []string{category, strconv.Itoa(stats.PerCategory[category])})
				}
				table := renderTable([]string{"Category", "Entries"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}
}

func newCacheInvalidateCommand(ctx *commandContext) *cobra.Command {
	var characterID int64
	var category string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop cached responses for a character or a whole category",
		RunE: func(cmd *cobra.Command, args []string) error {
			if characterID == 0 && category == "" {
				return fmt.Errorf("pass --character and/or --category to select entries")
			}
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				out := cmd.OutOrStdout()
				if characterID != 0 {
					removed, err := svc.InvalidateCharacter(cmd.Context(), characterID, category)
					if err != nil {
						return err
					}
					if removed {
						fmt.Fprintf(out, "Invalidated cached response for character %d\n", characterID)
					} else {
						fmt.Fprintf(out, "No cached response for character %d\n", characterID)
					}
					return nil
				}
				removed, err := svc.InvalidateCategory(category)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Invalidated %d cached responses in %s\n", removed, category)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&characterID, "character", 0, "Character id to invalidate")
	cmd.Flags().StringVar(&category, "category", "", "Enrichment category to invalidate")
	return cmd
}

func newCacheSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				removed, err := svc.SweepExpiredCache()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Swept %d expired entries\n", removed)
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				removed, err := svc.ClearCache()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries\n", removed)
				return nil
			})
		},
	}
}

func humanBytes(v int64) string {
	const unit = 1024
	if v < unit {
		return fmt.Sprintf("%d B", v)
	}
	div := int64(unit)
	exp := 0
	for n := v / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	value := float64(v) / float64(div)
	return fmt.Sprintf("%.1f %ciB", value, "KMGTPEZY"[exp])
}
