package main

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tsumugi/internal/api"
	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var ids []int64
	var statuses []string
	var category string
	var force bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Enrich many characters through the bounded worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				release, err := acquireInstanceLock(cfg)
				if err != nil {
					return err
				}
				defer release()

				summary, err := svc.EnrichBatch(cmd.Context(), api.BatchRequest{
					CharacterIDs: ids,
					Statuses:     statuses,
					Category:     category,
					Force:        force,
					Concurrency:  concurrency,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				printBatchSummary(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}

	cmd.Flags().Int64SliceVar(&ids, "id", nil, "Character id to include (repeatable)")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Select characters by record status (repeatable; defaults to pending and failed)")
	cmd.Flags().StringVar(&category, "category", "", "Enrichment category applied to every unit")
	cmd.Flags().BoolVar(&force, "force", false, "Re-run enrichment on already-successful records")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Worker pool size (0 uses the configured default)")
	return cmd
}

// acquireInstanceLock guards batch and serve against concurrent runs on one
// data directory.
func acquireInstanceLock(cfg *config.Config) (func(), error) {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another tsumugi instance is already running (lock %s)", cfg.LockPath())
	}
	return func() { _ = lock.Unlock() }, nil
}
