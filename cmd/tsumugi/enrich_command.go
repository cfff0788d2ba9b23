package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tsumugi/internal/api"
	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
)

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var category string
	var force bool
	var protection string

	cmd := &cobra.Command{
		Use:   "enrich <character-id>",
		Short: "Enrich a single character with AI-generated analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCharacterID(args[0])
			if err != nil {
				return err
			}
			decision, err := parseProtectionFlag(protection)
			if err != nil {
				return err
			}
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				outcome, err := svc.EnrichOne(cmd.Context(), api.EnrichRequest{
					CharacterID: id,
					Category:    category,
					Force:       force,
					Protection:  decision,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, outcome)
				}
				printOutcome(cmd.OutOrStdout(), outcome)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Enrichment category (character_profile, relationship_analysis, timeline_analysis, cultural_impact)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-run enrichment even when a successful result exists")
	cmd.Flags().StringVar(&protection, "protection", "", "Curator decision when forcing a protected record (keep or release)")
	return cmd
}

func parseProtectionFlag(value string) (*bool, error) {
	switch value {
	case "":
		return nil, nil
	case "keep":
		keep := true
		return &keep, nil
	case "release":
		release := false
		return &release, nil
	default:
		return nil, fmt.Errorf("invalid --protection value %q (use keep or release)", value)
	}
}
