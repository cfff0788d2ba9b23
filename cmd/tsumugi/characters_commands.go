package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tsumugi/internal/api"
	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
)

func newCharactersCommand(ctx *commandContext) *cobra.Command {
	charactersCmd := &cobra.Command{
		Use:     "characters",
		Aliases: []string{"chars"},
		Short:   "Inspect and manage the character catalog",
	}

	charactersCmd.AddCommand(newCharactersListCommand(ctx))
	charactersCmd.AddCommand(newCharactersShowCommand(ctx))
	charactersCmd.AddCommand(newCharactersAddCommand(ctx))
	charactersCmd.AddCommand(newCharactersImportCommand(ctx))
	charactersCmd.AddCommand(newCharactersProtectCommand(ctx, true))
	charactersCmd.AddCommand(newCharactersProtectCommand(ctx, false))
	charactersCmd.AddCommand(newCharactersRetryCommand(ctx))
	charactersCmd.AddCommand(newCharactersRemoveCommand(ctx))
	charactersCmd.AddCommand(newCharactersStatsCommand(ctx))

	return charactersCmd
}

func newCharactersListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var series string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog characters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				characters, err := svc.ListCharacters(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if series != "" {
					filtered := characters[:0]
					for _, character := range characters {
						if strings.EqualFold(character.Series, series) {
							filtered = append(filtered, character)
						}
					}
					characters = filtered
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, characters)
				}
				if len(characters) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Catalog is empty")
					return nil
				}
				rows := make([][]string, 0, len(characters))
				for _, character := range characters {
					rows = append(rows, []string{
						strconv.FormatInt(character.ID, 10),
						character.Name,
						character.Series,
						character.Status,
						strconv.Itoa(character.Attempts),
						yesNo(character.Protected),
					})
				}
				table := renderTable(
					[]string{"ID", "Name", "Series", "Status", "Attempts", "Protected"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by record status (repeatable)")
	cmd.Flags().StringVar(&series, "series", "", "Filter by series name")
	return cmd
}

func newCharactersShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <character-id>",
		Short: "Show one character with its enrichment record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCharacterID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				record, err := svc.DescribeCharacter(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, record)
				}
				printCharacterRecord(cmd.OutOrStdout(), record)
				return nil
			})
		},
	}
}

func newCharactersAddCommand(ctx *commandContext) *cobra.Command {
	var series string
	var description string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a character to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				character, err := svc.AddCharacter(cmd.Context(), args[0], series, description)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, character)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %q (id %d)\n", character.Name, character.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&series, "series", "", "Series the character appears in")
	cmd.Flags().StringVar(&description, "description", "", "Short source description used for prompting")
	return cmd
}

func newCharactersImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import characters from a JSON file",
		Long:  "Import characters from a JSON array of {name, series, description} objects. Existing name and series pairs are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var entries []catalog.CharacterImport
			if err := json.Unmarshal(payload, &entries); err != nil {
				return fmt.Errorf("parse import file: %w", err)
			}
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				added, skipped, err := svc.ImportCharacters(cmd.Context(), entries)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d characters (%d duplicates skipped)\n", added, skipped)
				return nil
			})
		},
	}
}

func newCharactersProtectCommand(ctx *commandContext, protect bool) *cobra.Command {
	use := "protect <character-id>"
	short := "Mark a character's enrichment as curator protected"
	if !protect {
		use = "unprotect <character-id>"
		short = "Clear curator protection from a character"
	}

	var note string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCharacterID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				record, err := svc.SetProtection(cmd.Context(), id, protect)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, record)
				}
				verb := "Protected"
				if !protect {
					verb = "Unprotected"
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %q\n", verb, record.Name)
				if note != "" {
					fmt.Fprintf(out, "  Note: %s\n", note)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Curator note echoed with the confirmation")
	return cmd
}

func newCharactersRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [character-id...]",
		Short: "Reset failed enrichment records to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseCharacterID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				reset, err := svc.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed records to pending\n", reset)
				return nil
			})
		},
	}
}

func newCharactersRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <character-id>",
		Short: "Remove a character, its record, and its cached results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCharacterID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				if err := svc.RemoveCharacter(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed character %d\n", id)
				return nil
			})
		},
	}
}

func newCharactersStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				report, err := svc.Status(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report.Records)
				}
				rows := [][]string{
					{"Characters", strconv.Itoa(report.Characters)},
					{"Records", strconv.Itoa(report.Records.Total)},
					{"Pending", strconv.Itoa(report.Records.Pending)},
					{"Succeeded", strconv.Itoa(report.Records.Succeeded)},
					{"Failed", strconv.Itoa(report.Records.Failed)},
					{"Skipped", strconv.Itoa(report.Records.Skipped)},
					{"Protected", strconv.Itoa(report.Records.Protected)},
				}
				table := renderTable([]string{"Counter", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func printCharacterRecord(out io.Writer, record *api.CharacterRecord) {
	fmt.Fprintf(out, "%s", record.Name)
	if record.Series != "" {
		fmt.Fprintf(out, " (%s)", record.Series)
	}
	fmt.Fprintln(out)
	if record.Description != "" {
		fmt.Fprintf(out, "  Description: %s\n", record.Description)
	}
	fmt.Fprintf(out, "  Status:      %s\n", record.Status)
	fmt.Fprintf(out, "  Attempts:    %d\n", record.Attempts)
	fmt.Fprintf(out, "  Protected:   %s\n", yesNo(record.Protected))
	if record.LastError != "" {
		fmt.Fprintf(out, "  Last error:  %s\n", record.LastError)
	}
	if record.LastSuccessAt != "" {
		fmt.Fprintf(out, "  Enriched at: %s\n", record.LastSuccessAt)
	}
	if len(record.Fields) > 0 {
		fmt.Fprintln(out, "  Fields:")
		var pretty map[string]any
		if err := json.Unmarshal(record.Fields, &pretty); err == nil {
			encoded, err := json.MarshalIndent(pretty, "    ", "  ")
			if err == nil {
				fmt.Fprintf(out, "    %s\n", encoded)
			}
		}
	}
}
