package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tsumugi/internal/api"
	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
	"tsumugi/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system, catalog, and cache status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(cfg *config.Config, store *catalog.Store, svc *api.Service) error {
				report, err := svc.Status(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				checks := preflight.RunAll(cmd.Context(), cfg)
				checks = append(checks, preflight.CheckDatabase(cmd.Context(), store))

				for _, line := range renderSectionHeader("System Checks", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, check := range checks {
					kind := statusError
					if check.Passed {
						kind = statusOK
					}
					fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Enrichment", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Provider", statusInfo, report.Provider, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Model", statusInfo, report.Model, colorize))
				cacheKind := statusOK
				cacheDetail := fmt.Sprintf("%d entries (%d expired, %s)",
					report.Cache.TotalEntries, report.Cache.ExpiredCount, humanBytes(report.Cache.ApproximateBytes))
				if !report.Cache.Enabled {
					cacheKind = statusWarn
					cacheDetail = "Disabled"
				}
				fmt.Fprintln(stdout, renderStatusLine("Response cache", cacheKind, cacheDetail, colorize))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Catalog", colorize) {
					fmt.Fprintln(stdout, line)
				}
				rows := buildRecordStatusRows(report)
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "Catalog is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprint(stdout, table)
				return nil
			})
		},
	}
}

func buildRecordStatusRows(report *api.StatusReport) [][]string {
	if report.Characters == 0 {
		return nil
	}
	rows := [][]string{
		{"Characters", strconv.Itoa(report.Characters)},
	}
	counters := []struct {
		label string
		value int
	}{
		{"Pending", report.Records.Pending},
		{"Succeeded", report.Records.Succeeded},
		{"Failed", report.Records.Failed},
		{"Skipped", report.Records.Skipped},
		{"Protected", report.Records.Protected},
	}
	for _, counter := range counters {
		if counter.value == 0 {
			continue
		}
		rows = append(rows, []string{counter.label, strconv.Itoa(counter.value)})
	}
	return rows
}
