package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"tsumugi/internal/api"
	"tsumugi/internal/enrich"
)

func parseCharacterID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid character id %q", arg)
	}
	return id, nil
}

func printOutcome(out io.Writer, outcome *api.EnrichmentOutcome) {
	fmt.Fprintf(out, "%s %q (%s)\n", dispositionHeadline(outcome.Disposition), outcome.Character.Name, outcome.Category)
	if outcome.Reason != "" {
		fmt.Fprintf(out, "  Reason:      %s\n", outcome.Reason)
	}
	fmt.Fprintf(out, "  Status:      %s\n", outcome.Character.Status)
	fmt.Fprintf(out, "  Attempts:    %d\n", outcome.Character.Attempts)
	fmt.Fprintf(out, "  From cache:  %s\n", yesNo(outcome.FromCache))
	fmt.Fprintf(out, "  Model calls: %d\n", outcome.AICalls)
}

func dispositionHeadline(disposition string) string {
	switch disposition {
	case string(enrich.DispositionEnriched):
		return "Enriched"
	case string(enrich.DispositionUnchanged):
		return "Unchanged"
	case string(enrich.DispositionSkipped):
		return "Skipped"
	case string(enrich.DispositionFailed):
		return "Failed"
	default:
		return "Finished"
	}
}

func printBatchSummary(out io.Writer, summary *api.BatchSummary) {
	fmt.Fprintf(out, "Batch %s (%s) finished in %s\n", summary.JobID, summary.Category, summary.Duration)

	rows := [][]string{
		{"Total", strconv.Itoa(summary.Total)},
		{"Succeeded", strconv.Itoa(summary.Succeeded)},
		{"Failed", strconv.Itoa(summary.Failed)},
		{"Skipped", strconv.Itoa(summary.Skipped)},
		{"Not processed", strconv.Itoa(summary.NotProcessed)},
		{"Cache hits", strconv.Itoa(summary.FromCache)},
		{"Model calls", strconv.Itoa(summary.AICalls)},
	}
	fmt.Fprintln(out, renderTable([]string{"Counter", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	var attention [][]string
	for _, unit := range summary.Outcomes {
		if unit.Disposition == string(enrich.DispositionFailed) || unit.Disposition == string(enrich.DispositionSkipped) {
			attention = append(attention, []string{
				strconv.FormatInt(unit.CharacterID, 10),
				unit.Name,
				unit.Disposition,
				unit.Reason,
			})
		}
	}
	if len(attention) > 0 {
		fmt.Fprintln(out, "Units needing attention:")
		fmt.Fprintln(out, renderTable(
			[]string{"ID", "Name", "Disposition", "Reason"},
			attention,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
		))
	}
}
