package api

import (
	"encoding/json"
	"time"

	"tsumugi/internal/aicache"
	"tsumugi/internal/batch"
	"tsumugi/internal/catalog"
	"tsumugi/internal/enrich"
)

// FromCharacter builds the compact list representation. A nil record reports
// status pending with zero attempts.
func FromCharacter(character *catalog.Character, record *catalog.EnrichmentRecord) CharacterSummary {
	dto := CharacterSummary{
		ID:        character.ID,
		Name:      character.Name,
		Series:    character.Series,
		Status:    string(catalog.StatusPending),
		UpdatedAt: FormatTime(character.UpdatedAt),
	}
	if record == nil {
		return dto
	}
	dto.Status = string(record.Status)
	dto.Attempts = record.Attempts
	dto.Protected = record.Protected
	if !record.UpdatedAt.IsZero() {
		dto.UpdatedAt = FormatTime(record.UpdatedAt)
	}
	return dto
}

// FromRecord builds the full transport representation including the stored
// enrichment fields as raw JSON.
func FromRecord(character *catalog.Character, record *catalog.EnrichmentRecord) CharacterRecord {
	dto := CharacterRecord{
		ID:          character.ID,
		Name:        character.Name,
		Series:      character.Series,
		Description: character.Description,
		Status:      string(catalog.StatusPending),
		CreatedAt:   FormatTime(character.CreatedAt),
		UpdatedAt:   FormatTime(character.UpdatedAt),
	}
	if record == nil {
		return dto
	}
	dto.Status = string(record.Status)
	dto.Attempts = record.Attempts
	dto.Protected = record.Protected
	dto.LastError = record.LastError
	dto.LastAttemptAt = formatTimePtr(record.LastAttemptAt)
	dto.LastSuccessAt = formatTimePtr(record.LastSuccessAt)
	if !record.UpdatedAt.IsZero() {
		dto.UpdatedAt = FormatTime(record.UpdatedAt)
	}
	if !record.Fields.IsEmpty() {
		if raw, err := json.Marshal(record.Fields); err == nil {
			dto.Fields = raw
		}
	}
	return dto
}

// FromOutcome converts a single-character engine outcome.
func FromOutcome(outcome *enrich.Outcome) EnrichmentOutcome {
	return EnrichmentOutcome{
		Character:   FromRecord(outcome.Character, outcome.Record),
		Category:    outcome.Category.String(),
		Disposition: string(outcome.Disposition),
		Reason:      outcome.Reason,
		FromCache:   outcome.FromCache,
		AICalls:     outcome.AICalls,
	}
}

// FromSummary converts a terminal batch report.
func FromSummary(summary *batch.Summary) BatchSummary {
	outcomes := make([]BatchUnitOutcome, 0, len(summary.Outcomes))
	for _, unit := range summary.Outcomes {
		outcomes = append(outcomes, BatchUnitOutcome{
			CharacterID: unit.CharacterID,
			Name:        unit.Name,
			Disposition: string(unit.Disposition),
			Reason:      unit.Reason,
			FromCache:   unit.FromCache,
			AICalls:     unit.AICalls,
		})
	}
	return BatchSummary{
		JobID:        summary.JobID,
		Category:     summary.Category,
		Total:        summary.Total,
		Succeeded:    summary.Succeeded,
		Failed:       summary.Failed,
		Skipped:      summary.Skipped,
		NotProcessed: summary.NotProcessed,
		FromCache:    summary.FromCache,
		AICalls:      summary.AICalls,
		Outcomes:     outcomes,
		StartedAt:    FormatTime(summary.StartedAt),
		FinishedAt:   FormatTime(summary.FinishedAt),
		Duration:     summary.Duration().Round(time.Millisecond).String(),
	}
}

// FromJob snapshots a job's counters. Terminal is true once the summary is
// available.
func FromJob(job *batch.Job) BatchProgress {
	progress := job.Progress()
	dto := BatchProgress{
		JobID:        job.ID(),
		Category:     job.Category().String(),
		Total:        job.Total(),
		Queued:       progress.Queued,
		InFlight:     progress.InFlight,
		Succeeded:    progress.Succeeded,
		Failed:       progress.Failed,
		Skipped:      progress.Skipped,
		NotProcessed: progress.NotProcessed,
		StartedAt:    FormatTime(job.StartedAt()),
	}
	select {
	case <-job.Done():
		dto.Terminal = true
	default:
	}
	return dto
}

// FromCacheStats converts cache statistics for transport.
func FromCacheStats(stats aicache.Stats, enabled bool) CacheStats {
	return CacheStats{
		Enabled:          enabled,
		TotalEntries:     stats.TotalEntries,
		PerCategory:      stats.PerCategory,
		ExpiredCount:     stats.ExpiredCount,
		ApproximateBytes: stats.ApproximateBytes,
	}
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
