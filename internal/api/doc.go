// Package api defines wire-format types and converters for the CLI and HTTP
// surface, plus a Service facade that owns the enrichment engine, batch
// runner, and response cache behind validated entry points. Commands and
// handlers both go through the facade so input checking and DTO conversion
// happen in one place.
//
// # Key Types
//
// CharacterRecord: transport representation of a character with its
// enrichment record and stored fields.
//
// EnrichmentOutcome: disposition, reason, and cost counters for one request.
//
// BatchSummary/BatchProgress: terminal and live views of a batch job.
//
// CacheStats: entry counts, per-category breakdown, and approximate size.
//
// # Converters
//
// FromCharacter/FromRecord: catalog rows -> DTOs with RFC3339 timestamps.
//
// FromOutcome/FromSummary/FromJob: engine and batch results -> DTOs.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (catalog.Status, enrich.Category, enrich.Disposition) are exposed as
// lowercase strings. Timestamps use RFC3339 with milliseconds. Stored
// enrichment fields are passed through as json.RawMessage to avoid
// double-encoding.
//
// Batch jobs live in an in-memory registry keyed by job id. The registry is
// process-local and empties on restart; polling endpoints report unknown ids
// as not found rather than resurrecting finished jobs.
package api
