package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CharacterSummary is the compact list-view representation of a character.
// A character with no enrichment record reports status pending.
type CharacterSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Series    string `json:"series,omitempty"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Protected bool   `json:"protected"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// CharacterRecord is the full transport representation of a character and its
// enrichment record. Fields holds the stored enrichment payload.
type CharacterRecord struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Series        string          `json:"series,omitempty"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	Protected     bool            `json:"protected"`
	LastError     string          `json:"lastError,omitempty"`
	LastAttemptAt string          `json:"lastAttemptAt,omitempty"`
	LastSuccessAt string          `json:"lastSuccessAt,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
	Fields        json.RawMessage `json:"fields,omitempty"`
}

// EnrichmentOutcome reports how a single enrichment request concluded.
type EnrichmentOutcome struct {
	Character   CharacterRecord `json:"character"`
	Category    string          `json:"category"`
	Disposition string          `json:"disposition"`
	Reason      string          `json:"reason,omitempty"`
	FromCache   bool            `json:"fromCache"`
	AICalls     int             `json:"aiCalls"`
}

// BatchUnitOutcome records how one worklist entry concluded.
type BatchUnitOutcome struct {
	CharacterID int64  `json:"characterId"`
	Name        string `json:"name,omitempty"`
	Disposition string `json:"disposition"`
	Reason      string `json:"reason,omitempty"`
	FromCache   bool   `json:"fromCache,omitempty"`
	AICalls     int    `json:"aiCalls,omitempty"`
}

// BatchSummary is the terminal report for a batch job.
type BatchSummary struct {
	JobID        string             `json:"jobId"`
	Category     string             `json:"category"`
	Total        int                `json:"total"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	Skipped      int                `json:"skipped"`
	NotProcessed int                `json:"notProcessed"`
	FromCache    int                `json:"fromCache"`
	AICalls      int                `json:"aiCalls"`
	Outcomes     []BatchUnitOutcome `json:"outcomes,omitempty"`
	StartedAt    string             `json:"startedAt,omitempty"`
	FinishedAt   string             `json:"finishedAt,omitempty"`
	Duration     string             `json:"duration,omitempty"`
}

// BatchProgress is a live counter snapshot for a running or finished job.
type BatchProgress struct {
	JobID        string `json:"jobId"`
	Category     string `json:"category"`
	Total        int    `json:"total"`
	Queued       int    `json:"queued"`
	InFlight     int    `json:"inFlight"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	Skipped      int    `json:"skipped"`
	NotProcessed int    `json:"notProcessed"`
	Terminal     bool   `json:"terminal"`
	StartedAt    string `json:"startedAt,omitempty"`
}

// CacheStats describes response cache size and composition.
type CacheStats struct {
	Enabled          bool           `json:"enabled"`
	TotalEntries     int            `json:"totalEntries"`
	PerCategory      map[string]int `json:"perCategory,omitempty"`
	ExpiredCount     int            `json:"expiredCount"`
	ApproximateBytes int64          `json:"approximateBytes"`
}

// RecordStats breaks enrichment records down by status.
type RecordStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Protected int `json:"protected"`
}

// StatusReport aggregates catalog counts, provider identity, and cache state
// for the status command and endpoint.
type StatusReport struct {
	DatabasePath string      `json:"databasePath"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Characters   int         `json:"characters"`
	Records      RecordStats `json:"records"`
	Cache        CacheStats  `json:"cache"`
}

// EnrichRequest selects one character and how to enrich it. A nil Protection
// leaves the stored protection flag untouched.
type EnrichRequest struct {
	CharacterID int64  `json:"characterId"`
	Category    string `json:"category,omitempty"`
	Force       bool   `json:"force,omitempty"`
	Protection  *bool  `json:"protection,omitempty"`
}

// BatchRequest describes a batch run. An explicit id list wins; otherwise the
// worklist resolves from record statuses against the catalog. Concurrency
// zero falls back to the configured default.
type BatchRequest struct {
	CharacterIDs []int64  `json:"characterIds,omitempty"`
	Statuses     []string `json:"statuses,omitempty"`
	Category     string   `json:"category,omitempty"`
	Force        bool     `json:"force,omitempty"`
	Concurrency  int      `json:"concurrency,omitempty"`
}
