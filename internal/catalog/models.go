package catalog

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an enrichment record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

var allStatuses = []Status{
	StatusPending,
	StatusSuccess,
	StatusFailed,
	StatusSkipped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Character is a catalog entry for an anime character awaiting enrichment.
type Character struct {
	ID          int64
	Name        string
	Series      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasContext reports whether the character carries enough source material to
// build an enrichment prompt. Characters without a name are skipped rather
// than sent to the model.
func (c *Character) HasContext() bool {
	return c != nil && strings.TrimSpace(c.Name) != ""
}

// CharacterImport is one row of an import payload.
type CharacterImport struct {
	Name        string `json:"name"`
	Series      string `json:"series"`
	Description string `json:"description"`
}

// Relationship describes a single connection to another character.
type Relationship struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	RelationType string `json:"relationType"`
}

// Ability describes a named power or skill.
type Ability struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PowerTier   string `json:"powerTier"`
}

// EnrichmentFields is the document of AI-generated enrichment content. Every
// field is optional; absent fields stay untouched when new results merge in.
type EnrichmentFields struct {
	Personality   string         `json:"personality,omitempty"`
	Backstory     string         `json:"backstory,omitempty"`
	Development   string         `json:"development,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Abilities     []Ability      `json:"abilities,omitempty"`
	Arcs          []string       `json:"arcs,omitempty"`
	Trivia        []string       `json:"trivia,omitempty"`
	Quotes        []string       `json:"quotes,omitempty"`
	Symbolism     string         `json:"symbolism,omitempty"`
	Reception     string         `json:"reception,omitempty"`
	Significance  string         `json:"significance,omitempty"`
}

// IsEmpty reports whether no field carries content.
func (f EnrichmentFields) IsEmpty() bool {
	return strings.TrimSpace(f.Personality) == "" &&
		strings.TrimSpace(f.Backstory) == "" &&
		strings.TrimSpace(f.Development) == "" &&
		len(f.Relationships) == 0 &&
		len(f.Abilities) == 0 &&
		len(f.Arcs) == 0 &&
		len(f.Trivia) == 0 &&
		len(f.Quotes) == 0 &&
		strings.TrimSpace(f.Symbolism) == "" &&
		strings.TrimSpace(f.Reception) == "" &&
		strings.TrimSpace(f.Significance) == ""
}

// MergeFrom overwrites each top-level field that the update populates and
// leaves the rest untouched. Updates replace a field wholesale; list fields
// are never concatenated across runs.
func (f *EnrichmentFields) MergeFrom(update EnrichmentFields) {
	if strings.TrimSpace(update.Personality) != "" {
		f.Personality = update.Personality
	}
	if strings.TrimSpace(update.Backstory) != "" {
		f.Backstory = update.Backstory
	}
	if strings.TrimSpace(update.Development) != "" {
		f.Development = update.Development
	}
	if len(update.Relationships) > 0 {
		f.Relationships = update.Relationships
	}
	if len(update.Abilities) > 0 {
		f.Abilities = update.Abilities
	}
	if len(update.Arcs) > 0 {
		f.Arcs = update.Arcs
	}
	if len(update.Trivia) > 0 {
		f.Trivia = update.Trivia
	}
	if len(update.Quotes) > 0 {
		f.Quotes = update.Quotes
	}
	if strings.TrimSpace(update.Symbolism) != "" {
		f.Symbolism = update.Symbolism
	}
	if strings.TrimSpace(update.Reception) != "" {
		f.Reception = update.Reception
	}
	if strings.TrimSpace(update.Significance) != "" {
		f.Significance = update.Significance
	}
}

// EnrichmentRecord tracks enrichment state for one character. Attempts only
// ever grows; Revision backs the optimistic save check in the store.
type EnrichmentRecord struct {
	ID            int64
	CharacterID   int64
	Status        Status
	Attempts      int
	Protected     bool
	Revision      int64
	Fields        EnrichmentFields
	LastError     string
	LastAttemptAt *time.Time
	LastSuccessAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Summary aggregates record counts for diagnostic output.
type Summary struct {
	Characters int
	Records    int
	Pending    int
	Succeeded  int
	Failed     int
	Skipped    int
	Protected  int
}

// DatabaseHealth captures diagnostic information about the catalog database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalCharacters  int
	Error            string
}
