package enrich

import (
	"strings"

	"tsumugi/internal/catalog"
)

// ProfilePrompt is the system prompt sent to the model for the
// character_profile category.
const ProfilePrompt = `You write encyclopedic profiles of anime characters.

Cover only what is well established in the source material or widely reported
about the character. Leave out any section you cannot fill with substance.

Guidelines:
- personality: a few sentences on temperament, values, and flaws
- backstory: origin and pre-story history
- development: how the character changes over the story
- abilities: notable skills or powers; power_tier is optional and one of
  "street", "city", "national", "global", "cosmic" when the series supports
  that framing
- trivia: short standalone facts
- quotes: memorable lines, verbatim where known

Respond ONLY with JSON:
{"personality": "...", "backstory": "...", "development": "...", "abilities": [{"name": "...", "description": "...", "power_tier": "..."}], "trivia": ["..."], "quotes": ["..."]}`

// RelationshipPrompt is the system prompt sent to the model for the
// relationship_analysis category.
const RelationshipPrompt = `You map an anime character's relationships.

List the people who matter to the character's story. For each, name the other
party, describe the dynamic in one or two sentences, and tag the relation type
with a short lowercase label such as "family", "friend", "rival", "mentor",
"romantic", or "enemy".

Leave the list empty only if the character genuinely has no established
relationships.

Respond ONLY with JSON:
{"relationships": [{"name": "...", "description": "...", "relation_type": "..."}]}`

// TimelinePrompt is the system prompt sent to the model for the
// timeline_analysis category.
const TimelinePrompt = `You trace an anime character through their story's arcs.

List the arcs or seasons the character appears in, in story order. Each entry
is one line: the arc name followed by what the character does or undergoes in
it. Skip arcs the character sits out.

Respond ONLY with JSON:
{"arcs": ["..."]}`

// CulturalImpactPrompt is the system prompt sent to the model for the
// cultural_impact category.
const CulturalImpactPrompt = `You assess an anime character's cultural footprint.

Guidelines:
- symbolism: motifs, themes, or archetypes the character embodies
- reception: how critics and fans responded, including notable polls or awards
- significance: the character's influence on the medium or on later works

Write a short paragraph per section and omit any section that would be
speculation.

Respond ONLY with JSON:
{"symbolism": "...", "reception": "...", "significance": "..."}`

func systemPrompt(category Category) string {
	switch category {
	case CategoryRelationships:
		return RelationshipPrompt
	case CategoryTimeline:
		return TimelinePrompt
	case CategoryCulturalImpact:
		return CulturalImpactPrompt
	default:
		return ProfilePrompt
	}
}

// buildUserPrompt constructs the user message identifying the character.
func buildUserPrompt(character *catalog.Character) string {
	var b strings.Builder
	b.WriteString("Character: ")
	b.WriteString(strings.TrimSpace(character.Name))
	if series := strings.TrimSpace(character.Series); series != "" {
		b.WriteString("\nSeries: ")
		b.WriteString(series)
	}
	if description := strings.TrimSpace(character.Description); description != "" {
		b.WriteString("\nKnown description: ")
		b.WriteString(description)
	}
	return b.String()
}
