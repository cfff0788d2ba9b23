package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"tsumugi/internal/catalog"
	"tsumugi/internal/services"
)

// profileResult is the wire schema for the character_profile category.
type profileResult struct {
	Personality string          `json:"personality"`
	Backstory   string          `json:"backstory"`
	Development string          `json:"development"`
	Abilities   []abilityResult `json:"abilities"`
	Trivia      []string        `json:"trivia"`
	Quotes      []string        `json:"quotes"`
}

type abilityResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PowerTier   string `json:"power_tier"`
}

// relationshipResult is the wire schema for the relationship_analysis category.
type relationshipResult struct {
	Relationships []relationshipEntry `json:"relationships"`
}

type relationshipEntry struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	RelationType string `json:"relation_type"`
}

// timelineResult is the wire schema for the timeline_analysis category.
type timelineResult struct {
	Arcs []string `json:"arcs"`
}

// culturalResult is the wire schema for the cultural_impact category.
type culturalResult struct {
	Symbolism    string `json:"symbolism"`
	Reception    string `json:"reception"`
	Significance string `json:"significance"`
}

// decodeResult parses a model payload against the category schema and converts
// it into record fields. The returned canonical bytes are the normalized JSON
// form suitable for caching. Payloads that decode but carry no usable content
// are a malformed-response failure so retries are not wasted on them.
func decodeResult(category Category, payload string) (catalog.EnrichmentFields, json.RawMessage, error) {
	var (
		fields catalog.EnrichmentFields
		value  any
	)

	switch category {
	case CategoryRelationships:
		var result relationshipResult
		if err := services.DecodeModelJSON(payload, &result); err != nil {
			return catalog.EnrichmentFields{}, nil, undecodable(category, err)
		}
		fields.Relationships = cleanRelationships(result.Relationships)
		result.Relationships = nil
		for _, rel := range fields.Relationships {
			result.Relationships = append(result.Relationships, relationshipEntry{
				Name:         rel.Name,
				Description:  rel.Description,
				RelationType: rel.RelationType,
			})
		}
		value = result
	case CategoryTimeline:
		var result timelineResult
		if err := services.DecodeModelJSON(payload, &result); err != nil {
			return catalog.EnrichmentFields{}, nil, undecodable(category, err)
		}
		result.Arcs = cleanList(result.Arcs)
		fields.Arcs = result.Arcs
		value = result
	case CategoryCulturalImpact:
		var result culturalResult
		if err := services.DecodeModelJSON(payload, &result); err != nil {
			return catalog.EnrichmentFields{}, nil, undecodable(category, err)
		}
		result.Symbolism = strings.TrimSpace(result.Symbolism)
		result.Reception = strings.TrimSpace(result.Reception)
		result.Significance = strings.TrimSpace(result.Significance)
		fields.Symbolism = result.Symbolism
		fields.Reception = result.Reception
		fields.Significance = result.Significance
		value = result
	default:
		var result profileResult
		if err := services.DecodeModelJSON(payload, &result); err != nil {
			return catalog.EnrichmentFields{}, nil, undecodable(category, err)
		}
		result.Personality = strings.TrimSpace(result.Personality)
		result.Backstory = strings.TrimSpace(result.Backstory)
		result.Development = strings.TrimSpace(result.Development)
		result.Trivia = cleanList(result.Trivia)
		result.Quotes = cleanList(result.Quotes)
		fields.Personality = result.Personality
		fields.Backstory = result.Backstory
		fields.Development = result.Development
		fields.Abilities = cleanAbilities(result.Abilities)
		result.Abilities = nil
		for _, ability := range fields.Abilities {
			result.Abilities = append(result.Abilities, abilityResult{
				Name:        ability.Name,
				Description: ability.Description,
				PowerTier:   ability.PowerTier,
			})
		}
		fields.Trivia = result.Trivia
		fields.Quotes = result.Quotes
		value = result
	}

	if fields.IsEmpty() {
		return catalog.EnrichmentFields{}, nil, services.Wrap(
			services.ErrMalformedResponse,
			"enrich",
			"validate result",
			fmt.Sprintf("model returned no usable fields for category %s: response_snippet=%s",
				category, services.SummarizeSnippet(payload)),
			nil,
		)
	}

	canonical, err := json.Marshal(value)
	if err != nil {
		return catalog.EnrichmentFields{}, nil, services.Wrap(
			services.ErrMalformedResponse,
			"enrich",
			"encode result",
			"failed to normalize model response",
			err,
		)
	}
	return fields, canonical, nil
}

func undecodable(category Category, err error) error {
	return services.Wrap(
		services.ErrMalformedResponse,
		"enrich",
		"decode result",
		fmt.Sprintf("undecodable %s payload", category),
		err,
	)
}

func cleanList(values []string) []string {
	out := values[:0]
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanRelationships(entries []relationshipEntry) []catalog.Relationship {
	var out []catalog.Relationship
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			continue
		}
		out = append(out, catalog.Relationship{
			Name:         name,
			Description:  strings.TrimSpace(entry.Description),
			RelationType: strings.ToLower(strings.TrimSpace(entry.RelationType)),
		})
	}
	return out
}

func cleanAbilities(entries []abilityResult) []catalog.Ability {
	var out []catalog.Ability
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			continue
		}
		out = append(out, catalog.Ability{
			Name:        name,
			Description: strings.TrimSpace(entry.Description),
			PowerTier:   strings.ToLower(strings.TrimSpace(entry.PowerTier)),
		})
	}
	return out
}
