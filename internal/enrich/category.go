package enrich

import (
	"fmt"
	"strings"

	"tsumugi/internal/services"
)

// Category selects which enrichment analysis the engine requests from the
// model and which record fields the response may populate.
type Category string

const (
	// CategoryProfile covers personality, backstory, development, abilities,
	// trivia and quotes.
	CategoryProfile Category = "character_profile"
	// CategoryRelationships covers the relationship list.
	CategoryRelationships Category = "relationship_analysis"
	// CategoryTimeline covers story arc appearances.
	CategoryTimeline Category = "timeline_analysis"
	// CategoryCulturalImpact covers symbolism, reception and significance.
	CategoryCulturalImpact Category = "cultural_impact"
)

// DefaultCategory is used when a request does not name a category.
const DefaultCategory = CategoryProfile

var allCategories = []Category{
	CategoryProfile,
	CategoryRelationships,
	CategoryTimeline,
	CategoryCulturalImpact,
}

var categorySet = func() map[Category]struct{} {
	set := make(map[Category]struct{}, len(allCategories))
	for _, category := range allCategories {
		set[category] = struct{}{}
	}
	return set
}()

// AllCategories returns the supported categories in presentation order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory validates a raw category name. An empty value selects the
// default category; unknown values are a validation error.
func ParseCategory(raw string) (Category, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return DefaultCategory, nil
	}
	category := Category(trimmed)
	if _, ok := categorySet[category]; !ok {
		return "", services.Wrap(
			services.ErrValidation,
			"enrich",
			"parse category",
			fmt.Sprintf("unknown category %q (valid: %s)", raw, joinCategories(allCategories)),
			nil,
		)
	}
	return category, nil
}

func (c Category) String() string {
	return string(c)
}

// normalizeCategory fills in the default and rejects categories that did not
// come from ParseCategory.
func normalizeCategory(category Category) (Category, error) {
	if category == "" {
		return DefaultCategory, nil
	}
	if _, ok := categorySet[category]; !ok {
		return "", services.Wrap(
			services.ErrValidation,
			"enrich",
			"validate category",
			fmt.Sprintf("unknown category %q", category),
			nil,
		)
	}
	return category, nil
}

func joinCategories(categories []Category) string {
	names := make([]string, len(categories))
	for i, category := range categories {
		names[i] = string(category)
	}
	return strings.Join(names, ", ")
}
