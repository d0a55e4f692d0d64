package constants

import "strings"

// TagCategory names one axis of the classification taxonomy. Every persisted
// result carries exactly one tag per required category.
type TagCategory string

const (
	CategoryDoctype     TagCategory = "doctype"
	CategoryTopic       TagCategory = "topic"
	CategoryLanguage    TagCategory = "language"
	CategorySensitivity TagCategory = "sensitivity"
)

var requiredCategories = []TagCategory{
	CategoryDoctype,
	CategoryTopic,
	CategoryLanguage,
	CategorySensitivity,
}

// RequiredCategories returns the closed category set, in canonical order.
func RequiredCategories() []TagCategory {
	out := make([]TagCategory, len(requiredCategories))
	copy(out, requiredCategories)
	return out
}

// RequiredTagCount is the exact number of tags a persistable result carries.
func RequiredTagCount() int { return len(requiredCategories) }

// CanonicalizeCategory maps free-form model output to a known category.
func CanonicalizeCategory(input string) (TagCategory, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]TagCategory{
		"doctype":        CategoryDoctype,
		"document_type":  CategoryDoctype,
		"type":           CategoryDoctype,
		"topic":          CategoryTopic,
		"subject":        CategoryTopic,
		"domain":         CategoryTopic,
		"language":       CategoryLanguage,
		"lang":           CategoryLanguage,
		"sensitivity":    CategorySensitivity,
		"classification": CategorySensitivity,
	}
	if c, ok := synonyms[normalized]; ok {
		return c, true
	}
	return "", false
}

// Placeholder tag values used when a file yields no extractable text.
const (
	PlaceholderDoctype     = "unreadable"
	PlaceholderTopic       = "none"
	PlaceholderLanguage    = "unknown"
	PlaceholderSensitivity = "unclassified"
)

// PlaceholderSummary is the fixed two-sentence summary for empty-content results.
const PlaceholderSummary = "No machine-readable text could be extracted from this document. It was cataloged from file metadata only."
