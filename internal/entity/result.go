package entity

import (
	"time"

	"github.com/tomasvik/docpipe/constants"
)

// Tag is one category:value pair with the classifier's confidence.
type Tag struct {
	Category   constants.TagCategory
	Value      string
	Confidence float64
}

// PageExtraction is the outcome of extracting one page. Failed pages keep
// their index with empty text so partial files stay accounted for.
type PageExtraction struct {
	Index      int
	Text       string
	Confidence float64
	Mode       string // "fast" | "high-accuracy"
	Failed     bool
}

// Classification is the fixed-shape structured result of the inference call:
// one tag per required category, a two-sentence summary, and a confidence.
type Classification struct {
	Tags       []Tag
	Summary    string
	Confidence float64
	Model      string
}

// ProcessingResult is everything a successful run through extraction and
// classification produces for one work item. It is handed whole to the review
// gate or the persistence gateway, never piecewise.
type ProcessingResult struct {
	Locator        string
	Fingerprint    string // hex sha-256 over file bytes
	Format         constants.Format
	SizeBytes      int64
	DiscoveredAt   time.Time
	Pages          []PageExtraction
	Classification Classification
	Placeholder    bool // no extractable text; classification is the fixed placeholder
}

// ExtractedText concatenates the usable page texts in page order.
func (r *ProcessingResult) ExtractedText() string {
	var out string
	for _, p := range r.Pages {
		if p.Failed || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p.Text
	}
	return out
}

// PlaceholderClassification is the fixed result recorded when no page yielded
// text. Absence of text is a valid outcome, not an error.
func PlaceholderClassification() Classification {
	return Classification{
		Tags: []Tag{
			{Category: constants.CategoryDoctype, Value: constants.PlaceholderDoctype, Confidence: 1.0},
			{Category: constants.CategoryTopic, Value: constants.PlaceholderTopic, Confidence: 1.0},
			{Category: constants.CategoryLanguage, Value: constants.PlaceholderLanguage, Confidence: 1.0},
			{Category: constants.CategorySensitivity, Value: constants.PlaceholderSensitivity, Confidence: 1.0},
		},
		Summary:    constants.PlaceholderSummary,
		Confidence: 1.0,
		Model:      "placeholder",
	}
}
