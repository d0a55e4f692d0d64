package classify

import (
	"fmt"
	"strings"

	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/entity"
)

// ValidateShape checks the persistable-shape invariants: exactly one tag per
// required category, no strays, and a two-sentence summary. Both the
// orchestrator (before persistence) and the review gate (on edits) call this.
func ValidateShape(cls entity.Classification) error {
	if got, want := len(cls.Tags), constants.RequiredTagCount(); got != want {
		return common.NewAppError(common.CodeValidationFailed,
			fmt.Sprintf("expected %d tags, got %d", want, got), nil)
	}

	seen := make(map[constants.TagCategory]bool, len(cls.Tags))
	for _, tag := range cls.Tags {
		if seen[tag.Category] {
			return common.NewAppError(common.CodeValidationFailed,
				fmt.Sprintf("duplicate tag category %q", tag.Category), nil)
		}
		seen[tag.Category] = true
		if strings.TrimSpace(tag.Value) == "" {
			return common.NewAppError(common.CodeValidationFailed,
				fmt.Sprintf("empty value for tag category %q", tag.Category), nil)
		}
	}
	for _, req := range constants.RequiredCategories() {
		if !seen[req] {
			return common.NewAppError(common.CodeValidationFailed,
				fmt.Sprintf("missing required tag category %q", req), nil)
		}
	}

	if n := SentenceCount(cls.Summary); n != 2 {
		return common.NewAppError(common.CodeValidationFailed,
			fmt.Sprintf("summary must be exactly two sentences, got %d", n), nil)
	}

	if cls.Confidence < 0 || cls.Confidence > 1 {
		return common.NewAppError(common.CodeValidationFailed,
			fmt.Sprintf("confidence %v out of range", cls.Confidence), nil)
	}
	return nil
}

// SentenceCount counts sentence-terminating punctuation in terminal position:
// a run of .!? followed by whitespace or end of text. Periods inside a word
// ("v1.2") do not terminate a sentence.
func SentenceCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	count := 0
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		// collapse a terminator run (e.g. "?!" or "...") into one sentence end
		j := i
		for j+1 < len(runes) && isTerminator(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || runes[j+1] == ' ' || runes[j+1] == '\n' || runes[j+1] == '\t' {
			count++
		}
		i = j
	}
	return count
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
