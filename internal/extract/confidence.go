package extract

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reWordish  = regexp.MustCompile(`[A-Za-z]{3,}`)
	reSentence = regexp.MustCompile(`[.!?]\s`)
	reNoise    = regexp.MustCompile(`[|~\x60^]{2,}`)
)

// heuristicConfidence scores decoded text on cheap plausibility signals.
// It is a fallback for extraction paths that report no native confidence.
func heuristicConfidence(txt string) float64 {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" {
		return 0
	}

	score := 0.2 // base
	if reWordish.FindStringIndex(trimmed) != nil {
		score += 0.2
	}
	if reSentence.FindStringIndex(trimmed) != nil {
		score += 0.2
	}
	if len(trimmed) > 200 {
		score += 0.15
	}
	if printableRatio(trimmed) > 0.95 {
		score += 0.15
	}
	if reNoise.FindStringIndex(trimmed) != nil {
		score -= 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

func printableRatio(s string) float64 {
	if s == "" {
		return 0
	}
	printable := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

// Normalize collapses extraction artifacts: CRLF line endings, trailing
// per-line whitespace, and runs of blank lines.
func Normalize(txt string) string {
	txt = strings.ReplaceAll(txt, "\r\n", "\n")
	lines := strings.Split(txt, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, ln := range lines {
		ln = strings.TrimRight(ln, " \t")
		if ln == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
