package review

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tomasvik/docpipe/internal/entity"
)

const excerptLen = 600

// ConsoleGate presents each provisional result on a terminal and reads the
// reviewer's decision from stdin. It re-prompts on malformed edits instead of
// failing the item.
type ConsoleGate struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewConsoleGate(in io.Reader, out io.Writer) *ConsoleGate {
	return &ConsoleGate{in: bufio.NewScanner(in), out: out}
}

func (g *ConsoleGate) RequestReview(ctx context.Context, result *entity.ProcessingResult) (entity.ReviewDecision, error) {
	g.present(result)

	for {
		if ctx.Err() != nil {
			return cancelledDecision(), nil
		}

		fmt.Fprint(g.out, "[a]pprove / [e]dit / [r]eject? ")
		choice, ok := g.readLine()
		if !ok {
			return cancelledDecision(), nil
		}

		switch strings.ToLower(choice) {
		case "a", "approve":
			return entity.ReviewDecision{Verdict: entity.VerdictApproved}, nil
		case "e", "edit":
			if d, ok := g.collectEdits(result); ok {
				return d, nil
			}
			// malformed edits: message already printed, prompt again
		case "r", "reject":
			fmt.Fprint(g.out, "reason: ")
			reason, ok := g.readLine()
			if !ok || reason == "" {
				reason = "rejected by reviewer"
			}
			return entity.ReviewDecision{Verdict: entity.VerdictRejected, Reason: reason}, nil
		default:
			fmt.Fprintln(g.out, "unrecognized choice")
		}
	}
}

func (g *ConsoleGate) present(result *entity.ProcessingResult) {
	fmt.Fprintf(g.out, "\n--- review: %s ---\n", result.Locator)
	text := result.ExtractedText()
	if len(text) > excerptLen {
		// back up to a rune boundary so the cut never splits a character
		cut := excerptLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "…"
	}
	fmt.Fprintf(g.out, "extracted text:\n%s\n\n", text)
	for _, tag := range result.Classification.Tags {
		fmt.Fprintf(g.out, "  %s: %s\n", tag.Category, tag.Value)
	}
	fmt.Fprintf(g.out, "summary: %s\n", result.Classification.Summary)
	fmt.Fprintf(g.out, "confidence: %.2f\n", result.Classification.Confidence)
}

// collectEdits prompts per category and for the summary. Empty input keeps the
// provisional value. Returns ok=false when the combined result is malformed.
func (g *ConsoleGate) collectEdits(result *entity.ProcessingResult) (entity.ReviewDecision, bool) {
	tags := make([]entity.Tag, 0, len(result.Classification.Tags))
	for _, tag := range result.Classification.Tags {
		fmt.Fprintf(g.out, "%s [%s]: ", tag.Category, tag.Value)
		v, ok := g.readLine()
		if !ok {
			return entity.ReviewDecision{}, false
		}
		if v != "" {
			tag.Value = strings.ToLower(v)
		}
		tags = append(tags, tag)
	}

	fmt.Fprint(g.out, "summary (empty keeps current): ")
	summary, _ := g.readLine()

	d := entity.ReviewDecision{Verdict: entity.VerdictApproved, Tags: tags, Summary: summary}
	check := &Request{Result: result, reply: make(chan entity.ReviewDecision, 1)}
	if err := check.Resolve(d); err != nil {
		fmt.Fprintf(g.out, "invalid edit: %v\n", err)
		return entity.ReviewDecision{}, false
	}
	return d, true
}

func (g *ConsoleGate) readLine() (string, bool) {
	if !g.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(g.in.Text()), true
}
