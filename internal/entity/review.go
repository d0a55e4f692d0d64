package entity

// Verdict is the closed set of review outcomes.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictRejected Verdict = "REJECTED"
)

// ReviewDecision is produced exactly once per reviewed ProcessingResult.
// Approved decisions may carry edited tags and summary; the gate validates
// edits against the same shape invariants before handing them back.
type ReviewDecision struct {
	Verdict Verdict
	Tags    []Tag  // nil means keep the provisional tags
	Summary string // "" means keep the provisional summary
	Reason  string // required for rejections
}

// Apply folds an approved decision's edits into the result.
func (d ReviewDecision) Apply(r *ProcessingResult) {
	if d.Verdict != VerdictApproved {
		return
	}
	if d.Tags != nil {
		r.Classification.Tags = d.Tags
	}
	if d.Summary != "" {
		r.Classification.Summary = d.Summary
	}
}
