package pipeline

// PolicyMode selects how classification confidence gates human review.
type PolicyMode string

const (
	// ModeAlwaysReview routes every classified item through review.
	ModeAlwaysReview PolicyMode = "always-review"
	// ModeThreshold auto-accepts above High and reviews everything else.
	ModeThreshold PolicyMode = "threshold"
)

// Policy is a pure decision function over a confidence score. It holds no
// state and touches no I/O, so hosts can probe it directly.
type Policy struct {
	Mode PolicyMode
	Low  float64
	High float64
}

// Decision says whether an item needs human review and why.
type Decision struct {
	Review bool
	Reason string
}

// Decide maps a confidence score to a review decision. In threshold mode
// only scores strictly above High are auto-accepted; scores below Low are
// flagged as low confidence, everything in between as uncertain.
func (p Policy) Decide(confidence float64) Decision {
	if p.Mode == ModeAlwaysReview {
		return Decision{Review: true, Reason: "review required by policy"}
	}
	switch {
	case confidence > p.High:
		return Decision{}
	case confidence < p.Low:
		return Decision{Review: true, Reason: "low classification confidence"}
	default:
		return Decision{Review: true, Reason: "uncertain classification confidence"}
	}
}
