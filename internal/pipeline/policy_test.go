package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholdPolicy(t *testing.T) {
	p := Policy{Mode: ModeThreshold, Low: 0.33, High: 0.85}

	tests := []struct {
		name       string
		confidence float64
		review     bool
	}{
		{"well above high", 0.95, false},
		{"exactly high is not auto-accepted", 0.85, true},
		{"just above high", 0.8501, false},
		{"inside the band", 0.5, true},
		{"exactly low", 0.33, true},
		{"below low", 0.20, true},
		{"zero", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.confidence)
			assert.Equal(t, tt.review, d.Review)
			if tt.review {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestThresholdPolicyReasons(t *testing.T) {
	p := Policy{Mode: ModeThreshold, Low: 0.33, High: 0.85}
	assert.Equal(t, "low classification confidence", p.Decide(0.1).Reason)
	assert.Equal(t, "uncertain classification confidence", p.Decide(0.6).Reason)
}

func TestAlwaysReviewPolicy(t *testing.T) {
	p := Policy{Mode: ModeAlwaysReview, Low: 0.33, High: 0.85}
	for _, c := range []float64{0, 0.5, 0.99, 1} {
		d := p.Decide(c)
		assert.True(t, d.Review)
	}
}
