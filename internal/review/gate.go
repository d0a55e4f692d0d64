// Package review implements the human verification checkpoint. The
// orchestrator blocks on RequestReview until a decision exists; hosts decide
// how the human actually sees the provisional result.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomasvik/docpipe/internal/classify"
	"github.com/tomasvik/docpipe/internal/entity"
)

// Gate is the synchronous suspension point in the per-item pipeline.
type Gate interface {
	RequestReview(ctx context.Context, result *entity.ProcessingResult) (entity.ReviewDecision, error)
}

// ErrAlreadyResolved is returned when a host resolves the same request twice.
var ErrAlreadyResolved = errors.New("review request already resolved")

// Request is one pending review a host must answer. Malformed resolutions are
// returned to the host; the pipeline keeps waiting for a valid one.
type Request struct {
	Result *entity.ProcessingResult

	mu       sync.Mutex
	resolved bool
	reply    chan entity.ReviewDecision
}

// Resolve validates and submits the decision. Approved edits must satisfy the
// same shape invariants as model output; rejections need a reason.
func (r *Request) Resolve(d entity.ReviewDecision) error {
	switch d.Verdict {
	case entity.VerdictApproved:
		effective := r.Result.Classification
		if d.Tags != nil {
			effective.Tags = d.Tags
		}
		if d.Summary != "" {
			effective.Summary = d.Summary
		}
		if err := classify.ValidateShape(effective); err != nil {
			return fmt.Errorf("edited result is malformed: %w", err)
		}
	case entity.VerdictRejected:
		if d.Reason == "" {
			return errors.New("rejection requires a reason")
		}
	default:
		return fmt.Errorf("unknown verdict %q", d.Verdict)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return ErrAlreadyResolved
	}
	r.resolved = true
	r.reply <- d
	close(r.reply)
	return nil
}

// ChannelGate hands review requests to a host over a channel and blocks until
// the host resolves them. No timeout is imposed here; a host that wants to
// abandon a review rejects with reason "cancelled".
type ChannelGate struct {
	requests chan *Request
}

func NewChannelGate(buffer int) *ChannelGate {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelGate{requests: make(chan *Request, buffer)}
}

// Requests is the host's side of the gate.
func (g *ChannelGate) Requests() <-chan *Request {
	return g.requests
}

func (g *ChannelGate) RequestReview(ctx context.Context, result *entity.ProcessingResult) (entity.ReviewDecision, error) {
	req := &Request{
		Result: result,
		reply:  make(chan entity.ReviewDecision, 1),
	}

	select {
	case g.requests <- req:
	case <-ctx.Done():
		return cancelledDecision(), nil
	}

	select {
	case d := <-req.reply:
		return d, nil
	case <-ctx.Done():
		return cancelledDecision(), nil
	}
}

// AutoGate approves every result unchanged. Used by the batch tool and by
// hosts that run with review disabled.
type AutoGate struct{}

func (AutoGate) RequestReview(_ context.Context, _ *entity.ProcessingResult) (entity.ReviewDecision, error) {
	return entity.ReviewDecision{Verdict: entity.VerdictApproved}, nil
}

// Shutdown of the host is modeled as rejection, not as a pipeline error: the
// item fails with a reviewable reason and retryFailed can revisit it.
func cancelledDecision() entity.ReviewDecision {
	return entity.ReviewDecision{Verdict: entity.VerdictRejected, Reason: "cancelled"}
}
