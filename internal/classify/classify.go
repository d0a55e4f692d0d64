// Package classify implements the classification port: it sends extracted
// text to an OpenAI-compatible inference service and validates the returned
// structure before anything downstream sees it.
package classify

import (
	"context"

	"github.com/tomasvik/docpipe/internal/entity"
)

// Classifier is the port the orchestrator calls once per item with the
// concatenated extracted text.
type Classifier interface {
	Classify(ctx context.Context, text string) (entity.Classification, error)
	// Ping checks service reachability; used by the health poller only.
	Ping(ctx context.Context) error
}
