package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/classify"
	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/entity"
	"github.com/tomasvik/docpipe/internal/extract"
	"github.com/tomasvik/docpipe/internal/queue"
)

// processItem carries one item from PENDING to a terminal status. All error
// paths land in fail(); the only non-failure exits are COMPLETED and the
// duplicate SKIPPED path.
func (o *Orchestrator) processItem(ctx context.Context, item queue.Item) {
	loc := item.Locator
	if err := o.store.UpdateStatus(loc, constants.ItemProcessing, "", ""); err != nil {
		o.logger.Error("mark_processing_failed", "locator", loc, "error", err)
		return
	}
	o.logger.Info("item_started", "locator", loc, "priority", item.Priority)
	o.bus.publish(Event{Kind: EventItemStarted, Locator: loc, Status: constants.ItemProcessing})

	fp, size, err := Fingerprint(loc)
	if err != nil {
		o.fail(loc, err)
		return
	}

	dup, err := o.gateway.HasFingerprint(ctx, fp)
	if err != nil {
		o.fail(loc, err)
		return
	}
	if dup {
		o.finish(loc, constants.ItemSkipped, "", "duplicate content")
		return
	}

	result, err := o.buildResult(ctx, loc, fp, size)
	if err != nil {
		o.fail(loc, err)
		return
	}

	// Placeholder items skip both classification and review: there is no
	// machine judgment to second-guess.
	if !result.Placeholder {
		decision := o.cfg.Policy.Decide(result.Classification.Confidence)
		if decision.Review {
			o.logger.Info("review_requested",
				"locator", loc,
				"confidence", result.Classification.Confidence,
				"reason", decision.Reason)
			verdict, err := o.gate.RequestReview(ctx, result)
			if err != nil {
				o.fail(loc, common.NewAppError(common.CodeEnvironment, "review gate failed", err))
				return
			}
			o.bus.publish(Event{Kind: EventReviewResolved, Locator: loc, Verdict: verdict.Verdict})
			if verdict.Verdict == entity.VerdictRejected {
				o.finishFailed(loc, common.CodeRejected, "rejected by reviewer: "+verdict.Reason)
				return
			}
			verdict.Apply(result)
		}
	}

	// The shape invariants hold for everything that reaches persistence,
	// reviewed or not.
	if err := classify.ValidateShape(result.Classification); err != nil {
		o.fail(loc, err)
		return
	}

	id, err := o.gateway.Save(ctx, result)
	if err != nil {
		o.fail(loc, err)
		return
	}

	o.logger.Info("item_completed", "locator", loc, "document_id", id.String(), "pages", len(result.Pages))
	o.finish(loc, constants.ItemCompleted, "", "")
}

// buildResult runs fingerprint-onward extraction and classification and
// assembles the ProcessingResult. Page-level extraction failures are
// tolerated; only file-level failures (describe, classification) propagate.
func (o *Orchestrator) buildResult(ctx context.Context, loc, fp string, size int64) (*entity.ProcessingResult, error) {
	info, err := o.extractor.Describe(ctx, loc)
	if err != nil {
		var ae *common.AppError
		if !errors.As(err, &ae) {
			err = common.NewAppError(common.CodeExtractionFailed, "describe source file", err)
		}
		return nil, err
	}

	result := &entity.ProcessingResult{
		Locator:      loc,
		Fingerprint:  fp,
		Format:       info.Format,
		SizeBytes:    size,
		DiscoveredAt: time.Now().UTC(),
		Pages:        make([]entity.PageExtraction, 0, info.Pages),
	}

	for page := 0; page < info.Pages; page++ {
		pt, err := o.extractor.ExtractPage(ctx, extract.Request{
			Path:     loc,
			Page:     page,
			Mode:     o.cfg.ExtractMode,
			Language: o.cfg.Language,
		})
		if err != nil {
			o.logger.Warn("page_extraction_failed", "locator", loc, "page", page, "error", err)
			result.Pages = append(result.Pages, entity.PageExtraction{
				Index:  page,
				Mode:   string(o.cfg.ExtractMode),
				Failed: true,
			})
			continue
		}
		result.Pages = append(result.Pages, entity.PageExtraction{
			Index:      page,
			Text:       pt.Text,
			Confidence: pt.Confidence,
			Mode:       string(o.cfg.ExtractMode),
		})
	}

	text := result.ExtractedText()
	if text == "" {
		result.Placeholder = true
		result.Classification = entity.PlaceholderClassification()
		o.logger.Info("placeholder_recorded", "locator", loc, "pages", len(result.Pages))
		return result, nil
	}

	cls, err := o.classifier.Classify(ctx, text)
	if err != nil {
		return nil, err
	}
	result.Classification = cls
	return result, nil
}

// fail maps an error to its taxonomy code, marks the item FAILED, and
// escalates environment codes to the host.
func (o *Orchestrator) fail(loc string, err error) {
	code := common.CodeOf(err)
	o.logger.Error("item_failed", "locator", loc, "code", string(code), "retryable", code.Retryable(), "error", err)
	o.finishFailed(loc, code, err.Error())
	if code == common.CodeEnvironment {
		o.bus.publish(Event{Kind: EventEnvironment, Locator: loc, Code: code, Message: err.Error()})
	}
}

func (o *Orchestrator) finishFailed(loc string, code common.Code, msg string) {
	if err := o.store.UpdateStatus(loc, constants.ItemFailed, code, msg); err != nil {
		o.logger.Error("mark_failed_failed", "locator", loc, "error", err)
	}
	o.bus.publish(Event{Kind: EventItemFinished, Locator: loc, Status: constants.ItemFailed, Code: code, Message: msg})
	o.progress(loc)
}

func (o *Orchestrator) finish(loc string, status constants.ItemStatus, code common.Code, msg string) {
	if err := o.store.UpdateStatus(loc, status, code, msg); err != nil {
		o.logger.Error("mark_terminal_failed", "locator", loc, "status", string(status), "error", err)
	}
	o.bus.publish(Event{Kind: EventItemFinished, Locator: loc, Status: status, Message: msg})
	o.progress(loc)
}
