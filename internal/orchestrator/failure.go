package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-archiver/internal/dispatcher"
	"github.com/spec-kit/ticket-archiver/internal/history"
	"github.com/spec-kit/ticket-archiver/internal/retryclass"
	"github.com/spec-kit/ticket-archiver/internal/tagstate"
)

// handleFailure classifies a pipeline error, posts a best-effort error
// note, applies the ERROR tag transition, and records history,
// grounded on the original implementation's
// _handle_ticket_pipeline_exception.
func (o *Orchestrator) handleFailure(ctx context.Context, logger *zap.Logger, job dispatcher.Job, cause error) Result {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return o.handleCancelled(job.TicketID, job.DeliveryID, job.RequestID, logger)
	}

	classified := classify(cause)
	logger.Error("orchestrator: job failed",
		zap.String("code", string(classified.Code)),
		zap.String("classification", classified.Classification.String()),
		zap.Error(classified))

	o.postErrorNote(ctx, job.TicketID, classified, job.RequestID, job.DeliveryID, logger)
	o.applyErrorTransition(ctx, job.TicketID, classified.IsTransient(), logger)

	if o.Metrics != nil {
		o.Metrics.JobsFailedTotal.WithLabelValues(string(classified.Code), classified.Classification.String()).Inc()
	}

	status := history.StatusFailedPermanent
	if classified.IsTransient() {
		status = history.StatusFailedTransient
	}
	o.recordHistory(job.TicketID, status, classified.Classification.String(), classified.Message, job.DeliveryID, job.RequestID)

	return Result{Status: status, Classification: classified.Classification.String(), Message: classified.Message, Code: string(classified.Code)}
}

// handleCancelled short-circuits the usual failure path for a
// cancelled job: no error note is posted and no ERROR transition is
// applied, since the job never reached a terminal domain outcome and
// will be retried by whatever resubmits it. Only best-effort tag
// cleanup of the PROCESSING tag happens here, mirroring the original's
// narrower cancellation handling. Cancellation is neither Transient nor
// Permanent: it is reported via CodeCancelled so a caller can tell a
// deliberate shutdown apart from a retriable failure.
func (o *Orchestrator) handleCancelled(ticketID int64, deliveryID, requestID string, logger *zap.Logger) Result {
	logger.Warn("orchestrator: job cancelled", zap.Int64("ticket_id", ticketID))
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.TMS.RemoveTag(cleanupCtx, ticketID, o.TagNames.Processing); err != nil {
		logger.Warn("orchestrator: could not clean up processing tag after cancellation", zap.Error(err))
	}
	o.recordHistory(ticketID, history.StatusCancelled, "", "job cancelled", deliveryID, requestID)
	return Result{Status: history.StatusCancelled, Message: "job cancelled", Code: string(retryclass.CodeCancelled)}
}

func classify(err error) *retryclass.Error {
	classified := retryclass.Classify(err)
	if c, ok := classified.(*retryclass.Error); ok {
		return c
	}
	return retryclass.NewPermanent(retryclass.CodeUnknown, conciseMessage(err.Error()), err)
}

func (o *Orchestrator) postErrorNote(ctx context.Context, ticketID int64, classified *retryclass.Error, requestID, deliveryID string, logger *zap.Logger) {
	note := errorNoteHTML(errorNoteParams{
		Classification: classified.Classification.String(),
		Message:         conciseMessage(classified.Message),
		Code:            string(classified.Code),
		Hint:            retryclass.Hint(classified.Code),
		RequestID:       requestID,
		DeliveryID:      deliveryID,
		TimestampUTC:    formatTimestampUTC(time.Now()),
	})
	subject := fmt.Sprintf("PDF archival failed (%s)", classified.Code)
	if err := o.TMS.CreateInternalNote(ctx, ticketID, subject, note); err != nil {
		logger.Error("orchestrator: could not post error note", zap.Error(err))
	}
}

// applyErrorTransition applies the ERROR tag transition and, per the
// original's processing-tag-cleanup step, best-effort removes the
// PROCESSING tag afterward in case the transition's own removal list
// did not take (e.g. partial failure of one of the two calls).
func (o *Orchestrator) applyErrorTransition(ctx context.Context, ticketID int64, keepTrigger bool, logger *zap.Logger) {
	transition := tagstate.ApplyError(o.TagNames, keepTrigger)
	if err := o.applyTransition(ctx, ticketID, transition); err != nil {
		logger.Error("orchestrator: could not apply error tag transition, retrying once", zap.Error(err))
		time.Sleep(time.Second)
		if err := o.applyTransition(ctx, ticketID, transition); err != nil {
			logger.Error("orchestrator: error tag transition failed after retry", zap.Error(err))
		}
	}
	if err := o.TMS.RemoveTag(ctx, ticketID, o.TagNames.Processing); err != nil {
		logger.Warn("orchestrator: could not clean up processing tag after error", zap.Error(err))
	}
}
