package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-archiver/internal/audit"
	"github.com/spec-kit/ticket-archiver/internal/dispatcher"
	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/history"
	"github.com/spec-kit/ticket-archiver/internal/idempotency"
	"github.com/spec-kit/ticket-archiver/internal/pathpolicy"
	"github.com/spec-kit/ticket-archiver/internal/retryclass"
	"github.com/spec-kit/ticket-archiver/internal/snapshot"
	"github.com/spec-kit/ticket-archiver/internal/storage"
	"github.com/spec-kit/ticket-archiver/internal/tagstate"
)

// Handle implements dispatcher.Handler: it runs the full pipeline for
// one job, logging and recording history itself, and returns the
// classified error (if any) so an external-queue scheduler can decide
// whether to retry.
func (o *Orchestrator) Handle(ctx context.Context, job dispatcher.Job) error {
	result := o.Process(ctx, job)
	code := retryclass.Code(result.Code)
	if code == "" {
		code = retryclass.CodeUnknown
	}
	switch result.Status {
	case history.StatusCancelled:
		// Returned as a Transient-classified error carrying CodeCancelled;
		// retryclass has no separate classification for cancellation, so
		// the scheduler must branch on CodeCancelled rather than on
		// classification alone.
		return retryclass.NewTransient(code, result.Message, nil)
	case history.StatusFailedTransient:
		return retryclass.NewTransient(code, result.Message, nil)
	case history.StatusFailedPermanent:
		return retryclass.NewPermanent(code, result.Message, nil)
	default:
		return nil
	}
}

// Process runs the pipeline for one job end to end, acquiring and
// releasing the per-ticket in-flight lock, and always returns a
// Result describing the outcome rather than a bare error, mirroring
// the original's ProcessTicketResult.
func (o *Orchestrator) Process(ctx context.Context, job dispatcher.Job) Result {
	ticketID := job.TicketID
	logger := o.Logger.With(zap.Int64("ticket_id", ticketID), zap.String("delivery_id", job.DeliveryID), zap.String("request_id", job.RequestID))

	release, acquired := o.InFlight.TryAcquire(ticketID)
	if !acquired {
		return o.skip("in_flight", ticketID, history.StatusSkippedInFlight, job.DeliveryID, job.RequestID)
	}
	defer release()

	if job.DeliveryID != "" {
		claim, err := o.Delivery.Claim(ctx, job.DeliveryID, o.DeliveryTTL)
		if err != nil {
			logger.Warn("orchestrator: delivery claim failed; proceeding without idempotency guarantee", zap.Error(err))
		} else if claim == idempotency.Duplicate {
			return o.skip("idempotency", ticketID, history.StatusSkippedIdempotent, job.DeliveryID, job.RequestID)
		}
	}

	start := time.Now()
	result := o.runPipeline(ctx, logger, job)
	if o.Metrics != nil {
		o.Metrics.JobDurationSeconds.Observe(time.Since(start).Seconds())
	}
	return result
}

func (o *Orchestrator) runPipeline(ctx context.Context, logger *zap.Logger, job dispatcher.Job) Result {
	ticketID := job.TicketID

	tags, err := o.TMS.ListTags(ctx, ticketID)
	if err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	if !tagstate.ShouldProcess(tagSet, o.TagNames, o.RequireTriggerTag) {
		return o.skip("not_triggered", ticketID, history.StatusSkippedNotTrigger, job.DeliveryID, job.RequestID)
	}

	if err := o.applyTransition(ctx, ticketID, tagstate.ApplyProcessing(o.TagNames)); err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}

	ticket, err := o.TMS.GetTicket(ctx, ticketID)
	if err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}
	articles, err := o.TMS.ListArticles(ctx, ticketID)
	if err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}

	snap, err := snapshot.Build(ticket, tags, articles, o.snapshotOptions())
	if err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}

	now := time.Now().UTC()
	targetPath, err := o.resolveArchivePath(ticket, job.Payload, now)
	if err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}

	pdfBytes, err := o.Renderer.Render(ctx, snap)
	if err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}

	signing := domain.SigningState{}
	if o.Material != nil {
		signed, err := o.Signer.Sign(ctx, pdfBytes, *o.Material, o.TSA)
		if err != nil {
			return o.handleFailure(ctx, logger, job, err)
		}
		pdfBytes = signed
		signing = domain.SigningState{Enabled: true, TSAUsed: o.TSA != nil, CertFingerprint: o.Material.CertFingerprint()}
	}

	if err := storage.WriteAtomic(o.Storage.Root, targetPath, pdfBytes); err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}

	if err := o.persistAttachments(ctx, snap, targetPath); err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}

	sha256Hex := audit.SHA256Hex(pdfBytes)
	record := audit.Build(snap, targetPath, sha256Hex, signing, audit.ServiceInfo{
		Name:           o.Service.Name,
		Version:        o.Service.Version,
		RuntimeVersion: o.Service.RuntimeVersion,
	}, snapshot.Warnings(snap))
	if err := audit.WriteSidecar(o.Storage.Root, targetPath, record); err != nil {
		return o.handleFailure(ctx, logger, job, err)
	}

	// Step 12 (§4.12): the success note is posted before the DONE
	// transition, so a crash between these two steps leaves a ticket in
	// PROCESSING with a success note already attached.
	note := successNoteHTML(successNoteParams{
		StoragePath:  targetPath,
		SidecarPath:  audit.SidecarPath(targetPath),
		SizeBytes:    int64(len(pdfBytes)),
		SHA256:       sha256Hex,
		RequestID:    job.RequestID,
		DeliveryID:   job.DeliveryID,
		TimestampUTC: formatTimestampUTC(now),
	})
	if err := o.TMS.CreateInternalNote(ctx, ticketID, fmt.Sprintf("PDF archived (%s)", o.Service.Version), note); err != nil {
		logger.Error("orchestrator: could not post success note", zap.Error(err))
	}

	o.applyDoneBestEffort(ctx, logger, ticketID)

	if o.Metrics != nil {
		o.Metrics.JobsProcessedTotal.Inc()
	}
	o.recordHistory(ticketID, history.StatusProcessed, "", "", job.DeliveryID, job.RequestID)
	logger.Info("orchestrator: ticket archived", zap.String("storage_path", targetPath))
	return Result{Status: history.StatusProcessed}
}

// applyTransition executes a tag Transition by issuing the TMS add/
// remove calls; it returns the first error encountered.
func (o *Orchestrator) applyTransition(ctx context.Context, ticketID int64, t tagstate.Transition) error {
	for _, tag := range t.Add {
		if tag == "" {
			continue
		}
		if err := o.TMS.AddTag(ctx, ticketID, tag); err != nil {
			return err
		}
	}
	for _, tag := range t.Remove {
		if tag == "" {
			continue
		}
		if err := o.TMS.RemoveTag(ctx, ticketID, tag); err != nil {
			return err
		}
	}
	return nil
}

// applyDoneBestEffort retries the DONE transition a few times with a
// short backoff before giving up, logging, and attempting a best-effort
// removal of the PROCESSING tag, matching the original's
// _apply_done_with_backoff: a failure here must never fail the job,
// since the archive itself was already committed.
func (o *Orchestrator) applyDoneBestEffort(ctx context.Context, logger *zap.Logger, ticketID int64) {
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = o.applyTransition(ctx, ticketID, tagstate.ApplyDone(o.TagNames)); lastErr == nil {
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	logger.Error("orchestrator: could not apply done tag transition after retries", zap.Error(lastErr))
	if err := o.TMS.RemoveTag(ctx, ticketID, o.TagNames.Processing); err != nil {
		logger.Error("orchestrator: could not remove processing tag after failed done transition", zap.Error(err))
	}
}

// resolveArchivePath derives the username segment and archive_path
// segments from the ticket's custom fields, then resolves the final
// filesystem target through the path-policy package.
func (o *Orchestrator) resolveArchivePath(ticket domain.RawTicket, payload map[string]any, now time.Time) (string, error) {
	customFields := ticket.CustomFields
	if customFields == nil {
		customFields = map[string]any{}
	}

	username, err := o.determineUsername(ticket, payload, customFields)
	if err != nil {
		return "", err
	}

	rawSegments, err := pathpolicy.ParseArchivePathField(customFields[o.PathPolicy.ArchivePathField])
	if err != nil {
		return "", err
	}

	allSegments := append([]string{username}, rawSegments...)
	var allowedPrefixes []string
	if o.PathPolicy.AllowedPrefixesIsSet {
		allowedPrefixes = o.PathPolicy.AllowedPrefixes
	}
	sanitised, err := pathpolicy.BuildSegments(allSegments, allowedPrefixes, o.PathPolicy.MaxDepth, o.PathPolicy.MaxSegmentLength)
	if err != nil {
		return "", err
	}

	filename, err := pathpolicy.BuildFilename(o.PathPolicy.FilenamePattern, ticket.Number, now)
	if err != nil {
		return "", err
	}

	return pathpolicy.ResolvedPath(o.Storage.Root, sanitised[0], sanitised[1:], filename)
}

func (o *Orchestrator) determineUsername(ticket domain.RawTicket, payload map[string]any, customFields map[string]any) (string, error) {
	modeField := o.PathPolicy.ArchiveUserModeField
	if modeField == "" {
		modeField = "archive_user_mode"
	}
	mode := "owner"
	if raw, ok := customFields[modeField]; ok {
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			mode = strings.TrimSpace(s)
		}
	}

	switch mode {
	case "owner":
		if strings.TrimSpace(ticket.OwnerName) == "" {
			return "", retryclass.NewPermanent(retryclass.CodePathPolicy, "ticket owner login is missing", nil)
		}
		return ticket.OwnerName, nil
	case "current_agent":
		if user, ok := payload["user"].(map[string]any); ok {
			if login, ok := user["login"].(string); ok && strings.TrimSpace(login) != "" {
				return login, nil
			}
		}
		if strings.TrimSpace(ticket.OwnerName) == "" {
			return "", retryclass.NewPermanent(retryclass.CodePathPolicy, "could not determine current agent login", nil)
		}
		return ticket.OwnerName, nil
	case "fixed":
		field := o.PathPolicy.ArchiveUserField
		if raw, ok := customFields[field].(string); ok && strings.TrimSpace(raw) != "" {
			return raw, nil
		}
		return "", retryclass.NewPermanent(retryclass.CodePathPolicy, fmt.Sprintf("custom_fields.%s is required when archive_user_mode is fixed", field), nil)
	default:
		return "", retryclass.NewPermanent(retryclass.CodePathPolicy, fmt.Sprintf("unsupported archive_user_mode %q", mode), nil)
	}
}

func formatTimestampUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
