// Package orchestrator runs the end-to-end archival pipeline for a
// single ticket: tag-gated fetch, render, optional sign/timestamp,
// atomic storage write, audit sidecar, and outcome tagging/notes. It
// is the component the dispatcher invokes for every job, grounded on
// the original implementation's process_ticket job.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-archiver/internal/config"
	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/history"
	"github.com/spec-kit/ticket-archiver/internal/idempotency"
	"github.com/spec-kit/ticket-archiver/internal/observability"
	"github.com/spec-kit/ticket-archiver/internal/renderer"
	"github.com/spec-kit/ticket-archiver/internal/signer"
	"github.com/spec-kit/ticket-archiver/internal/snapshot"
	"github.com/spec-kit/ticket-archiver/internal/tmsclient"
)

// TicketClient is the subset of tmsclient.Client the orchestrator
// depends on, narrowed to an interface so tests can substitute a fake.
type TicketClient interface {
	GetTicket(ctx context.Context, ticketID int64) (domain.RawTicket, error)
	ListTags(ctx context.Context, ticketID int64) ([]string, error)
	ListArticles(ctx context.Context, ticketID int64) ([]domain.RawArticle, error)
	AddTag(ctx context.Context, ticketID int64, tag string) error
	RemoveTag(ctx context.Context, ticketID int64, tag string) error
	CreateInternalNote(ctx context.Context, ticketID int64, subject, bodyHTML string) error
	GetAttachmentContent(ctx context.Context, ticketID, articleID int64, attachmentID string) ([]byte, error)
}

var _ TicketClient = (*tmsclient.Client)(nil)

// Signer performs the optional PAdES signing step; nil means signing is
// disabled for this process.
type Signer interface {
	Sign(ctx context.Context, pdfBytes []byte, material signer.Material, tsa signer.TSAStamper) ([]byte, error)
}

type signFunc func(ctx context.Context, pdfBytes []byte, material signer.Material, tsa signer.TSAStamper) ([]byte, error)

func (f signFunc) Sign(ctx context.Context, pdfBytes []byte, material signer.Material, tsa signer.TSAStamper) ([]byte, error) {
	return f(ctx, pdfBytes, material, tsa)
}

// Orchestrator wires together every collaborator the pipeline needs.
// One instance is shared across all jobs; per-job state never survives
// past a single Process call.
type Orchestrator struct {
	TMS       TicketClient
	Renderer  renderer.Renderer
	Signer    Signer
	TSA       signer.TSAStamper
	Material  *signer.Material // nil when signing is disabled
	Delivery  idempotency.DeliveryStore
	InFlight  *idempotency.InFlightLock
	History   *history.Ledger
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Service   ServiceInfo

	TagNames          domain.TagNames
	RequireTriggerTag bool
	DeliveryTTL       time.Duration

	PathPolicy config.PathPolicyConfig
	Storage    config.StorageConfig
	Snapshot   config.SnapshotConfig
	Archive    config.ArchiveConfig
}

// ServiceInfo identifies the running build, embedded in audit records
// and used in note subjects.
type ServiceInfo struct {
	Name           string
	Version        string
	RuntimeVersion string
}

// New constructs an Orchestrator, defaulting Signer to the package's
// signer.Sign function when Material is non-nil and Signer was left
// unset.
func New(o Orchestrator) *Orchestrator {
	if o.Signer == nil && o.Material != nil {
		o.Signer = signFunc(signer.Sign)
	}
	return &o
}

// Result summarises one Process call for callers that want to inspect
// the outcome beyond what History already recorded.
type Result struct {
	Status         history.Status
	Classification string
	Message        string
	Code           string
}

func (o *Orchestrator) recordHistory(ticketID int64, status history.Status, classification, message, deliveryID, requestID string) {
	if o.History == nil {
		return
	}
	o.History.Record(history.Entry{
		TicketID:       ticketID,
		Status:         status,
		Classification: classification,
		Message:        message,
		DeliveryID:     deliveryID,
		RequestID:      requestID,
		Timestamp:      time.Now().UTC(),
	})
}

func (o *Orchestrator) skip(reason string, ticketID int64, status history.Status, deliveryID, requestID string) Result {
	o.Logger.Info("orchestrator: skipping job", zap.String("reason", reason), zap.Int64("ticket_id", ticketID))
	if o.Metrics != nil {
		o.Metrics.JobsSkippedTotal.WithLabelValues(reason).Inc()
	}
	o.recordHistory(ticketID, status, "", "", deliveryID, requestID)
	return Result{Status: status}
}

// snapshotOptions translates the orchestrator's snapshot configuration
// into snapshot.Options.
func (o *Orchestrator) snapshotOptions() snapshot.Options {
	mode := snapshot.ArticleLimitFail
	if o.Snapshot.LimitMode == string(snapshot.ArticleLimitCapAndContinue) {
		mode = snapshot.ArticleLimitCapAndContinue
	}
	return snapshot.Options{
		ArticleLimit: o.Snapshot.ArticleLimit,
		LimitMode:    mode,
	}
}
