package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/ticket-archiver/internal/config"
	"github.com/spec-kit/ticket-archiver/internal/dispatcher"
	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/history"
	"github.com/spec-kit/ticket-archiver/internal/idempotency"
	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

type fakeTicketClient struct {
	ticket   domain.RawTicket
	tags     []string
	articles []domain.RawArticle

	getTicketErr   error
	listTagsErr    error
	listArticlesErr error

	addedTags   []string
	removedTags []string
	notes       []string

	attachmentContent map[string][]byte
}

func (f *fakeTicketClient) GetTicket(ctx context.Context, ticketID int64) (domain.RawTicket, error) {
	return f.ticket, f.getTicketErr
}

func (f *fakeTicketClient) ListTags(ctx context.Context, ticketID int64) ([]string, error) {
	return f.tags, f.listTagsErr
}

func (f *fakeTicketClient) ListArticles(ctx context.Context, ticketID int64) ([]domain.RawArticle, error) {
	return f.articles, f.listArticlesErr
}

func (f *fakeTicketClient) AddTag(ctx context.Context, ticketID int64, tag string) error {
	f.addedTags = append(f.addedTags, tag)
	return nil
}

func (f *fakeTicketClient) RemoveTag(ctx context.Context, ticketID int64, tag string) error {
	f.removedTags = append(f.removedTags, tag)
	return nil
}

func (f *fakeTicketClient) CreateInternalNote(ctx context.Context, ticketID int64, subject, bodyHTML string) error {
	f.notes = append(f.notes, subject)
	return nil
}

func (f *fakeTicketClient) GetAttachmentContent(ctx context.Context, ticketID, articleID int64, attachmentID string) ([]byte, error) {
	return f.attachmentContent[attachmentID], nil
}

type fakeRenderer struct {
	pdf []byte
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, snapshot domain.TicketSnapshot) ([]byte, error) {
	return f.pdf, f.err
}

type fakeDeliveryStore struct {
	claimed map[string]bool
}

func (f *fakeDeliveryStore) Claim(ctx context.Context, deliveryID string, ttl time.Duration) (idempotency.ClaimResult, error) {
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	if f.claimed[deliveryID] {
		return idempotency.Duplicate, nil
	}
	f.claimed[deliveryID] = true
	return idempotency.Fresh, nil
}

func baseTicket() domain.RawTicket {
	return domain.RawTicket{
		ID:        42,
		Number:    "10042",
		Title:     "Printer is on fire",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		OwnerName: "agent.smith",
		CustomFields: map[string]any{
			"archive_path": "Customers>Acme",
		},
	}
}

func newTestOrchestrator(t *testing.T, tms TicketClient, renderer *fakeRenderer) (*Orchestrator, string) {
	root := t.TempDir()
	o := New(Orchestrator{
		TMS:      tms,
		Renderer: renderer,
		Delivery: &fakeDeliveryStore{},
		InFlight: idempotency.NewInFlightLock(),
		History:  history.NewLedger(10),
		Logger:   zaptest.NewLogger(t),
		Service:  ServiceInfo{Name: "ticket-archiver", Version: "test"},
		TagNames: domain.TagNames{
			Trigger:    "pdf:sign",
			Processing: "pdf:processing",
			Done:       "pdf:signed",
			Error:      "pdf:error",
		},
		RequireTriggerTag: true,
		DeliveryTTL:       time.Hour,
		PathPolicy: config.PathPolicyConfig{
			ArchivePathField:     "archive_path",
			ArchiveUserField:     "archive_user",
			ArchiveUserModeField: "archive_user_mode",
			MaxDepth:             10,
			MaxSegmentLength:     64,
			FilenamePattern:      "Ticket-{ticket_number}_{timestamp_utc}.pdf",
		},
		Storage: config.StorageConfig{Root: root},
		Snapshot: config.SnapshotConfig{
			ArticleLimit: 500,
			LimitMode:    "fail",
		},
	})
	return o, root
}

func TestProcess_HappyPathArchivesAndTagsDone(t *testing.T) {
	tms := &fakeTicketClient{
		ticket: baseTicket(),
		tags:   []string{"pdf:sign"},
	}
	renderer := &fakeRenderer{pdf: []byte("%PDF-1.4 fake")}
	o, root := newTestOrchestrator(t, tms, renderer)

	result := o.Process(context.Background(), dispatcher.Job{
		TicketID:   42,
		DeliveryID: "delivery-1",
		RequestID:  "req-1",
		Payload:    map[string]any{},
	})

	if result.Status != history.StatusProcessed {
		t.Fatalf("expected StatusProcessed, got %v (%s)", result.Status, result.Message)
	}
	if len(tms.notes) != 1 {
		t.Fatalf("expected exactly one success note, got %d", len(tms.notes))
	}
	if contains(tms.addedTags, "pdf:processing") == false {
		t.Fatalf("expected processing tag to be added, got %v", tms.addedTags)
	}
	if contains(tms.addedTags, "pdf:signed") == false {
		t.Fatalf("expected done tag to be added, got %v", tms.addedTags)
	}

	entries, err := os.ReadDir(filepath.Join(root, "agent.smith", "Customers", "Acme"))
	if err != nil {
		t.Fatalf("expected archived file directory to exist: %v", err)
	}
	pdfCount := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".pdf" {
			pdfCount++
		}
	}
	if pdfCount != 1 {
		t.Fatalf("expected exactly one pdf written, found %d entries: %v", pdfCount, entries)
	}
}

func TestProcess_PersistsFetchedAttachmentContentWhenOptedIn(t *testing.T) {
	tms := &fakeTicketClient{
		ticket: baseTicket(),
		tags:   []string{"pdf:sign"},
		articles: []domain.RawArticle{
			{
				ID:      9,
				Subject: "original request",
				Attachments: []domain.AttachmentMeta{
					{ID: "3", FileName: "screenshot.png", MimeType: "image/png"},
				},
			},
		},
		attachmentContent: map[string][]byte{"3": []byte("fake-png-bytes")},
	}
	renderer := &fakeRenderer{pdf: []byte("%PDF-1.4 fake")}
	o, root := newTestOrchestrator(t, tms, renderer)
	o.Archive.PersistAttachmentContent = true

	result := o.Process(context.Background(), dispatcher.Job{
		TicketID:   42,
		DeliveryID: "delivery-1",
		RequestID:  "req-1",
		Payload:    map[string]any{},
	})

	if result.Status != history.StatusProcessed {
		t.Fatalf("expected StatusProcessed, got %v (%s)", result.Status, result.Message)
	}

	attachmentsDir := filepath.Join(root, "agent.smith", "Customers", "Acme", "attachments")
	entries, err := os.ReadDir(attachmentsDir)
	if err != nil {
		t.Fatalf("expected attachments directory to exist: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one persisted attachment, found %d: %v", len(entries), entries)
	}
	data, err := os.ReadFile(filepath.Join(attachmentsDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("expected to read persisted attachment: %v", err)
	}
	if string(data) != "fake-png-bytes" {
		t.Fatalf("expected fetched attachment content, got %q", data)
	}
}

func TestProcess_SkipsWhenTriggerTagMissing(t *testing.T) {
	tms := &fakeTicketClient{ticket: baseTicket(), tags: []string{}}
	o, _ := newTestOrchestrator(t, tms, &fakeRenderer{pdf: []byte("x")})

	result := o.Process(context.Background(), dispatcher.Job{TicketID: 42, Payload: map[string]any{}})

	if result.Status != history.StatusSkippedNotTrigger {
		t.Fatalf("expected StatusSkippedNotTrigger, got %v", result.Status)
	}
	if len(tms.addedTags) != 0 {
		t.Fatalf("expected no tag mutations on skip, got %v", tms.addedTags)
	}
}

func TestProcess_SkipsDuplicateDelivery(t *testing.T) {
	tms := &fakeTicketClient{ticket: baseTicket(), tags: []string{"pdf:sign"}}
	o, _ := newTestOrchestrator(t, tms, &fakeRenderer{pdf: []byte("x")})

	job := dispatcher.Job{TicketID: 42, DeliveryID: "dup-1", Payload: map[string]any{}}
	first := o.Process(context.Background(), job)
	second := o.Process(context.Background(), job)

	if first.Status != history.StatusProcessed {
		t.Fatalf("expected first delivery to process, got %v", first.Status)
	}
	if second.Status != history.StatusSkippedIdempotent {
		t.Fatalf("expected second delivery to be skipped as duplicate, got %v", second.Status)
	}
}

func TestProcess_RendererFailureAppliesErrorTagAndNote(t *testing.T) {
	tms := &fakeTicketClient{ticket: baseTicket(), tags: []string{"pdf:sign"}}
	renderer := &fakeRenderer{err: retryclass.NewPermanent(retryclass.CodeUnknown, "renderer exploded", nil)}
	o, _ := newTestOrchestrator(t, tms, renderer)

	result := o.Process(context.Background(), dispatcher.Job{TicketID: 42, Payload: map[string]any{}})

	if result.Status != history.StatusFailedPermanent {
		t.Fatalf("expected StatusFailedPermanent, got %v (%s)", result.Status, result.Message)
	}
	if len(tms.notes) != 1 {
		t.Fatalf("expected exactly one error note, got %d", len(tms.notes))
	}
	if !contains(tms.addedTags, "pdf:error") {
		t.Fatalf("expected error tag to be added, got %v", tms.addedTags)
	}
}

func TestProcess_TransientFailureKeepsTriggerTag(t *testing.T) {
	tms := &fakeTicketClient{
		ticket:       baseTicket(),
		tags:         []string{"pdf:sign"},
		getTicketErr: retryclass.NewTransient(retryclass.CodeTmsAuth, "tms timed out", nil),
	}
	o, _ := newTestOrchestrator(t, tms, &fakeRenderer{pdf: []byte("x")})

	result := o.Process(context.Background(), dispatcher.Job{TicketID: 42, Payload: map[string]any{}})

	if result.Status != history.StatusFailedTransient {
		t.Fatalf("expected StatusFailedTransient, got %v (%s)", result.Status, result.Message)
	}
	if !contains(tms.addedTags, "pdf:sign") {
		t.Fatalf("expected trigger tag to be re-added on transient failure, got %v", tms.addedTags)
	}
}

func TestProcess_ConcurrentInFlightIsSkipped(t *testing.T) {
	tms := &fakeTicketClient{ticket: baseTicket(), tags: []string{"pdf:sign"}}
	o, _ := newTestOrchestrator(t, tms, &fakeRenderer{pdf: []byte("x")})

	release, acquired := o.InFlight.TryAcquire(42)
	if !acquired {
		t.Fatalf("expected to acquire in-flight lock in test setup")
	}
	defer release()

	result := o.Process(context.Background(), dispatcher.Job{TicketID: 42, Payload: map[string]any{}})
	if result.Status != history.StatusSkippedInFlight {
		t.Fatalf("expected StatusSkippedInFlight, got %v", result.Status)
	}
}

func TestHandle_SkippedJobReturnsNilError(t *testing.T) {
	tms := &fakeTicketClient{ticket: baseTicket(), tags: []string{}}
	o, _ := newTestOrchestrator(t, tms, &fakeRenderer{pdf: []byte("x")})

	if err := o.Handle(context.Background(), dispatcher.Job{TicketID: 42, Payload: map[string]any{}}); err != nil {
		t.Fatalf("expected a skipped job to report nil error, got %v", err)
	}
}

func TestProcess_CancelledContextReportsCancelledStatusNotTransient(t *testing.T) {
	tms := &fakeTicketClient{ticket: baseTicket(), tags: []string{"pdf:sign"}, listArticlesErr: context.Canceled}
	o, _ := newTestOrchestrator(t, tms, &fakeRenderer{pdf: []byte("x")})

	result := o.Process(context.Background(), dispatcher.Job{TicketID: 42, Payload: map[string]any{}})
	if result.Status != history.StatusCancelled {
		t.Fatalf("expected StatusCancelled, got %v (%s)", result.Status, result.Message)
	}
	if result.Code != string(retryclass.CodeCancelled) {
		t.Fatalf("expected code %q, got %q", retryclass.CodeCancelled, result.Code)
	}
	if len(tms.notes) != 0 {
		t.Fatalf("expected no error note to be posted for a cancellation, got %v", tms.notes)
	}
}

func TestHandle_ReraisesCancellationUnchangedRatherThanConvertingToUnknown(t *testing.T) {
	tms := &fakeTicketClient{ticket: baseTicket(), tags: []string{"pdf:sign"}, listArticlesErr: context.Canceled}
	o, _ := newTestOrchestrator(t, tms, &fakeRenderer{pdf: []byte("x")})

	err := o.Handle(context.Background(), dispatcher.Job{TicketID: 42, Payload: map[string]any{}})
	classified, ok := err.(*retryclass.Error)
	if !ok {
		t.Fatalf("expected a *retryclass.Error, got %T (%v)", err, err)
	}
	if classified.Code != retryclass.CodeCancelled {
		t.Fatalf("expected Handle to re-raise CodeCancelled unchanged, got %q", classified.Code)
	}
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
