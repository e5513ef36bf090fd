package ingress

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-archiver/internal/dispatcher"
	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/history"
	"github.com/spec-kit/ticket-archiver/internal/idempotency"
	apperrors "github.com/spec-kit/ticket-archiver/pkg/util"
)

// Handlers implements the webhook ingest surface and the supplementary
// job-visibility/health endpoints (SPEC_FULL "SUPPLEMENTED FEATURES").
type Handlers struct {
	Scheduler   dispatcher.Scheduler
	History     *history.Ledger
	InFlight    *idempotency.InFlightLock
	IsDraining  func() bool
	Logger      *zap.Logger
	ServiceName string
	Version     string
	Ready       func() map[string]error // nil entries mean healthy
}

// NewHandlers constructs a Handlers instance.
func NewHandlers(scheduler dispatcher.Scheduler, ledger *history.Ledger, inFlight *idempotency.InFlightLock, isDraining func() bool, logger *zap.Logger, serviceName, version string, ready func() map[string]error) *Handlers {
	if isDraining == nil {
		isDraining = func() bool { return false }
	}
	return &Handlers{Scheduler: scheduler, History: ledger, InFlight: inFlight, IsDraining: isDraining, Logger: logger, ServiceName: serviceName, Version: version, Ready: ready}
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("request_id").(string)
	return id
}

// Ingest handles a single webhook delivery, submitting one job.
func (h *Handlers) Ingest(c *fiber.Ctx) error {
	var payload map[string]any
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return apperrors.NewValidationError("request body must be a JSON object", nil)
	}
	ticketID, ok := domain.ExtractTicketID(payload)
	if !ok {
		return apperrors.NewValidationError("could not determine ticket id from payload", nil)
	}

	job := dispatcher.Job{
		TicketID:   ticketID,
		DeliveryID: c.Get(deliveryIDHeader),
		RequestID:  requestID(c),
		Payload:    payload,
	}
	if err := h.submit(c, job); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted":  true,
		"ticket_id": ticketID,
	})
}

// IngestBatch handles a bare JSON array of ticket payloads, submitting one
// job per item and never failing the whole batch for one bad entry.
func (h *Handlers) IngestBatch(c *fiber.Ctx) error {
	var items []map[string]any
	if err := json.Unmarshal(c.Body(), &items); err != nil {
		return apperrors.NewValidationError("request body must be a JSON array", nil)
	}
	if len(items) == 0 {
		return apperrors.NewValidationError("request body array must not be empty", nil)
	}

	accepted := 0
	for _, item := range items {
		ticketID, ok := domain.ExtractTicketID(item)
		if !ok {
			continue
		}
		job := dispatcher.Job{
			TicketID:   ticketID,
			DeliveryID: c.Get(deliveryIDHeader),
			RequestID:  requestID(c),
			Payload:    item,
		}
		if err := h.submit(c, job); err != nil {
			continue
		}
		accepted++
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true, "count": accepted})
}

// Retry resubmits a ticket outside the normal webhook flow, e.g. for an
// operator re-running a permanently failed archival after fixing its
// custom fields.
func (h *Handlers) Retry(c *fiber.Ctx) error {
	ticketID, err := strconv.ParseInt(c.Params("ticket_id"), 10, 64)
	if err != nil || ticketID <= 0 {
		return apperrors.NewValidationError("ticket_id path parameter must be a positive integer", nil)
	}
	job := dispatcher.Job{
		TicketID:  ticketID,
		RequestID: requestID(c),
		Payload:   map[string]any{"ticket_id": ticketID},
	}
	if err := h.submit(c, job); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted", "ticket_id": ticketID, "request_id": job.RequestID})
}

func (h *Handlers) submit(c *fiber.Ctx, job dispatcher.Job) error {
	if err := h.Scheduler.Submit(c.UserContext(), job); err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrDraining):
			return apperrors.NewShuttingDown()
		case errors.Is(err, dispatcher.ErrQueueFull):
			return apperrors.NewDomainError("queue_full", "the job backlog is full; retry later", fiber.StatusServiceUnavailable, nil)
		default:
			return apperrors.NewInternalError(err)
		}
	}
	return nil
}

// JobsForTicket reports this ticket's process-local in-flight/drain state,
// per the literal HTTP contract, with the recorded history-ledger entry
// (if any) folded in as an additive extra rather than a replacement.
func (h *Handlers) JobsForTicket(c *fiber.Ctx) error {
	ticketID, err := strconv.ParseInt(c.Params("ticket_id"), 10, 64)
	if err != nil || ticketID <= 0 {
		return apperrors.NewValidationError("ticket_id path parameter must be a positive integer", nil)
	}
	out := fiber.Map{
		"ticket_id":     ticketID,
		"in_flight":     h.InFlight != nil && h.InFlight.Busy(ticketID),
		"shutting_down": h.IsDraining(),
	}
	if entry, ok := h.History.ForTicket(ticketID); ok {
		out["last_job"] = entryJSON(entry)
	}
	return c.JSON(out)
}

// JobsRecent reports the most recent job outcomes across all tickets.
func (h *Handlers) JobsRecent(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	entries := h.History.Recent(limit)
	out := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON(e))
	}
	return c.JSON(fiber.Map{"jobs": out})
}

func entryJSON(e history.Entry) fiber.Map {
	return fiber.Map{
		"ticket_id":      e.TicketID,
		"status":         e.Status,
		"classification": e.Classification,
		"message":        e.Message,
		"delivery_id":    e.DeliveryID,
		"request_id":     e.RequestID,
		"timestamp":      e.Timestamp,
	}
}

// Healthz reports ok when no dependency checks are configured, and
// otherwise invokes them and answers 503 when any fails, mirroring the teacher's Live/Ready split
// but collapsed into one probe since this service has no separate
// liveness-vs-readiness distinction worth exposing.
func (h *Handlers) Healthz(c *fiber.Ctx) error {
	if h.Ready == nil {
		return c.JSON(fiber.Map{"status": "ok", "service": h.ServiceName, "version": h.Version})
	}
	deps := h.Ready()
	status := fiber.Map{}
	healthy := true
	for name, err := range deps {
		if err != nil {
			status[name] = err.Error()
			healthy = false
		} else {
			status[name] = "ok"
		}
	}
	if healthy {
		return c.JSON(fiber.Map{"status": "ok", "service": h.ServiceName, "version": h.Version, "dependencies": status})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": status,
		},
	})
}
