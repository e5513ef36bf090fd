package ingress

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebhookMiddlewareConfig configures the fixed-order chain ahead of the
// ingest handlers (§4.11).
type WebhookMiddlewareConfig struct {
	MaxBodyBytes      int64
	RequestsPerSecond float64
	Burst             int
	TrustedHeader     string
	Secret            string
	AllowUnsigned     bool
	RequireDeliveryID bool
	RequestTimeout    time.Duration
	IsDraining        func() bool
}

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Handlers  *Handlers
	Webhook   WebhookMiddlewareConfig
	Unguarded bool // true in tests that want routes without the webhook chain
}

// RegisterRoutes wires the ingest, retry, job-visibility, health, and
// metrics routes, mounting the webhook middleware chain ahead of every
// ingest-family route in the fixed order §4.11 specifies.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/healthz", cfg.Handlers.Healthz)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/jobs/:ticket_id", cfg.Handlers.JobsForTicket)
	app.Get("/jobs", cfg.Handlers.JobsRecent)

	ingest := app.Group("/", webhookChain(cfg.Webhook, cfg.Unguarded)...)
	ingest.Post("/ingest", cfg.Handlers.Ingest)
	ingest.Post("/ingest/batch", cfg.Handlers.IngestBatch)
	ingest.Post("/retry/:ticket_id", cfg.Handlers.Retry)
}

// webhookChain returns the §4.11 middleware chain in its fixed order:
// request id, body-size limit, rate limit, HMAC verification,
// delivery-id enforcement, drain gate, request context.
func webhookChain(cfg WebhookMiddlewareConfig, unguarded bool) []fiber.Handler {
	if unguarded {
		return []fiber.Handler{RequestID(), RequestContext(cfg.RequestTimeout)}
	}
	return []fiber.Handler{
		RequestID(),
		BodySizeLimit(cfg.MaxBodyBytes),
		RateLimit(cfg.RequestsPerSecond, cfg.Burst, cfg.TrustedHeader),
		HMACVerify(cfg.Secret, cfg.AllowUnsigned),
		RequireDeliveryID(cfg.RequireDeliveryID),
		ShuttingDown(cfg.IsDraining),
		RequestContext(cfg.RequestTimeout),
	}
}
