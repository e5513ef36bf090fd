// Package ingress implements the webhook-facing middleware chain and
// HTTP surface described in spec.md §4.11/§6: request-id, body-size
// limit, rate limiting, HMAC verification, and delivery-id enforcement,
// mounted in that fixed order ahead of the orchestrator.
package ingress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // required to verify legacy sha1= webhook signatures
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/spec-kit/ticket-archiver/pkg/util"
)

const requestIDHeader = "X-Request-Id"
const deliveryIDHeader = "X-Delivery-Id"
const signatureHeader = "X-Hub-Signature"

// RequestID reads X-Request-Id or mints a uuid, storing it on both the
// request locals and the response header (§4.11.1).
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if strings.TrimSpace(id) == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set(requestIDHeader, id)
		return c.Next()
	}
}

// BodySizeLimit enforces maxBytes by rejecting requests whose advisory
// Content-Length exceeds the cap, then checking the length of the
// buffered body (§4.11.2).
func BodySizeLimit(maxBytes int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxBytes <= 0 {
			return c.Next()
		}
		if cl := c.Request().Header.ContentLength(); cl > 0 && int64(cl) > maxBytes {
			return apperrors.NewRequestTooLarge()
		}
		body := c.Body()
		if int64(len(body)) > maxBytes {
			return apperrors.NewRequestTooLarge()
		}
		return c.Next()
	}
}

// rateLimiterSet lazily creates one token bucket per client key.
type rateLimiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newRateLimiterSet(requestsPerSecond float64, burst int) *rateLimiterSet {
	return &rateLimiterSet{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (s *rateLimiterSet) allow(key string) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(s.rps, s.burst)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

// RateLimit applies a per-client token bucket (§4.11.3). The client key
// is the trusted header's value when trustedHeader is configured and
// present, otherwise the direct peer address.
func RateLimit(requestsPerSecond float64, burst int, trustedHeader string) fiber.Handler {
	set := newRateLimiterSet(requestsPerSecond, burst)
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if trustedHeader != "" {
			if v := c.Get(trustedHeader); v != "" {
				key = v
			}
		}
		if !set.allow(key) {
			return apperrors.NewRateLimited()
		}
		return c.Next()
	}
}

// HMACVerify enforces §4.11.4: a configured secret is required unless
// allowUnsigned is set and no secret is configured at all. The raw body
// is read once, verified, and replayed so downstream handlers see the
// same bytes that were signed.
func HMACVerify(secret string, allowUnsigned bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			if allowUnsigned {
				return c.Next()
			}
			return apperrors.NewWebhookAuthNotConfigured()
		}

		body := c.Body()
		sig := c.Get(signatureHeader)
		if !verifySignature(secret, sig, body) {
			return apperrors.NewForbidden("webhook signature verification failed")
		}
		c.Request().SetBody(bytes.Clone(body))
		return c.Next()
	}
}

func verifySignature(secret, header string, body []byte) bool {
	algo, hexDigest, ok := strings.Cut(header, "=")
	if !ok || hexDigest == "" {
		return false
	}
	var newHash func() hash.Hash
	switch strings.ToLower(algo) {
	case "sha256":
		newHash = sha256.New
	case "sha1":
		newHash = sha1.New
	default:
		return false
	}
	expected, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	computed := mac.Sum(nil)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// RequireDeliveryID rejects a request missing X-Delivery-Id when
// required is true (§4.11.5).
func RequireDeliveryID(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if required && strings.TrimSpace(c.Get(deliveryIDHeader)) == "" {
			return apperrors.NewMissingDeliveryID()
		}
		return c.Next()
	}
}

// ShuttingDown rejects new ingest work once drain has an active cutoff,
// backing the graceful-shutdown behaviour of §5 and SPEC_FULL's drain
// feature.
func ShuttingDown(isDraining func() bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isDraining != nil && isDraining() {
			return apperrors.NewShuttingDown()
		}
		return c.Next()
	}
}

// RequestContext bounds the synchronous handling of one request. Any
// job scheduled for background processing gets its own context, since
// the job outlives the request that triggered it (§5).
func RequestContext(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}
