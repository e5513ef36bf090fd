// Package renderer turns a normalised ticket snapshot into PDF bytes.
// The actual HTML-to-PDF engine is out of scope here; Renderer is the
// narrow interface the orchestrator depends on, and HTTPRenderer is a
// concrete adapter that delegates to a configured rendering service,
// mirroring how the TMS and TSA clients treat their own remote engines.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

// Renderer produces PDF bytes for a snapshot. Implementations own
// whatever templating/engine choice they like; the orchestrator only
// ever sees opaque bytes.
type Renderer interface {
	Render(ctx context.Context, snapshot domain.TicketSnapshot) ([]byte, error)
}

// HTTPRenderer delegates rendering to an external render service over
// HTTP, posting the snapshot as JSON and expecting raw PDF bytes back.
type HTTPRenderer struct {
	url     string
	timeout time.Duration
	http    *http.Client
}

// NewHTTPRenderer constructs an HTTPRenderer targeting url.
func NewHTTPRenderer(url string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPRenderer{url: url, timeout: timeout, http: &http.Client{}}
}

type renderRequest struct {
	Ticket struct {
		ID           int64          `json:"id"`
		Number       string         `json:"number"`
		Title        string         `json:"title"`
		CreatedAt    time.Time      `json:"created_at"`
		UpdatedAt    time.Time      `json:"updated_at"`
		Customer     string         `json:"customer"`
		Owner        string         `json:"owner"`
		CustomFields map[string]any `json:"custom_fields"`
	} `json:"ticket"`
	Articles []renderArticle `json:"articles"`
}

type renderArticle struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Internal  bool      `json:"internal"`
	Sender    string    `json:"sender"`
	Subject   string    `json:"subject"`
	BodyHTML  string    `json:"body_html"`
	BodyText  string    `json:"body_text"`
}

// Render posts the snapshot to the configured render service and
// returns its response body verbatim as the rendered PDF.
func (r *HTTPRenderer) Render(ctx context.Context, snapshot domain.TicketSnapshot) ([]byte, error) {
	if r.url == "" {
		return nil, retryclass.NewPermanent(retryclass.CodeRender, "renderer url is not configured", nil)
	}

	payload := buildRenderRequest(snapshot)
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeRender, "could not encode render request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(encoded))
	if err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeRender, "could not build render request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, retryclass.Classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryclass.Classify(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, retryclass.Classify(&retryclass.HTTPStatusError{Status: resp.StatusCode, Body: string(body)})
	}
	if len(body) == 0 {
		return nil, retryclass.NewPermanent(retryclass.CodeRender, "render service returned an empty body", nil)
	}
	return body, nil
}

func buildRenderRequest(snapshot domain.TicketSnapshot) renderRequest {
	var payload renderRequest
	payload.Ticket.ID = snapshot.ID
	payload.Ticket.Number = snapshot.Number
	payload.Ticket.Title = snapshot.Title
	payload.Ticket.CreatedAt = snapshot.CreatedAt
	payload.Ticket.UpdatedAt = snapshot.UpdatedAt
	payload.Ticket.Customer = snapshot.Customer
	payload.Ticket.Owner = snapshot.Owner
	payload.Ticket.CustomFields = snapshot.CustomFields

	payload.Articles = make([]renderArticle, 0, len(snapshot.Articles))
	for _, a := range snapshot.Articles {
		payload.Articles = append(payload.Articles, renderArticle{
			ID:        a.ID,
			CreatedAt: a.CreatedAt,
			Internal:  a.Internal,
			Sender:    a.Sender,
			Subject:   a.Subject,
			BodyHTML:  a.BodyHTML,
			BodyText:  a.BodyText,
		})
	}
	return payload
}
