// Package tmsclient talks to the external ticket-management system: get
// ticket, list tags, list articles, add/remove tag, create internal
// note. Retries are not performed at this layer (§4.7); every failure
// surfaces to the orchestrator's retry classifier.
package tmsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

// Config controls client construction and the transport-safety checks
// enforced at that point (§4.7).
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	AllowInsecureTransport bool // permits http:// base URLs
	AllowDisabledTLSVerify bool
	AllowLoopbackOrLinkLocal bool
	InsecureSkipVerify       bool
}

// Client is the TMS REST client.
type Client struct {
	baseURL *url.URL
	token   string
	timeout time.Duration
	http    *http.Client
}

// New constructs a Client, enforcing the transport-safety rules from
// §4.7 before issuing any request.
func New(cfg Config) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Host == "" {
		return nil, retryclass.NewPermanent(retryclass.CodeTmsAuth, "tms base_url must include scheme and host", err)
	}

	if parsed.Scheme != "https" && !cfg.AllowInsecureTransport {
		return nil, retryclass.NewPermanent(retryclass.CodeTmsAuth, "tms base_url must use https unless insecure transport is explicitly allowed", nil)
	}
	if cfg.InsecureSkipVerify && !cfg.AllowDisabledTLSVerify {
		return nil, retryclass.NewPermanent(retryclass.CodeTmsAuth, "tls verification may not be disabled unless explicitly allowed", nil)
	}
	if !cfg.AllowLoopbackOrLinkLocal {
		if err := rejectLoopbackOrLinkLocal(parsed.Hostname()); err != nil {
			return nil, err
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := &http.Transport{
		Proxy: nil, // ambient proxy environment is not honoured by default (§4.7)
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = insecureTLSConfig()
	}

	return &Client{
		baseURL: parsed,
		token:   cfg.Token,
		timeout: timeout,
		http:    &http.Client{Transport: transport},
	}, nil
}

func rejectLoopbackOrLinkLocal(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		// Host is a plain literal like "localhost" that may resolve lazily at
		// dial time; a direct literal check covers the common cases.
		if strings.EqualFold(host, "localhost") {
			return retryclass.NewPermanent(retryclass.CodeTmsAuth, "tms base_url resolves to localhost; set allow_loopback to override", nil)
		}
		return nil
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return retryclass.NewPermanent(retryclass.CodeTmsAuth, "tms base_url resolves to a loopback or link-local address; set allow_loopback to override", nil)
		}
	}
	return nil
}

func (c *Client) endpoint(pathAndQuery string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(pathAndQuery, "/")
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, retryclass.NewPermanent(retryclass.CodeUnknown, "could not encode tms request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeUnknown, "could not build tms request", err)
	}
	req.Header.Set("Authorization", "Token token="+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, retryclass.Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryclass.Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, retryclass.Classify(&retryclass.HTTPStatusError{Status: resp.StatusCode, Body: string(data)})
	}
	return data, nil
}

type ticketPayload struct {
	ID          int64          `json:"id"`
	Number      string         `json:"number"`
	Title       string         `json:"title"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Owner       ownerPayload   `json:"owner"`
	Customer    customerPayload `json:"customer"`
	Preferences struct {
		CustomFields map[string]any `json:"custom_fields"`
	} `json:"preferences"`
}

type ownerPayload struct {
	Login string `json:"login"`
}

type customerPayload struct {
	Login string `json:"login"`
	Email string `json:"email"`
}

// GetTicket fetches a ticket by id.
func (c *Client) GetTicket(ctx context.Context, ticketID int64) (domain.RawTicket, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/v1/tickets/%d", ticketID), nil)
	if err != nil {
		return domain.RawTicket{}, err
	}
	var payload ticketPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.RawTicket{}, retryclass.NewPermanent(retryclass.CodeSnapshot, "could not decode tms ticket response", err)
	}
	customer := payload.Customer.Login
	if customer == "" {
		customer = payload.Customer.Email
	}
	return domain.RawTicket{
		ID:           payload.ID,
		Number:       payload.Number,
		Title:        payload.Title,
		CreatedAt:    payload.CreatedAt,
		UpdatedAt:    payload.UpdatedAt,
		CustomerName: customer,
		OwnerName:    payload.Owner.Login,
		CustomFields: payload.Preferences.CustomFields,
	}, nil
}

// ListTags fetches the tags for a ticket, tolerating both historical
// response shapes the TMS may return (§4.7).
func (c *Client) ListTags(ctx context.Context, ticketID int64) ([]string, error) {
	data, err := c.do(ctx, http.MethodGet, "api/v1/tags?object=Ticket&o_id="+strconv.FormatInt(ticketID, 10), nil)
	if err != nil {
		return nil, err
	}
	return decodeTagsTolerant(data)
}

func decodeTagsTolerant(data []byte) ([]string, error) {
	var asArray []string
	if err := json.Unmarshal(data, &asArray); err == nil {
		return asArray, nil
	}
	var wrapped struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		return wrapped.Tags, nil
	}
	return nil, retryclass.NewPermanent(retryclass.CodeSnapshot, "tms tags response had an unrecognised shape", nil)
}

type articlePayload struct {
	ID          int64                    `json:"id"`
	CreatedAt   time.Time                `json:"created_at"`
	Internal    bool                     `json:"internal"`
	Subject     string                   `json:"subject"`
	Body        string                   `json:"body"`
	ContentType string                   `json:"content_type"`
	From        string                   `json:"from"`
	Attachments []attachmentMetaPayload `json:"attachments"`
}

type attachmentMetaPayload struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// ListArticles fetches the ordered articles for a ticket (unordered on
// the wire; the snapshot builder imposes the deterministic order).
func (c *Client) ListArticles(ctx context.Context, ticketID int64) ([]domain.RawArticle, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/v1/ticket_articles/by_ticket/%d", ticketID), nil)
	if err != nil {
		return nil, err
	}
	var payloads []articlePayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeSnapshot, "could not decode tms articles response", err)
	}
	articles := make([]domain.RawArticle, 0, len(payloads))
	for _, p := range payloads {
		bodyHTML, bodyText := p.Body, ""
		if !strings.Contains(p.ContentType, "html") {
			bodyHTML, bodyText = "", p.Body
		}
		attachments := make([]domain.AttachmentMeta, 0, len(p.Attachments))
		for _, a := range p.Attachments {
			attachments = append(attachments, domain.AttachmentMeta{
				ID:       strconv.FormatInt(a.ID, 10),
				FileName: a.Filename,
				MimeType: a.ContentType,
				Size:     a.Size,
			})
		}
		articles = append(articles, domain.RawArticle{
			ID:          p.ID,
			CreatedAt:   p.CreatedAt,
			Internal:    p.Internal,
			Sender:      p.From,
			Subject:     p.Subject,
			BodyHTML:    bodyHTML,
			BodyText:    bodyText,
			Attachments: attachments,
		})
	}
	return articles, nil
}

// GetAttachmentContent downloads one attachment's binary content.
func (c *Client) GetAttachmentContent(ctx context.Context, ticketID, articleID int64, attachmentID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := fmt.Sprintf("api/v1/ticket_attachment/%d/%d/%s", ticketID, articleID, attachmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeUnknown, "could not build tms attachment request", err)
	}
	req.Header.Set("Authorization", "Token token="+c.token)
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, retryclass.Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryclass.Classify(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, retryclass.Classify(&retryclass.HTTPStatusError{Status: resp.StatusCode, Body: string(data)})
	}
	return data, nil
}

// AddTag adds tag to ticketID.
func (c *Client) AddTag(ctx context.Context, ticketID int64, tag string) error {
	_, err := c.do(ctx, http.MethodPost, "api/v1/tags/add", map[string]any{
		"object": "Ticket", "o_id": ticketID, "item": tag,
	})
	return err
}

// RemoveTag removes tag from ticketID.
func (c *Client) RemoveTag(ctx context.Context, ticketID int64, tag string) error {
	_, err := c.do(ctx, http.MethodPost, "api/v1/tags/remove", map[string]any{
		"object": "Ticket", "o_id": ticketID, "item": tag,
	})
	return err
}

// CreateInternalNote posts an internal note with the given HTML body.
func (c *Client) CreateInternalNote(ctx context.Context, ticketID int64, subject, bodyHTML string) error {
	_, err := c.do(ctx, http.MethodPost, "api/v1/ticket_articles", map[string]any{
		"ticket_id":    ticketID,
		"subject":      subject,
		"body":         bodyHTML,
		"content_type": "text/html",
		"internal":     true,
	})
	return err
}
