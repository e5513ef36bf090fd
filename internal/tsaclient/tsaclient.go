// Package tsaclient requests RFC3161 timestamp tokens from a
// timestamp authority, per spec.md §4.9.
package tsaclient

import (
	"bytes"
	"context"
	"crypto"
	"io"
	"net/http"
	"time"

	"github.com/digitorus/timestamp"

	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

const (
	contentTypeQuery = "application/timestamp-query"
	contentTypeReply = "application/timestamp-reply"
)

// Config configures a Client. Username and Password are all-or-nothing:
// supplying exactly one is a configuration error, not a runtime one.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client requests timestamp tokens over HTTP.
type Client struct {
	url      string
	username string
	password string
	timeout  time.Duration
	http     *http.Client
}

// New validates cfg and constructs a Client. A partially configured
// basic-auth pair is rejected immediately as TsaMisconfigured.
func New(cfg Config) (*Client, error) {
	if (cfg.Username == "") != (cfg.Password == "") {
		return nil, retryclass.NewPermanent(retryclass.CodeTsaMisconfigured, "tsa basic auth requires both username and password, or neither", nil)
	}
	if cfg.URL == "" {
		return nil, retryclass.NewPermanent(retryclass.CodeTsaMisconfigured, "tsa url is required", nil)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		http:     &http.Client{},
	}, nil
}

// Stamp requests a timestamp token over messageImprintSHA256, the
// SHA-256 digest of the data being timestamped (here, the signature
// value). It returns the DER-encoded timestamp response token suitable
// for embedding in the PAdES signature's unsigned attributes.
func (c *Client) Stamp(ctx context.Context, messageImprintSHA256 []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query, err := timestamp.CreateRequest(bytes.NewReader(messageImprintSHA256), &timestamp.RequestOptions{
		Hash:         crypto.SHA256,
		Certificates: true,
	})
	if err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeTsaBadResponse, "could not build rfc3161 request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(query))
	if err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeTsaMisconfigured, "could not build tsa request", err)
	}
	req.Header.Set("Content-Type", contentTypeQuery)
	req.Header.Set("Accept", contentTypeReply)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, retryclass.Classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryclass.Classify(err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, retryclass.NewTransient(retryclass.CodeTsaTimeout, "tsa returned a server error", &retryclass.HTTPStatusError{Status: resp.StatusCode, Body: string(body)})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retryclass.NewPermanent(retryclass.CodeTsaBadResponse, "tsa returned a non-200 response", &retryclass.HTTPStatusError{Status: resp.StatusCode, Body: string(body)})
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && ct != contentTypeReply {
		return nil, retryclass.NewPermanent(retryclass.CodeTsaBadResponse, "tsa returned an unexpected content type: "+ct, nil)
	}

	if _, err := timestamp.ParseResponse(body); err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeTsaBadResponse, "tsa response failed structural validation", err)
	}

	return body, nil
}
