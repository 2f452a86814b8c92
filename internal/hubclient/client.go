// Package hubclient is the thin HTTP client hubverify uses to reach the hub.
// It performs exactly one request per call: no retries, so a flaky hub shows
// up as a failed check instead of being masked.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/wondertwin-ai/hubverify/internal/failure"
)

// Options configures a Client.
type Options struct {
	// Timeout bounds each request. Default: 60s.
	Timeout time.Duration
	// Transport overrides the HTTP transport (tests pass httptest transports).
	Transport http.RoundTripper
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

// Client issues requests against the hub. It holds two http.Clients sharing
// one transport: one that follows redirects and one that returns 3xx
// responses as-is so Location headers can be read.
type Client struct {
	http       *http.Client
	noRedirect *http.Client
	logger     *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		http: &http.Client{Timeout: opts.Timeout, Transport: transport},
		noRedirect: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: opts.Logger,
	}
}

// Response is a fully-read hub response.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Location returns the Location header verbatim.
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// Expect returns a failure.CodeUnexpectedStatus error unless the status is
// one of the given codes.
func (r *Response) Expect(statuses ...int) error {
	if slices.Contains(statuses, r.StatusCode) {
		return nil
	}
	return failure.UnexpectedStatus(r.Method, r.URL, statuses, r.StatusCode)
}

// Decode unmarshals the JSON body into v, reporting shape mismatches as
// failure.CodeMalformed.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return failure.Malformed(r.Method, r.URL, fmt.Errorf("decoding %T: %w", v, err))
	}
	return nil
}

// Get performs a GET, following redirects.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, c.http, http.MethodGet, url, nil)
}

// GetNoRedirect performs a GET and returns 3xx responses unfollowed.
func (c *Client) GetNoRedirect(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, c.noRedirect, http.MethodGet, url, nil)
}

// PostJSON performs a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*Response, error) {
	return c.do(ctx, c.http, http.MethodPost, url, body)
}

// PutJSON performs a PUT with a JSON body.
func (c *Client) PutJSON(ctx context.Context, url string, body any) (*Response, error) {
	return c.do(ctx, c.http, http.MethodPut, url, body)
}

// PatchJSON performs a PATCH with a JSON body.
func (c *Client) PatchJSON(ctx context.Context, url string, body any) (*Response, error) {
	return c.do(ctx, c.http, http.MethodPatch, url, body)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, c.http, http.MethodDelete, url, nil)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, url string, body any) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s body: %w", method, url, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create %s %s: %w", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Debug("hub request failed", "method", method, "url", url, "err", err)
		return nil, failure.Network(method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Network(method, url, fmt.Errorf("reading body: %w", err))
	}

	c.logger.Debug("hub request",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	return &Response{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// ChannelURL returns the resource URL of a channel on the hub.
func ChannelURL(hubURL, channel string) string {
	return strings.TrimRight(hubURL, "/") + "/channel/" + channel
}

// WebhookURL returns the resource URL of a webhook subscription on the hub.
func WebhookURL(hubURL, name string) string {
	return strings.TrimRight(hubURL, "/") + "/webhook/" + name
}
