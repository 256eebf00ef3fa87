// Package client calls a running urltok server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/codec"
)

// Client posts batches to the framed tokenize endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	codec   codec.Codec
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCodec sets the frame codec, e.g. to change the maximum frame size.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) { c.codec = cd }
}

// New returns a Client for addr, which is a base URL ("http://host:port") or
// a bare address ("host:port", ":port").
func New(addr string, optFns ...Option) *Client {
	c := &Client{
		baseURL: BaseURL(addr),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, fn := range optFns {
		fn(c)
	}
	return c
}

// BaseURL turns a listen address into an http base URL without a trailing
// slash. A bare ":port" targets localhost.
func BaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// Tokenize sends urls as one request frame and decodes the result frame.
func (c *Client) Tokenize(ctx context.Context, urls batch.Request) (batch.Result, error) {
	frame, err := c.codec.EncodeRequest(urls)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tokenize/frame", bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokenize request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	res, err := c.codec.ReadResult(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}

	if len(res) != len(urls) {
		return nil, fmt.Errorf("server returned %d items for %d urls", len(res), len(urls))
	}
	return res, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}

// ProbeHTTP checks the health endpoint of the server at addr.
func ProbeHTTP(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return New(addr).Health(ctx)
}

// statusError turns a non-200 response into an error, using the JSON
// {"error": ...} body when present.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, e.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
