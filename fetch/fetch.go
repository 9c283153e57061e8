// Package fetch downloads remote pages referenced by shipment notifications.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dhcgn/parcelscan/model"
)

const (
	DefaultTimeout = 30 * time.Second
	maxPageBytes   = 8 << 20
	userAgent      = "parcelscan/1.0"
)

// Fetcher returns the body of a URL as text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Client is an HTTP Fetcher with a bounded per-request timeout.
type Client struct {
	http *http.Client
}

// New returns a Client. A zero timeout selects DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// NewWithClient wraps an existing http.Client.
func NewWithClient(c *http.Client) *Client {
	if c == nil {
		return New(0)
	}
	return &Client{http: c}
}

func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", model.ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: get %s: status %d", model.ErrTransport, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", model.ErrTransport, url, err)
	}
	return string(data), nil
}
