package leadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"golang.org/x/time/rate"
)

// errNotFound marks a 404 so callers can map it onto their own resource name.
var errNotFound = errors.New("resource not found")

// Options configures an HTTP dependency client.
type Options struct {
	Timeout       time.Duration
	RatePerSecond float64 // zero disables rate limiting
	Burst         int
}

// client is the shared JSON-over-HTTP transport of the lead service and user directory.
type client struct {
	service    string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newClient(service, baseURL string, opts Options) *client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

// do sends a JSON request and decodes a JSON response into out when out is non-nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.NewExternalServiceError(c.service, fmt.Errorf("rate limiter: %w", err))
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewExternalServiceError(c.service, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewExternalServiceError(c.service,
			fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewExternalServiceError(c.service, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
