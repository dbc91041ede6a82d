// Package marketplace provides the HTTP client for the collection
// marketplace panel API: paginated listings, existence probes, detail
// lookups and revenue series.
//
// Every endpoint is a JSON POST answered with a {code, data} envelope.
// Rate limiting is handled via a token bucket limiter shared by all calls.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the API answers without usable data.
var ErrNotFound = errors.New("marketplace: not found")

const defaultPartnerID = 99

// Client is the shared HTTP client for all marketplace endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	partnerID  int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a marketplace HTTP client with rate limiting. A
// non-positive requestsPerMinute disables the limiter.
func NewClient(baseURL string, partnerID, requestsPerMinute int, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if partnerID == 0 {
		partnerID = defaultPartnerID
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		partnerID:  partnerID,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// BaseURL returns the marketplace origin the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// envelope is the common panel API response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func (e *envelope) empty() bool {
	return len(e.Data) == 0 || string(e.Data) == "null"
}

// post performs a rate-limited POST to a panel endpoint. referer mimics the
// marketplace page that would issue the same request.
func (c *Client) post(ctx context.Context, path, referer string, payload any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, referer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketplace %s returned %d: %s", path, resp.StatusCode, truncate(raw, 200))
	}

	var result envelope
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// setHeaders applies the browser-like header set the panel API expects.
func (c *Client) setHeaders(req *http.Request, referer string) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	req.Header.Set("Origin", c.baseURL)
	if referer == "" {
		referer = c.baseURL + "/en/marketplace/collections"
	}
	req.Header.Set("Referer", referer)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36")
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
