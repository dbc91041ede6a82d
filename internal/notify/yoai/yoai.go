// Package yoai delivers alerts to a YoAI channel through its publishing API.
package yoai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/dispatch"
	"github.com/albapepper/collection-watch/internal/notify"
)

// KeyMain is the dispatch queue key of the YoAI channel.
const KeyMain = "yoai:main"

const maxImageBytes = 10 << 20

// Queue serializes calls per key.
type Queue interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Client posts to the YoAI pub API and implements notify.Transport.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	channelID  string
	queue      Queue
	formatter  *notify.Formatter
	logger     *slog.Logger
}

// New creates a YoAI client.
func New(baseURL, apiKey, channelID string, queue Queue, f *notify.Formatter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if f == nil {
		f = notify.NewFormatter()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		channelID:  channelID,
		queue:      queue,
		formatter:  f,
		logger:     logger,
	}
}

func (c *Client) Name() string { return "yoai" }

// sendText posts a plain text message.
func (c *Client) sendText(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"to": c.channelID, "text": text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.post(ctx, "application/json", bytes.NewReader(body))
}

// sendImage uploads img with text as a multipart message.
func (c *Client) sendImage(ctx context.Context, text string, img []byte, filename string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("to", c.channelID); err != nil {
		return err
	}
	if err := w.WriteField("text", text); err != nil {
		return err
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(img); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return c.post(ctx, w.FormDataContentType(), &buf)
}

func (c *Client) post(ctx context.Context, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendMessage", body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-YoAI-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("yoai sendMessage: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &dispatch.RateLimitError{
			RetryAfter: time.Duration(secs) * time.Second,
			Err:        fmt.Errorf("yoai sendMessage: %s", truncate(raw, 200)),
		}
	case resp.StatusCode >= 300:
		return fmt.Errorf("yoai sendMessage returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	return nil
}

// fetchImage downloads a remote image for re-upload.
func (c *Client) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg,image/png,image/*")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

// photoMessage sends text with an image, falling back to text alone when
// the image cannot be loaded or uploaded.
func (c *Client) photoMessage(ctx context.Context, text string, img []byte, imageURL, filename string) error {
	return c.queue.Do(ctx, KeyMain, func(ctx context.Context) error {
		data := img
		if len(data) == 0 && imageURL != "" {
			var err error
			if data, err = c.fetchImage(ctx, imageURL); err != nil {
				c.logger.Warn("YoAI image fetch failed, sending text", "url", imageURL, "error", err)
				data = nil
			}
		}
		if len(data) == 0 {
			return c.sendText(ctx, text)
		}
		err := c.sendImage(ctx, text, data, filename)
		if err == nil {
			return nil
		}
		if _, limited := dispatch.RetryDelay(err, time.Second, 0); limited {
			return err
		}
		c.logger.Warn("YoAI photo upload failed, sending text", "error", err)
		return c.sendText(ctx, text)
	})
}

func (c *Client) textMessage(ctx context.Context, text string) error {
	return c.queue.Do(ctx, KeyMain, func(ctx context.Context) error {
		return c.sendText(ctx, text)
	})
}

func (c *Client) SendNewCollection(ctx context.Context, col collection.Collection) error {
	msg := c.formatter.NewCollection(col, false, false)
	return c.photoMessage(ctx, msg.Text+"📊 View: "+msg.URL, nil, col.BgImage, "image.png")
}

func (c *Client) SendProgressChange(ctx context.Context, ev notify.ProgressChange, img []byte) error {
	msg := c.formatter.ProgressChange(ev, false)
	return c.photoMessage(ctx, msg.Text+"🔗 View: "+msg.URL, img, "", "chart.png")
}

// SendPrivilegedProgressChange is a no-op; the privileged channel is
// Telegram only.
func (c *Client) SendPrivilegedProgressChange(context.Context, notify.ProgressChange, []byte) error {
	return nil
}

func (c *Client) SendLastChance(ctx context.Context, col collection.Collection) error {
	msg := c.formatter.LastChance(col, false, false)
	return c.photoMessage(ctx, msg.Text+"\n📊 View: "+msg.URL, nil, col.BgImage, "image.png")
}

func (c *Client) SendUpcomingRewards(ctx context.Context, cs []collection.Collection, snowballs bool) error {
	text := c.formatter.UpcomingRewards(cs, snowballs, false)
	if text == "" {
		return nil
	}
	return c.textMessage(ctx, text)
}

func (c *Client) SendFinishingBatch(ctx context.Context, items []notify.FinishingItem) error {
	if len(items) == 0 {
		return nil
	}
	return c.textMessage(ctx, c.formatter.FinishingBatch(items, false))
}

func (c *Client) SendPriceDrop(ctx context.Context, ev notify.PriceDrop) error {
	return c.photoMessage(ctx, c.formatter.PriceDrop(ev, true), nil, ev.NFT.FileThumb, "image.png")
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}

var _ notify.Transport = (*Client)(nil)
