// Package telegram delivers alerts through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/albapepper/collection-watch/internal/dispatch"
)

const defaultAPIURL = "https://api.telegram.org"

// Button is one inline keyboard link.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// SendOptions are the optional fields shared by sendMessage and sendPhoto.
type SendOptions struct {
	Buttons        []Button // rendered as a single keyboard row
	DisablePreview bool
}

// Photo is either a remote URL or uploaded bytes.
type Photo struct {
	URL  string
	Data []byte
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Bot is a minimal Bot API client for one token.
type Bot struct {
	httpClient *http.Client
	apiURL     string
	token      string
	logger     *slog.Logger
}

// NewBot creates a client. An empty apiURL selects the public endpoint.
func NewBot(token, apiURL string, logger *slog.Logger) *Bot {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     apiURL,
		token:      token,
		logger:     logger,
	}
}

func replyMarkup(buttons []Button) map[string]any {
	return map[string]any{"inline_keyboard": [][]Button{buttons}}
}

// SendMessage posts a Markdown text message.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string, opts SendOptions) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": opts.DisablePreview,
	}
	if len(opts.Buttons) > 0 {
		payload["reply_markup"] = replyMarkup(opts.Buttons)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sendMessage: %w", err)
	}
	return b.call(ctx, "sendMessage", "application/json", bytes.NewReader(body))
}

// SendPhoto posts a photo with a Markdown caption. Byte photos are uploaded
// as multipart form data.
func (b *Bot) SendPhoto(ctx context.Context, chatID string, photo Photo, caption string, opts SendOptions) error {
	if len(photo.Data) == 0 {
		payload := map[string]any{
			"chat_id":    chatID,
			"photo":      photo.URL,
			"caption":    caption,
			"parse_mode": "Markdown",
		}
		if len(opts.Buttons) > 0 {
			payload["reply_markup"] = replyMarkup(opts.Buttons)
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode sendPhoto: %w", err)
		}
		return b.call(ctx, "sendPhoto", "application/json", bytes.NewReader(body))
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"chat_id":    chatID,
		"caption":    caption,
		"parse_mode": "Markdown",
	}
	if len(opts.Buttons) > 0 {
		markup, err := json.Marshal(replyMarkup(opts.Buttons))
		if err != nil {
			return fmt.Errorf("encode reply markup: %w", err)
		}
		fields["reply_markup"] = string(markup)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("photo", "chart.png")
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(photo.Data); err != nil {
		return fmt.Errorf("write photo: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return b.call(ctx, "sendPhoto", w.FormDataContentType(), &buf)
}

// call posts to a Bot API method. HTTP 429 yields a *dispatch.RateLimitError
// carrying the advised delay.
func (b *Bot) call(ctx context.Context, method, contentType string, body io.Reader) error {
	u := b.apiURL + "/bot" + b.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// The request URL embeds the token; keep only the cause.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("telegram %s returned %d: %s", method, resp.StatusCode, truncate(raw, 200))
	}
	if resp.StatusCode == http.StatusTooManyRequests || result.ErrorCode == http.StatusTooManyRequests {
		retry := result.Parameters.RetryAfter
		if retry == 0 {
			retry, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
		}
		return &dispatch.RateLimitError{
			RetryAfter: time.Duration(retry) * time.Second,
			Err:        fmt.Errorf("telegram %s: %s", method, result.Description),
		}
	}
	if resp.StatusCode != http.StatusOK || !result.OK {
		return fmt.Errorf("telegram %s returned %d: %s", method, resp.StatusCode, result.Description)
	}
	return nil
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
