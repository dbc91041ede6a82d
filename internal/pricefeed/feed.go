package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/albapepper/collection-watch/internal/collection"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 5 * time.Minute

	snapshotRID       = 1
	eventLowestPrices = "updateLowestPrices"
)

// Handler consumes decoded feed messages. *Monitor satisfies it.
type Handler interface {
	Initialized() bool
	Initialize(nfts []collection.NFT) int
	HandleUpdates(ctx context.Context, updates []Update) error
}

// ReconnectRecorder counts reconnects.
type ReconnectRecorder interface {
	FeedReconnect()
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	URL       string
	PartnerID int
	// Backoff is the first reconnect delay; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Feed holds a websocket session to the lowest-price feed and reconnects
// when it drops.
type Feed struct {
	cfg     FeedConfig
	handler Handler
	metrics ReconnectRecorder
	logger  *slog.Logger
	dialer  websocket.Dialer

	wg sync.WaitGroup
}

type snapshotRequest struct {
	RID       int    `json:"rid"`
	PartnerID int    `json:"partnerId"`
	Page      int    `json:"page"`
	Action    string `json:"action"`
}

type message struct {
	RID   int             `json:"rid"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewFeed creates a Feed.
func NewFeed(cfg FeedConfig, handler Handler, metrics ReconnectRecorder, logger *slog.Logger) *Feed {
	if cfg.Backoff <= 0 {
		cfg.Backoff = reconnectBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(maxReconnect, cfg.Backoff)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		cfg:     cfg,
		handler: handler,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "pricefeed")),
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run keeps a session open until ctx is cancelled. Intended to be called
// with `go`.
func (f *Feed) Run(ctx context.Context) {
	backoff := f.cfg.Backoff
	for {
		opened, err := f.session(ctx)
		if ctx.Err() != nil {
			f.wg.Wait()
			f.logger.Info("Price feed stopped")
			return
		}
		if opened {
			backoff = f.cfg.Backoff
		}
		if f.metrics != nil {
			f.metrics.FeedReconnect()
		}
		f.logger.Error("Price feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, f.cfg.MaxBackoff)
		case <-ctx.Done():
			f.wg.Wait()
			return
		}
	}
}

// session runs one connection. opened reports whether the handshake
// succeeded.
func (f *Feed) session(ctx context.Context) (opened bool, err error) {
	header := http.Header{}
	header.Set("Origin", "https://sss.ortak1.me")
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return false, fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	f.logger.Info("Price feed connected", "url", f.cfg.URL)
	req := snapshotRequest{RID: snapshotRID, PartnerID: f.cfg.PartnerID, Page: 1, Action: "lowestPrices"}
	if err := conn.WriteJSON(req); err != nil {
		return true, fmt.Errorf("request lowest prices: %w", err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, errors.New("feed closed by server")
			}
			return true, fmt.Errorf("read feed: %w", err)
		}
		f.dispatch(ctx, raw)
	}
}

func (f *Feed) dispatch(ctx context.Context, raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Warn("Failed to parse feed message", "error", err)
		return
	}

	switch {
	case msg.RID == snapshotRID && !f.handler.Initialized():
		var nfts []collection.NFT
		if err := json.Unmarshal(msg.Data, &nfts); err != nil {
			f.logger.Warn("Unexpected lowest price snapshot", "error", err)
			return
		}
		f.handler.Initialize(nfts)

	case msg.Event == eventLowestPrices:
		var updates []Update
		if err := json.Unmarshal(msg.Data, &updates); err != nil {
			f.logger.Warn("Failed to parse price updates", "error", err)
			return
		}
		// Alerts can take a while; keep reading.
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := f.handler.HandleUpdates(ctx, updates); err != nil && ctx.Err() == nil {
				f.logger.Warn("Price updates failed", "error", err)
			}
		}()
	}
}
