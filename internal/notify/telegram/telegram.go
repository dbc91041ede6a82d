package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/dispatch"
	"github.com/albapepper/collection-watch/internal/notify"
)

// Dispatch queue keys, one per bot identity.
const (
	KeyMainBot   = "telegram:main_bot"
	KeyFarmerBot = "telegram:farmer_bot"
	KeyHayoBot   = "telegram:hayo_bot"
)

// Sender is the Bot API surface used by the transport.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string, opts SendOptions) error
	SendPhoto(ctx context.Context, chatID string, photo Photo, caption string, opts SendOptions) error
}

// Queue serializes calls per key.
type Queue interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Config selects destinations.
type Config struct {
	ChannelID       string
	FarmerChannelID string
	// Mirror sends new collection and last chance alerts to the farmer
	// channel with mirror site links.
	Mirror bool

	ImageHostOld string
	ImageHostNew string
}

// Transport is the Telegram notify.Transport. The main bot posts to the
// public channel; the farmer bot serves the privileged channel and the
// mirror copies.
type Transport struct {
	main      Sender
	farmer    Sender
	queue     Queue
	formatter *notify.Formatter
	cfg       Config
	logger    *slog.Logger
}

// New creates a Transport. farmer may be nil, which disables the privileged
// channel and the mirror.
func New(main, farmer Sender, queue Queue, f *notify.Formatter, cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if f == nil {
		f = notify.NewFormatter()
	}
	return &Transport{
		main:      main,
		farmer:    farmer,
		queue:     queue,
		formatter: f,
		cfg:       cfg,
		logger:    logger,
	}
}

func (t *Transport) Name() string { return "telegram" }

func (t *Transport) imageURL(u string) string {
	if u == "" || t.cfg.ImageHostOld == "" {
		return u
	}
	return strings.Replace(u, t.cfg.ImageHostOld, t.cfg.ImageHostNew, 1)
}

func (t *Transport) mirrorEnabled() bool {
	return t.cfg.Mirror && t.farmer != nil && t.cfg.FarmerChannelID != ""
}

func (t *Transport) photo(ctx context.Context, key string, bot Sender, chatID string, p Photo, caption string, opts SendOptions) error {
	return t.queue.Do(ctx, key, func(ctx context.Context) error {
		if len(p.Data) == 0 && p.URL == "" {
			return bot.SendMessage(ctx, chatID, caption, opts)
		}
		return bot.SendPhoto(ctx, chatID, p, caption, opts)
	})
}

func (t *Transport) message(ctx context.Context, key, text string, opts SendOptions) error {
	return t.queue.Do(ctx, key, func(ctx context.Context) error {
		return t.main.SendMessage(ctx, t.cfg.ChannelID, text, opts)
	})
}

func (t *Transport) SendNewCollection(ctx context.Context, c collection.Collection) error {
	img := Photo{URL: t.imageURL(c.BgImage)}

	msg := t.formatter.NewCollection(c, true, false)
	err := t.photo(ctx, KeyMainBot, t.main, t.cfg.ChannelID, img,
		msg.Text+notify.NewCollectionTags(c),
		SendOptions{Buttons: []Button{{Text: msg.Button, URL: msg.URL}}})
	if err != nil {
		t.logger.Error("Telegram new collection alert failed", "collection_id", c.ID, "error", err)
	}

	if t.mirrorEnabled() {
		m := t.formatter.NewCollection(c, true, true)
		mirrorErr := t.photo(ctx, KeyHayoBot, t.farmer, t.cfg.FarmerChannelID, img, m.Text,
			SendOptions{Buttons: []Button{{Text: m.Button, URL: m.URL}}})
		if mirrorErr != nil {
			t.logger.Error("Telegram mirror alert failed", "collection_id", c.ID, "error", mirrorErr)
		}
		err = errors.Join(err, mirrorErr)
	}
	return err
}

func (t *Transport) SendProgressChange(ctx context.Context, ev notify.ProgressChange, img []byte) error {
	msg := t.formatter.ProgressChange(ev, true)
	return t.photo(ctx, KeyMainBot, t.main, t.cfg.ChannelID, Photo{Data: img},
		msg.Text+notify.ProgressChangeTags(ev.Collection),
		SendOptions{Buttons: []Button{{Text: msg.Button, URL: msg.URL}}})
}

func (t *Transport) SendPrivilegedProgressChange(ctx context.Context, ev notify.ProgressChange, img []byte) error {
	if t.farmer == nil || t.cfg.FarmerChannelID == "" {
		return nil
	}
	msg := t.formatter.PrivilegedProgressChange(ev)
	return t.photo(ctx, KeyFarmerBot, t.farmer, t.cfg.FarmerChannelID, Photo{Data: img}, msg.Text,
		SendOptions{Buttons: []Button{
			{Text: "SSS", URL: t.formatter.CollectionURL(ev.Collection.Slug)},
			{Text: msg.Button, URL: msg.URL},
		}})
}

func (t *Transport) SendLastChance(ctx context.Context, c collection.Collection) error {
	img := Photo{URL: t.imageURL(c.BgImage)}

	msg := t.formatter.LastChance(c, true, false)
	err := t.photo(ctx, KeyMainBot, t.main, t.cfg.ChannelID, img,
		msg.Text+notify.NewCollectionTags(c),
		SendOptions{Buttons: []Button{{Text: msg.Button, URL: msg.URL}}})

	if t.mirrorEnabled() {
		m := t.formatter.LastChance(c, true, true)
		err = errors.Join(err, t.photo(ctx, KeyHayoBot, t.farmer, t.cfg.FarmerChannelID, img, m.Text,
			SendOptions{Buttons: []Button{{Text: m.Button, URL: m.URL}}}))
	}
	return err
}

func (t *Transport) SendUpcomingRewards(ctx context.Context, cs []collection.Collection, snowballs bool) error {
	text := t.formatter.UpcomingRewards(cs, snowballs, true)
	if text == "" {
		return nil
	}
	return t.message(ctx, KeyMainBot, text+notify.UpcomingRewardsTags(snowballs), SendOptions{})
}

func (t *Transport) SendFinishingBatch(ctx context.Context, items []notify.FinishingItem) error {
	if len(items) == 0 {
		return nil
	}
	text := t.formatter.FinishingBatch(items, true) + notify.FinishingTags
	return t.message(ctx, KeyMainBot, text, SendOptions{DisablePreview: true})
}

func (t *Transport) SendPriceDrop(ctx context.Context, ev notify.PriceDrop) error {
	text := t.formatter.PriceDrop(ev, false)
	return t.photo(ctx, KeyMainBot, t.main, t.cfg.ChannelID, Photo{URL: t.imageURL(ev.NFT.FileThumb)}, text,
		SendOptions{Buttons: []Button{
			{Text: "🔍 NFT", URL: t.formatter.NFTURL(ev.NFT.Slug)},
			{Text: "📊 Collection", URL: t.formatter.SiteURL + "/en/collections/" + ev.Collection.Slug + "/nfts"},
		}})
}

var _ notify.Transport = (*Transport)(nil)
var _ Queue = (*dispatch.Queue)(nil)
