// Package pricefeed watches the marketplace's lowest-price feed and alerts
// when the cheapest item of a collection drops significantly.
package pricefeed

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/notify"
)

const (
	// DefaultNotifyWindow suppresses a second drop alert for a collection.
	DefaultNotifyWindow = 30 * time.Minute
	// DefaultDenyWindow is how long a denied collection stays muted.
	DefaultDenyWindow = 30 * time.Minute

	// MinMarketPrice filters out dust listings.
	MinMarketPrice = 2.0
)

// Update types carried by the feed.
const (
	UpdateAdd    = "add"
	UpdateRemove = "remove"
)

// Update is one change of a collection's lowest listing.
type Update struct {
	Type string         `json:"type"`
	Data collection.NFT `json:"data"`
}

// Collections resolves collection metadata for a drop alert.
type Collections interface {
	ByID(id int) []collection.Record
}

// Alerter delivers price drop alerts.
type Alerter interface {
	PriceDrop(ctx context.Context, ev notify.PriceDrop) notify.Result
}

// Queue serializes work per key.
type Queue interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Recorder counts delivered drops.
type Recorder interface {
	PriceDrop()
}

// Options configures a Monitor.
type Options struct {
	Collections  Collections
	Alerts       Alerter
	Queue        Queue
	Metrics      Recorder
	NotifyWindow time.Duration
	DenyWindow   time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Monitor tracks the lowest listing of every collection.
type Monitor struct {
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	initialized  bool
	lowest       map[int]collection.NFT
	lastNotified map[int]time.Time
	deniedAt     map[int]time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(opts Options) *Monitor {
	if opts.NotifyWindow <= 0 {
		opts.NotifyWindow = DefaultNotifyWindow
	}
	if opts.DenyWindow <= 0 {
		opts.DenyWindow = DefaultDenyWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		opts:         opts,
		logger:       logger.With(slog.String("component", "pricefeed")),
		lowest:       make(map[int]collection.NFT),
		lastNotified: make(map[int]time.Time),
		deniedAt:     make(map[int]time.Time),
	}
}

// Initialize seeds the lowest prices from the feed's first snapshot and
// returns how many collections were taken.
func (m *Monitor) Initialize(nfts []collection.NFT) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, nft := range nfts {
		if nft.MarketPrice <= MinMarketPrice {
			continue
		}
		m.lowest[nft.CollectionID] = nft
		n++
	}
	m.initialized = true
	m.logger.Info("Lowest prices initialized", "collections", n)
	return n
}

// Initialized reports whether the first snapshot has been taken.
func (m *Monitor) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Lowest returns the tracked lowest listing of a collection.
func (m *Monitor) Lowest(collectionID int) (collection.NFT, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nft, ok := m.lowest[collectionID]
	return nft, ok
}

// Deny mutes drop alerts of a collection for the deny window.
func (m *Monitor) Deny(collectionID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deniedAt[collectionID] = m.opts.Now()
}

// HandleUpdates applies a batch of feed updates. Updates of one collection
// run in order on that collection's queue lane; collections proceed
// concurrently.
func (m *Monitor) HandleUpdates(ctx context.Context, updates []Update) error {
	byCollection := make(map[int][]Update)
	var order []int
	for _, u := range updates {
		id := u.Data.CollectionID
		if _, ok := byCollection[id]; !ok {
			order = append(order, id)
		}
		byCollection[id] = append(byCollection[id], u)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range order {
		batch := byCollection[id]
		g.Go(func() error {
			return m.opts.Queue.Do(gctx, laneKey(id), func(ctx context.Context) error {
				for _, u := range batch {
					switch u.Type {
					case UpdateAdd:
						m.handleAdd(ctx, u.Data)
					case UpdateRemove:
						m.handleRemove(u.Data)
					}
				}
				return nil
			})
		})
	}
	return g.Wait()
}

func laneKey(collectionID int) string {
	return "pricefeed:" + strconv.Itoa(collectionID)
}

func (m *Monitor) handleRemove(nft collection.NFT) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.lowest[nft.CollectionID]; ok && cur.ID == nft.ID {
		delete(m.lowest, nft.CollectionID)
	}
}

func (m *Monitor) handleAdd(ctx context.Context, nft collection.NFT) {
	if nft.MarketPrice <= MinMarketPrice {
		return
	}

	m.mu.Lock()
	existing, known := m.lowest[nft.CollectionID]
	m.lowest[nft.CollectionID] = nft
	muted := m.mutedLocked(nft.CollectionID)
	m.mu.Unlock()

	if !known {
		m.logger.Debug("New lowest price tracked", "collection_id", nft.CollectionID, "price", nft.Price)
		return
	}
	col, ok := m.collection(nft.CollectionID)
	if !ok || !Significant(nft.Price, existing.Price, col.OriginalPrice) || muted {
		return
	}

	m.mu.Lock()
	m.lastNotified[nft.CollectionID] = m.opts.Now()
	m.mu.Unlock()

	ev := notify.PriceDrop{NFT: nft, Collection: col, PreviousLowest: existing.Price}
	m.logger.Info("Price drop detected",
		"collection", col.Name, "from", existing.Price, "to", nft.Price, "drop_percent", ev.DropPercent())

	res := m.opts.Alerts.PriceDrop(ctx, ev)
	if len(res.Succeeded) == 0 {
		m.logger.Warn("Price drop undelivered, muting collection", "collection_id", nft.CollectionID)
		m.Deny(nft.CollectionID)
		return
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.PriceDrop()
	}
}

// mutedLocked reports whether a recent alert or a denial blocks a new alert.
// Expired entries are dropped on the way.
func (m *Monitor) mutedLocked(collectionID int) bool {
	now := m.opts.Now()
	muted := false
	if at, ok := m.lastNotified[collectionID]; ok {
		if now.Sub(at) > m.opts.NotifyWindow {
			delete(m.lastNotified, collectionID)
		} else {
			muted = true
		}
	}
	if at, ok := m.deniedAt[collectionID]; ok {
		if now.Sub(at) > m.opts.DenyWindow {
			delete(m.deniedAt, collectionID)
		} else {
			muted = true
		}
	}
	return muted
}

func (m *Monitor) collection(id int) (collection.Collection, bool) {
	if m.opts.Collections == nil {
		return collection.Collection{}, false
	}
	records := m.opts.Collections.ByID(id)
	if len(records) == 0 {
		return collection.Collection{}, false
	}
	return records[0].Collection, true
}

// Significant reports whether price undercuts previous by the tier's
// threshold. Collections priced at or below MinMarketPrice never qualify.
func Significant(price, previous, originalPrice float64) bool {
	if originalPrice <= MinMarketPrice {
		return false
	}
	var factor float64
	switch {
	case price < 10:
		factor = 0.93
	case price <= 20:
		factor = 0.94
	case price < 50:
		factor = 0.945
	default:
		factor = 0.95
	}
	return price < factor*previous
}
