// Package notify broadcasts alert events to every configured transport.
//
// Pipeline: detector/scanner/scheduler → FanOut → Transport → dispatch.Queue
// lane → external API. Each transport owns its own queue keys so one slow
// destination never blocks another.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/collection-watch/internal/collection"
)

// --------------------------------------------------------------------------
// Kinds
// --------------------------------------------------------------------------

// Kind names an alert type. Used for metrics labels and event envelopes.
type Kind string

const (
	KindNewCollection      Kind = "new_collection"
	KindProgressChange     Kind = "progress_change"
	KindPrivilegedProgress Kind = "privileged_progress_change"
	KindLastChance         Kind = "last_chance"
	KindUpcomingRewards    Kind = "upcoming_rewards"
	KindFinishingBatch     Kind = "finishing_batch"
	KindPriceDrop          Kind = "price_drop"
)

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// ProgressChange is a qualified percentage move.
type ProgressChange struct {
	Collection collection.Collection `json:"collection"`
	Previous   float64               `json:"previous"`
	LatestGGR  *collection.LatestGGR `json:"latestGgr,omitempty"`
}

// Delta is the signed move.
func (p ProgressChange) Delta() float64 {
	return p.Collection.Percent - p.Previous
}

// FinishingItem is one entry of a finishing-soon batch.
type FinishingItem struct {
	Collection collection.Collection `json:"collection"`
	LatestGGR  *collection.LatestGGR `json:"latestGgr,omitempty"`
}

// PriceDrop is a significant fall of a collection's lowest listed price.
type PriceDrop struct {
	NFT            collection.NFT        `json:"nft"`
	Collection     collection.Collection `json:"collection"`
	PreviousLowest float64               `json:"previousLowest"`
}

// DropPercent is the relative fall from the previous lowest price.
func (p PriceDrop) DropPercent() float64 {
	if p.PreviousLowest == 0 {
		return 0
	}
	return (p.PreviousLowest - p.NFT.Price) / p.PreviousLowest * 100
}

// Event is the transport-neutral envelope of one alert, used by sinks that
// ship structured data instead of chat messages.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	Payload   any       `json:"payload"`
}

// NewEvent wraps payload in an envelope with a fresh ID.
func NewEvent(kind Kind, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// Transport delivers alerts to one destination family. Methods return the
// delivery outcome of that transport only; img may be nil.
type Transport interface {
	Name() string
	SendNewCollection(ctx context.Context, c collection.Collection) error
	SendProgressChange(ctx context.Context, ev ProgressChange, img []byte) error
	SendPrivilegedProgressChange(ctx context.Context, ev ProgressChange, img []byte) error
	SendLastChance(ctx context.Context, c collection.Collection) error
	SendUpcomingRewards(ctx context.Context, cs []collection.Collection, snowballs bool) error
	SendFinishingBatch(ctx context.Context, items []FinishingItem) error
	SendPriceDrop(ctx context.Context, ev PriceDrop) error
}
