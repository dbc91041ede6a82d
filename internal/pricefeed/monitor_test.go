package pricefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/dispatch"
	"github.com/albapepper/collection-watch/internal/notify"
)

type fakeCollections map[int]collection.Collection

func (f fakeCollections) ByID(id int) []collection.Record {
	c, ok := f[id]
	if !ok {
		return nil
	}
	return []collection.Record{{Collection: c}}
}

type fakeAlerter struct {
	mu   sync.Mutex
	sent []notify.PriceDrop
	fail bool
}

func (f *fakeAlerter) PriceDrop(_ context.Context, ev notify.PriceDrop) notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ev)
	if f.fail {
		return notify.Result{Failed: map[string]error{"telegram": errDelivery}}
	}
	return notify.Result{Succeeded: []string{"telegram"}}
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var errDelivery = errors.New("chat down")

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) PriceDrop() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newMonitor(t *testing.T, alerts *fakeAlerter, clk *clock, rec *counter) *Monitor {
	t.Helper()
	q := dispatch.New(dispatch.Options{Spacing: -1})
	t.Cleanup(q.Close)
	return NewMonitor(Options{
		Collections: fakeCollections{1: {ID: 1, Name: "Alpha", OriginalPrice: 100}, 2: {ID: 2, Name: "Dust", OriginalPrice: 1}},
		Alerts:      alerts,
		Queue:       q,
		Metrics:     rec,
		Now:         clk.now,
	})
}

func add(collectionID, id int, price float64) Update {
	return Update{Type: UpdateAdd, Data: collection.NFT{ID: id, CollectionID: collectionID, Price: price, MarketPrice: price}}
}

func TestSignificant(t *testing.T) {
	tests := []struct {
		name            string
		price, previous float64
		want            bool
	}{
		{"under 10 needs 7 percent", 9.2, 10, true},
		{"under 10 small drop", 9.4, 10, false},
		{"20 needs 6 percent", 18, 20, true},
		{"20 boundary", 20, 21, false},
		{"30 needs 5.5 percent", 28, 30, true},
		{"30 small drop", 28.5, 30, false},
		{"50 needs 5 percent", 94, 100, true},
		{"50 small drop", 96, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Significant(tt.price, tt.previous, 100))
		})
	}
	assert.False(t, Significant(1, 100, 2), "cheap collections never qualify")
}

func TestInitialize_SkipsDust(t *testing.T) {
	m := newMonitor(t, &fakeAlerter{}, &clock{t: time.Now()}, &counter{})
	n := m.Initialize([]collection.NFT{
		{ID: 10, CollectionID: 1, Price: 50, MarketPrice: 50},
		{ID: 11, CollectionID: 3, Price: 2, MarketPrice: 2},
	})
	assert.Equal(t, 1, n)
	assert.True(t, m.Initialized())
	_, ok := m.Lowest(3)
	assert.False(t, ok)
}

func TestHandleUpdates_DropAlertsOnceWithinWindow(t *testing.T) {
	alerts := &fakeAlerter{}
	clk := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rec := &counter{}
	m := newMonitor(t, alerts, clk, rec)
	ctx := context.Background()

	m.Initialize([]collection.NFT{{ID: 10, CollectionID: 1, Price: 100, MarketPrice: 100}})

	require.NoError(t, m.HandleUpdates(ctx, []Update{add(1, 11, 90)}))
	require.Equal(t, 1, alerts.count())
	assert.Equal(t, 100.0, alerts.sent[0].PreviousLowest)
	assert.Equal(t, "Alpha", alerts.sent[0].Collection.Name)
	assert.Equal(t, 1, rec.n)

	require.NoError(t, m.HandleUpdates(ctx, []Update{add(1, 12, 80)}))
	assert.Equal(t, 1, alerts.count(), "muted within the notify window")

	clk.t = clk.t.Add(31 * time.Minute)
	require.NoError(t, m.HandleUpdates(ctx, []Update{add(1, 13, 70)}))
	assert.Equal(t, 2, alerts.count())

	low, ok := m.Lowest(1)
	require.True(t, ok)
	assert.Equal(t, 13, low.ID)
}

func TestHandleUpdates_FirstSeenAndDustIgnored(t *testing.T) {
	alerts := &fakeAlerter{}
	m := newMonitor(t, alerts, &clock{t: time.Now()}, &counter{})
	ctx := context.Background()

	require.NoError(t, m.HandleUpdates(ctx, []Update{add(1, 10, 100), add(1, 11, 1.5)}))
	assert.Zero(t, alerts.count())
	low, _ := m.Lowest(1)
	assert.Equal(t, 10, low.ID)

	// Known collection with a cheap original price.
	m.Initialize([]collection.NFT{{ID: 20, CollectionID: 2, Price: 50, MarketPrice: 50}})
	require.NoError(t, m.HandleUpdates(ctx, []Update{add(2, 21, 10)}))
	assert.Zero(t, alerts.count())
}

func TestHandleUpdates_UnknownCollectionNotAlerted(t *testing.T) {
	alerts := &fakeAlerter{}
	m := newMonitor(t, alerts, &clock{t: time.Now()}, &counter{})
	m.Initialize([]collection.NFT{{ID: 30, CollectionID: 9, Price: 100, MarketPrice: 100}})

	require.NoError(t, m.HandleUpdates(context.Background(), []Update{add(9, 31, 50)}))
	assert.Zero(t, alerts.count())
}

func TestHandleUpdates_RemoveOnlyCurrentLowest(t *testing.T) {
	m := newMonitor(t, &fakeAlerter{}, &clock{t: time.Now()}, &counter{})
	m.Initialize([]collection.NFT{{ID: 10, CollectionID: 1, Price: 100, MarketPrice: 100}})
	ctx := context.Background()

	require.NoError(t, m.HandleUpdates(ctx, []Update{{Type: UpdateRemove, Data: collection.NFT{ID: 99, CollectionID: 1}}}))
	_, ok := m.Lowest(1)
	assert.True(t, ok)

	require.NoError(t, m.HandleUpdates(ctx, []Update{{Type: UpdateRemove, Data: collection.NFT{ID: 10, CollectionID: 1}}}))
	_, ok = m.Lowest(1)
	assert.False(t, ok)
}

func TestHandleUpdates_FailedDeliveryMutes(t *testing.T) {
	alerts := &fakeAlerter{fail: true}
	clk := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rec := &counter{}
	m := newMonitor(t, alerts, clk, rec)
	ctx := context.Background()
	m.Initialize([]collection.NFT{{ID: 10, CollectionID: 1, Price: 100, MarketPrice: 100}})

	require.NoError(t, m.HandleUpdates(ctx, []Update{add(1, 11, 90)}))
	assert.Equal(t, 1, alerts.count())
	assert.Zero(t, rec.n)

	// Notify window and deny window both run from the same instant.
	clk.t = clk.t.Add(29 * time.Minute)
	require.NoError(t, m.HandleUpdates(ctx, []Update{add(1, 12, 80)}))
	assert.Equal(t, 1, alerts.count())
}

func TestDeny_ExpiresLazily(t *testing.T) {
	clk := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := newMonitor(t, &fakeAlerter{}, clk, &counter{})

	m.Deny(1)
	m.mu.Lock()
	assert.True(t, m.mutedLocked(1))
	m.mu.Unlock()

	clk.t = clk.t.Add(31 * time.Minute)
	m.mu.Lock()
	assert.False(t, m.mutedLocked(1))
	_, still := m.deniedAt[1]
	m.mu.Unlock()
	assert.False(t, still)
}
