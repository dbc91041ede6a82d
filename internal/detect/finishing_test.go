package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/collection-watch/internal/collection"
)

func finishingSnowball(id int, minutes float64) collection.Collection {
	return collection.Collection{
		ID: id, Slug: "s", Type: collection.TypeSnowball, Percent: 120,
		RewardDate: minutes * 60, Partition: collection.RegularSnowball,
	}
}

func TestCheckFinishing_BatchesOnce(t *testing.T) {
	charts := &fakeCharts{points: []collection.RevenuePoint{{GGR: 10}, {GGR: 20, PredictedGGR: 40}}}
	alerts := &fakeAlerts{}
	d := newDetector(charts, alerts)
	ctx := context.Background()

	cs := []collection.Collection{
		finishingSnowball(1, 4),
		finishingSnowball(2, 5),
		finishingSnowball(3, 6),  // outside the window
		finishingSnowball(4, -1), // already paid
		{ID: 5, RewardDate: 120}, // not a snowball
	}

	items := d.CheckFinishing(ctx, cs)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Collection.ID)
	assert.Equal(t, 2, items[1].Collection.ID)
	require.NotNil(t, items[0].LatestGGR)
	assert.Equal(t, 20.0, items[0].LatestGGR.GGR)
	require.Len(t, alerts.batches, 1)

	assert.Nil(t, d.CheckFinishing(ctx, cs), "already announced")
	assert.Len(t, alerts.batches, 1)
}

func TestCheckFinishing_ChartFailureRetriedNextSweep(t *testing.T) {
	charts := &fakeCharts{err: errors.New("timeout")}
	alerts := &fakeAlerts{}
	d := newDetector(charts, alerts)
	ctx := context.Background()

	cs := []collection.Collection{finishingSnowball(1, 3)}
	assert.Nil(t, d.CheckFinishing(ctx, cs))
	assert.Empty(t, alerts.batches)

	charts.err = nil
	assert.Len(t, d.CheckFinishing(ctx, cs), 1)
}

func TestUpcomingRewards(t *testing.T) {
	day := 86400.0
	cs := []collection.Collection{
		{ID: 1, RewardDate: 1.5 * day},
		{ID: 2, RewardDate: 0.5 * day},
		{ID: 3, RewardDate: 3 * day},
		{ID: 4, RewardDate: 0},
		{ID: 5, RewardDate: 2 * day, Type: collection.TypeSnowball},
		{ID: 6, RewardDate: 0.1 * day, Type: collection.TypeSnowball},
	}

	regular, snowballs := UpcomingRewards(cs)
	require.Len(t, regular, 2)
	assert.Equal(t, 2, regular[0].ID)
	assert.Equal(t, 1, regular[1].ID)
	require.Len(t, snowballs, 2)
	assert.Equal(t, 6, snowballs[0].ID)
	assert.Equal(t, 5, snowballs[1].ID)
}
