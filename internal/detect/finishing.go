package detect

import (
	"context"
	"sort"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/notify"
)

// CheckFinishing batches every snowball whose reward is due within
// FinishingWindow and has not been announced yet. Items whose revenue
// context cannot be loaded are left for the next sweep. It returns the
// items that were sent.
func (d *Detector) CheckFinishing(ctx context.Context, cs []collection.Collection) []notify.FinishingItem {
	window := FinishingWindow.Minutes()

	var items []notify.FinishingItem
	var keys []collection.Key
	for _, c := range cs {
		if !c.IsSnowball() {
			continue
		}
		minutes := c.MinutesUntilReward()
		if minutes <= 0 || minutes > window {
			continue
		}
		key := c.Key()
		d.mu.Lock()
		_, done := d.finishing[key]
		d.mu.Unlock()
		if done {
			continue
		}

		var latest *collection.LatestGGR
		if d.charts != nil {
			points, err := d.charts.FetchChart(ctx, c, collection.PeriodMonth)
			if err != nil {
				d.logger.Warn("Finishing snowball skipped, chart fetch failed",
					"collection_id", c.ID, "error", err)
				continue
			}
			latest = collection.LatestGGRFrom(c, points)
		}
		items = append(items, notify.FinishingItem{Collection: c, LatestGGR: latest})
		keys = append(keys, key)
	}

	if len(items) == 0 {
		return nil
	}

	d.alerts.FinishingBatch(ctx, items)

	d.mu.Lock()
	for _, k := range keys {
		d.finishing[k] = struct{}{}
	}
	d.mu.Unlock()

	d.logger.Info("Finishing snowballs alert sent", "count", len(items))
	return items
}

// UpcomingRewards selects collections whose reward is due within
// UpcomingWindowDays, split into regular and snowball lists, each sorted by
// the nearest reward first.
func UpcomingRewards(cs []collection.Collection) (regular, snowballs []collection.Collection) {
	for _, c := range cs {
		days := c.DaysUntilReward()
		if days <= 0 || days > UpcomingWindowDays {
			continue
		}
		if c.IsSnowball() {
			snowballs = append(snowballs, c)
		} else {
			regular = append(regular, c)
		}
	}
	byReward := func(s []collection.Collection) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].RewardDate < s[j].RewardDate })
	}
	byReward(regular)
	byReward(snowballs)
	return regular, snowballs
}
