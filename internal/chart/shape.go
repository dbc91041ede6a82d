package chart

import (
	"math"
	"strings"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
)

// defaultSeries is drawn when the marketplace returned no history: the
// previous percent an hour ago and the current one now.
func defaultSeries(c collection.Collection, previous float64, now time.Time) []collection.RevenuePoint {
	return []collection.RevenuePoint{
		{Label: now.Add(-time.Hour).Format("1/2/2006 15:04"), Percent: previous},
		{Label: now.Format("1/2/2006 15:04"), Percent: c.Percent},
	}
}

// withToday appends today's point carrying the live percent, or corrects the
// last point when it is already today's. The input slice is not modified.
func withToday(points []collection.RevenuePoint, c collection.Collection, now time.Time) []collection.RevenuePoint {
	out := make([]collection.RevenuePoint, len(points), len(points)+1)
	copy(out, points)
	if len(out) == 0 {
		return out
	}
	label := collection.DayLabel(now)
	last := &out[len(out)-1]
	if last.Label != label {
		return append(out, collection.RevenuePoint{
			Label:       label,
			Percent:     c.Percent,
			MarketPrice: last.MarketPrice,
		})
	}
	last.Percent = c.Percent
	return out
}

// dedupPercent keeps a point only when its percent differs from the last
// kept one. The first point is always kept.
func dedupPercent(points []collection.RevenuePoint) []collection.RevenuePoint {
	if len(points) == 0 {
		return nil
	}
	out := []collection.RevenuePoint{points[0]}
	for _, p := range points[1:] {
		if math.Abs(p.Percent-out[len(out)-1].Percent) > 1e-9 {
			out = append(out, p)
		}
	}
	return out
}

// compactDaily keeps the two most recent points as they are and reduces the
// older ones to the last point of each day, in order of first appearance.
func compactDaily(points []collection.RevenuePoint) []collection.RevenuePoint {
	if len(points) <= 2 {
		return points
	}
	older, recent := points[:len(points)-2], points[len(points)-2:]

	var order []string
	byDay := make(map[string]collection.RevenuePoint)
	for _, p := range older {
		day := dayKey(p.Label)
		if _, ok := byDay[day]; !ok {
			order = append(order, day)
		}
		byDay[day] = p
	}

	out := make([]collection.RevenuePoint, 0, len(order)+2)
	for _, day := range order {
		out = append(out, byDay[day])
	}
	return append(out, recent...)
}

var labelLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04",
	"1/2/2006",
}

// dayKey reduces a label to its calendar day. Labels that are already
// daily ("Oct - 04") or unparseable are their own key.
func dayKey(label string) string {
	for _, layout := range labelLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(label)); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return label
}

// Shape prepares the series that gets drawn for c.
func Shape(c collection.Collection, previous float64, points []collection.RevenuePoint, now time.Time) []collection.RevenuePoint {
	if len(points) == 0 {
		return defaultSeries(c, previous, now)
	}
	if c.IsSnowball() {
		return compactDaily(points)
	}
	return compactDaily(dedupPercent(withToday(points, c, now)))
}
