package chart

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/albapepper/collection-watch/internal/collection"
)

var fixedNow = time.Date(2025, time.March, 7, 15, 0, 0, 0, time.UTC)

func pt(label string, percent float64) collection.RevenuePoint {
	return collection.RevenuePoint{Label: label, Percent: percent}
}

func labels(points []collection.RevenuePoint) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Label
	}
	return out
}

func TestShape_DefaultSeriesWhenEmpty(t *testing.T) {
	c := collection.Collection{Percent: 12}
	got := Shape(c, 10, nil, fixedNow)
	require.Len(t, got, 2)
	assert.Equal(t, 10.0, got[0].Percent)
	assert.Equal(t, 12.0, got[1].Percent)
	assert.Equal(t, "3/7/2025 14:00", got[0].Label)
}

func TestShape_AppendsToday(t *testing.T) {
	c := collection.Collection{Percent: 12}
	in := []collection.RevenuePoint{pt("Mar - 05", 10), {Label: "Mar - 06", Percent: 11, MarketPrice: 40}}

	got := Shape(c, 0, in, fixedNow)
	assert.Equal(t, []string{"Mar - 05", "Mar - 06", "Mar - 07"}, labels(got))
	assert.Equal(t, 12.0, got[2].Percent)
	assert.Equal(t, 40.0, got[2].MarketPrice)
	assert.Len(t, in, 2, "input must not grow")
}

func TestShape_UpdatesTodayInPlace(t *testing.T) {
	c := collection.Collection{Percent: 12}
	in := []collection.RevenuePoint{pt("Mar - 06", 10), pt("Mar - 07", 11)}

	got := Shape(c, 0, in, fixedNow)
	require.Len(t, got, 2)
	assert.Equal(t, 12.0, got[1].Percent)
	assert.Equal(t, 11.0, in[1].Percent, "input must not be mutated")
}

func TestShape_DedupsEqualPercents(t *testing.T) {
	c := collection.Collection{Percent: 11}
	in := []collection.RevenuePoint{pt("Mar - 03", 10), pt("Mar - 04", 10), pt("Mar - 05", 11), pt("Mar - 06", 11)}

	got := Shape(c, 0, in, fixedNow)
	assert.Equal(t, []string{"Mar - 03", "Mar - 05"}, labels(got))
}

func TestShape_SnowballUntouched(t *testing.T) {
	c := collection.Collection{Type: collection.TypeSnowball, Percent: 99}
	in := []collection.RevenuePoint{pt("Mar - 05", 10), pt("Mar - 06", 10)}

	got := Shape(c, 0, in, fixedNow)
	assert.Equal(t, in, got)
}

func TestCompactDaily(t *testing.T) {
	in := []collection.RevenuePoint{
		pt("2025-03-05 10:00", 1),
		pt("2025-03-05 18:00", 2),
		pt("2025-03-06 09:00", 3),
		pt("2025-03-06 12:00", 4),
		pt("2025-03-06 13:00", 5),
	}
	got := compactDaily(in)
	assert.Equal(t, []float64{2, 3, 4, 5}, []float64{got[0].Percent, got[1].Percent, got[2].Percent, got[3].Percent})
	assert.Len(t, got, 4)
}

func TestTicks_Bounded(t *testing.T) {
	var series []collection.RevenuePoint
	for i := 0; i < 31; i++ {
		series = append(series, pt("x", float64(i)))
	}
	got := ticks(series)
	assert.LessOrEqual(t, len(got), maxTicks+1)
	assert.Equal(t, 30.0, got[len(got)-1].Value)
}

func TestBuild_SeriesPerType(t *testing.T) {
	r := New(Options{Now: func() time.Time { return fixedNow }})

	snow := r.build(collection.Collection{Type: collection.TypeSnowball}, []collection.RevenuePoint{pt("a", 1), pt("b", 2)})
	assert.Len(t, snow.Series, 3)
	assert.Equal(t, gochart.YAxisSecondary, snow.Series[1].GetYAxis())

	regular := r.build(collection.Collection{OriginalPrice: 1200}, []collection.RevenuePoint{pt("a", 10), pt("b", 10)})
	assert.Len(t, regular.Series, 2)
	yr := regular.YAxis.Range.(*gochart.ContinuousRange)
	assert.Less(t, yr.Min, yr.Max)
}

func TestRender_PNG(t *testing.T) {
	r := New(Options{Now: func() time.Time { return fixedNow }})
	cases := []struct {
		name   string
		c      collection.Collection
		points []collection.RevenuePoint
	}{
		{"empty", collection.Collection{Name: "Alpha", Percent: 10}, nil},
		{"flat", collection.Collection{Name: "Alpha", Percent: 10, OriginalPrice: 100}, []collection.RevenuePoint{pt("Mar - 06", 10)}},
		{"snowball", collection.Collection{Name: "Snow", Type: collection.TypeSnowball}, []collection.RevenuePoint{
			{Label: "Mar - 06", Percent: 80, GGR: 1000, PredictedGGR: 1100},
			{Label: "Mar - 07", Percent: 90, GGR: 1500, PredictedGGR: 1600},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := r.Render(tc.c, 8, tc.points)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))
		})
	}
}
