package collection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugFromItem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"golden-goose-17", "golden-goose"},
		{"single", "single"},
		{"", ""},
		{"trailing-", "trailing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SlugFromItem(tt.in), tt.in)
	}
}

func TestKeyString(t *testing.T) {
	c := Collection{ID: 42, Partition: Partner}
	assert.Equal(t, "42-partner", c.Key().String())
}

func TestParsePartition(t *testing.T) {
	p, err := ParsePartition("snowball")
	require.NoError(t, err)
	assert.Equal(t, RegularSnowball, p)

	_, err = ParsePartition("nope")
	assert.Error(t, err)
}

func TestCountdowns(t *testing.T) {
	c := Collection{RewardDate: 2 * secondsPerDay, LiveDate: 90}
	assert.InDelta(t, 2.0, c.DaysUntilReward(), 1e-9)
	assert.InDelta(t, 2*24*60.0, c.MinutesUntilReward(), 1e-9)
	assert.Equal(t, 90*time.Second, c.LiveIn())
}

func TestCalcTime(t *testing.T) {
	c := Collection{CalcDate: "2025-03-01"}
	got, ok := c.CalcTime()
	require.True(t, ok)
	assert.Equal(t, 2025, got.Year())

	_, ok = Collection{CalcDate: "garbage"}.CalcTime()
	assert.False(t, ok)
	_, ok = Collection{}.CalcTime()
	assert.False(t, ok)
}

func TestLatestGGRFrom(t *testing.T) {
	snowball := Collection{Type: TypeSnowball}
	points := []RevenuePoint{
		{Label: "Mar - 01", GGR: 100},
		{Label: "Mar - 02", GGR: 160, PredictedGGR: 300},
	}

	got := LatestGGRFrom(snowball, points)
	require.NotNil(t, got)
	assert.Equal(t, 160.0, got.GGR)
	assert.Equal(t, 100.0, got.PrevGGR)
	assert.Equal(t, 300.0, got.PredictedGGR)
	assert.Equal(t, 60.0, got.Diff())

	assert.Nil(t, LatestGGRFrom(Collection{}, points), "regular collections carry no GGR")
	assert.Nil(t, LatestGGRFrom(snowball, points[:1]), "needs two points")
	assert.Nil(t, LatestGGRFrom(snowball, []RevenuePoint{{GGR: 0}, {GGR: 5}}))
}

func TestDayLabel(t *testing.T) {
	now := time.Date(2025, time.January, 3, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "Jan - 03", DayLabel(now))

	d, ok := ParseDayLabel("Jan - 3", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC), d)

	d, ok = ParseDayLabel("Dec - 30", now)
	require.True(t, ok)
	assert.Equal(t, 2024, d.Year(), "December labels seen in January are last year's")

	_, ok = ParseDayLabel("2025-01-03", now)
	assert.False(t, ok)
}
