package detect

import (
	"math"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// NoiseFloor is the largest move that is always ignored.
	NoiseFloor = 0.1

	// StandardThreshold applies to every non-snowball collection.
	StandardThreshold = 0.01

	// PrivilegedJump and PrivilegedLevel gate the one-shot jump trigger of
	// the privileged channel.
	PrivilegedJump  = 100
	PrivilegedLevel = 200

	// PrivilegedRepeat is the minimum distance from the last privileged
	// alert before another one goes out.
	PrivilegedRepeat = 0.1

	// FinishingWindow is how close to the reward a snowball must be to be
	// listed in the finishing batch.
	FinishingWindow = 5 * time.Minute

	// UpcomingWindowDays bounds the daily reward digest.
	UpcomingWindowDays = 2

	epsilon = 1e-9
)

// step is one bucket of a countdown table: above Days, use Threshold.
type step struct {
	Days      float64
	Threshold float64
}

var snowballSteps = []step{
	{27, 35}, {25, 25}, {22, 18}, {20, 13}, {15, 6}, {10, 5}, {5, 3},
}

var farmerSteps = []step{
	{27, 20}, {25, 15}, {22, 12}, {20, 9}, {10, 5},
}

func lookup(steps []step, days float64) float64 {
	for _, s := range steps {
		if days > s.Days {
			return s.Threshold
		}
	}
	return 1
}

// belowNoise reports whether an absolute move is at or under the noise
// floor.
func belowNoise(delta float64) bool {
	return delta <= NoiseFloor+epsilon
}

// Threshold is the minimum move required for a standard alert on c.
// Snowball thresholds shrink as the reward approaches.
func Threshold(c collection.Collection) float64 {
	if !c.IsSnowball() {
		return StandardThreshold
	}
	return lookup(snowballSteps, c.DaysUntilReward())
}

// FarmerThreshold is the coarser table used by the privileged channel for
// flagged collections.
func FarmerThreshold(c collection.Collection) float64 {
	return lookup(farmerSteps, c.DaysUntilReward())
}

// GGR bands, as daily averages since the calculation date.
const (
	dailyMinPredictedGGR = 50
	dailyMinActualGGR    = 100
)

// ResolveGGRDelta scales delta for snowballs whose revenue signal is weak.
// Missing revenue data or a calculation date in the future yields 0 and a
// calculation date of today yields 1, both of which let the alert through.
func ResolveGGRDelta(c collection.Collection, latest *collection.LatestGGR, delta float64, now time.Time) float64 {
	if latest == nil || latest.PredictedGGR == 0 || latest.GGR == 0 {
		return 0
	}
	calc, ok := c.CalcTime()
	if !ok {
		return 0
	}

	days := math.Floor(now.Sub(calc).Hours() / 24)
	switch {
	case days < 0:
		return 0
	case days == 0:
		return 1
	}

	dailyPredicted := latest.PredictedGGR / days
	daily := latest.GGR / days

	switch {
	case dailyPredicted < dailyMinPredictedGGR && daily < dailyMinActualGGR:
		return delta * 5
	case dailyPredicted < 2*dailyMinPredictedGGR && daily < 2*dailyMinActualGGR:
		return delta * 3
	case dailyPredicted < 3*dailyMinPredictedGGR && daily < 3*dailyMinActualGGR:
		return delta * 2
	}
	return delta
}
