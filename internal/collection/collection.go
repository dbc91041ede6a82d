// Package collection holds the marketplace domain types shared by the
// fetcher, the entity store, the detectors and the notification transports.
package collection

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Partitions
// --------------------------------------------------------------------------

// Partition is the listing a collection was fetched from.
type Partition string

const (
	Regular         Partition = "regular"
	Partner         Partition = "partner"
	RegularSnowball Partition = "regularSnowball"
)

// Partitions returns the fixed fetch order of a polling cycle.
func Partitions() []Partition {
	return []Partition{Regular, Partner, RegularSnowball}
}

// ParsePartition maps a user supplied name to a Partition.
func ParsePartition(s string) (Partition, error) {
	switch strings.ToLower(s) {
	case "regular":
		return Regular, nil
	case "partner":
		return Partner, nil
	case "regularsnowball", "snowball":
		return RegularSnowball, nil
	}
	return "", fmt.Errorf("unknown partition %q", s)
}

// TypeSnowball is the marketplace type tag of time-boxed collections.
const TypeSnowball = 8

const secondsPerDay = 24 * 60 * 60

// --------------------------------------------------------------------------
// Collection
// --------------------------------------------------------------------------

// Collection is one trackable catalog entity. RewardDate and LiveDate are
// countdowns in seconds relative to the moment the payload was produced; a
// zero LiveDate means the collection is already public.
type Collection struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Slug          string  `json:"slug"`
	Type          int     `json:"type"`
	Percent       float64 `json:"percent"`
	RewardDate    float64 `json:"rewardDate"`
	LiveDate      float64 `json:"liveDate"`
	OriginalPrice float64 `json:"originalPrice"`
	CalcDate      string  `json:"calcDate"`
	NftsCount     int     `json:"nftsCount"`
	BgImage       string  `json:"bgImage"`

	URL       string    `json:"collectionUrl,omitempty"`
	Partition Partition `json:"collectionType,omitempty"`
}

// Key is the cross-product identity used by all bookkeeping maps.
type Key struct {
	ID        int
	Partition Partition
}

func (k Key) String() string {
	return fmt.Sprintf("%d-%s", k.ID, k.Partition)
}

// Key returns the (id, partition) identity of c.
func (c Collection) Key() Key {
	return Key{ID: c.ID, Partition: c.Partition}
}

// IsSnowball reports whether c is a time-boxed collection.
func (c Collection) IsSnowball() bool {
	return c.Type == TypeSnowball
}

// DaysUntilReward converts the reward countdown to fractional days.
func (c Collection) DaysUntilReward() float64 {
	return c.RewardDate / secondsPerDay
}

// MinutesUntilReward converts the reward countdown to fractional minutes.
func (c Collection) MinutesUntilReward() float64 {
	return c.RewardDate / 60
}

// RewardIn returns the reward countdown as a duration.
func (c Collection) RewardIn() time.Duration {
	return time.Duration(c.RewardDate * float64(time.Second))
}

// LiveIn returns the activation countdown as a duration.
func (c Collection) LiveIn() time.Duration {
	return time.Duration(c.LiveDate * float64(time.Second))
}

var calcDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CalcTime parses the reference calculation date.
func (c Collection) CalcTime() (time.Time, bool) {
	if c.CalcDate == "" {
		return time.Time{}, false
	}
	for _, layout := range calcDateLayouts {
		if t, err := time.Parse(layout, c.CalcDate); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MonthlyReward estimates the monthly payout at the original price.
func (c Collection) MonthlyReward() float64 {
	return c.OriginalPrice * c.Percent / 100 / 12
}

// Record is a stored snapshot of a collection.
type Record struct {
	Collection
	LastUpdated time.Time `json:"lastUpdated"`
}

// --------------------------------------------------------------------------
// Discovery probes
// --------------------------------------------------------------------------

// Probe is the result of an existence check for one collection ID.
type Probe struct {
	ID         int
	Slug       string
	URL        string
	TotalItems int
}

// SlugFromItem derives a collection slug from an item slug by dropping the
// trailing per-item variant suffix.
func SlugFromItem(itemSlug string) string {
	if i := strings.LastIndex(itemSlug, "-"); i != -1 {
		return itemSlug[:i]
	}
	return itemSlug
}

// --------------------------------------------------------------------------
// Revenue series
// --------------------------------------------------------------------------

// Period selects the bucket size of a revenue series.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ChartPeriod returns the series period used when charting c.
func ChartPeriod(c Collection) Period {
	if c.IsSnowball() {
		return PeriodMonth
	}
	return PeriodYear
}

// RevenuePoint is one entry of a collection's revenue series.
type RevenuePoint struct {
	Label        string  `json:"label"`
	Percent      float64 `json:"percent"`
	GGR          float64 `json:"ggr"`
	PredictedGGR float64 `json:"predictedGgr"`
	MarketPrice  float64 `json:"marketPrice"`
}

// DayLabel is the label daily series use for t, e.g. "Oct - 04".
func DayLabel(t time.Time) string {
	return t.Format("Jan - 02")
}

// ParseDayLabel resolves a day label to a date in now's location. Labels
// carry no year: a label that would land more than a day after now belongs
// to the previous year.
func ParseDayLabel(label string, now time.Time) (time.Time, bool) {
	t, err := time.Parse("Jan - 2", strings.TrimSpace(label))
	if err != nil {
		return time.Time{}, false
	}
	d := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
	if d.After(now.AddDate(0, 0, 1)) {
		d = d.AddDate(-1, 0, 0)
	}
	return d, true
}

// LatestGGR is the revenue context attached to snowball alerts.
type LatestGGR struct {
	GGR          float64 `json:"ggr"`
	PrevGGR      float64 `json:"prevGgr"`
	PredictedGGR float64 `json:"predictedGgr"`
	Label        string  `json:"timestamp"`
}

// Diff returns the rounded change between the last two revenue points.
func (g LatestGGR) Diff() float64 {
	return math.Round(g.GGR - g.PrevGGR)
}

// LatestGGRFrom extracts revenue context from the tail of a series. It
// returns nil for non-snowball collections and when the series is too short
// or the tail carries no revenue.
func LatestGGRFrom(c Collection, points []RevenuePoint) *LatestGGR {
	if !c.IsSnowball() || len(points) < 2 {
		return nil
	}
	latest := points[len(points)-1]
	prev := points[len(points)-2]
	if latest.GGR == 0 || prev.GGR == 0 {
		return nil
	}
	return &LatestGGR{
		GGR:          latest.GGR,
		PrevGGR:      prev.GGR,
		PredictedGGR: latest.PredictedGGR,
		Label:        latest.Label,
	}
}

// --------------------------------------------------------------------------
// Listings
// --------------------------------------------------------------------------

// Remuneration is the payout schedule attached to a listed item.
type Remuneration struct {
	AverageBudget  float64 `json:"averageBudget"`
	RewardInterval float64 `json:"rewardInterval"`
}

// NFT is one listed item as carried by the lowest-price feed.
type NFT struct {
	ID            int           `json:"id"`
	Name          string        `json:"name"`
	Slug          string        `json:"slug"`
	CollectionID  int           `json:"collectionId"`
	Price         float64       `json:"price"`
	MarketPrice   float64       `json:"marketPrice"`
	LastSoldPrice float64       `json:"lastSoldPrice"`
	FileThumb     string        `json:"fileThumb"`
	Remuneration  *Remuneration `json:"remuneration,omitempty"`
}

// MonthlyRevenue is the expected monthly payout of one item.
func (n NFT) MonthlyRevenue() float64 {
	if n.Remuneration == nil {
		return 0
	}
	return n.Remuneration.AverageBudget * n.Remuneration.RewardInterval
}

// YearlyPercent is the annualised payout relative to the current price.
func (n NFT) YearlyPercent() float64 {
	if n.Price == 0 {
		return 0
	}
	return n.MonthlyRevenue() * 12 / n.Price * 100
}
