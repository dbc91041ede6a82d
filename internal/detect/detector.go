// Package detect implements the change detector: it diffs each polled
// collection against the previous observation, applies the tiered
// suppression policy and hands qualified moves to the alert fan-out.
package detect

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/notify"
)

// ChartSource loads revenue series.
type ChartSource interface {
	FetchChart(ctx context.Context, c collection.Collection, period collection.Period) ([]collection.RevenuePoint, error)
}

// Renderer turns a revenue series into an image.
type Renderer interface {
	Render(c collection.Collection, previous float64, points []collection.RevenuePoint) ([]byte, error)
}

// Alerter is the subset of *notify.FanOut the detector uses.
type Alerter interface {
	ProgressChange(ctx context.Context, ev notify.ProgressChange, img []byte) notify.Result
	PrivilegedProgressChange(ctx context.Context, ev notify.ProgressChange, img []byte) notify.Result
	FinishingBatch(ctx context.Context, items []notify.FinishingItem) notify.Result
}

// FarmerSet reports whether a collection is flagged for the privileged
// channel.
type FarmerSet interface {
	Has(id int) bool
}

// Change is the record of one qualified move.
type Change struct {
	Key       collection.Key
	Previous  float64
	Current   float64
	Delta     float64 // absolute
	Signed    float64
	Threshold float64 // effective threshold after the revenue gate
	LatestGGR *collection.LatestGGR
	Delivered bool // false when the chart could not be rendered
}

// Options configures a Detector.
type Options struct {
	Charts   ChartSource
	Renderer Renderer
	Alerts   Alerter
	Farmers  FarmerSet // nil means no flagged collections

	// Privileged enables the privileged channel path.
	Privileged bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Detector owns the per-key bookkeeping maps. Check is called by the
// polling loop only; the mutex guards the read-only status accessors.
type Detector struct {
	charts     ChartSource
	renderer   Renderer
	alerts     Alerter
	farmers    FarmerSet
	privileged bool
	logger     *slog.Logger
	now        func() time.Time

	mu             sync.Mutex
	previous       map[collection.Key]float64
	lastNotified   map[collection.Key]float64
	lastPrivileged map[int]float64
	finishing      map[collection.Key]struct{}
}

// New creates a Detector.
func New(opts Options) *Detector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Detector{
		charts:         opts.Charts,
		renderer:       opts.Renderer,
		alerts:         opts.Alerts,
		farmers:        opts.Farmers,
		privileged:     opts.Privileged,
		logger:         logger,
		now:            now,
		previous:       make(map[collection.Key]float64),
		lastNotified:   make(map[collection.Key]float64),
		lastPrivileged: make(map[int]float64),
		finishing:      make(map[collection.Key]struct{}),
	}
}

// Previous returns the last observed percentage for key.
func (d *Detector) Previous(key collection.Key) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.previous[key]
	return v, ok
}

// LastNotified returns the percentage of the last standard alert for key.
func (d *Detector) LastNotified(key collection.Key) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.lastNotified[key]
	return v, ok
}

// Tracked returns the number of keys with a previous observation.
func (d *Detector) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.previous)
}

// series lazily fetches one revenue series per Check.
type series struct {
	d      *Detector
	c      collection.Collection
	loaded bool
	points []collection.RevenuePoint
}

func (s *series) get(ctx context.Context) []collection.RevenuePoint {
	if s.loaded {
		return s.points
	}
	s.loaded = true
	if s.d.charts == nil {
		return nil
	}
	points, err := s.d.charts.FetchChart(ctx, s.c, collection.ChartPeriod(s.c))
	if err != nil {
		s.d.logger.Warn("Chart fetch failed", "collection_id", s.c.ID, "slug", s.c.Slug, "error", err)
		return nil
	}
	s.points = points
	return points
}

// Check diffs c against its previous observation. It returns the qualified
// standard change, or nil. The observation is recorded exactly once per
// call whatever the outcome.
func (d *Detector) Check(ctx context.Context, c collection.Collection) *Change {
	key := c.Key()

	d.mu.Lock()
	prev, seen := d.previous[key]
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.previous[key] = c.Percent
		d.mu.Unlock()
	}()

	if !seen {
		return nil
	}
	delta := math.Abs(c.Percent - prev)
	if belowNoise(delta) {
		return nil
	}

	chart := &series{d: d, c: c}
	d.checkPrivileged(ctx, c, prev, delta, chart)

	if c.IsSnowball() && c.Percent < 100 && prev < 100 {
		return nil
	}

	threshold := Threshold(c)
	if delta+epsilon < threshold {
		return nil
	}
	d.mu.Lock()
	last, notified := d.lastNotified[key]
	d.mu.Unlock()
	if notified && math.Abs(last-c.Percent)+epsilon < threshold {
		return nil
	}

	change := &Change{
		Key:       key,
		Previous:  prev,
		Current:   c.Percent,
		Delta:     delta,
		Signed:    c.Percent - prev,
		Threshold: threshold,
	}

	if c.IsSnowball() {
		change.LatestGGR = collection.LatestGGRFrom(c, chart.get(ctx))
		gated := ResolveGGRDelta(c, change.LatestGGR, threshold, d.now())
		if delta+epsilon < gated {
			d.logger.Debug("Move below revenue gate",
				"collection_id", c.ID, "delta", delta, "required", gated)
			return nil
		}
		change.Threshold = math.Max(threshold, gated)
	}

	img, err := d.render(c, prev, chart.get(ctx))
	if err != nil {
		d.logger.Error("Chart render failed, alert dropped", "collection_id", c.ID, "slug", c.Slug, "error", err)
		return change
	}

	d.alerts.ProgressChange(ctx, notify.ProgressChange{
		Collection: c,
		Previous:   prev,
		LatestGGR:  change.LatestGGR,
	}, img)
	change.Delivered = true

	d.mu.Lock()
	d.lastNotified[key] = c.Percent
	d.mu.Unlock()

	d.logger.Info("Progress alert sent",
		"collection_id", c.ID, "partition", c.Partition,
		"previous", prev, "current", c.Percent, "threshold", change.Threshold)
	return change
}

func (d *Detector) render(c collection.Collection, prev float64, points []collection.RevenuePoint) ([]byte, error) {
	if d.renderer == nil {
		return nil, nil
	}
	return d.renderer.Render(c, prev, points)
}

// checkPrivileged runs the privileged channel gate. It is independent of
// the standard path and keyed by collection ID only.
func (d *Detector) checkPrivileged(ctx context.Context, c collection.Collection, prev, delta float64, chart *series) {
	if !d.privileged {
		return
	}

	jump := math.Round(c.Percent - prev)
	flagged := d.farmers != nil && d.farmers.Has(c.ID)
	if !(jump >= PrivilegedJump && c.Percent >= PrivilegedLevel) &&
		!(flagged && delta+epsilon >= FarmerThreshold(c)) {
		return
	}

	d.mu.Lock()
	last, ok := d.lastPrivileged[c.ID]
	d.mu.Unlock()
	if ok && math.Abs(last-c.Percent) < PrivilegedRepeat {
		return
	}
	if c.IsSnowball() && c.Percent < 100 && prev < 100 {
		return
	}

	points := chart.get(ctx)
	img, err := d.render(c, prev, points)
	if err != nil {
		// The privileged channel still gets the text alert.
		d.logger.Warn("Chart render failed for privileged alert", "collection_id", c.ID, "error", err)
		img = nil
	}

	d.alerts.PrivilegedProgressChange(ctx, notify.ProgressChange{
		Collection: c,
		Previous:   prev,
		LatestGGR:  collection.LatestGGRFrom(c, points),
	}, img)

	d.mu.Lock()
	d.lastPrivileged[c.ID] = c.Percent
	d.mu.Unlock()

	d.logger.Info("Privileged alert sent", "collection_id", c.ID, "jump", jump, "flagged", flagged)
}
