// Package maintenance runs the clock-aligned daily jobs: the upcoming reward
// digest, the chart history snapshot and the history prune.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
)

// Config sets the wall-clock time of each job in Location. A negative hour
// disables a job.
type Config struct {
	Location *time.Location

	DigestHour, DigestMinute     int
	SnapshotHour, SnapshotMinute int
	PruneHour, PruneMinute       int

	KeepDays  int
	JitterMin time.Duration
	JitterMax time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Location:       time.UTC,
		DigestHour:     18,
		SnapshotHour:   0,
		SnapshotMinute: 1,
		PruneHour:      1,
		KeepDays:       20,
		JitterMin:      700 * time.Millisecond,
		JitterMax:      1800 * time.Millisecond,
	}
}

// Digester sends the upcoming reward digest. *monitor.Monitor satisfies it.
type Digester interface {
	RunRewardDigest(ctx context.Context)
}

// Collections lists the stored collections.
type Collections interface {
	All() []collection.Record
}

// ChartSource fetches revenue series.
type ChartSource interface {
	FetchChart(ctx context.Context, c collection.Collection, period collection.Period) ([]collection.RevenuePoint, error)
}

// History persists daily series. *history.Store satisfies it.
type History interface {
	Snapshot(ctx context.Context, slug string, fresh []collection.RevenuePoint) ([]collection.RevenuePoint, error)
	Prune(ctx context.Context, keepDays int) (int64, error)
}

// Deps are the collaborators of the jobs. History may be nil, which
// disables the snapshot and prune jobs.
type Deps struct {
	Digest      Digester
	Collections Collections
	Charts      ChartSource
	History     History
}

// Runner owns the daily jobs.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// New creates a Runner.
func New(cfg Config, deps Deps, logger *slog.Logger) *Runner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "maintenance")),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	r.jitter = func() time.Duration { return randomBetween(cfg.JitterMin, cfg.JitterMax) }
	return r
}

// Start launches every configured job. Blocks until ctx is cancelled.
// Intended to be called with `go`.
func (r *Runner) Start(ctx context.Context) {
	type job struct {
		name         string
		hour, minute int
		fn           func(ctx context.Context)
	}
	var jobs []job
	if r.deps.Digest != nil {
		jobs = append(jobs, job{"reward_digest", r.cfg.DigestHour, r.cfg.DigestMinute, r.deps.Digest.RunRewardDigest})
	}
	if r.deps.History != nil {
		jobs = append(jobs,
			job{"history_snapshot", r.cfg.SnapshotHour, r.cfg.SnapshotMinute, func(ctx context.Context) { _, _ = r.SnapshotHistory(ctx) }},
			job{"history_prune", r.cfg.PruneHour, r.cfg.PruneMinute, func(ctx context.Context) { _, _ = r.PruneHistory(ctx) }},
		)
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		if j.hour < 0 {
			continue
		}
		r.logger.Info("Daily job scheduled", "job", j.name,
			"next", NextAt(r.now(), j.hour, j.minute, r.cfg.Location))
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runDaily(ctx, j.name, j.hour, j.minute, j.fn)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	r.logger.Info("Maintenance jobs stopped")
}

func (r *Runner) runDaily(ctx context.Context, name string, hour, minute int, fn func(context.Context)) {
	for {
		next := NextAt(r.now(), hour, minute, r.cfg.Location)
		if err := r.sleep(ctx, next.Sub(r.now())); err != nil {
			return
		}
		start := r.now()
		fn(ctx)
		r.logger.Info("Daily job finished", "job", name, "duration", r.now().Sub(start).Round(time.Millisecond))
	}
}

// NextAt returns the first instant strictly after now at hour:minute in loc.
func NextAt(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc)
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
