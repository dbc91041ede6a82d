package maintenance

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
)

// ErrNoHistory is returned by the history jobs when no store is configured.
var ErrNoHistory = errors.New("history store not configured")

// SnapshotHistory fetches today's series of every stored collection and
// folds it into the history store. Requests are spaced by a random jitter.
// It returns how many collections were saved; a failure on one collection
// is logged and the sweep moves on.
func (r *Runner) SnapshotHistory(ctx context.Context) (int, error) {
	if r.deps.History == nil {
		return 0, ErrNoHistory
	}
	records := r.deps.Collections.All()
	r.logger.Info("Starting history snapshot", "collections", len(records))

	saved := 0
	for _, rec := range records {
		if err := r.sleep(ctx, r.jitter()); err != nil {
			return saved, err
		}
		points, err := r.deps.Charts.FetchChart(ctx, rec.Collection, collection.PeriodDay)
		if err != nil {
			r.logger.Warn("History snapshot fetch failed", "slug", rec.Slug, "error", err)
			continue
		}
		if _, err := r.deps.History.Snapshot(ctx, rec.Slug, points); err != nil {
			r.logger.Warn("History snapshot save failed", "slug", rec.Slug, "error", err)
			continue
		}
		saved++
	}
	r.logger.Info("History snapshot completed", "saved", saved, "collections", len(records))
	return saved, nil
}

// PruneHistory drops points older than the configured keep window.
func (r *Runner) PruneHistory(ctx context.Context) (int64, error) {
	if r.deps.History == nil {
		return 0, ErrNoHistory
	}
	n, err := r.deps.History.Prune(ctx, r.cfg.KeepDays)
	if err != nil {
		r.logger.Warn("History prune failed", "error", err)
		return 0, err
	}
	if n > 0 {
		r.logger.Info("History pruned", "rows", n, "keep_days", r.cfg.KeepDays)
	}
	return n, nil
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
