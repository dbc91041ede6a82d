// Package history keeps a daily revenue series per collection in Postgres.
// It is a side store: everything in it can be rebuilt from the marketplace.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/db"
)

// DefaultKeepDays is how long daily points are kept.
const DefaultKeepDays = 20

// Querier is the pool surface the store uses. *db.Pool satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads and writes chart history.
type Store struct {
	q   Querier
	now func() time.Time
	loc *time.Location
}

// New creates a Store. Day labels are resolved in loc.
func New(q Querier, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{q: q, now: time.Now, loc: loc}
}

func (s *Store) today() time.Time { return s.now().In(s.loc) }

// UpsertDaily writes points under slug, replacing any stored point with the
// same label. Points whose label is not a day label are skipped. It returns
// how many were written.
func (s *Store) UpsertDaily(ctx context.Context, slug string, points []collection.RevenuePoint) (int, error) {
	now := s.today()
	n := 0
	for _, p := range points {
		day, ok := collection.ParseDayLabel(p.Label, now)
		if !ok {
			continue
		}
		if _, err := s.q.Exec(ctx, db.StmtUpsertPoint,
			slug, p.Label, day, p.Percent, p.GGR, p.PredictedGGR, p.MarketPrice); err != nil {
			return n, fmt.Errorf("upsert %s %s: %w", slug, p.Label, err)
		}
		n++
	}
	return n, nil
}

// Series returns the stored points of slug in day order.
func (s *Store) Series(ctx context.Context, slug string) ([]collection.RevenuePoint, error) {
	rows, err := s.q.Query(ctx, db.StmtSeries, slug)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", slug, err)
	}
	defer rows.Close()

	var out []collection.RevenuePoint
	for rows.Next() {
		var p collection.RevenuePoint
		if err := rows.Scan(&p.Label, &p.Percent, &p.GGR, &p.PredictedGGR, &p.MarketPrice); err != nil {
			return nil, fmt.Errorf("scan history %s: %w", slug, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Prune deletes points older than keepDays and returns how many went.
func (s *Store) Prune(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		keepDays = DefaultKeepDays
	}
	t := s.today()
	cutoff := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, -keepDays)
	tag, err := s.q.Exec(ctx, db.StmtPrune, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Snapshot folds today's point of fresh into the stored series of slug,
// persists it, and returns the merged series.
func (s *Store) Snapshot(ctx context.Context, slug string, fresh []collection.RevenuePoint) ([]collection.RevenuePoint, error) {
	existing, err := s.Series(ctx, slug)
	if err != nil {
		return nil, err
	}
	now := s.today()
	label := collection.DayLabel(now)
	merged := MergeDaily(existing, fresh, label, now)

	var todays []collection.RevenuePoint
	for _, p := range merged {
		if p.Label == label {
			todays = append(todays, p)
		}
	}
	if _, err := s.UpsertDaily(ctx, slug, todays); err != nil {
		return nil, err
	}
	return merged, nil
}

// MergeDaily keeps every existing point except today's, takes today's point
// from fresh, and orders the result by day.
func MergeDaily(existing, fresh []collection.RevenuePoint, todayLabel string, now time.Time) []collection.RevenuePoint {
	byLabel := make(map[string]collection.RevenuePoint, len(existing)+1)
	for _, p := range existing {
		if p.Label != todayLabel {
			byLabel[p.Label] = p
		}
	}
	for _, p := range fresh {
		if p.Label == todayLabel {
			byLabel[p.Label] = p
		}
	}

	out := make([]collection.RevenuePoint, 0, len(byLabel))
	for _, p := range byLabel {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		di, _ := collection.ParseDayLabel(out[i].Label, now)
		dj, _ := collection.ParseDayLabel(out[j].Label, now)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].Label < out[j].Label
	})
	return out
}
