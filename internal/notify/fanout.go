package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/albapepper/collection-watch/internal/collection"
)

// Recorder receives per-transport delivery outcomes. *metrics.Metrics
// satisfies it.
type Recorder interface {
	AlertSent(transport, kind string, err error)
}

// Result records the outcome of one broadcast.
type Result struct {
	Succeeded []string
	Failed    map[string]error
}

// OK reports whether every transport delivered.
func (r Result) OK() bool { return len(r.Failed) == 0 }

// FanOut broadcasts one event to all transports concurrently. A failing or
// panicking transport never affects the others, and no method returns an
// error: the outcome is in the Result.
type FanOut struct {
	transports []Transport
	recorder   Recorder
	logger     *slog.Logger
}

// NewFanOut creates a fan-out over transports. recorder may be nil.
func NewFanOut(transports []Transport, recorder Recorder, logger *slog.Logger) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{transports: transports, recorder: recorder, logger: logger}
}

// Transports returns the configured transport names.
func (f *FanOut) Transports() []string {
	names := make([]string, 0, len(f.transports))
	for _, t := range f.transports {
		names = append(names, t.Name())
	}
	return names
}

func (f *FanOut) broadcast(ctx context.Context, kind Kind, send func(context.Context, Transport) error) Result {
	var (
		mu  sync.Mutex
		res = Result{Failed: make(map[string]error)}
	)

	// The group context is never used for cancellation: one transport's
	// failure must not abort the others.
	var g errgroup.Group
	for _, t := range f.transports {
		g.Go(func() error {
			err := f.safeSend(ctx, t, send)
			if f.recorder != nil {
				f.recorder.AlertSent(t.Name(), string(kind), err)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[t.Name()] = err
				f.logger.Error("Alert delivery failed", "transport", t.Name(), "kind", kind, "error", err)
				return nil
			}
			res.Succeeded = append(res.Succeeded, t.Name())
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Succeeded)
	return res
}

func (f *FanOut) safeSend(ctx context.Context, t Transport, send func(context.Context, Transport) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport %s panicked: %v", t.Name(), r)
		}
	}()
	return send(ctx, t)
}

func (f *FanOut) NewCollection(ctx context.Context, c collection.Collection) Result {
	return f.broadcast(ctx, KindNewCollection, func(ctx context.Context, t Transport) error {
		return t.SendNewCollection(ctx, c)
	})
}

func (f *FanOut) ProgressChange(ctx context.Context, ev ProgressChange, img []byte) Result {
	return f.broadcast(ctx, KindProgressChange, func(ctx context.Context, t Transport) error {
		return t.SendProgressChange(ctx, ev, img)
	})
}

func (f *FanOut) PrivilegedProgressChange(ctx context.Context, ev ProgressChange, img []byte) Result {
	return f.broadcast(ctx, KindPrivilegedProgress, func(ctx context.Context, t Transport) error {
		return t.SendPrivilegedProgressChange(ctx, ev, img)
	})
}

func (f *FanOut) LastChance(ctx context.Context, c collection.Collection) Result {
	return f.broadcast(ctx, KindLastChance, func(ctx context.Context, t Transport) error {
		return t.SendLastChance(ctx, c)
	})
}

func (f *FanOut) UpcomingRewards(ctx context.Context, cs []collection.Collection, snowballs bool) Result {
	return f.broadcast(ctx, KindUpcomingRewards, func(ctx context.Context, t Transport) error {
		return t.SendUpcomingRewards(ctx, cs, snowballs)
	})
}

func (f *FanOut) FinishingBatch(ctx context.Context, items []FinishingItem) Result {
	return f.broadcast(ctx, KindFinishingBatch, func(ctx context.Context, t Transport) error {
		return t.SendFinishingBatch(ctx, items)
	})
}

func (f *FanOut) PriceDrop(ctx context.Context, ev PriceDrop) Result {
	return f.broadcast(ctx, KindPriceDrop, func(ctx context.Context, t Transport) error {
		return t.SendPriceDrop(ctx, ev)
	})
}
