// Package schedule fires one-shot "last chance" alerts shortly before a
// collection goes public.
package schedule

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/notify"
)

// Countdown boundaries, in seconds of activation countdown.
const (
	Horizon         = 86400 // beyond this it is too early to schedule
	ImmediateWindow = 600   // at or under this the alert fires right away
	MinCountdown    = 10    // at or under this nothing is sent
	LeadTime        = 120   // a scheduled alert lands this long before launch
)

// Decision is the outcome of one Schedule call.
type Decision int

const (
	NotSchedulable Decision = iota
	TooEarly
	Scheduled
	AlreadyScheduled
	FiredNow
)

func (d Decision) String() string {
	switch d {
	case TooEarly:
		return "too_early"
	case Scheduled:
		return "scheduled"
	case AlreadyScheduled:
		return "already_scheduled"
	case FiredNow:
		return "fired_now"
	}
	return "not_schedulable"
}

// Alerter delivers last chance alerts.
type Alerter interface {
	LastChance(ctx context.Context, c collection.Collection) notify.Result
}

// Gauge tracks the number of pending alerts.
type Gauge interface {
	SetScheduled(n int)
}

// Timer is the handle of a pending wake-up.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a timer that calls f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Entry is a pending alert.
type Entry struct {
	Collection collection.Collection `json:"collection"`
	FireAt     time.Time             `json:"fireAt"`
}

type pending struct {
	Entry
	timer Timer
}

// Options configures a Scheduler.
type Options struct {
	Alerts    Alerter
	Gauge     Gauge
	Logger    *slog.Logger
	Now       func() time.Time
	AfterFunc AfterFunc
}

// Scheduler holds at most one pending alert per collection ID.
type Scheduler struct {
	alerts    Alerter
	gauge     Gauge
	logger    *slog.Logger
	now       func() time.Time
	afterFunc AfterFunc

	mu      sync.Mutex
	entries map[int]*pending
	stopped bool
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		alerts:    opts.Alerts,
		gauge:     opts.Gauge,
		logger:    opts.Logger,
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
		entries:   make(map[int]*pending),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.afterFunc == nil {
		s.afterFunc = stdAfterFunc
	}
	return s
}

// Schedule applies the countdown policy to c. Immediate alerts are sent
// before Schedule returns. A collection that already has a pending alert is
// left alone even if its countdown changed.
func (s *Scheduler) Schedule(ctx context.Context, c collection.Collection) Decision {
	t := c.LiveDate
	switch {
	case t > Horizon:
		s.logger.Debug("Launch too far out to schedule", "collection_id", c.ID, "live_in", t)
		return TooEarly

	case t > ImmediateWindow:
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return NotSchedulable
		}
		if _, ok := s.entries[c.ID]; ok {
			s.mu.Unlock()
			s.logger.Debug("Last chance alert already scheduled", "collection_id", c.ID)
			return AlreadyScheduled
		}
		delay := time.Duration((t - LeadTime) * float64(time.Second))
		p := &pending{Entry: Entry{Collection: c, FireAt: s.now().Add(delay)}}
		fireCtx := context.WithoutCancel(ctx)
		p.timer = s.afterFunc(delay, func() { s.fire(fireCtx, c.ID) })
		s.entries[c.ID] = p
		n := len(s.entries)
		s.mu.Unlock()

		s.setGauge(n)
		s.logger.Info("Last chance alert scheduled",
			"collection_id", c.ID, "name", c.Name, "delay", delay, "pending", n)
		return Scheduled

	case t > MinCountdown:
		s.logger.Info("Launch imminent, sending last chance alert now", "collection_id", c.ID, "live_in", t)
		if s.alerts != nil {
			s.alerts.LastChance(ctx, c)
		}
		return FiredNow
	}
	return NotSchedulable
}

func (s *Scheduler) fire(ctx context.Context, id int) {
	s.mu.Lock()
	p, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	n := len(s.entries)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.setGauge(n)

	c := p.Collection
	c.LiveDate = LeadTime
	s.logger.Info("Sending last chance alert", "collection_id", c.ID, "name", c.Name)
	if s.alerts != nil {
		s.alerts.LastChance(ctx, c)
	}
}

// Pending returns the pending alerts ordered by fire time.
func (s *Scheduler) Pending() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, p := range s.entries {
		out = append(out, p.Entry)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Collection.ID < out[j].Collection.ID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Cancel drops the pending alert for id and reports whether one existed.
func (s *Scheduler) Cancel(id int) bool {
	s.mu.Lock()
	p, ok := s.entries[id]
	if ok {
		p.timer.Stop()
		delete(s.entries, id)
	}
	n := len(s.entries)
	s.mu.Unlock()
	if ok {
		s.setGauge(n)
	}
	return ok
}

// Stop cancels every pending alert and refuses new timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, p := range s.entries {
		p.timer.Stop()
		delete(s.entries, id)
	}
	s.stopped = true
	s.mu.Unlock()
	s.setGauge(0)
}

func (s *Scheduler) setGauge(n int) {
	if s.gauge != nil {
		s.gauge.SetScheduled(n)
	}
}
