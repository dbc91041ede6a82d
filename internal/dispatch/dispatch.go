// Package dispatch serializes outbound calls per destination key with a
// minimum spacing between calls and a single retry on rate-limit rejection.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultSpacing       = 3 * time.Second
	DefaultRetryFallback = 16 * time.Second
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("dispatch: queue closed")

// RateLimitError marks a call the destination rejected as rate limited.
// A zero RetryAfter means the destination gave no advice.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

var retryAfterRe = regexp.MustCompile(`(?i)retry after (\d+)`)

// RetryDelay reports whether err is a rate-limit rejection and how long to
// wait before the retry. Typed RateLimitErrors and the textual
// "Too Many Requests ... retry after N" form are both recognised; unit
// scales the textual N. Missing advice yields fallback. A bare "429" in
// the text is not enough, since URLs and tokens may contain it.
func RetryDelay(err error, unit, fallback time.Duration) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			return rl.RetryAfter, true
		}
		return fallback, true
	}
	msg := err.Error()
	if !containsFold(msg, "too many requests") {
		return 0, false
	}
	if m := retryAfterRe.FindStringSubmatch(msg); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > 0 {
			return time.Duration(n) * unit, true
		}
	}
	return fallback, true
}

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

// Options tunes a Queue. Zero values take the defaults.
type Options struct {
	Spacing       time.Duration // minimum gap between calls on one key
	RetryFallback time.Duration // delay when a rejection carries no advice
	RetryUnit     time.Duration // unit of a textual "retry after N", default 1s
	Logger        *slog.Logger
}

// Queue owns one FIFO lane per destination key. Lanes are created on first
// use and each runs a single worker, so calls on one key never overlap.
type Queue struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type lane struct {
	key  string
	jobs chan job
	last time.Time
}

// New creates a Queue. A negative Spacing disables spacing.
func New(opts Options) *Queue {
	if opts.Spacing == 0 {
		opts.Spacing = DefaultSpacing
	}
	if opts.Spacing < 0 {
		opts.Spacing = 0
	}
	if opts.RetryFallback <= 0 {
		opts.RetryFallback = DefaultRetryFallback
	}
	if opts.RetryUnit <= 0 {
		opts.RetryUnit = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{opts: opts, logger: logger, lanes: make(map[string]*lane), quit: make(chan struct{})}
}

// Do enqueues fn on key's lane and blocks until it has run, returning fn's
// final error. A rate-limited call is retried once after the advised delay.
func (q *Queue) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	l, err := q.lane(key)
	if err != nil {
		return err
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case l.jobs <- j:
	case <-q.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-q.quit:
		return ErrClosed
	case <-ctx.Done():
		// The worker still drains the job; its result is discarded.
		return ctx.Err()
	}
}

// Keys returns the lanes created so far.
func (q *Queue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, 0, len(q.lanes))
	for k := range q.lanes {
		keys = append(keys, k)
	}
	return keys
}

// Close stops accepting work and waits for running jobs to return. Jobs
// still queued fail with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) lane(key string) (*lane, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if l, ok := q.lanes[key]; ok {
		return l, nil
	}
	l := &lane{key: key, jobs: make(chan job, 64)}
	q.lanes[key] = l
	q.wg.Add(1)
	go q.work(l)
	return l, nil
}

func (q *Queue) work(l *lane) {
	defer q.wg.Done()
	for {
		select {
		case j := <-l.jobs:
			if err := j.ctx.Err(); err != nil {
				j.done <- err
				continue
			}
			if err := q.wait(j.ctx, l); err != nil {
				j.done <- err
				continue
			}
			err := q.run(j, l.key)
			l.last = time.Now()
			j.done <- err
		case <-q.quit:
			for {
				select {
				case j := <-l.jobs:
					j.done <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

// wait blocks until the spacing since the lane's previous completion has
// elapsed. It returns ctx's error if the caller gives up first.
func (q *Queue) wait(ctx context.Context, l *lane) error {
	if q.opts.Spacing == 0 || l.last.IsZero() {
		return nil
	}
	d := time.Until(l.last.Add(q.opts.Spacing))
	if d <= 0 {
		return nil
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

// call runs fn on the lane goroutine, turning a panic into an error so one
// broken transport cannot take the process down.
func (q *Queue) call(j job, key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Dispatch call panicked", "key", key, "panic", r)
			err = fmt.Errorf("dispatch %s: panic: %v", key, r)
		}
	}()
	return j.fn(j.ctx)
}

func (q *Queue) run(j job, key string) error {
	err := q.call(j, key)
	delay, limited := RetryDelay(err, q.opts.RetryUnit, q.opts.RetryFallback)
	if !limited {
		return err
	}

	q.logger.Warn("Rate limited, retrying once", "key", key, "retry_after", delay, "error", err)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-j.ctx.Done():
		return j.ctx.Err()
	}

	if err := q.call(j, key); err != nil {
		q.logger.Error("Retry failed", "key", key, "error", err)
		return err
	}
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}
