// Package discovery probes the collection ID space around the highest known
// ID to find collections the listings have not shown yet.
package discovery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/schedule"
)

const (
	DefaultForwardWindow  = 15
	DefaultBackwardWindow = 25
)

// State is the scanner lifecycle.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	}
	return "uninitialized"
}

// Prober checks existence and loads detail records.
type Prober interface {
	ProbeCollection(ctx context.Context, id int) (*collection.Probe, error)
	FetchInfo(ctx context.Context, slug string) (*collection.Collection, error)
}

// Scheduler receives collections that carry an activation countdown.
type Scheduler interface {
	Schedule(ctx context.Context, c collection.Collection) schedule.Decision
}

// Store receives the detail record of each announced collection.
type Store interface {
	Ingest(p collection.Partition, cs []collection.Collection)
}

// Recorder is the metrics surface used by the scanner.
type Recorder interface {
	Probe(result string)
	SetHighestKnownID(id int)
}

// Callback receives each newly discovered collection.
type Callback func(ctx context.Context, c collection.Collection)

// Options configures a Scanner.
type Options struct {
	Prober    Prober
	Scheduler Scheduler
	Store     Store
	Metrics   Recorder

	ForwardWindow  int
	BackwardWindow int

	// MissedIDs are announced as new whenever a scan finds them.
	MissedIDs []int
	// MissedScheduledIDs only get a last chance alert when found.
	MissedScheduledIDs []int

	Logger *slog.Logger
	Now    func() time.Time
}

// Status is a point-in-time view of the scanner.
type Status struct {
	State          string    `json:"state"`
	HighestKnownID int       `json:"highestKnownId"`
	Notified       int       `json:"notified"`
	Initialized    int       `json:"initialized"`
	MissedPending  []int     `json:"missedPending"`
	LastScan       time.Time `json:"lastScan,omitempty"`
	LastFound      int       `json:"lastFound"`
}

// Scanner owns the discovery state. Scans are serialized; Status may be
// read concurrently.
type Scanner struct {
	prober    Prober
	scheduler Scheduler
	store     Store
	metrics   Recorder
	forward   int
	backward  int
	logger    *slog.Logger
	now       func() time.Time

	scan sync.Mutex // held for the duration of a scan

	mu              sync.Mutex
	state           State
	highest         int
	initialized     map[int]struct{}
	notified        map[int]struct{}
	missed          map[int]struct{}
	missedScheduled map[int]struct{}
	callback        Callback
	lastScan        time.Time
	lastFound       int
}

// New creates a Scanner in the Uninitialized state.
func New(opts Options) *Scanner {
	s := &Scanner{
		prober:          opts.Prober,
		scheduler:       opts.Scheduler,
		store:           opts.Store,
		metrics:         opts.Metrics,
		forward:         opts.ForwardWindow,
		backward:        opts.BackwardWindow,
		logger:          opts.Logger,
		now:             opts.Now,
		initialized:     make(map[int]struct{}),
		notified:        make(map[int]struct{}),
		missed:          toSet(opts.MissedIDs),
		missedScheduled: toSet(opts.MissedScheduledIDs),
	}
	if s.forward <= 0 {
		s.forward = DefaultForwardWindow
	}
	if s.backward <= 0 {
		s.backward = DefaultBackwardWindow
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func toSet(ids []int) map[int]struct{} {
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// SetNewCollectionCallback registers fn for new collections. A nil fn is
// ignored.
func (s *Scanner) SetNewCollectionCallback(fn Callback) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

// State returns the lifecycle state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HighestKnownID returns the scan boundary.
func (s *Scanner) HighestKnownID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highest
}

// Status returns a snapshot of the scanner counters.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:          s.state.String(),
		HighestKnownID: s.highest,
		Notified:       len(s.notified),
		Initialized:    len(s.initialized),
		MissedPending:  sortedKeys(s.missed),
		LastScan:       s.lastScan,
		LastFound:      s.lastFound,
	}
}

// Known returns the resolved IDs in ascending order.
func (s *Scanner) Known() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.initialized)
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Initialize seeds the boundary from the first snapshot and runs the startup
// sweep. Collections in the snapshot and everything found in the sweep are
// marked as known without being announced, except seeded missed IDs. The
// scanner always ends Ready. Calls after the first are no-ops.
func (s *Scanner) Initialize(ctx context.Context, snapshot []collection.Collection) int {
	s.scan.Lock()
	defer s.scan.Unlock()

	s.mu.Lock()
	if s.state != Uninitialized {
		h := s.highest
		s.mu.Unlock()
		return h
	}
	s.state = Initializing
	for _, c := range snapshot {
		s.initialized[c.ID] = struct{}{}
		if c.ID > s.highest {
			s.highest = c.ID
		}
	}
	start := s.highest
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = Ready
		s.lastScan = s.now()
		s.mu.Unlock()
	}()

	s.logger.Info("Discovery initializing",
		"highest_known_id", start,
		"forward_to", start+s.forward,
		"backward_to", start-s.backward)

	// The forward sweep includes the boundary itself.
	for id := start; id <= start+s.forward; id++ {
		if ctx.Err() != nil {
			s.logger.Warn("Discovery initialization interrupted", "error", ctx.Err())
			return s.HighestKnownID()
		}
		p := s.probe(ctx, id)
		if p == nil {
			continue
		}
		// A missed ID whose detail failed stays above the boundary so the
		// next forward leg retries it.
		if _, _, ok := s.backfill(ctx, p); ok {
			s.advance(id)
			s.markInitialized(id)
		}
	}

	top := s.HighestKnownID()
	for id := top - 1; id >= top-s.backward && id > 0; id-- {
		if ctx.Err() != nil {
			s.logger.Warn("Discovery initialization interrupted", "error", ctx.Err())
			return top
		}
		if s.isInitialized(id) {
			continue
		}
		p := s.probe(ctx, id)
		if p == nil {
			continue
		}
		if _, _, ok := s.backfill(ctx, p); ok {
			s.markInitialized(id)
		}
	}

	s.logger.Info("Discovery initialized", "highest_known_id", s.HighestKnownID())
	return s.HighestKnownID()
}

// backfill handles seeded IDs. It returns the announced collection for a
// missed ID. seeded reports whether p was a seeded ID; ok is false only when
// a missed ID could not be announced and stays seeded.
func (s *Scanner) backfill(ctx context.Context, p *collection.Probe) (c *collection.Collection, seeded, ok bool) {
	switch {
	case s.takeMissed(p.ID):
		s.logger.Info("Missed collection found", "collection_id", p.ID, "slug", p.Slug)
		if c = s.announce(ctx, p); c == nil {
			s.restoreMissed(p.ID)
			return nil, true, false
		}
		return c, true, true
	case s.takeMissedScheduled(p.ID):
		s.scheduleBySlug(ctx, p)
		return nil, true, true
	}
	return nil, false, true
}

// CheckForNew runs one forward and one backward leg around the moving
// boundary and returns the collections announced. It does nothing before
// the scanner is Ready.
func (s *Scanner) CheckForNew(ctx context.Context) []collection.Collection {
	if s.State() != Ready {
		s.logger.Debug("Discovery not ready, skipping scan")
		return nil
	}
	s.scan.Lock()
	defer s.scan.Unlock()

	found := s.forwardLeg(ctx)
	found = append(found, s.backwardLeg(ctx)...)

	s.mu.Lock()
	s.lastScan = s.now()
	s.lastFound = len(found)
	highest := s.highest
	s.mu.Unlock()

	s.logger.Info("Discovery scan complete", "found", len(found), "highest_known_id", highest)
	return found
}

func (s *Scanner) forwardLeg(ctx context.Context) []collection.Collection {
	start := s.HighestKnownID()
	var found []collection.Collection
	for id := start + 1; id <= start+s.forward; id++ {
		if ctx.Err() != nil {
			return found
		}
		p := s.probe(ctx, id)
		if p == nil {
			continue
		}
		c, settled := s.resolve(ctx, p)
		if !settled {
			continue
		}
		s.advance(id)
		if c != nil {
			found = append(found, *c)
		}
	}
	return found
}

func (s *Scanner) backwardLeg(ctx context.Context) []collection.Collection {
	top := s.HighestKnownID()
	var found []collection.Collection
	for id := top - 1; id >= top-s.backward && id > 0; id-- {
		if ctx.Err() != nil {
			return found
		}
		if s.isInitialized(id) {
			continue
		}
		p := s.probe(ctx, id)
		if p == nil {
			continue
		}
		s.logger.Info("Previously unreleased collection available", "collection_id", id)
		if c, _ := s.resolve(ctx, p); c != nil {
			found = append(found, *c)
		}
	}
	return found
}

// resolve announces p when it has not been announced or resolved before.
// It returns the announced collection, if any. settled is false when the
// detail fetch failed and the ID must be retried by a later leg.
func (s *Scanner) resolve(ctx context.Context, p *collection.Probe) (c *collection.Collection, settled bool) {
	if c, seeded, ok := s.backfill(ctx, p); seeded {
		if !ok {
			return nil, false
		}
		s.markInitialized(p.ID)
		return c, true
	}

	s.mu.Lock()
	_, notified := s.notified[p.ID]
	_, known := s.initialized[p.ID]
	s.mu.Unlock()
	if notified || known {
		s.markInitialized(p.ID)
		return nil, true
	}

	s.logger.Info("New collection found", "collection_id", p.ID, "slug", p.Slug, "items", p.TotalItems)
	if c = s.announce(ctx, p); c == nil {
		return nil, false
	}
	s.markInitialized(p.ID)
	return c, true
}

// announce loads the detail record, stores it, hands it to the callback,
// routes it to the scheduler and marks it notified. It returns nil when the
// detail fetch failed.
func (s *Scanner) announce(ctx context.Context, p *collection.Probe) *collection.Collection {
	c := s.detail(ctx, p)
	if c == nil {
		return nil
	}

	s.mu.Lock()
	cb := s.callback
	s.notified[p.ID] = struct{}{}
	s.mu.Unlock()

	c.Partition = partitionOf(*c)
	if s.store != nil {
		s.store.Ingest(c.Partition, []collection.Collection{*c})
	}
	if cb != nil {
		cb(ctx, *c)
	}
	if c.LiveDate > 0 && s.scheduler != nil {
		s.scheduler.Schedule(ctx, *c)
	}
	return c
}

// partitionOf files a discovered collection under the regular listing it
// will appear in.
func partitionOf(c collection.Collection) collection.Partition {
	if c.IsSnowball() {
		return collection.RegularSnowball
	}
	return collection.Regular
}

func (s *Scanner) scheduleBySlug(ctx context.Context, p *collection.Probe) {
	c := s.detail(ctx, p)
	if c == nil || c.LiveDate <= 0 || s.scheduler == nil {
		return
	}
	d := s.scheduler.Schedule(ctx, *c)
	s.logger.Info("Missed scheduled collection routed", "collection_id", p.ID, "decision", d.String())
}

func (s *Scanner) detail(ctx context.Context, p *collection.Probe) *collection.Collection {
	if p.Slug == "" {
		s.logger.Warn("Collection has no slug, detail skipped", "collection_id", p.ID)
		return nil
	}
	c, err := s.prober.FetchInfo(ctx, p.Slug)
	if err != nil {
		s.logger.Warn("Collection detail fetch failed", "collection_id", p.ID, "slug", p.Slug, "error", err)
		return nil
	}
	if c.URL == "" {
		c.URL = p.URL
	}
	return c
}

// probe returns nil for absent collections and for failed probes.
func (s *Scanner) probe(ctx context.Context, id int) *collection.Probe {
	p, err := s.prober.ProbeCollection(ctx, id)
	switch {
	case err != nil:
		s.record("error")
		s.logger.Warn("Collection probe failed", "collection_id", id, "error", err)
		return nil
	case p == nil:
		s.record("absent")
		return nil
	}
	s.record("found")
	return p
}

func (s *Scanner) record(result string) {
	if s.metrics != nil {
		s.metrics.Probe(result)
	}
}

func (s *Scanner) advance(id int) {
	s.mu.Lock()
	if id > s.highest {
		s.highest = id
	}
	h := s.highest
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetHighestKnownID(h)
	}
}

func (s *Scanner) markInitialized(id int) {
	s.mu.Lock()
	s.initialized[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Scanner) isInitialized(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.initialized[id]
	return ok
}

func (s *Scanner) takeMissed(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missed[id]; !ok {
		return false
	}
	delete(s.missed, id)
	// Announcing also routes to the scheduler.
	delete(s.missedScheduled, id)
	return true
}

func (s *Scanner) restoreMissed(id int) {
	s.mu.Lock()
	s.missed[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Scanner) takeMissedScheduled(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missedScheduled[id]; !ok {
		return false
	}
	delete(s.missedScheduled, id)
	return true
}
