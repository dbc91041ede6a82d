// Package monitor drives the polling loops: the main snapshot cycle that
// feeds change detection, and the discovery cycle that probes for new IDs.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/detect"
	"github.com/albapepper/collection-watch/internal/discovery"
	"github.com/albapepper/collection-watch/internal/notify"
	"github.com/albapepper/collection-watch/internal/schedule"
	"github.com/albapepper/collection-watch/internal/store"
)

const (
	DefaultMainInterval      = 2 * time.Minute
	DefaultDiscoveryInterval = 15 * time.Minute
)

// Fetcher pulls full partition listings.
type Fetcher interface {
	FetchCollections(ctx context.Context, p collection.Partition) ([]collection.Collection, error)
}

// Detector is the subset of *detect.Detector the cycle drives.
type Detector interface {
	Check(ctx context.Context, c collection.Collection) *detect.Change
	CheckFinishing(ctx context.Context, cs []collection.Collection) []notify.FinishingItem
	Tracked() int
}

// Discovery is the subset of *discovery.Scanner the cycle drives.
type Discovery interface {
	State() discovery.State
	Initialize(ctx context.Context, snapshot []collection.Collection) int
	CheckForNew(ctx context.Context) []collection.Collection
	HighestKnownID() int
}

// Scheduler receives collections with an activation countdown.
type Scheduler interface {
	Schedule(ctx context.Context, c collection.Collection) schedule.Decision
	Stop()
}

// Alerter sends the upcoming reward digest.
type Alerter interface {
	UpcomingRewards(ctx context.Context, cs []collection.Collection, snowballs bool) notify.Result
}

// Recorder is the metrics surface of the loops.
type Recorder interface {
	ObserveCycle(cycle string, d time.Duration)
	SetStoreSize(partition string, n int)
	SetHighestKnownID(id int)
}

// Options configures a Monitor. Scheduler, Alerts and Metrics may be nil.
type Options struct {
	Fetcher   Fetcher
	Store     *store.Store
	Detector  Detector
	Discovery Discovery
	Scheduler Scheduler
	Alerts    Alerter
	Metrics   Recorder

	MainInterval      time.Duration
	DiscoveryInterval time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// CycleResult summarizes one main cycle.
type CycleResult struct {
	Fetched   map[collection.Partition]int
	Failed    []collection.Partition
	Changes   int
	Finishing int
	Duration  time.Duration
}

// Stats is a point-in-time view of the loops.
type Stats struct {
	Running            bool          `json:"running"`
	StartedAt          time.Time     `json:"startedAt,omitempty"`
	MainCycles         int           `json:"mainCycles"`
	DiscoveryCycles    int           `json:"discoveryCycles"`
	LastMainAt         time.Time     `json:"lastMainAt,omitempty"`
	LastMainDuration   time.Duration `json:"lastMainDurationNs"`
	LastDiscoveryAt    time.Time     `json:"lastDiscoveryAt,omitempty"`
	LastDiscoveryFound int           `json:"lastDiscoveryFound"`
	Tracked            int           `json:"tracked"`
	Store              store.Stats   `json:"store"`
}

// Monitor owns the polling loops. Each loop re-arms only after its previous
// run has finished, so runs of the same loop never overlap.
type Monitor struct {
	fetcher   Fetcher
	store     *store.Store
	detector  Detector
	discovery Discovery
	scheduler Scheduler
	alerts    Alerter
	metrics   Recorder

	mainInterval      time.Duration
	discoveryInterval time.Duration

	logger *slog.Logger
	now    func() time.Time

	mainMu sync.Mutex // serializes main cycles

	mu      sync.Mutex
	routed  map[int]struct{} // IDs handed to the scheduler from a snapshot
	stats   Stats
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		fetcher:           opts.Fetcher,
		store:             opts.Store,
		detector:          opts.Detector,
		discovery:         opts.Discovery,
		scheduler:         opts.Scheduler,
		alerts:            opts.Alerts,
		metrics:           opts.Metrics,
		mainInterval:      opts.MainInterval,
		discoveryInterval: opts.DiscoveryInterval,
		logger:            opts.Logger,
		now:               opts.Now,
		routed:            make(map[int]struct{}),
	}
	if m.mainInterval <= 0 {
		m.mainInterval = DefaultMainInterval
	}
	if m.discoveryInterval <= 0 {
		m.discoveryInterval = DefaultDiscoveryInterval
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(slog.String("component", "monitor"))
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Start runs one main cycle, then launches both loops in the background and
// returns. The first discovery run happens one interval after Start.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil || m.stopped {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stats.Running = true
	m.stats.StartedAt = m.now()
	m.mu.Unlock()

	m.logger.Info("Starting monitor",
		"main_interval", m.mainInterval, "discovery_interval", m.discoveryInterval)

	m.safeRun(ctx, "main", func(ctx context.Context) { m.RunMainCycle(ctx) })

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.loop(ctx, "main", m.mainInterval, func(ctx context.Context) { m.RunMainCycle(ctx) })
	}()
	go func() {
		defer m.wg.Done()
		m.loop(ctx, "discovery", m.discoveryInterval, func(ctx context.Context) { m.RunDiscoveryCycle(ctx) })
	}()
}

// Stop halts both loops, waits for any run in flight and cancels pending
// scheduled alerts. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.stats.Running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
	m.logger.Info("Monitor stopped")
}

// loop waits interval, runs fn, and repeats. The wait starts after fn
// returns; a panicking run is logged and the loop carries on.
func (m *Monitor) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	t := time.NewTimer(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		m.safeRun(ctx, name, fn)
		t.Reset(interval)
	}
}

func (m *Monitor) safeRun(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Cycle panicked", "cycle", name, "panic", r)
		}
	}()
	fn(ctx)
}

// RunMainCycle fetches every partition in turn, ingests the listings and
// runs detection over them. A partition whose fetch fails is skipped for
// this cycle; the others still run.
func (m *Monitor) RunMainCycle(ctx context.Context) CycleResult {
	m.mainMu.Lock()
	defer m.mainMu.Unlock()

	start := m.now()
	res := CycleResult{Fetched: make(map[collection.Partition]int)}

	var all, finishing []collection.Collection
	for _, p := range collection.Partitions() {
		if ctx.Err() != nil {
			return res
		}
		cs, err := m.fetcher.FetchCollections(ctx, p)
		if err != nil {
			m.logger.Warn("Partition fetch failed", "partition", p, "error", err)
			res.Failed = append(res.Failed, p)
			continue
		}
		for i := range cs {
			cs[i].Partition = p
		}
		m.store.Ingest(p, cs)
		res.Fetched[p] = len(cs)
		all = append(all, cs...)
		if p != collection.Regular {
			finishing = append(finishing, cs...)
		}
	}

	if m.discovery != nil && len(all) > 0 && m.discovery.State() == discovery.Uninitialized {
		highest := m.discovery.Initialize(ctx, all)
		m.logger.Info("Discovery ready", "snapshot", len(all), "highest_known_id", highest)
	}

	for _, c := range all {
		if ctx.Err() != nil {
			break
		}
		if ch := m.detector.Check(ctx, c); ch != nil && ch.Delivered {
			res.Changes++
		}
		m.route(ctx, c)
	}
	if ctx.Err() == nil {
		res.Finishing = len(m.detector.CheckFinishing(ctx, finishing))
	}

	res.Duration = m.now().Sub(start)
	m.recordMain(res)
	m.logger.Debug("Main cycle finished",
		"collections", len(all), "changes", res.Changes, "finishing", res.Finishing,
		"failed", len(res.Failed), "duration", res.Duration.Round(time.Millisecond))
	return res
}

// route hands a collection with a running countdown to the scheduler once.
func (m *Monitor) route(ctx context.Context, c collection.Collection) {
	if m.scheduler == nil || c.LiveDate <= 0 {
		return
	}
	m.mu.Lock()
	_, done := m.routed[c.ID]
	m.mu.Unlock()
	if done {
		return
	}
	d := m.scheduler.Schedule(ctx, c)
	if d == schedule.Scheduled || d == schedule.FiredNow || d == schedule.AlreadyScheduled {
		m.mu.Lock()
		m.routed[c.ID] = struct{}{}
		m.mu.Unlock()
	}
}

func (m *Monitor) recordMain(res CycleResult) {
	stats := m.store.Stats()
	m.mu.Lock()
	m.stats.MainCycles++
	m.stats.LastMainAt = m.now()
	m.stats.LastMainDuration = res.Duration
	m.mu.Unlock()

	if m.metrics == nil {
		return
	}
	m.metrics.ObserveCycle("main", res.Duration)
	for p, n := range stats.ByPartition {
		m.metrics.SetStoreSize(string(p), n)
	}
	if m.discovery != nil {
		m.metrics.SetHighestKnownID(m.discovery.HighestKnownID())
	}
}

// RunDiscoveryCycle probes for new collections. It does nothing until the
// first main cycle has initialized discovery.
func (m *Monitor) RunDiscoveryCycle(ctx context.Context) []collection.Collection {
	if m.discovery == nil || m.discovery.State() != discovery.Ready {
		m.logger.Debug("Discovery not ready, skipping scan")
		return nil
	}
	start := m.now()
	found := m.discovery.CheckForNew(ctx)
	d := m.now().Sub(start)

	m.mu.Lock()
	m.stats.DiscoveryCycles++
	m.stats.LastDiscoveryAt = m.now()
	m.stats.LastDiscoveryFound = len(found)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ObserveCycle("discovery", d)
		m.metrics.SetHighestKnownID(m.discovery.HighestKnownID())
	}
	if len(found) > 0 {
		m.logger.Info("Discovery cycle found collections", "count", len(found))
	}
	return found
}

// RunRewardDigest sends the upcoming reward digest built from the store.
// Each of the regular and snowball lists is sent only when non-empty.
func (m *Monitor) RunRewardDigest(ctx context.Context) {
	if m.alerts == nil {
		return
	}
	records := m.store.All()
	cs := make([]collection.Collection, len(records))
	for i, r := range records {
		cs[i] = r.Collection
	}
	regular, snowballs := detect.UpcomingRewards(cs)
	if len(regular) > 0 {
		m.alerts.UpcomingRewards(ctx, regular, false)
	}
	if len(snowballs) > 0 {
		m.alerts.UpcomingRewards(ctx, snowballs, true)
	}
	m.logger.Info("Reward digest sent", "regular", len(regular), "snowballs", len(snowballs))
}

// Stats returns a snapshot of loop counters and store contents.
func (m *Monitor) Stats() Stats {
	st := m.store.Stats()
	tracked := m.detector.Tracked()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	out.Store = st
	out.Tracked = tracked
	return out
}
