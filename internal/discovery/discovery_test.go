package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/schedule"
	"github.com/albapepper/collection-watch/internal/store"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeMarket struct {
	mu       sync.Mutex
	exists   map[int]bool
	live     map[int]float64 // activation countdown by id
	infoErr  map[int]error
	probeErr map[int]error
	snowball map[int]bool
	probed   []int
}

func newMarket(ids ...int) *fakeMarket {
	m := &fakeMarket{
		exists:   map[int]bool{},
		live:     map[int]float64{},
		infoErr:  map[int]error{},
		probeErr: map[int]error{},
		snowball: map[int]bool{},
	}
	for _, id := range ids {
		m.exists[id] = true
	}
	return m
}

func (m *fakeMarket) add(id int) {
	m.mu.Lock()
	m.exists[id] = true
	m.mu.Unlock()
}

func (m *fakeMarket) ProbeCollection(_ context.Context, id int) (*collection.Probe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probed = append(m.probed, id)
	if err := m.probeErr[id]; err != nil {
		return nil, err
	}
	if !m.exists[id] {
		return nil, nil
	}
	slug := fmt.Sprintf("col%d", id)
	return &collection.Probe{ID: id, Slug: slug, URL: "https://x/collections/" + slug + "/nfts", TotalItems: 10}, nil
}

func (m *fakeMarket) FetchInfo(_ context.Context, slug string) (*collection.Collection, error) {
	var id int
	if _, err := fmt.Sscanf(slug, "col%d", &id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.infoErr[id]; err != nil {
		return nil, err
	}
	c := &collection.Collection{ID: id, Slug: slug, Name: slug, LiveDate: m.live[id]}
	if m.snowball[id] {
		c.Type = collection.TypeSnowball
	}
	return c, nil
}

func (m *fakeMarket) resetProbes() {
	m.mu.Lock()
	m.probed = nil
	m.mu.Unlock()
}

type fakeScheduler struct {
	got []collection.Collection
}

func (f *fakeScheduler) Schedule(_ context.Context, c collection.Collection) schedule.Decision {
	f.got = append(f.got, c)
	return schedule.Scheduled
}

type announcements struct {
	ids []int
}

func (a *announcements) callback(_ context.Context, c collection.Collection) {
	a.ids = append(a.ids, c.ID)
}

func newScanner(m *fakeMarket, sched *fakeScheduler, ann *announcements, opts ...func(*Options)) *Scanner {
	o := Options{Prober: m, Scheduler: sched, ForwardWindow: 15, BackwardWindow: 25}
	for _, fn := range opts {
		fn(&o)
	}
	s := New(o)
	s.SetNewCollectionCallback(ann.callback)
	return s
}

func snapshotOf(ids ...int) []collection.Collection {
	out := make([]collection.Collection, 0, len(ids))
	for _, id := range ids {
		out = append(out, collection.Collection{ID: id})
	}
	return out
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestInitialize_SweepsWithoutAnnouncing(t *testing.T) {
	m := newMarket(498, 500, 503, 480)
	ann := &announcements{}
	s := newScanner(m, &fakeScheduler{}, ann)
	assert.Equal(t, Uninitialized, s.State())

	highest := s.Initialize(context.Background(), snapshotOf(498, 500))
	assert.Equal(t, 503, highest)
	assert.Equal(t, Ready, s.State())
	assert.Empty(t, ann.ids, "startup sweep never announces ordinary collections")
	assert.Equal(t, []int{480, 498, 500, 503}, s.Known())

	// Forward covers 500..515 inclusive, backward 502..478 minus known IDs.
	assert.Contains(t, m.probed, 500)
	assert.Contains(t, m.probed, 515)
	assert.NotContains(t, m.probed, 516)
	assert.Contains(t, m.probed, 478)
	assert.NotContains(t, m.probed, 477)
}

func TestInitialize_RunsOnce(t *testing.T) {
	m := newMarket(500)
	s := newScanner(m, &fakeScheduler{}, &announcements{})
	ctx := context.Background()

	s.Initialize(ctx, snapshotOf(500))
	m.resetProbes()
	assert.Equal(t, 500, s.Initialize(ctx, snapshotOf(900)))
	assert.Empty(t, m.probed)
}

func TestInitialize_ReadyEvenWhenProbesFail(t *testing.T) {
	m := newMarket(500)
	for id := 480; id <= 520; id++ {
		m.probeErr[id] = errors.New("connection reset")
	}
	s := newScanner(m, &fakeScheduler{}, &announcements{})

	s.Initialize(context.Background(), snapshotOf(500))
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, 500, s.HighestKnownID())
}

func TestInitialize_CancelledContextStillReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newScanner(newMarket(500), &fakeScheduler{}, &announcements{})

	s.Initialize(ctx, snapshotOf(500))
	assert.Equal(t, Ready, s.State())
}

func TestCheckForNew_NotReady(t *testing.T) {
	m := newMarket(501)
	s := newScanner(m, &fakeScheduler{}, &announcements{})
	assert.Nil(t, s.CheckForNew(context.Background()))
	assert.Empty(t, m.probed)
}

func TestCheckForNew_MissedIDNotifiedAndRemoved(t *testing.T) {
	m := newMarket(500)
	ann := &announcements{}
	s := newScanner(m, &fakeScheduler{}, ann, func(o *Options) { o.MissedIDs = []int{510} })
	ctx := context.Background()

	s.Initialize(ctx, snapshotOf(500))
	require.Equal(t, 500, s.HighestKnownID())
	assert.Equal(t, []int{510}, s.Status().MissedPending)

	m.add(510)
	m.resetProbes()
	found := s.CheckForNew(ctx)

	assert.Equal(t, 501, m.probed[0])
	assert.Contains(t, m.probed, 515)
	require.Len(t, found, 1)
	assert.Equal(t, 510, found[0].ID)
	assert.Equal(t, []int{510}, ann.ids)
	assert.Empty(t, s.Status().MissedPending)
	assert.Equal(t, 510, s.HighestKnownID())

	assert.Empty(t, s.CheckForNew(ctx), "second scan is idempotent")
	assert.Len(t, ann.ids, 1)
}

func TestInitialize_MissedIDFoundDuringSweep(t *testing.T) {
	m := newMarket(500, 490)
	ann := &announcements{}
	s := newScanner(m, &fakeScheduler{}, ann, func(o *Options) { o.MissedIDs = []int{490} })

	s.Initialize(context.Background(), snapshotOf(500))
	assert.Equal(t, []int{490}, ann.ids)
	assert.Empty(t, s.Status().MissedPending)
	assert.Equal(t, 1, s.Status().Notified)
}

func TestInitialize_MissedScheduledRoutesToScheduler(t *testing.T) {
	m := newMarket(500, 495)
	m.live[495] = 3000
	sched := &fakeScheduler{}
	ann := &announcements{}
	s := newScanner(m, sched, ann, func(o *Options) { o.MissedScheduledIDs = []int{495} })

	s.Initialize(context.Background(), snapshotOf(500))
	assert.Empty(t, ann.ids)
	require.Len(t, sched.got, 1)
	assert.Equal(t, 495, sched.got[0].ID)
}

func TestCheckForNew_ForwardAndBackward(t *testing.T) {
	m := newMarket(500)
	sched := &fakeScheduler{}
	ann := &announcements{}
	s := newScanner(m, sched, ann)
	ctx := context.Background()
	s.Initialize(ctx, snapshotOf(500))

	m.add(502)
	m.add(505)
	m.add(497) // released late below the boundary
	m.live[505] = 4000

	found := s.CheckForNew(ctx)
	assert.ElementsMatch(t, []int{502, 505, 497}, ann.ids)
	assert.Len(t, found, 3)
	assert.Equal(t, 505, s.HighestKnownID())
	require.Len(t, sched.got, 1)
	assert.Equal(t, 505, sched.got[0].ID)
	assert.Equal(t, 3, s.Status().LastFound)
}

func TestCheckForNew_BackwardSkipsResolved(t *testing.T) {
	m := newMarket(500, 499)
	s := newScanner(m, &fakeScheduler{}, &announcements{})
	ctx := context.Background()
	s.Initialize(ctx, snapshotOf(500))

	m.resetProbes()
	s.CheckForNew(ctx)
	assert.NotContains(t, m.probed, 499)
	assert.NotContains(t, m.probed, 500)
}

func TestCheckForNew_DetailFailureRetried(t *testing.T) {
	m := newMarket(500)
	ann := &announcements{}
	s := newScanner(m, &fakeScheduler{}, ann)
	ctx := context.Background()
	s.Initialize(ctx, snapshotOf(500))

	m.add(503)
	m.infoErr[503] = errors.New("bad gateway")
	assert.Empty(t, s.CheckForNew(ctx))
	assert.Equal(t, 500, s.HighestKnownID(), "boundary holds until the id resolves")
	assert.Empty(t, ann.ids)

	delete(m.infoErr, 503)
	found := s.CheckForNew(ctx)
	require.Len(t, found, 1)
	assert.Equal(t, 503, found[0].ID, "next scan retries the unresolved id")
	assert.Equal(t, 503, s.HighestKnownID())
}

func TestInitialize_MissedDetailFailureRetriedByForwardLeg(t *testing.T) {
	m := newMarket(500, 503)
	m.infoErr[503] = errors.New("bad gateway")
	ann := &announcements{}
	s := newScanner(m, &fakeScheduler{}, ann, func(o *Options) { o.MissedIDs = []int{503} })
	ctx := context.Background()

	s.Initialize(ctx, snapshotOf(500))
	assert.Empty(t, ann.ids)
	assert.Equal(t, []int{503}, s.Status().MissedPending)
	assert.Equal(t, 500, s.HighestKnownID())

	delete(m.infoErr, 503)
	found := s.CheckForNew(ctx)
	require.Len(t, found, 1)
	assert.Equal(t, 503, found[0].ID)
	assert.Equal(t, []int{503}, ann.ids)
	assert.Empty(t, s.Status().MissedPending)
	assert.Equal(t, 503, s.HighestKnownID())
}

func TestAnnounce_IngestsIntoStore(t *testing.T) {
	m := newMarket(500)
	st := store.New()
	s := newScanner(m, &fakeScheduler{}, &announcements{}, func(o *Options) { o.Store = st })
	ctx := context.Background()
	s.Initialize(ctx, snapshotOf(500))

	m.add(501)
	m.add(502)
	m.snowball[502] = true
	require.Len(t, s.CheckForNew(ctx), 2)

	rec, ok := st.BySlug("col501")
	require.True(t, ok)
	assert.Equal(t, collection.Regular, rec.Partition)
	assert.Equal(t, 501, rec.ID)

	rec, ok = st.BySlug("col502")
	require.True(t, ok)
	assert.Equal(t, collection.RegularSnowball, rec.Partition)

	_, ok = st.BySlug("col500")
	assert.False(t, ok, "known collections are not ingested")
}

func TestSetNewCollectionCallback_NilIgnored(t *testing.T) {
	m := newMarket(500)
	ann := &announcements{}
	s := newScanner(m, &fakeScheduler{}, ann)
	s.SetNewCollectionCallback(nil)
	ctx := context.Background()
	s.Initialize(ctx, snapshotOf(500))

	m.add(501)
	s.CheckForNew(ctx)
	assert.Equal(t, []int{501}, ann.ids)
}

type probeCounter struct {
	results map[string]int
	highest int
}

func (p *probeCounter) Probe(result string)      { p.results[result]++ }
func (p *probeCounter) SetHighestKnownID(id int) { p.highest = id }

func TestScanner_RecordsMetrics(t *testing.T) {
	m := newMarket(500, 501)
	m.probeErr[502] = errors.New("timeout")
	rec := &probeCounter{results: map[string]int{}}
	s := newScanner(m, &fakeScheduler{}, &announcements{}, func(o *Options) {
		o.Metrics = rec
		o.ForwardWindow = 2
		o.BackwardWindow = 1
	})

	s.Initialize(context.Background(), snapshotOf(500))
	// 500, 501, 502 forward; 500 skipped backward.
	assert.Equal(t, 2, rec.results["found"])
	assert.Equal(t, 1, rec.results["error"])
	assert.Equal(t, 501, rec.highest)
}
