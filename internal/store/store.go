// Package store is the in-memory entity store: the latest known record of
// every collection, keyed by (id, partition).
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
)

// Store holds one map per partition. The polling cycle is the only writer;
// readers may run concurrently.
type Store struct {
	mu         sync.RWMutex
	partitions map[collection.Partition]map[int]collection.Record
	order      map[collection.Partition][]int
	lastIngest time.Time
	now        func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		partitions: make(map[collection.Partition]map[int]collection.Record),
		order:      make(map[collection.Partition][]int),
		now:        time.Now,
	}
}

// Ingest replaces the records of the given collections in partition p and
// stamps them with the ingest time. Collections absent from the batch are
// kept.
func (s *Store) Ingest(p collection.Partition, cs []collection.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m, ok := s.partitions[p]
	if !ok {
		m = make(map[int]collection.Record, len(cs))
		s.partitions[p] = m
	}
	for _, c := range cs {
		c.Partition = p
		if _, seen := m[c.ID]; !seen {
			s.order[p] = append(s.order[p], c.ID)
		}
		m[c.ID] = collection.Record{Collection: c, LastUpdated: now}
	}
	s.lastIngest = now
}

// Get returns the record stored under key.
func (s *Store) Get(key collection.Key) (collection.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.partitions[key.Partition][key.ID]
	return r, ok
}

// Partition returns the records of p in first-seen order.
func (s *Store) Partition(p collection.Partition) []collection.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.partitions[p]
	out := make([]collection.Record, 0, len(m))
	for _, id := range s.order[p] {
		out = append(out, m[id])
	}
	return out
}

// All returns every record across partitions in fetch order, dropping
// duplicates that share a slug (or an ID when the slug is empty).
func (s *Store) All() []collection.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []collection.Record
	for _, p := range collection.Partitions() {
		m := s.partitions[p]
		for _, id := range s.order[p] {
			r := m[id]
			k := r.Slug
			if k == "" {
				k = "#" + r.Key().String()
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// BySlug finds a collection by slug in any partition.
func (s *Store) BySlug(slug string) (collection.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range collection.Partitions() {
		for _, r := range s.partitions[p] {
			if r.Slug == slug {
				return r, true
			}
		}
	}
	return collection.Record{}, false
}

// ByID returns every record carrying id, one per partition it appears in.
func (s *Store) ByID(id int) []collection.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []collection.Record
	for _, p := range collection.Partitions() {
		if r, ok := s.partitions[p][id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// MaxID returns the highest ID stored in any partition.
func (s *Store) MaxID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := 0
	for _, m := range s.partitions {
		for id := range m {
			if id > highest {
				highest = id
			}
		}
	}
	return highest
}

// IDs returns the sorted set of IDs present in any partition.
func (s *Store) IDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[int]struct{})
	for _, m := range s.partitions {
		for id := range m {
			set[id] = struct{}{}
		}
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Stats summarizes the store contents.
type Stats struct {
	Total       int                          `json:"total"`
	ByPartition map[collection.Partition]int `json:"byPartition"`
	LastIngest  time.Time                    `json:"lastIngest"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{ByPartition: make(map[collection.Partition]int), LastIngest: s.lastIngest}
	for p, m := range s.partitions {
		st.ByPartition[p] = len(m)
		st.Total += len(m)
	}
	return st
}
