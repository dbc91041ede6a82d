// Package seeds loads the small correction lists the watcher starts with:
// collections discovery failed to announce in the past, and the set of
// collections flagged for the privileged channel.
package seeds

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Seeds is the content of the seed file.
type Seeds struct {
	MissedIDs          []int `yaml:"missed_ids"`
	MissedScheduledIDs []int `yaml:"missed_scheduled_ids"`
	FarmerCollections  []int `yaml:"farmer_collections"`
}

// Load reads a seed file. A missing file yields empty seeds.
func Load(path string) (*Seeds, error) {
	if path == "" {
		return &Seeds{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Seeds{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seeds file: %w", err)
	}
	var s Seeds
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seeds yaml: %w", err)
	}
	return &s, nil
}

// FarmerSet is the concurrency-safe set of flagged collection IDs.
type FarmerSet struct {
	mu  sync.RWMutex
	ids map[int]struct{}
}

// NewFarmerSet creates a set holding ids.
func NewFarmerSet(ids []int) *FarmerSet {
	f := &FarmerSet{}
	f.Replace(ids)
	return f
}

// Has reports whether id is flagged. A nil set holds nothing.
func (f *FarmerSet) Has(id int) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ids[id]
	return ok
}

// Replace swaps the whole set.
func (f *FarmerSet) Replace(ids []int) {
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	f.mu.Lock()
	f.ids = m
	f.mu.Unlock()
}

// IDs returns the flagged IDs in ascending order.
func (f *FarmerSet) IDs() []int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]int, 0, len(f.ids))
	for id := range f.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the farmer set whenever the seed file is written, until ctx
// is cancelled. The parent directory is watched so editors that replace the
// file are picked up. A file that fails to parse leaves the set as it was.
func Watch(ctx context.Context, path string, set *FarmerSet, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve seeds path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("Watching seeds file", "path", abs)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Seeds watcher error", "error", err)
		case <-pending:
			pending = nil
			s, err := Load(abs)
			if err != nil {
				logger.Warn("Seeds reload failed, keeping previous farmer set", "error", err)
				continue
			}
			set.Replace(s.FarmerCollections)
			logger.Info("Farmer collections reloaded", "count", len(s.FarmerCollections))
		}
	}
}
