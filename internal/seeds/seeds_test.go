package seeds

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.yaml")
	writeFile(t, path, "missed_ids: [663, 662]\nmissed_scheduled_ids: [635]\nfarmer_collections: [7]\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{663, 662}, s.MissedIDs)
	assert.Equal(t, []int{635}, s.MissedScheduledIDs)
	assert.Equal(t, []int{7}, s.FarmerCollections)
}

func TestLoad_MissingOrEmptyPath(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, s.MissedIDs)

	s, err = Load("")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.yaml")
	writeFile(t, path, "missed_ids: [oops")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFarmerSet(t *testing.T) {
	f := NewFarmerSet([]int{3, 1})
	assert.True(t, f.Has(1))
	assert.False(t, f.Has(2))
	assert.Equal(t, []int{1, 3}, f.IDs())

	f.Replace([]int{2})
	assert.True(t, f.Has(2))
	assert.False(t, f.Has(1))

	var none *FarmerSet
	assert.False(t, none.Has(1))
}

func TestWatch_ReloadsFarmerSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.yaml")
	writeFile(t, path, "farmer_collections: [1]\n")
	set := NewFarmerSet([]int{1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, set, nil) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "farmer_collections: [5, 6]\n")
	assert.Eventually(t, func() bool { return set.Has(5) && !set.Has(1) }, 3*time.Second, 20*time.Millisecond)

	writeFile(t, path, "farmer_collections: [oops")
	time.Sleep(400 * time.Millisecond)
	assert.True(t, set.Has(5), "a broken file keeps the previous set")

	cancel()
	require.NoError(t, <-done)
}
