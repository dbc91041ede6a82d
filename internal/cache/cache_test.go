package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/collection-watch/internal/collection"
)

func TestCache_SetGetExpire(t *testing.T) {
	c := New(true)
	defer c.Close()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	etag := c.Set("k", []byte("body"), time.Minute)
	data, got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "body", string(data))
	assert.Equal(t, etag, got)

	now = now.Add(2 * time.Minute)
	_, _, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, Stats{Enabled: true, TotalKeys: 1, ExpiredKeys: 1}, c.Stats())

	c.evict()
	assert.Zero(t, c.Stats().TotalKeys)
}

func TestCache_Disabled(t *testing.T) {
	c := New(false)
	etag := c.Set("k", []byte("body"), time.Minute)
	assert.Equal(t, ComputeETag([]byte("body")), etag)
	_, _, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCheckETagMatch(t *testing.T) {
	etag := ComputeETag([]byte("x"))
	assert.True(t, CheckETagMatch(etag, etag))
	assert.True(t, CheckETagMatch("*", etag))
	assert.False(t, CheckETagMatch("", etag))
	assert.False(t, CheckETagMatch(`W/"other"`, etag))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "collections:all", CollectionsKey(""))
	assert.Equal(t, "collections:regularSnowball", CollectionsKey(collection.RegularSnowball))
	assert.Equal(t, "collection:ape", CollectionKey("ape"))
	assert.Equal(t, "history:ape", HistoryKey("ape"))
}

func TestCache_InvalidateCollection(t *testing.T) {
	c := New(true)
	defer c.Close()
	for _, k := range []string{
		CollectionsKey(""),
		CollectionsKey(collection.Regular),
		CollectionsKey(collection.Partner),
		CollectionKey("ape"),
		HistoryKey("ape"),
	} {
		c.Set(k, []byte(k), time.Minute)
	}

	c.InvalidateCollection(collection.Collection{Slug: "ape", Partition: collection.Regular})

	for _, k := range []string{CollectionsKey(""), CollectionsKey(collection.Regular), CollectionKey("ape")} {
		_, _, ok := c.Get(k)
		assert.False(t, ok, k)
	}
	for _, k := range []string{CollectionsKey(collection.Partner), HistoryKey("ape")} {
		_, _, ok := c.Get(k)
		assert.True(t, ok, k)
	}
}
