package controller

import (
	"testing"
	"time"

	"github.com/aouyang1/framectl/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCacheDefaults(t *testing.T) {
	c := NewCache()

	assert.False(t, c.Loaded())
	assert.Equal(t, models.DefaultSettings(), c.Settings())
	_, ok := c.Current()
	assert.False(t, ok)
	assert.Empty(t, c.QueueIDs())
}

func TestMergeImageMirrorsEveryCopy(t *testing.T) {
	state := testState()
	shared := testImage("dup")
	state.Current = &shared
	state.Queue = append(state.Queue, shared)
	state.History = append(state.History, shared)

	c := NewCache()
	c.Replace(state, time.Now())
	before := c.Version()

	updated := shared
	updated.OffsetX = 0.75
	updated.Filename = "renamed.jpg"
	require.True(t, c.MergeImage(updated))

	snap := c.Snapshot()
	assert.Equal(t, updated, *snap.Current)
	assert.Equal(t, updated, snap.Queue[len(snap.Queue)-1])
	assert.Equal(t, updated, snap.History[len(snap.History)-1])
	assert.Greater(t, c.Version(), before)

	assert.False(t, c.MergeImage(testImage("missing")))
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCache()
	c.Replace(testState(), time.Now())

	snap := c.Snapshot()
	snap.Current.OffsetX = 1
	snap.Queue[0].ID = "changed"

	current, _ := c.Current()
	assert.Zero(t, current.OffsetX)
	assert.Equal(t, "q1", c.QueueIDs()[0])
}

func TestReplaceNormalizesNilLists(t *testing.T) {
	c := NewCache()
	c.Replace(models.State{Settings: models.DefaultSettings()}, time.Now())

	snap := c.Snapshot()
	assert.NotNil(t, snap.Queue)
	assert.NotNil(t, snap.History)
}

func TestFindSearchesAllCollections(t *testing.T) {
	c := NewCache()
	c.Replace(testState(), time.Now())

	for _, id := range []string{"cur", "q2", "h1"} {
		img, ok := c.Find(id)
		require.True(t, ok, id)
		assert.Equal(t, id, img.ID)
	}
	_, ok := c.Find("nope")
	assert.False(t, ok)
}
