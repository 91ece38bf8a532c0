package controller

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/aouyang1/framectl/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDrag(t *testing.T, c *Controller, pointerID int) {
	t.Helper()
	require.NoError(t, c.BeginTransform(PointerDown{PointerID: pointerID, X: 0, Y: 0, Width: 200, Height: 100}))
}

func loadedController(t *testing.T) (*Controller, *fakeClock, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{state: testState()}
	c, clock := newTestController(t, api, nil)
	require.NoError(t, c.Refresh(context.Background()))
	return c, clock, api
}

func TestClampOffset(t *testing.T) {
	testData := map[string]struct {
		in       float64
		expected float64
	}{
		"inside":   {0.25, 0.25},
		"above":    {3, 1},
		"below":    {-1.5, -1},
		"edge":     {-1, -1},
		"nan":      {math.NaN(), 0},
		"infinite": {math.Inf(1), 1},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, td.expected, ClampOffset(td.in))
		})
	}
}

func TestMoveClampsAndUpdatesCache(t *testing.T) {
	c, _, api := loadedController(t)
	startDrag(t, c, 1)

	off, ok := c.Editor.Move(1, 50, -25)
	require.True(t, ok)
	assert.Equal(t, Offset{X: 0.5, Y: -0.5}, off)

	off, ok = c.Editor.Move(1, 1000, -1000)
	require.True(t, ok)
	assert.Equal(t, Offset{X: 1, Y: -1}, off)

	current, _ := c.Cache.Current()
	assert.Equal(t, 1.0, current.OffsetX)
	assert.Equal(t, -1.0, current.OffsetY)
	assert.Equal(t, PhaseDragging, c.Editor.Phase())

	_, transforms, _ := api.counts()
	assert.Zero(t, transforms)
}

func TestMoveIgnoresOtherPointers(t *testing.T) {
	c, _, _ := loadedController(t)
	startDrag(t, c, 1)

	_, ok := c.Editor.Move(2, 50, 50)
	assert.False(t, ok)
	current, _ := c.Cache.Current()
	assert.Zero(t, current.OffsetX)
}

func TestSaveIsDebounced(t *testing.T) {
	c, clock, api := loadedController(t)
	startDrag(t, c, 1)

	for x := 10.0; x <= 50; x += 10 {
		_, ok := c.Editor.Move(1, x, 0)
		require.True(t, ok)
		clock.Advance(100 * time.Millisecond)
	}
	_, transforms, _ := api.counts()
	assert.Zero(t, transforms)

	clock.Advance(80 * time.Millisecond)
	_, transforms, _ = api.counts()
	require.Equal(t, 1, transforms)
	assert.Equal(t, transformCall{ID: "cur", X: 0.5, Y: 0}, api.lastTransform())

	saved, ok := c.Editor.LastSaved("cur")
	require.True(t, ok)
	assert.Equal(t, Offset{X: 0.5}, saved)
}

func TestEndFlushesImmediately(t *testing.T) {
	c, _, api := loadedController(t)
	startDrag(t, c, 1)

	_, ok := c.Editor.Move(1, 20, 10)
	require.True(t, ok)
	c.Editor.End(1)

	_, transforms, _ := api.counts()
	require.Equal(t, 1, transforms)
	assert.Equal(t, transformCall{ID: "cur", X: 0.2, Y: 0.2}, api.lastTransform())
	assert.Equal(t, PhaseSaved, c.Editor.Phase())
}

func TestOffsetWithinEpsilonIsNotSaved(t *testing.T) {
	c, clock, api := loadedController(t)
	startDrag(t, c, 1)

	// 0.001 of the half width
	_, ok := c.Editor.Move(1, 0.1, 0)
	require.True(t, ok)
	clock.Advance(time.Second)
	c.Editor.End(1)

	_, transforms, _ := api.counts()
	assert.Zero(t, transforms)
	assert.Equal(t, PhaseSaved, c.Editor.Phase())
}

func TestReturningToSavedOffsetCancelsPendingSave(t *testing.T) {
	c, clock, api := loadedController(t)
	startDrag(t, c, 1)

	_, ok := c.Editor.Move(1, 40, 0)
	require.True(t, ok)
	_, ok = c.Editor.Move(1, 0, 0)
	require.True(t, ok)
	clock.Advance(time.Second)

	_, transforms, _ := api.counts()
	assert.Zero(t, transforms)
}

func TestSecondSaveWaitsForInFlightSave(t *testing.T) {
	c, clock, api := loadedController(t)

	started := make(chan struct{})
	release := make(chan struct{})
	api.updateTransformFn = func(_ context.Context, id string, x, y float64) (*models.Image, error) {
		if x == 0.2 {
			close(started)
			<-release
		}
		img := testImage(id)
		img.OffsetX, img.OffsetY = x, y
		return &img, nil
	}

	startDrag(t, c, 1)
	_, ok := c.Editor.Move(1, 20, 0)
	require.True(t, ok)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		clock.Advance(DefaultTransformDebounce)
	}()
	<-started
	assert.True(t, c.Editor.InFlight())

	_, ok = c.Editor.Move(1, 60, 0)
	require.True(t, ok)
	clock.Advance(DefaultTransformDebounce)

	_, transforms, _ := api.counts()
	assert.Equal(t, 1, transforms, "no concurrent save while one is in flight")

	close(release)
	<-firstDone

	current, _ := c.Cache.Current()
	assert.Equal(t, 0.6, current.OffsetX, "echo of the first save must not clobber the newer edit")

	clock.Advance(DefaultTransformRetry)
	_, transforms, _ = api.counts()
	require.Equal(t, 2, transforms)
	assert.Equal(t, transformCall{ID: "cur", X: 0.6, Y: 0}, api.lastTransform())
}

func TestNearMoveOnOtherImageKeepsPendingSave(t *testing.T) {
	c, clock, api := loadedController(t)
	startDrag(t, c, 1)
	_, ok := c.Editor.Move(1, 60, 0)
	require.True(t, ok)

	api.mu.Lock()
	old := *api.state.Current
	next := api.state.Queue[0]
	api.state.Current = &next
	api.state.Queue = api.state.Queue[1:]
	api.state.History = append([]models.Image{old}, api.state.History...)
	api.mu.Unlock()
	require.NoError(t, c.Refresh(context.Background()))

	startDrag(t, c, 2)
	_, ok = c.Editor.Move(2, 0.1, 0)
	require.True(t, ok)

	clock.Advance(DefaultTransformDebounce)
	_, transforms, _ := api.counts()
	require.Equal(t, 1, transforms)
	assert.Equal(t, transformCall{ID: "cur", X: 0.6, Y: 0}, api.lastTransform())
}

func TestMoveAfterImageLeavesCacheReportsRelease(t *testing.T) {
	c, _, api := loadedController(t)
	startDrag(t, c, 1)

	api.mu.Lock()
	next := testImage("new")
	api.state = models.State{Current: &next, Settings: api.state.Settings}
	api.mu.Unlock()
	require.NoError(t, c.Refresh(context.Background()))

	_, ok := c.Editor.Move(1, 10, 0)
	assert.False(t, ok)
	assert.True(t, c.Editor.Released(1))

	startDrag(t, c, 1)
	assert.False(t, c.Editor.Released(1), "a new drag clears the old release")
}

func TestSaveNotFoundRefetchesOnce(t *testing.T) {
	c, clock, api := loadedController(t)
	api.updateTransformFn = func(context.Context, string, float64, float64) (*models.Image, error) {
		return nil, notFound("/api/images/cur/transform")
	}

	startDrag(t, c, 1)
	_, ok := c.Editor.Move(1, 30, 0)
	require.True(t, ok)
	c.Editor.End(1)
	clock.Advance(time.Second)

	getStates, transforms, _ := api.counts()
	assert.Equal(t, 1, transforms)
	assert.Equal(t, 2, getStates, "initial fetch plus exactly one resync")
	_, ok = c.Editor.LastSaved("cur")
	assert.True(t, ok, "resync records the server offset again")
}

func TestSaveFailureKeepsLocalOffset(t *testing.T) {
	c, _, api := loadedController(t)
	api.updateTransformFn = func(context.Context, string, float64, float64) (*models.Image, error) {
		return nil, assert.AnError
	}

	startDrag(t, c, 1)
	_, ok := c.Editor.Move(1, 30, 0)
	require.True(t, ok)
	c.Editor.End(1)

	getStates, _, _ := api.counts()
	assert.Equal(t, 1, getStates)
	current, _ := c.Cache.Current()
	assert.Equal(t, 0.3, current.OffsetX)
}

func TestSavedEchoIsMirroredIntoQueue(t *testing.T) {
	state := testState()
	cur := testImage("q2")
	state.Current = &cur
	api := &fakeAPI{state: state}
	c, _ := newTestController(t, api, nil)
	require.NoError(t, c.Refresh(context.Background()))

	startDrag(t, c, 1)
	_, ok := c.Editor.Move(1, -100, 0)
	require.True(t, ok)
	c.Editor.End(1)

	snap := c.Cache.Snapshot()
	assert.Equal(t, -1.0, snap.Current.OffsetX)
	assert.Equal(t, -1.0, snap.Queue[1].OffsetX)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "dragging", PhaseDragging.String())
	assert.Equal(t, "settling", PhaseSettling.String())
	assert.Equal(t, "saved", PhaseSaved.String())
}
