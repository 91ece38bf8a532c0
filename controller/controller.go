// Package controller keeps the frame state cache and runs the interaction
// state machines that edit it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aouyang1/framectl/api/client"
	"github.com/aouyang1/framectl/api/models"
)

const DefaultPollInterval = 20 * time.Second

var ErrNoCurrent = errors.New("no image is currently displayed")

// API is the subset of the frame api the controller talks to.
// *client.FrameClient satisfies it.
type API interface {
	GetState(ctx context.Context) (*models.State, error)
	Upload(ctx context.Context, files []client.UploadFile) (*models.UploadResponse, error)
	RemoveFromQueue(ctx context.Context, imageID string) error
	ReorderQueue(ctx context.Context, imageIDs []string) error
	InsertIntoQueue(ctx context.Context, imageID string, index int) error
	InsertIntoHistory(ctx context.Context, imageID string, index int) error
	UpdateTransform(ctx context.Context, imageID string, offsetX, offsetY float64) (*models.Image, error)
	UpdateSettings(ctx context.Context, settings models.Settings) (*models.Settings, error)
	AdvanceFrame(ctx context.Context) error
}

// SnapshotStore persists the last fetched state. LoadSnapshot returns a nil
// state when nothing has been stored yet.
type SnapshotStore interface {
	SaveSnapshot(state models.State, fetchedAt time.Time) error
	LoadSnapshot() (*models.State, time.Time, error)
	SaveOffset(imageID string, offsetX, offsetY float64, savedAt time.Time) error
}

type Options struct {
	Clock Clock
	Store SnapshotStore

	PollInterval      time.Duration
	TransformDebounce time.Duration
	TransformRetry    time.Duration
	SettingsDebounce  time.Duration
}

type Controller struct {
	api   API
	store SnapshotStore
	clock Clock
	poll  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	Cache    *Cache
	Editor   *TransformEditor
	Lists    *ListDrag
	Settings *SettingsBinder
	Advance  *AutoAdvance

	pollTask  *Task
	refreshMu sync.Mutex
}

func New(ctx context.Context, api API, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)

	c := &Controller{
		api:      api,
		store:    opts.Store,
		clock:    opts.Clock,
		poll:     opts.PollInterval,
		ctx:      ctx,
		cancel:   cancel,
		Cache:    NewCache(),
		pollTask: NewTask(opts.Clock),
	}
	refetch := func() { _ = c.Refresh(c.ctx) }

	saver := transformSaver(api)
	if opts.Store != nil {
		saver = &offsetRecorder{api: api, store: opts.Store, clock: opts.Clock}
	}
	c.Editor = NewTransformEditor(ctx, saver, c.Cache, opts.Clock, refetch, opts.TransformDebounce, opts.TransformRetry)
	c.Lists = NewListDrag(ctx, api, c.Cache, refetch)
	c.Advance = NewAutoAdvance(ctx, api, opts.Clock, refetch)
	c.Settings = NewSettingsBinder(ctx, api, c.Cache, opts.Clock, opts.SettingsDebounce, c.Advance.Evaluate)
	return c
}

// Start renders from the stored snapshot if there is one, performs the
// initial fetch and starts the poll loop. A failed initial fetch is logged;
// the poll retries it.
func (c *Controller) Start() {
	c.loadSnapshot()
	if err := c.Refresh(c.ctx); err != nil {
		slog.Warn("initial state fetch failed, waiting for next poll", "error", err)
	}
	c.pollTask.Schedule(c.poll, c.pollTick)
	slog.Info("controller started", "poll_interval", c.poll)
}

func (c *Controller) Close() {
	c.pollTask.Cancel()
	c.Editor.Close()
	c.Settings.Close()
	c.Advance.Close()
	c.cancel()
}

// Refresh replaces the cache with the server state.
func (c *Controller) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	state, err := c.api.GetState(ctx)
	if err != nil {
		slog.Warn("error while fetching state", "error", err)
		return fmt.Errorf("failed to fetch state: %w", err)
	}
	c.applyState(*state, c.clock.Now())
	return nil
}

func (c *Controller) pollTick() {
	c.pollTask.Schedule(c.poll, c.pollTick)
	if c.ctx.Err() != nil {
		return
	}
	_ = c.Refresh(c.ctx)
}

func (c *Controller) applyState(state models.State, fetchedAt time.Time) {
	var serverCurrent *models.Image
	if state.Current != nil {
		current := *state.Current
		serverCurrent = &current
	}

	currentID := ""
	if serverCurrent != nil {
		currentID = serverCurrent.ID
	}
	c.Editor.SyncCurrent(currentID)

	if id, off, ok := c.Editor.LocalEdit(); ok {
		state = overlayOffset(state, id, off)
	}
	c.Cache.Replace(state, fetchedAt)
	c.Editor.ObserveServer(serverCurrent)
	c.Advance.Evaluate(state.Settings)

	if c.store != nil {
		if err := c.store.SaveSnapshot(state, fetchedAt); err != nil {
			slog.Warn("error while saving state snapshot", "error", err)
		}
	}
}

func (c *Controller) loadSnapshot() {
	if c.store == nil {
		return
	}
	state, fetchedAt, err := c.store.LoadSnapshot()
	if err != nil {
		slog.Warn("error while loading state snapshot", "error", err)
		return
	}
	if state == nil {
		return
	}
	slog.Info("loaded state snapshot", "fetched_at", fetchedAt, "queue", len(state.Queue), "history", len(state.History))
	c.Cache.Replace(*state, fetchedAt)
}

// BeginTransform starts a pointer drag on the live image.
func (c *Controller) BeginTransform(p PointerDown) error {
	if !c.Editor.Begin(p) {
		return ErrNoCurrent
	}
	return nil
}

// Upload sends files to the frame and refetches.
func (c *Controller) Upload(ctx context.Context, files []client.UploadFile) (*models.UploadResponse, error) {
	resp, err := c.api.Upload(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %d files: %w", len(files), err)
	}
	_ = c.Refresh(ctx)
	return resp, nil
}

// AdvanceNow requests the next frame immediately.
func (c *Controller) AdvanceNow() bool {
	return c.Advance.Trigger()
}

// SetPower flips power_on and keeps the rest of the cached settings.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	settings := c.Cache.Settings()
	if settings.PowerOn == on {
		return nil
	}
	settings.PowerOn = on
	updated, err := c.api.UpdateSettings(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to set power_on=%t: %w", on, err)
	}
	c.Cache.SetSettings(*updated)
	c.Advance.Evaluate(*updated)
	return nil
}

// View is what the renderer draws: the cached state with any in-drag list
// order and unsaved settings applied.
type View struct {
	State     models.State
	Loaded    bool
	FetchedAt time.Time
	Version   uint64
	Phase     DragPhase
	Dragging  string
}

func (c *Controller) View() View {
	state := c.Cache.Snapshot()
	if order := c.Lists.VisualOrder(ListQueue); order != nil {
		state.Queue = applyOrder(state.Queue, order)
	}
	if order := c.Lists.VisualOrder(ListHistory); order != nil {
		state.History = applyOrder(state.History, order)
	}
	if draft, ok := c.Settings.Draft(); ok {
		state.Settings = draft
	}
	_, dragging, _ := c.Lists.Dragging()
	return View{
		State:     state,
		Loaded:    c.Cache.Loaded(),
		FetchedAt: c.Cache.FetchedAt(),
		Version:   c.Cache.Version(),
		Phase:     c.Editor.Phase(),
		Dragging:  dragging,
	}
}

// applyOrder sorts images by order; images missing from order keep their
// relative position at the end.
func applyOrder(images []models.Image, order []string) []models.Image {
	byID := make(map[string]models.Image, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}
	out := make([]models.Image, 0, len(images))
	used := make(map[string]bool, len(images))
	for _, id := range order {
		if img, ok := byID[id]; ok && !used[id] {
			out = append(out, img)
			used[id] = true
		}
	}
	for _, img := range images {
		if !used[img.ID] {
			out = append(out, img)
		}
	}
	return out
}

func overlayOffset(state models.State, id string, off Offset) models.State {
	set := func(img *models.Image) {
		if img.ID == id {
			img.OffsetX = off.X
			img.OffsetY = off.Y
		}
	}
	if state.Current != nil {
		current := *state.Current
		set(&current)
		state.Current = &current
	}
	state.Queue = append([]models.Image{}, state.Queue...)
	for i := range state.Queue {
		set(&state.Queue[i])
	}
	state.History = append([]models.Image{}, state.History...)
	for i := range state.History {
		set(&state.History[i])
	}
	return state
}

type offsetRecorder struct {
	api   transformSaver
	store SnapshotStore
	clock Clock
}

func (r *offsetRecorder) UpdateTransform(ctx context.Context, imageID string, offsetX, offsetY float64) (*models.Image, error) {
	img, err := r.api.UpdateTransform(ctx, imageID, offsetX, offsetY)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveOffset(img.ID, img.OffsetX, img.OffsetY, r.clock.Now()); err != nil {
		slog.Warn("error while recording saved offset", "image_id", img.ID, "error", err)
	}
	return img, nil
}
