package controller

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aouyang1/framectl/api/client"
	"github.com/aouyang1/framectl/api/models"
)

const (
	DefaultTransformDebounce = 180 * time.Millisecond
	DefaultTransformRetry    = 150 * time.Millisecond

	// OffsetEpsilon is the per-axis distance under which two offsets are
	// treated as the same saved value.
	OffsetEpsilon = 0.002
)

type DragPhase int

const (
	PhaseIdle DragPhase = iota
	PhaseDragging
	PhaseSettling
	PhaseSaved
)

func (p DragPhase) String() string {
	switch p {
	case PhaseDragging:
		return "dragging"
	case PhaseSettling:
		return "settling"
	case PhaseSaved:
		return "saved"
	default:
		return "idle"
	}
}

type Offset struct {
	X float64 `json:"offset_x"`
	Y float64 `json:"offset_y"`
}

func (o Offset) near(other Offset) bool {
	return math.Abs(o.X-other.X) <= OffsetEpsilon && math.Abs(o.Y-other.Y) <= OffsetEpsilon
}

// ClampOffset limits v to the normalized [-1, 1] range.
func ClampOffset(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// PointerDown describes a press on the live image. Width and Height are the
// rendered size of the image in the same units as X and Y.
type PointerDown struct {
	PointerID int     `json:"pointer_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

type transformSaver interface {
	UpdateTransform(ctx context.Context, imageID string, offsetX, offsetY float64) (*models.Image, error)
}

type dragState struct {
	imageID   string
	pointerID int
	startX    float64
	startY    float64
	halfW     float64
	halfH     float64
	origin    Offset
}

// TransformEditor turns pointer drags on the live image into offset edits.
// The cache is updated on every move; saves are debounced and at most one is
// in flight at a time.
type TransformEditor struct {
	ctx     context.Context
	api     transformSaver
	cache   *Cache
	refetch func()

	debounce time.Duration
	retry    time.Duration

	mu        sync.Mutex
	phase     DragPhase
	drag      *dragState
	saveTask  *Task
	inFlight  bool
	pendingID string
	lastSaved map[string]Offset

	// pointer whose drag was dropped without a pointer up
	released    int
	hasReleased bool
}

func NewTransformEditor(ctx context.Context, api transformSaver, cache *Cache, clock Clock, refetch func(), debounce, retry time.Duration) *TransformEditor {
	if debounce <= 0 {
		debounce = DefaultTransformDebounce
	}
	if retry <= 0 {
		retry = DefaultTransformRetry
	}
	if refetch == nil {
		refetch = func() {}
	}
	return &TransformEditor{
		ctx:       ctx,
		api:       api,
		cache:     cache,
		refetch:   refetch,
		debounce:  debounce,
		retry:     retry,
		saveTask:  NewTask(clock),
		lastSaved: make(map[string]Offset),
	}
}

func (e *TransformEditor) Phase() DragPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Begin starts a drag on the current image. It reports false when there is
// nothing to drag.
func (e *TransformEditor) Begin(p PointerDown) bool {
	current, ok := e.cache.Current()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, seen := e.lastSaved[current.ID]; !seen && e.pendingID != current.ID {
		e.lastSaved[current.ID] = Offset{X: current.OffsetX, Y: current.OffsetY}
	}

	e.drag = &dragState{
		imageID:   current.ID,
		pointerID: p.PointerID,
		startX:    p.X,
		startY:    p.Y,
		halfW:     math.Max(p.Width/2, 1),
		halfH:     math.Max(p.Height/2, 1),
		origin:    Offset{X: current.OffsetX, Y: current.OffsetY},
	}
	e.phase = PhaseDragging
	e.hasReleased = false
	return true
}

// Move applies a pointer move and returns the new local offset. Nothing is
// sent to the server here beyond arming the debounce.
func (e *TransformEditor) Move(pointerID int, x, y float64) (Offset, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.drag
	if d == nil || d.pointerID != pointerID {
		return Offset{}, false
	}

	next := Offset{
		X: ClampOffset(d.origin.X + (x-d.startX)/d.halfW),
		Y: ClampOffset(d.origin.Y + (y-d.startY)/d.halfH),
	}
	if !e.cache.SetOffset(d.imageID, next.X, next.Y) {
		e.releaseLocked()
		return Offset{}, false
	}
	e.scheduleLocked(d.imageID, next)
	return next, true
}

// End finishes the drag and flushes any pending save right away.
func (e *TransformEditor) End(pointerID int) {
	e.mu.Lock()
	d := e.drag
	if d == nil || d.pointerID != pointerID {
		e.mu.Unlock()
		return
	}
	e.drag = nil
	if e.pendingID == "" {
		e.settleLocked()
		e.mu.Unlock()
		return
	}
	e.phase = PhaseSettling
	e.saveTask.Cancel()
	e.mu.Unlock()

	e.flush()
}

// SyncCurrent abandons a drag whose image is no longer the current one. The
// owning pointer is then reported once by Released.
func (e *TransformEditor) SyncCurrent(currentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.drag == nil || e.drag.imageID == currentID {
		return
	}
	slog.Info("current image changed mid-drag, releasing pointer", "dragging", e.drag.imageID, "current", currentID)
	e.releaseLocked()
}

// LocalEdit returns an unsaved offset edit, if any, so a refetch does not
// clobber it.
func (e *TransformEditor) LocalEdit() (string, Offset, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.pendingID
	if e.drag != nil {
		id = e.drag.imageID
	}
	if id == "" {
		return "", Offset{}, false
	}
	img, ok := e.cache.Find(id)
	if !ok {
		return "", Offset{}, false
	}
	return id, Offset{X: img.OffsetX, Y: img.OffsetY}, true
}

// ObserveServer records server offsets as the saved baseline for images that
// carry no local edit.
func (e *TransformEditor) ObserveServer(img *models.Image) {
	if img == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pendingID == img.ID || e.inFlight || (e.drag != nil && e.drag.imageID == img.ID) {
		return
	}
	e.lastSaved[img.ID] = Offset{X: img.OffsetX, Y: img.OffsetY}
}

func (e *TransformEditor) LastSaved(id string) (Offset, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	off, ok := e.lastSaved[id]
	return off, ok
}

func (e *TransformEditor) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Close stops any pending save without flushing it.
func (e *TransformEditor) Close() {
	e.saveTask.Cancel()
}

// Released reports, once, whether the drag owned by pointerID was dropped
// underneath it so the page can release pointer capture.
func (e *TransformEditor) Released(pointerID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasReleased || e.released != pointerID {
		return false
	}
	e.hasReleased = false
	return true
}

func (e *TransformEditor) releaseLocked() {
	if e.drag != nil {
		e.released, e.hasReleased = e.drag.pointerID, true
	}
	e.drag = nil
	if e.pendingID != "" {
		e.phase = PhaseSettling
	} else {
		e.phase = PhaseIdle
	}
}

func (e *TransformEditor) scheduleLocked(imageID string, candidate Offset) {
	if saved, ok := e.lastSaved[imageID]; ok && saved.near(candidate) {
		if e.pendingID == imageID {
			e.pendingID = ""
			e.saveTask.Cancel()
		}
		return
	}
	e.pendingID = imageID
	e.saveTask.Schedule(e.debounce, e.flush)
}

func (e *TransformEditor) flush() {
	e.mu.Lock()
	id := e.pendingID
	if id == "" {
		e.mu.Unlock()
		return
	}
	if e.inFlight {
		e.saveTask.Schedule(e.retry, e.flush)
		e.mu.Unlock()
		return
	}

	img, ok := e.cache.Find(id)
	if !ok {
		slog.Debug("dropping offset save for image no longer cached", "image_id", id)
		e.pendingID = ""
		e.settleLocked()
		e.mu.Unlock()
		return
	}
	candidate := Offset{X: img.OffsetX, Y: img.OffsetY}
	if saved, ok := e.lastSaved[id]; ok && saved.near(candidate) {
		e.pendingID = ""
		e.settleLocked()
		e.mu.Unlock()
		return
	}

	e.inFlight = true
	e.pendingID = ""
	e.mu.Unlock()

	updated, err := e.api.UpdateTransform(e.ctx, id, candidate.X, candidate.Y)

	e.mu.Lock()
	e.inFlight = false
	if err != nil {
		if client.IsNotFound(err) {
			delete(e.lastSaved, id)
			if e.pendingID == id {
				e.pendingID = ""
				e.saveTask.Cancel()
			}
			e.settleLocked()
			e.mu.Unlock()
			slog.Info("image no longer exists, resyncing state", "image_id", id)
			e.refetch()
			return
		}
		e.settleLocked()
		e.mu.Unlock()
		slog.Warn("error while saving image offset", "image_id", id, "error", err)
		return
	}

	e.lastSaved[updated.ID] = Offset{X: updated.OffsetX, Y: updated.OffsetY}
	editing := e.pendingID == updated.ID || (e.drag != nil && e.drag.imageID == updated.ID)
	e.settleLocked()
	e.mu.Unlock()

	if editing {
		// keep the newer local offset, the next save carries it
		local, ok := e.cache.Find(updated.ID)
		if ok {
			merged := *updated
			merged.OffsetX = local.OffsetX
			merged.OffsetY = local.OffsetY
			e.cache.MergeImage(merged)
		}
		return
	}
	e.cache.MergeImage(*updated)
}

func (e *TransformEditor) settleLocked() {
	switch {
	case e.drag != nil:
		e.phase = PhaseDragging
	case e.pendingID != "" || e.inFlight:
		e.phase = PhaseSettling
	default:
		e.phase = PhaseSaved
	}
}
