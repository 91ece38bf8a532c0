package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// DragPayloadType marks a drag as a frame image moving between the queue
// and history. Drags without it are ignored.
const DragPayloadType = "application/x-frame-image"

type ListKind string

const (
	ListQueue   ListKind = "queue"
	ListHistory ListKind = "history"
)

func ParseListKind(s string) (ListKind, error) {
	switch ListKind(s) {
	case ListQueue, ListHistory:
		return ListKind(s), nil
	default:
		return "", fmt.Errorf("unknown list %q", s)
	}
}

// CardBounds is the vertical extent of a rendered card, in document order.
type CardBounds struct {
	ID     string  `json:"id"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

func (c CardBounds) midpoint() float64 {
	return c.Top + c.Height/2
}

// InsertionIndex returns where a dragged card lands for a pointer at
// pointerY: before the first other card whose midpoint is below the pointer,
// else at the end. The dragged card itself is never a candidate.
func InsertionIndex(pointerY float64, cards []CardBounds, draggingID string) int {
	index := 0
	for _, card := range cards {
		if card.ID == draggingID {
			continue
		}
		if pointerY < card.midpoint() {
			return index
		}
		index++
	}
	return index
}

// orderWithInsert places id at index among the cards other than id.
func orderWithInsert(cards []CardBounds, id string, index int) []string {
	order := make([]string, 0, len(cards)+1)
	for _, card := range cards {
		if card.ID != id {
			order = append(order, card.ID)
		}
	}
	index = max(0, min(index, len(order)))
	return slices.Insert(order, index, id)
}

func hasPayload(types []string) bool {
	return slices.Contains(types, DragPayloadType)
}

var ErrNotDragging = errors.New("no frame image drag in progress")

type listAPI interface {
	RemoveFromQueue(ctx context.Context, imageID string) error
	ReorderQueue(ctx context.Context, imageIDs []string) error
	InsertIntoQueue(ctx context.Context, imageID string, index int) error
	InsertIntoHistory(ctx context.Context, imageID string, index int) error
}

// ListDrag tracks one card drag across the queue list and history grid. The
// in-drag order is only visual; nothing reaches the server before a drop,
// and every commit is followed by a refetch.
type ListDrag struct {
	ctx     context.Context
	api     listAPI
	cache   *Cache
	refetch func()

	mu     sync.Mutex
	phase  DragPhase
	source ListKind
	id     string
	visual map[ListKind][]string
}

func NewListDrag(ctx context.Context, api listAPI, cache *Cache, refetch func()) *ListDrag {
	if refetch == nil {
		refetch = func() {}
	}
	return &ListDrag{
		ctx:     ctx,
		api:     api,
		cache:   cache,
		refetch: refetch,
		visual:  make(map[ListKind][]string),
	}
}

// Start begins dragging id out of list. Drags that do not carry the frame
// payload type are ignored.
func (d *ListDrag) Start(list ListKind, id string, payloadTypes []string) bool {
	if !hasPayload(payloadTypes) || id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.phase = PhaseDragging
	d.source = list
	d.id = id
	clear(d.visual)
	return true
}

// Dragging returns the list and id being dragged.
func (d *ListDrag) Dragging() (ListKind, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != PhaseDragging {
		return "", "", false
	}
	return d.source, d.id, true
}

// Over handles a drag-over on list and returns the insertion index. Within
// the source list the visual order follows the pointer.
func (d *ListDrag) Over(list ListKind, pointerY float64, cards []CardBounds, payloadTypes []string) (int, bool) {
	if !hasPayload(payloadTypes) {
		return 0, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	draggingID := ""
	if d.phase == PhaseDragging {
		draggingID = d.id
	}
	index := InsertionIndex(pointerY, cards, draggingID)
	if d.phase == PhaseDragging && list == d.source {
		d.visual[list] = orderWithInsert(cards, d.id, index)
	}
	return index, true
}

// VisualOrder returns the in-drag order of list, or nil when the list is
// showing server order.
func (d *ListDrag) VisualOrder(list ListKind) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	order := d.visual[list]
	if order == nil {
		return nil
	}
	return append([]string{}, order...)
}

// DropEvent is a drop on a list. IncomingID is the image id carried by the
// drag payload; it may be empty for a drop from the same list.
type DropEvent struct {
	List         ListKind     `json:"list"`
	IncomingID   string       `json:"incoming_id"`
	PointerY     float64      `json:"pointer_y"`
	Cards        []CardBounds `json:"cards"`
	PayloadTypes []string     `json:"payload_types"`
}

// Drop commits the drag. Same-list queue drops send the full queue order;
// cross-list drops send an insert at the computed index. A refetch follows
// every commit whether or not it succeeded.
func (d *ListDrag) Drop(ev DropEvent) error {
	if !hasPayload(ev.PayloadTypes) {
		return nil
	}

	d.mu.Lock()
	dragging := d.phase == PhaseDragging
	source, draggedID := d.source, d.id
	visual := d.visual[ev.List]
	d.phase = PhaseSettling
	d.mu.Unlock()

	defer d.finish()

	id := ev.IncomingID
	sameList := dragging && source == ev.List && (id == "" || id == draggedID)
	if id == "" {
		id = draggedID
	}
	if id == "" {
		return ErrNotDragging
	}

	index := InsertionIndex(ev.PointerY, ev.Cards, id)

	var err error
	switch {
	case sameList && ev.List == ListQueue:
		order := visual
		if len(ev.Cards) > 0 {
			order = orderWithInsert(ev.Cards, id, index)
		}
		order = d.completeQueueOrder(order)
		slog.Debug("committing queue order", "image_ids", order)
		err = d.api.ReorderQueue(d.ctx, order)
	case ev.List == ListQueue:
		slog.Debug("inserting into queue", "image_id", id, "index", index)
		err = d.api.InsertIntoQueue(d.ctx, id, index)
	case ev.List == ListHistory:
		slog.Debug("inserting into history", "image_id", id, "index", index)
		err = d.api.InsertIntoHistory(d.ctx, id, index)
	default:
		return fmt.Errorf("unknown list %q", ev.List)
	}
	if err != nil {
		slog.Warn("error while committing drag", "list", ev.List, "image_id", id, "error", err)
	}
	d.refetch()
	return err
}

// End handles a drag that finished without a drop; the server order shows
// again.
func (d *ListDrag) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase == PhaseDragging {
		d.resetLocked()
	}
}

// Remove deletes an image from the queue and refetches.
func (d *ListDrag) Remove(id string) error {
	err := d.api.RemoveFromQueue(d.ctx, id)
	if err != nil {
		slog.Warn("error while removing queue item", "image_id", id, "error", err)
	}
	d.refetch()
	return err
}

func (d *ListDrag) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *ListDrag) resetLocked() {
	d.phase = PhaseIdle
	d.source = ""
	d.id = ""
	clear(d.visual)
}

// completeQueueOrder keeps only ids the cache knows are queued and appends
// queued ids the page did not report, so the server receives the full queue
// and nothing from other lists.
func (d *ListDrag) completeQueueOrder(order []string) []string {
	queued := d.cache.QueueIDs()
	known := make(map[string]bool, len(queued))
	for _, id := range queued {
		known[id] = true
	}

	out := make([]string, 0, len(queued))
	seen := make(map[string]bool, len(queued))
	for _, id := range order {
		if known[id] && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	for _, id := range queued {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}
