package controller

import (
	"sync"
	"time"

	"github.com/aouyang1/framectl/api/models"
)

// Cache mirrors the frame api state. It stores values, so every collection
// holds its own copy of an image and updates are fanned out by id.
type Cache struct {
	mu        sync.RWMutex
	state     models.State
	loaded    bool
	fetchedAt time.Time
	version   uint64
}

func NewCache() *Cache {
	return &Cache{
		state: models.State{
			Queue:    []models.Image{},
			History:  []models.Image{},
			Settings: models.DefaultSettings(),
		},
	}
}

// Snapshot returns a deep copy safe to render from.
func (c *Cache) Snapshot() models.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneState(c.state)
}

// Loaded reports whether the cache has been filled from the server or a
// stored snapshot at least once.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Version increases on every mutation. The web page polls it to know when
// fragments are stale.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Cache) Replace(state models.State, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = cloneState(state)
	if c.state.Queue == nil {
		c.state.Queue = []models.Image{}
	}
	if c.state.History == nil {
		c.state.History = []models.Image{}
	}
	c.loaded = true
	c.fetchedAt = fetchedAt
	c.version++
}

func (c *Cache) Current() (models.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Current == nil {
		return models.Image{}, false
	}
	return *c.state.Current, true
}

// Find looks an image up in current, queue and history, in that order.
func (c *Cache) Find(id string) (models.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state.Current != nil && c.state.Current.ID == id {
		return *c.state.Current, true
	}
	for _, img := range c.state.Queue {
		if img.ID == id {
			return img, true
		}
	}
	for _, img := range c.state.History {
		if img.ID == id {
			return img, true
		}
	}
	return models.Image{}, false
}

func (c *Cache) QueueIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return imageIDs(c.state.Queue)
}

func (c *Cache) HistoryIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return imageIDs(c.state.History)
}

func (c *Cache) Settings() models.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Settings
}

func (c *Cache) SetSettings(settings models.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Settings = settings
	c.version++
}

// MergeImage writes img into every collection holding its id and reports
// whether any copy was found.
func (c *Cache) MergeImage(img models.Image) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := c.updateLocked(img.ID, func(dst *models.Image) { *dst = img })
	if found {
		c.version++
	}
	return found
}

// SetOffset updates the offsets of every copy of id without touching the
// other fields.
func (c *Cache) SetOffset(id string, offsetX, offsetY float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := c.updateLocked(id, func(dst *models.Image) {
		dst.OffsetX = offsetX
		dst.OffsetY = offsetY
	})
	if found {
		c.version++
	}
	return found
}

func (c *Cache) updateLocked(id string, apply func(*models.Image)) bool {
	found := false
	if c.state.Current != nil && c.state.Current.ID == id {
		apply(c.state.Current)
		found = true
	}
	for i := range c.state.Queue {
		if c.state.Queue[i].ID == id {
			apply(&c.state.Queue[i])
			found = true
		}
	}
	for i := range c.state.History {
		if c.state.History[i].ID == id {
			apply(&c.state.History[i])
			found = true
		}
	}
	return found
}

func cloneState(s models.State) models.State {
	out := models.State{Settings: s.Settings}
	if s.Current != nil {
		current := *s.Current
		out.Current = &current
	}
	if s.Queue != nil {
		out.Queue = append([]models.Image{}, s.Queue...)
	}
	if s.History != nil {
		out.History = append([]models.Image{}, s.History...)
	}
	return out
}

func imageIDs(images []models.Image) []string {
	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	return ids
}
