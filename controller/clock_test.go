package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock fires timers only from Advance. Callbacks run on the caller's
// goroutine without the clock lock held, so a callback may schedule more
// timers or block while another goroutine advances.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func TestTaskScheduleReplacesPending(t *testing.T) {
	clock := newFakeClock()
	task := NewTask(clock)

	var ran []string
	task.Schedule(100*time.Millisecond, func() { ran = append(ran, "first") })
	task.Schedule(100*time.Millisecond, func() { ran = append(ran, "second") })
	assert.True(t, task.Pending())

	clock.Advance(99 * time.Millisecond)
	assert.Empty(t, ran)

	clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"second"}, ran)
	assert.False(t, task.Pending())
}

func TestTaskCancel(t *testing.T) {
	clock := newFakeClock()
	task := NewTask(clock)

	ran := false
	task.Schedule(time.Second, func() { ran = true })
	task.Cancel()
	clock.Advance(time.Hour)

	assert.False(t, ran)
	assert.False(t, task.Pending())
	assert.Equal(t, 0, clock.Pending())
}

func TestTaskRescheduleFromCallback(t *testing.T) {
	clock := newFakeClock()
	task := NewTask(clock)

	count := 0
	var tick func()
	tick = func() {
		count++
		task.Schedule(time.Second, tick)
	}
	task.Schedule(time.Second, tick)

	clock.Advance(3500 * time.Millisecond)
	assert.Equal(t, 3, count)
	assert.True(t, task.Pending())
}
