package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aouyang1/framectl/api/client"
	"github.com/aouyang1/framectl/api/models"
)

type frameAdvancer interface {
	AdvanceFrame(ctx context.Context) error
}

// AutoAdvance asks the server for the next frame every change_interval
// seconds while the frame is powered on.
type AutoAdvance struct {
	ctx     context.Context
	api     frameAdvancer
	refetch func()

	mu       sync.Mutex
	task     *Task
	interval time.Duration
	powerOn  bool
	inFlight bool
	skipped  int
}

func NewAutoAdvance(ctx context.Context, api frameAdvancer, clock Clock, refetch func()) *AutoAdvance {
	if refetch == nil {
		refetch = func() {}
	}
	return &AutoAdvance{
		ctx:     ctx,
		api:     api,
		refetch: refetch,
		task:    NewTask(clock),
	}
}

// Evaluate arms, replaces or stops the timer for the given settings. An
// unchanged interval keeps the running timer.
func (a *AutoAdvance) Evaluate(settings models.Settings) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.powerOn = settings.PowerOn
	if !settings.PowerOn || settings.ChangeInterval <= 0 {
		if a.interval != 0 {
			slog.Info("auto advance stopped", "power_on", settings.PowerOn, "change_interval", settings.ChangeInterval)
		}
		a.interval = 0
		a.task.Cancel()
		return
	}

	interval := time.Duration(settings.ChangeInterval) * time.Second
	if interval == a.interval && a.task.Pending() {
		return
	}
	slog.Info("auto advance armed", "interval", interval)
	a.interval = interval
	a.task.Schedule(interval, a.tick)
}

// Interval returns the active timer interval, zero when stopped.
func (a *AutoAdvance) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// Skipped counts ticks dropped because an advance was outstanding.
func (a *AutoAdvance) Skipped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.skipped
}

// Trigger requests an advance now, subject to the same outstanding-call
// guard as the timer. It reports whether a request was sent.
func (a *AutoAdvance) Trigger() bool {
	a.mu.Lock()
	if a.inFlight {
		a.skipped++
		a.mu.Unlock()
		return false
	}
	a.inFlight = true
	a.mu.Unlock()

	a.advance()
	return true
}

func (a *AutoAdvance) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interval = 0
	a.task.Cancel()
}

func (a *AutoAdvance) tick() {
	a.mu.Lock()
	if a.interval == 0 {
		a.mu.Unlock()
		return
	}
	a.task.Schedule(a.interval, a.tick)
	if a.inFlight || !a.powerOn {
		if a.inFlight {
			a.skipped++
		}
		a.mu.Unlock()
		return
	}
	a.inFlight = true
	a.mu.Unlock()

	a.advance()
}

func (a *AutoAdvance) advance() {
	err := a.api.AdvanceFrame(a.ctx)

	a.mu.Lock()
	a.inFlight = false
	a.mu.Unlock()

	if err != nil {
		if client.IsNotFound(err) {
			slog.Info("no frame to advance, resyncing state")
			a.refetch()
			return
		}
		slog.Warn("error while advancing frame", "error", err)
		return
	}
	a.refetch()
}
