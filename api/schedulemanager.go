package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aouyang1/framectl/store"
)

const scheduleInterval = time.Minute

type powerSetter interface {
	SetPower(ctx context.Context, on bool) error
}

type scheduleStore interface {
	GetSchedule() (*store.Schedule, error)
}

// ScheduleManager will periodically check the time to decide if we need to turn off or on the frame
type ScheduleManager struct {
	db    scheduleStore
	power powerSetter
	now   func() time.Time

	lastCheck time.Time
}

func NewScheduleManager(db scheduleStore, power powerSetter) (*ScheduleManager, error) {
	if db == nil {
		return nil, errors.New("no database provided for scheduler")
	}
	if power == nil {
		return nil, errors.New("no power setter provided for scheduler")
	}

	return &ScheduleManager{
		db:    db,
		power: power,
		now:   time.Now,
	}, nil
}

func (s *ScheduleManager) checkSchedule(ctx context.Context) {
	schedule, err := s.db.GetSchedule()
	if err != nil {
		slog.Error("unable to get schedule", "error", err)
		return
	}

	if !schedule.Enabled {
		return
	}

	now := s.now()
	defer func() { s.lastCheck = now }()

	startTime, err := time.Parse("15:04", schedule.Start)
	if err != nil {
		slog.Warn("start time with invalid format", "start", schedule.Start, "error", err)
		return
	}

	endTime, err := time.Parse("15:04", schedule.End)
	if err != nil {
		slog.Warn("end time with invalid format", "end", schedule.End, "error", err)
		return
	}

	// most recent start and end at or before now, each tracked on its own
	lastStart := lastOccurrence(now, startTime)
	lastEnd := lastOccurrence(now, endTime)

	// a zero lastCheck crosses both, so the first check applies whichever
	// boundary happened most recently
	crossedStart := s.lastCheck.Before(lastStart)
	crossedEnd := s.lastCheck.Before(lastEnd)

	switch {
	case crossedEnd && (!crossedStart || lastEnd.After(lastStart)):
		if err := s.power.SetPower(ctx, false); err != nil {
			slog.Warn("issue while turning off frame for schedule", "error", err)
		} else {
			slog.Info("turning frame off for schedule", "time", now)
		}
	case crossedStart:
		if err := s.power.SetPower(ctx, true); err != nil {
			slog.Warn("issue while turning on frame for schedule", "error", err)
		} else {
			slog.Info("turning frame on for schedule", "time", now)
		}
	}
}

// lastOccurrence returns the latest wall clock time at clock's hour and
// minute that is not after now.
func lastOccurrence(now, clock time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if t.After(now) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

func (s *ScheduleManager) Run(ctx context.Context) {
	ticker := time.NewTicker(scheduleInterval)
	defer ticker.Stop()

	s.checkSchedule(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkSchedule(ctx)
		}
	}
}
