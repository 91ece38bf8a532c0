package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aouyang1/framectl/api/models"
	"github.com/go-playground/validator/v10"
)

const DefaultSettingsDebounce = 250 * time.Millisecond

const (
	FieldChangeInterval = "change_interval"
	FieldLEDBrightness  = "led_brightness"
	FieldPowerOn        = "power_on"
	FieldSaturation     = "saturation"
)

// Readouts are the live labels next to the sliders. They follow every input
// immediately, independent of the save debounce.
type Readouts struct {
	Brightness string `json:"brightness"`
	Saturation string `json:"saturation"`
}

func ReadoutsFor(s models.Settings) Readouts {
	return Readouts{
		Brightness: fmt.Sprintf("%d%%", s.LEDBrightness),
		Saturation: strconv.FormatFloat(s.Saturation, 'f', 2, 64),
	}
}

type settingsSaver interface {
	UpdateSettings(ctx context.Context, settings models.Settings) (*models.Settings, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// SettingsBinder collects form edits into a draft and sends one settings
// update once input has been quiet for the debounce period. Saves do not
// overlap: input that settles while a save is in flight re-arms the debounce.
type SettingsBinder struct {
	ctx       context.Context
	api       settingsSaver
	cache     *Cache
	onUpdated func(models.Settings)
	debounce  time.Duration

	mu       sync.Mutex
	draft    *models.Settings
	task     *Task
	inFlight bool
}

func NewSettingsBinder(ctx context.Context, api settingsSaver, cache *Cache, clock Clock, debounce time.Duration, onUpdated func(models.Settings)) *SettingsBinder {
	if debounce <= 0 {
		debounce = DefaultSettingsDebounce
	}
	if onUpdated == nil {
		onUpdated = func(models.Settings) {}
	}
	return &SettingsBinder{
		ctx:       ctx,
		api:       api,
		cache:     cache,
		onUpdated: onUpdated,
		debounce:  debounce,
		task:      NewTask(clock),
	}
}

// Input applies one form field edit and returns the updated readouts.
func (b *SettingsBinder) Input(field, value string) (Readouts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	draft := b.cache.Settings()
	if b.draft != nil {
		draft = *b.draft
	}

	value = strings.TrimSpace(value)
	switch field {
	case FieldChangeInterval:
		v, err := strconv.Atoi(value)
		if err != nil {
			return ReadoutsFor(draft), fmt.Errorf("change_interval must be an integer: %w", err)
		}
		if err := validate.Var(v, "gte=5,lte=3600"); err != nil {
			return ReadoutsFor(draft), fmt.Errorf("change_interval out of range: %w", err)
		}
		draft.ChangeInterval = v
	case FieldLEDBrightness:
		v, err := strconv.Atoi(value)
		if err != nil {
			return ReadoutsFor(draft), fmt.Errorf("led_brightness must be an integer: %w", err)
		}
		if err := validate.Var(v, "gte=0,lte=100"); err != nil {
			return ReadoutsFor(draft), fmt.Errorf("led_brightness out of range: %w", err)
		}
		draft.LEDBrightness = v
	case FieldPowerOn:
		v, err := parseCheckbox(value)
		if err != nil {
			return ReadoutsFor(draft), err
		}
		draft.PowerOn = v
	case FieldSaturation:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return ReadoutsFor(draft), fmt.Errorf("saturation must be a number: %w", err)
		}
		if err := validate.Var(v, "gte=0,lte=1"); err != nil {
			return ReadoutsFor(draft), fmt.Errorf("saturation out of range: %w", err)
		}
		draft.Saturation = v
	default:
		return ReadoutsFor(draft), fmt.Errorf("unknown settings field %q", field)
	}

	b.draft = &draft
	b.task.Schedule(b.debounce, b.save)
	return ReadoutsFor(draft), nil
}

// Draft returns the unsaved form values, if any.
func (b *SettingsBinder) Draft() (models.Settings, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draft == nil {
		return models.Settings{}, false
	}
	return *b.draft, true
}

func (b *SettingsBinder) Close() {
	b.task.Cancel()
}

func (b *SettingsBinder) save() {
	b.mu.Lock()
	if b.draft == nil {
		b.mu.Unlock()
		return
	}
	if b.inFlight {
		b.task.Schedule(b.debounce, b.save)
		b.mu.Unlock()
		return
	}
	payload := *b.draft
	b.draft = nil
	b.inFlight = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight = false
		b.mu.Unlock()
	}()

	if err := validate.Struct(payload); err != nil {
		slog.Warn("dropping invalid settings update", "error", err)
		return
	}

	updated, err := b.api.UpdateSettings(b.ctx, payload)
	if err != nil {
		slog.Warn("error while saving settings", "error", err)
		return
	}
	b.cache.SetSettings(*updated)
	b.onUpdated(*updated)
}

func parseCheckbox(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "1", "yes":
		return true, nil
	case "", "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("power_on must be a boolean, got %q", value)
	}
}
