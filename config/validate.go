package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var validScheduleTime = regexp.MustCompile(`^(?:[01]\d|2[0-3]):[0-5]\d$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFrame(); err != nil {
		return err
	}
	if err := c.validateUI(); err != nil {
		return err
	}
	if err := c.validateController(); err != nil {
		return err
	}
	if err := c.validateImport(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateFrame() error {
	u, err := url.Parse(c.Frame.APIURL)
	if err != nil {
		return fmt.Errorf("frame.api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("frame.api_url must be an http or https url, got %q", c.Frame.APIURL)
	}
	if c.Frame.RequestTimeout < 0 {
		return errors.New("frame.request_timeout must be >= 0")
	}
	return nil
}

func (c *Config) validateUI() error {
	if c.UI.RateLimitPerSec < 0 {
		return errors.New("ui.rate_limit_per_sec must be >= 0")
	}
	if c.UI.ImageCacheSeconds < 0 {
		return errors.New("ui.image_cache_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateController() error {
	if c.Controller.PollIntervalSeconds <= 0 {
		return errors.New("controller.poll_interval_seconds must be positive")
	}
	if c.Controller.TransformDebounceMS <= 0 {
		return errors.New("controller.transform_debounce_ms must be positive")
	}
	if c.Controller.TransformRetryMS <= 0 {
		return errors.New("controller.transform_retry_ms must be positive")
	}
	if c.Controller.SettingsDebounceMS <= 0 {
		return errors.New("controller.settings_debounce_ms must be positive")
	}
	return nil
}

func (c *Config) validateImport() error {
	if (c.Import.LocalEnabled() || c.Import.S3Enabled()) && c.Import.IntervalMinutes <= 0 {
		return errors.New("import.interval_minutes must be positive when an importer is enabled")
	}
	if c.Import.S3Enabled() && c.Import.S3Profile == "" {
		return fmt.Errorf("import.s3_profile is required with import.s3_bucket (or set %s)", EnvAWSProfile)
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if !validScheduleTime.MatchString(c.Schedule.Start) {
		return fmt.Errorf("schedule.start must look like 23:15, got %q", c.Schedule.Start)
	}
	if !validScheduleTime.MatchString(c.Schedule.End) {
		return fmt.Errorf("schedule.end must look like 23:15, got %q", c.Schedule.End)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// ValidScheduleTime reports whether s is an HH:MM time of day.
func ValidScheduleTime(s string) bool {
	return validScheduleTime.MatchString(s)
}
