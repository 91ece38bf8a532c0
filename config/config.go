// Package config loads the framectl TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Frame points at the frame api.
type Frame struct {
	APIURL         string `toml:"api_url"`
	RequestTimeout int    `toml:"request_timeout"` // seconds, 0 = none
}

// UI configures the local web page and its event endpoints.
type UI struct {
	Listen            string  `toml:"listen"`
	RateLimitPerSec   float64 `toml:"rate_limit_per_sec"`
	RateBurst         int     `toml:"rate_burst"`
	ImageCacheSeconds int     `toml:"image_cache_seconds"`
}

// Controller holds the timer settings of the interaction controller.
type Controller struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	TransformDebounceMS int `toml:"transform_debounce_ms"`
	TransformRetryMS    int `toml:"transform_retry_ms"`
	SettingsDebounceMS  int `toml:"settings_debounce_ms"`
}

// Import configures the folder and S3 importers. Each is off while its
// source is empty.
type Import struct {
	LocalDir        string `toml:"local_dir"`
	IntervalMinutes int    `toml:"interval_minutes"`
	S3Profile       string `toml:"s3_profile"`
	S3Bucket        string `toml:"s3_bucket"`
	StagingDir      string `toml:"staging_dir"`
}

// Schedule seeds the daily power schedule.
type Schedule struct {
	Enabled bool   `toml:"enabled"`
	Start   string `toml:"start"`
	End     string `toml:"end"`
}

type Store struct {
	Path string `toml:"path"`
}

type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Config encapsulates all configuration values for framectl.
type Config struct {
	Frame      Frame      `toml:"frame"`
	UI         UI         `toml:"ui"`
	Controller Controller `toml:"controller"`
	Import     Import     `toml:"import"`
	Schedule   Schedule   `toml:"schedule"`
	Store      Store      `toml:"store"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/framectl/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file is read.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("framectl.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (f Frame) Timeout() time.Duration {
	return time.Duration(f.RequestTimeout) * time.Second
}

func (u UI) ImageCacheTTL() time.Duration {
	return time.Duration(u.ImageCacheSeconds) * time.Second
}

func (c Controller) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Controller) TransformDebounce() time.Duration {
	return time.Duration(c.TransformDebounceMS) * time.Millisecond
}

func (c Controller) TransformRetry() time.Duration {
	return time.Duration(c.TransformRetryMS) * time.Millisecond
}

func (c Controller) SettingsDebounce() time.Duration {
	return time.Duration(c.SettingsDebounceMS) * time.Millisecond
}

func (i Import) Interval() time.Duration {
	return time.Duration(i.IntervalMinutes) * time.Minute
}

// LocalEnabled reports whether the folder importer should run.
func (i Import) LocalEnabled() bool {
	return i.LocalDir != ""
}

// S3Enabled reports whether the S3 importer should run.
func (i Import) S3Enabled() bool {
	return i.S3Bucket != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
