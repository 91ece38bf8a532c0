package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment overrides, applied on top of the file.
const (
	EnvAPIURL     = "FRAMECTL_API_URL"
	EnvListen     = "FRAMECTL_LISTEN"
	EnvRootPath   = "FRAMECTL_ROOT_PATH"
	EnvAWSProfile = "FRAMECTL_AWS_PROFILE"
	EnvS3Bucket   = "FRAMECTL_S3_BUCKET"
)

func (c *Config) normalize() error {
	c.applyEnv()
	c.normalizeFrame()
	c.normalizeUI()
	if err := c.normalizeImport(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv(EnvAPIURL); ok && strings.TrimSpace(value) != "" {
		c.Frame.APIURL = value
	}
	if value, ok := os.LookupEnv(EnvListen); ok && strings.TrimSpace(value) != "" {
		c.UI.Listen = value
	}
	// root path places the watched folder and the database under one directory
	if value, ok := os.LookupEnv(EnvRootPath); ok && strings.TrimSpace(value) != "" {
		c.Import.LocalDir = filepath.Join(value, "original")
		c.Import.StagingDir = filepath.Join(value, "original", "surprise")
		c.Store.Path = filepath.Join(value, "framectl.db")
	}
	if value, ok := os.LookupEnv(EnvAWSProfile); ok && strings.TrimSpace(value) != "" {
		c.Import.S3Profile = value
	}
	if value, ok := os.LookupEnv(EnvS3Bucket); ok && strings.TrimSpace(value) != "" {
		c.Import.S3Bucket = value
	}
}

func (c *Config) normalizeFrame() {
	c.Frame.APIURL = strings.TrimRight(strings.TrimSpace(c.Frame.APIURL), "/")
	if c.Frame.APIURL == "" {
		c.Frame.APIURL = defaultAPIURL
	}
}

func (c *Config) normalizeUI() {
	c.UI.Listen = strings.TrimSpace(c.UI.Listen)
	if c.UI.Listen == "" {
		c.UI.Listen = defaultListen
	}
	if c.UI.RateBurst <= 0 {
		c.UI.RateBurst = defaultRateBurst
	}
}

func (c *Config) normalizeImport() error {
	var err error
	if c.Import.LocalDir, err = expandPath(strings.TrimSpace(c.Import.LocalDir)); err != nil {
		return fmt.Errorf("import.local_dir: %w", err)
	}
	if strings.TrimSpace(c.Import.StagingDir) == "" {
		c.Import.StagingDir = defaultStagingDir
	}
	if c.Import.StagingDir, err = expandPath(c.Import.StagingDir); err != nil {
		return fmt.Errorf("import.staging_dir: %w", err)
	}
	c.Import.S3Bucket = strings.TrimSpace(c.Import.S3Bucket)
	c.Import.S3Profile = strings.TrimSpace(c.Import.S3Profile)
	return nil
}

func (c *Config) normalizeStore() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = defaultStorePath
	}
	var err error
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	var err error
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}
