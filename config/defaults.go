package config

const (
	defaultAPIURL              = "http://localhost:8000"
	defaultListen              = "127.0.0.1:8080"
	defaultRateLimitPerSec     = 50
	defaultRateBurst           = 100
	defaultImageCacheSeconds   = 300
	defaultPollIntervalSeconds = 20
	defaultTransformDebounceMS = 180
	defaultTransformRetryMS    = 150
	defaultSettingsDebounceMS  = 250
	defaultImportInterval      = 60
	defaultStagingDir          = "~/.local/share/framectl/staging"
	defaultStorePath           = "~/.local/share/framectl/framectl.db"
	defaultScheduleStart       = "06:00"
	defaultScheduleEnd         = "23:00"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Frame: Frame{
			APIURL: defaultAPIURL,
		},
		UI: UI{
			Listen:            defaultListen,
			RateLimitPerSec:   defaultRateLimitPerSec,
			RateBurst:         defaultRateBurst,
			ImageCacheSeconds: defaultImageCacheSeconds,
		},
		Controller: Controller{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			TransformDebounceMS: defaultTransformDebounceMS,
			TransformRetryMS:    defaultTransformRetryMS,
			SettingsDebounceMS:  defaultSettingsDebounceMS,
		},
		Import: Import{
			IntervalMinutes: defaultImportInterval,
			StagingDir:      defaultStagingDir,
		},
		Schedule: Schedule{
			Start: defaultScheduleStart,
			End:   defaultScheduleEnd,
		},
		Store: Store{
			Path: defaultStorePath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
