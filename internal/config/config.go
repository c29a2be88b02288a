package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env. Environment
// variables (the WEATHER_* keys below) always override the file.
type Config struct {
	ServerPort      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	RegionCatalogPath string

	// Upstream fetch policy.
	FetchTimeout        time.Duration // WEATHER_SUMMARY_TIMEOUT_MS
	FetchAttempts       int           // WEATHER_SUMMARY_ATTEMPTS
	RetryBaseDelay      time.Duration // WEATHER_SUMMARY_RETRY_BASE_DELAY_MS
	RateLimitMinBackoff time.Duration // WEATHER_RATE_LIMIT_MIN_BACKOFF_MS
	UpstreamSpacing     time.Duration // WEATHER_UPSTREAM_REQUEST_SPACING_MS

	YearCacheMaxEntries int // WEATHER_YEAR_CACHE_MAX_ENTRIES
	BaselineWindow      int // WEATHER_BASELINE_YEARS

	// Snapshot staleness thresholds.
	ClimateMaxAge time.Duration // WEATHER_SNAPSHOT_CLIMATE_MAX_AGE_DAYS
	AirMaxAge     time.Duration // WEATHER_SNAPSHOT_AIR_MAX_AGE_DAYS
	MarineMaxAge  time.Duration // WEATHER_SNAPSHOT_MARINE_MAX_AGE_DAYS

	AutoUpdateEnabled   bool          // WEATHER_SNAPSHOT_AUTO_UPDATE_ENABLED
	AutoUpdateInterval  time.Duration // WEATHER_SNAPSHOT_AUTO_INTERVAL_MINUTES
	AutoUpdateBatchSize int           // WEATHER_SNAPSHOT_AUTO_BATCH_SIZE

	ManualDataDir   string // WEATHER_MANUAL_DATA_DIR
	SummaryCacheDir string
	SnapshotDir     string

	ClimateBaseURLs []string
	AirBaseURL      string
	MarineBaseURL   string

	CacheBackend          string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Regions struct {
		CatalogPath string `yaml:"catalog_path"`
	} `yaml:"regions"`

	Upstream struct {
		TimeoutMs          int      `yaml:"timeout_ms"`
		Attempts           int      `yaml:"attempts"`
		RetryBaseDelayMs   int      `yaml:"retry_base_delay_ms"`
		RateLimitBackoffMs int      `yaml:"rate_limit_min_backoff_ms"`
		SpacingMs          int      `yaml:"request_spacing_ms"`
		ClimateBaseURLs    []string `yaml:"climate_base_urls"`
		AirBaseURL         string   `yaml:"air_base_url"`
		MarineBaseURL      string   `yaml:"marine_base_url"`
	} `yaml:"upstream"`

	Summary struct {
		YearCacheMaxEntries int `yaml:"year_cache_max_entries"`
		BaselineYears       int `yaml:"baseline_years"`
	} `yaml:"summary"`

	Snapshot struct {
		ClimateMaxAgeDays   int    `yaml:"climate_max_age_days"`
		AirMaxAgeDays       int    `yaml:"air_max_age_days"`
		MarineMaxAgeDays    int    `yaml:"marine_max_age_days"`
		AutoUpdateEnabled   *bool  `yaml:"auto_update_enabled"`
		AutoIntervalMinutes int    `yaml:"auto_interval_minutes"`
		AutoBatchSize       int    `yaml:"auto_batch_size"`
		Dir                 string `yaml:"dir"`
	} `yaml:"snapshot"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Dir       string `yaml:"dir"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Manual struct {
		Dir string `yaml:"dir"`
	} `yaml:"manual"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) if the
// file exists, then applies environment overrides. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.RateLimitRPS = intOrDefault(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = intOrDefault(fc.Reliability.RateLimitBurst, 250)

	cfg.RegionCatalogPath = firstNonEmpty(os.Getenv("WEATHER_REGION_CATALOG"), fc.Regions.CatalogPath, filepath.Join("data", "regions.yaml"))

	cfg.FetchTimeout = envMillis("WEATHER_SUMMARY_TIMEOUT_MS", millisOrDefault(fc.Upstream.TimeoutMs, 12000))
	cfg.FetchAttempts = envInt("WEATHER_SUMMARY_ATTEMPTS", intOrDefault(fc.Upstream.Attempts, 3))
	cfg.RetryBaseDelay = envMillis("WEATHER_SUMMARY_RETRY_BASE_DELAY_MS", millisOrDefault(fc.Upstream.RetryBaseDelayMs, 900))
	cfg.RateLimitMinBackoff = envMillis("WEATHER_RATE_LIMIT_MIN_BACKOFF_MS", millisOrDefault(fc.Upstream.RateLimitBackoffMs, 45000))
	cfg.UpstreamSpacing = envMillis("WEATHER_UPSTREAM_REQUEST_SPACING_MS", millisOrDefault(fc.Upstream.SpacingMs, 350))

	cfg.YearCacheMaxEntries = envInt("WEATHER_YEAR_CACHE_MAX_ENTRIES", intOrDefault(fc.Summary.YearCacheMaxEntries, 6))
	cfg.BaselineWindow = envInt("WEATHER_BASELINE_YEARS", intOrDefault(fc.Summary.BaselineYears, 3))

	cfg.ClimateMaxAge = envDays("WEATHER_SNAPSHOT_CLIMATE_MAX_AGE_DAYS", daysOrDefault(fc.Snapshot.ClimateMaxAgeDays, 365))
	cfg.AirMaxAge = envDays("WEATHER_SNAPSHOT_AIR_MAX_AGE_DAYS", daysOrDefault(fc.Snapshot.AirMaxAgeDays, 90))
	cfg.MarineMaxAge = envDays("WEATHER_SNAPSHOT_MARINE_MAX_AGE_DAYS", daysOrDefault(fc.Snapshot.MarineMaxAgeDays, 365))

	autoEnabled := true
	if fc.Snapshot.AutoUpdateEnabled != nil {
		autoEnabled = *fc.Snapshot.AutoUpdateEnabled
	}
	cfg.AutoUpdateEnabled = envBool("WEATHER_SNAPSHOT_AUTO_UPDATE_ENABLED", autoEnabled)
	cfg.AutoUpdateInterval = envMinutes("WEATHER_SNAPSHOT_AUTO_INTERVAL_MINUTES", minutesOrDefault(fc.Snapshot.AutoIntervalMinutes, 360))
	cfg.AutoUpdateBatchSize = envInt("WEATHER_SNAPSHOT_AUTO_BATCH_SIZE", intOrDefault(fc.Snapshot.AutoBatchSize, 24))

	cfg.ManualDataDir = firstNonEmpty(os.Getenv("WEATHER_MANUAL_DATA_DIR"), fc.Manual.Dir, filepath.Join("data", "manual-city-month"))
	cfg.SummaryCacheDir = firstNonEmpty(os.Getenv("WEATHER_SUMMARY_CACHE_DIR"), fc.Cache.Dir, filepath.Join(".cache", "weather-summary"))
	cfg.SnapshotDir = firstNonEmpty(os.Getenv("WEATHER_SNAPSHOT_DIR"), fc.Snapshot.Dir, filepath.Join(".cache", "weather-snapshot"))

	cfg.ClimateBaseURLs = fc.Upstream.ClimateBaseURLs
	if len(cfg.ClimateBaseURLs) == 0 {
		cfg.ClimateBaseURLs = []string{
			"https://historical-forecast-api.open-meteo.com/v1/forecast",
			"https://archive-api.open-meteo.com/v1/archive",
		}
	}
	cfg.AirBaseURL = firstNonEmpty(fc.Upstream.AirBaseURL, "https://air-quality-api.open-meteo.com/v1/air-quality")
	cfg.MarineBaseURL = firstNonEmpty(fc.Upstream.MarineBaseURL, "https://marine-api.open-meteo.com/v1/marine")

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory")))
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = intOrDefault(fc.Cache.Memcached.MaxIdleConns, 2)

	cbEnabled := true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cbEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerEnabled = envBool("WEATHER_CIRCUIT_BREAKER_ENABLED", cbEnabled)
	cfg.CircuitBreakerFailureThreshold = intOrDefault(fc.Reliability.CircuitBreaker.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = intOrDefault(fc.Reliability.CircuitBreaker.SuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("WEATHER_SUMMARY_TIMEOUT_MS must be positive")
	}
	if cfg.FetchAttempts <= 0 {
		return fmt.Errorf("WEATHER_SUMMARY_ATTEMPTS must be positive")
	}
	if cfg.BaselineWindow <= 0 {
		return fmt.Errorf("WEATHER_BASELINE_YEARS must be positive")
	}
	if cfg.YearCacheMaxEntries <= 0 {
		return fmt.Errorf("WEATHER_YEAR_CACHE_MAX_ENTRIES must be positive")
	}
	if cfg.AutoUpdateBatchSize <= 0 {
		return fmt.Errorf("WEATHER_SNAPSHOT_AUTO_BATCH_SIZE must be positive")
	}
	if cfg.RequestTimeout <= cfg.FetchTimeout {
		cfg.RequestTimeout = cfg.FetchTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func millisOrDefault(v, def int) time.Duration {
	return time.Duration(intOrDefault(v, def)) * time.Millisecond
}

func daysOrDefault(v, def int) time.Duration {
	return time.Duration(intOrDefault(v, def)) * 24 * time.Hour
}

func minutesOrDefault(v, def int) time.Duration {
	return time.Duration(intOrDefault(v, def)) * time.Minute
}

func envInt(key string, def int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envMillis(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func envDays(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * 24 * time.Hour
}

func envMinutes(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Minute
}

func envBool(key string, def bool) bool {
	s := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if s == "" {
		return def
	}
	switch s {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
