// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Geo lookup providers
const (
	GeoProviderIPAPI   = "ipapi"
	GeoProviderGeoLite = "geolite"
	GeoProviderNone    = "none"
)

// Geo cache backends
const (
	GeoCacheMemory   = "memory"
	GeoCacheRedis    = "redis"
	GeoCacheDatabase = "db"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	AdminAPIKey string   `mapstructure:"adminapikey"`
	HomeURL     string   `mapstructure:"homeurl"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Geolocation
	GeoProvider        string `mapstructure:"geoprovider"`
	GeoIPAPIURL        string `mapstructure:"geoipapiurl"`
	GeoTimeoutMillis   int    `mapstructure:"geotimeoutmillis"`
	GeoCacheBackend    string `mapstructure:"geocachebackend"`
	GeoCacheTTLSeconds int    `mapstructure:"geocachettlseconds"`
	RedisURL           string `mapstructure:"redisurl"`
	GeoLiteLicenseKey  string `mapstructure:"geolitelicensekey"`
	GeoLiteDownloadURL string `mapstructure:"geolitedownloadurl"`

	// Ingestion
	ExcludedPaths     string `mapstructure:"excludedpaths"`
	SessionCookieName string `mapstructure:"sessioncookiename"`
	DeviceCookieName  string `mapstructure:"devicecookiename"`
	DiagnosticsBuffer int    `mapstructure:"diagnosticsbuffer"`

	// Job scheduling settings
	AggregationSchedule string `mapstructure:"aggregationschedule"`
	RetentionSchedule   string `mapstructure:"retentionschedule"`

	// Data retention settings
	RetentionDays int `mapstructure:"retentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "usertracker")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("adminapikey", "")
		v.SetDefault("homeurl", "http://localhost:3000")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "web")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("geoprovider", GeoProviderIPAPI)
		v.SetDefault("geoipapiurl", "http://ip-api.com")
		v.SetDefault("geotimeoutmillis", 2000)
		v.SetDefault("geocachebackend", GeoCacheMemory)
		v.SetDefault("geocachettlseconds", 86400)
		v.SetDefault("redisurl", "redis://localhost:6379/0")
		v.SetDefault("geolitelicensekey", "")
		v.SetDefault("geolitedownloadurl", "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz")
		v.SetDefault("excludedpaths", `^/wp-json/,^/wp-admin/,^/xmlrpc\.php`)
		v.SetDefault("sessioncookiename", "ut_session_id")
		v.SetDefault("devicecookiename", "ut_device_id")
		v.SetDefault("diagnosticsbuffer", 256)
		v.SetDefault("aggregationschedule", "15 0 * * *")
		v.SetDefault("retentionschedule", "30 3 * * *")
		v.SetDefault("retentiondays", 90)

		v.BindEnv("appname", "USERTRACKER_APP_NAME")
		v.BindEnv("appport", "USERTRACKER_APP_PORT")
		v.BindEnv("environment", "USERTRACKER_ENV")
		v.BindEnv("loglevel", "USERTRACKER_LOG_LEVEL")
		v.BindEnv("adminapikey", "USERTRACKER_ADMIN_API_KEY")
		v.BindEnv("homeurl", "USERTRACKER_HOME_URL")
		v.BindEnv("storagepath", "USERTRACKER_STORAGE_PATH")
		v.BindEnv("geodbpath", "USERTRACKER_GEO_DB_PATH")
		v.BindEnv("publicdir", "USERTRACKER_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "USERTRACKER_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "USERTRACKER_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "USERTRACKER_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "USERTRACKER_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "USERTRACKER_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "USERTRACKER_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "USERTRACKER_DB_MAX_IDLE_CONNS")
		v.BindEnv("geoprovider", "USERTRACKER_GEO_PROVIDER")
		v.BindEnv("geoipapiurl", "USERTRACKER_GEO_IPAPI_URL")
		v.BindEnv("geotimeoutmillis", "USERTRACKER_GEO_TIMEOUT_MILLIS")
		v.BindEnv("geocachebackend", "USERTRACKER_GEO_CACHE_BACKEND")
		v.BindEnv("geocachettlseconds", "USERTRACKER_GEO_CACHE_TTL_SECONDS")
		v.BindEnv("redisurl", "USERTRACKER_REDIS_URL")
		v.BindEnv("geolitelicensekey", "USERTRACKER_GEOLITE_LICENSE_KEY")
		v.BindEnv("geolitedownloadurl", "USERTRACKER_GEOLITE_DOWNLOAD_URL")
		v.BindEnv("excludedpaths", "USERTRACKER_EXCLUDED_PATHS")
		v.BindEnv("sessioncookiename", "USERTRACKER_SESSION_COOKIE_NAME")
		v.BindEnv("devicecookiename", "USERTRACKER_DEVICE_COOKIE_NAME")
		v.BindEnv("diagnosticsbuffer", "USERTRACKER_DIAGNOSTICS_BUFFER")
		v.BindEnv("aggregationschedule", "USERTRACKER_AGGREGATION_SCHEDULE")
		v.BindEnv("retentionschedule", "USERTRACKER_RETENTION_SCHEDULE")
		v.BindEnv("retentiondays", "USERTRACKER_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.IsProduction() && cfg.AdminAPIKey == "" {
			log.Fatal("Production requires USERTRACKER_ADMIN_API_KEY")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	switch c.GeoProvider {
	case GeoProviderIPAPI, GeoProviderGeoLite, GeoProviderNone:
	default:
		return fmt.Errorf("invalid geo provider: %s", c.GeoProvider)
	}

	switch c.GeoCacheBackend {
	case GeoCacheMemory, GeoCacheRedis, GeoCacheDatabase:
	default:
		return fmt.Errorf("invalid geo cache backend: %s", c.GeoCacheBackend)
	}

	if c.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1, got %d", c.RetentionDays)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// GetGeoTimeout returns the upper bound for a single external geo lookup.
func (c *Config) GetGeoTimeout() time.Duration {
	if c.GeoTimeoutMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.GeoTimeoutMillis) * time.Millisecond
}

// GetGeoCacheTTL returns how long a resolved location stays cached.
func (c *Config) GetGeoCacheTTL() time.Duration {
	if c.GeoCacheTTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.GeoCacheTTLSeconds) * time.Second
}

// GetExcludedPaths splits the comma separated exclusion patterns.
func (c *Config) GetExcludedPaths() []string {
	var patterns []string
	for _, p := range strings.Split(c.ExcludedPaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret implements cartridge.FactoryConfig. The admin API key
// doubles as the secret since there are no login sessions.
func (c *Config) GetSessionSecret() string {
	return c.AdminAPIKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// Tests use a single connection; everything else defaults to 10.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
