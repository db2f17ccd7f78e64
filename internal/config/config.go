package config

import (
	"time"
)

// Config represents the complete assetcache configuration
type Config struct {
	Listener ListenerConfig `yaml:"listener"`
	Origin   OriginConfig   `yaml:"origin"`
	Cache    CacheConfig    `yaml:"cache"`
	Sync     SyncConfig     `yaml:"sync"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Admin    AdminConfig    `yaml:"admin"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// ListenerConfig defines the proxy listener
type ListenerConfig struct {
	Address           string        `yaml:"address"` // e.g., ":8080"
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
}

// OriginConfig is the site whose assets are cached
type OriginConfig struct {
	URL       string          `yaml:"url"`
	Transport TransportConfig `yaml:"transport"`
}

// TransportConfig tunes the network transport used on cache misses.
// Zero values keep net/http defaults; no request timeout is imposed.
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	CAFile                string        `yaml:"ca_file"`
	DisableKeepAlives     bool          `yaml:"disable_keep_alives"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

// CacheConfig names the cache generations and the precache manifest
type CacheConfig struct {
	Version            string   `yaml:"version"`      // derives default generation names
	StaticName         string   `yaml:"static_name"`  // default "static-<version>"
	DynamicName        string   `yaml:"dynamic_name"` // default "dynamic-<version>"
	Retain             []string `yaml:"retain"`       // extra generation names activation keeps
	Precache           []string `yaml:"precache"`     // resolved against origin.url
	Methods            []string `yaml:"methods"`      // retrieval methods served from cache
	ExcludedSchemes    []string `yaml:"excluded_schemes"`
	InstallConcurrency int      `yaml:"install_concurrency"`
}

// SyncConfig defines background sync scheduling
type SyncConfig struct {
	Tags       []string      `yaml:"tags"`        // recognized sync tags
	MaxElapsed time.Duration `yaml:"max_elapsed"` // host retry budget per scheduled sync
}

// StorageConfig selects the generation store backend
type StorageConfig struct {
	Type  string      `yaml:"type"` // "memory" (default), "redis" or "blob"
	Redis RedisConfig `yaml:"redis"`
	Blob  BlobConfig  `yaml:"blob"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password" redact:"true"` // may be ${env:NAME} or ${file:/path}
	DB          int           `yaml:"db"`
	TLS         bool          `yaml:"tls"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Prefix      string        `yaml:"prefix"`
}

// BlobConfig defines a gocloud.dev bucket URL
type BlobConfig struct {
	URL string `yaml:"url"` // file:///path, mem://, s3://bucket?region=...
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Format   string            `yaml:"format"` // json or console
	Output   string            `yaml:"output"` // stdout, stderr or file path
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames
}

// AdminConfig defines the admin API settings
type AdminConfig struct {
	Enabled bool          `yaml:"enabled"`
	Port    int           `yaml:"port"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig defines Prometheus metrics exposure
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig defines distributed tracing settings
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"` // 0.0 to 1.0
	Insecure    bool              `yaml:"insecure"`    // use insecure gRPC connection
	Headers     map[string]string `yaml:"headers"`     // extra headers for OTLP exporter
}

// ShutdownConfig defines graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultPrecache is the manifest of the typing-test front-end.
var DefaultPrecache = []string{"/", "/typing-test", "/favicon.svg", "/app.css"}

// DefaultSyncTag is the sync tag recognized out of the box.
const DefaultSyncTag = "background-sync"

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Origin: OriginConfig{
			URL: "http://localhost:5173",
		},
		Cache: CacheConfig{
			Version:            "v1",
			Precache:           append([]string(nil), DefaultPrecache...),
			Methods:            []string{"GET"},
			ExcludedSchemes:    []string{"chrome-extension"},
			InstallConcurrency: 4,
		},
		Sync: SyncConfig{
			Tags:       []string{DefaultSyncTag},
			MaxElapsed: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Type: "memory",
			Redis: RedisConfig{
				PoolSize:    10,
				DialTimeout: 5 * time.Second,
				Prefix:      "assetcache:",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    9090,
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Tracing: TracingConfig{
			ServiceName: "assetcache",
			SampleRate:  1.0,
		},
		Shutdown: ShutdownConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// StaticGeneration returns the configured static generation name.
func (c CacheConfig) StaticGeneration() string {
	if c.StaticName != "" {
		return c.StaticName
	}
	return "static-" + c.Version
}

// DynamicGeneration returns the configured dynamic generation name.
func (c CacheConfig) DynamicGeneration() string {
	if c.DynamicName != "" {
		return c.DynamicName
	}
	return "dynamic-" + c.Version
}

// CurrentGenerations lists the names activation keeps.
func (c CacheConfig) CurrentGenerations() []string {
	names := []string{c.StaticGeneration(), c.DynamicGeneration()}
	return append(names, c.Retain...)
}
