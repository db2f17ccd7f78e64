package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// retrievalMethods are the HTTP methods safe to answer from cache.
var retrievalMethods = map[string]bool{
	"GET": true, "HEAD": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	secrets    *SecretRegistry
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		secrets:    NewSecretRegistry(),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := resolveSecretRefs(context.Background(), cfg, l.secrets); err != nil {
		return nil, err
	}

	normalize(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

func normalize(cfg *Config) {
	for i, m := range cfg.Cache.Methods {
		cfg.Cache.Methods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	for i, s := range cfg.Cache.ExcludedSchemes {
		cfg.Cache.ExcludedSchemes[i] = strings.ToLower(strings.TrimSuffix(s, "://"))
	}
	cfg.Storage.Type = strings.ToLower(cfg.Storage.Type)
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Listener.Address == "" {
		return fmt.Errorf("listener.address is required")
	}

	origin, err := url.Parse(cfg.Origin.URL)
	if err != nil {
		return fmt.Errorf("origin.url: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return fmt.Errorf("origin.url: scheme must be http or https, got %q", origin.Scheme)
	}
	if origin.Host == "" {
		return fmt.Errorf("origin.url: host is required")
	}

	if err := l.validateCache(cfg.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if cfg.Sync.MaxElapsed < 0 {
		return fmt.Errorf("sync.max_elapsed must not be negative")
	}
	for i, tag := range cfg.Sync.Tags {
		if tag == "" {
			return fmt.Errorf("sync.tags[%d]: empty tag", i)
		}
	}

	switch cfg.Storage.Type {
	case "", "memory":
	case "redis":
		if cfg.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address is required for redis storage")
		}
	case "blob":
		if cfg.Storage.Blob.URL == "" {
			return fmt.Errorf("storage.blob.url is required for blob storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}

	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return fmt.Errorf("admin.port %d out of range", cfg.Admin.Port)
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}

func (l *Loader) validateCache(c CacheConfig) error {
	static, dynamic := c.StaticGeneration(), c.DynamicGeneration()
	if c.StaticName == "" && c.DynamicName == "" && c.Version == "" {
		return fmt.Errorf("version or static_name/dynamic_name is required")
	}
	if static == dynamic {
		return fmt.Errorf("static and dynamic generation names must differ (%q)", static)
	}
	for _, name := range c.CurrentGenerations() {
		if name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("invalid generation name %q", name)
		}
	}

	if len(c.Methods) == 0 {
		return fmt.Errorf("at least one method is required")
	}
	for _, m := range c.Methods {
		if !retrievalMethods[m] {
			return fmt.Errorf("method %q is not a retrieval method", m)
		}
	}

	for i, p := range c.Precache {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("precache[%d]: empty URL", i)
		}
		if _, err := url.Parse(p); err != nil {
			return fmt.Errorf("precache[%d]: %w", i, err)
		}
	}

	if c.InstallConcurrency < 0 {
		return fmt.Errorf("install_concurrency must not be negative")
	}
	return nil
}
