package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoaderParse(t *testing.T) {
	yaml := `
listener:
  address: ":9000"
  read_timeout: 10s

origin:
  url: http://typing.local:5173

cache:
  version: v2
  precache:
    - /
    - /typing-test
  methods: [get, head]
  excluded_schemes: ["chrome-extension://", "moz-extension"]

storage:
  type: Blob
  blob:
    url: mem://

sync:
  max_elapsed: 1m
`

	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Listener.Address != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.Listener.Address)
	}
	if cfg.Listener.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Listener.ReadTimeout)
	}
	if cfg.Listener.WriteTimeout != 30*time.Second {
		t.Errorf("expected default write_timeout, got %v", cfg.Listener.WriteTimeout)
	}
	if cfg.Cache.StaticGeneration() != "static-v2" || cfg.Cache.DynamicGeneration() != "dynamic-v2" {
		t.Errorf("unexpected generation names %s / %s", cfg.Cache.StaticGeneration(), cfg.Cache.DynamicGeneration())
	}
	if len(cfg.Cache.Precache) != 2 {
		t.Errorf("expected 2 precache URLs, got %v", cfg.Cache.Precache)
	}
	if strings.Join(cfg.Cache.Methods, ",") != "GET,HEAD" {
		t.Errorf("methods not normalized: %v", cfg.Cache.Methods)
	}
	if strings.Join(cfg.Cache.ExcludedSchemes, ",") != "chrome-extension,moz-extension" {
		t.Errorf("schemes not normalized: %v", cfg.Cache.ExcludedSchemes)
	}
	if cfg.Storage.Type != "blob" {
		t.Errorf("expected blob storage, got %s", cfg.Storage.Type)
	}
	if cfg.Sync.MaxElapsed != time.Minute {
		t.Errorf("expected max_elapsed 1m, got %v", cfg.Sync.MaxElapsed)
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if strings.Join(cfg.Cache.Precache, ",") != "/,/typing-test,/favicon.svg,/app.css" {
		t.Errorf("unexpected default precache %v", cfg.Cache.Precache)
	}
	got := cfg.Cache.CurrentGenerations()
	if len(got) != 2 || got[0] != "static-v1" || got[1] != "dynamic-v1" {
		t.Errorf("unexpected current generations %v", got)
	}
	if len(cfg.Sync.Tags) != 1 || cfg.Sync.Tags[0] != DefaultSyncTag {
		t.Errorf("unexpected sync tags %v", cfg.Sync.Tags)
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	t.Setenv("TEST_ORIGIN", "https://typing.example.com")
	t.Setenv("TEST_REDIS", "redis:6379")

	yaml := `
origin:
  url: ${TEST_ORIGIN}
storage:
  type: redis
  redis:
    address: ${TEST_REDIS}
    password: ${TEST_UNSET_VAR}
`
	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Origin.URL != "https://typing.example.com" {
		t.Errorf("origin not expanded: %s", cfg.Origin.URL)
	}
	if cfg.Storage.Redis.Address != "redis:6379" {
		t.Errorf("redis address not expanded: %s", cfg.Storage.Redis.Address)
	}
	if cfg.Storage.Redis.Password != "${TEST_UNSET_VAR}" {
		t.Errorf("unset variable should be kept, got %s", cfg.Storage.Redis.Password)
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad origin scheme", "origin: {url: 'ftp://x'}", "scheme"},
		{"missing origin host", "origin: {url: 'http://'}", "host"},
		{"same generation names", "cache: {static_name: a, dynamic_name: a}", "must differ"},
		{"slash in name", "cache: {static_name: 'a/b'}", "invalid generation name"},
		{"non-retrieval method", "cache: {methods: [POST]}", "not a retrieval method"},
		{"no methods", "cache: {methods: []}", "at least one method"},
		{"empty precache url", "cache: {precache: ['/', '']}", "empty URL"},
		{"unknown storage", "storage: {type: dynamo}", "invalid storage type"},
		{"redis without address", "storage: {type: redis}", "redis.address"},
		{"blob without url", "storage: {type: blob}", "blob.url"},
		{"admin port", "admin: {enabled: true, port: 0}", "admin.port"},
		{"sample rate", "tracing: {sample_rate: 2}", "sample_rate"},
		{"negative concurrency", "cache: {install_concurrency: -1}", "install_concurrency"},
		{"log format", "logging: {format: xml}", "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assetcache.yaml")
	if err := os.WriteFile(path, []byte("cache: {version: v9}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.StaticGeneration() != "static-v9" {
		t.Errorf("expected static-v9, got %s", cfg.Cache.StaticGeneration())
	}

	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoaderSampleConfig(t *testing.T) {
	cfg, err := NewLoader().Load(filepath.Join("..", "..", "configs", "assetcache.yaml"))
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if cfg.Cache.StaticGeneration() != "static-v1" || cfg.Cache.DynamicGeneration() != "dynamic-v1" {
		t.Errorf("unexpected generation names %s %s", cfg.Cache.StaticGeneration(), cfg.Cache.DynamicGeneration())
	}
	if len(cfg.Cache.Precache) != len(DefaultPrecache) {
		t.Errorf("expected %d precache entries, got %d", len(DefaultPrecache), len(cfg.Cache.Precache))
	}
}
