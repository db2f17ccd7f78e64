// Package offline implements the cache-first, network-fallback worker:
// a static generation precached at install, a dynamic generation filled by
// successful fetches, and activation that prunes every other generation.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/wudi/assetcache/internal/cache"
	"github.com/wudi/assetcache/internal/config"
	"github.com/wudi/assetcache/internal/host"
	"github.com/wudi/assetcache/internal/metrics"
	"github.com/wudi/assetcache/internal/proxy"
	"github.com/wudi/assetcache/internal/tracing"
)

// ErrPrecacheFailed is wrapped by every install failure.
var ErrPrecacheFailed = errors.New("precache failed")

// CacheHeader reports how a fetch was served: HIT, MISS or BYPASS.
const CacheHeader = "X-Cache"

// Options configures a Worker.
type Options struct {
	StaticName  string
	DynamicName string
	// Retain lists extra generation names that activation keeps.
	Retain []string
	// Precache is the manifest stored at install. Relative entries are
	// resolved against Origin.
	Precache []string
	Origin   *url.URL
	// Methods are the retrieval methods served from cache. Default GET.
	Methods []string
	// ExcludedSchemes are never intercepted, e.g. "chrome-extension".
	ExcludedSchemes    []string
	InstallConcurrency int
	// SyncTags get the default logging sync task.
	SyncTags []string
}

// OptionsFromConfig derives worker options from the cache and sync config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	origin, err := url.Parse(cfg.Origin.URL)
	if err != nil {
		return Options{}, fmt.Errorf("parse origin url: %w", err)
	}
	return Options{
		StaticName:         cfg.Cache.StaticGeneration(),
		DynamicName:        cfg.Cache.DynamicGeneration(),
		Retain:             cfg.Cache.Retain,
		Precache:           cfg.Cache.Precache,
		Origin:             origin,
		Methods:            cfg.Cache.Methods,
		ExcludedSchemes:    cfg.Cache.ExcludedSchemes,
		InstallConcurrency: cfg.Cache.InstallConcurrency,
		SyncTags:           cfg.Sync.Tags,
	}, nil
}

// Option customizes a Worker.
type Option func(*Worker)

// WithMetrics records fetch, install, activation and sync outcomes.
func WithMetrics(m *metrics.Collector) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTracer adds a span per lifecycle event.
func WithTracer(t *tracing.Tracer) Option {
	return func(w *Worker) { w.tracer = t }
}

// Worker is the offline asset cache.
type Worker struct {
	static      string
	dynamic     string
	keep        map[string]bool
	manifest    []*url.URL
	methods     map[string]bool
	excluded    map[string]bool
	concurrency int

	storage cache.Storage
	network http.RoundTripper
	metrics *metrics.Collector
	tracer  *tracing.Tracer

	mu    sync.RWMutex
	tasks map[string]SyncTask

	retireMu sync.RWMutex
	retired  bool
}

// New creates a worker over storage. network serves cache misses, bypassed
// requests and precache fetches.
func New(opts Options, storage cache.Storage, network http.RoundTripper, options ...Option) (*Worker, error) {
	if opts.StaticName == "" || opts.DynamicName == "" {
		return nil, errors.New("static and dynamic generation names are required")
	}
	if opts.StaticName == opts.DynamicName {
		return nil, fmt.Errorf("static and dynamic generations share the name %q", opts.StaticName)
	}
	if storage == nil {
		return nil, errors.New("storage is required")
	}
	if network == nil {
		network = http.DefaultTransport
	}

	manifest, err := resolveManifest(opts.Origin, opts.Precache)
	if err != nil {
		return nil, err
	}

	methods := opts.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodGet}
	}
	concurrency := opts.InstallConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	w := &Worker{
		static:      opts.StaticName,
		dynamic:     opts.DynamicName,
		keep:        make(map[string]bool, 2+len(opts.Retain)),
		manifest:    manifest,
		methods:     make(map[string]bool, len(methods)),
		excluded:    make(map[string]bool, len(opts.ExcludedSchemes)),
		concurrency: concurrency,
		storage:     storage,
		network:     network,
		tasks:       make(map[string]SyncTask),
	}
	w.keep[opts.StaticName] = true
	w.keep[opts.DynamicName] = true
	for _, name := range opts.Retain {
		w.keep[name] = true
	}
	for _, m := range methods {
		w.methods[strings.ToUpper(m)] = true
	}
	for _, s := range opts.ExcludedSchemes {
		w.excluded[strings.ToLower(strings.TrimSuffix(s, "://"))] = true
	}
	for _, tag := range opts.SyncTags {
		w.tasks[tag] = logSyncTask(tag)
	}
	for _, o := range options {
		o(w)
	}
	return w, nil
}

// resolveManifest resolves and de-duplicates the precache list, keeping the
// first occurrence of each URL. Relative entries are joined to the origin
// the way the proxy joins inbound paths, so their keys match proxied fetches.
func resolveManifest(origin *url.URL, entries []string) ([]*url.URL, error) {
	seen := make(map[string]bool, len(entries))
	out := make([]*url.URL, 0, len(entries))
	for _, e := range entries {
		u, err := url.Parse(e)
		if err != nil {
			return nil, fmt.Errorf("precache entry %q: %w", e, err)
		}
		if !u.IsAbs() {
			if origin == nil {
				return nil, fmt.Errorf("precache entry %q is relative and no origin is set", e)
			}
			u = proxy.TargetURL(origin, u.Path, u.RawQuery)
		}
		u.Fragment = ""
		u.RawFragment = ""
		if seen[u.String()] {
			continue
		}
		seen[u.String()] = true
		out = append(out, u)
	}
	return out, nil
}

// Retire stops the worker from storing responses. It returns once every
// in-flight store has finished; fetches still serve hits and misses.
func (w *Worker) Retire() {
	w.retireMu.Lock()
	w.retired = true
	w.retireMu.Unlock()
}

// StaticName returns the static generation name.
func (w *Worker) StaticName() string { return w.static }

// DynamicName returns the dynamic generation name.
func (w *Worker) DynamicName() string { return w.dynamic }

// Manifest returns the resolved precache URLs.
func (w *Worker) Manifest() []string {
	out := make([]string, len(w.manifest))
	for i, u := range w.manifest {
		out[i] = u.String()
	}
	return out
}

// Storage returns the generation store the worker writes to.
func (w *Worker) Storage() cache.Storage { return w.storage }

// Register binds the worker's event handlers to d.
func (w *Worker) Register(d host.Dispatcher) {
	d.OnInstall(w.Install)
	d.OnActivate(func(ctx context.Context) error {
		_, err := w.Activate(ctx)
		return err
	})
	d.OnFetch(w.Fetch)
	d.OnSync(w.Sync)
}
