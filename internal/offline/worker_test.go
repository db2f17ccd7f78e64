package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wudi/assetcache/internal/cache"
	"github.com/wudi/assetcache/internal/config"
	"github.com/wudi/assetcache/internal/host"
	"github.com/wudi/assetcache/internal/metrics"
)

const origin = "http://typing.test"

var defaultManifest = []string{"/", "/typing-test", "/favicon.svg", "/app.css"}

// fakeNetwork answers from a fixed route table and counts calls per path.
type fakeNetwork struct {
	mu     sync.Mutex
	routes map[string]fakeRoute
	calls  map[string]int
}

type fakeRoute struct {
	status int
	body   string
	err    error
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		routes: map[string]fakeRoute{
			"/":            {status: 200, body: "<html>home</html>"},
			"/typing-test": {status: 200, body: "<html>test</html>"},
			"/favicon.svg": {status: 200, body: "<svg/>"},
			"/app.css":     {status: 200, body: "body{}"},
			"/api/submit":  {status: 201, body: `{"ok":true}`},
		},
		calls: make(map[string]int),
	}
}

func (n *fakeNetwork) set(path string, r fakeRoute) {
	n.mu.Lock()
	n.routes[path] = r
	n.mu.Unlock()
}

func (n *fakeNetwork) count(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	n.calls[req.URL.Path]++
	r, ok := n.routes[req.URL.Path]
	n.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	if !ok {
		r = fakeRoute{status: 404, body: "not found"}
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

// spyStorage counts every store call and can fail Open for chosen names.
type spyStorage struct {
	cache.Storage
	calls    atomic.Int32
	failOpen map[string]bool
}

func (s *spyStorage) Open(ctx context.Context, name string) (cache.Generation, error) {
	s.calls.Add(1)
	if s.failOpen[name] {
		return nil, errors.New("disk full")
	}
	return s.Storage.Open(ctx, name)
}

func (s *spyStorage) Match(ctx context.Context, key string) (*cache.Entry, bool, error) {
	s.calls.Add(1)
	return s.Storage.Match(ctx, key)
}

func (s *spyStorage) Names(ctx context.Context) ([]string, error) {
	s.calls.Add(1)
	return s.Storage.Names(ctx)
}

func (s *spyStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.calls.Add(1)
	return s.Storage.Delete(ctx, name)
}

func testOptions() Options {
	u, _ := url.Parse(origin)
	return Options{
		StaticName:      "static-v1",
		DynamicName:     "dynamic-v1",
		Precache:        defaultManifest,
		Origin:          u,
		Methods:         []string{"GET"},
		ExcludedSchemes: []string{"chrome-extension"},
		SyncTags:        []string{"background-sync"},
	}
}

func newTestWorker(t *testing.T, storage cache.Storage, network http.RoundTripper, opts ...Option) *Worker {
	t.Helper()
	w, err := New(testOptions(), storage, network, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func get(t *testing.T, w *Worker, rawURL string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", rawURL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := w.Fetch(req)
	if err != nil {
		t.Fatalf("Fetch %s: %v", rawURL, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func generationKeys(t *testing.T, s cache.Storage, name string) []string {
	t.Helper()
	gen, err := s.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open %s: %v", name, err)
	}
	keys, err := gen.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys %s: %v", name, err)
	}
	sort.Strings(keys)
	return keys
}

func TestNewValidation(t *testing.T) {
	storage := cache.NewMemoryStorage()

	opts := testOptions()
	opts.DynamicName = opts.StaticName
	if _, err := New(opts, storage, nil); err == nil {
		t.Error("expected error for shared generation name")
	}

	opts = testOptions()
	opts.Origin = nil
	if _, err := New(opts, storage, nil); err == nil {
		t.Error("expected error for relative manifest without origin")
	}

	if _, err := New(testOptions(), nil, nil); err == nil {
		t.Error("expected error for missing storage")
	}
}

func TestManifestResolution(t *testing.T) {
	opts := testOptions()
	opts.Precache = []string{"/", "/app.css", "/app.css#top", "https://cdn.test/font.woff2"}
	w, err := New(opts, cache.NewMemoryStorage(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{origin + "/", origin + "/app.css", "https://cdn.test/font.woff2"}
	if fmt.Sprint(w.Manifest()) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, w.Manifest())
	}
}

func TestManifestResolutionPrefixedOrigin(t *testing.T) {
	opts := testOptions()
	prefixed, _ := url.Parse(origin + "/app")
	opts.Origin = prefixed
	opts.Precache = []string{"/", "/app.css", "typing-test"}
	w, err := New(opts, cache.NewMemoryStorage(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{origin + "/app/", origin + "/app/app.css", origin + "/app/typing-test"}
	if fmt.Sprint(w.Manifest()) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, w.Manifest())
	}
}

func TestInstallPrecachesManifest(t *testing.T) {
	storage := cache.NewMemoryStorage()
	w := newTestWorker(t, storage, newFakeNetwork())

	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	want := []string{
		"GET " + origin + "/",
		"GET " + origin + "/app.css",
		"GET " + origin + "/favicon.svg",
		"GET " + origin + "/typing-test",
	}
	got := generationKeys(t, storage, "static-v1")
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected static keys %v, got %v", want, got)
	}
}

func TestInstallReplacesStaticContents(t *testing.T) {
	storage := cache.NewMemoryStorage()
	ctx := context.Background()
	gen, _ := storage.Open(ctx, "static-v1")
	gen.Put(ctx, "GET "+origin+"/old.js", &cache.Entry{StatusCode: 200})

	w := newTestWorker(t, storage, newFakeNetwork())
	if err := w.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if n, _ := gen.Len(ctx); n != len(defaultManifest) {
		t.Errorf("expected exactly %d entries, got %d", len(defaultManifest), n)
	}
	if _, ok, _ := gen.Get(ctx, "GET "+origin+"/old.js"); ok {
		t.Error("entry outside the manifest survived install")
	}
}

func TestInstallFailureStoresNothing(t *testing.T) {
	tests := []struct {
		name  string
		route fakeRoute
	}{
		{"non-2xx status", fakeRoute{status: 500, body: "oops"}},
		{"not found", fakeRoute{status: 404}},
		{"transport error", fakeRoute{err: errors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := cache.NewMemoryStorage()
			network := newFakeNetwork()
			network.set("/favicon.svg", tt.route)
			m := metrics.NewCollector()
			w := newTestWorker(t, storage, network, WithMetrics(m))

			err := w.Install(context.Background())
			if !errors.Is(err, ErrPrecacheFailed) {
				t.Fatalf("expected ErrPrecacheFailed, got %v", err)
			}
			if !strings.Contains(err.Error(), "/favicon.svg") {
				t.Errorf("error should name the failing asset: %v", err)
			}
			if keys := generationKeys(t, storage, "static-v1"); len(keys) != 0 {
				t.Errorf("expected no stored entries, got %v", keys)
			}

			expected := `
# HELP assetcache_install_total Install attempts by result.
# TYPE assetcache_install_total counter
assetcache_install_total{result="error"} 1
`
			if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "assetcache_install_total"); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestInstallCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	network := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, r.Context().Err()
	})
	w := newTestWorker(t, cache.NewMemoryStorage(), network)
	if err := w.Install(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFetchBypassesNonRetrievalMethods(t *testing.T) {
	storage := &spyStorage{Storage: cache.NewMemoryStorage()}
	network := newFakeNetwork()
	w := newTestWorker(t, storage, network)

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("POST", origin+"/api/submit", strings.NewReader(`{"wpm":80}`))
		resp, err := w.Fetch(req)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if resp.StatusCode != 201 {
			t.Errorf("expected 201, got %d", resp.StatusCode)
		}
		if resp.Header.Get(CacheHeader) != "BYPASS" {
			t.Errorf("expected BYPASS, got %q", resp.Header.Get(CacheHeader))
		}
		resp.Body.Close()
	}

	if n := network.count("/api/submit"); n != 3 {
		t.Errorf("expected 3 network calls, got %d", n)
	}
	if n := storage.calls.Load(); n != 0 {
		t.Errorf("store must not be touched, got %d calls", n)
	}
}

func TestFetchBypassesExcludedScheme(t *testing.T) {
	storage := &spyStorage{Storage: cache.NewMemoryStorage()}
	network := newFakeNetwork()
	w := newTestWorker(t, storage, network)

	resp := get(t, w, "chrome-extension://abcdef/app.css")
	resp.Body.Close()
	if resp.Header.Get(CacheHeader) != "BYPASS" {
		t.Errorf("expected BYPASS, got %q", resp.Header.Get(CacheHeader))
	}
	if n := storage.calls.Load(); n != 0 {
		t.Errorf("store must not be touched, got %d calls", n)
	}
}

func TestFetchPopulatesDynamicGeneration(t *testing.T) {
	storage := cache.NewMemoryStorage()
	network := newFakeNetwork()
	w := newTestWorker(t, storage, network)

	resp := get(t, w, origin+"/app.css")
	if resp.Header.Get(CacheHeader) != "MISS" {
		t.Errorf("expected MISS, got %q", resp.Header.Get(CacheHeader))
	}
	if body := readBody(t, resp); body != "body{}" {
		t.Errorf("unexpected body %q", body)
	}

	keys := generationKeys(t, storage, "dynamic-v1")
	if len(keys) != 1 || keys[0] != "GET "+origin+"/app.css" {
		t.Errorf("expected app.css in dynamic generation, got %v", keys)
	}

	resp = get(t, w, origin+"/app.css")
	if resp.Header.Get(CacheHeader) != "HIT" {
		t.Errorf("expected HIT, got %q", resp.Header.Get(CacheHeader))
	}
	if body := readBody(t, resp); body != "body{}" {
		t.Errorf("unexpected cached body %q", body)
	}
	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("expected stored headers, got %v", resp.Header)
	}
	if n := network.count("/app.css"); n != 1 {
		t.Errorf("expected 1 network call, got %d", n)
	}
}

func TestFetchServesPrecachedAssetsOffline(t *testing.T) {
	storage := cache.NewMemoryStorage()
	network := newFakeNetwork()
	w := newTestWorker(t, storage, network)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	for _, p := range defaultManifest {
		network.set(p, fakeRoute{err: errors.New("offline")})
	}
	for _, p := range defaultManifest {
		resp := get(t, w, origin+p)
		if resp.Header.Get(CacheHeader) != "HIT" {
			t.Errorf("%s: expected HIT, got %q", p, resp.Header.Get(CacheHeader))
		}
		resp.Body.Close()
	}
	if n := network.count("/typing-test"); n != 1 {
		t.Errorf("expected only the install fetch, got %d", n)
	}
}

func TestFetchDoesNotStoreUnsuccessfulResponses(t *testing.T) {
	storage := cache.NewMemoryStorage()
	network := newFakeNetwork()
	network.set("/created", fakeRoute{status: 201, body: "created"})
	w := newTestWorker(t, storage, network)

	for _, p := range []string{"/missing", "/created"} {
		resp := get(t, w, origin+p)
		resp.Body.Close()
		resp = get(t, w, origin+p)
		resp.Body.Close()
		if n := network.count(p); n != 2 {
			t.Errorf("%s: expected 2 network calls, got %d", p, n)
		}
	}
	if keys := generationKeys(t, storage, "dynamic-v1"); len(keys) != 0 {
		t.Errorf("expected nothing stored, got %v", keys)
	}
}

func TestFetchPropagatesNetworkError(t *testing.T) {
	network := newFakeNetwork()
	offline := errors.New("network unreachable")
	network.set("/app.css", fakeRoute{err: offline})
	m := metrics.NewCollector()
	w := newTestWorker(t, cache.NewMemoryStorage(), network, WithMetrics(m))

	req, _ := http.NewRequest("GET", origin+"/app.css", nil)
	resp, err := w.Fetch(req)
	if !errors.Is(err, offline) {
		t.Fatalf("expected network error, got %v", err)
	}
	if resp != nil {
		t.Error("expected nil response")
	}

	expected := `
# HELP assetcache_fetch_total Fetch events by outcome (hit, miss, bypass, error).
# TYPE assetcache_fetch_total counter
assetcache_fetch_total{outcome="error"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "assetcache_fetch_total"); err != nil {
		t.Error(err)
	}
}

func TestFetchStoresIndependentCopy(t *testing.T) {
	storage := cache.NewMemoryStorage()
	w := newTestWorker(t, storage, newFakeNetwork())

	resp := get(t, w, origin+"/favicon.svg")
	body, _ := io.ReadAll(resp.Body)
	for i := range body {
		body[i] = 'x'
	}
	resp.Header.Set("Content-Type", "tampered")
	resp.Body.Close()

	resp = get(t, w, origin+"/favicon.svg")
	if got := readBody(t, resp); got != "<svg/>" {
		t.Errorf("stored body changed: %q", got)
	}
	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("stored headers changed: %v", resp.Header)
	}

	entry, ok, _ := storage.Match(context.Background(), "GET "+origin+"/favicon.svg")
	if !ok {
		t.Fatal("expected stored entry")
	}
	if entry.Headers.Get(CacheHeader) != "" {
		t.Error("cache status header must not be stored")
	}
}

func TestFetchStoreFailureKeepsResponse(t *testing.T) {
	storage := &spyStorage{
		Storage:  cache.NewMemoryStorage(),
		failOpen: map[string]bool{"dynamic-v1": true},
	}
	m := metrics.NewCollector()
	w := newTestWorker(t, storage, newFakeNetwork(), WithMetrics(m))

	resp := get(t, w, origin+"/app.css")
	if body := readBody(t, resp); body != "body{}" {
		t.Errorf("unexpected body %q", body)
	}

	expected := `
# HELP assetcache_store_total Dynamic generation writes by result.
# TYPE assetcache_store_total counter
assetcache_store_total{result="error"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "assetcache_store_total"); err != nil {
		t.Error(err)
	}
}

func TestFetchIgnoresFragment(t *testing.T) {
	network := newFakeNetwork()
	w := newTestWorker(t, cache.NewMemoryStorage(), network)

	get(t, w, origin+"/typing-test").Body.Close()
	resp := get(t, w, origin+"/typing-test#results")
	resp.Body.Close()
	if resp.Header.Get(CacheHeader) != "HIT" {
		t.Errorf("expected HIT, got %q", resp.Header.Get(CacheHeader))
	}
}

func TestFetchConcurrentSameKey(t *testing.T) {
	storage := cache.NewMemoryStorage()
	w := newTestWorker(t, storage, newFakeNetwork())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest("GET", origin+"/app.css", nil)
			resp, err := w.Fetch(req)
			if err != nil {
				t.Errorf("Fetch: %v", err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	wg.Wait()

	if keys := generationKeys(t, storage, "dynamic-v1"); len(keys) != 1 {
		t.Errorf("expected a single entry, got %v", keys)
	}
}

func TestRetiredWorkerStoresNothing(t *testing.T) {
	storage := cache.NewMemoryStorage()
	w := newTestWorker(t, storage, newFakeNetwork())
	w.Retire()

	resp := get(t, w, origin+"/app.css")
	if body := readBody(t, resp); body != "body{}" {
		t.Errorf("retired worker should still serve misses, got %q", body)
	}
	names, _ := storage.Names(context.Background())
	if len(names) != 0 {
		t.Errorf("retired worker recreated generations: %v", names)
	}
}

// gatedStorage blocks Open until released.
type gatedStorage struct {
	cache.Storage
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStorage) Open(ctx context.Context, name string) (cache.Generation, error) {
	close(s.entered)
	<-s.release
	return s.Storage.Open(ctx, name)
}

func TestRetireWaitsForInFlightStore(t *testing.T) {
	storage := &gatedStorage{
		Storage: cache.NewMemoryStorage(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	w := newTestWorker(t, storage, newFakeNetwork())

	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		req, _ := http.NewRequest("GET", origin+"/app.css", nil)
		if resp, err := w.Fetch(req); err == nil {
			resp.Body.Close()
		}
	}()
	<-storage.entered

	retired := make(chan struct{})
	go func() {
		w.Retire()
		close(retired)
	}()
	select {
	case <-retired:
		t.Fatal("Retire returned while a store was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(storage.release)
	<-fetched
	<-retired

	keys := generationKeys(t, storage.Storage, "dynamic-v1")
	if len(keys) != 1 {
		t.Errorf("in-flight store should complete, got %v", keys)
	}
}

func TestDeleteStale(t *testing.T) {
	storage := cache.NewMemoryStorage()
	ctx := context.Background()
	for _, name := range []string{"static-v0", "dynamic-v0", "static-v1"} {
		if _, err := storage.Open(ctx, name); err != nil {
			t.Fatalf("Open %s: %v", name, err)
		}
	}
	w := newTestWorker(t, storage, newFakeNetwork())

	deleted, err := w.DeleteStale(ctx)
	if err != nil {
		t.Fatalf("DeleteStale: %v", err)
	}
	sort.Strings(deleted)
	if fmt.Sprint(deleted) != "[dynamic-v0 static-v0]" {
		t.Errorf("unexpected deletions %v", deleted)
	}
	names, _ := storage.Names(ctx)
	if fmt.Sprint(names) != "[static-v1]" {
		t.Errorf("expected only static-v1, got %v", names)
	}
}

func TestActivateDeletesStaleGenerations(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()
	for _, name := range []string{"static-v1", "dynamic-v1", "static-v0"} {
		storage.Open(ctx, name)
	}
	m := metrics.NewCollector()
	w := newTestWorker(t, storage, newFakeNetwork(), WithMetrics(m))

	deleted, err := w.Activate(ctx)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "static-v0" {
		t.Errorf("expected [static-v0] deleted, got %v", deleted)
	}
	names, _ := storage.Names(ctx)
	if fmt.Sprint(names) != "[static-v1 dynamic-v1]" {
		t.Errorf("unexpected remaining generations %v", names)
	}

	expected := `
# HELP assetcache_generations_deleted_total Stale generations deleted during activation.
# TYPE assetcache_generations_deleted_total counter
assetcache_generations_deleted_total 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "assetcache_generations_deleted_total"); err != nil {
		t.Error(err)
	}
}

func TestActivateLeavesOnlyCurrentNames(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()
	for _, name := range []string{"learn-to-do-v1", "dynamic-v0", "static-v1", "other"} {
		storage.Open(ctx, name)
	}
	w := newTestWorker(t, storage, newFakeNetwork())
	if _, err := w.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	names, _ := storage.Names(ctx)
	for _, name := range names {
		if name != "static-v1" && name != "dynamic-v1" {
			t.Errorf("stale generation %s survived activation", name)
		}
	}
}

func TestActivateRetain(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()
	for _, name := range []string{"learn-to-do-v1", "static-v0"} {
		storage.Open(ctx, name)
	}
	opts := testOptions()
	opts.Retain = []string{"learn-to-do-v1"}
	w, err := New(opts, storage, newFakeNetwork())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	deleted, err := w.Activate(ctx)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if fmt.Sprint(deleted) != "[static-v0]" {
		t.Errorf("unexpected deleted %v", deleted)
	}
}

func TestSync(t *testing.T) {
	m := metrics.NewCollector()
	w := newTestWorker(t, cache.NewMemoryStorage(), newFakeNetwork(), WithMetrics(m))
	ctx := context.Background()

	if err := w.Sync(ctx, "background-sync"); err != nil {
		t.Errorf("default task: %v", err)
	}
	if err := w.Sync(ctx, "unknown"); err != nil {
		t.Errorf("unknown tag should be a no-op, got %v", err)
	}

	failed := errors.New("upload failed")
	w.HandleSync("results-upload", func(ctx context.Context) error { return failed })
	if err := w.Sync(ctx, "results-upload"); !errors.Is(err, failed) {
		t.Errorf("expected task error, got %v", err)
	}

	expected := `
# HELP assetcache_sync_total Background sync runs by tag and result.
# TYPE assetcache_sync_total counter
assetcache_sync_total{result="error",tag="results-upload"} 1
assetcache_sync_total{result="ok",tag="background-sync"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "assetcache_sync_total"); err != nil {
		t.Error(err)
	}
}

func TestRegisterWithHost(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()
	storage.Open(ctx, "static-v0")
	network := newFakeNetwork()
	w := newTestWorker(t, storage, network)

	h := host.New(network, host.Options{Version: "v1"})
	defer h.Close()
	w.Register(h)

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	names, _ := storage.Names(ctx)
	if fmt.Sprint(names) != "[static-v1]" {
		t.Errorf("expected only static-v1, got %v", names)
	}

	client := &http.Client{Transport: h}
	resp, err := client.Get(origin + "/app.css")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(CacheHeader) != "HIT" {
		t.Errorf("expected precached HIT, got %q", resp.Header.Get(CacheHeader))
	}
	if n := network.count("/app.css"); n != 1 {
		t.Errorf("expected only the install fetch, got %d", n)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Origin.URL = "https://typing.example.com"
	cfg.Cache.Version = "v2"
	cfg.Cache.Retain = []string{"learn-to-do-v1"}

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if opts.StaticName != "static-v2" || opts.DynamicName != "dynamic-v2" {
		t.Errorf("unexpected names %s %s", opts.StaticName, opts.DynamicName)
	}
	if opts.Origin.Host != "typing.example.com" {
		t.Errorf("unexpected origin %v", opts.Origin)
	}
	if len(opts.Precache) != 4 || opts.InstallConcurrency != 4 {
		t.Errorf("unexpected defaults %+v", opts)
	}
	if len(opts.SyncTags) != 1 || opts.SyncTags[0] != config.DefaultSyncTag {
		t.Errorf("unexpected sync tags %v", opts.SyncTags)
	}
}
