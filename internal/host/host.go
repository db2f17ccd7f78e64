// Package host runs an offline worker the way a browser runs a service
// worker: it fires the lifecycle events, routes fetches once the worker is
// active and schedules background syncs with retry.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/wudi/assetcache/internal/logging"
)

var (
	// ErrNotActivated is returned when an operation needs an activated worker.
	ErrNotActivated = errors.New("worker not activated")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("host closed")
)

// Event handlers a worker registers with its host.
type (
	InstallHandler  func(ctx context.Context) error
	ActivateHandler func(ctx context.Context) error
	FetchHandler    func(req *http.Request) (*http.Response, error)
	SyncHandler     func(ctx context.Context, tag string) error
)

// Dispatcher accepts the handlers for each lifecycle event.
type Dispatcher interface {
	OnInstall(InstallHandler)
	OnActivate(ActivateHandler)
	OnFetch(FetchHandler)
	OnSync(SyncHandler)
}

// State is the worker lifecycle state.
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options configures a Host.
type Options struct {
	// Version labels the hosted worker in logs and status output.
	Version string
	// SyncMaxElapsed bounds the retries of one scheduled sync. Default 5m.
	SyncMaxElapsed time.Duration
	// SyncInitialInterval is the first retry delay. Default 500ms.
	SyncInitialInterval time.Duration
}

// Host implements Dispatcher and http.RoundTripper.
type Host struct {
	version string
	network http.RoundTripper

	mu       sync.RWMutex
	install  InstallHandler
	activate ActivateHandler
	fetch    FetchHandler
	sync     SyncHandler

	state atomic.Int32

	maxElapsed      time.Duration
	initialInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool // guarded by mu
}

// New creates a host in the parsed state. network serves every request
// while the worker is not activated.
func New(network http.RoundTripper, opts Options) *Host {
	if network == nil {
		network = http.DefaultTransport
	}
	if opts.SyncMaxElapsed <= 0 {
		opts.SyncMaxElapsed = 5 * time.Minute
	}
	if opts.SyncInitialInterval <= 0 {
		opts.SyncInitialInterval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		version:         opts.Version,
		network:         network,
		maxElapsed:      opts.SyncMaxElapsed,
		initialInterval: opts.SyncInitialInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (h *Host) OnInstall(fn InstallHandler) {
	h.mu.Lock()
	h.install = fn
	h.mu.Unlock()
}

func (h *Host) OnActivate(fn ActivateHandler) {
	h.mu.Lock()
	h.activate = fn
	h.mu.Unlock()
}

func (h *Host) OnFetch(fn FetchHandler) {
	h.mu.Lock()
	h.fetch = fn
	h.mu.Unlock()
}

func (h *Host) OnSync(fn SyncHandler) {
	h.mu.Lock()
	h.sync = fn
	h.mu.Unlock()
}

// Version returns the hosted worker's version label.
func (h *Host) Version() string {
	return h.version
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	return State(h.state.Load())
}

// Start fires install and then activate. A failure in either makes the
// worker redundant; it never controls fetches.
func (h *Host) Start(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(StateParsed), int32(StateInstalling)) {
		return fmt.Errorf("start: worker is %s", h.State())
	}

	h.mu.RLock()
	install, activate := h.install, h.activate
	h.mu.RUnlock()

	log := logging.With(zap.String("version", h.version))

	if install != nil {
		if err := install(ctx); err != nil {
			h.state.Store(int32(StateRedundant))
			log.Error("Install failed", zap.Error(err))
			return fmt.Errorf("install: %w", err)
		}
	}
	h.state.Store(int32(StateInstalled))
	log.Info("Worker installed")

	h.state.Store(int32(StateActivating))
	if activate != nil {
		if err := activate(ctx); err != nil {
			h.state.Store(int32(StateRedundant))
			log.Error("Activation failed", zap.Error(err))
			return fmt.Errorf("activate: %w", err)
		}
	}
	h.state.Store(int32(StateActivated))
	log.Info("Worker activated")
	return nil
}

// RoundTrip dispatches req to the fetch handler once the worker is
// activated, and to the network before that.
func (h *Host) RoundTrip(req *http.Request) (*http.Response, error) {
	if h.State() == StateActivated {
		h.mu.RLock()
		fetch := h.fetch
		h.mu.RUnlock()
		if fetch != nil {
			return fetch(req)
		}
	}
	return h.network.RoundTrip(req)
}

// ScheduleSync runs the sync handler for tag in the background, retrying
// failures with exponential backoff until SyncMaxElapsed has passed.
// Handlers can stop the retries early with backoff.Permanent.
func (h *Host) ScheduleSync(tag string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.State() != StateActivated {
		return ErrNotActivated
	}
	handler := h.sync
	if handler == nil {
		return nil
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runSync(tag, handler)
	}()
	return nil
}

func (h *Host) runSync(tag string, handler SyncHandler) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialInterval
	b.MaxElapsedTime = h.maxElapsed

	attempt := 0
	op := func() error {
		attempt++
		return handler(h.ctx, tag)
	}
	notify := func(err error, next time.Duration) {
		logging.Warn("Background sync failed, retrying",
			zap.String("tag", tag),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, h.ctx), notify); err != nil {
		logging.Error("Background sync abandoned",
			zap.String("tag", tag),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return
	}
	logging.Debug("Background sync finished", zap.String("tag", tag), zap.Int("attempts", attempt))
}

// Close cancels in-flight syncs and waits for them to return.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	return nil
}
