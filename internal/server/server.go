// Package server wires the offline worker, its host and the origin proxy
// into a running process with an admin API and version upgrades.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/assetcache/internal/cache"
	"github.com/wudi/assetcache/internal/config"
	"github.com/wudi/assetcache/internal/host"
	"github.com/wudi/assetcache/internal/logging"
	"github.com/wudi/assetcache/internal/metrics"
	"github.com/wudi/assetcache/internal/middleware"
	"github.com/wudi/assetcache/internal/offline"
	"github.com/wudi/assetcache/internal/proxy"
	"github.com/wudi/assetcache/internal/tracing"
)

const maxReloadHistory = 20

// ReloadResult describes one version upgrade attempt.
type ReloadResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Error     string    `json:"error,omitempty"`
}

// version is one worker generation and everything built for it.
type version struct {
	config    *config.Config
	worker    *offline.Worker
	host      *host.Host
	transport *http.Transport
	handler   http.Handler
	startedAt time.Time
}

// Server runs the proxy listener and the admin API.
type Server struct {
	config     *config.Config
	configPath string
	storage    cache.Storage
	metrics    *metrics.Collector
	tracer     *tracing.Tracer

	active     atomic.Pointer[version]
	upgradeMu  sync.Mutex
	history    []ReloadResult
	historyMu  sync.RWMutex
	startTime  time.Time
	httpServer *http.Server
	admin      *http.Server
	watcher    *config.Watcher
}

// NewServer builds a server from cfg. configPath is reloaded on SIGHUP and
// watched for changes; it may be empty.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	ctx := context.Background()

	storage, err := NewStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	s := &Server{
		config:     cfg,
		configPath: configPath,
		storage:    storage,
		metrics:    metrics.NewCollector(),
		tracer:     tracer,
		startTime:  time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Listener.Address,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.Listener.ReadTimeout,
		WriteTimeout:      cfg.Listener.WriteTimeout,
		IdleTimeout:       cfg.Listener.IdleTimeout,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.Listener.MaxHeaderBytes,
	}

	if cfg.Admin.Enabled {
		s.admin = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.Admin.Port),
			Handler: s.AdminHandler(cfg.Admin),
		}
	}

	return s, nil
}

// Handler returns the proxy handler wrapped in the middleware chain. Each
// request is served by the version active when it arrives.
func (s *Server) Handler() http.Handler {
	return middleware.NewChain(
		middleware.Recovery(),
		middleware.RequestID(),
		s.tracer.Middleware(),
		middleware.AccessLog(),
	).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := s.active.Load()
		if v == nil {
			s.writeUnavailable(w, r)
			return
		}
		v.handler.ServeHTTP(w, r)
	}))
}

// Upgrade builds a worker and host from cfg and starts them. On success the
// new version replaces the active one; its activation prunes the previous
// version's generations. On failure the previous version keeps serving. With
// no previous version the failed host is kept so requests still reach the
// origin.
func (s *Server) Upgrade(ctx context.Context, cfg *config.Config) ReloadResult {
	s.upgradeMu.Lock()
	defer s.upgradeMu.Unlock()

	result := ReloadResult{
		Timestamp: time.Now(),
		Version:   cfg.Cache.Version,
	}

	prev := s.active.Load()
	if prev != nil && prev.config.Storage != cfg.Storage {
		logging.Warn("Storage settings changed; restart to apply them")
	}

	next, err := s.buildVersion(cfg)
	if err != nil {
		result.Error = err.Error()
		s.appendHistory(result)
		return result
	}

	if err := next.host.Start(ctx); err != nil {
		result.Error = err.Error()
		s.appendHistory(result)
		if prev == nil || prev.host.State() != host.StateActivated {
			s.active.Store(next)
			if prev != nil {
				s.retire(prev)
			}
		} else {
			s.retire(next)
		}
		logging.Error("Version upgrade failed",
			zap.String("version", cfg.Cache.Version),
			zap.Error(err),
		)
		return result
	}

	s.active.Store(next)
	if prev != nil {
		s.retire(prev)
		// Misses the previous worker stored between activation and
		// retirement can recreate a pruned generation.
		if deleted, err := next.worker.DeleteStale(ctx); err != nil {
			logging.Warn("Post-retire cleanup failed", zap.Error(err))
		} else if len(deleted) > 0 {
			logging.Info("Removed generations written during upgrade", zap.Strings("generations", deleted))
		}
	}

	result.Success = true
	s.appendHistory(result)
	logging.Info("Version activated",
		zap.String("version", cfg.Cache.Version),
		zap.String("static", next.worker.StaticName()),
		zap.String("dynamic", next.worker.DynamicName()),
	)
	return result
}

func (s *Server) buildVersion(cfg *config.Config) (*version, error) {
	opts, err := offline.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	transport, err := proxy.NewTransport(cfg.Origin.Transport)
	if err != nil {
		return nil, fmt.Errorf("origin transport: %w", err)
	}

	worker, err := offline.New(opts, s.storage, transport,
		offline.WithMetrics(s.metrics),
		offline.WithTracer(s.tracer),
	)
	if err != nil {
		return nil, err
	}

	h := host.New(transport, host.Options{
		Version:        cfg.Cache.Version,
		SyncMaxElapsed: cfg.Sync.MaxElapsed,
	})
	worker.Register(h)

	return &version{
		config:    cfg,
		worker:    worker,
		host:      h,
		transport: transport,
		handler:   proxy.New(opts.Origin, h, s.tracer),
		startedAt: time.Now(),
	}, nil
}

func (s *Server) retire(v *version) {
	v.worker.Retire()
	v.host.Close()
	v.transport.CloseIdleConnections()
}

func (s *Server) appendHistory(r ReloadResult) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append(s.history, r)
	if len(s.history) > maxReloadHistory {
		s.history = s.history[len(s.history)-maxReloadHistory:]
	}
}

// ReloadConfig loads the config file and upgrades to it.
func (s *Server) ReloadConfig(ctx context.Context) ReloadResult {
	if s.configPath == "" {
		return ReloadResult{Timestamp: time.Now(), Error: "no config path configured"}
	}
	cfg, err := config.NewLoader().Load(s.configPath)
	if err != nil {
		result := ReloadResult{
			Timestamp: time.Now(),
			Error:     fmt.Sprintf("config load failed: %v", err),
		}
		s.appendHistory(result)
		return result
	}
	return s.Upgrade(ctx, cfg)
}

// Start activates the initial version and starts the listeners.
func (s *Server) Start() error {
	s.Upgrade(context.Background(), s.config)

	errCh := make(chan error, 2)

	go func() {
		logging.Info("Starting proxy listener", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listener error: %w", err)
		}
	}()

	if s.admin != nil {
		go func() {
			logging.Info("Starting admin server", zap.String("address", s.admin.Addr))
			if err := s.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("admin server error: %w", err)
			}
		}()
	}

	if s.configPath != "" {
		w, err := config.NewWatcher(s.configPath)
		if err != nil {
			logging.Warn("Config watcher disabled", zap.Error(err))
		} else {
			w.OnUpgrade(func(cfg *config.Config) {
				s.Upgrade(context.Background(), cfg)
			})
			if err := w.Start(); err != nil {
				w.Stop()
				logging.Warn("Config watcher disabled", zap.Error(err))
			} else {
				s.watcher = w
			}
		}
	}

	// Wait for error or continue
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		// Give servers a moment to start
	}

	return nil
}

// Run starts the server and handles graceful shutdown.
// SIGHUP reloads the config file; SIGINT/SIGTERM shut down.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range quit {
		switch sig {
		case syscall.SIGHUP:
			result := s.ReloadConfig(context.Background())
			if result.Success {
				logging.Info("Config reloaded successfully", zap.String("version", result.Version))
			} else {
				logging.Error("Config reload failed", zap.String("error", result.Error))
			}
		default:
			logging.Info("Shutting down gracefully...")
			return s.Shutdown(s.config.Shutdown.Timeout)
		}
	}

	return nil
}

// Shutdown stops the listeners, the active host and the storage.
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.watcher != nil {
		s.watcher.Stop()
	}

	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			logging.Error("Admin server shutdown error", zap.Error(err))
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Error("Listener shutdown error", zap.Error(err))
	}

	if v := s.active.Load(); v != nil {
		s.retire(v)
	}
	if err := s.tracer.Close(); err != nil {
		logging.Error("Tracer shutdown error", zap.Error(err))
	}
	if err := s.storage.Close(); err != nil {
		logging.Error("Storage close error", zap.Error(err))
		return err
	}

	logging.Info("Server shutdown complete")
	return nil
}
