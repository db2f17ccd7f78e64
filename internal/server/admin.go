package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sort"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/wudi/assetcache/internal/cache"
	"github.com/wudi/assetcache/internal/config"
	"github.com/wudi/assetcache/internal/errors"
	"github.com/wudi/assetcache/internal/host"
	"github.com/wudi/assetcache/internal/middleware"
)

// AdminHandler returns the admin API.
func (s *Server) AdminHandler(cfg config.AdminConfig) http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrNotFound.WriteJSON(w)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrMethodNotAllowed.WriteJSON(w)
	})

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/config", s.handleConfig)
	router.GET("/generations", s.handleGenerations)
	router.GET("/generations/:name", s.handleGeneration)
	router.DELETE("/generations/:name", s.handleDeleteGeneration)
	router.POST("/sync/:tag", s.handleSync)
	router.POST("/reload", s.handleReload)

	if cfg.Metrics.Enabled {
		metricsPath := "/metrics"
		if cfg.Metrics.Path != "" {
			metricsPath = cfg.Metrics.Path
		}
		router.Handler(http.MethodGet, metricsPath, s.metrics.Handler())
	}

	return middleware.NewChain(middleware.Recovery()).Then(router)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeUnavailable(w http.ResponseWriter, r *http.Request) {
	httpErr := errors.ErrServiceUnavailable.WithDetails("no active version")
	if reqID := middleware.RequestIDFromContext(r.Context()); reqID != "" {
		httpErr = httpErr.WithRequestID(reqID)
	}
	httpErr.WriteJSON(w)
}

// handleHealth reports storage reachability and the active host state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	checks := make(map[string]interface{})
	healthy := true

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	storageStatus := map[string]interface{}{"status": "ok"}
	if _, err := s.storage.Names(ctx); err != nil {
		storageStatus["status"] = "error"
		storageStatus["error"] = err.Error()
		healthy = false
	}
	checks["storage"] = storageStatus

	state := "none"
	if v := s.active.Load(); v != nil {
		state = v.host.State().String()
	}
	checks["worker"] = map[string]interface{}{"state": state}
	if state != host.StateActivated.String() {
		healthy = false
	}

	if s.tracer.IsEnabled() {
		checks["tracing"] = map[string]interface{}{"status": "ok"}
	}

	status := http.StatusOK
	statusStr := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusStr = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    statusStr,
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
		"checks":    checks,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.historyMu.RLock()
	history := make([]ReloadResult, len(s.history))
	copy(history, s.history)
	s.historyMu.RUnlock()

	out := map[string]interface{}{
		"uptime":  time.Since(s.startTime).String(),
		"reloads": history,
	}
	if v := s.active.Load(); v != nil {
		tags := v.worker.SyncTags()
		sort.Strings(tags)
		out["version"] = v.host.Version()
		out["state"] = v.host.State().String()
		out["origin"] = v.config.Origin.URL
		out["static"] = v.worker.StaticName()
		out["dynamic"] = v.worker.DynamicName()
		out["precache"] = v.worker.Manifest()
		out["sync_tags"] = tags
		out["started_at"] = v.startedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleConfig returns the active version's configuration with secrets masked.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	v := s.active.Load()
	if v == nil {
		s.writeUnavailable(w, r)
		return
	}
	redacted, err := config.RedactConfig(v.config)
	if err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, redacted)
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats, err := cache.Stats(r.Context(), s.storage)
	if err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"generations": stats})
}

// generationExists checks Names first so lookups never create a generation.
func (s *Server) generationExists(ctx context.Context, name string) (bool, error) {
	names, err := s.storage.Names(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	ctx := r.Context()

	exists, err := s.generationExists(ctx, name)
	if err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	if !exists {
		errors.ErrNotFound.WithDetails("generation " + name + " not found").WriteJSON(w)
		return
	}

	gen, err := s.storage.Open(ctx, name)
	if err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	keys, err := gen.Keys(ctx)
	if err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"entries": len(keys),
		"keys":    keys,
	})
}

func (s *Server) handleDeleteGeneration(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	existed, err := s.storage.Delete(r.Context(), name)
	if err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	if !existed {
		errors.ErrNotFound.WithDetails("generation " + name + " not found").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": name})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tag := ps.ByName("tag")
	v := s.active.Load()
	if v == nil {
		errors.ErrServiceUnavailable.WithDetails("no active version").WriteJSON(w)
		return
	}
	if err := v.host.ScheduleSync(tag); err != nil {
		if stderrors.Is(err, host.ErrNotActivated) || stderrors.Is(err, host.ErrClosed) {
			errors.ErrServiceUnavailable.WithDetails(err.Error()).WriteJSON(w)
			return
		}
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"scheduled": tag})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	result := s.ReloadConfig(context.WithoutCancel(r.Context()))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}
