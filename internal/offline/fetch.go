package offline

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wudi/assetcache/internal/cache"
	"github.com/wudi/assetcache/internal/logging"
	"github.com/wudi/assetcache/internal/metrics"
	"github.com/wudi/assetcache/internal/tracing"
)

// Fetch serves req cache-first with network fallback.
//
// Requests with a non-retrieval method or an excluded scheme go to the
// network untouched and the store is never consulted. Otherwise a stored
// entry from any generation is returned without a network call. On a miss
// the network answers; a 200 response is stored into the dynamic generation
// and an independent copy returned. Other statuses and transport errors
// reach the caller as they are.
func (w *Worker) Fetch(req *http.Request) (resp *http.Response, err error) {
	start := time.Now()
	outcome := metrics.OutcomeMiss

	ctx, span := w.tracer.StartSpan(req.Context(), "offline.fetch",
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
	)
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeError
		}
		span.SetAttributes(attribute.String("cache.outcome", outcome))
		tracing.RecordError(span, err)
		span.End()
		w.metrics.RecordFetch(outcome, time.Since(start))
	}()
	if w.tracer.IsEnabled() {
		req = req.WithContext(ctx)
	}

	if !w.intercepts(req) {
		outcome = metrics.OutcomeBypass
		resp, err = w.network.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Header.Set(CacheHeader, "BYPASS")
		return resp, nil
	}

	key := cache.RequestKey(req)
	entry, ok, err := w.storage.Match(ctx, key)
	if err != nil {
		logging.Warn("Cache lookup failed, falling back to network",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	if ok {
		outcome = metrics.OutcomeHit
		resp = entry.Response(req)
		resp.Header.Set(CacheHeader, "HIT")
		return resp, nil
	}

	resp, err = w.network.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		snapshot, err := cache.Snapshot(resp)
		if err != nil {
			return nil, err
		}
		w.store(req, key, snapshot)
	}
	resp.Header.Set(CacheHeader, "MISS")
	return resp, nil
}

func (w *Worker) intercepts(req *http.Request) bool {
	if !w.methods[strings.ToUpper(req.Method)] {
		return false
	}
	return !w.excluded[strings.ToLower(req.URL.Scheme)]
}

// store writes into the dynamic generation. A failed write does not affect
// the response. A retired worker writes nothing, so a miss that completes
// after a newer version pruned the dynamic generation cannot recreate it.
func (w *Worker) store(req *http.Request, key string, entry *cache.Entry) {
	w.retireMu.RLock()
	defer w.retireMu.RUnlock()
	if w.retired {
		logging.Debug("Skipping store on retired worker",
			zap.String("generation", w.dynamic),
			zap.String("key", key),
		)
		return
	}

	ctx := req.Context()
	gen, err := w.storage.Open(ctx, w.dynamic)
	if err == nil {
		err = gen.Put(ctx, key, entry)
	}
	w.metrics.RecordStore(err)
	if err != nil {
		logging.Warn("Failed to store response",
			zap.String("generation", w.dynamic),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
