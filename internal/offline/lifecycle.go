package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/assetcache/internal/cache"
	"github.com/wudi/assetcache/internal/logging"
	"github.com/wudi/assetcache/internal/tracing"
)

// Install precaches the manifest into the static generation. Every asset is
// fetched from the network first; only when all of them answered 2xx is the
// generation replaced in one batch. Any failure leaves it untouched and
// returns an error wrapping ErrPrecacheFailed.
func (w *Worker) Install(ctx context.Context) (err error) {
	ctx, span := w.tracer.StartSpan(ctx, "offline.install",
		attribute.String("cache.generation", w.static),
		attribute.Int("cache.precache_assets", len(w.manifest)),
	)
	defer func() {
		tracing.RecordError(span, err)
		span.End()
		w.metrics.RecordInstall(len(w.manifest), err)
	}()

	gen, err := w.storage.Open(ctx, w.static)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrPrecacheFailed, w.static, err)
	}

	records := make([]cache.Record, len(w.manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, u := range w.manifest {
		i, u := i, u
		g.Go(func() error {
			entry, err := w.precache(gctx, u)
			if err != nil {
				return err
			}
			records[i] = cache.Record{Key: cache.Key(http.MethodGet, u), Entry: entry}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := gen.ReplaceAll(ctx, records); err != nil {
		return fmt.Errorf("%w: store %s: %w", ErrPrecacheFailed, w.static, err)
	}

	logging.Info("Precached static assets",
		zap.String("generation", w.static),
		zap.Int("assets", len(records)),
	)
	return nil
}

func (w *Worker) precache(ctx context.Context, u *url.URL) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPrecacheFailed, u, err)
	}
	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPrecacheFailed, u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: status %d", ErrPrecacheFailed, u, resp.StatusCode)
	}
	entry, err := cache.Snapshot(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", ErrPrecacheFailed, u, err)
	}
	return entry, nil
}

// Activate deletes every generation that is neither the static nor the
// dynamic generation nor retained, and returns the deleted names.
func (w *Worker) Activate(ctx context.Context) (deleted []string, err error) {
	ctx, span := w.tracer.StartSpan(ctx, "offline.activate")
	defer func() {
		span.SetAttributes(attribute.StringSlice("cache.deleted", deleted))
		tracing.RecordError(span, err)
		span.End()
		if err == nil {
			w.metrics.RecordActivation(len(deleted))
		}
	}()

	return w.DeleteStale(ctx)
}

// DeleteStale deletes every generation this worker does not keep and
// returns the deleted names. Every deletion is attempted; failures are
// joined.
func (w *Worker) DeleteStale(ctx context.Context) (deleted []string, err error) {
	names, err := w.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	var errs []error
	for _, name := range names {
		if w.keep[name] {
			continue
		}
		existed, err := w.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete generation %s: %w", name, err))
			continue
		}
		if existed {
			deleted = append(deleted, name)
			logging.Info("Deleted stale cache generation", zap.String("generation", name))
		}
	}
	return deleted, errors.Join(errs...)
}
