package offline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wudi/assetcache/internal/logging"
	"github.com/wudi/assetcache/internal/tracing"
)

// SyncTask is deferred work run for a background sync tag.
type SyncTask func(ctx context.Context) error

// HandleSync registers task for tag, replacing any previous one.
func (w *Worker) HandleSync(tag string, task SyncTask) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks[tag] = task
}

// SyncTags lists the tags with a registered task.
func (w *Worker) SyncTags() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	tags := make([]string, 0, len(w.tasks))
	for tag := range w.tasks {
		tags = append(tags, tag)
	}
	return tags
}

// Sync runs the task registered for tag. Unknown tags are a no-op.
func (w *Worker) Sync(ctx context.Context, tag string) (err error) {
	w.mu.RLock()
	task, ok := w.tasks[tag]
	w.mu.RUnlock()
	if !ok {
		logging.Debug("Ignoring unknown sync tag", zap.String("tag", tag))
		return nil
	}

	ctx, span := w.tracer.StartSpan(ctx, "offline.sync", attribute.String("sync.tag", tag))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
		w.metrics.RecordSync(tag, err)
	}()
	return task(ctx)
}

func logSyncTask(tag string) SyncTask {
	return func(ctx context.Context) error {
		logging.Info("Background sync completed", zap.String("tag", tag))
		return nil
	}
}
