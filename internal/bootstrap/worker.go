package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/paper-qa/internal/observability/metrics"
)

// RunWorker consumes ingestion events until ctx is done. The API runs it
// in-process when WORKER_EMBEDDED is set.
func (a *App) RunWorker(ctx context.Context, service string, m *metrics.WorkerMetrics) error {
	slog.Info("worker_subscribed", "subject", a.Config.NATSSubject, "service", service)
	return a.Queue.SubscribeDocumentIngested(ctx, a.ingestHandler(service, m))
}

func (a *App) ingestHandler(service string, m *metrics.WorkerMetrics) func(context.Context, string) error {
	return func(ctx context.Context, documentID string) error {
		started := time.Now()
		if m != nil {
			if doc, err := a.Repo.GetByID(ctx, documentID); err == nil {
				m.ObserveQueueLag(service, started.Sub(doc.CreatedAt))
			}
			m.StartDocument()
		}

		err := a.ProcessUC.ProcessByID(ctx, documentID)
		if m == nil {
			return err
		}
		m.FinishDocument(service, time.Since(started), err)
		if err == nil {
			if doc, getErr := a.Repo.GetByID(ctx, documentID); getErr == nil {
				m.ObserveIndexed(service, doc)
			}
		}
		return err
	}
}
