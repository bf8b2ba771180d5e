package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/paper-qa/internal/config"
	"github.com/kirillkom/paper-qa/internal/core/ports"
	"github.com/kirillkom/paper-qa/internal/core/usecase"
	"github.com/kirillkom/paper-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/paper-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/paper-qa/internal/infrastructure/resilience"
)

// App is the service wiring: the Engine plus the document repository and
// the ingestion queue shared by the API and the worker.
type App struct {
	*Engine

	Queue     ports.MessageQueue
	Repo      ports.DocumentRepository
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentPipeline

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	engine, err := NewEngine(ctx, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		HandlerTimeout:     10 * time.Minute,
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	if err != nil {
		engine.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ingestUC := usecase.NewIngestDocumentUseCase(repo, engine.Storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(repo, engine.Extractor, engine.Chunker, engine.Indexer)

	return &App{
		Engine: engine,
		Queue:  queue,
		Repo:   repo,

		IngestUC:  ingestUC,
		ProcessUC: processUC,

		closeFn: func() {
			queue.Close()
			engine.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
