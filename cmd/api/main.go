package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/paper-qa/internal/adapters/http"
	"github.com/kirillkom/paper-qa/internal/bootstrap"
	"github.com/kirillkom/paper-qa/internal/config"
	"github.com/kirillkom/paper-qa/internal/observability/logging"
	"github.com/kirillkom/paper-qa/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	if !cfg.WorkerEmbedded && config.IsInProcessIndex(cfg.IndexBackend) {
		slog.Warn("uploads_not_indexed", "reason", "in-process index without embedded worker", "index_backend", cfg.IndexBackend)
	}
	if cfg.WorkerEmbedded {
		go func() {
			if err := app.RunWorker(ctx, "api", metrics.NewWorkerMetrics("api")); err != nil {
				slog.Error("embedded_worker_stopped", "error", err)
			}
		}()
	}

	router := httpadapter.NewRouter(cfg, httpadapter.Deps{
		Ingestor:   app.IngestUC,
		Documents:  app.Repo,
		Processor:  app.Indexer,
		Summarizer: app.Summarizer,
		Answerer:   app.Answerer,
		Cache:      app.Cache,
		Metrics:    metrics.NewHTTPServerMetrics("api"),
	}).Handler()
	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Answers with web research and crawling can run for minutes; SSE
		// streams hold the connection for the whole request.
		WriteTimeout: cfg.APIRequestTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "addr", server.Addr, "index_backend", cfg.IndexBackend, "llm_provider", cfg.LLMProvider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_error", "error", err)
	}
}
