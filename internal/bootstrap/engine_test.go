package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/paper-qa/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		StoragePath:  filepath.Join(dir, "storage"),
		CachePath:    filepath.Join(dir, "cache"),
		CacheBackend: "sqlite",
		IndexBackend: "memory",
		LLMProvider:  "ollama",
		OllamaURL:    "http://127.0.0.1:1",
		CrawlEnabled: true,
		HyDEEnabled:  true,
	}
}

func TestNewEngineWiresDefaults(t *testing.T) {
	engine, err := NewEngine(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer engine.Close()

	if engine.Answerer == nil || engine.Summarizer == nil || engine.Indexer == nil {
		t.Fatalf("expected use cases to be wired: %+v", engine)
	}
	if engine.Cache == nil {
		t.Fatalf("expected sqlite paper cache")
	}
	stats, err := engine.Cache.Stats(context.Background())
	if err != nil || stats.Total != 0 {
		t.Fatalf("expected empty cache, got %+v err=%v", stats, err)
	}
}

func TestNewEngineWithoutCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = "none"
	engine, err := NewEngine(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer engine.Close()
	if engine.Cache != nil {
		t.Fatalf("expected no paper cache")
	}
}

func TestNewEngineRejectsUnknownBackends(t *testing.T) {
	cases := map[string]func(*config.Config){
		"INDEX_BACKEND": func(c *config.Config) { c.IndexBackend = "faiss" },
		"CACHE_BACKEND": func(c *config.Config) { c.CacheBackend = "redis" },
		"LLM_PROVIDER":  func(c *config.Config) { c.LLMProvider = "bard" },
	}
	for key, mutate := range cases {
		cfg := testConfig(t)
		mutate(&cfg)
		_, err := NewEngine(context.Background(), cfg, nil)
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s error, got %v", key, err)
		}
	}
}

func TestIndexFileRejectsMissingFile(t *testing.T) {
	engine, err := NewEngine(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer engine.Close()

	if _, err := engine.IndexFile(context.Background(), filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func stubPostgres(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	prev := openPostgres
	openPostgres = func(string) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() {
		openPostgres = prev
		_ = db.Close()
	})
	return mock
}

func TestNewEngineCreatesPostgresCacheSchema(t *testing.T) {
	mock := stubPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS paper_cache").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	cfg := testConfig(t)
	cfg.CacheBackend = "postgres"
	engine, err := NewEngine(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer engine.Close()

	if engine.Cache == nil {
		t.Fatalf("expected postgres paper cache")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewEngineFailsWhenPostgresCacheSchemaFails(t *testing.T) {
	mock := stubPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	cfg := testConfig(t)
	cfg.CacheBackend = "postgres"
	_, err := NewEngine(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "paper cache schema") {
		t.Fatalf("expected schema error, got %v", err)
	}
}
