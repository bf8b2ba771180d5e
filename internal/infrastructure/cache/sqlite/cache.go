// Package sqlite is the default durable citation-graph cache: one row per
// (provider, paper id), upserted on every successful fetch.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS paper_cache (
	provider   TEXT    NOT NULL,
	paper_id   TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	fetched_at INTEGER NOT NULL,
	PRIMARY KEY (provider, paper_id)
)`

type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open creates the database file (and its directory) when missing.
func Open(path string, ttl time.Duration) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	c := NewWithDB(db, ttl)
	if err := c.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func NewWithDB(db *sql.DB, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}
}

func (c *Cache) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create paper_cache table: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Get(ctx context.Context, key domain.PaperKey) (*domain.Paper, error) {
	var (
		payload   string
		fetchedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM paper_cache WHERE provider = ? AND paper_id = ?`,
		key.Provider, key.ID,
	).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaperNotFound
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrCacheUnreadable, "sqlite cache get", err)
	}
	if c.now().Sub(time.UnixMilli(fetchedAt)) > c.ttl {
		return nil, domain.ErrPaperNotFound
	}

	var paper domain.Paper
	if err := json.Unmarshal([]byte(payload), &paper); err != nil {
		return nil, domain.WrapError(domain.ErrCacheUnreadable, "sqlite cache decode", err)
	}
	return &paper, nil
}

func (c *Cache) Put(ctx context.Context, paper domain.Paper) error {
	if paper.FetchedAt.IsZero() {
		paper.FetchedAt = c.now().UTC()
	}
	payload, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("encode paper: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO paper_cache (provider, paper_id, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (provider, paper_id) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at`,
		paper.Provider, paper.ID, string(payload), paper.FetchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert paper: %w", err)
	}
	return nil
}

func (c *Cache) Stats(ctx context.Context) (domain.CacheStats, error) {
	cutoff := c.now().Add(-c.ttl).UnixMilli()
	rows, err := c.db.QueryContext(ctx, `
		SELECT provider,
		       COUNT(*),
		       SUM(CASE WHEN fetched_at < ? THEN 1 ELSE 0 END)
		FROM paper_cache
		GROUP BY provider
		ORDER BY provider`, cutoff)
	if err != nil {
		return domain.CacheStats{}, fmt.Errorf("query cache stats: %w", err)
	}
	defer rows.Close()

	stats := domain.CacheStats{ByProvider: map[string]int{}}
	for rows.Next() {
		var (
			provider       string
			total, expired int
		)
		if err := rows.Scan(&provider, &total, &expired); err != nil {
			return domain.CacheStats{}, fmt.Errorf("scan cache stats: %w", err)
		}
		stats.ByProvider[provider] = total
		stats.Total += total
		stats.Expired += expired
	}
	if err := rows.Err(); err != nil {
		return domain.CacheStats{}, fmt.Errorf("iterate cache stats: %w", err)
	}
	stats.Active = stats.Total - stats.Expired
	return stats, nil
}

func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM paper_cache WHERE fetched_at < ?`, c.now().Add(-c.ttl).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired papers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return int(n), nil
}
