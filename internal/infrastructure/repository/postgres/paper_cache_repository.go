package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// PaperCacheRepository is the shared-database variant of the citation-graph
// cache, used when several api replicas must see the same records.
type PaperCacheRepository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewPaperCacheRepository(db *sql.DB, ttl time.Duration) *PaperCacheRepository {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &PaperCacheRepository{db: db, ttl: ttl, now: time.Now}
}

func (r *PaperCacheRepository) Get(ctx context.Context, key domain.PaperKey) (*domain.Paper, error) {
	var (
		payload   []byte
		fetchedAt time.Time
	)
	err := r.db.QueryRowContext(ctx, `
SELECT payload, fetched_at
FROM paper_cache
WHERE provider = $1 AND paper_id = $2
`, key.Provider, key.ID).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaperNotFound
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrCacheUnreadable, "postgres cache get", err)
	}
	if r.now().Sub(fetchedAt) > r.ttl {
		return nil, domain.ErrPaperNotFound
	}

	var paper domain.Paper
	if err := json.Unmarshal(payload, &paper); err != nil {
		return nil, domain.WrapError(domain.ErrCacheUnreadable, "postgres cache decode", err)
	}
	return &paper, nil
}

func (r *PaperCacheRepository) Put(ctx context.Context, paper domain.Paper) error {
	if paper.FetchedAt.IsZero() {
		paper.FetchedAt = r.now().UTC()
	}
	payload, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO paper_cache (provider, paper_id, payload, fetched_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (provider, paper_id) DO UPDATE
SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at
`, paper.Provider, paper.ID, payload, paper.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert paper: %w", err)
	}
	return nil
}

func (r *PaperCacheRepository) Stats(ctx context.Context) (domain.CacheStats, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT provider, COUNT(*), COUNT(*) FILTER (WHERE fetched_at < $1)
FROM paper_cache
GROUP BY provider
ORDER BY provider
`, r.now().Add(-r.ttl))
	if err != nil {
		return domain.CacheStats{}, fmt.Errorf("query cache stats: %w", err)
	}
	defer rows.Close()

	stats := domain.CacheStats{ByProvider: map[string]int{}}
	for rows.Next() {
		var provider string
		var total, expired int
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

func (r *PaperCacheRepository) PurgeExpired(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM paper_cache WHERE fetched_at < $1`, r.now().Add(-r.ttl))
	if err != nil {
		return 0, fmt.Errorf("purge expired papers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return int(n), nil
}
