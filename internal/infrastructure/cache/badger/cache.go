// Package badger stores citation-graph records in an embedded BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

const keyPrefix = "paper/"

type slogAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Errorf(msg string, items ...any)   { a.logger.Error(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Warningf(msg string, items ...any) { a.logger.Warn(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Infof(msg string, items ...any)    { a.logger.Debug(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Debugf(msg string, items ...any)   { a.logger.Debug(fmt.Sprintf(msg, items...)) }

type Cache struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens the cache at dir; an empty dir opens an in-memory store.
func Open(dir string, ttl time.Duration) (*Cache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &slogAdapter{logger: slog.Default().With("component", "badger-cache")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func recordKey(key domain.PaperKey) []byte {
	return []byte(keyPrefix + key.Provider + "/" + key.ID)
}

func (c *Cache) Get(_ context.Context, key domain.PaperKey) (*domain.Paper, error) {
	var paper domain.Paper
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(recordKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &paper)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrPaperNotFound
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrCacheUnreadable, "badger cache get", err)
	}
	if c.stale(paper.FetchedAt) {
		return nil, domain.ErrPaperNotFound
	}
	return &paper, nil
}

// Put writes one key per transaction; concurrent writers of the same key
// resolve to the last commit.
func (c *Cache) Put(_ context.Context, paper domain.Paper) error {
	if paper.FetchedAt.IsZero() {
		paper.FetchedAt = c.now().UTC()
	}
	payload, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("encode paper: %w", err)
	}
	if err := c.db.Update(func(tx *badger.Txn) error {
		return tx.Set(recordKey(paper.Key()), payload)
	}); err != nil {
		return fmt.Errorf("write paper: %w", err)
	}
	return nil
}

func (c *Cache) Stats(ctx context.Context) (domain.CacheStats, error) {
	stats := domain.CacheStats{ByProvider: map[string]int{}}
	err := c.scan(ctx, func(_ []byte, paper domain.Paper) error {
		stats.Total++
		stats.ByProvider[paper.Provider]++
		if c.stale(paper.FetchedAt) {
			stats.Expired++
		}
		return nil
	})
	if err != nil {
		return domain.CacheStats{}, err
	}
	stats.Active = stats.Total - stats.Expired
	return stats, nil
}

func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	var stale [][]byte
	if err := c.scan(ctx, func(key []byte, paper domain.Paper) error {
		if c.stale(paper.FetchedAt) {
			stale = append(stale, key)
		}
		return nil
	}); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete expired paper: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush expired deletes: %w", err)
	}
	return len(stale), nil
}

// scan visits every record. Undecodable records are logged and skipped.
func (c *Cache) scan(ctx context.Context, visit func(key []byte, paper domain.Paper) error) error {
	err := c.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var paper domain.Paper
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &paper) }); err != nil {
				slog.Warn("cache_record_unreadable", "key", string(item.Key()), "error", err)
				continue
			}
			if err := visit(item.KeyCopy(nil), paper); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan badger cache: %w", err)
	}
	return nil
}

func (c *Cache) stale(fetchedAt time.Time) bool {
	return c.now().Sub(fetchedAt) > c.ttl
}
