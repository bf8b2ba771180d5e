package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

type IndexDocumentOptions struct {
	EmbedBatchSize int
	EmbedParallel  int
}

// IndexDocumentUseCase owns writes to the chunk index. Ingestion of one
// document holds that document's lock for its whole duration.
type IndexDocumentUseCase struct {
	index     ports.ChunkIndex
	embedder  ports.Embedder
	batchSize int
	pool      *ants.Pool
	locks     *keyedLock
}

func NewIndexDocumentUseCase(index ports.ChunkIndex, embedder ports.Embedder, opts IndexDocumentOptions) (*IndexDocumentUseCase, error) {
	batchSize := opts.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	parallel := opts.EmbedParallel
	if parallel <= 0 {
		parallel = 2
	}
	pool, err := ants.NewPool(parallel)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	return &IndexDocumentUseCase{
		index:     index,
		embedder:  embedder,
		batchSize: batchSize,
		pool:      pool,
		locks:     newKeyedLock(),
	}, nil
}

func (uc *IndexDocumentUseCase) Close() {
	if uc.pool != nil {
		uc.pool.Release()
	}
}

func (uc *IndexDocumentUseCase) ProcessDocument(ctx context.Context, documentID string, chunks []domain.Chunk) (*domain.IndexedDocument, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "process document", errors.New("document id is required"))
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "process document", errors.New("at least one chunk is required"))
	}

	prepared, err := prepareChunks(documentID, chunks)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "process document", err)
	}

	unlock := uc.locks.Lock(documentID)
	defer unlock()

	if err := uc.embedMissing(ctx, prepared); err != nil {
		return nil, err
	}

	existing, err := uc.index.DocumentChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("read current document chunks: %w", err)
	}
	if err := uc.index.ReplaceDocument(ctx, documentID, prepared); err != nil {
		return nil, fmt.Errorf("replace document chunks: %w", err)
	}

	result := &domain.IndexedDocument{
		DocumentID: documentID,
		Chunks:     len(prepared),
		Pages:      countPages(prepared),
		Replaced:   len(existing) > 0,
	}
	slog.Info("document_indexed",
		"document_id", documentID,
		"chunks", result.Chunks,
		"pages", result.Pages,
		"replaced", result.Replaced,
	)
	return result, nil
}

func (uc *IndexDocumentUseCase) RemoveDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "remove document", errors.New("document id is required"))
	}

	unlock := uc.locks.Lock(documentID)
	defer unlock()

	existing, err := uc.index.DocumentChunks(ctx, documentID)
	if err != nil {
		return fmt.Errorf("read current document chunks: %w", err)
	}
	if len(existing) == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "remove document", fmt.Errorf("document %q has no indexed chunks", documentID))
	}
	if err := uc.index.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}
	slog.Info("document_removed", "document_id", documentID, "chunks", len(existing))
	return nil
}

// prepareChunks returns an ordered copy linked prev/next. When every chunk
// carries order 0 the input position is the order.
func prepareChunks(documentID string, chunks []domain.Chunk) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, len(chunks))
	positional := true
	for _, c := range chunks {
		if c.Order != 0 {
			positional = false
			break
		}
	}

	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			return nil, fmt.Errorf("chunk %d has empty text", i)
		}
		if c.DocumentID != "" && c.DocumentID != documentID {
			return nil, fmt.Errorf("chunk %d belongs to document %q", i, c.DocumentID)
		}
		c.DocumentID = documentID
		if positional {
			c.Order = i
		}
		if c.Section == "" {
			c.Section = domain.SectionBody
		}
		if c.Page <= 0 {
			c.Page = 1
		}
		if len(c.Embedding) > 0 {
			c.Embedding = append([]float32(nil), c.Embedding...)
		}
		out[i] = c
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })

	seen := make(map[string]struct{}, len(out))
	for i := range out {
		if i > 0 && out[i].Order == out[i-1].Order {
			return nil, fmt.Errorf("duplicate chunk order %d", out[i].Order)
		}
		if out[i].ID == "" {
			out[i].ID = domain.ChunkID(documentID, out[i].Order)
		}
		if _, dup := seen[out[i].ID]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q", out[i].ID)
		}
		seen[out[i].ID] = struct{}{}
	}
	for i := range out {
		out[i].PrevID, out[i].NextID = "", ""
		if i > 0 {
			out[i].PrevID = out[i-1].ID
		}
		if i+1 < len(out) {
			out[i].NextID = out[i+1].ID
		}
	}
	return out, nil
}

func (uc *IndexDocumentUseCase) embedMissing(ctx context.Context, chunks []domain.Chunk) error {
	missing := make([]int, 0, len(chunks))
	for i := range chunks {
		if len(chunks[i].Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for start := 0; start < len(missing); start += uc.batchSize {
		batch := missing[start:min(start+uc.batchSize, len(missing))]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = chunks[idx].Text
			}
			vectors, err := uc.embedder.Embed(ctx, texts)
			if err != nil {
				fail(fmt.Errorf("embed chunks: %w", err))
				return
			}
			if len(vectors) != len(batch) {
				fail(domain.WrapError(domain.ErrInvalidInput, "embed chunks",
					fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(batch))))
				return
			}
			for i, idx := range batch {
				chunks[idx].Embedding = vectors[i]
			}
		}
		if err := uc.pool.Submit(task); err != nil {
			wg.Done()
			fail(fmt.Errorf("submit embedding batch: %w", err))
			break
		}
	}
	wg.Wait()
	return firstErr
}

func countPages(chunks []domain.Chunk) int {
	pages := make(map[int]struct{}, len(chunks))
	for _, c := range chunks {
		pages[c.Page] = struct{}{}
	}
	return len(pages)
}
