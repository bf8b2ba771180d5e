package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "text-sparse"
	scrollPageSize   = 256
)

// Client is a ChunkIndex backed by a Qdrant collection with a named dense
// vector for semantic search and a hashed sparse vector for lexical search.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type statusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("qdrant %s status: %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("qdrant %s status: %d", e.Op, e.StatusCode)
}

type point struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload chunkPayload   `json:"payload"`
}

type chunkPayload struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"doc_id"`
	Order      int    `json:"order"`
	Page       int    `json:"page"`
	Section    string `json:"section"`
	Text       string `json:"text"`
	PrevID     string `json:"prev_id,omitempty"`
	NextID     string `json:"next_id,omitempty"`
}

func (p chunkPayload) chunk() domain.Chunk {
	return domain.Chunk{
		ID:         p.ChunkID,
		DocumentID: p.DocumentID,
		Order:      p.Order,
		Page:       p.Page,
		Section:    domain.ParseSectionKind(p.Section),
		Text:       p.Text,
		PrevID:     p.PrevID,
		NextID:     p.NextID,
	}
}

type scoredPoint struct {
	Score   float64      `json:"score"`
	Payload chunkPayload `json:"payload"`
}

// PointID derives a stable point id so re-upserting a chunk overwrites it.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("chunk:"+chunkID)).String()
}

func (c *Client) ReplaceDocument(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return c.DeleteDocument(ctx, documentID)
	}
	dim := len(chunks[0].Embedding)
	for _, ch := range chunks {
		if len(ch.Embedding) != dim || dim == 0 {
			return fmt.Errorf("qdrant replace: chunk %s has embedding size %d, want %d", ch.ID, len(ch.Embedding), dim)
		}
	}
	if err := c.ensureCollection(ctx, dim); err != nil {
		return err
	}
	if err := c.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	points := make([]point, 0, len(chunks))
	for _, ch := range chunks {
		points = append(points, point{
			ID: PointID(ch.ID),
			Vector: map[string]any{
				denseVectorName:  ch.Embedding,
				sparseVectorName: encodeSparseChunk(ch),
			},
			Payload: chunkPayload{
				ChunkID:    ch.ID,
				DocumentID: documentID,
				Order:      ch.Order,
				Page:       ch.Page,
				Section:    string(ch.Section),
				Text:       ch.Text,
				PrevID:     ch.PrevID,
				NextID:     ch.NextID,
			},
		})
	}
	return c.do(ctx, "upsert", http.MethodPut, "/points?wait=true", map[string]any{"points": points}, nil)
}

func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	err := c.do(ctx, "delete", http.MethodPost, "/points/delete?wait=true", map[string]any{
		"filter": documentFilter(documentID),
	}, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) DocumentChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var (
		out    []domain.Chunk
		offset any
	)
	for {
		reqBody := map[string]any{
			"filter":       documentFilter(documentID),
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  []string{denseVectorName},
		}
		if offset != nil {
			reqBody["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload chunkPayload         `json:"payload"`
					Vector  map[string][]float32 `json:"vector"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err := c.do(ctx, "scroll", http.MethodPost, "/points/scroll", reqBody, &resp)
		if isNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			ch := p.Payload.chunk()
			ch.Embedding = p.Vector[denseVectorName]
			out = append(out, ch)
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (c *Client) SearchSemantic(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error) {
	return c.search(ctx, "semantic search", map[string]any{
		"name":   denseVectorName,
		"vector": vector,
	}, limit, filter)
}

func (c *Client) SearchLexical(ctx context.Context, text string, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error) {
	sparse := encodeSparseQuery(text)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	return c.search(ctx, "lexical search", map[string]any{
		"name":   sparseVectorName,
		"vector": sparse,
	}, limit, filter)
}

func (c *Client) search(ctx context.Context, op string, vector map[string]any, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter.DocumentID != "" {
		reqBody["filter"] = documentFilter(filter.DocumentID)
	}

	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	err := c.do(ctx, op, http.MethodPost, "/points/search", reqBody, &resp)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		if r.Score <= 0 {
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: r.Payload.chunk(), Score: r.Score})
	}
	return out, nil
}

func (c *Client) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := c.do(ctx, "count", http.MethodPost, "/points/count", map[string]any{"exact": true}, &resp)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "doc_id",
				"match": map[string]any{"value": documentID},
			},
		},
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, reqBody any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", op, err)
	}

	url := fmt.Sprintf("%s/collections/%s%s", c.baseURL, c.collection, path)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.StatusCode == http.StatusNotFound
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	err := c.do(ctx, "ensure collection", http.MethodPut, "", reqBody, nil)
	// 409 if the collection already exists.
	if se, ok := err.(*statusError); ok && se.StatusCode == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}
