package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "doc-1_chunk_0", DocumentID: "doc-1", Order: 0, Page: 1, Section: domain.SectionHeading, Text: "Introduction", Embedding: []float32{0.1, 0.2}},
		{ID: "doc-1_chunk_1", DocumentID: "doc-1", Order: 1, Page: 1, Section: domain.SectionBody, Text: "We study attention.", Embedding: []float32{0.3, 0.4}},
	}
}

func TestReplaceDocumentEnsuresCollectionOnceAndDeletesBeforeUpsert(t *testing.T) {
	var ensureCalls int32
	var mu sync.Mutex
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/collections/chunks/points/delete":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			var body struct {
				Points []point `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if len(body.Points) != 2 || body.Points[0].ID != PointID("doc-1_chunk_0") {
				http.Error(w, "bad points", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	for i := 0; i < 2; i++ {
		if err := client.ReplaceDocument(context.Background(), "doc-1", testChunks()); err != nil {
			t.Fatalf("ReplaceDocument() #%d error = %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if calls[1] != "POST /collections/chunks/points/delete" || calls[2] != "PUT /collections/chunks/points" {
		t.Fatalf("expected delete before upsert, got %v", calls)
	}
}

func TestPointIDIsStable(t *testing.T) {
	if PointID("a_chunk_1") != PointID("a_chunk_1") {
		t.Fatalf("expected deterministic point id")
	}
	if PointID("a_chunk_1") == PointID("a_chunk_2") {
		t.Fatalf("expected distinct point ids")
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/chunks" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	err := client.ReplaceDocument(context.Background(), "doc-1", testChunks())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestReplaceDocumentRejectsMixedDimensions(t *testing.T) {
	client := New("http://127.0.0.1:1", "chunks")
	chunks := testChunks()
	chunks[1].Embedding = []float32{1}
	if err := client.ReplaceDocument(context.Background(), "doc-1", chunks); err == nil {
		t.Fatalf("expected dimension error")
	}
}

func TestSearchLexicalUsesSparseVectorAndFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		vector, _ := body["vector"].(map[string]any)
		if vector["name"] != sparseVectorName {
			http.Error(w, "expected sparse vector", http.StatusBadRequest)
			return
		}
		if _, ok := body["filter"]; !ok {
			http.Error(w, "expected filter", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"result":[
			{"score":2.5,"payload":{"chunk_id":"doc-1_chunk_1","doc_id":"doc-1","order":1,"page":1,"section":"body","text":"We study attention."}},
			{"score":0,"payload":{"chunk_id":"doc-1_chunk_0","doc_id":"doc-1","order":0,"page":1,"section":"heading","text":"Introduction"}}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	hits, err := client.SearchLexical(context.Background(), "attention study", 5, domain.SearchFilter{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "doc-1_chunk_1" || hits[0].Chunk.Section != domain.SectionBody {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestMissingCollectionReadsAsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found: Collection chunks doesn't exist!"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	ctx := context.Background()
	if hits, err := client.SearchSemantic(ctx, []float32{1, 0}, 5, domain.SearchFilter{}); err != nil || len(hits) != 0 {
		t.Fatalf("expected empty search, got %v err=%v", hits, err)
	}
	if n, err := client.Count(ctx); err != nil || n != 0 {
		t.Fatalf("expected zero count, got %d err=%v", n, err)
	}
	if chunks, err := client.DocumentChunks(ctx, "doc-1"); err != nil || len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %v err=%v", chunks, err)
	}
}

func TestDocumentChunksFollowsScrollPages(t *testing.T) {
	var page int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&page, 1) == 1 {
			_, _ = w.Write([]byte(`{"result":{"points":[
				{"payload":{"chunk_id":"d_chunk_1","doc_id":"d","order":1,"text":"b"},"vector":{"dense":[0,1]}}
			],"next_page_offset":"p2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"points":[
			{"payload":{"chunk_id":"d_chunk_0","doc_id":"d","order":0,"text":"a"},"vector":{"dense":[1,0]}}
		],"next_page_offset":null}}`))
	}))
	defer server.Close()

	chunks, err := New(server.URL, "chunks").DocumentChunks(context.Background(), "d")
	if err != nil {
		t.Fatalf("DocumentChunks() error = %v", err)
	}
	if len(chunks) != 2 || chunks[0].ID != "d_chunk_0" || len(chunks[0].Embedding) != 2 {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}
