package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeneratorReturnsFirstChoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["model"] != "gen-model" {
			t.Errorf("expected gen-model, got %v", payload["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"gen-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":" grounded answer "},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(Config{BaseURL: server.URL + "/v1", GenModel: "gen-model"}, nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	got, err := gen.GenerateFromPrompt(context.Background(), "question")
	if err != nil {
		t.Fatalf("GenerateFromPrompt() error = %v", err)
	}
	if got != "grounded answer" {
		t.Fatalf("expected trimmed content, got %q", got)
	}
}

func TestClassifyErrorMarksRateLimitRetryable(t *testing.T) {
	class := classifyError(errTest("API returned unexpected status code: 429"))
	if !class.Retryable {
		t.Fatalf("expected 429 to be retryable")
	}
	class = classifyError(errTest("invalid api key"))
	if class.Retryable {
		t.Fatalf("expected auth failure to be permanent")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
