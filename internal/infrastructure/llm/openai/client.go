// Package openai adapts OpenAI-compatible endpoints (vLLM, LM Studio, hosted
// OpenAI) to the embedding and generation ports through langchaingo.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL    string
	APIKey     string
	GenModel   string
	EmbedModel string
}

func (c Config) token() string {
	if strings.TrimSpace(c.APIKey) == "" {
		// local OpenAI-compatible servers ignore the token but the client requires one
		return "none"
	}
	return c.APIKey
}

type Embedder struct {
	embedder embeddings.Embedder
	executor *resilience.Executor
	logger   *slog.Logger
}

func NewEmbedder(cfg Config, executor *resilience.Executor) (*Embedder, error) {
	client, err := lcopenai.New(
		lcopenai.WithBaseURL(cfg.BaseURL),
		lcopenai.WithToken(cfg.token()),
		lcopenai.WithEmbeddingModel(cfg.EmbedModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Embedder{
		embedder: embedder,
		executor: executor,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := resilience.Call(ctx, e.executor, "openai.embed", func(callCtx context.Context) ([][]float32, error) {
		return e.embedder.EmbedDocuments(callCtx, texts)
	}, classifyError)
	if err != nil {
		e.logger.Error("embed_failed", "count", len(texts), "error", err)
		return nil, wrapTemporaryIfNeeded("openai embed", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("openai embed returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := resilience.Call(ctx, e.executor, "openai.embed_query", func(callCtx context.Context) ([]float32, error) {
		return e.embedder.EmbedQuery(callCtx, text)
	}, classifyError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("openai embed query", err)
	}
	if len(vector) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vector, nil
}

type Generator struct {
	model    llms.Model
	executor *resilience.Executor
}

func NewGenerator(cfg Config, executor *resilience.Executor) (*Generator, error) {
	client, err := lcopenai.New(
		lcopenai.WithBaseURL(cfg.BaseURL),
		lcopenai.WithToken(cfg.token()),
		lcopenai.WithModel(cfg.GenModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai chat client: %w", err)
	}
	return &Generator{model: client, executor: executor}, nil
}

func (g *Generator) GenerateFromPrompt(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}
	text, err := resilience.Call(ctx, g.executor, "openai.generate", func(callCtx context.Context) (string, error) {
		resp, err := g.model.GenerateContent(callCtx, content, llms.WithTemperature(0.2))
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("openai generate returned no choices")
		}
		return strings.TrimSpace(resp.Choices[0].Content), nil
	}, classifyError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("openai generate", err)
	}
	if text == "" {
		return "", errors.New("openai generate returned empty response")
	}
	return text, nil
}

func classifyError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "502", "503", "504", "timeout"} {
		if strings.Contains(msg, marker) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
