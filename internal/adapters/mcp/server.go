package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
	"github.com/kirillkom/paper-qa/internal/infrastructure/export"
)

const serverName = "paper-qa"

// Deps are the inbound ports exposed as MCP tools. Tools whose port is nil
// are not registered.
type Deps struct {
	Answerer   ports.QuestionAnswerer
	Summarizer ports.DocumentSummarizer
	Documents  ports.DocumentReader
	Cache      ports.PaperCacheAdmin
}

type Server struct {
	deps Deps
	mcp  *server.MCPServer
}

func NewServer(deps Deps, version string) *Server {
	s := &Server{
		deps: deps,
		mcp: server.NewMCPServer(serverName, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server for transports.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	if s.deps.Answerer != nil {
		s.mcp.AddTool(mcp.NewTool("answer_question",
			mcp.WithDescription("Answer a research question from indexed papers, optionally adding web and citation-graph evidence."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Question in natural language")),
			mcp.WithString("document_id", mcp.Description("Restrict document evidence to one indexed paper")),
			mcp.WithBoolean("use_web_research", mcp.Description("Also search the web and crawl the citation graph")),
			mcp.WithArray("seed_paper_ids", mcp.Description("DOIs or arXiv ids that seed the citation crawl"), mcp.WithStringItems()),
		), s.answerQuestion)

		s.mcp.AddTool(mcp.NewTool("export_references",
			mcp.WithDescription("Answer a question and render its sources as a reference list."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Question in natural language")),
			mcp.WithString("document_id", mcp.Description("Restrict document evidence to one indexed paper")),
			mcp.WithBoolean("use_web_research", mcp.Description("Also search the web and crawl the citation graph")),
			mcp.WithString("format", mcp.Description("markdown, text, json or yaml"), mcp.Enum("markdown", "text", "json", "yaml")),
		), s.exportReferences)
	}
	if s.deps.Summarizer != nil {
		s.mcp.AddTool(mcp.NewTool("summarize_document",
			mcp.WithDescription("Summarize an indexed paper and report its structure."),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("Indexed document id")),
		), s.summarizeDocument)
	}
	if s.deps.Documents != nil {
		s.mcp.AddTool(mcp.NewTool("get_document",
			mcp.WithDescription("Show the processing status of an uploaded document."),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id returned by upload")),
		), s.getDocument)
	}
	if s.deps.Cache != nil {
		s.mcp.AddTool(mcp.NewTool("paper_cache_stats",
			mcp.WithDescription("Report entries of the citation-graph paper cache."),
		), s.cacheStats)
		s.mcp.AddTool(mcp.NewTool("purge_paper_cache",
			mcp.WithDescription("Delete expired entries from the citation-graph paper cache."),
		), s.purgeCache)
	}
}

func questionFromRequest(req mcp.CallToolRequest) (domain.Question, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return domain.Question{}, err
	}
	if strings.TrimSpace(query) == "" {
		return domain.Question{}, errors.New("query is required")
	}
	return domain.Question{
		Query:          query,
		DocumentID:     req.GetString("document_id", ""),
		UseWebResearch: req.GetBool("use_web_research", false),
		SeedPaperIDs:   req.GetStringSlice("seed_paper_ids", nil),
	}, nil
}

func (s *Server) answerQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := questionFromRequest(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := s.deps.Answerer.AnswerQuestion(ctx, q)
	if err != nil {
		return toolError("answer_question", err), nil
	}
	return jsonResult(answer)
}

func (s *Server) exportReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := questionFromRequest(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format, err := export.ParseFormat(req.GetString("format", "markdown"))
	if err != nil || format == export.FormatXLSX {
		return mcp.NewToolResultError("format must be markdown, text, json or yaml"), nil
	}
	answer, err := s.deps.Answerer.AnswerQuestion(ctx, q)
	if err != nil {
		return toolError("export_references", err), nil
	}
	out, err := export.References(answer.Sources, format)
	if err != nil {
		return toolError("export_references", err), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) summarizeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summary, err := s.deps.Summarizer.SummarizeDocument(ctx, id)
	if err != nil {
		return toolError("summarize_document", err), nil
	}
	return jsonResult(summary)
}

func (s *Server) getDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.deps.Documents.GetByID(ctx, id)
	if err != nil {
		return toolError("get_document", err), nil
	}
	return jsonResult(doc)
}

func (s *Server) cacheStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.deps.Cache.Stats(ctx)
	if err != nil {
		return toolError("paper_cache_stats", err), nil
	}
	return jsonResult(stats)
}

func (s *Server) purgeCache(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.deps.Cache.PurgeExpired(ctx)
	if err != nil {
		return toolError("purge_paper_cache", err), nil
	}
	return jsonResult(map[string]int{"purged": n})
}

// toolError reports failures inside the tool result so the calling model
// can read them; only protocol faults are returned as Go errors.
func toolError(tool string, err error) *mcp.CallToolResult {
	slog.Warn("mcp_tool_failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(errorKind(err) + ": " + err.Error())
}

func errorKind(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrDocumentNotFound), domain.IsKind(err, domain.ErrPaperNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrNoEvidence):
		return "no_evidence"
	case domain.IsKind(err, domain.ErrCancelled):
		return "cancelled"
	case domain.IsKind(err, domain.ErrProviderRateLimited):
		return "rate_limited"
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrRetrievalUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
