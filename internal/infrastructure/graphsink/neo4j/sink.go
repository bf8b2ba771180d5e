package neo4j

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

const (
	mergePapersQuery = `UNWIND $papers AS p
MERGE (n:Paper {id: p.id})
SET n.title = p.title, n.provider = p.provider, n.year = p.year,
    n.citation_count = p.citation_count, n.depth = p.depth`

	mergeEdgesQuery = `UNWIND $edges AS e
MATCH (a:Paper {id: e.from})
MATCH (b:Paper {id: e.to})
MERGE (a)-[r:CITES]->(b)`
)

// queryRunner is the subset of the driver the sink needs.
type queryRunner func(ctx context.Context, query string, params map[string]any) error

// Sink writes explored citation subgraphs into Neo4j as (:Paper)-[:CITES]->(:Paper).
type Sink struct {
	driver neo4j.DriverWithContext
	run    queryRunner
}

func New(ctx context.Context, uri, user, password string) (*Sink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	s := &Sink{driver: driver}
	s.run = func(ctx context.Context, query string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, query, params, neo4j.EagerResultTransformer)
		return err
	}
	return s, nil
}

func (s *Sink) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Sink) ExportSubgraph(ctx context.Context, graph domain.CitationSubgraph) error {
	if len(graph.Nodes) == 0 {
		return nil
	}
	papers := paperParams(graph)
	if err := s.run(ctx, mergePapersQuery, map[string]any{"papers": papers}); err != nil {
		return fmt.Errorf("neo4j merge papers: %w", err)
	}

	edges := make([]map[string]any, 0, len(graph.Edges))
	for _, e := range graph.Edges {
		from, to := e.From, e.To
		// cited_by edges are stored in citation direction.
		if e.Kind == "cited_by" {
			from, to = to, from
		}
		if _, ok := graph.Nodes[from]; !ok {
			continue
		}
		if _, ok := graph.Nodes[to]; !ok {
			continue
		}
		edges = append(edges, map[string]any{"from": from, "to": to})
	}
	if len(edges) == 0 {
		return nil
	}
	if err := s.run(ctx, mergeEdgesQuery, map[string]any{"edges": edges}); err != nil {
		return fmt.Errorf("neo4j merge edges: %w", err)
	}
	return nil
}

func paperParams(graph domain.CitationSubgraph) []map[string]any {
	ids := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		p := graph.Nodes[id]
		out = append(out, map[string]any{
			"id":             id,
			"title":          p.Title,
			"provider":       p.Provider,
			"year":           int64(p.Year),
			"citation_count": int64(p.CitationCount),
			"depth":          int64(graph.Depths[id]),
		})
	}
	return out
}
