package tools

import (
	"context"
	"time"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/internal/graphsvc"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// GraphBuilder implements the graph_builder registry tool:
// graph_builder({memory_id, entities}) -> {nodes, edges}.
type GraphBuilder struct {
	graph *graphsvc.Service
}

// NewGraphBuilder constructs the graph_builder tool.
func NewGraphBuilder(graph *graphsvc.Service) *GraphBuilder {
	return &GraphBuilder{graph: graph}
}

func (t *GraphBuilder) Name() string { return "graph_builder" }

func (t *GraphBuilder) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"memory_id", "entities"},
		"properties": map[string]any{
			"memory_id": map[string]any{"type": "string"},
			"entities":  map[string]any{"type": "array"},
		},
	}
}

func (t *GraphBuilder) OutputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"nodes", "edges"},
		"properties": map[string]any{
			"nodes": map[string]any{"type": "array"},
			"edges": map[string]any{"type": "array"},
		},
	}
}

func (t *GraphBuilder) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	memoryID, _ := in["memory_id"].(string)
	if memoryID == "" {
		return nil, apperr.New(apperr.InvalidInput, "graph_builder: memory_id must not be empty")
	}

	rawEntities, _ := in["entities"].([]any)
	entities := make([]graphsvc.Entity, 0, len(rawEntities))
	for _, raw := range rawEntities {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		canonical, _ := m["canonical"].(string)
		typ, _ := m["type"].(string)
		if typ == "" {
			typ = string(store.NodeEntity)
		}
		entities = append(entities, graphsvc.Entity{Canonical: canonical, Type: store.NodeType(typ)})
	}

	traceID, _ := in["trace_id"].(string)
	sourceTime := time.Now()
	if ts, ok := in["source_time"].(time.Time); ok {
		sourceTime = ts
	}

	subgraph, err := t.graph.BuildFromEntities(ctx, memoryID, sourceTime, entities, traceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "graph_builder: build", err)
	}

	nodes := make([]map[string]any, len(subgraph.Nodes))
	for i, n := range subgraph.Nodes {
		nodes[i] = map[string]any{"node_id": n.NodeID, "type": n.Type, "label": n.Label()}
	}
	edges := make([]map[string]any, len(subgraph.Edges))
	for i, e := range subgraph.Edges {
		edges[i] = map[string]any{"edge_id": e.EdgeID, "from": e.From, "to": e.To, "type": e.Type, "weight": e.Weight}
	}

	return map[string]any{"nodes": nodes, "edges": edges}, nil
}
