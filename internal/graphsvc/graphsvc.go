// Package graphsvc implements the knowledge-graph service: upserting
// memory-card and entity nodes, canonicalizing newly extracted entity
// mentions against existing nodes, and the BFS/search operations the HTTP
// API and retrieval layer expand through.
//
// Entity canonicalization reuses the teacher's Jaro-Winkler string-similarity
// approach (internal/transcript/phonetic in the source project) instead of
// its phonetic-matching half: graph entity labels are names and topics, not
// misheard speech, so only the fuzzy-string-similarity strategy applies.
package graphsvc

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/echogarden-io/echogarden/pkg/store"
)

const defaultCanonicalizeThreshold = 0.90

// Service provides graph mutation and traversal on top of a store.GraphRepo.
type Service struct {
	graph     store.GraphRepo
	threshold float64
}

// Option configures a Service.
type Option func(*Service)

// WithCanonicalizeThreshold overrides the minimum Jaro-Winkler similarity
// required to merge a new entity mention into an existing node. Default 0.90.
func WithCanonicalizeThreshold(threshold float64) Option {
	return func(s *Service) { s.threshold = threshold }
}

// New constructs a Service.
func New(graph store.GraphRepo, opts ...Option) *Service {
	s := &Service{graph: graph, threshold: defaultCanonicalizeThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Entity is one entity mention extracted from a memory card's text.
type Entity struct {
	Canonical string
	Type      store.NodeType
}

// BuildFromEntities upserts a MemoryCard node for memoryID and one node per
// entity (merged into an existing node when a close canonical match exists),
// connected by MENTIONS edges. It returns every node and edge touched.
func (s *Service) BuildFromEntities(ctx context.Context, memoryID string, sourceTime time.Time, entities []Entity, traceID string) (store.Subgraph, error) {
	cardNodeID := "mem:" + memoryID
	nodes := []store.GraphNode{{
		NodeID: cardNodeID,
		Type:   store.NodeMemoryCard,
		Props:  map[string]any{"label": memoryID, "memory_id": memoryID},
	}}

	var edges []store.GraphEdge
	seen := map[string]bool{cardNodeID: true}

	for _, e := range entities {
		if strings.TrimSpace(e.Canonical) == "" {
			continue
		}
		nodeType := e.Type
		if nodeType == "" {
			nodeType = store.NodeEntity
		}

		nodeID, err := s.canonicalize(ctx, e.Canonical, nodeType)
		if err != nil {
			return store.Subgraph{}, fmt.Errorf("graphsvc: canonicalize %q: %w", e.Canonical, err)
		}

		if !seen[nodeID] {
			seen[nodeID] = true
			nodes = append(nodes, store.GraphNode{
				NodeID: nodeID,
				Type:   nodeType,
				Props:  map[string]any{"label": e.Canonical},
			})
		}

		edges = append(edges, store.GraphEdge{
			EdgeID:    mentionsEdgeID(cardNodeID, nodeID),
			From:      cardNodeID,
			To:        nodeID,
			Type:      store.EdgeMentions,
			Weight:    0.5,
			ValidFrom: sourceTime,
			Provenance: store.EdgeProvenance{
				CreatedBy: "graph_builder",
				TraceID:   traceID,
			},
		})
	}

	if _, err := s.graph.UpsertNodes(ctx, nodes); err != nil {
		return store.Subgraph{}, fmt.Errorf("graphsvc: upsert nodes: %w", err)
	}
	if len(edges) > 0 {
		if _, err := s.graph.UpsertEdges(ctx, edges); err != nil {
			return store.Subgraph{}, fmt.Errorf("graphsvc: upsert edges: %w", err)
		}
	}

	return store.Subgraph{Nodes: nodes, Edges: edges}, nil
}

// canonicalize resolves label to an existing node of nodeType whose label
// scores at least the canonicalize threshold by Jaro-Winkler similarity,
// or mints a fresh "ent:<slug>" id when no close match exists.
func (s *Service) canonicalize(ctx context.Context, label string, nodeType store.NodeType) (string, error) {
	candidates, err := s.graph.Search(ctx, label, nodeType, 20)
	if err != nil {
		return "", err
	}

	labelLower := strings.ToLower(strings.TrimSpace(label))
	var best store.GraphNode
	var bestScore float64
	for _, c := range candidates {
		score := matchr.JaroWinkler(labelLower, strings.ToLower(c.Label()), false)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore >= s.threshold {
		return best.NodeID, nil
	}
	return "ent:" + slugify(label), nil
}

// Expand performs a BFS over the graph from seeds.
func (s *Service) Expand(ctx context.Context, q store.ExpandQuery) (store.Subgraph, error) {
	return s.graph.Expand(ctx, q)
}

// Neighbors returns the one-hop neighborhood of nodeID.
func (s *Service) Neighbors(ctx context.Context, nodeID string, direction store.EdgeDirection, limit int) (store.Subgraph, error) {
	return s.graph.Neighbors(ctx, nodeID, direction, limit)
}

// Search ranks nodes by label match.
func (s *Service) Search(ctx context.Context, query string, nodeType store.NodeType, limit int) ([]store.GraphNode, error) {
	return s.graph.Search(ctx, query, nodeType, limit)
}

// Upsert upserts raw nodes and edges, used by the /graph/upsert HTTP route.
func (s *Service) Upsert(ctx context.Context, nodes []store.GraphNode, edges []store.GraphEdge) (nodeCount, edgeCount int, err error) {
	nodeCount, err = s.graph.UpsertNodes(ctx, nodes)
	if err != nil {
		return 0, 0, fmt.Errorf("graphsvc: upsert nodes: %w", err)
	}
	if len(edges) > 0 {
		edgeCount, err = s.graph.UpsertEdges(ctx, edges)
		if err != nil {
			return nodeCount, 0, fmt.Errorf("graphsvc: upsert edges: %w", err)
		}
	}
	return nodeCount, edgeCount, nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(label string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "-")
	return strings.Trim(slug, "-")
}

func mentionsEdgeID(from, to string) string {
	return "edge:" + from + "->" + to + ":MENTIONS"
}
