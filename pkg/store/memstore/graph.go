package memstore

import (
	"context"
	"sort"
	"strings"

	"github.com/echogarden-io/echogarden/pkg/store"
)

type graphRepo struct{ s *Store }

func (r graphRepo) UpsertNodes(ctx context.Context, nodes []store.GraphNode) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, node := range nodes {
		if _, exists := r.s.nodes[node.NodeID]; !exists {
			n++
		}
		r.s.nodes[node.NodeID] = node
	}
	return n, nil
}

func (r graphRepo) UpsertEdges(ctx context.Context, edges []store.GraphEdge) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, edge := range edges {
		existing, exists := r.s.edges[edge.EdgeID]
		if !exists {
			n++
			r.s.edges[edge.EdgeID] = edge
			continue
		}
		merged := existing
		merged.Weight = existing.Weight + edge.Weight
		if merged.Weight > 1 {
			merged.Weight = 1
		}
		if edge.ValidFrom.After(existing.ValidFrom) {
			merged.ValidFrom = edge.ValidFrom
		}
		r.s.edges[edge.EdgeID] = merged
	}
	return n, nil
}

func (r graphRepo) Neighbors(ctx context.Context, nodeID string, direction store.EdgeDirection, limit int) (store.Subgraph, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var sub store.Subgraph
	seen := map[string]bool{nodeID: true}
	for _, e := range r.s.edges {
		matched := false
		var other string
		if (direction == store.DirOut || direction == store.DirBoth) && e.From == nodeID {
			matched = true
			other = e.To
		}
		if (direction == store.DirIn || direction == store.DirBoth) && e.To == nodeID {
			matched = true
			other = e.From
		}
		if !matched {
			continue
		}
		sub.Edges = append(sub.Edges, e)
		if !seen[other] {
			seen[other] = true
			if node, ok := r.s.nodes[other]; ok {
				sub.Nodes = append(sub.Nodes, node)
			}
		}
		if limit > 0 && len(sub.Edges) >= limit {
			break
		}
	}
	return sub, nil
}

func (r graphRepo) Expand(ctx context.Context, q store.ExpandQuery) (store.Subgraph, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	hops := q.Hops
	if hops <= 0 {
		hops = 1
	}
	direction := q.Direction
	if direction == "" {
		direction = store.DirBoth
	}

	typeAllowed := func(t store.EdgeType) bool {
		if len(q.EdgeTypes) == 0 {
			return true
		}
		for _, et := range q.EdgeTypes {
			if et == t {
				return true
			}
		}
		return false
	}
	timeAllowed := func(e store.GraphEdge) bool {
		if q.TimeMin != nil && e.ValidFrom.Before(*q.TimeMin) {
			return false
		}
		if q.TimeMax != nil && e.ValidFrom.After(*q.TimeMax) {
			return false
		}
		return true
	}

	visitedNodes := map[string]bool{}
	visitedEdges := map[string]bool{}
	var sub store.Subgraph

	frontier := append([]string{}, q.Seeds...)
	for _, seed := range frontier {
		visitedNodes[seed] = true
		if node, ok := r.s.nodes[seed]; ok {
			sub.Nodes = append(sub.Nodes, node)
		}
	}

	for h := 0; h < hops; h++ {
		type candidate struct {
			edge  store.GraphEdge
			other string
		}
		var candidates []candidate
		for _, e := range r.s.edges {
			if !typeAllowed(e.Type) || !timeAllowed(e) {
				continue
			}
			for _, seed := range frontier {
				if (direction == store.DirOut || direction == store.DirBoth) && e.From == seed {
					candidates = append(candidates, candidate{e, e.To})
				}
				if (direction == store.DirIn || direction == store.DirBoth) && e.To == seed {
					candidates = append(candidates, candidate{e, e.From})
				}
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].edge.Weight != candidates[j].edge.Weight {
				return candidates[i].edge.Weight > candidates[j].edge.Weight
			}
			return candidates[i].edge.ValidFrom.After(candidates[j].edge.ValidFrom)
		})

		var nextFrontier []string
		for _, c := range candidates {
			if q.MaxEdges > 0 && len(sub.Edges) >= q.MaxEdges {
				break
			}
			if q.MaxNodes > 0 && len(visitedNodes) >= q.MaxNodes && !visitedNodes[c.other] {
				continue
			}
			if !visitedEdges[c.edge.EdgeID] {
				visitedEdges[c.edge.EdgeID] = true
				sub.Edges = append(sub.Edges, c.edge)
			}
			if !visitedNodes[c.other] {
				visitedNodes[c.other] = true
				if node, ok := r.s.nodes[c.other]; ok {
					sub.Nodes = append(sub.Nodes, node)
				}
				nextFrontier = append(nextFrontier, c.other)
			}
		}
		if len(nextFrontier) == 0 {
			break
		}
		frontier = nextFrontier
	}

	return sub, nil
}

func (r graphRepo) Search(ctx context.Context, query string, nodeType store.NodeType, limit int) ([]store.GraphNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	q := strings.ToLower(query)
	type ranked struct {
		node store.GraphNode
		rank int // 0 = prefix, 1 = substring
	}
	var hits []ranked
	for _, n := range r.s.nodes {
		if nodeType != "" && n.Type != nodeType {
			continue
		}
		label := strings.ToLower(n.Label())
		switch {
		case strings.HasPrefix(label, q):
			hits = append(hits, ranked{n, 0})
		case strings.Contains(label, q):
			hits = append(hits, ranked{n, 1})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].node.NodeID < hits[j].node.NodeID
	})

	var nodes []store.GraphNode
	for _, h := range hits {
		nodes = append(nodes, h.node)
		if limit > 0 && len(nodes) >= limit {
			break
		}
	}
	return nodes, nil
}

func (r graphRepo) GetNode(ctx context.Context, nodeID string) (store.GraphNode, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.nodes[nodeID]
	return n, ok, nil
}

func (r graphRepo) DeleteCardNode(ctx context.Context, memoryID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	nodeID := "mem:" + memoryID
	delete(r.s.nodes, nodeID)
	for id, e := range r.s.edges {
		if e.From == nodeID || e.To == nodeID {
			delete(r.s.edges, id)
		}
	}
	return nil
}
