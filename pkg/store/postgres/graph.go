package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echogarden-io/echogarden/pkg/store"
)

type graphRepo struct{ pool *pgxpool.Pool }

func (r graphRepo) UpsertNodes(ctx context.Context, nodes []store.GraphNode) (int, error) {
	if len(nodes) == 0 {
		return 0, nil
	}
	n := 0
	for _, node := range nodes {
		props, err := json.Marshal(node.Props)
		if err != nil {
			return n, fmt.Errorf("postgres: graph: marshal props: %w", err)
		}
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO graph_nodes (node_id, node_type, props)
			VALUES ($1, $2, $3)
			ON CONFLICT (node_id) DO UPDATE SET node_type = EXCLUDED.node_type, props = EXCLUDED.props`,
			node.NodeID, string(node.Type), props)
		if err != nil {
			return n, fmt.Errorf("postgres: graph: upsert node: %w", err)
		}
		if tag.RowsAffected() > 0 {
			n++
		}
	}
	return n, nil
}

// UpsertEdges is idempotent by edge_id; a repeated upsert of the same edge
// accumulates weight (capped at 1) to reflect corroborating evidence rather
// than overwriting it.
func (r graphRepo) UpsertEdges(ctx context.Context, edges []store.GraphEdge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	n := 0
	for _, e := range edges {
		provenance, err := json.Marshal(e.Provenance)
		if err != nil {
			return n, fmt.Errorf("postgres: graph: marshal provenance: %w", err)
		}
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO graph_edges (edge_id, from_node, to_node, edge_type, weight, valid_from, valid_to, provenance)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (edge_id) DO UPDATE SET
			    weight = LEAST(1.0, graph_edges.weight + EXCLUDED.weight),
			    valid_from = GREATEST(graph_edges.valid_from, EXCLUDED.valid_from),
			    provenance = EXCLUDED.provenance`,
			e.EdgeID, e.From, e.To, string(e.Type), e.Weight, e.ValidFrom, e.ValidTo, provenance)
		if err != nil {
			return n, fmt.Errorf("postgres: graph: upsert edge: %w", err)
		}
		if tag.RowsAffected() > 0 {
			n++
		}
	}
	return n, nil
}

func scanEdge(row pgx.Row) (store.GraphEdge, error) {
	var (
		e          store.GraphEdge
		edgeType   string
		provenance []byte
	)
	if err := row.Scan(&e.EdgeID, &e.From, &e.To, &edgeType, &e.Weight, &e.ValidFrom, &e.ValidTo, &provenance); err != nil {
		return store.GraphEdge{}, err
	}
	e.Type = store.EdgeType(edgeType)
	if err := json.Unmarshal(provenance, &e.Provenance); err != nil {
		return store.GraphEdge{}, fmt.Errorf("unmarshal provenance: %w", err)
	}
	return e, nil
}

func scanNode(row pgx.Row) (store.GraphNode, error) {
	var (
		n        store.GraphNode
		nodeType string
		props    []byte
	)
	if err := row.Scan(&n.NodeID, &nodeType, &props); err != nil {
		return store.GraphNode{}, err
	}
	n.Type = store.NodeType(nodeType)
	if err := json.Unmarshal(props, &n.Props); err != nil {
		return store.GraphNode{}, fmt.Errorf("unmarshal props: %w", err)
	}
	return n, nil
}

const edgeCols = `edge_id, from_node, to_node, edge_type, weight, valid_from, valid_to, provenance`
const nodeCols = `node_id, node_type, props`

func (r graphRepo) Neighbors(ctx context.Context, nodeID string, direction store.EdgeDirection, limit int) (store.Subgraph, error) {
	var dirClause string
	switch direction {
	case store.DirOut:
		dirClause = "from_node = $1"
	case store.DirIn:
		dirClause = "to_node = $1"
	default:
		dirClause = "from_node = $1 OR to_node = $1"
	}

	q := fmt.Sprintf(`SELECT %s FROM graph_edges WHERE %s LIMIT $2`, edgeCols, dirClause)
	rows, err := r.pool.Query(ctx, q, nodeID, nonZeroOr(limit, 100))
	if err != nil {
		return store.Subgraph{}, fmt.Errorf("postgres: graph: neighbors: %w", err)
	}
	defer rows.Close()

	var sub store.Subgraph
	others := map[string]bool{}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return store.Subgraph{}, fmt.Errorf("postgres: graph: scan edge: %w", err)
		}
		sub.Edges = append(sub.Edges, e)
		other := e.To
		if e.To == nodeID {
			other = e.From
		}
		others[other] = true
	}
	if err := rows.Err(); err != nil {
		return store.Subgraph{}, err
	}

	sub.Nodes, err = r.getNodes(ctx, keys(others))
	if err != nil {
		return store.Subgraph{}, err
	}
	return sub, nil
}

func (r graphRepo) getNodes(ctx context.Context, nodeIDs []string) ([]store.GraphNode, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM graph_nodes WHERE node_id = ANY($1)`, nodeCols)
	rows, err := r.pool.Query(ctx, q, nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: graph: get nodes: %w", err)
	}
	defer rows.Close()

	var out []store.GraphNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: graph: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func nonZeroOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Expand performs a BFS from q.Seeds out to q.Hops, one round-trip per hop,
// pruned by edge type and validity window and bounded by MaxNodes/MaxEdges.
func (r graphRepo) Expand(ctx context.Context, q store.ExpandQuery) (store.Subgraph, error) {
	hops := q.Hops
	if hops <= 0 {
		hops = 1
	}
	direction := q.Direction
	if direction == "" {
		direction = store.DirBoth
	}

	visitedNodes := map[string]bool{}
	visitedEdges := map[string]bool{}
	var sub store.Subgraph

	frontier := append([]string{}, q.Seeds...)
	for _, s := range frontier {
		visitedNodes[s] = true
	}
	seedNodes, err := r.getNodes(ctx, frontier)
	if err != nil {
		return store.Subgraph{}, err
	}
	sub.Nodes = append(sub.Nodes, seedNodes...)

	for h := 0; h < hops && len(frontier) > 0; h++ {
		if q.MaxEdges > 0 && len(sub.Edges) >= q.MaxEdges {
			break
		}

		args := []any{frontier}
		var dirClause string
		switch direction {
		case store.DirOut:
			dirClause = "from_node = ANY($1)"
		case store.DirIn:
			dirClause = "to_node = ANY($1)"
		default:
			dirClause = "from_node = ANY($1) OR to_node = ANY($1)"
		}
		conditions := []string{dirClause}

		if len(q.EdgeTypes) > 0 {
			types := make([]string, len(q.EdgeTypes))
			for i, t := range q.EdgeTypes {
				types[i] = string(t)
			}
			args = append(args, types)
			conditions = append(conditions, fmt.Sprintf("edge_type = ANY($%d)", len(args)))
		}
		if q.TimeMin != nil {
			args = append(args, *q.TimeMin)
			conditions = append(conditions, fmt.Sprintf("valid_from >= $%d", len(args)))
		}
		if q.TimeMax != nil {
			args = append(args, *q.TimeMax)
			conditions = append(conditions, fmt.Sprintf("valid_from <= $%d", len(args)))
		}

		sql := fmt.Sprintf(`SELECT %s FROM graph_edges WHERE %s ORDER BY weight DESC, valid_from DESC`,
			edgeCols, strings.Join(conditions, " AND "))

		rows, err := r.pool.Query(ctx, sql, args...)
		if err != nil {
			return store.Subgraph{}, fmt.Errorf("postgres: graph: expand: %w", err)
		}

		var nextFrontier []string
		for rows.Next() {
			e, err := scanEdge(rows)
			if err != nil {
				rows.Close()
				return store.Subgraph{}, fmt.Errorf("postgres: graph: scan expand edge: %w", err)
			}
			var other string
			inFrontier := func(id string) bool {
				for _, f := range frontier {
					if f == id {
						return true
					}
				}
				return false
			}
			if inFrontier(e.From) {
				other = e.To
			} else {
				other = e.From
			}

			if q.MaxEdges > 0 && len(sub.Edges) >= q.MaxEdges {
				continue
			}
			if q.MaxNodes > 0 && len(visitedNodes) >= q.MaxNodes && !visitedNodes[other] {
				continue
			}
			if !visitedEdges[e.EdgeID] {
				visitedEdges[e.EdgeID] = true
				sub.Edges = append(sub.Edges, e)
			}
			if !visitedNodes[other] {
				visitedNodes[other] = true
				nextFrontier = append(nextFrontier, other)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return store.Subgraph{}, err
		}

		if len(nextFrontier) > 0 {
			newNodes, err := r.getNodes(ctx, nextFrontier)
			if err != nil {
				return store.Subgraph{}, err
			}
			sub.Nodes = append(sub.Nodes, newNodes...)
		}
		frontier = nextFrontier
	}

	return sub, nil
}

// Search ranks nodes by label-prefix match first, then substring match,
// then recency of the most recently created attached edge.
func (r graphRepo) Search(ctx context.Context, query string, nodeType store.NodeType, limit int) ([]store.GraphNode, error) {
	args := []any{query + "%", "%" + query + "%"}
	typeClause := ""
	if nodeType != "" {
		args = append(args, string(nodeType))
		typeClause = fmt.Sprintf("AND node_type = $%d", len(args))
	}
	args = append(args, nonZeroOr(limit, 20))
	limitArg := fmt.Sprintf("$%d", len(args))

	sql := fmt.Sprintf(`
		SELECT %s FROM graph_nodes
		WHERE (props->>'label' ILIKE $1 OR props->>'label' ILIKE $2) %s
		ORDER BY
		    CASE WHEN props->>'label' ILIKE $1 THEN 0 ELSE 1 END,
		    (SELECT max(valid_from) FROM graph_edges WHERE from_node = node_id OR to_node = node_id) DESC NULLS LAST
		LIMIT %s`, nodeCols, typeClause, limitArg)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: graph: search: %w", err)
	}
	defer rows.Close()

	var out []store.GraphNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: graph: scan search: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r graphRepo) GetNode(ctx context.Context, nodeID string) (store.GraphNode, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM graph_nodes WHERE node_id = $1`, nodeCols)
	n, err := scanNode(r.pool.QueryRow(ctx, q, nodeID))
	if err == pgx.ErrNoRows {
		return store.GraphNode{}, false, nil
	}
	if err != nil {
		return store.GraphNode{}, false, fmt.Errorf("postgres: graph: get node: %w", err)
	}
	return n, true, nil
}

func (r graphRepo) DeleteCardNode(ctx context.Context, memoryID string) error {
	nodeID := "mem:" + memoryID
	if _, err := r.pool.Exec(ctx, `DELETE FROM graph_edges WHERE from_node = $1 OR to_node = $1`, nodeID); err != nil {
		return fmt.Errorf("postgres: graph: delete card node edges: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM graph_nodes WHERE node_id = $1`, nodeID); err != nil {
		return fmt.Errorf("postgres: graph: delete card node: %w", err)
	}
	return nil
}
